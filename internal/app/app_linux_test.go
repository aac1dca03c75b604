//go:build linux

package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUploader_ManyFilesUnderLowFileLimit(t *testing.T) {
	service, baseURL := newUploadService(t)

	const fileCount = 250
	dir := t.TempDir()
	for i := 0; i < fileCount; i++ {
		writeFile(t, filepath.Join(dir, fmt.Sprintf("file-%03d.txt", i)), fmt.Sprintf("content of file %d", i))
	}

	var limit syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit))
	original := limit
	limit.Cur = 100
	require.NoError(t, syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit))
	t.Cleanup(func() {
		require.NoError(t, syscall.Setrlimit(syscall.RLIMIT_NOFILE, &original))
	})

	u, err := New(testConfig(baseURL, ""), zap.NewNop())
	require.NoError(t, err)
	defer u.Close()

	summary, err := u.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Equal(t, Summary{Submitted: fileCount, Completed: fileCount}, summary)
	require.Len(t, service.mergedContents(), fileCount)

	// no file handles outlive their tasks
	fds, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	require.Less(t, len(fds), 50)
}

package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileLister_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.TXT"), "bb")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "ccc")
	writeFile(t, filepath.Join(dir, "image.png"), "png")
	single := filepath.Join(t.TempDir(), "single.txt")
	writeFile(t, single, "single")

	l := NewFileLister([]string{".txt"}, zap.NewNop())
	entries, total, err := l.List(context.Background(), []string{single, dir})
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"single.txt", "a.txt", "b.TXT", "c.txt"}, names)
	require.Equal(t, int64(12), total)
	require.Equal(t, filepath.Join(dir, "sub", "c.txt"), entries[3].Path)
}

func TestFileLister_AcceptsEverythingWithoutFilter(t *testing.T) {
	l := NewFileLister(nil, zap.NewNop())
	require.True(t, l.Accepts("archive.tar.gz"))
	require.True(t, l.Accepts("README"))

	l = NewFileLister([]string{".pdf", ""}, zap.NewNop())
	require.True(t, l.Accepts("Report.PDF"))
	require.False(t, l.Accepts("README"))
}

func TestFileLister_Errors(t *testing.T) {
	l := NewFileLister(nil, zap.NewNop())

	_, _, err := l.List(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	require.ErrorContains(t, err, "failed to stat")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	_, _, err = l.List(ctx, []string{dir})
	require.ErrorIs(t, err, context.Canceled)
}

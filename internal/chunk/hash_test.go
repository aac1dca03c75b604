package chunk

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReaderAt struct {
	data    []byte
	failAt  int64
	failErr error
}

func (f *failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > f.failAt {
		return 0, f.failErr
	}
	return bytes.NewReader(f.data).ReadAt(p, off)
}

func TestHash_MatchesWholeContentDigest(t *testing.T) {
	data := bytes.Repeat([]byte("chunked upload "), 1000)
	sum := md5.Sum(data)
	want := hex.EncodeToString(sum[:])

	for _, window := range []int64{1, 7, 64, 1024, int64(len(data)), DefaultSize} {
		got, err := Hash(context.Background(), bytes.NewReader(data), int64(len(data)), window)
		require.NoError(t, err)
		require.Equal(t, want, got, "window %d", window)
	}
}

func TestHash_EmptyContent(t *testing.T) {
	got, err := Hash(context.Background(), bytes.NewReader(nil), 0, DefaultSize)
	require.NoError(t, err)
	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got)
}

func TestHash_ReadFailure(t *testing.T) {
	boom := errors.New("disk gone")
	r := &failingReaderAt{data: make([]byte, 100), failAt: 50, failErr: boom}

	got, err := Hash(context.Background(), r, 100, 10)
	require.ErrorIs(t, err, ErrRead)
	require.Empty(t, got)
}

func TestHash_ShortSource(t *testing.T) {
	got, err := Hash(context.Background(), bytes.NewReader([]byte("abc")), 10, 4)
	require.ErrorIs(t, err, ErrRead)
	require.Empty(t, got)
}

func TestHash_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := Hash(ctx, bytes.NewReader([]byte("abc")), 3, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, got)
}

var _ io.ReaderAt = (*failingReaderAt)(nil)

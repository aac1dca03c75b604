package chunk

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrRead is returned when the content behind a file cannot be read.
var ErrRead = errors.New("file read failed")

// Hash returns the hex MD5 of the first size bytes of r, read window bytes at a time.
func Hash(ctx context.Context, r io.ReaderAt, size, window int64) (string, error) {
	if window <= 0 {
		window = DefaultSize
	}

	h := md5.New()
	buf := make([]byte, 32*1024)

	for offset := int64(0); offset < size; offset += window {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n := window
		if offset+n > size {
			n = size - offset
		}

		copied, err := io.CopyBuffer(h, io.NewSectionReader(r, offset, n), buf)
		if err != nil {
			return "", fmt.Errorf("%w: window at offset %d: %v", ErrRead, offset, err)
		}
		if copied != n {
			return "", fmt.Errorf("%w: short read at offset %d (%d of %d bytes)", ErrRead, offset, copied, n)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

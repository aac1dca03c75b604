package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

func TestCount(t *testing.T) {
	tests := []struct {
		name      string
		totalSize int64
		chunkSize int64
		want      int
	}{
		{"zero byte file is one chunk", 0, 5 * mib, 1},
		{"single byte", 1, 5 * mib, 1},
		{"exactly one chunk", 5 * mib, 5 * mib, 1},
		{"one byte over", 5*mib + 1, 5 * mib, 2},
		{"twelve MiB", 12 * mib, 5 * mib, 3},
		{"exact multiple", 15 * mib, 5 * mib, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Count(tt.totalSize, tt.chunkSize))
		})
	}
}

func TestRange_TwelveMiB(t *testing.T) {
	total := int64(12 * mib)

	var got [][2]int64
	for i := 0; i < Count(total, DefaultSize); i++ {
		start, end := Range(total, i, DefaultSize)
		got = append(got, [2]int64{start, end})
	}

	require.Equal(t, [][2]int64{
		{0, 5 * mib},
		{5 * mib, 10 * mib},
		{10 * mib, 12 * mib},
	}, got)
}

func TestRange_ZeroByteFile(t *testing.T) {
	start, end := Range(0, 0, DefaultSize)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(0), end)
}

func TestRange_LengthsSumToTotal(t *testing.T) {
	sizes := []int64{0, 1, 2, 3, 7, 8, 9, 63, 64, 65, 1000, 4095, 4096, 4097}
	chunkSizes := []int64{1, 2, 3, 8, 64, 4096}

	for _, total := range sizes {
		for _, cs := range chunkSizes {
			n := Count(total, cs)

			var sum int64
			var prevEnd int64
			for i := 0; i < n; i++ {
				start, end := Range(total, i, cs)
				require.Equal(t, prevEnd, start, "chunks must be contiguous (total=%d cs=%d i=%d)", total, cs, i)
				require.LessOrEqual(t, end-start, cs)
				sum += end - start
				prevEnd = end
			}
			require.Equal(t, total, sum, "total=%d cs=%d", total, cs)

			if total > 0 {
				start, end := Range(total, n-1, cs)
				require.Greater(t, end-start, int64(0), "last chunk must not be empty (total=%d cs=%d)", total, cs)
			}
		}
	}
}

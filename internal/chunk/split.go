package chunk

// DefaultSize is the chunk size shared by the splitter, the hasher window and the remote client.
const DefaultSize int64 = 5 * 1024 * 1024

// Count returns the number of chunks a file of totalSize bytes is split into.
// A zero-byte file is one empty chunk.
func Count(totalSize, chunkSize int64) int {
	if totalSize <= 0 {
		return 1
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// Range returns the byte range [start, end) of the chunk at index
func Range(totalSize int64, index int, chunkSize int64) (start, end int64) {
	start = int64(index) * chunkSize
	if start > totalSize {
		start = totalSize
	}
	end = start + chunkSize
	if end > totalSize {
		end = totalSize
	}
	return start, end
}

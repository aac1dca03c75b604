package upload

import "errors"

var (
	// ErrChunkUpload wraps any failure while sending a chunk
	ErrChunkUpload = errors.New("chunk upload failed")
	// ErrNotAcknowledged means the server accepted a chunk but did not list it as uploaded
	ErrNotAcknowledged = errors.New("chunk not acknowledged by server")
	// ErrMerge wraps a failed merge request
	ErrMerge = errors.New("merge failed")
	// ErrNoSource means a task has no readable content attached
	ErrNoSource = errors.New("task has no file content attached")
)

package remote

import (
	"context"
	"errors"
)

// ErrRejected is returned when the server answers but refuses the request.
var ErrRejected = errors.New("request rejected by server")

// Client is the network boundary of the upload coordinator.
type Client interface {
	// UploadChunk sends one chunk and returns the server's view of the upload.
	UploadChunk(ctx context.Context, req ChunkRequest) (Progress, error)
	// MergeFile asks the server to reassemble all acknowledged chunks.
	MergeFile(ctx context.Context, req MergeRequest) error
}

// ChunkRequest carries one chunk and the file it belongs to.
type ChunkRequest struct {
	RequestID  string
	ContentID  string
	ChunkIndex int
	Data       []byte
	TotalSize  int64
	FileName   string
	OrgTag     string
	IsPublic   bool
}

// MergeRequest identifies an upload to reassemble.
type MergeRequest struct {
	RequestID string
	ContentID string
	FileName  string
}

// Progress is the server-authoritative state of an upload after a chunk was accepted.
type Progress struct {
	Uploaded    []int   `json:"uploaded"`
	Percent     float64 `json:"progress"`
	TotalChunks int     `json:"totalChunks"`
}

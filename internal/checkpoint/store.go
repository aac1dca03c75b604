package checkpoint

import (
	"errors"
	"time"
)

// ErrClosed is returned by a store that has been closed
var ErrClosed = errors.New("checkpoint store is closed")

// TaskRecord is the persisted state of one upload task
type TaskRecord struct {
	ContentID string    `json:"content_id"`
	FileName  string    `json:"file_name"`
	TotalSize int64     `json:"total_size"`
	ChunkSize int64     `json:"chunk_size"`
	OrgTag    string    `json:"org_tag"`
	IsPublic  bool      `json:"is_public"`
	Status    string    `json:"status"`
	Uploaded  []int     `json:"uploaded"`
	Progress  float64   `json:"progress"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	MergedAt  time.Time `json:"merged_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	GetTask(contentID string) (*TaskRecord, error)
	SaveTask(record *TaskRecord) error
	// ListTasks returns all records in creation order
	ListTasks() ([]*TaskRecord, error)

	Close() error
}

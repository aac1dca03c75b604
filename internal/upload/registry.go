package upload

import (
	"context"
	"fmt"
	"sync"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/chunk"
)

// Outcome describes what a submission did
type Outcome int

const (
	// Created means a new task was queued
	Created Outcome = iota
	// Resumed means a broken task was queued again
	Resumed
	// AlreadyExists means the content is already uploaded
	AlreadyExists
	// InProgress means the content is queued or uploading
	InProgress
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Resumed:
		return "resumed"
	case AlreadyExists:
		return "already_exists"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Message is the user-facing text for the outcome
func (o Outcome) Message() string {
	switch o {
	case Created:
		return "upload queued"
	case Resumed:
		return "upload resumed"
	case AlreadyExists:
		return "file already exists"
	case InProgress:
		return "file is already uploading"
	default:
		return ""
	}
}

// Schedules reports whether the outcome needs the scheduler to run
func (o Outcome) Schedules() bool {
	return o == Created || o == Resumed
}

// Registry holds every known task, keyed by content id, in submission order
type Registry struct {
	chunkSize int64

	mu    sync.RWMutex
	tasks []*Task
	byID  map[string]*Task
}

// NewRegistry creates an empty registry. chunkSize applies to new tasks and is
// also the hashing window.
func NewRegistry(chunkSize int64) *Registry {
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	return &Registry{
		chunkSize: chunkSize,
		byID:      make(map[string]*Task),
	}
}

// Restore loads checkpointed tasks. Records whose content id is already known are skipped.
func (r *Registry) Restore(records []*checkpoint.TaskRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if _, ok := r.byID[rec.ContentID]; ok {
			continue
		}
		t := taskFromRecord(rec)
		r.tasks = append(r.tasks, t)
		r.byID[t.ContentID] = t
		restored++
	}
	return restored
}

// Submit hashes src and registers it. Submitting the same content again never
// creates a second task, whatever the file name.
func (r *Registry) Submit(ctx context.Context, src Source, meta Metadata) (Outcome, *Task, error) {
	data, release, err := src.open()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: open %s: %w", chunk.ErrRead, src.Name, err)
	}
	contentID, err := chunk.Hash(ctx, data, src.Size, r.chunkSize)
	closeErr := release()
	if err != nil {
		return 0, nil, fmt.Errorf("hash %s: %w", src.Name, err)
	}
	if closeErr != nil {
		return 0, nil, fmt.Errorf("close %s: %w", src.Name, closeErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[contentID]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()

		switch existing.status {
		case StatusCompleted:
			return AlreadyExists, existing, nil
		case StatusBroken:
			existing.attach(src)
			return Resumed, existing, nil
		default:
			return InProgress, existing, nil
		}
	}

	t := newTask(contentID, src, r.chunkSize, meta)
	r.tasks = append(r.tasks, t)
	r.byID[contentID] = t
	return Created, t, nil
}

// Get returns the task for contentID
func (r *Registry) Get(contentID string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[contentID]
	return t, ok
}

// Tasks returns all tasks in submission order
func (r *Registry) Tasks() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Task(nil), r.tasks...)
}

// Snapshots returns a snapshot of every task in submission order
func (r *Registry) Snapshots() []Snapshot {
	tasks := r.Tasks()
	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// claimNext moves the first pending task with a byte source, in submission
// order, to uploading and returns it. Tasks for which skip returns true are
// passed over.
func (r *Registry) claimNext(skip func(contentID string) bool) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tasks {
		if skip(t.ContentID) || !t.hasSource() {
			continue
		}
		if t.transition(StatusUploading, StatusPending) {
			return t
		}
	}
	return nil
}

package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records for the lifetime of the process only
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]TaskRecord
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]TaskRecord)}
}

func (s *MemoryStore) GetTask(contentID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	record, ok := s.records[contentID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) SaveTask(record *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	record.UpdatedAt = time.Now()
	s.records[record.ContentID] = *cloneRecord(*record)
	return nil
}

func (s *MemoryStore) ListTasks() ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	records := make([]*TaskRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, cloneRecord(r))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord(r TaskRecord) *TaskRecord {
	r.Uploaded = append([]int(nil), r.Uploaded...)
	return &r
}

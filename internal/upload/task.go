package upload

import (
	"io"
	"sort"
	"sync"
	"time"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/chunk"
)

// Status is the lifecycle state of an upload task
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusCompleted
	// StatusPaused is reserved; nothing moves a task into it yet.
	StatusPaused
	StatusBroken
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusCompleted:
		return "completed"
	case StatusPaused:
		return "paused"
	case StatusBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String
func ParseStatus(s string) (Status, bool) {
	for st := StatusPending; st <= StatusBroken; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StatusPending, false
}

// Metadata is forwarded to the server and plays no part in scheduling
type Metadata struct {
	OrgTag   string
	IsPublic bool
}

// ReadAtCloser is content opened on demand, such as an *os.File
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Source is the content behind a submission. Data is content that is always
// readable. When Open is set it takes precedence: the content is opened once to
// hash it and again while the task uploads, and closed after each use.
type Source struct {
	Name string
	Size int64
	Data io.ReaderAt
	Open func() (ReadAtCloser, error)
}

func (s Source) valid() bool {
	return s.Data != nil || s.Open != nil
}

// open returns the content and the function that releases it
func (s Source) open() (io.ReaderAt, func() error, error) {
	if s.Open == nil {
		if s.Data == nil {
			return nil, nil, ErrNoSource
		}
		return s.Data, func() error { return nil }, nil
	}

	rc, err := s.Open()
	if err != nil {
		return nil, nil, err
	}
	return rc, rc.Close, nil
}

// Task tracks the upload of one distinct file content
type Task struct {
	ContentID string
	FileName  string
	TotalSize int64
	ChunkSize int64
	Meta      Metadata
	CreatedAt time.Time

	mu           sync.RWMutex
	src          Source
	status       Status
	uploaded     map[int]struct{}
	currentChunk int
	progress     float64
	requestIDs   map[string]struct{}
	lastErr      error
	mergedAt     time.Time
}

func newTask(contentID string, src Source, chunkSize int64, meta Metadata) *Task {
	return &Task{
		ContentID:    contentID,
		FileName:     src.Name,
		TotalSize:    src.Size,
		ChunkSize:    chunkSize,
		Meta:         meta,
		CreatedAt:    time.Now(),
		src:          src,
		status:       StatusPending,
		uploaded:     make(map[int]struct{}),
		currentChunk: -1,
		requestIDs:   make(map[string]struct{}),
	}
}

// TotalChunks is derived from the size; it is never stored
func (t *Task) TotalChunks() int {
	return chunk.Count(t.TotalSize, t.ChunkSize)
}

// Status returns the current lifecycle state
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Snapshot is a point-in-time copy of a task for observers
type Snapshot struct {
	ContentID    string
	FileName     string
	TotalSize    int64
	TotalChunks  int
	Status       Status
	Uploaded     []int
	CurrentChunk int
	Progress     float64
	InFlight     []string
	LastError    error
	CreatedAt    time.Time
	MergedAt     time.Time
}

// Snapshot copies the observable state of the task
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	inFlight := make([]string, 0, len(t.requestIDs))
	for id := range t.requestIDs {
		inFlight = append(inFlight, id)
	}
	sort.Strings(inFlight)

	return Snapshot{
		ContentID:    t.ContentID,
		FileName:     t.FileName,
		TotalSize:    t.TotalSize,
		TotalChunks:  t.TotalChunks(),
		Status:       t.status,
		Uploaded:     t.uploadedLocked(),
		CurrentChunk: t.currentChunk,
		Progress:     t.progress,
		InFlight:     inFlight,
		LastError:    t.lastErr,
		CreatedAt:    t.CreatedAt,
		MergedAt:     t.mergedAt,
	}
}

func (t *Task) uploadedLocked() []int {
	out := make([]int, 0, len(t.uploaded))
	for i := range t.uploaded {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// nextChunk returns the first index missing from the server-reported set,
// or -1 when every chunk is acknowledged.
func (t *Task) nextChunk() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := t.TotalChunks()
	for i := 0; i < total; i++ {
		if _, ok := t.uploaded[i]; !ok {
			return i
		}
	}
	return -1
}

func (t *Task) hasChunk(index int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.uploaded[index]
	return ok
}

// reconcile replaces the uploaded set with the server's view. Indices outside
// [0, TotalChunks) are ignored.
func (t *Task) reconcile(uploaded []int, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.TotalChunks()
	set := make(map[int]struct{}, len(uploaded))
	for _, i := range uploaded {
		if i >= 0 && i < total {
			set[i] = struct{}{}
		}
	}
	t.uploaded = set
	t.progress = roundPercent(percent)
}

func (t *Task) source() Source {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.src
}

func (t *Task) hasSource() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.src.valid()
}

// attach gives a broken task new content and queues it again. t.mu must be held.
func (t *Task) attach(src Source) {
	t.status = StatusPending
	t.src = src
}

func (t *Task) setCurrentChunk(index int) {
	t.mu.Lock()
	t.currentChunk = index
	t.mu.Unlock()
}

func (t *Task) addRequest(id string) {
	t.mu.Lock()
	t.requestIDs[id] = struct{}{}
	t.mu.Unlock()
}

func (t *Task) retireRequest(id string) {
	t.mu.Lock()
	delete(t.requestIDs, id)
	t.mu.Unlock()
}

// transition moves the task from one of the from states to the given state. It
// reports false, leaving the task untouched, when the current state is not in from.
func (t *Task) transition(to Status, from ...Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range from {
		if t.status == f {
			t.status = to
			if to == StatusCompleted {
				t.mergedAt = time.Now()
				t.progress = 100
				t.src = Source{}
			}
			if to == StatusUploading {
				t.lastErr = nil
			}
			t.currentChunk = -1
			return true
		}
	}
	return false
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusBroken
	t.lastErr = err
	t.currentChunk = -1
	// a settled task keeps no handle on its content; resubmitting attaches it again
	t.src = Source{}
}

// record converts the task to its checkpoint form
func (t *Task) record() *checkpoint.TaskRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := &checkpoint.TaskRecord{
		ContentID: t.ContentID,
		FileName:  t.FileName,
		TotalSize: t.TotalSize,
		ChunkSize: t.ChunkSize,
		OrgTag:    t.Meta.OrgTag,
		IsPublic:  t.Meta.IsPublic,
		Status:    t.status.String(),
		Uploaded:  t.uploadedLocked(),
		Progress:  t.progress,
		CreatedAt: t.CreatedAt,
		MergedAt:  t.mergedAt,
	}
	if t.lastErr != nil {
		r.LastError = t.lastErr.Error()
	}
	return r
}

// taskFromRecord restores a task without a byte source. Anything that did not
// complete comes back broken so that resubmitting the file resumes it.
func taskFromRecord(r *checkpoint.TaskRecord) *Task {
	t := &Task{
		ContentID:    r.ContentID,
		FileName:     r.FileName,
		TotalSize:    r.TotalSize,
		ChunkSize:    r.ChunkSize,
		Meta:         Metadata{OrgTag: r.OrgTag, IsPublic: r.IsPublic},
		CreatedAt:    r.CreatedAt,
		status:       StatusBroken,
		uploaded:     make(map[int]struct{}),
		currentChunk: -1,
		progress:     r.Progress,
		requestIDs:   make(map[string]struct{}),
		mergedAt:     r.MergedAt,
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = chunk.DefaultSize
	}
	if st, ok := ParseStatus(r.Status); ok && st == StatusCompleted {
		t.status = StatusCompleted
	}
	total := t.TotalChunks()
	for _, i := range r.Uploaded {
		if i >= 0 && i < total {
			t.uploaded[i] = struct{}{}
		}
	}
	if r.LastError != "" {
		t.lastErr = restoredError(r.LastError)
	}
	return t
}

type restoredError string

func (e restoredError) Error() string { return string(e) }

func roundPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return float64(int64(p*100+0.5)) / 100
}

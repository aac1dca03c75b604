package upload

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/chunk"
	"chunkupload/internal/metrics"
	"chunkupload/internal/remote"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

type call struct {
	contentID string
	index     int // -1 for merge
	requestID string
}

// fakeServer is an in-memory upload service that records every call
type fakeServer struct {
	chunkSize int64

	mu          sync.Mutex
	uploaded    map[string]map[int][]byte
	merged      map[string][]byte
	calls       []call
	inFlight    map[string]int
	maxInFlight map[string]int
	uploading   int
	maxTasks    int

	gate     chan struct{}
	chunkErr func(req remote.ChunkRequest) error
	mergeErr func(req remote.MergeRequest) error
	dropAck  bool
}

func newFakeServer(chunkSize int64) *fakeServer {
	return &fakeServer{
		chunkSize:   chunkSize,
		uploaded:    make(map[string]map[int][]byte),
		merged:      make(map[string][]byte),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

func (f *fakeServer) UploadChunk(ctx context.Context, req remote.ChunkRequest) (remote.Progress, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{contentID: req.ContentID, index: req.ChunkIndex, requestID: req.RequestID})
	if f.inFlight[req.ContentID] == 0 {
		f.uploading++
		if f.uploading > f.maxTasks {
			f.maxTasks = f.uploading
		}
	}
	f.inFlight[req.ContentID]++
	if f.inFlight[req.ContentID] > f.maxInFlight[req.ContentID] {
		f.maxInFlight[req.ContentID] = f.inFlight[req.ContentID]
	}
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[req.ContentID]--
		if f.inFlight[req.ContentID] == 0 {
			f.uploading--
		}
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.Progress{}, ctx.Err()
		}
	}

	if f.chunkErr != nil {
		if err := f.chunkErr(req); err != nil {
			return remote.Progress{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parts, ok := f.uploaded[req.ContentID]
	if !ok {
		parts = make(map[int][]byte)
		f.uploaded[req.ContentID] = parts
	}
	if !f.dropAck {
		parts[req.ChunkIndex] = append([]byte(nil), req.Data...)
	}

	total := chunk.Count(req.TotalSize, f.chunkSize)
	indices := make([]int, 0, len(parts))
	for i := range parts {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	return remote.Progress{
		Uploaded:    indices,
		Percent:     float64(len(indices)) / float64(total) * 100,
		TotalChunks: total,
	}, nil
}

func (f *fakeServer) MergeFile(ctx context.Context, req remote.MergeRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{contentID: req.ContentID, index: -1, requestID: req.RequestID})
	f.mu.Unlock()

	if f.mergeErr != nil {
		if err := f.mergeErr(req); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := f.uploaded[req.ContentID]
	indices := make([]int, 0, len(parts))
	for i := range parts {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var data []byte
	for _, i := range indices {
		data = append(data, parts[i]...)
	}
	f.merged[req.ContentID] = data
	return nil
}

// preload marks chunks as already stored on the server
func (f *fakeServer) preload(contentID string, indices ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts, ok := f.uploaded[contentID]
	if !ok {
		parts = make(map[int][]byte)
		f.uploaded[contentID] = parts
	}
	for _, i := range indices {
		parts[i] = nil
	}
}

// callsFor returns the chunk indices requested for contentID, -1 meaning merge
func (f *fakeServer) callsFor(contentID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []int
	for _, c := range f.calls {
		if c.contentID == contentID {
			out = append(out, c.index)
		}
	}
	return out
}

type harness struct {
	server    *fakeServer
	registry  *Registry
	store     *checkpoint.MemoryStore
	metrics   *metrics.Collector
	scheduler *Scheduler
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, chunkSize int64, concurrency int) *harness {
	t.Helper()

	h := &harness{
		server:   newFakeServer(chunkSize),
		registry: NewRegistry(chunkSize),
		store:    checkpoint.NewMemoryStore(),
		metrics:  metrics.New(),
	}
	h.scheduler = NewScheduler(Config{Concurrency: concurrency}, h.registry, h.server, h.store, h.metrics, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(func() {
		cancel()
		h.scheduler.Wait()
	})
	h.scheduler.Start(ctx)
	return h
}

func (h *harness) submit(t *testing.T, name, content string) (Outcome, *Task) {
	t.Helper()
	outcome, task, err := h.scheduler.Submit(context.Background(), memSource(name, content), Metadata{OrgTag: "ops"})
	require.NoError(t, err)
	require.NotNil(t, task)
	return outcome, task
}

func memSource(name, content string) Source {
	return Source{Name: name, Size: int64(len(content)), Data: strings.NewReader(content)}
}

func hashOf(t *testing.T, content string, window int64) string {
	t.Helper()
	id, err := chunk.Hash(context.Background(), strings.NewReader(content), int64(len(content)), window)
	require.NoError(t, err)
	return id
}

// openTracker hands out sources whose opens and closes are counted
type openTracker struct {
	mu      sync.Mutex
	open    int
	maxOpen int
	opens   int
	failAt  int // fail the n-th open (1-based), 0 never
}

type trackedReader struct {
	*strings.Reader
	tracker *openTracker
}

func (r *trackedReader) Close() error {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	r.tracker.open--
	return nil
}

func (o *openTracker) source(name, content string) Source {
	return Source{
		Name: name,
		Size: int64(len(content)),
		Open: func() (ReadAtCloser, error) {
			o.mu.Lock()
			defer o.mu.Unlock()

			o.opens++
			if o.opens == o.failAt {
				return nil, errors.New("permission denied")
			}
			o.open++
			if o.open > o.maxOpen {
				o.maxOpen = o.open
			}
			return &trackedReader{Reader: strings.NewReader(content), tracker: o}, nil
		},
	}
}

func (o *openTracker) counts() (open, maxOpen, opens int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open, o.maxOpen, o.opens
}

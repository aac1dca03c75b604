package upload

import (
	"context"
	"sync"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/chunk"
	"chunkupload/internal/metrics"
	"chunkupload/internal/remote"

	"go.uber.org/zap"
)

// DefaultConcurrency is the default number of tasks allowed to upload at once
const DefaultConcurrency = 3

// Config contains scheduler configuration
type Config struct {
	Concurrency int
}

// Scheduler admits pending tasks under the concurrency cap. Admission is
// pull-based: it runs on every submission and every time a task settles, and
// always takes the earliest submitted pending task first.
type Scheduler struct {
	config     Config
	registry   *Registry
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
	processor  *TaskProcessor

	mu     sync.Mutex
	ctx    context.Context
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over registry. Nothing is admitted until Start.
func NewScheduler(
	config Config,
	registry *Registry,
	client remote.Client,
	checkpointStore checkpoint.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	return &Scheduler{
		config:     config,
		registry:   registry,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		logger:     logger,
		processor: &TaskProcessor{
			client:     client,
			checkpoint: checkpointStore,
			metrics:    metricsCollector,
			logger:     logger,
		},
		active: make(map[string]struct{}),
	}
}

// Start enables admission. ctx bounds every upload started from now on.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Scheduler started", zap.Int("concurrency", s.config.Concurrency))
	s.schedule()
}

// Submit registers src and, when the registry queued it, triggers admission.
// Duplicate submissions are reported through the outcome, not as errors.
func (s *Scheduler) Submit(ctx context.Context, src Source, meta Metadata) (Outcome, *Task, error) {
	outcome, t, err := s.registry.Submit(ctx, src, meta)
	if err != nil {
		s.logger.Warn("Submission failed", zap.String("file_name", src.Name), zap.Error(err))
		return outcome, nil, err
	}

	logger := s.logger.With(
		zap.String("content_id", t.ContentID),
		zap.String("file_name", src.Name),
		zap.String("outcome", outcome.String()),
	)

	remaining := pendingBytes(t)
	s.metrics.IncSubmitted(outcome.String(), outcome.Schedules(), remaining)

	if !outcome.Schedules() {
		logger.Warn("Submission rejected", zap.String("reason", outcome.Message()))
		return outcome, t, nil
	}

	if err := s.checkpoint.SaveTask(t.record()); err != nil {
		logger.Error("Failed to save checkpoint", zap.Error(err))
	}
	logger.Info("Submission queued", zap.Int64("remaining_bytes", remaining))

	s.schedule()
	return outcome, t, nil
}

// schedule admits pending tasks until the cap is reached or none are left
func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	for len(s.active) < s.config.Concurrency {
		t := s.registry.claimNext(s.isActiveLocked)
		if t == nil {
			return
		}

		s.active[t.ContentID] = struct{}{}
		s.metrics.SetUploading(len(s.active))
		s.logger.Debug("Task admitted",
			zap.String("content_id", t.ContentID),
			zap.Int("active", len(s.active)),
		)

		s.wg.Add(1)
		go s.run(s.ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer s.wg.Done()

	s.processor.Process(ctx, t)
	s.release(t)
	s.schedule()
}

func (s *Scheduler) release(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, t.ContentID)
	s.metrics.SetUploading(len(s.active))
}

// isActiveLocked must be called with s.mu held
func (s *Scheduler) isActiveLocked(contentID string) bool {
	_, ok := s.active[contentID]
	return ok
}

// Active returns the number of tasks holding an upload slot
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Wait blocks until no task is uploading and nothing more can be admitted
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// pendingBytes is the size of the chunks the server has not acknowledged yet
func pendingBytes(t *Task) int64 {
	snap := t.Snapshot()

	var done int64
	for _, i := range snap.Uploaded {
		start, end := chunk.Range(t.TotalSize, i, t.ChunkSize)
		done += end - start
	}
	return t.TotalSize - done
}

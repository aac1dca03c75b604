package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/config"
	"chunkupload/internal/metrics"
	"chunkupload/internal/progress"
	"chunkupload/internal/remote"
	"chunkupload/internal/storage"
	"chunkupload/internal/upload"

	"go.uber.org/zap"
)

// ErrUploadsFailed is returned by Run when at least one file did not complete
var ErrUploadsFailed = errors.New("uploads failed")

// Uploader represents the main upload application
type Uploader struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     remote.Client
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	registry   *upload.Registry
	scheduler  *upload.Scheduler
}

// Summary is the result of one Run
type Summary struct {
	Submitted     int
	Completed     int
	AlreadyExists int
	Broken        int
	Failed        int // could not be read or hashed
}

// New creates a new uploader instance
func New(cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	client, err := newRemoteClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newWithClient(cfg, logger, client)
}

func newRemoteClient(cfg *config.Config, logger *zap.Logger) (remote.Client, error) {
	switch cfg.Remote.Backend {
	case config.BackendS3:
		store, err := storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Secure:    cfg.S3.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		return remote.NewS3Client(store, remote.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			ChunkSize: int64(cfg.Upload.ChunkSize),
		}, logger), nil
	default:
		return remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
			Retries: cfg.Remote.Retries,
		}, logger), nil
	}
}

func newWithClient(cfg *config.Config, logger *zap.Logger, client remote.Client) (*Uploader, error) {
	var checkpointStore checkpoint.Store
	if cfg.Upload.Checkpoint == "" {
		checkpointStore = checkpoint.NewMemoryStore()
	} else {
		store, err := checkpoint.NewSQLiteStore(cfg.Upload.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpointStore = store
	}

	registry := upload.NewRegistry(int64(cfg.Upload.ChunkSize))

	records, err := checkpointStore.ListTasks()
	if err != nil {
		if closeErr := checkpointStore.Close(); closeErr != nil {
			logger.Debug("Failed to close checkpoint store", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if restored := registry.Restore(records); restored > 0 {
		logger.Info("Restored tasks from checkpoint", zap.Int("tasks", restored))
	}

	metricsCollector := metrics.New()

	scheduler := upload.NewScheduler(upload.Config{
		Concurrency: cfg.Upload.Concurrency,
	}, registry, client, checkpointStore, metricsCollector, logger)

	return &Uploader{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		registry:   registry,
		scheduler:  scheduler,
	}, nil
}

// Run submits every file under paths and waits until all of them settle
func (u *Uploader) Run(ctx context.Context, paths []string) (Summary, error) {
	u.logger.Info("Starting upload",
		zap.String("backend", u.cfg.Remote.Backend),
		zap.Strings("paths", paths),
		zap.Int64("chunk_size", int64(u.cfg.Upload.ChunkSize)),
		zap.Int("concurrency", u.cfg.Upload.Concurrency),
	)

	if u.cfg.MetricsAddr != "" {
		go func() {
			if err := u.metrics.StartServer(u.cfg.MetricsAddr); err != nil {
				u.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	lister := NewFileLister(u.cfg.Upload.Accept, u.logger)
	entries, _, err := lister.List(ctx, paths)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list files: %w", err)
	}

	var progressDisplay *progress.Display
	if u.cfg.Upload.ShowProgress && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(u.metrics.GetProgressTracker(), u.taskLines, os.Stdout, 2*time.Second)
		progressDisplay.Start()
	} else {
		u.logger.Debug("Progress display disabled")
	}

	u.scheduler.Start(ctx)

	var summary Summary
	submitted := make(map[string]*upload.Task)
	meta := upload.Metadata{OrgTag: u.cfg.Upload.OrgTag, IsPublic: u.cfg.Upload.Public}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		task, outcome, err := u.submitFile(ctx, entry, meta)
		if err != nil {
			summary.Failed++
			u.logger.Error("Failed to submit file", zap.String("path", entry.Path), zap.Error(err))
			continue
		}

		summary.Submitted++
		if outcome == upload.AlreadyExists {
			summary.AlreadyExists++
			continue
		}
		submitted[task.ContentID] = task
	}

	u.scheduler.Wait()

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	for _, task := range submitted {
		switch task.Status() {
		case upload.StatusCompleted:
			summary.Completed++
		default:
			summary.Broken++
			u.logger.Warn("Upload did not complete",
				zap.String("file_name", task.FileName),
				zap.String("content_id", task.ContentID),
				zap.Error(task.Snapshot().LastError),
			)
		}
	}

	u.logger.Info("Upload finished",
		zap.Int("submitted", summary.Submitted),
		zap.Int("completed", summary.Completed),
		zap.Int("already_exists", summary.AlreadyExists),
		zap.Int("broken", summary.Broken),
		zap.Int("failed", summary.Failed),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Broken > 0 || summary.Failed > 0 {
		return summary, fmt.Errorf("%w: %d broken, %d unreadable", ErrUploadsFailed, summary.Broken, summary.Failed)
	}
	return summary, nil
}

// submitFile hands the file to the scheduler without keeping it open; the
// task opens it again only while it holds an upload slot.
func (u *Uploader) submitFile(ctx context.Context, entry FileEntry, meta upload.Metadata) (*upload.Task, upload.Outcome, error) {
	path := entry.Path
	outcome, task, err := u.scheduler.Submit(ctx, upload.Source{
		Name: entry.Name,
		Size: entry.Size,
		Open: func() (upload.ReadAtCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}, meta)
	if err != nil {
		return nil, outcome, err
	}

	if !outcome.Schedules() {
		u.logger.Info(outcome.Message(),
			zap.String("path", entry.Path),
			zap.String("content_id", task.ContentID),
		)
	}

	return task, outcome, nil
}

func (u *Uploader) taskLines() []progress.TaskLine {
	snapshots := u.registry.Snapshots()
	lines := make([]progress.TaskLine, 0, len(snapshots))
	for _, s := range snapshots {
		lines = append(lines, progress.TaskLine{
			Name:     s.FileName,
			Status:   s.Status.String(),
			Progress: s.Progress,
			Size:     s.TotalSize,
		})
	}
	return lines
}

// Registry exposes the task registry
func (u *Uploader) Registry() *upload.Registry {
	return u.registry
}

// Close cleans up resources
func (u *Uploader) Close() error {
	if u.checkpoint != nil {
		return u.checkpoint.Close()
	}
	return nil
}

package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"chunkupload/internal/checkpoint"
	"chunkupload/internal/chunk"
	"chunkupload/internal/metrics"
	"chunkupload/internal/remote"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskProcessor drives one admitted task to Completed or Broken
type TaskProcessor struct {
	client     remote.Client
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Process uploads the missing chunks of t in order and merges. Every failure is
// absorbed into the task's Broken state.
func (p *TaskProcessor) Process(ctx context.Context, t *Task) {
	startTime := time.Now()

	logger := p.logger.With(
		zap.String("content_id", t.ContentID),
		zap.String("file_name", t.FileName),
	)
	logger.Info("Upload started",
		zap.Int64("size", t.TotalSize),
		zap.Int("total_chunks", t.TotalChunks()),
		zap.Int("acknowledged_chunks", len(t.Snapshot().Uploaded)),
	)
	p.save(t, logger)

	if err := p.processTask(ctx, t, logger); err != nil {
		t.fail(err)
		p.save(t, logger)
		p.metrics.IncBroken()
		logger.Warn("Upload broken", zap.Error(err))
		return
	}

	t.transition(StatusCompleted, StatusUploading)
	p.save(t, logger)
	p.metrics.IncCompleted(time.Since(startTime))
	logger.Info("Upload completed",
		zap.Int64("size", t.TotalSize),
		zap.Duration("duration", time.Since(startTime)),
	)
}

func (p *TaskProcessor) processTask(ctx context.Context, t *Task, logger *zap.Logger) error {
	src := t.source()
	if !src.valid() {
		return ErrNoSource
	}

	data, release, err := src.open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", chunk.ErrRead, src.Name, err)
	}
	defer func() {
		if err := release(); err != nil {
			logger.Debug("Failed to close file", zap.Error(err))
		}
	}()

	for {
		next := t.nextChunk()
		if next < 0 {
			return p.merge(ctx, t, logger)
		}

		if err := p.uploadChunk(ctx, t, data, next, logger); err != nil {
			return err
		}

		// The server's set is authoritative; it must now contain next or the
		// loop would resend the same chunk forever.
		if !t.hasChunk(next) {
			return fmt.Errorf("%w: chunk %d", ErrNotAcknowledged, next)
		}
	}
}

func (p *TaskProcessor) uploadChunk(ctx context.Context, t *Task, src io.ReaderAt, index int, logger *zap.Logger) error {
	start, end := chunk.Range(t.TotalSize, index, t.ChunkSize)

	data := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(src, start, end-start), data); err != nil {
		return fmt.Errorf("%w: chunk %d: %w", chunk.ErrRead, index, err)
	}

	requestID := uuid.NewString()
	t.setCurrentChunk(index)
	t.addRequest(requestID)

	chunkStart := time.Now()
	progress, err := p.client.UploadChunk(ctx, remote.ChunkRequest{
		RequestID:  requestID,
		ContentID:  t.ContentID,
		ChunkIndex: index,
		Data:       data,
		TotalSize:  t.TotalSize,
		FileName:   t.FileName,
		OrgTag:     t.Meta.OrgTag,
		IsPublic:   t.Meta.IsPublic,
	})
	t.retireRequest(requestID)
	if err != nil {
		p.metrics.IncChunkFailed()
		return fmt.Errorf("%w: chunk %d: %w", ErrChunkUpload, index, err)
	}

	p.metrics.ObserveChunk(int64(len(data)), time.Since(chunkStart))
	t.reconcile(progress.Uploaded, progress.Percent)
	p.save(t, logger)

	if progress.TotalChunks != 0 && progress.TotalChunks != t.TotalChunks() {
		logger.Warn("Server chunk count differs",
			zap.Int("server_total_chunks", progress.TotalChunks),
			zap.Int("total_chunks", t.TotalChunks()),
		)
	}

	logger.Debug("Chunk acknowledged",
		zap.String("request_id", requestID),
		zap.Int("chunk_index", index),
		zap.Int("server_uploaded", len(progress.Uploaded)),
		zap.Float64("progress", progress.Percent),
		zap.Duration("duration", time.Since(chunkStart)),
	)
	return nil
}

func (p *TaskProcessor) merge(ctx context.Context, t *Task, logger *zap.Logger) error {
	requestID := uuid.NewString()
	t.addRequest(requestID)

	err := p.client.MergeFile(ctx, remote.MergeRequest{
		RequestID: requestID,
		ContentID: t.ContentID,
		FileName:  t.FileName,
	})
	t.retireRequest(requestID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMerge, err)
	}

	logger.Debug("Merge acknowledged", zap.String("request_id", requestID))
	return nil
}

func (p *TaskProcessor) save(t *Task, logger *zap.Logger) {
	if err := p.checkpoint.SaveTask(t.record()); err != nil {
		logger.Error("Failed to save checkpoint", zap.Error(err))
	}
}

package remote

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"chunkupload/internal/chunk"
	"chunkupload/internal/storage"

	"go.uber.org/zap"
)

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Bucket    string
	Prefix    string
	ChunkSize int64
}

// S3Client implements Client on top of S3 multipart uploads. Chunk i is part i+1 and
// merge completes the multipart upload.
type S3Client struct {
	store     storage.Client
	bucket    string
	prefix    string
	chunkSize int64
	logger    *zap.Logger

	mu      sync.Mutex
	uploads map[string]string // object key -> multipart upload id
}

// NewS3Client creates an S3 backed upload client.
func NewS3Client(store storage.Client, cfg S3Config, logger *zap.Logger) *S3Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultSize
	}
	return &S3Client{
		store:     store,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
		uploads:   make(map[string]string),
	}
}

// ObjectKey returns the key the merged file is stored under.
func (c *S3Client) ObjectKey(contentID, fileName string) string {
	return path.Join(c.prefix, contentID, path.Base(fileName))
}

// UploadChunk stores the chunk as a multipart part and reports the parts the store holds.
func (c *S3Client) UploadChunk(ctx context.Context, req ChunkRequest) (Progress, error) {
	key := c.ObjectKey(req.ContentID, req.FileName)

	uploadID, err := c.uploadID(ctx, key, &req)
	if err != nil {
		return Progress{}, err
	}

	logger := c.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("key", key),
		zap.Int("chunk_index", req.ChunkIndex),
	)

	if _, err := c.store.UploadPart(ctx, c.bucket, key, uploadID, req.ChunkIndex+1,
		bytes.NewReader(req.Data), int64(len(req.Data))); err != nil {
		if storage.IsNotFound(err) {
			c.forget(key)
		}
		return Progress{}, fmt.Errorf("upload part %d: %w", req.ChunkIndex+1, err)
	}
	logger.Debug("Part stored")

	parts, err := c.store.ListParts(ctx, c.bucket, key, uploadID)
	if err != nil {
		return Progress{}, fmt.Errorf("list parts: %w", err)
	}

	return progressFromParts(parts, chunk.Count(req.TotalSize, c.chunkSize)), nil
}

// MergeFile completes the multipart upload. Merging an object that already exists
// and has no pending upload succeeds.
func (c *S3Client) MergeFile(ctx context.Context, req MergeRequest) error {
	key := c.ObjectKey(req.ContentID, req.FileName)

	uploadID, err := c.uploadID(ctx, key, nil)
	if err != nil {
		return err
	}

	if uploadID == "" {
		if _, err := c.store.HeadObject(ctx, c.bucket, key); err == nil {
			return nil
		}
		return fmt.Errorf("%w: no upload in progress for %s", ErrRejected, key)
	}

	parts, err := c.store.ListParts(ctx, c.bucket, key, uploadID)
	if err != nil {
		return fmt.Errorf("list parts: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: upload %s has no parts", ErrRejected, key)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := c.store.CompleteMultipartUpload(ctx, c.bucket, key, uploadID, parts); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	c.forget(key)

	c.logger.Info("Object merged",
		zap.String("request_id", req.RequestID),
		zap.String("key", key),
		zap.Int("parts", len(parts)),
	)
	return nil
}

// uploadID looks up the multipart upload for key. When req is not nil a missing
// upload is created.
func (c *S3Client) uploadID(ctx context.Context, key string, req *ChunkRequest) (string, error) {
	c.mu.Lock()
	id, ok := c.uploads[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.store.FindMultipartUpload(ctx, c.bucket, key)
	if err != nil {
		return "", fmt.Errorf("find multipart upload: %w", err)
	}

	if id == "" && req != nil {
		id, err = c.store.NewMultipartUpload(ctx, c.bucket, key, storage.PutOptions{
			ContentType: "application/octet-stream",
			Metadata: map[string]string{
				"content-md5-hex": req.ContentID,
				"file-name":       req.FileName,
				"org-tag":         req.OrgTag,
				"is-public":       strconv.FormatBool(req.IsPublic),
			},
		})
		if err != nil {
			return "", fmt.Errorf("initiate multipart upload: %w", err)
		}
		c.logger.Debug("Multipart upload initiated", zap.String("key", key), zap.String("upload_id", id))
	}

	if id != "" {
		c.mu.Lock()
		c.uploads[key] = id
		c.mu.Unlock()
	}
	return id, nil
}

func (c *S3Client) forget(key string) {
	c.mu.Lock()
	delete(c.uploads, key)
	c.mu.Unlock()
}

func progressFromParts(parts []storage.CompletedPart, total int) Progress {
	uploaded := make([]int, 0, len(parts))
	for _, p := range parts {
		if idx := p.PartNumber - 1; idx >= 0 && idx < total {
			uploaded = append(uploaded, idx)
		}
	}
	sort.Ints(uploaded)

	var percent float64
	if total > 0 {
		percent = float64(len(uploaded)) / float64(total) * 100
	}

	return Progress{Uploaded: uploaded, Percent: percent, TotalChunks: total}
}

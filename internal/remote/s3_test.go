package remote

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"

	"chunkupload/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUpload struct {
	key   string
	parts map[int][]byte
	meta  map[string]string
}

type fakeStore struct {
	mu       sync.Mutex
	nextID   int
	uploads  map[string]*fakeUpload // upload id -> upload
	objects  map[string][]byte
	created  int
	partErr  error
	complete []storage.CompletedPart
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads: make(map[string]*fakeUpload),
		objects: make(map[string][]byte),
	}
}

func (f *fakeStore) HeadObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, errors.New("NoSuchKey")
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) NewMultipartUpload(ctx context.Context, bucket, key string, opts storage.PutOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created++
	id := "upload-" + strconv.Itoa(f.nextID)
	f.uploads[id] = &fakeUpload{key: key, parts: make(map[int][]byte), meta: opts.Metadata}
	return id, nil
}

func (f *fakeStore) FindMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.uploads {
		if u.key == key {
			return id, nil
		}
	}
	return "", nil
}

func (f *fakeStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	if f.partErr != nil {
		return "", f.partErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[uploadID].parts[partNumber] = data
	return "etag-" + strconv.Itoa(partNumber), nil
}

func (f *fakeStore) ListParts(ctx context.Context, bucket, key, uploadID string) ([]storage.CompletedPart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []storage.CompletedPart
	for n, data := range f.uploads[uploadID].parts {
		parts = append(parts, storage.CompletedPart{PartNumber: n, ETag: "etag-" + strconv.Itoa(n), Size: int64(len(data))})
	}
	// map iteration order is random; return descending to exercise sorting
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber > parts[j].PartNumber })
	return parts, nil
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.uploads[uploadID]
	var data []byte
	for _, p := range parts {
		data = append(data, u.parts[p.PartNumber]...)
	}
	f.objects[key] = data
	f.complete = parts
	delete(f.uploads, uploadID)
	return nil
}

func TestS3Client_UploadAndMerge(t *testing.T) {
	store := newFakeStore()
	c := NewS3Client(store, S3Config{Bucket: "b", Prefix: "kb", ChunkSize: 4}, zap.NewNop())
	ctx := context.Background()

	chunks := []string{"abcd", "efgh", "ij"}
	for i, data := range chunks {
		got, err := c.UploadChunk(ctx, ChunkRequest{
			RequestID:  "r" + strconv.Itoa(i),
			ContentID:  "hash",
			ChunkIndex: i,
			Data:       []byte(data),
			TotalSize:  10,
			FileName:   "dir/report.txt",
			OrgTag:     "ops",
		})
		require.NoError(t, err)
		require.Equal(t, 3, got.TotalChunks)
		require.Len(t, got.Uploaded, i+1)
	}
	require.Equal(t, 1, store.created, "one multipart upload per object")

	last, err := c.UploadChunk(ctx, ChunkRequest{ContentID: "hash", ChunkIndex: 2, Data: []byte("ij"), TotalSize: 10, FileName: "dir/report.txt"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, last.Uploaded)
	require.InDelta(t, 100, last.Percent, 0.001)

	require.NoError(t, c.MergeFile(ctx, MergeRequest{ContentID: "hash", FileName: "dir/report.txt"}))
	require.Equal(t, "abcdefghij", string(store.objects["kb/hash/report.txt"]))
	require.Equal(t, 1, store.complete[0].PartNumber)

	// merging again after completion is idempotent
	require.NoError(t, c.MergeFile(ctx, MergeRequest{ContentID: "hash", FileName: "dir/report.txt"}))
}

func TestS3Client_ResumesExistingUpload(t *testing.T) {
	store := newFakeStore()
	first := NewS3Client(store, S3Config{Bucket: "b", ChunkSize: 4}, zap.NewNop())
	ctx := context.Background()

	_, err := first.UploadChunk(ctx, ChunkRequest{ContentID: "h", ChunkIndex: 0, Data: []byte("abcd"), TotalSize: 8, FileName: "a"})
	require.NoError(t, err)

	// a fresh client (new process) finds the unfinished upload
	second := NewS3Client(store, S3Config{Bucket: "b", ChunkSize: 4}, zap.NewNop())
	got, err := second.UploadChunk(ctx, ChunkRequest{ContentID: "h", ChunkIndex: 1, Data: []byte("efgh"), TotalSize: 8, FileName: "a"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, got.Uploaded)
	require.Equal(t, 1, store.created)
}

func TestS3Client_MergeWithoutUpload(t *testing.T) {
	c := NewS3Client(newFakeStore(), S3Config{Bucket: "b"}, zap.NewNop())

	err := c.MergeFile(context.Background(), MergeRequest{ContentID: "missing", FileName: "a"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestS3Client_PartFailure(t *testing.T) {
	store := newFakeStore()
	store.partErr = errors.New("connection reset")
	c := NewS3Client(store, S3Config{Bucket: "b"}, zap.NewNop())

	_, err := c.UploadChunk(context.Background(), ChunkRequest{ContentID: "h", Data: []byte("x"), TotalSize: 1, FileName: "a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestProgressFromParts_ZeroByteFile(t *testing.T) {
	got := progressFromParts([]storage.CompletedPart{{PartNumber: 1}}, 1)
	require.Equal(t, []int{0}, got.Uploaded)
	require.InDelta(t, 100, got.Percent, 0.001)
}

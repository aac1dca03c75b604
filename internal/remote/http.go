package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request trace identifier.
const RequestIDHeader = "X-Request-Id"

// HTTPConfig configures the HTTP upload service client.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
}

// HTTPClient talks to the /upload/chunk and /upload/merge endpoints.
type HTTPClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// NewHTTPClient creates a client for the upload service at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{logger.Sugar()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		logger:     logger,
	}
}

// envelope is the optional {code, message, data} wrapper around service responses.
type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type mergeBody struct {
	FileMd5  string `json:"fileMd5"`
	FileName string `json:"fileName"`
}

// UploadChunk posts one chunk as multipart form data.
func (c *HTTPClient) UploadChunk(ctx context.Context, req ChunkRequest) (Progress, error) {
	body, contentType, err := encodeChunkForm(req)
	if err != nil {
		return Progress{}, fmt.Errorf("encode chunk %d: %w", req.ChunkIndex, err)
	}

	resp, err := c.post(ctx, "/upload/chunk", req.RequestID, contentType, body)
	if err != nil {
		return Progress{}, fmt.Errorf("upload chunk %d: %w", req.ChunkIndex, err)
	}

	var progress Progress
	if err := json.Unmarshal(resp, &progress); err != nil {
		return Progress{}, fmt.Errorf("decode chunk %d response: %w", req.ChunkIndex, err)
	}

	return progress, nil
}

// MergeFile asks the service to reassemble the uploaded chunks.
func (c *HTTPClient) MergeFile(ctx context.Context, req MergeRequest) error {
	body, err := json.Marshal(mergeBody{FileMd5: req.ContentID, FileName: req.FileName})
	if err != nil {
		return err
	}

	if _, err := c.post(ctx, "/upload/merge", req.RequestID, "application/json", body); err != nil {
		return fmt.Errorf("merge %s: %w", req.ContentID, err)
	}
	return nil
}

// post sends body and returns the response payload with any envelope removed.
func (c *HTTPClient) post(ctx context.Context, path, requestID, contentType string, body []byte) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Debug("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, unwrapError(resp.StatusCode, data)
	}

	return unwrapEnvelope(data)
}

func unwrapError(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, env.Message)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(string(body)))
}

func unwrapEnvelope(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.Code != nil && *env.Code != 0 && *env.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: code %d: %s", ErrRejected, *env.Code, env.Message)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}
	return body, nil
}

func encodeChunkForm(req ChunkRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"fileMd5", req.ContentID},
		{"chunkIndex", strconv.Itoa(req.ChunkIndex)},
		{"totalSize", strconv.FormatInt(req.TotalSize, 10)},
		{"fileName", req.FileName},
		{"orgTag", req.OrgTag},
		{"isPublic", strconv.FormatBool(req.IsPublic)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// leveledLogger routes retryablehttp's logging into zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

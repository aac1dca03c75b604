package metrics

import (
	"errors"
	"net/http"
	"time"

	"chunkupload/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes upload metrics
type Collector struct {
	registry        *prometheus.Registry
	tasksTotal      *prometheus.CounterVec
	chunksTotal     *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	uploadingTasks  prometheus.Gauge
	taskDuration    prometheus.Histogram
	chunkDuration   prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_tasks_total",
				Help: "Upload tasks by outcome",
			},
			[]string{"outcome"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_chunks_total",
				Help: "Chunk requests by result",
			},
			[]string{"result"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upload_bytes_total",
				Help: "Chunk bytes acknowledged by the server",
			},
		),
		uploadingTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "upload_tasks_uploading",
				Help: "Tasks currently holding an upload slot",
			},
		),
		taskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_task_duration_seconds",
				Help:    "Time from admission to merge",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		chunkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_chunk_duration_seconds",
				Help:    "Time taken by one chunk request",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(
		c.tasksTotal,
		c.chunksTotal,
		c.bytesTotal,
		c.uploadingTasks,
		c.taskDuration,
		c.chunkDuration,
	)

	return c
}

// IncSubmitted counts a submission outcome. Queued submissions add their
// remaining bytes to the progress totals; duplicates are counted as skipped.
func (c *Collector) IncSubmitted(outcome string, queued bool, remainingBytes int64) {
	c.tasksTotal.WithLabelValues(outcome).Inc()
	if queued {
		c.progressTracker.AddTotal(1, remainingBytes)
	} else {
		c.progressTracker.AddSkipped()
	}
}

// IncCompleted counts a merged task
func (c *Collector) IncCompleted(duration time.Duration) {
	c.tasksTotal.WithLabelValues("completed").Inc()
	c.taskDuration.Observe(duration.Seconds())
	c.progressTracker.AddCompleted()
}

// IncBroken counts a task that failed
func (c *Collector) IncBroken() {
	c.tasksTotal.WithLabelValues("broken").Inc()
	c.progressTracker.AddBroken()
}

// ObserveChunk records an acknowledged chunk
func (c *Collector) ObserveChunk(bytes int64, duration time.Duration) {
	c.chunksTotal.WithLabelValues("success").Inc()
	c.bytesTotal.Add(float64(bytes))
	c.chunkDuration.Observe(duration.Seconds())
	c.progressTracker.AddBytes(bytes)
}

// IncChunkFailed records a failed chunk request
func (c *Collector) IncChunkFailed() {
	c.chunksTotal.WithLabelValues("failed").Inc()
}

// SetUploading sets the number of tasks holding an upload slot
func (c *Collector) SetUploading(count int) {
	c.uploadingTasks.Set(float64(count))
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the server fails
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
)

// Status represents the current upload run status
type Status struct {
	TotalTasks     int64
	CompletedTasks int64
	BrokenTasks    int64
	SkippedTasks   int64 // duplicate submissions
	TotalBytes     int64
	UploadedBytes  int64
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentSpeed   float64 // bytes/second over the last few seconds
	AverageSpeed   float64 // bytes/second since start
	ETA            time.Duration
}

// Tracker tracks upload progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
	}
}

// AddTotal adds queued tasks and the bytes they still have to send
func (t *Tracker) AddTotal(tasks, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalTasks += tasks
	t.status.TotalBytes += bytes
}

// AddCompleted increments merged tasks
func (t *Tracker) AddCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CompletedTasks++
	t.status.LastUpdateTime = time.Now()
}

// AddBroken increments failed tasks
func (t *Tracker) AddBroken() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.BrokenTasks++
	t.status.LastUpdateTime = time.Now()
}

// AddSkipped increments duplicate submissions
func (t *Tracker) AddSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.SkippedTasks++
}

// AddBytes records acknowledged chunk bytes
func (t *Tracker) AddBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.UploadedBytes += bytes
	t.updateSpeed(bytes)
}

// updateSpeed must be called with the lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
	t.calculateETA()

	t.status.LastUpdateTime = now
}

// calculateCurrentSpeed uses the samples of the last five seconds
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recentBytes int64
	var firstSample *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		firstSample = sample
	}

	if firstSample != nil {
		if d := now.Sub(firstSample.timestamp); d > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / d.Seconds()
		}
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.UploadedBytes) / elapsed.Seconds()
	}
}

func (t *Tracker) calculateETA() {
	if t.status.TotalBytes == 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}

	remaining := t.status.TotalBytes - t.status.UploadedBytes
	if remaining <= 0 {
		t.status.ETA = 0
		return
	}

	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns a copy of the current status
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns settled tasks as a percentage of queued tasks
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalTasks == 0 {
		return 0
	}

	settled := t.status.CompletedTasks + t.status.BrokenTasks
	return float64(settled) / float64(t.status.TotalTasks) * 100
}

// GetBytesProgressPercent returns uploaded bytes as a percentage of queued bytes
func (t *Tracker) GetBytesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalBytes == 0 {
		return 0
	}

	return float64(t.status.UploadedBytes) / float64(t.status.TotalBytes) * 100
}

// FormatSpeed formats a byte rate for humans
func FormatSpeed(bytesPerSecond float64) string {
	return units.BytesSize(bytesPerSecond) + "/s"
}

// FormatBytes formats a byte count for humans
func FormatBytes(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// FormatDuration formats a duration for humans
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

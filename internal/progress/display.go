package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// TaskLine is one task row in the display
type TaskLine struct {
	Name     string
	Status   string
	Progress float64
	Size     int64
}

// Display periodically renders upload progress
type Display struct {
	tracker   *Tracker
	tasks     func() []TaskLine
	out       io.Writer
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	lastLines int
}

// NewDisplay creates a display that writes to out. tasks may be nil.
func NewDisplay(tracker *Tracker, tasks func() []TaskLine, out io.Writer, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		tasks:    tasks,
		out:      out,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the display loop
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop renders the final summary and waits for the loop to exit
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.updateDisplay()
		case <-d.stopCh:
			d.finalDisplay()
			return
		}
	}
}

func (d *Display) updateDisplay() {
	lines := d.generateDisplay(d.tracker.GetStatus())

	d.clearLines()
	fmt.Fprint(d.out, strings.Join(lines, "\n"))
	d.lastLines = len(lines)
}

func (d *Display) finalDisplay() {
	d.clearLines()
	lines := d.generateFinalDisplay(d.tracker.GetStatus())
	fmt.Fprintln(d.out, strings.Join(lines, "\n"))
}

// clearLines moves the cursor up over the previous frame
func (d *Display) clearLines() {
	if d.lastLines > 0 {
		fmt.Fprintf(d.out, "\r\033[%dA\033[J", d.lastLines-1)
	}
	d.lastLines = 0
}

func (d *Display) generateDisplay(status Status) []string {
	lines := make([]string, 0, 16)

	lines = append(lines, "Upload progress")
	lines = append(lines, strings.Repeat("=", 51))

	taskProgress := d.tracker.GetProgressPercent()
	lines = append(lines, fmt.Sprintf("Tasks: %d/%d settled (%d broken, %d skipped)",
		status.CompletedTasks+status.BrokenTasks, status.TotalTasks, status.BrokenTasks, status.SkippedTasks))
	lines = append(lines, "    "+generateProgressBar(taskProgress, 40))

	bytesProgress := d.tracker.GetBytesProgressPercent()
	lines = append(lines, fmt.Sprintf("Data:  %s/%s", FormatBytes(status.UploadedBytes), FormatBytes(status.TotalBytes)))
	lines = append(lines, "    "+generateProgressBar(bytesProgress, 40))

	lines = append(lines, fmt.Sprintf("Speed: %s (avg %s)  ETA: %s",
		FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed), FormatDuration(status.ETA)))

	if d.tasks != nil {
		lines = append(lines, "")
		for _, t := range d.tasks() {
			lines = append(lines, fmt.Sprintf("  %-10s %6.2f%%  %9s  %s", t.Status, t.Progress, FormatBytes(t.Size), t.Name))
		}
	}

	lines = append(lines, "")
	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	elapsed := time.Since(status.StartTime)

	return []string{
		"Upload finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Completed: %d", status.CompletedTasks),
		fmt.Sprintf("Broken:    %d", status.BrokenTasks),
		fmt.Sprintf("Skipped:   %d", status.SkippedTasks),
		fmt.Sprintf("Data:      %s", FormatBytes(status.UploadedBytes)),
		fmt.Sprintf("Elapsed:   %s", FormatDuration(elapsed)),
		fmt.Sprintf("Avg speed: %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a character device
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}

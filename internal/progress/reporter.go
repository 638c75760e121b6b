package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes to transfer.
	TotalSize int64

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Verb describes the transfer ("Uploading", "Downloading").
	// Default: "Transferring"
	Verb string

	// Label is the file or URL being transferred (for display).
	Label string

	// ChunkSize is the size of each chunk (for display).
	ChunkSize int64
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Verb == "" {
		opts.Verb = "Transferring"
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[ferry] %s: %s\n", r.opts.Verb, r.opts.Label)
	fmt.Fprintf(r.opts.Output, "[ferry] Total size: %s | Chunks: %d x %s | Workers: %d\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalChunks,
		FormatBytes(r.opts.ChunkSize),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints a final summary.
// It is safe to call multiple times.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records n transferred bytes.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// ChunkCompleted marks an in-progress chunk as completed.
func (r *Reporter) ChunkCompleted() {
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkSkipped counts a chunk of size bytes that needed no transfer.
func (r *Reporter) ChunkSkipped(size int64) {
	r.completedBytes.Add(size)
	r.completedChunks.Add(1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.inProgress.Add(-1)
}

// Fraction returns completed bytes over total size.
func (r *Reporter) Fraction() float64 {
	if r.opts.TotalSize <= 0 {
		return 0
	}
	return float64(r.completedBytes.Load()) / float64(r.opts.TotalSize)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	// Calculate percentage and ETA
	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := r.opts.TotalChunks - completedChunks - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[ferry] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[ferry] Chunks: %d completed | %d in-progress | %d pending    \033[A",
		completedChunks,
		inProgress,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	var percent float64 = 100
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[ferry] Progress: %.1f%% | %s / %s    \n",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
	)
	fmt.Fprintf(r.opts.Output, "[ferry] Chunks: %d/%d completed    \n",
		completedChunks,
		r.opts.TotalChunks,
	)
	fmt.Fprintf(r.opts.Output, "[ferry] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

var iecUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats bytes as a human-readable IEC string ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b)
	unit := ""
	for _, u := range iecUnits {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, unit)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

var byteSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	// longest suffixes first
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"TB", 1000 * 1000 * 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// ParseBytes parses a human-readable byte string. IEC suffixes (KiB, MiB, ...)
// are binary, SI suffixes (KB, MB, ...) are decimal.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var multiplier int64 = 1
	for _, bs := range byteSuffixes {
		if strings.HasSuffix(s, bs.suffix) {
			multiplier = bs.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, bs.suffix))
			break
		}
	}

	var value float64
	var rest string
	n, _ := fmt.Sscanf(s, "%f%s", &value, &rest)
	if n != 1 || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}

	return int64(value * float64(multiplier)), nil
}

package progress

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestReporterChunkTracking(t *testing.T) {
	reporter := NewReporter(Options{
		TotalSize:      1024,
		TotalChunks:    4,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Test chunk tracking without starting the reporter
	reporter.ChunkStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.BytesWritten(256)
	reporter.ChunkCompleted()
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after complete, got %d", reporter.inProgress.Load())
	}
	if reporter.completedChunks.Load() != 1 {
		t.Errorf("expected 1 completed, got %d", reporter.completedChunks.Load())
	}
	if reporter.completedBytes.Load() != 256 {
		t.Errorf("expected 256 bytes, got %d", reporter.completedBytes.Load())
	}

	reporter.ChunkStarted()
	reporter.ChunkFailed()
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after fail, got %d", reporter.inProgress.Load())
	}

	reporter.ChunkSkipped(256)
	if got := reporter.Fraction(); got != 0.5 {
		t.Errorf("Fraction() = %v, want 0.5", got)
	}

	// Stop without Start must not block.
	reporter.Stop()
	reporter.Stop()
}

func TestReporterFractionUnknownSize(t *testing.T) {
	reporter := NewReporter(Options{})
	reporter.BytesWritten(100)
	if got := reporter.Fraction(); got != 0 {
		t.Errorf("Fraction() = %v, want 0", got)
	}
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		TotalSize:      1024 * 1024,
		TotalChunks:    4,
		Workers:        2,
		UpdateInterval: 10 * time.Millisecond,
		Output:         &syncWriter{w: &out},
		Verb:           "Uploading",
		Label:          "file.bin",
		ChunkSize:      256 * 1024,
	})

	reporter.Start()

	// Simulate chunk progress
	reporter.ChunkStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.ChunkCompleted()

	reporter.ChunkStarted()
	reporter.BytesWritten(256 * 1024)
	reporter.ChunkCompleted()

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()

	// Verify state
	if reporter.completedChunks.Load() != 2 {
		t.Errorf("expected 2 completed chunks, got %d", reporter.completedChunks.Load())
	}
	if reporter.completedBytes.Load() != 512*1024 {
		t.Errorf("expected 512KiB completed, got %d", reporter.completedBytes.Load())
	}

	text := out.String()
	if !strings.Contains(text, "[ferry] Uploading: file.bin") {
		t.Errorf("missing header in output: %q", text)
	}
	if !strings.Contains(text, "Chunks: 2/4 completed") {
		t.Errorf("missing final summary in output: %q", text)
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

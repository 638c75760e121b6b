package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestChunkLayout(t *testing.T) {
	const mib = 1024 * 1024
	tests := []struct {
		size      int64
		chunkSize int64
		count     int
		last      int64
	}{
		{1, 2 * mib, 1, 1},
		{2 * mib, 2 * mib, 1, 2 * mib},
		{2*mib + 1, 2 * mib, 2, 1},
		{5 * mib, 2 * mib, 3, 1 * mib},
		{100, 7, 15, 2},
	}

	for _, tt := range tests {
		n := ChunkCount(tt.size, tt.chunkSize)
		if n != tt.count {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.size, tt.chunkSize, n, tt.count)
			continue
		}
		var sum int64
		for i := 0; i < n; i++ {
			sum += ChunkLength(tt.size, tt.chunkSize, i)
		}
		if sum != tt.size {
			t.Errorf("chunk lengths for size %d sum to %d", tt.size, sum)
		}
		if last := ChunkLength(tt.size, tt.chunkSize, n-1); last != tt.last {
			t.Errorf("last chunk of size %d = %d, want %d", tt.size, last, tt.last)
		}
		if ChunkLength(tt.size, tt.chunkSize, n) != 0 {
			t.Errorf("index past the end should have length 0")
		}
	}

	if ChunkCount(0, 2*mib) != 0 {
		t.Error("empty file should have no chunks")
	}
}

func TestFileIDStable(t *testing.T) {
	mod := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := FileID("movie.mkv", 1234, mod)
	b := FileID("movie.mkv", 1234, mod)
	if a != b {
		t.Fatalf("FileID not stable: %s vs %s", a, b)
	}
	if FileID("movie.mkv", 1235, mod) == a {
		t.Error("different size should give a different ID")
	}
	if FileID("movie.mkv", 1234, mod.Add(time.Millisecond)) == a {
		t.Error("different mod time should give a different ID")
	}
}

func TestChunkHashRoundTrip(t *testing.T) {
	hash := ChunkHash("abc-def", 12)
	if hash != "abc-def-12" {
		t.Fatalf("ChunkHash = %q", hash)
	}
	id, idx, err := ParseChunkHash(hash)
	if err != nil {
		t.Fatalf("ParseChunkHash: %v", err)
	}
	if id != "abc-def" || idx != 12 {
		t.Errorf("ParseChunkHash = (%q, %d)", id, idx)
	}

	for _, bad := range []string{"", "abc", "abc-", "-1", "abc-x"} {
		if _, _, err := ParseChunkHash(bad); err == nil {
			t.Errorf("ParseChunkHash(%q) should fail", bad)
		}
	}
}

func TestPartition(t *testing.T) {
	ranges := Partition(10, 4)
	want := []Range{{0, 0, 3}, {1, 4, 7}, {2, 8, 9}}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(ranges), len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want[i])
		}
	}
	if ranges[2].Header() != "bytes=8-9" {
		t.Errorf("Header = %q", ranges[2].Header())
	}
	if len(Partition(0, 4)) != 0 {
		t.Error("empty object should have no ranges")
	}
}

func TestComplete(t *testing.T) {
	const total, chunk = 10, 4 // 3 chunks

	tests := []struct {
		name    string
		indices []int
		want    bool
	}{
		{"all present", []int{0, 1, 2}, true},
		{"out of order", []int{2, 0, 1}, true},
		{"missing one", []int{0, 2}, false},
		// count matches but a duplicate hides the gap
		{"duplicate index", []int{0, 0, 2}, false},
		{"extra index", []int{0, 1, 2, 3}, false},
		{"shifted", []int{1, 2, 3}, false},
		{"negative", []int{-1, 0, 1}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Complete(tt.indices, total, chunk); got != tt.want {
				t.Errorf("Complete(%v) = %v, want %v", tt.indices, got, tt.want)
			}
		})
	}
}

func TestMissing(t *testing.T) {
	got := Missing([]int{0, 3}, 5)
	want := []int{1, 2, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Missing = %v, want %v", got, want)
	}
}

func TestErrorKinds(t *testing.T) {
	verr := fmt.Errorf("wrapped: %w", Invalid("index", "must be numeric"))
	if !IsValidation(verr) || !Permanent(verr) {
		t.Error("validation error not recognised")
	}

	ierr := fmt.Errorf("wrapped: %w", &IntegrityError{FileHash: "f", Index: 1, Reason: "missing"})
	if !IsIntegrity(ierr) || !Permanent(ierr) {
		t.Error("integrity error not recognised")
	}

	cerr := Cancelled(context.Canceled)
	if !IsCancelled(cerr) || !errors.Is(cerr, context.Canceled) {
		t.Error("cancellation not recognised")
	}
	if IsCancelled(errors.New("boom")) || Permanent(errors.New("boom")) {
		t.Error("plain error treated as cancellation or permanent")
	}
}

func TestFailedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewFailedError("upload", 10, map[int]error{7: cause, 2: cause})
	if fmt.Sprint(err.Indices) != "[2 7]" {
		t.Errorf("indices = %v", err.Indices)
	}
	if !errors.Is(err, cause) {
		t.Error("FailedError should unwrap to the per-index cause")
	}
	want := "upload: 2 of 10 chunks failed after all retries (indices 2,7): connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/ferry/internal/transfer"
)

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1024")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Last-Modified", "Sat, 01 Jan 2025 00:00:00 GMT")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	info, err := client.Head(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	if info.Size != 1024 {
		t.Errorf("expected size 1024, got %d", info.Size)
	}
	if info.ETag != "abc123" {
		t.Errorf("expected ETag 'abc123', got %s", info.ETag)
	}
	if !info.AcceptsRanges {
		t.Error("expected AcceptsRanges to be true")
	}
	if info.ContentType != "application/octet-stream" {
		t.Errorf("expected content-type 'application/octet-stream', got %s", info.ContentType)
	}
}

func TestHeadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Head(context.Background(), server.URL)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRange(t *testing.T) {
	data := []byte("Hello, World! This is test data for range requests.")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}

		// Parse range header
		var start, end int64
		rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(rangeHeader, "-")
		start, _ = strconv.ParseInt(parts[0], 10, 64)
		end, _ = strconv.ParseInt(parts[1], 10, 64)

		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		w.Header().Set("Content-Range", "bytes "+rangeHeader+"/"+strconv.Itoa(len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(int(end-start+1)))
		w.Header().Set("ETag", `"test-etag"`)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.GetRange(context.Background(), server.URL, 0, 4)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(body) != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", string(body))
	}

	if resp.ETag != "test-etag" {
		t.Errorf("expected ETag 'test-etag', got %s", resp.ETag)
	}
	if resp.ContentRange != "bytes 0-4/"+strconv.Itoa(len(data)) {
		t.Errorf("unexpected Content-Range %q", resp.ContentRange)
	}
}

func TestGetRangeNotSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server ignores Range header and returns full content
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.GetRange(context.Background(), server.URL, 0, 10)
	if err != ErrRangeNotSupported {
		t.Errorf("expected ErrRangeNotSupported, got %v", err)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Head(context.Background(), server.URL)
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if !Retryable(err) {
		t.Error("server errors should be retryable")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset"), true},
		{"server", ErrServerError, true},
		{"not found", ErrNotFound, false},
		{"range", ErrRangeNotSupported, false},
		{"validation", transfer.Invalid("index", "not a number"), false},
		{"integrity", &transfer.IntegrityError{FileHash: "f", Index: -1, Reason: "gap"}, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPostChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		for field, want := range map[string]string{
			transfer.FieldFilename:  "a.bin",
			transfer.FieldFileHash:  "fh",
			transfer.FieldHash:      "fh-1",
			transfer.FieldIndex:     "1",
			transfer.FieldSize:      "5",
			transfer.FieldTotalSize: "10",
			transfer.FieldChunkSize: "5",
		} {
			if got := r.FormValue(field); got != want {
				t.Errorf("field %s = %q, want %q", field, got, want)
			}
		}
		f, _, err := r.FormFile(transfer.FieldChunk)
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "hello" {
			t.Errorf("chunk = %q", data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"complete","path":"files/fh/a.bin"}`))
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.PostChunk(context.Background(), server.URL+"/", ChunkUpload{
		Filename:  "a.bin",
		FileHash:  "fh",
		Hash:      "fh-1",
		Index:     1,
		TotalSize: 10,
		ChunkSize: 5,
		Data:      []byte("hello"),
	})
	if err != nil {
		t.Fatalf("PostChunk: %v", err)
	}
	if resp.Status != transfer.StatusComplete || resp.Path != "files/fh/a.bin" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPostChunkErrorKinds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue(transfer.FieldIndex) {
		case "0":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"must be positive","kind":"validation","field":"size"}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"chunk 1 missing","kind":"integrity","fileHash":"fh","index":1}`))
		}
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())

	_, err := client.PostChunk(context.Background(), server.URL, ChunkUpload{Hash: "fh-0", Index: 0, Data: []byte("x")})
	var verr *transfer.ValidationError
	if !errors.As(err, &verr) || verr.Field != "size" {
		t.Errorf("expected validation error on size, got %v", err)
	}

	_, err = client.PostChunk(context.Background(), server.URL, ChunkUpload{Hash: "fh-1", Index: 1, Data: []byte("x")})
	var ierr *transfer.IntegrityError
	if !errors.As(err, &ierr) || ierr.Index != 1 || ierr.FileHash != "fh" {
		t.Errorf("expected integrity error on chunk 1, got %v", err)
	}
}

func TestRateLimitedClient(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "1")
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RequestsPerSecond = 20
	client := NewClient(opts)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Head(context.Background(), server.URL); err != nil {
			t.Fatalf("Head: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 paced requests at 20/s took only %v", elapsed)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 hits, got %d", hits.Load())
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-99/1000", 0, 99, 1000},
		{"bytes 100-199/1000", 100, 199, 1000},
		{"bytes 0-99/*", 0, 99, -1},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}
}

func TestCleanETag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`"abc123"`, "abc123"},
		{`W/"abc123"`, "abc123"},
		{"abc123", "abc123"},
		{`""`, ""},
	}

	for _, tt := range tests {
		result := cleanETag(tt.input)
		if result != tt.expected {
			t.Errorf("cleanETag(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Head(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}

package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/ligustah/ferry/internal/chunker"
	ferryhttp "github.com/ligustah/ferry/internal/http"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/pool"
	"github.com/ligustah/ferry/pkg/retry"
)

// Client is the part of the HTTP client an upload needs.
type Client interface {
	PostChunk(ctx context.Context, baseURL string, up ferryhttp.ChunkUpload) (*transfer.ChunkResponse, error)
	Status(ctx context.Context, baseURL, fileHash string) (*transfer.SessionStatus, error)
}

// Options configures a Session.
type Options struct {
	// Concurrency is the number of chunks in flight.
	// Default: transfer.UploadConcurrency
	Concurrency int

	// Attempts is the number of tries per chunk, including the first.
	// Default: transfer.UploadAttempts
	Attempts int

	// Delay is the wait between attempts.
	// Default: retry.Fixed(time.Second)
	Delay retry.DelayFunc

	// ChunkSize is the chunk length. A resumed session adopts the chunk size
	// the server recorded for it.
	// Default: transfer.ChunkSize
	ChunkSize int64

	// BatchSize is the number of chunks read ahead of the senders.
	// Default: chunker.DefaultBatchSize
	BatchSize int

	// Resume seeds the acknowledged set from the server's session status.
	Resume bool

	// OnProgress is called after every acknowledged or skipped chunk. Calls
	// are serialized; the callback must not call back into the Session.
	OnProgress func(Progress)

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	Logger *slog.Logger
}

// Progress is the completion state of a session.
type Progress struct {
	Completed int
	Total     int
}

// Fraction returns Completed/Total, or 0 for an empty session.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// Result summarizes one finished Upload call. Uploaded and Skipped count the
// chunks of that call only.
type Result struct {
	FileID   string
	Path     string // artifact path on the server
	Chunks   int
	Uploaded int
	Skipped  int
}

// Session is one upload of one source.
type Session struct {
	src     chunker.Source
	client  Client
	baseURL string
	opts    Options
	fileID  string
	logger  *slog.Logger

	mu       sync.Mutex
	acked    *roaring.Bitmap
	total    int
	path     string
	uploaded int
	skipped  int
}

// NewSession prepares the upload of src to the server at baseURL.
func NewSession(src chunker.Source, client Client, baseURL string, opts Options) *Session {
	if opts.Concurrency <= 0 {
		opts.Concurrency = transfer.UploadConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = transfer.UploadAttempts
	}
	if opts.Delay == nil {
		opts.Delay = retry.Fixed(time.Second)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = transfer.ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fileID := transfer.FileID(src.Name(), src.Size(), src.ModTime())
	return &Session{
		src:     src,
		client:  client,
		baseURL: baseURL,
		opts:    opts,
		fileID:  fileID,
		logger:  opts.Logger.With("file_hash", fileID),
		acked:   roaring.New(),
		total:   transfer.ChunkCount(src.Size(), opts.ChunkSize),
	}
}

// FileID returns the session identifier sent as fileHash.
func (s *Session) FileID() string {
	return s.fileID
}

// ChunkSize returns the chunk length in use.
func (s *Session) ChunkSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.ChunkSize
}

// Acknowledged returns the indices the server has confirmed, ascending.
func (s *Session) Acknowledged() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, s.acked.GetCardinality())
	it := s.acked.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Progress returns the current completion state.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

// progress must be called with s.mu held. Completed counts acknowledged
// chunks, so repeated runs never count a chunk twice.
func (s *Session) progress() Progress {
	return Progress{Completed: int(s.acked.GetCardinality()), Total: s.total}
}

// Upload sends every chunk not yet acknowledged. It returns a
// *transfer.FailedError when chunks failed after all retries and an error
// satisfying transfer.IsCancelled when ctx was cancelled.
func (s *Session) Upload(ctx context.Context) (*Result, error) {
	if s.src.Size() <= 0 {
		return nil, transfer.Invalid(transfer.FieldTotalSize, "cannot upload an empty file")
	}
	if err := ctx.Err(); err != nil {
		return nil, transfer.Cancelled(err)
	}

	if s.opts.Resume {
		if err := s.resume(ctx); err != nil {
			if transfer.IsCancelled(err) {
				s.reset()
				return nil, transfer.Cancelled(err)
			}
			return nil, err
		}
	}

	s.mu.Lock()
	s.uploaded, s.skipped = 0, 0
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := chunker.Start(ctx, s.src, s.ChunkSize(), chunker.Options{BatchSize: s.opts.BatchSize})
	// Every batch of the stream shares the same slots.
	group := pool.NewGroup(ctx, s.opts.Concurrency)

loop:
	for ev := range events {
		switch ev := ev.(type) {
		case chunker.EventBatch:
			s.schedule(group, ev.Chunks)
		case chunker.EventProgress:
			s.logger.Debug("chunks produced", "processed", ev.Processed, "total", ev.Total)
		case chunker.EventDone:
			break loop
		case chunker.EventFailed:
			if ctx.Err() != nil {
				break loop
			}
			cancel()
			group.Wait()
			return nil, fmt.Errorf("uploader: read source after %d chunks: %w", ev.Processed, ev.Err)
		}
	}

	failed := make(map[int]error)
	var perr *pool.Error
	if errors.As(group.Wait(), &perr) {
		for _, f := range perr.Failures {
			failed[f.Index] = f.Err
		}
	}

	if err := ctx.Err(); err != nil {
		s.reset()
		return nil, transfer.Cancelled(err)
	}
	if len(failed) > 0 {
		return nil, transfer.NewFailedError("upload", s.total, failed)
	}

	if err := s.ensurePath(ctx); err != nil {
		return nil, err
	}
	return s.result(), nil
}

// schedule hands the unacknowledged chunks of one batch to group. Failures
// are reported under the chunk index.
func (s *Session) schedule(group *pool.Group, chunks []chunker.Chunk) {
	for _, c := range chunks {
		if s.isAcked(c.Index) {
			s.skip(c)
			continue
		}
		c := c
		group.Go(c.Index, func(ctx context.Context) error {
			return s.send(ctx, c)
		})
	}
}

func (s *Session) send(ctx context.Context, c chunker.Chunk) error {
	reporter := s.opts.Progress
	if reporter != nil {
		reporter.ChunkStarted()
	}

	up := ferryhttp.ChunkUpload{
		Filename:  s.src.Name(),
		FileHash:  s.fileID,
		Hash:      c.Hash(),
		Index:     c.Index,
		TotalSize: s.src.Size(),
		ChunkSize: s.ChunkSize(),
		Data:      c.Data,
	}
	resp, err := retry.Value(ctx, func(ctx context.Context) (*transfer.ChunkResponse, error) {
		return s.client.PostChunk(ctx, s.baseURL, up)
	}, retry.Options{
		MaxAttempts: s.opts.Attempts,
		Delay:       s.opts.Delay,
		Retryable:   ferryhttp.Retryable,
		OnError: func(attempt int, err error) {
			if ctx.Err() == nil {
				s.logger.Warn("chunk upload failed", "index", c.Index, "attempt", attempt, "error", err)
			}
		},
	})
	if err != nil {
		if reporter != nil {
			reporter.ChunkFailed()
		}
		return fmt.Errorf("chunk %d: %w", c.Index, err)
	}

	if reporter != nil {
		reporter.BytesWritten(int64(len(c.Data)))
		reporter.ChunkCompleted()
	}
	s.ack(c.Index, resp)
	return nil
}

func (s *Session) isAcked(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked.Contains(uint32(index))
}

func (s *Session) ack(index int, resp *transfer.ChunkResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked.Add(uint32(index))
	s.uploaded++
	if resp.Status == transfer.StatusComplete && resp.Path != "" {
		s.path = resp.Path
	}
	s.notify()
}

func (s *Session) skip(c chunker.Chunk) {
	if s.opts.Progress != nil {
		s.opts.Progress.ChunkSkipped(int64(len(c.Data)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
	s.notify()
}

// notify must be called with s.mu held.
func (s *Session) notify() {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(s.progress())
	}
}

// reset forgets every acknowledgement after a cancelled upload.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked.Clear()
	s.uploaded = 0
	s.skipped = 0
	s.path = ""
}

// resume seeds the acknowledged set from the server.
func (s *Session) resume(ctx context.Context) error {
	st, err := s.client.Status(ctx, s.baseURL, s.fileID)
	if errors.Is(err, ferryhttp.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("uploader: query session status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch st.Status {
	case transfer.StatusComplete:
		s.acked.AddRange(0, uint64(s.total))
		s.path = st.Path
	case transfer.StatusUploading:
		if st.ChunkSize > 0 && st.ChunkSize != s.opts.ChunkSize {
			s.logger.Info("adopting server chunk size", "chunk_size", st.ChunkSize)
			s.opts.ChunkSize = st.ChunkSize
			s.total = transfer.ChunkCount(s.src.Size(), st.ChunkSize)
		}
		for _, idx := range st.Indices {
			if idx >= 0 && idx < s.total {
				s.acked.Add(uint32(idx))
			}
		}
	}
	s.logger.Info("resuming upload", "acknowledged", s.acked.GetCardinality(), "total", s.total)
	return nil
}

// ensurePath asks the server for the artifact path when no response
// carried it, which happens when every chunk was skipped.
func (s *Session) ensurePath(ctx context.Context) error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path != "" {
		return nil
	}

	st, err := s.client.Status(ctx, s.baseURL, s.fileID)
	if err != nil {
		return fmt.Errorf("uploader: query session status: %w", err)
	}
	if st.Status != transfer.StatusComplete {
		return &transfer.IntegrityError{
			FileHash: s.fileID,
			Index:    -1,
			Reason:   fmt.Sprintf("server holds %d of %d chunks after upload", st.Uploaded, s.total),
		}
	}

	s.mu.Lock()
	s.path = st.Path
	s.mu.Unlock()
	return nil
}

func (s *Session) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		FileID:   s.fileID,
		Path:     s.path,
		Chunks:   s.total,
		Uploaded: s.uploaded,
		Skipped:  s.skipped,
	}
}

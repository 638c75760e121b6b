package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	ferryhttp "github.com/ligustah/ferry/internal/http"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/pool"
	"github.com/ligustah/ferry/pkg/retry"
)

var (
	// ErrSizeUnknown is returned when the server reports no content length.
	ErrSizeUnknown = errors.New("downloader: remote file size unknown")

	// ErrRangeNotSupported is returned when the server doesn't support range requests.
	ErrRangeNotSupported = ferryhttp.ErrRangeNotSupported
)

// Options configures the downloader.
type Options struct {
	// Concurrency is the number of ranges in flight.
	// Default: transfer.DownloadConcurrency
	Concurrency int

	// Attempts is the number of tries per range, including the first.
	// Default: transfer.DownloadAttempts
	Attempts int

	// Delay is the wait between attempts.
	// Default: retry.Exponential(time.Second, 0), 2^attempt seconds
	Delay retry.DelayFunc

	// RangeSize is the length of each range request.
	// Default: transfer.ChunkSize
	RangeSize int64

	// HTTPOptions configures the HTTP client when Client is nil.
	HTTPOptions ferryhttp.Options

	// Client overrides the HTTP client.
	Client *ferryhttp.Client

	// MaxConsecutiveFailures is the number of consecutive range failures
	// before the circuit breaker trips and stops the download.
	// Set to 0 to disable (default).
	MaxConsecutiveFailures int

	// OnProgress is called with cumulative bytes after every range.
	OnProgress func(completed, total int64)

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	Logger *slog.Logger
}

// FailedChunk records information about a range that failed to download.
type FailedChunk struct {
	Index int   // Range index
	Error error // The error that occurred
}

// CircuitBreakerError is returned when too many consecutive failures occur.
// Use errors.As to extract it and inspect FailedChunks for details.
type CircuitBreakerError struct {
	ConsecutiveFailures int
	FailedChunks        []FailedChunk
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %d consecutive failures", e.ConsecutiveFailures)
}

// FileInfo contains metadata about the remote file.
type FileInfo struct {
	Size        int64
	ETag        string
	ContentType string
}

// Downloader fetches remote files by range.
type Downloader struct {
	client *ferryhttp.Client
	opts   Options
	logger *slog.Logger
}

// New returns a Downloader. Zero option values take their defaults.
func New(opts Options) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = transfer.DownloadConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = transfer.DownloadAttempts
	}
	if opts.Delay == nil {
		opts.Delay = retry.Exponential(time.Second, 0)
	}
	if opts.RangeSize <= 0 {
		opts.RangeSize = transfer.ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := opts.Client
	if client == nil {
		httpOpts := opts.HTTPOptions
		if httpOpts.MaxIdleConnsPerHost == 0 && httpOpts.Timeout == 0 {
			httpOpts = ferryhttp.DefaultOptions()
		}
		if httpOpts.MaxIdleConnsPerHost < opts.Concurrency*2 {
			httpOpts.MaxIdleConnsPerHost = opts.Concurrency * 2
		}
		client = ferryhttp.NewClient(httpOpts)
	}
	return &Downloader{client: client, opts: opts, logger: opts.Logger}
}

// Probe fetches the size of the file at url and checks that the server
// accepts range requests.
func (d *Downloader) Probe(ctx context.Context, url string) (*FileInfo, error) {
	info, err := retry.Value(ctx, func(ctx context.Context) (*ferryhttp.FileInfo, error) {
		return d.client.Head(ctx, url)
	}, d.retryOptions("probe", -1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, transfer.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("get file info: %w", err)
	}
	if info.Size <= 0 {
		return nil, ErrSizeUnknown
	}
	if !info.AcceptsRanges {
		return nil, ErrRangeNotSupported
	}
	return &FileInfo{Size: info.Size, ETag: info.ETag, ContentType: info.ContentType}, nil
}

// Partition splits size bytes into the ranges requested by this downloader.
func (d *Downloader) Partition(size int64) []transfer.Range {
	return transfer.Partition(size, d.opts.RangeSize)
}

// ToWriter downloads url into w and returns the number of bytes written.
func (d *Downloader) ToWriter(ctx context.Context, url string, w io.Writer) (int64, error) {
	info, err := d.Probe(ctx, url)
	if err != nil {
		return 0, err
	}

	if wa, ok := w.(io.WriterAt); ok {
		err = d.fetch(ctx, url, info, func(r transfer.Range, data []byte) error {
			_, err := wa.WriteAt(data, r.Start)
			return err
		})
	} else {
		ow := &orderedWriter{w: w, pending: make(map[int][]byte)}
		err = d.fetch(ctx, url, info, ow.deliver)
	}
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// ToFile downloads url to path. The data lands in path+".part" first and is
// renamed once every range is written.
func (d *Downloader) ToFile(ctx context.Context, url, path string) (int64, error) {
	info, err := d.Probe(ctx, url)
	if err != nil {
		return 0, err
	}

	partPath := path + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}
	fail := func(err error) (int64, error) {
		f.Close()
		os.Remove(partPath)
		return 0, err
	}

	if err := f.Truncate(info.Size); err != nil {
		return fail(fmt.Errorf("allocate partial file: %w", err))
	}
	err = d.fetch(ctx, url, info, func(r transfer.Range, data []byte) error {
		_, err := f.WriteAt(data, r.Start)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync partial file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("close partial file: %w", err)
	}
	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("rename partial file: %w", err)
	}
	return info.Size, nil
}

// Bytes downloads url into memory.
func (d *Downloader) Bytes(ctx context.Context, url string) ([]byte, error) {
	info, err := d.Probe(ctx, url)
	if err != nil {
		return nil, err
	}

	parts := make([][]byte, len(d.Partition(info.Size)))
	err = d.fetch(ctx, url, info, func(r transfer.Range, data []byte) error {
		parts[r.Index] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, info.Size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// fetch downloads every range of a size byte file and hands each one to
// sink. sink may be called concurrently.
func (d *Downloader) fetch(ctx context.Context, url string, info *FileInfo, sink func(transfer.Range, []byte) error) error {
	size := info.Size
	ranges := d.Partition(size)
	reporter := d.opts.Progress

	var (
		mu          sync.Mutex
		completed   int64
		consecutive int
		failed      []FailedChunk
		tripped     bool
		integrity   error
	)

	cbCtx, cbCancel := context.WithCancel(ctx)
	defer cbCancel()

	err := pool.Each(cbCtx, d.opts.Concurrency, ranges, func(ctx context.Context, _ int, r transfer.Range) error {
		if reporter != nil {
			reporter.ChunkStarted()
		}
		err := d.fetchRange(ctx, url, info, r, sink)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if reporter != nil {
				reporter.ChunkFailed()
			}
			// A changed or misbehaving source spoils every other range too.
			if transfer.IsIntegrity(err) && integrity == nil {
				integrity = err
				cbCancel()
				return err
			}
			if ctx.Err() == nil {
				consecutive++
				failed = append(failed, FailedChunk{Index: r.Index, Error: err})
				if d.opts.MaxConsecutiveFailures > 0 && consecutive >= d.opts.MaxConsecutiveFailures && !tripped {
					tripped = true
					d.logger.Error("circuit breaker tripped", "consecutive_failures", consecutive)
					cbCancel()
				}
			}
			return err
		}

		consecutive = 0
		completed += r.Length()
		if reporter != nil {
			reporter.BytesWritten(r.Length())
			reporter.ChunkCompleted()
		}
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(completed, size)
		}
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	switch {
	case integrity != nil:
		return integrity
	case tripped:
		return &CircuitBreakerError{ConsecutiveFailures: consecutive, FailedChunks: failed}
	case ctx.Err() != nil:
		return transfer.Cancelled(ctx.Err())
	case err != nil:
		errs := make(map[int]error)
		var perr *pool.Error
		if errors.As(err, &perr) {
			for _, f := range perr.Failures {
				errs[ranges[f.Index].Index] = f.Err
			}
		}
		return transfer.NewFailedError("download", len(ranges), errs)
	}
	return nil
}

// fetchRange downloads one range, retrying transient failures, and passes
// the complete payload to sink.
func (d *Downloader) fetchRange(ctx context.Context, url string, info *FileInfo, r transfer.Range, sink func(transfer.Range, []byte) error) error {
	data, err := retry.Value(ctx, func(ctx context.Context) ([]byte, error) {
		resp, err := d.client.GetRange(ctx, url, r.Start, r.End)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkRange(url, info, r, resp); err != nil {
			return nil, err
		}
		if resp.ContentLength >= 0 && resp.ContentLength != r.Length() {
			return nil, fmt.Errorf("range %d: expected %d bytes, server sent %d", r.Index, r.Length(), resp.ContentLength)
		}
		buf := make([]byte, r.Length())
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return nil, fmt.Errorf("range %d: read body: %w", r.Index, err)
		}
		return buf, nil
	}, d.retryOptions("range", r.Index))
	if err != nil {
		return fmt.Errorf("download range %d: %w", r.Index, err)
	}

	if err := sink(r, data); err != nil {
		return fmt.Errorf("write range %d: %w", r.Index, err)
	}
	return nil
}

// checkRange rejects a response that does not carry the requested bytes of
// the file Probe saw.
func checkRange(url string, info *FileInfo, r transfer.Range, resp *ferryhttp.RangeResponse) error {
	mismatch := func(format string, args ...any) error {
		return &transfer.IntegrityError{FileHash: url, Index: r.Index, Reason: fmt.Sprintf(format, args...)}
	}

	if info.ETag != "" && resp.ETag != "" && resp.ETag != info.ETag {
		return mismatch("source changed (etag %s, was %s)", resp.ETag, info.ETag)
	}
	if resp.ContentRange == "" {
		return mismatch("response has no Content-Range")
	}
	start, end, total, err := ferryhttp.ParseContentRange(resp.ContentRange)
	if err != nil {
		return mismatch("%v", err)
	}
	if start != r.Start || end != r.End {
		return mismatch("server sent bytes %d-%d, requested %d-%d", start, end, r.Start, r.End)
	}
	if total >= 0 && total != info.Size {
		return mismatch("server reports size %d, was %d", total, info.Size)
	}
	return nil
}

func (d *Downloader) retryOptions(what string, index int) retry.Options {
	return retry.Options{
		MaxAttempts: d.opts.Attempts,
		Delay:       d.opts.Delay,
		Retryable:   ferryhttp.Retryable,
		OnError: func(attempt int, err error) {
			d.logger.Warn(what+" request failed", "index", index, "attempt", attempt, "error", err)
		},
	}
}

// orderedWriter writes ranges to w strictly in index order.
type orderedWriter struct {
	mu      sync.Mutex
	w       io.Writer
	next    int
	pending map[int][]byte
	err     error
}

func (o *orderedWriter) deliver(r transfer.Range, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}

	o.pending[r.Index] = data
	for {
		buf, ok := o.pending[o.next]
		if !ok {
			return nil
		}
		delete(o.pending, o.next)
		if _, err := o.w.Write(buf); err != nil {
			o.err = err
			return err
		}
		o.next++
	}
}

package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ligustah/ferry/internal/merge"
	"github.com/ligustah/ferry/internal/metadata"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/sharded"
)

// ErrUnknownSession is returned by Status for a file hash with neither
// records nor an artifact.
var ErrUnknownSession = errors.New("unknown upload session")

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(r *Receiver) {
		r.logger = l
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) {
		r.now = now
	}
}

// Receiver accepts chunks for upload sessions.
type Receiver struct {
	staging *sharded.Store
	store   metadata.Store
	merger  *merge.Engine
	logger  *slog.Logger
	now     func() time.Time

	merges singleflight.Group
}

// New returns a Receiver staging chunks in staging, recording them in store
// and merging complete sessions with merger.
func New(staging *sharded.Store, store metadata.Store, merger *merge.Engine, opts ...Option) *Receiver {
	r := &Receiver{
		staging: staging,
		store:   store,
		merger:  merger,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept stores one chunk and merges the session once it is complete.
func (r *Receiver) Accept(ctx context.Context, req ChunkRequest, payload io.Reader) (*transfer.ChunkResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := r.logger.With("file_hash", req.FileHash, "index", req.Index)

	existing, err := r.store.Find(ctx, req.FileHash)
	if err != nil {
		return nil, fmt.Errorf("receiver: find records: %w", err)
	}
	if err := consistent(req, existing); err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		// A late duplicate of an already merged session.
		if a, err := r.merger.Lookup(ctx, req.FileHash); err == nil && a.Filename == req.Filename {
			log.Info("chunk for merged session ignored")
			return &transfer.ChunkResponse{Status: transfer.StatusComplete, Path: a.Path}, nil
		}
	}

	info, err := r.staging.Put(ctx, req.FileHash, req.Index, req.Size, payload)
	if err != nil {
		var se *sharded.SizeError
		if errors.As(err, &se) {
			// The rejected write removed the key, so an earlier record of
			// this index no longer has a shard behind it.
			if err := r.store.Delete(ctx, req.FileHash, req.Index); err != nil {
				log.Warn("drop stale record", "error", err)
			}
			return nil, transfer.Invalid(transfer.FieldChunk, "payload length does not match size %d", req.Size)
		}
		return nil, fmt.Errorf("receiver: stage chunk: %w", err)
	}

	// Replace any earlier record of this index.
	if err := r.store.Delete(ctx, req.FileHash, req.Index); err != nil {
		return nil, fmt.Errorf("receiver: delete record: %w", err)
	}
	if err := r.store.Put(ctx, req.Record(info.Key, r.now())); err != nil {
		return nil, fmt.Errorf("receiver: put record: %w", err)
	}

	records, err := r.store.Find(ctx, req.FileHash)
	if err != nil {
		return nil, fmt.Errorf("receiver: find records: %w", err)
	}
	log.Debug("chunk accepted", "size", req.Size, "uploaded", len(records))

	if len(records) == 0 {
		// Merged by a concurrent request after our record was written.
		if a, err := r.merger.Lookup(ctx, req.FileHash); err == nil {
			return &transfer.ChunkResponse{Status: transfer.StatusComplete, Path: a.Path}, nil
		}
	}
	if !transfer.Complete(metadata.Indices(records), req.TotalSize, req.ChunkSize) {
		return &transfer.ChunkResponse{Status: transfer.StatusUploading, Uploaded: len(records)}, nil
	}

	result, err := r.merge(ctx, req.FileHash, req.Filename, records)
	if err != nil {
		log.Error("merge failed", "error", err)
		return nil, err
	}
	return &transfer.ChunkResponse{Status: transfer.StatusComplete, Path: result.Path}, nil
}

// merge collapses concurrent merges of the same session into one.
func (r *Receiver) merge(ctx context.Context, fileHash, filename string, records []metadata.Record) (*merge.Result, error) {
	v, err, _ := r.merges.Do(fileHash, func() (any, error) {
		// Another merge may have finished between Find and Do.
		if a, err := r.merger.Lookup(ctx, fileHash); err == nil && a.Filename == filename {
			if left, _ := r.store.Find(ctx, fileHash); len(left) == 0 {
				return &merge.Result{Status: transfer.StatusComplete, Path: a.Path, Size: a.Size}, nil
			}
		}
		return r.merger.Merge(ctx, fileHash, filename, records)
	})
	if err != nil {
		return nil, err
	}
	return v.(*merge.Result), nil
}

// consistent rejects a chunk whose session parameters disagree with chunks
// already recorded for the same file hash.
func consistent(req ChunkRequest, existing []metadata.Record) error {
	for _, rec := range existing {
		if rec.Index == req.Index {
			continue // superseded below
		}
		switch {
		case rec.TotalSize != req.TotalSize:
			return transfer.Invalid(transfer.FieldTotalSize, "session has total size %d, got %d", rec.TotalSize, req.TotalSize)
		case rec.ChunkSize != req.ChunkSize:
			return transfer.Invalid(transfer.FieldChunkSize, "session has chunk size %d, got %d", rec.ChunkSize, req.ChunkSize)
		case rec.Filename != req.Filename:
			return transfer.Invalid(transfer.FieldFilename, "session has filename %q, got %q", rec.Filename, req.Filename)
		}
	}
	return nil
}

// Status reports the state of the session for fileHash. A session whose
// records are complete but which was never merged is merged now.
func (r *Receiver) Status(ctx context.Context, fileHash string) (*transfer.SessionStatus, error) {
	records, err := r.store.Find(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("receiver: find records: %w", err)
	}

	if len(records) == 0 {
		a, err := r.merger.Lookup(ctx, fileHash)
		if errors.Is(err, merge.ErrNotFound) {
			return nil, fmt.Errorf("receiver: %s: %w", fileHash, ErrUnknownSession)
		}
		if err != nil {
			return nil, err
		}
		return &transfer.SessionStatus{FileHash: fileHash, Status: transfer.StatusComplete, Path: a.Path}, nil
	}

	first := records[0]
	status := &transfer.SessionStatus{
		FileHash:  fileHash,
		Status:    transfer.StatusUploading,
		Uploaded:  len(records),
		Expected:  transfer.ChunkCount(first.TotalSize, first.ChunkSize),
		Indices:   metadata.Indices(records),
		ChunkSize: first.ChunkSize,
	}

	if transfer.Complete(status.Indices, first.TotalSize, first.ChunkSize) {
		r.logger.Warn("completing stuck session", "file_hash", fileHash)
		result, err := r.merge(ctx, fileHash, first.Filename, records)
		if err != nil {
			return nil, err
		}
		status.Status = transfer.StatusComplete
		status.Path = result.Path
	}
	return status, nil
}

// Sessions lists file hashes that still have chunk records.
func (r *Receiver) Sessions(ctx context.Context) ([]string, error) {
	return r.store.Sessions(ctx)
}

// Ping checks the metadata store and the staging bucket.
func (r *Receiver) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return err
	}
	ok, err := r.staging.Bucket().IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("receiver: check staging bucket: %w", err)
	}
	if !ok {
		return errors.New("receiver: staging bucket not accessible")
	}
	return nil
}

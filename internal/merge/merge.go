package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"sort"

	"gocloud.dev/blob"

	"github.com/ligustah/ferry/internal/metadata"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/sharded"
)

// Blob metadata keys of an artifact.
const (
	MetaFilename = "filename"
	MetaFileHash = "filehash"
)

// Result describes a committed artifact.
type Result struct {
	Status string
	Path   string // URL path of the artifact
	Size   int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPrefix sets the key prefix of artifacts. Default: "files/"
func WithPrefix(prefix string) Option {
	return func(e *Engine) {
		e.prefix = prefix
	}
}

// Engine merges staged chunks into artifacts.
type Engine struct {
	staging   *sharded.Store
	artifacts *blob.Bucket
	records   metadata.Store
	logger    *slog.Logger
	prefix    string
}

// New returns an Engine reading chunks from staging, writing artifacts to
// artifacts and cleaning up records in records.
func New(staging *sharded.Store, artifacts *blob.Bucket, records metadata.Store, opts ...Option) *Engine {
	e := &Engine{
		staging:   staging,
		artifacts: artifacts,
		records:   records,
		logger:    slog.Default(),
		prefix:    "files/",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the bucket key of the artifact.
func (e *Engine) Key(fileHash, filename string) string {
	return e.prefix + fileHash + "/" + filename
}

// URLPath returns the download path the server exposes for the artifact.
func (e *Engine) URLPath(fileHash, filename string) string {
	return "/" + e.prefix + url.PathEscape(fileHash) + "/" + url.PathEscape(filename)
}

// Merge verifies the session described by records and writes the artifact.
// Records may be in any order.
func (e *Engine) Merge(ctx context.Context, fileHash, filename string, records []metadata.Record) (*Result, error) {
	parts, total, err := e.verify(ctx, fileHash, records)
	if err != nil {
		return nil, err
	}

	key := e.Key(fileHash, filename)
	log := e.logger.With("file_hash", fileHash, "filename", filename)
	log.Info("merging chunks", "chunks", len(parts), "size", total)

	if err := e.write(ctx, fileHash, key, filename, parts); err != nil {
		return nil, err
	}

	// The committed object must account for every byte of every chunk.
	attrs, err := e.artifacts.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("merge: stat artifact: %w", err)
	}
	if attrs.Size != total {
		e.deleteArtifact(key, log)
		return nil, &transfer.IntegrityError{
			FileHash: fileHash,
			Index:    -1,
			Reason:   fmt.Sprintf("artifact holds %d bytes, chunks sum to %d", attrs.Size, total),
		}
	}

	e.cleanup(ctx, fileHash, log)
	log.Info("merge complete", "size", total)

	return &Result{
		Status: transfer.StatusComplete,
		Path:   e.URLPath(fileHash, filename),
		Size:   total,
	}, nil
}

// verify checks contiguity and staged chunk presence, returning the parts in
// index order and their total size.
func (e *Engine) verify(ctx context.Context, fileHash string, records []metadata.Record) ([]sharded.Part, int64, error) {
	if len(records) == 0 {
		return nil, 0, &transfer.IntegrityError{FileHash: fileHash, Index: -1, Reason: "no chunk records"}
	}

	sorted := append([]metadata.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	totalSize, chunkSize := sorted[0].TotalSize, sorted[0].ChunkSize
	if chunkSize <= 0 {
		chunkSize = transfer.ChunkSize
	}
	indices := metadata.Indices(sorted)
	if !transfer.Complete(indices, totalSize, chunkSize) {
		n := transfer.ChunkCount(totalSize, chunkSize)
		missing := transfer.Missing(indices, n)
		reason := fmt.Sprintf("have %d records for %d chunks", len(sorted), n)
		if len(missing) > 0 {
			reason += fmt.Sprintf(", missing %v", missing)
		}
		return nil, 0, &transfer.IntegrityError{FileHash: fileHash, Index: -1, Reason: reason}
	}

	parts := make([]sharded.Part, len(sorted))
	var total int64
	for i, r := range sorted {
		parts[i] = sharded.Part{Index: r.Index, Size: r.Size}
		total += r.Size
	}
	if total != totalSize {
		return nil, 0, &transfer.IntegrityError{
			FileHash: fileHash,
			Index:    -1,
			Reason:   fmt.Sprintf("chunk sizes sum to %d, expected %d", total, totalSize),
		}
	}

	result, err := e.staging.Validate(ctx, fileHash, parts)
	if err != nil {
		return nil, 0, fmt.Errorf("merge: validate chunks: %w", err)
	}
	if len(result.Missing) > 0 {
		return nil, 0, &transfer.IntegrityError{FileHash: fileHash, Index: result.Missing[0], Reason: "chunk missing from staging"}
	}
	if len(result.SizeMismatches) > 0 {
		return nil, 0, &transfer.IntegrityError{FileHash: fileHash, Index: result.SizeMismatches[0], Reason: "staged chunk size differs from record"}
	}
	return parts, total, nil
}

// write streams parts into the artifact. On failure the writer is aborted and
// nothing is committed.
func (e *Engine) write(ctx context.Context, fileHash, key, filename string, parts []sharded.Part) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := e.artifacts.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: contentType(filename),
		Metadata: map[string]string{
			MetaFilename: filename,
			MetaFileHash: fileHash,
		},
	})
	if err != nil {
		return fmt.Errorf("merge: create artifact writer: %w", err)
	}

	reader := e.staging.NewReader(ctx, fileHash, parts)
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		// Cancel the context first so Close discards the upload
		cancel()
		w.Close()
		e.deleteArtifact(key, e.logger)
		return copyError(fileHash, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("merge: commit artifact: %w", err)
	}
	return nil
}

func copyError(fileHash string, err error) error {
	var se *sharded.SizeError
	if errors.As(err, &se) {
		return &transfer.IntegrityError{
			FileHash: fileHash,
			Index:    se.Index,
			Reason:   fmt.Sprintf("expected %d bytes, read %d", se.Expected, se.Actual),
		}
	}
	if errors.Is(err, sharded.ErrShardNotFound) {
		return &transfer.IntegrityError{FileHash: fileHash, Index: -1, Reason: err.Error()}
	}
	return fmt.Errorf("merge: stream chunks: %w", err)
}

// cleanup removes the chunk directory, then the records. Failures are logged
// and leave the artifact in place.
func (e *Engine) cleanup(ctx context.Context, fileHash string, log *slog.Logger) {
	if n, err := e.staging.DeleteAll(ctx, fileHash); err != nil {
		log.Warn("chunk cleanup failed", "deleted", n, "error", err)
	}
	if _, err := e.records.DeleteAll(ctx, fileHash); err != nil {
		log.Warn("record cleanup failed", "error", err)
	}
}

func (e *Engine) deleteArtifact(key string, log *slog.Logger) {
	if err := e.artifacts.Delete(context.Background(), key); err != nil && !isNotExist(err) {
		log.Warn("delete partial artifact failed", "key", key, "error", err)
	}
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

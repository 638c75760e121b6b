package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gocloud.dev/blob"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/downloader"
	ferryhttp "github.com/ligustah/ferry/internal/http"
	"github.com/ligustah/ferry/internal/logging"
	"github.com/ligustah/ferry/internal/merge"
	"github.com/ligustah/ferry/internal/metadata"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/receiver"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/sharded"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format: text, json")
}

// load resolves defaults, the config file, the environment and override, in
// that order.
func (c *commonFlags) load(override config.Config) (config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configPath); err != nil {
			return config.Config{}, nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, nil, err
	}

	override.Log.Level = c.logLevel
	override.Log.Format = c.logFormat
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// storageFlags select the server-side stores.
type storageFlags struct {
	bucket   string
	staging  string
	metadata string
	codec    string
}

func (s *storageFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.bucket, "bucket", "", "Artifact bucket URL or directory")
	fs.StringVar(&s.staging, "staging", "", "Chunk staging bucket URL (default: the artifact bucket)")
	fs.StringVar(&s.metadata, "metadata", "", "Metadata store URL (badger://, redis://, dynamodb://, memory://)")
	fs.StringVar(&s.codec, "codec", "", "Chunk codec at rest: none, zstd, s2, snappy, zlib")
}

func (s *storageFlags) apply(cfg *config.ServerConfig) {
	cfg.Bucket = s.bucket
	cfg.Staging = s.staging
	cfg.Metadata = s.metadata
	cfg.Codec = s.codec
}

// backend is the assembled server side: buckets, stores and engines.
type backend struct {
	artifacts *blob.Bucket
	chunks    *blob.Bucket
	staging   *sharded.Store
	store     metadata.Store
	engine    *merge.Engine
	receiver  *receiver.Receiver
}

func openBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*backend, error) {
	codec, err := sharded.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	b := &backend{}
	b.artifacts, err = sharded.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	b.chunks = b.artifacts
	if cfg.StagingBucket() != cfg.Bucket {
		if b.chunks, err = sharded.OpenBucket(ctx, cfg.StagingBucket()); err != nil {
			b.artifacts.Close()
			return nil, fmt.Errorf("open staging bucket: %w", err)
		}
	}

	b.store, err = metadata.Open(ctx, cfg.Metadata, logger)
	if err != nil {
		b.closeBuckets()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	b.staging = sharded.New(b.chunks, sharded.WithCodec(codec), sharded.WithPrefetch(2))
	b.engine = merge.New(b.staging, b.artifacts, b.store, merge.WithLogger(logger))
	b.receiver = receiver.New(b.staging, b.store, b.engine, receiver.WithLogger(logger))
	return b, nil
}

func (b *backend) closeBuckets() {
	if b.chunks != b.artifacts {
		b.chunks.Close()
	}
	b.artifacts.Close()
}

func (b *backend) Close() error {
	err := b.store.Close()
	b.closeBuckets()
	return err
}

func newClient(cfg config.ClientConfig, workers int) *ferryhttp.Client {
	return ferryhttp.NewClient(ferryhttp.Options{
		MaxIdleConnsPerHost: workers * 2,
		Timeout:             cfg.Timeout,
		RequestsPerSecond:   cfg.RequestsPerSecond,
	})
}

func newReporter(verb, label string, size, chunkSize int64, workers int) *progress.Reporter {
	return progress.NewReporter(progress.Options{
		TotalSize:      size,
		TotalChunks:    transfer.ChunkCount(size, chunkSize),
		Workers:        workers,
		UpdateInterval: time.Second,
		Verb:           verb,
		Label:          label,
		ChunkSize:      chunkSize,
	})
}

// exitCode reports err on stderr and maps it onto an exit code.
func exitCode(err error) int {
	var (
		failed  *transfer.FailedError
		tripped *downloader.CircuitBreakerError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case transfer.IsCancelled(err):
		fmt.Fprintln(os.Stderr, "[ferry] Transfer cancelled")
		return ExitCancelled
	case transfer.IsIntegrity(err):
		fmt.Fprintf(os.Stderr, "Error: integrity check failed: %v\n", err)
		return ExitIntegrityFailed
	case transfer.IsValidation(err):
		fmt.Fprintf(os.Stderr, "Error: request rejected: %v\n", err)
		return ExitIntegrityFailed
	case errors.As(err, &failed):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "[ferry] Some chunks failed after all retries, run the command again to retry them")
		return ExitChunksFailed
	case errors.As(err, &tripped):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "[ferry] Too many consecutive failures, run the command again to retry")
		return ExitChunksFailed
	case errors.Is(err, downloader.ErrRangeNotSupported):
		fmt.Fprintln(os.Stderr, "Error: Server does not support range requests")
		return ExitRangeNotSupported
	case errors.Is(err, ferryhttp.ErrNotFound), errors.Is(err, downloader.ErrSizeUnknown):
		fmt.Fprintf(os.Stderr, "Error accessing source: %v\n", err)
		return ExitSourceNotAccess
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/server"
)

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	var (
		common       commonFlags
		storage      storageFlags
		addr         = fs.String("addr", "", "Listen address (default: :8080)")
		maxChunkSize = fs.String("max-chunk-size", "", "Largest accepted chunk, e.g. 64MiB")
		readTimeout  = fs.Duration("read-timeout", 0, "Per-request read timeout")
		writeTimeout = fs.Duration("write-timeout", 0, "Per-request write timeout")
	)
	common.register(fs)
	storage.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ferry serve [options]

Run the receiving server. Chunks are staged in the staging bucket and merged
into the artifact bucket once every chunk of a file has arrived.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  ferry serve -bucket ./data -metadata badger://./meta
  ferry serve -bucket s3://artifacts?region=eu-west-1 -metadata redis://localhost:6379/0 -codec zstd
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	var override config.Config
	storage.apply(&override.Server)
	override.Server.Addr = *addr
	override.Server.ReadTimeout = *readTimeout
	override.Server.WriteTimeout = *writeTimeout
	if *maxChunkSize != "" {
		n, err := progress.ParseBytes(*maxChunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -max-chunk-size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Server.MaxChunkSize = n
	}

	cfg, logger, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	b, err := openBackend(ctx, cfg.Server, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer b.Close()

	srv := server.New(b.receiver, b.engine, server.Options{
		Addr:            cfg.Server.Addr,
		MaxChunkSize:    cfg.Server.MaxChunkSize,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
	})

	fmt.Fprintf(os.Stderr, "[ferry] Serving on %s (artifacts: %s, staging: %s, metadata: %s)\n",
		cfg.Server.Addr, cfg.Server.Bucket, cfg.Server.StagingBucket(), cfg.Server.Metadata)

	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	return ExitSuccess
}

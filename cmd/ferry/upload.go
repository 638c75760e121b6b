package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ligustah/ferry/internal/chunker"
	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/uploader"
	"github.com/ligustah/ferry/pkg/retry"
)

func runUpload(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)

	var (
		common      commonFlags
		serverURL   = fs.String("server", "", "Server base URL (default: http://localhost:8080)")
		chunkSize   = fs.String("chunk-size", "", "Chunk size, e.g. 2MiB")
		concurrency = fs.Int("concurrency", 0, "Chunks in flight (default: 3)")
		attempts    = fs.Int("retry-attempts", 0, "Attempts per chunk, including the first (default: 3)")
		backoff     = fs.Duration("retry-backoff", 0, "Wait between attempts (default: 1s)")
		resume      = fs.Bool("resume", true, "Ask the server which chunks it already holds")
		showProg    = fs.Bool("progress", true, "Show progress output")
	)
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ferry upload [options] <file>

Send a local file to a ferry server in chunks. Chunks the server already holds
are skipped, so an interrupted upload continues where it stopped.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  ferry upload movie.mp4
  ferry upload -server https://ferry.example.com -chunk-size 8MiB -concurrency 6 backup.tar
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one file is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	path := fs.Arg(0)

	var override config.Config
	override.Client.ServerURL = *serverURL
	override.Client.Concurrency = *concurrency
	override.Client.Retry.Attempts = *attempts
	override.Client.Retry.Backoff = *backoff
	if *chunkSize != "" {
		n, err := progress.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -chunk-size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Client.ChunkSize = n
	}

	cfg, logger, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cl := cfg.Client

	src, err := chunker.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing source: %v\n", err)
		return ExitSourceNotAccess
	}
	defer src.Close()

	var reporter *progress.Reporter
	if *showProg {
		reporter = newReporter("Uploading", path, src.Size(), cl.ChunkSize, cl.Concurrency)
	}

	session := uploader.NewSession(src, newClient(cl, cl.Concurrency), cl.ServerURL, uploader.Options{
		Concurrency: cl.Concurrency,
		Attempts:    cl.Retry.Attempts,
		Delay:       retry.Fixed(cl.Retry.Backoff),
		ChunkSize:   cl.ChunkSize,
		Resume:      *resume,
		Progress:    reporter,
		Logger:      logger,
	})

	if reporter != nil {
		reporter.Start()
	}
	result, err := session.Upload(ctx)
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		return exitCode(err)
	}

	fmt.Fprintf(os.Stderr, "[ferry] Upload complete: %d chunks (%d sent, %d already stored)\n",
		result.Chunks, result.Uploaded, result.Skipped)
	fmt.Println(strings.TrimSuffix(cl.ServerURL, "/") + result.Path)
	return ExitSuccess
}

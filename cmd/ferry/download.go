package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/downloader"
	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/pkg/retry"
)

func runDownload(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	var (
		common      commonFlags
		serverURL   = fs.String("server", "", "Server base URL for artifact paths (default: http://localhost:8080)")
		output      = fs.String("output", "", "Output file, or - for stdout (default: the artifact name)")
		rangeSize   = fs.String("range-size", "", "Bytes per range request, e.g. 2MiB")
		concurrency = fs.Int("concurrency", 0, "Ranges in flight (default: 3)")
		attempts    = fs.Int("retry-attempts", 0, "Attempts per range, including the first (default: 3)")
		maxFailures = fs.Int("max-failures", 0, "Stop after this many consecutive range failures (0 = never)")
		showProg    = fs.Bool("progress", true, "Show progress output")
	)
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ferry download [options] <url or /files/<hash>/<name>>

Fetch a file with parallel range requests. Paths are resolved against -server.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  ferry download /files/3f2a.../movie.mp4
  ferry download -output - https://ferry.example.com/files/3f2a.../backup.tar | tar x
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one URL or artifact path is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var override config.Config
	override.Client.ServerURL = *serverURL
	override.Client.DownloadConcurrency = *concurrency
	override.Client.Retry.Attempts = *attempts
	if *rangeSize != "" {
		n, err := progress.ParseBytes(*rangeSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -range-size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Client.RangeSize = n
	}

	cfg, logger, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cl := cfg.Client

	target, name, err := resolveTarget(cl.ServerURL, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	dest := *output
	if dest == "" {
		dest = name
	}

	opts := downloader.Options{
		Concurrency:            cl.DownloadConcurrency,
		Attempts:               cl.Retry.Attempts,
		Delay:                  retry.Exponential(cl.Retry.Backoff, cl.Retry.MaxBackoff),
		RangeSize:              cl.RangeSize,
		Client:                 newClient(cl, cl.DownloadConcurrency),
		MaxConsecutiveFailures: *maxFailures,
		Logger:                 logger,
	}

	// Probe first so the reporter knows the size.
	info, err := downloader.New(opts).Probe(ctx, target)
	if err != nil {
		return exitCode(err)
	}
	if *showProg && dest != "-" {
		opts.Progress = newReporter("Downloading", target, info.Size, cl.RangeSize, cl.DownloadConcurrency)
		opts.Progress.Start()
	}
	d := downloader.New(opts)

	var written int64
	if dest == "-" {
		// Hide WriteAt: stdout is usually a pipe and must be written in order.
		written, err = d.ToWriter(ctx, target, struct{ io.Writer }{os.Stdout})
	} else {
		written, err = d.ToFile(ctx, target, dest)
	}
	if opts.Progress != nil {
		opts.Progress.Stop()
	}
	if err != nil {
		return exitCode(err)
	}

	if dest != "-" {
		fmt.Fprintf(os.Stderr, "[ferry] Download complete: %s (%s)\n", dest, progress.FormatBytes(written))
	}
	return ExitSuccess
}

// resolveTarget returns the absolute URL of arg and the file name it names.
func resolveTarget(serverURL, arg string) (target, name string, err error) {
	target = arg
	if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
		target = strings.TrimSuffix(serverURL, "/") + "/" + strings.TrimPrefix(arg, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	name = path.Base(u.Path)
	if name == "/" || name == "." {
		return "", "", fmt.Errorf("url %q does not name a file", target)
	}
	return target, name, nil
}

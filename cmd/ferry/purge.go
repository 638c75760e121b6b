package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ligustah/ferry/internal/config"
)

// runPurge removes the staged chunks and chunk records of upload sessions.
// Merged artifacts are left alone. Prompts unless -force is given.
func runPurge(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)

	var common commonFlags
	var storage storageFlags
	common.register(fs)
	storage.register(fs)
	force := fs.Bool("force", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ferry purge [options] <fileHash...>

Remove the staged chunks and chunk records of abandoned upload sessions.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one file hash is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var override config.Config
	storage.apply(&override.Server)
	cfg, logger, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	// Confirm deletion unless -force
	if !*force {
		fmt.Printf("Purge %d session(s) from %s? [y/N]: ", fs.NArg(), cfg.Server.StagingBucket())
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	b, err := openBackend(ctx, cfg.Server, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer b.Close()

	for _, fileHash := range fs.Args() {
		chunks, err := b.staging.DeleteAll(ctx, fileHash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		records, err := b.store.DeleteAll(ctx, fileHash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		fmt.Fprintf(os.Stderr, "[ferry] Purged %s: %d chunks, %d records\n", fileHash, chunks, records)
	}
	return ExitSuccess
}

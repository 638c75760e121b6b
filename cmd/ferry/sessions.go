package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/metadata"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/sharded"
)

// runSessions checks unfinished upload sessions against the staged chunks.
// Only shard attributes are read, never chunk data.
func runSessions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)

	var common commonFlags
	var storage storageFlags
	common.register(fs)
	storage.register(fs)
	complete := fs.Bool("complete", false, "Merge sessions whose chunks have all arrived")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ferry sessions [options] [fileHash...]

Verify that every recorded chunk of each unfinished upload session is staged
with the recorded size. Without arguments every session is checked, and staged
chunk directories that have no records are reported for purging.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	var override config.Config
	storage.apply(&override.Server)
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

	code := ExitSuccess
	hashes := fs.Args()
	if len(hashes) == 0 {
		if hashes, err = b.receiver.Sessions(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		orphaned, err := unrecorded(ctx, b.staging, hashes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		for _, fileHash := range orphaned {
			code = ExitIntegrityFailed
			fmt.Printf("%s: staged chunks without records\n", fileHash)
			fmt.Println("  Status: ORPHANED (remove with purge)")
		}
		if len(hashes) == 0 && len(orphaned) == 0 {
			fmt.Println("No unfinished sessions")
			return ExitSuccess
		}
	}

	for _, fileHash := range hashes {
		records, err := b.store.Find(ctx, fileHash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		if len(records) == 0 {
			fmt.Printf("%s: no records\n", fileHash)
			continue
		}

		parts := make([]sharded.Part, len(records))
		for i, r := range records {
			parts[i] = sharded.Part{Index: r.Index, Size: r.Size}
		}
		result, err := b.staging.Validate(ctx, fileHash, parts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}

		first := records[0]
		expected := transfer.ChunkCount(first.TotalSize, first.ChunkSize)
		fmt.Printf("%s: %s\n", fileHash, first.Filename)
		fmt.Printf("  Chunks: %d/%d | Staged: %d bytes of %d\n", len(records), expected, result.TotalSize, first.TotalSize)

		if !result.Valid {
			code = ExitIntegrityFailed
			fmt.Println("  Status: INVALID")
			fmt.Printf("  Missing chunks: %d | Size mismatches: %d\n", len(result.Missing), len(result.SizeMismatches))
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			continue
		}

		if !transfer.Complete(metadata.Indices(records), first.TotalSize, first.ChunkSize) {
			fmt.Println("  Status: INCOMPLETE")
			continue
		}
		if !*complete {
			fmt.Println("  Status: READY (rerun with -complete to merge)")
			continue
		}
		st, err := b.receiver.Status(ctx, fileHash)
		if err != nil {
			fmt.Println("  Status: MERGE FAILED")
			code = exitCode(err)
			continue
		}
		fmt.Printf("  Status: MERGED %s\n", st.Path)
	}
	return code
}

// unrecorded returns the sessions with staged chunks but no records.
func unrecorded(ctx context.Context, staging *sharded.Store, recorded []string) ([]string, error) {
	staged, err := staging.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(recorded))
	for _, h := range recorded {
		known[h] = true
	}
	var out []string
	for _, h := range staged {
		if !known[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

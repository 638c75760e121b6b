package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/ferry/internal/chunker"
	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/transfer"
)

func runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	var (
		common    commonFlags
		serverURL = fs.String("server", "", "Server base URL (default: http://localhost:8080)")
		file      = fs.String("file", "", "Local file whose upload session to query")
	)
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ferry status [options] <fileHash>
       ferry status [options] -file <path>

Show how many chunks of an upload the server holds.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	var fileHash string
	switch {
	case *file != "" && fs.NArg() == 0:
		src, err := chunker.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error accessing source: %v\n", err)
			return ExitSourceNotAccess
		}
		fileHash = transfer.FileID(src.Name(), src.Size(), src.ModTime())
		src.Close()
	case *file == "" && fs.NArg() == 1:
		fileHash = fs.Arg(0)
	default:
		fmt.Fprintln(os.Stderr, "Error: a file hash or -file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var override config.Config
	override.Client.ServerURL = *serverURL
	cfg, _, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	st, err := newClient(cfg.Client, 1).Status(ctx, cfg.Client.ServerURL, fileHash)
	if err != nil {
		return exitCode(err)
	}

	fmt.Printf("File hash:  %s\n", st.FileHash)
	fmt.Printf("Status:     %s\n", st.Status)
	if st.Expected > 0 {
		fmt.Printf("Chunks:     %d/%d\n", st.Uploaded, st.Expected)
	} else {
		fmt.Printf("Chunks:     %d\n", st.Uploaded)
	}
	if st.ChunkSize > 0 {
		fmt.Printf("Chunk size: %d\n", st.ChunkSize)
	}
	if st.Path != "" {
		fmt.Printf("Path:       %s\n", st.Path)
	}
	return ExitSuccess
}

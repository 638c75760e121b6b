package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitSourceNotAccess   = 3
	ExitRangeNotSupported = 4
	ExitChunksFailed      = 5
	ExitStorageError      = 6
	ExitIntegrityFailed   = 7
	ExitCancelled         = 8
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[ferry] Received interrupt, shutting down...")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		return runServe(ctx, cmdArgs)
	case "upload":
		return runUpload(ctx, cmdArgs)
	case "download":
		return runDownload(ctx, cmdArgs)
	case "list":
		return runList(ctx, cmdArgs)
	case "status":
		return runStatus(ctx, cmdArgs)
	case "sessions":
		return runSessions(ctx, cmdArgs)
	case "purge":
		return runPurge(ctx, cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: ferry <command> [options]

Commands:
  serve     Run the receiving server
  upload    Send a local file to a server in chunks
  download  Fetch a stored file with parallel range requests
  list      List files stored on a server
  status    Show the server-side state of an upload
  sessions  Check unfinished upload sessions in local storage
  purge     Remove the staged chunks and records of an upload session

Configuration is read from -config, FERRY_* environment variables and .env.
Run 'ferry <command> -h' for command-specific help.`)
}

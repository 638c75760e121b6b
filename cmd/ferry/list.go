package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/progress"
)

func runList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	var (
		common    commonFlags
		serverURL = fs.String("server", "", "Server base URL (default: http://localhost:8080)")
		asJSON    = fs.Bool("json", false, "Print the listing as JSON")
	)
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ferry list [options]

List the files stored on a ferry server.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	var override config.Config
	override.Client.ServerURL = *serverURL
	cfg, _, err := common.load(override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	files, err := newClient(cfg.Client, 1).ListFiles(ctx, cfg.Client.ServerURL)
	if err != nil {
		return exitCode(err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(files); err != nil {
			return exitCode(err)
		}
		return ExitSuccess
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tTYPE\tCREATED\tPATH")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.Filename, progress.FormatBytes(f.Size), f.Type, f.CreatedAt.Format("2006-01-02 15:04"), f.Path)
	}
	tw.Flush()
	return ExitSuccess
}

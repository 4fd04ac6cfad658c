// Command signer-log views and analyzes signer session event logs.
//
// Log files are written by signer-session when it runs with the -event-log
// flag.
//
// Usage:
//
//	signer-log <command> [flags] <file.slog>
//
// Commands:
//
//	view     View log file in human-readable format
//	stats    Show statistics about the log file
//	export   Export log file to JSON lines or CSV
//
// Examples:
//
//	# View all events
//	signer-log view session.slog
//
//	# View only state changes of one device
//	signer-log view -category state -device sim://0 session.slog
//
//	# Show statistics
//	signer-log stats session.slog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/TripleSpeeder/frame/cmd/signer-log/commands"
)

const usage = `signer-log - Signer Session Log Analyzer

Usage:
  signer-log <command> [flags] <file.slog>

Commands:
  view     View log file in human-readable format
  stats    Show statistics about the log file
  export   Export log file to JSON lines or CSV

Use "signer-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "export":
		runExport(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet builds a flag set with the shared filter flags.
func newFlagSet(name, summary string, opts *commands.FilterOptions) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "signer-log %s - %s\n\nUsage:\n  signer-log %s [flags] <file.slog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.SessionID, "session", "", "Filter by session ID")
	fs.StringVar(&opts.DevicePath, "device", "", "Filter by device path")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (state, request, error, published)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	return fs
}

// logPath parses args and returns the log file argument.
func logPath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("view", "View log file in human-readable format", &opts)
	path := logPath(fs, args)

	if err := commands.RunView(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("stats", "Show statistics about the log file", &opts)
	path := logPath(fs, args)

	if err := commands.RunStats(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("export", "Export log file to JSON lines or CSV", &opts)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := logPath(fs, args)

	if err := commands.RunExport(path, *format, *output, opts); err != nil {
		fail(err)
	}
}

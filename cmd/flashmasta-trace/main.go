// Command flashmasta-trace is a tool for viewing and analyzing flashmasta
// event trace files.
//
// Trace files are created by running flashmasta with the -trace flag.
//
// Usage:
//
//	flashmasta-trace <command> [flags] <file.flog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSONL
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	flashmasta-trace view hotplug.flog
//
//	# View only claim/release events for one device
//	flashmasta-trace view -category CLAIM -device ab12 hotplug.flog
//
//	# Export to JSONL
//	flashmasta-trace export hotplug.flog
//
//	# Show statistics
//	flashmasta-trace stats hotplug.flog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/retroflash/flashmasta-go/cmd/flashmasta-trace/commands"
)

const usage = `flashmasta-trace - event trace analyzer

Usage:
  flashmasta-trace <command> [flags] <file.flog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSONL
  stats    Show statistics about the trace file

Use "flashmasta-trace <command> -help" for more information about a command.
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
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	category := fs.String("category", "", "Filter by category (e.g. CLAIM, ERASE_POLL)")
	device := fs.String("device", "", "Filter by device id prefix")
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.RunView(path, *category, *device, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "view:", err)
		os.Exit(1)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.RunExport(path, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.RunStats(path, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "stats:", err)
		os.Exit(1)
	}
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one trace file argument")
		os.Exit(1)
	}
	return fs.Arg(0)
}

// Pikkactl is the command-line client for a running pikkad. It queries the
// daemon over HTTP, streams aggregated console entries over the relay, and
// can act as a producer itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/pikka-console/internal/ctl"
	"github.com/large-farva/pikka-console/internal/observability"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8992", "pikkad URL (e.g. http://192.168.8.1:8992)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		verbose = pflag.BoolP("verbose", "V", false, "Log connection details to stderr")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --level are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := observability.NewLogger(level, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Tab, "tab", "all", "Tab to show (all, log, info, warn, error)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream new entries (like watch)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(ctx, *host, opts)

	// ── Control commands ──────────────────────────────────────────
	case "clear":
		err = ctl.Clear(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{JSON: *jsonOut, Logger: logger}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Levels, "level", nil, "Buckets to show (e.g. --level warn,error)")
		watchFlags.BoolVar(&opts.Dedup, "dedup", false, "Hide repeats of an entry already shown")
		_ = watchFlags.Parse(subArgs)
		err = ctl.Watch(ctx, *host, opts)

	// ── Producer ──────────────────────────────────────────────────
	case "emit":
		opts := ctl.EmitOptions{Logger: logger}
		emitFlags := pflag.NewFlagSet("emit", pflag.ContinueOnError)
		emitFlags.StringVar(&opts.PageURL, "page", "http://localhost/pikkactl", "Page URL stamped on entries")
		emitFlags.StringVar(&opts.Level, "level", "log", "Console level for a single message")
		emitFlags.IntVar(&opts.Count, "count", 0, "Demo steps to play (0 = until Ctrl-C)")
		emitFlags.DurationVar(&opts.Interval, "interval", time.Second, "Delay between demo steps")
		emitFlags.BoolVar(&opts.Echo, "echo", false, "Print what the page writes to its console")
		_ = emitFlags.Parse(subArgs)
		opts.Message = strings.Join(emitFlags.Args(), " ")
		err = ctl.Emit(ctx, *host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  pikkactl: pikka-console control CLI

  USAGE
    pikkactl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, relay clients, and entry counts
    health          Check daemon liveness
    version         Show CLI and daemon version information
    logs            Show the entries the viewer has aggregated

  COMMANDS (control)
    clear           Empty the viewer's aggregated entries

  COMMANDS (live)
    watch           Stream entries from the relay (Ctrl-C to stop)
    emit            Send entries to the relay from a simulated page

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8992)
        --json          Output raw JSON instead of formatted text
    -V, --verbose       Log connection details to stderr

  COMMAND FLAGS
    logs:
        --tab TAB           all, log, info, warn or error (default: all)
        --limit N           Limit number of entries shown
        --tail              Stream new entries

    watch:
        --level LEVELS      Buckets to show (comma-separated)
        --dedup             Hide repeats of an entry already shown

    emit [MESSAGE...]:
        --level LEVEL       Console level for MESSAGE (default: log)
        --page URL          Page URL stamped on entries
        --count N           Demo steps to play when no MESSAGE is given
        --interval D        Delay between demo steps (default: 1s)
        --echo              Print the page's own console output

  EXAMPLES
    pikkactl status
    pikkactl --json status
    pikkactl --host http://192.168.8.1:8992 watch
    pikkactl watch --level warn,error
    pikkactl logs --tab error --limit 20
    pikkactl logs --tail
    pikkactl clear
    pikkactl emit --level warn disk almost full
    pikkactl emit --count 9 --interval 200ms

`)
}

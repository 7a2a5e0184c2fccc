package ctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/render"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Tab   string // all, log, info, warn or error
	Limit int
	Tail  bool
	JSON  bool
}

// Logs prints the entries the daemon's viewer has aggregated, the same rows
// a tab of the web viewer shows. With Tail it streams new entries instead.
func Logs(ctx context.Context, baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")
	tab := render.Tab(opts.Tab)
	if tab == "" {
		tab = render.TabAll
	}
	if !tab.Valid() {
		return errors.Errorf("unknown tab %q", opts.Tab)
	}

	if opts.Tail {
		var levels []string
		if tab != render.TabAll {
			levels = []string{string(tab)}
		}
		return Watch(ctx, baseURL, WatchOptions{Levels: levels, JSON: opts.JSON})
	}

	var s consumer.Snapshot
	if err := getJSON(baseURL, "/api/snapshot", &s); err != nil {
		return err
	}

	rows := render.Rows(s, tab)
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	if opts.JSON {
		return printJSON(rows)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s %s\n", header("  "+strings.ToUpper(tab.Title())), colorize(dim, fmt.Sprintf("(%d of %d)", len(rows), render.Count(s, tab))))
	fmt.Fprintln(stdout, rule(70))
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "  No entries.")
	}
	for _, r := range rows {
		fmt.Fprint(stdout, formatRow(r))
	}
	fmt.Fprintln(stdout)
	return nil
}

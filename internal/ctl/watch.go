package ctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/render"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/transport"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Levels []string // buckets to show (log, info, warn, error); empty = all
	JSON   bool     // print each entry as its wire frame
	Dedup  bool     // suppress repeats of an already stored entry
	Logger zerolog.Logger
}

var watchTabs = []render.Tab{render.TabLog, render.TabInfo, render.TabWarn, render.TabError}

// Watch joins the daemon's relay as a viewer and prints every entry it
// aggregates until ctx is cancelled.
func Watch(ctx context.Context, baseURL string, opts WatchOptions) error {
	url, err := relayURL(baseURL)
	if err != nil {
		return err
	}
	show, err := levelFilter(opts.Levels)
	if err != nil {
		return err
	}

	sock := transport.DialSocket(ctx, transport.SocketOptions{URL: url, Logger: opts.Logger})
	copts := []consumer.Option{consumer.WithLogger(opts.Logger)}
	if opts.Dedup {
		copts = append(copts, consumer.WithDedup())
	}
	c := consumer.New(sock, copts...)
	defer c.CleanUp()

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s\n", colorize(green, "watching"), colorize(dim, url))
		if len(opts.Levels) > 0 {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "levels:"), colorize(dim, strings.Join(opts.Levels, ", ")))
		}
		fmt.Fprintln(stdout, rule(50))
		fmt.Fprintln(stdout)
	}

	w := &watcher{c: c, show: show, json: opts.JSON, seen: map[render.Tab]int{}}
	c.OnUpdate(w.flush)

	<-ctx.Done()
	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, colorize(dim, "  disconnecting..."))
	}
	return nil
}

func levelFilter(levels []string) (map[render.Tab]bool, error) {
	show := make(map[render.Tab]bool, len(watchTabs))
	if len(levels) == 0 {
		for _, t := range watchTabs {
			show[t] = true
		}
		return show, nil
	}
	for _, l := range levels {
		t := render.Tab(strings.ToLower(strings.TrimSpace(l)))
		if !t.Valid() || t == render.TabAll {
			return nil, errors.Errorf("unknown level %q (want log, info, warn or error)", l)
		}
		show[t] = true
	}
	return show, nil
}

// watcher prints the entries a consumer gained since the previous update.
type watcher struct {
	mu   sync.Mutex
	c    *consumer.Consumer
	show map[render.Tab]bool
	json bool
	seen map[render.Tab]int
}

func (w *watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.c.Snapshot()
	for _, tab := range watchTabs {
		n := render.Count(s, tab)
		start := w.seen[tab]
		w.seen[tab] = n
		if start >= n || !w.show[tab] {
			continue
		}
		if w.json {
			for i := start; i < n; i++ {
				if frame, err := encodeEntry(s, tab, i); err == nil {
					fmt.Fprintln(stdout, string(frame))
				}
			}
			continue
		}
		for _, r := range render.Rows(s, tab)[start:n] {
			fmt.Fprint(stdout, formatRow(r))
		}
	}
}

func encodeEntry(s consumer.Snapshot, tab render.Tab, i int) ([]byte, error) {
	if tab == render.TabError {
		return telemetry.EncodeError(s.Error[i])
	}
	return telemetry.EncodeConsole(s.Bucket(telemetry.Level(tab))[i])
}

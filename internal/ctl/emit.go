package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/demo"
	"github.com/large-farva/pikka-console/internal/page"
	"github.com/large-farva/pikka-console/internal/producer"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/transport"
)

var flushTimeout = 5 * time.Second

// EmitOptions configures the emit command.
type EmitOptions struct {
	PageURL string // source URL stamped on every entry

	// Level and Message send a single console entry. When Message is empty
	// the demo scenarios are played instead.
	Level   string
	Message string

	Count    int // demo steps to play; 0 plays until ctx is cancelled
	Interval time.Duration
	Echo     bool // also print what the page writes to its console

	Logger zerolog.Logger
}

// Emit attaches a producer to a simulated page and feeds the daemon's
// relay from it. Queued entries are flushed before it returns.
func Emit(ctx context.Context, baseURL string, opts EmitOptions) error {
	url, err := relayURL(baseURL)
	if err != nil {
		return err
	}
	level := telemetry.Level(opts.Level)
	if level == "" {
		level = telemetry.LevelLog
	}
	if !level.Valid() {
		return errors.Errorf("unknown level %q", opts.Level)
	}

	var out, errOut io.Writer = io.Discard, io.Discard
	if opts.Echo {
		out, errOut = stdout, stdout
	}
	p, err := page.New(opts.PageURL,
		page.WithConsole(console.New(out, errOut)),
		page.WithLogger(opts.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "page")
	}

	sock := transport.DialSocket(ctx, transport.SocketOptions{URL: url, Logger: opts.Logger})
	prod := producer.New(p, sock, producer.WithLogger(opts.Logger))
	prod.Start()
	defer prod.Stop()

	if opts.Message != "" {
		p.Console().Method(level)(opts.Message)
		return waitFlushed(ctx, sock)
	}

	r := demo.New(p)
	if opts.Interval > 0 {
		r.Interval = opts.Interval
	}
	if opts.Count <= 0 {
		r.Run(ctx, func(name string) {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "emitted"), name)
		})
		return nil
	}

	for i := 0; i < opts.Count; i++ {
		if i > 0 && !sleepCtx(ctx, r.Interval) {
			break
		}
		fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "emitted"), r.Step())
	}
	return waitFlushed(ctx, sock)
}

// waitFlushed blocks until the socket has written every queued frame.
func waitFlushed(ctx context.Context, sock *transport.Socket) error {
	deadline := time.NewTimer(flushTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for sock.Pending() > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return errors.Errorf("relay unreachable, %d entries not delivered", sock.Pending())
		case <-tick.C:
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package intercept captures console log, info and warn calls from a page.
// Each call is turned into a telemetry.ConsoleEvent, handed to a sink, and
// then passed on to the original method so normal output is unaffected.
// console.Error is deliberately left alone; the error collector owns it.
package intercept

import (
	"sync"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/serialize"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

// Host is what the interceptor needs from the monitored page.
type Host interface {
	Console() *console.Console
	Source() telemetry.Source
}

// Sink receives every captured console event.
type Sink func(telemetry.ConsoleEvent)

var interceptedLevels = []telemetry.Level{
	telemetry.LevelLog,
	telemetry.LevelInfo,
	telemetry.LevelWarn,
}

// Interceptor patches log, info and warn on a host console. Start and Stop
// are reference counted: the patches go in on the first Start and come out
// when the matching number of Stops has been made. Extra Stops are no-ops.
type Interceptor struct {
	host Host
	sink Sink

	mu     sync.Mutex
	refs   int
	layers []*console.Layer
}

// New creates an interceptor for host that reports to sink.
func New(host Host, sink Sink) *Interceptor {
	return &Interceptor{host: host, sink: sink}
}

// Start installs the patches, or adds a reference when already started.
func (i *Interceptor) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs++
	if i.refs > 1 {
		return
	}
	c := i.host.Console()
	for _, lvl := range interceptedLevels {
		i.layers = append(i.layers, c.Patch(lvl, i.wrap(lvl)))
	}
}

// Stop drops a reference and restores the original methods once none are
// left.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.refs == 0 {
		return
	}
	i.refs--
	if i.refs > 0 {
		return
	}
	for _, l := range i.layers {
		l.Remove()
	}
	i.layers = nil
}

// Active reports whether the patches are installed.
func (i *Interceptor) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs > 0
}

func (i *Interceptor) wrap(level telemetry.Level) console.Wrap {
	return func(next console.Method) console.Method {
		return func(args ...any) {
			i.capture(level, args)
			next(args...)
		}
	}
}

// capture builds and delivers the event. Any failure on this path is
// reported through the unpatched console error method and swallowed.
func (i *Interceptor) capture(level telemetry.Level, args []any) {
	defer func() {
		if r := recover(); r != nil {
			i.host.Console().Base(telemetry.LevelError)("pikka: console capture failed:", serialize.Value(r))
		}
	}()
	i.sink(telemetry.ConsoleEvent{
		Level:     level,
		Message:   serialize.Join(args...),
		RawArgs:   args,
		Timestamp: telemetry.NowMillis(),
		Source:    i.host.Source(),
	})
}

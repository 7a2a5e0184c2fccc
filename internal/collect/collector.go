// Package collect captures every error a page produces: console.Error calls,
// uncaught panics, failed resource loads and unhandled rejections. All of
// them are normalized into telemetry.ErrorEvent before reaching the sink.
//
// The collector forwards every occurrence. Repeated identical errors are not
// suppressed here; a consumer that wants deduplication opts into it.
package collect

import (
	"fmt"
	"sync"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/page"
	"github.com/large-farva/pikka-console/internal/serialize"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

// RejectionPrefix starts the message of a rejection whose reason is not an
// error value.
const RejectionPrefix = "Promise UnhandledRejection: "

// Host is what the collector needs from the monitored page.
type Host interface {
	Console() *console.Console
	Source() telemetry.Source
	OnError(func(*page.ErrorEvent)) (remove func())
	OnRejection(func(*page.RejectionEvent)) (remove func())
}

// Sink receives every captured error event.
type Sink func(telemetry.ErrorEvent)

// Collector owns the console error slot and the page's error and rejection
// listeners while started. Start and Stop are reference counted like the
// interceptor's.
type Collector struct {
	host Host
	sink Sink

	mu           sync.Mutex
	refs         int
	layer        *console.Layer
	removeError  func()
	removeReject func()
}

// New creates a collector for host that reports to sink.
func New(host Host, sink Sink) *Collector {
	return &Collector{host: host, sink: sink}
}

// Start patches console.Error and registers the page listeners.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
	if c.refs > 1 {
		return
	}
	c.layer = c.host.Console().Patch(telemetry.LevelError, c.wrapError)
	c.removeError = c.host.OnError(c.handleError)
	c.removeReject = c.host.OnRejection(c.handleRejection)
}

// Stop drops a reference; the last one restores console.Error and removes
// both listeners.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	c.layer.Remove()
	c.removeError()
	c.removeReject()
	c.layer, c.removeError, c.removeReject = nil, nil, nil
}

// Active reports whether the collector is installed.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs > 0
}

func (c *Collector) wrapError(next console.Method) console.Method {
	return func(args ...any) {
		c.emit(func() telemetry.ErrorEvent { return FromConsole(args) })
		next(args...)
	}
}

func (c *Collector) handleError(ev *page.ErrorEvent) {
	c.emit(func() telemetry.ErrorEvent { return FromPageError(ev) })
}

func (c *Collector) handleRejection(ev *page.RejectionEvent) {
	c.emit(func() telemetry.ErrorEvent { return FromRejection(ev) })
}

// emit stamps the source and delivers the event, swallowing any failure on
// the capture path.
func (c *Collector) emit(build func() telemetry.ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.host.Console().Base(telemetry.LevelError)("pikka: error capture failed:", serialize.Value(r))
		}
	}()
	ev := build()
	if ev.Timestamp == 0 {
		ev.Timestamp = telemetry.NowMillis()
	}
	ev.Source = c.host.Source()
	c.sink(ev)
}

// FromConsole normalizes a console.Error call. When the first argument is an
// error its name, stack and cause are used; otherwise the name is "Error".
// The message is every argument serialized and joined, with an error first
// argument contributing its plain message.
func FromConsole(args []any) telemetry.ErrorEvent {
	ev := telemetry.ErrorEvent{Name: "Error", Message: serialize.Join(args...)}
	if len(args) == 0 {
		return ev
	}
	if err, ok := args[0].(error); ok && err != nil {
		ev.Name = serialize.ErrorName(err)
		ev.Message = err.Error()
		if len(args) > 1 {
			ev.Message += " " + serialize.Join(args[1:]...)
		}
		ev.Stack = serialize.ErrorStack(err)
		ev.Cause = serialize.ErrorCause(err)
		return ev
	}
	for _, a := range args[1:] {
		if err, ok := a.(error); ok && err != nil {
			ev.Stack = serialize.ErrorStack(err)
			ev.Cause = serialize.ErrorCause(err)
			break
		}
	}
	return ev
}

// FromPageError normalizes an uncaught error event. Events with a failing
// target are resource failures; everything else is a runtime error.
func FromPageError(ev *page.ErrorEvent) telemetry.ErrorEvent {
	out := telemetry.ErrorEvent{Name: "Error", Timestamp: ev.Timestamp}

	if ev.Target != nil {
		out.Message = page.ResourceMessage(ev.Target)
		if ev.Target.Err != nil {
			out.Cause = ev.Target.Err.Error()
		}
		return out
	}

	out.Message = ev.Message
	out.Stack = ev.Stack
	if err, ok := ev.Value.(error); ok && err != nil {
		out.Name = serialize.ErrorName(err)
		out.Cause = serialize.ErrorCause(err)
		if out.Stack == "" {
			out.Stack = serialize.ErrorStack(err)
		}
	}
	if out.Stack == "" && ev.Filename != "" {
		out.Stack = fmt.Sprintf("%s:%d:%d", ev.Filename, ev.Lineno, ev.Colno)
	}
	return out
}

// FromRejection normalizes an unhandled rejection. A non-error reason gets
// the RejectionPrefix in front of its serialized form.
func FromRejection(ev *page.RejectionEvent) telemetry.ErrorEvent {
	out := telemetry.ErrorEvent{Name: "Error", Timestamp: ev.Timestamp}
	if err, ok := ev.Reason.(error); ok && err != nil {
		out.Name = serialize.ErrorName(err)
		out.Message = err.Error()
		out.Stack = serialize.ErrorStack(err)
		out.Cause = serialize.ErrorCause(err)
		return out
	}
	out.Message = RejectionPrefix + serialize.Value(ev.Reason)
	return out
}

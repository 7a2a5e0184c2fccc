// Package page models the monitored application as a host "window": it has a
// location, a console, and two global event streams, one for uncaught errors
// (runtime panics and failed resource loads) and one for unhandled
// rejections (tasks that returned an error nobody handled). Capture code
// attaches listeners to these streams; the page itself never lets a task
// failure take down the process.
package page

import (
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/serialize"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

// Resource identifies the target of a failed load, the equivalent of the
// element whose image, script or stylesheet could not be fetched.
type Resource struct {
	Tag    string // IMG, SCRIPT, LINK, FETCH, ...
	URL    string
	Status int   // HTTP status when the server answered
	Err    error // transport error when it did not
}

// ErrorEvent is dispatched for every uncaught error. Runtime errors carry
// Message, Filename and Lineno; resource failures carry a Target instead.
type ErrorEvent struct {
	Message   string
	Filename  string
	Lineno    int
	Colno     int
	Value     any // the panic value, when there was one
	Stack     string
	Target    *Resource
	Timestamp int64
}

// RejectionEvent is dispatched when a task fails and nothing handles it.
type RejectionEvent struct {
	Reason    any
	Timestamp int64
}

// Option configures a Page.
type Option func(*Page)

// WithConsole replaces the page's console (stdout/stderr by default).
func WithConsole(c *console.Console) Option {
	return func(p *Page) { p.console = c }
}

// WithTabID sets the opaque tab identifier stamped on every event source.
func WithTabID(id string) Option {
	return func(p *Page) { p.tabID = id }
}

// WithLogger sets the page's diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Page) { p.log = l }
}

// Page is a monitored application instance.
type Page struct {
	location *url.URL
	tabID    string
	console  *console.Console
	log      zerolog.Logger

	mu         sync.RWMutex
	nextID     int
	onError    map[int]func(*ErrorEvent)
	onReject   map[int]func(*RejectionEvent)
	background sync.WaitGroup
}

// New creates a page located at rawURL.
func New(rawURL string, opts ...Option) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse page url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("page url %q must be absolute", rawURL)
	}

	p := &Page{
		location: u,
		tabID:    uuid.NewString(),
		log:      zerolog.Nop(),
		onError:  make(map[int]func(*ErrorEvent)),
		onReject: make(map[int]func(*RejectionEvent)),
	}
	for _, o := range opts {
		o(p)
	}
	if p.console == nil {
		p.console = console.Std()
	}
	return p, nil
}

// Console returns the page console.
func (p *Page) Console() *console.Console { return p.console }

// Source describes this page for event metadata: URL is path, query and
// fragment; Origin is scheme, host and port.
func (p *Page) Source() telemetry.Source {
	rel := url.URL{
		Path:     p.location.Path,
		RawPath:  p.location.RawPath,
		RawQuery: p.location.RawQuery,
		Fragment: p.location.Fragment,
	}
	path := rel.String()
	if p.location.Path == "" {
		path = "/" + path
	}
	return telemetry.Source{
		URL:    path,
		Origin: p.location.Scheme + "://" + p.location.Host,
		TabID:  p.tabID,
	}
}

// OnError registers fn for uncaught errors and returns a func that
// unregisters it.
func (p *Page) OnError(fn func(*ErrorEvent)) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onError[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.onError, id)
	}
}

// OnRejection registers fn for unhandled rejections and returns a func that
// unregisters it.
func (p *Page) OnRejection(fn func(*RejectionEvent)) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onReject[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.onReject, id)
	}
}

// DispatchError delivers ev to every error listener. With no listener it is
// printed through the unpatched console error method, the way a browser
// reports an uncaught error without going through console.error.
func (p *Page) DispatchError(ev *ErrorEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = telemetry.NowMillis()
	}
	p.mu.RLock()
	listeners := make([]func(*ErrorEvent), 0, len(p.onError))
	for _, fn := range p.onError {
		listeners = append(listeners, fn)
	}
	p.mu.RUnlock()

	for _, fn := range listeners {
		p.safely(func() { fn(ev) })
	}
	if len(listeners) == 0 {
		p.console.Base(telemetry.LevelError)("Uncaught", describeError(ev))
	}
}

// DispatchRejection delivers ev to every rejection listener, or prints it
// through the unpatched console error method when nobody listens.
func (p *Page) DispatchRejection(ev *RejectionEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = telemetry.NowMillis()
	}
	p.mu.RLock()
	listeners := make([]func(*RejectionEvent), 0, len(p.onReject))
	for _, fn := range p.onReject {
		listeners = append(listeners, fn)
	}
	p.mu.RUnlock()

	for _, fn := range listeners {
		p.safely(func() { fn(ev) })
	}
	if len(listeners) == 0 {
		p.console.Base(telemetry.LevelError)("Uncaught (in promise)", serialize.Value(ev.Reason))
	}
}

// safely runs a listener so that a failing listener cannot break dispatch
// to the others or the page task that triggered it.
func (p *Page) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("page listener panicked")
		}
	}()
	fn()
}

func describeError(ev *ErrorEvent) string {
	if ev.Target != nil {
		return ResourceMessage(ev.Target)
	}
	return ev.Message
}

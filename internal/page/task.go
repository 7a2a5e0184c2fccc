package page

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/large-farva/pikka-console/internal/serialize"
)

// Run executes task on the calling goroutine. A panic becomes an uncaught
// error event and a returned error becomes an unhandled rejection; neither
// propagates to the caller.
func (p *Page) Run(task func() error) {
	defer func() {
		if r := recover(); r != nil {
			file, line := panicSite()
			ev := &ErrorEvent{
				Filename: file,
				Lineno:   line,
				Value:    r,
				Stack:    string(debug.Stack()),
			}
			if err, ok := r.(error); ok {
				ev.Message = err.Error()
			} else {
				ev.Message = serialize.Value(r)
			}
			p.DispatchError(ev)
		}
	}()

	if err := task(); err != nil {
		p.DispatchRejection(&RejectionEvent{Reason: err})
	}
}

// Go runs task in the background with the same failure handling as Run.
func (p *Page) Go(task func() error) {
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		p.Run(task)
	}()
}

// Wait blocks until every task started with Go has finished.
func (p *Page) Wait() {
	p.background.Wait()
}

// ResourceFailed reports a resource that could not be loaded.
func (p *Page) ResourceFailed(res Resource) {
	p.DispatchError(&ErrorEvent{Target: &res})
}

// RoundTripper wraps base so that failed requests and HTTP error statuses
// are reported as resource failures. The response and error returned to the
// caller are untouched. A nil base means http.DefaultTransport.
func (p *Page) RoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &resourceTripper{page: p, base: base}
}

type resourceTripper struct {
	page *Page
	base http.RoundTripper
}

func (rt *resourceTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	switch {
	case err != nil:
		rt.page.ResourceFailed(Resource{Tag: "FETCH", URL: req.URL.String(), Err: err})
	case resp.StatusCode >= http.StatusBadRequest:
		rt.page.ResourceFailed(Resource{Tag: "FETCH", URL: req.URL.String(), Status: resp.StatusCode})
	}
	return resp, err
}

// ResourceMessage is the human-readable description of a failed load.
func ResourceMessage(res *Resource) string {
	msg := fmt.Sprintf("failed to load %s %s", strings.ToUpper(res.Tag), res.URL)
	switch {
	case res.Status != 0:
		msg += fmt.Sprintf(" (HTTP %d)", res.Status)
	case res.Err != nil:
		msg += ": " + res.Err.Error()
	}
	return msg
}

// panicSite returns the file and line of the frame that panicked. It must be
// called from the deferred recover handler.
func panicSite() (string, int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		f, more := frames.Next()
		if f.Function == "runtime.gopanic" {
			seenPanic = true
		} else if seenPanic && !strings.HasPrefix(f.Function, "runtime.") {
			return f.File, f.Line
		}
		if !more {
			return "", 0
		}
	}
}

package collect

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/page"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }

func newPage(t *testing.T) (*page.Page, *bytes.Buffer) {
	t.Helper()
	var errOut bytes.Buffer
	p, err := page.New("http://localhost:5173/dash#logs",
		page.WithConsole(console.New(&bytes.Buffer{}, &errOut)),
		page.WithTabID("tab-9"),
	)
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return p, &errOut
}

func collect(t *testing.T, p *page.Page) (*Collector, *[]telemetry.ErrorEvent) {
	t.Helper()
	var events []telemetry.ErrorEvent
	c := New(p, func(ev telemetry.ErrorEvent) { events = append(events, ev) })
	c.Start()
	t.Cleanup(c.Stop)
	return c, &events
}

func TestUncaughtPanicProducesOneErrorEvent(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	p.Run(func() error {
		panic(&TypeError{msg: "bad arg"})
	})

	if len(*events) != 1 {
		t.Fatalf("got %d events, want exactly 1", len(*events))
	}
	ev := (*events)[0]
	if ev.Name != "TypeError" || ev.Message != "bad arg" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Stack == "" {
		t.Error("stack must not be empty")
	}
	if ev.Source.URL != "/dash#logs" || ev.Source.TabID != "tab-9" {
		t.Errorf("source = %+v", ev.Source)
	}
}

func TestConsoleErrorWithError(t *testing.T) {
	p, errOut := newPage(t)
	_, events := collect(t, p)

	cause := errors.New("connection refused")
	p.Console().Error(errors.Wrap(cause, "fetch user"), "retrying")

	if len(*events) != 1 {
		t.Fatalf("got %d events", len(*events))
	}
	ev := (*events)[0]
	if ev.Name != "Error" || ev.Message != "fetch user: connection refused retrying" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Stack == "" || ev.Cause != "connection refused" {
		t.Errorf("stack/cause = %q / %q", ev.Stack, ev.Cause)
	}
	if !strings.Contains(errOut.String(), "retrying") {
		t.Error("original console.Error output missing")
	}
}

func TestConsoleErrorWithPlainValues(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	p.Console().Error("quota", map[string]int{"used": 3})

	ev := (*events)[0]
	if ev.Name != "Error" || ev.Message != `quota {"used":3}` {
		t.Errorf("event = %+v", ev)
	}
}

func TestResourceFailure(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	p.ResourceFailed(page.Resource{Tag: "img", URL: "https://cdn.example/logo.png", Status: 404})

	ev := (*events)[0]
	if ev.Name != "Error" || !strings.Contains(ev.Message, "IMG https://cdn.example/logo.png") {
		t.Errorf("event = %+v", ev)
	}
}

func TestRejections(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	p.DispatchRejection(&page.RejectionEvent{Reason: "nope"})
	p.DispatchRejection(&page.RejectionEvent{Reason: nil})
	p.Run(func() error { return &TypeError{msg: "typed"} })

	got := *events
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].Message != RejectionPrefix+"nope" || got[0].Name != "Error" {
		t.Errorf("string reason = %+v", got[0])
	}
	if got[1].Message != RejectionPrefix+"undefined" {
		t.Errorf("nil reason = %+v", got[1])
	}
	if got[2].Name != "TypeError" || got[2].Message != "typed" {
		t.Errorf("error reason = %+v", got[2])
	}
}

func TestNoDeduplication(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	for i := 0; i < 3; i++ {
		p.ResourceFailed(page.Resource{Tag: "script", URL: "/app.js"})
	}
	if len(*events) != 3 {
		t.Errorf("got %d events, want every occurrence", len(*events))
	}
}

func TestStopRemovesEverything(t *testing.T) {
	p, errOut := newPage(t)
	calls := 0
	c := New(p, func(telemetry.ErrorEvent) { calls++ })
	c.Stop()
	c.Start()
	c.Stop()
	c.Stop()

	if p.Console().Depth(telemetry.LevelError) != 0 {
		t.Error("console.Error should be restored")
	}
	p.Console().Error("x")
	p.ResourceFailed(page.Resource{Tag: "img", URL: "/a.png"})
	p.DispatchRejection(&page.RejectionEvent{Reason: "r"})
	if calls != 0 {
		t.Errorf("sink called %d times after Stop", calls)
	}
	if !strings.Contains(errOut.String(), "Uncaught") {
		t.Error("with no collector the page should report uncaught errors itself")
	}
}

func TestConsoleErrorNotDoubleCountedForUncaught(t *testing.T) {
	p, _ := newPage(t)
	_, events := collect(t, p)

	p.Run(func() error { panic("once") })
	if len(*events) != 1 {
		t.Errorf("got %d events, want 1", len(*events))
	}
}

func TestSinkPanicIsSwallowed(t *testing.T) {
	p, errOut := newPage(t)
	c := New(p, func(telemetry.ErrorEvent) { panic("sink down") })
	c.Start()
	defer c.Stop()

	p.Console().Error("still printed")
	if !strings.Contains(errOut.String(), "still printed") || !strings.Contains(errOut.String(), "sink down") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

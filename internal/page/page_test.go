package page

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/large-farva/pikka-console/internal/console"
)

func newTestPage(t *testing.T, rawURL string) (*Page, *bytes.Buffer) {
	t.Helper()
	var errOut bytes.Buffer
	p, err := New(rawURL,
		WithConsole(console.New(&bytes.Buffer{}, &errOut)),
		WithTabID("tab-1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, &errOut
}

func TestSource(t *testing.T) {
	tests := []struct {
		url        string
		wantURL    string
		wantOrigin string
	}{
		{"http://localhost:5173/app/view?id=3#top", "/app/view?id=3#top", "http://localhost:5173"},
		{"https://example.com", "/", "https://example.com"},
		{"https://example.com?x=1", "/?x=1", "https://example.com"},
	}
	for _, tt := range tests {
		p, _ := newTestPage(t, tt.url)
		src := p.Source()
		if src.URL != tt.wantURL || src.Origin != tt.wantOrigin || src.TabID != "tab-1" {
			t.Errorf("Source(%s) = %+v", tt.url, src)
		}
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("/just/a/path"); err == nil {
		t.Fatal("expected an error for a relative url")
	}
}

func TestNewAssignsTabID(t *testing.T) {
	a, _ := New("http://localhost")
	b, _ := New("http://localhost")
	if a.Source().TabID == "" || a.Source().TabID == b.Source().TabID {
		t.Errorf("tab ids should be unique and non-empty: %q %q", a.Source().TabID, b.Source().TabID)
	}
}

func TestRunPanicBecomesErrorEvent(t *testing.T) {
	p, _ := newTestPage(t, "http://localhost/")
	var got []*ErrorEvent
	remove := p.OnError(func(ev *ErrorEvent) { got = append(got, ev) })
	defer remove()

	p.Run(func() error {
		panic(errors.New("bad arg"))
	})

	if len(got) != 1 {
		t.Fatalf("got %d error events, want 1", len(got))
	}
	ev := got[0]
	if ev.Message != "bad arg" || ev.Target != nil {
		t.Errorf("event = %+v", ev)
	}
	if !strings.HasSuffix(ev.Filename, "page_test.go") || ev.Lineno == 0 {
		t.Errorf("panic site = %s:%d", ev.Filename, ev.Lineno)
	}
	if ev.Stack == "" || ev.Timestamp == 0 {
		t.Error("stack and timestamp should be filled")
	}
}

func TestRunErrorBecomesRejection(t *testing.T) {
	p, _ := newTestPage(t, "http://localhost/")
	var reasons []any
	p.OnRejection(func(ev *RejectionEvent) { reasons = append(reasons, ev.Reason) })

	p.Run(func() error { return errors.New("timeout") })
	p.Run(func() error { return nil })

	if len(reasons) != 1 {
		t.Fatalf("got %d rejections, want 1", len(reasons))
	}
}

func TestUnlistenedErrorsGoToBaseConsole(t *testing.T) {
	p, errOut := newTestPage(t, "http://localhost/")

	var patched int
	p.Console().Patch("error", func(next console.Method) console.Method {
		return func(args ...any) { patched++; next(args...) }
	})

	p.Run(func() error { panic("kaboom") })
	p.Run(func() error { return errors.New("nobody caught me") })

	if patched != 0 {
		t.Error("uncaught errors must not pass through console.Error patches")
	}
	out := errOut.String()
	if !strings.Contains(out, "Uncaught kaboom") || !strings.Contains(out, "Uncaught (in promise)") {
		t.Errorf("stderr = %q", out)
	}
}

func TestRemovedListenerIsNotCalled(t *testing.T) {
	p, _ := newTestPage(t, "http://localhost/")
	calls := 0
	remove := p.OnError(func(*ErrorEvent) { calls++ })
	remove()
	p.ResourceFailed(Resource{Tag: "img", URL: "/x.png"})
	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	p, _ := newTestPage(t, "http://localhost/")
	calls := 0
	p.OnError(func(*ErrorEvent) { panic("listener bug") })
	p.OnError(func(*ErrorEvent) { calls++ })
	p.ResourceFailed(Resource{Tag: "script", URL: "/app.js"})
	if calls != 1 {
		t.Errorf("second listener calls = %d, want 1", calls)
	}
}

func TestGoAndWait(t *testing.T) {
	p, _ := newTestPage(t, "http://localhost/")
	var mu sync.Mutex
	n := 0
	p.OnRejection(func(*RejectionEvent) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	for i := 0; i < 5; i++ {
		p.Go(func() error { return errors.New("x") })
	}
	p.Wait()
	if n != 5 {
		t.Errorf("rejections = %d, want 5", n)
	}
}

func TestRoundTripperReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, _ := newTestPage(t, srv.URL)
	var got []*ErrorEvent
	p.OnError(func(ev *ErrorEvent) { got = append(got, ev) })

	client := &http.Client{Transport: p.RoundTripper(nil)}
	for _, path := range []string{"/ok", "/missing.png"} {
		resp, err := client.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}

	if len(got) != 1 {
		t.Fatalf("got %d resource errors, want 1", len(got))
	}
	if got[0].Target == nil || got[0].Target.Status != http.StatusNotFound {
		t.Fatalf("event = %+v", got[0])
	}
	msg := ResourceMessage(got[0].Target)
	if !strings.Contains(msg, "FETCH") || !strings.Contains(msg, "/missing.png") || !strings.Contains(msg, "404") {
		t.Errorf("message = %q", msg)
	}
}

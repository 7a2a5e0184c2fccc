package producer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/page"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/transport"
	"github.com/large-farva/pikka-console/internal/ws"
)

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }

func newPage(t *testing.T) *page.Page {
	t.Helper()
	p, err := page.New("http://localhost:5173/dashboard?tab=1",
		page.WithConsole(console.New(&bytes.Buffer{}, &bytes.Buffer{})),
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// recorder is a transport that keeps every sent frame.
type recorder struct {
	frames [][]byte
	closed int
	err    error
}

func (r *recorder) Send(b []byte) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, b)
	return nil
}
func (r *recorder) OnMessage(transport.Handler) {}
func (r *recorder) Close() error                { r.closed++; return nil }

func TestStartTwiceDoesNotDoublePatch(t *testing.T) {
	p := newPage(t)
	tr := &recorder{}
	prod := New(p, tr)
	prod.Start()
	prod.Start()
	defer prod.Stop()

	if d := p.Console().Depth(telemetry.LevelLog); d != 1 {
		t.Errorf("log depth = %d, want 1", d)
	}
	p.Console().Log("once")
	if len(tr.frames) != 1 {
		t.Errorf("frames = %d, want 1", len(tr.frames))
	}
}

func TestStopRestoresAndCloses(t *testing.T) {
	p := newPage(t)
	tr := &recorder{}
	prod := New(p, tr)
	prod.Start()
	prod.Stop()
	prod.Stop()

	for _, lvl := range telemetry.Levels {
		if d := p.Console().Depth(lvl); d != 0 {
			t.Errorf("%s depth = %d after Stop", lvl, d)
		}
	}
	if tr.closed != 1 {
		t.Errorf("Close calls = %d, want 1", tr.closed)
	}

	prod.Start()
	p.Console().Warn("ignored")
	if len(tr.frames) != 0 {
		t.Error("Start after Stop must not capture")
	}
}

func TestStopBeforeStart(t *testing.T) {
	tr := &recorder{}
	New(newPage(t), tr).Stop()
	if tr.closed != 1 {
		t.Errorf("Close calls = %d, want 1", tr.closed)
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	p := newPage(t)
	prod := New(p, &recorder{err: transport.ErrClosed})
	prod.Start()
	defer prod.Stop()

	p.Console().Log("still fine")
	p.Run(func() error { panic("boom") })
}

func TestFramesAreKindTagged(t *testing.T) {
	p := newPage(t)
	tr := &recorder{}
	prod := New(p, tr)
	prod.Start()
	defer prod.Stop()

	p.Console().Info("hello")
	p.Console().Error("bad")

	if len(tr.frames) != 2 {
		t.Fatalf("frames = %d", len(tr.frames))
	}
	if !strings.Contains(string(tr.frames[0]), `"kind":"console"`) ||
		!strings.Contains(string(tr.frames[1]), `"kind":"error"`) {
		t.Errorf("frames = %s | %s", tr.frames[0], tr.frames[1])
	}
}

func TestEndToEndOverBroadcast(t *testing.T) {
	p := newPage(t)
	prod := New(p, transport.OpenBroadcast("e2e"))
	cons := consumer.New(transport.OpenBroadcast("e2e"))
	defer cons.CleanUp()
	prod.Start()
	defer prod.Stop()

	p.Console().Warn("disk low", map[string]int{"pct": 91})
	p.Run(func() error { panic(&TypeError{msg: "bad arg"}) })

	s := cons.Snapshot()
	if len(s.Warn) != 1 || s.Warn[0].Message != `disk low {"pct":91}` {
		t.Fatalf("warn bucket = %+v", s.Warn)
	}
	if s.Warn[0].Source.URL != "/dashboard?tab=1" || s.Warn[0].Source.Origin != "http://localhost:5173" {
		t.Errorf("source = %+v", s.Warn[0].Source)
	}
	if len(s.Log)+len(s.Info) != 0 {
		t.Errorf("unexpected console entries: %+v", s)
	}
	if len(s.Error) != 1 {
		t.Fatalf("error bucket = %+v, want exactly one entry", s.Error)
	}
	if e := s.Error[0]; e.Name != "TypeError" || e.Message != "bad arg" || e.Stack == "" {
		t.Errorf("error = %+v", e)
	}
}

// TestQueuedEventsArriveInOrder keeps the producer's relay connection
// refused until several events are queued, then lets it through.
func TestQueuedEventsArriveInOrder(t *testing.T) {
	hub := ws.NewHub(ws.Options{Relay: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	var open atomic.Bool
	relay := hub.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("role") == "producer" && !open.Load() {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		relay.ServeHTTP(w, r)
	}))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitor"

	cons := consumer.New(transport.DialSocket(ctx, transport.SocketOptions{URL: base + "?role=viewer"}))
	defer cons.CleanUp()
	waitFor(t, "viewer connection", func() bool { return hub.Clients() == 1 })

	p := newPage(t)
	sock := transport.DialSocket(ctx, transport.SocketOptions{
		URL:        base + "?role=producer",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	prod := New(p, sock)
	prod.Start()
	defer prod.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		p.Console().Log(fmt.Sprintf("event %d", i))
	}
	if sock.Connected() {
		t.Fatal("producer connected before the gate opened")
	}
	open.Store(true)

	waitFor(t, "all queued events", func() bool { return len(cons.Snapshot().Log) == n })
	for i, ev := range cons.Snapshot().Log {
		if want := fmt.Sprintf("event %d", i); ev.Message != want {
			t.Fatalf("entry %d = %q, want %q", i, ev.Message, want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package viewer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/render"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/ws"
)

func setup(t *testing.T, onClear func()) (*render.Renderer, *ws.Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(ws.Options{Name: "viewer"})
	go hub.Run(ctx)

	r := render.New(zerolog.Nop())
	v := New(Options{Live: hub, Snapshot: r.Latest, Clear: onClear, Logger: zerolog.Nop()})
	r.BindTabs(v)

	mux := http.NewServeMux()
	v.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, hub, srv
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %d %s", url, resp.StatusCode, b)
	}
	return string(b)
}

func snapshot() consumer.Snapshot {
	return consumer.Snapshot{
		Warn:  []telemetry.ConsoleEvent{{Level: telemetry.LevelWarn, Message: "<script>alert(1)</script>", Timestamp: 2}},
		Error: []telemetry.ErrorEvent{{Name: "TypeError", Message: "bad arg", Timestamp: 1}},
	}
}

func TestPageHasMountAndEscapedContent(t *testing.T) {
	r, _, srv := setup(t, nil)
	r.Render(snapshot())

	body := get(t, srv.URL+"/viewer")
	if !strings.Contains(body, `id="pikka-console-web"`) {
		t.Error("mount element missing")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("message rendered unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Error("escaped message missing")
	}
}

func TestTabQueryIsPerRequest(t *testing.T) {
	r, _, srv := setup(t, nil)
	r.Render(snapshot())

	body := get(t, srv.URL+"/viewer/content?tab=error")
	if strings.Count(body, `aria-selected="true"`) != 1 || !strings.Contains(body, `class="tab tab-error active"`) {
		t.Errorf("expected only the error tab active in %s", body)
	}
	if !strings.Contains(body, "bad arg") || strings.Contains(body, "alert(1)") {
		t.Errorf("error tab content = %s", body)
	}
	if r.Active() != render.TabAll {
		t.Errorf("request changed the shared tab to %s", r.Active())
	}

	// Another page still sees its own tab.
	body = get(t, srv.URL+"/viewer/content")
	if !strings.Contains(body, "bad arg") || !strings.Contains(body, "alert(1)") {
		t.Errorf("all tab content = %s", body)
	}
	body = get(t, srv.URL+"/viewer/content?tab=bogus")
	if !strings.Contains(body, `class="tab tab-all active"`) {
		t.Errorf("unknown tab should fall back to all: %s", body)
	}
}

func dialLive(t *testing.T, hub *ws.Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/viewer/live", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("live client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestLiveRepaintNotification(t *testing.T) {
	r, hub, srv := setup(t, nil)
	conn := dialLive(t, hub, srv)

	r.Render(snapshot())
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type   string         `json:"type"`
		Tab    string         `json:"tab"`
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("notification %s: %v", msg, err)
	}
	if got.Type != "repaint" || got.Tab != "" {
		t.Errorf("notification = %s", msg)
	}
	if got.Counts["all"] != 2 || got.Counts["warn"] != 1 || got.Counts["error"] != 1 {
		t.Errorf("counts = %v", got.Counts)
	}
}

// A page refetches its content on every notification. That refetch must not
// cause another notification.
func TestRefetchDoesNotNotify(t *testing.T) {
	r, hub, srv := setup(t, nil)
	conn := dialLive(t, hub, srv)

	r.Render(snapshot())

	notifications := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		notifications++
		get(t, srv.URL+"/viewer/content?tab=all")
		get(t, srv.URL+"/viewer/content?tab=warn")
	}
	if notifications != 1 {
		t.Errorf("notifications after one render = %d, want 1", notifications)
	}
}

func TestClearRoute(t *testing.T) {
	cleared := 0
	_, _, srv := setup(t, func() { cleared++ })

	if body := get(t, srv.URL+"/viewer"); !strings.Contains(body, `id="pikka-clear"`) {
		t.Error("clear control missing from page")
	}

	resp, err := http.Get(srv.URL + "/viewer/clear")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || cleared != 0 {
		t.Errorf("GET clear: status %d, cleared %d", resp.StatusCode, cleared)
	}

	resp, err = http.Post(srv.URL+"/viewer/clear", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || cleared != 1 {
		t.Errorf("POST clear: status %d, cleared %d", resp.StatusCode, cleared)
	}
}

func TestNoClearRouteWithoutClearFunc(t *testing.T) {
	_, _, srv := setup(t, nil)
	if body := get(t, srv.URL+"/viewer"); strings.Contains(body, `id="pikka-clear"`) {
		t.Error("clear control shown without a clear func")
	}
	resp, err := http.Post(srv.URL+"/viewer/clear", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

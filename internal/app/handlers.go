package app

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

// handleRoot is the plain liveness acknowledgment on "/".
func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pikka relay ok\n"))
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	state := a.State()
	listening := state == "LISTENING"
	checks["server"] = map[string]any{"ok": listening, "state": state, "addr": a.Addr()}
	if !listening {
		allOK = false
	}

	checks["relay"] = map[string]any{"ok": true, "clients": a.relay.Clients()}

	if a.cfg.Viewer.Enabled {
		c := a.consumer.Load()
		ok := c != nil
		check := map[string]any{"ok": ok, "source": a.cfg.Viewer.Source}
		if ok {
			check["entries"] = c.Snapshot().Len()
		}
		checks["viewer"] = check
		if !ok {
			allOK = false
		}
	}

	// Config file readable.
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": allOK, "checks": checks})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "pikka-console",
		"state":          a.State(),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"addr":           a.Addr(),
		"relay_url":      a.RelayURL(),
		"relay_clients":  a.relay.Clients(),
		"viewer_enabled": a.cfg.Viewer.Enabled,
		"demo_enabled":   a.cfg.Demo.Enabled,
	}

	if a.cfg.Viewer.Enabled {
		resp["viewer_url"] = a.ViewerURL()
		resp["viewer_source"] = a.cfg.Viewer.Source
		resp["viewer_clients"] = a.live.Clients()
		resp["active_tab"] = string(a.renderer.Active())
		if c := a.consumer.Load(); c != nil {
			s := c.Snapshot()
			resp["entries"] = map[string]int{
				"log":   len(s.Log),
				"info":  len(s.Info),
				"warn":  len(s.Warn),
				"error": len(s.Error),
			}
		}
	}
	if a.cfg.Demo.Enabled {
		resp["demo_last_step"] = a.demoStep.Load().(string)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": runtimeVersion(),
		"built_at":   BuiltAt,
	})
}

// handleSnapshot returns the viewer's aggregated state on GET and empties
// it on DELETE.
func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c := a.consumer.Load()
	if c == nil {
		http.Error(w, "viewer disabled", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeJSON(w, http.StatusOK, snapshotJSON(c.Snapshot()))
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]int{"cleared": a.clearViewer()})
	default:
		w.Header().Set("Allow", "GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// snapshotJSON keeps empty buckets as [] rather than null.
func snapshotJSON(s consumer.Snapshot) consumer.Snapshot {
	if s.Log == nil {
		s.Log = []telemetry.ConsoleEvent{}
	}
	if s.Info == nil {
		s.Info = []telemetry.ConsoleEvent{}
	}
	if s.Warn == nil {
		s.Warn = []telemetry.ConsoleEvent{}
	}
	if s.Error == nil {
		s.Error = []telemetry.ErrorEvent{}
	}
	return s
}

func runtimeVersion() string {
	if GoVersion != "unknown" {
		return GoVersion
	}
	return runtime.Version()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

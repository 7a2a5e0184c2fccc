// Package viewer serves the rendered console over HTTP. It is the mounted
// render.Container: the renderer paints into it when data changes, and a
// live websocket tells open pages to refetch. Every request renders its own
// tab from the latest snapshot, so pages never share a selected tab.
package viewer

import (
	"bytes"
	"html/template"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/render"
	"github.com/large-farva/pikka-console/internal/ws"
)

// Options configures a Viewer.
type Options struct {
	// Live receives a repaint notification after each paint. May be nil.
	Live *ws.Hub

	// Snapshot returns the state requests render from. Nil renders an
	// empty console.
	Snapshot func() consumer.Snapshot

	// Clear empties the aggregated state. Nil disables /viewer/clear.
	Clear func()

	Logger zerolog.Logger
}

// Viewer is the HTTP face of the console element.
type Viewer struct {
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	counts map[render.Tab]int
}

// New returns a viewer for opts.
func New(opts Options) *Viewer {
	return &Viewer{
		opts: opts,
		log:  opts.Logger.With().Str("component", "viewer").Logger(),
	}
}

// ID returns render.MountID.
func (v *Viewer) ID() string { return render.MountID }

// OnTabClick ignores fn. Tabs are chosen per request with ?tab=, so no page
// changes the tab another page sees.
func (v *Viewer) OnTabClick(func(render.Tab)) {}

// SetTabs records the entry counts sent with the next notification.
func (v *Viewer) SetTabs(tabs []render.TabState) {
	counts := make(map[render.Tab]int, len(tabs))
	for _, t := range tabs {
		counts[t.Tab] = t.Count
	}
	v.mu.Lock()
	v.counts = counts
	v.mu.Unlock()
}

// SetContent tells live pages to refetch.
func (v *Viewer) SetContent(template.HTML) {
	if v.opts.Live == nil {
		return
	}
	v.mu.Lock()
	counts := v.counts
	v.mu.Unlock()
	v.opts.Live.PublishJSON(map[string]any{"type": "repaint", "counts": counts})
}

// Register mounts the viewer routes on mux.
func (v *Viewer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/viewer", v.handlePage)
	mux.HandleFunc("/viewer/content", v.handleContent)
	if v.opts.Clear != nil {
		mux.HandleFunc("/viewer/clear", v.handleClear)
	}
	if v.opts.Live != nil {
		mux.Handle("/viewer/live", v.opts.Live.Handler())
	}
}

// requestTab reads ?tab=, falling back to the "all" tab.
func (v *Viewer) requestTab(r *http.Request) render.Tab {
	tab := render.Tab(r.URL.Query().Get("tab"))
	if tab == "" {
		return render.TabAll
	}
	if !tab.Valid() {
		v.log.Debug().Str("tab", string(tab)).Msg("ignoring unknown tab")
		return render.TabAll
	}
	return tab
}

type pageData struct {
	MountID  string
	Tabs     []render.TabState
	Content  template.HTML
	CanClear bool
}

func (v *Viewer) data(tab render.Tab) (pageData, error) {
	var s consumer.Snapshot
	if v.opts.Snapshot != nil {
		s = v.opts.Snapshot()
	}
	content, err := render.Content(s, tab)
	if err != nil {
		return pageData{}, err
	}
	return pageData{
		MountID:  render.MountID,
		Tabs:     render.TabStates(s, tab),
		Content:  content,
		CanClear: v.opts.Clear != nil,
	}, nil
}

func (v *Viewer) handlePage(w http.ResponseWriter, r *http.Request) {
	v.write(w, "page", v.requestTab(r))
}

func (v *Viewer) handleContent(w http.ResponseWriter, r *http.Request) {
	v.write(w, "fragment", v.requestTab(r))
}

func (v *Viewer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v.opts.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (v *Viewer) write(w http.ResponseWriter, name string, tab render.Tab) {
	var buf bytes.Buffer
	data, err := v.data(tab)
	if err == nil {
		err = pageTmpl.ExecuteTemplate(&buf, name, data)
	}
	if err != nil {
		v.log.Error().Err(err).Str("template", name).Msg("viewer render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

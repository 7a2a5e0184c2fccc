// Package render turns consumer snapshots into HTML for the viewer. It keeps
// the active tab and repaints a Container whenever the tab or the data
// changes. All message text is escaped by html/template.
package render

import (
	"bytes"
	"html/template"
	"sync"

	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/consumer"
)

// MountID is the id of the element the renderer draws into.
const MountID = "pikka-console-web"

// TabState describes one tab button.
type TabState struct {
	Tab    Tab
	Count  int
	Active bool
}

// Container is the mounted viewer element.
type Container interface {
	// ID must equal MountID.
	ID() string
	// OnTabClick registers the handler invoked when a tab button is pressed.
	OnTabClick(fn func(Tab))
	// SetTabs replaces the tab bar state.
	SetTabs(tabs []TabState)
	// SetContent replaces the content area.
	SetContent(html template.HTML)
}

// Renderer paints the active tab of the latest snapshot.
type Renderer struct {
	log zerolog.Logger

	// paintMu orders paints so the container always ends on the newest state.
	paintMu sync.Mutex

	mu        sync.Mutex
	container Container
	active    Tab
	latest    consumer.Snapshot
	content   template.HTML
}

// New returns a renderer with the "all" tab active and nothing mounted.
func New(logger zerolog.Logger) *Renderer {
	return &Renderer{
		log:    logger.With().Str("component", "render").Logger(),
		active: TabAll,
	}
}

// BindTabs mounts c and wires its tab buttons. A nil container, or one
// without the expected id, is logged and ignored.
func (r *Renderer) BindTabs(c Container) {
	if c == nil {
		r.log.Warn().Str("mount", MountID).Msg("viewer container not mounted, rendering disabled")
		return
	}
	if c.ID() != MountID {
		r.log.Warn().Str("mount", MountID).Str("got", c.ID()).Msg("container id mismatch, rendering disabled")
		return
	}

	r.mu.Lock()
	r.container = c
	r.mu.Unlock()

	c.OnTabClick(r.Click)
	r.paint()
}

// Click makes tab the only active tab and repaints from the latest
// snapshot. Unknown tabs are ignored.
func (r *Renderer) Click(tab Tab) {
	if !tab.Valid() {
		r.log.Debug().Str("tab", string(tab)).Msg("unknown tab")
		return
	}
	r.mu.Lock()
	r.active = tab
	r.mu.Unlock()
	r.paint()
}

// Render stores s as the latest snapshot and repaints the active tab.
func (r *Renderer) Render(s consumer.Snapshot) {
	r.mu.Lock()
	r.latest = s
	r.mu.Unlock()
	r.paint()
}

// Active returns the active tab.
func (r *Renderer) Active() Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Content returns the HTML of the last paint.
func (r *Renderer) Content() template.HTML {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

// Tabs returns the current tab bar state; exactly one tab is active.
func (r *Renderer) Tabs() []TabState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tabsLocked()
}

func (r *Renderer) tabsLocked() []TabState {
	return TabStates(r.latest, r.active)
}

// Latest returns the snapshot of the last Render.
func (r *Renderer) Latest() consumer.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// TabStates describes the tab bar for s with active selected.
func TabStates(s consumer.Snapshot, active Tab) []TabState {
	out := make([]TabState, len(Tabs))
	for i, t := range Tabs {
		out[i] = TabState{Tab: t, Count: Count(s, t), Active: t == active}
	}
	return out
}

func (r *Renderer) paint() {
	r.paintMu.Lock()
	defer r.paintMu.Unlock()

	r.mu.Lock()
	html, err := Content(r.latest, r.active)
	if err != nil {
		r.mu.Unlock()
		r.log.Error().Err(err).Msg("render content")
		return
	}
	r.content = html
	c := r.container
	tabs := r.tabsLocked()
	r.mu.Unlock()

	if c == nil {
		return
	}
	c.SetTabs(tabs)
	c.SetContent(html)
}

// Content renders the entries of tab in s as an HTML fragment.
func Content(s consumer.Snapshot, tab Tab) (template.HTML, error) {
	var buf bytes.Buffer
	err := contentTmpl.Execute(&buf, struct {
		Tab  Tab
		Rows []Row
	}{tab, Rows(s, tab)})
	if err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

var contentTmpl = template.Must(template.New("content").Parse(
	`<ul class="pikka-entries" data-tab="{{.Tab}}">` +
		`{{range .Rows}}` +
		`<li class="pikka-entry pikka-{{.Bucket}}">` +
		`<time datetime="{{.Time.Format "2006-01-02T15:04:05.000Z07:00"}}">{{.Time.Format "15:04:05.000"}}</time> ` +
		`<span class="pikka-level">{{.Bucket}}</span> ` +
		`{{if .Name}}<strong class="pikka-name">{{.Name}}</strong>: {{end}}` +
		`<span class="pikka-message">{{.Message}}</span>` +
		`{{if .Source.URL}} <span class="pikka-source">{{.Source.URL}}</span>{{end}}` +
		`{{if .Cause}}<div class="pikka-cause">caused by: {{.Cause}}</div>{{end}}` +
		`{{if .Stack}}<pre class="pikka-stack">{{.Stack}}</pre>{{end}}` +
		`</li>` +
		`{{else}}<li class="pikka-empty">No entries</li>{{end}}` +
		`</ul>`,
))

// Package app wires together the HTTP server, the relay hub, the built-in
// viewer and the optional demo page. It owns the daemon's lifecycle and is
// the single source of truth for the current operating state.
package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/config"
	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/demo"
	"github.com/large-farva/pikka-console/internal/observability"
	"github.com/large-farva/pikka-console/internal/page"
	"github.com/large-farva/pikka-console/internal/producer"
	"github.com/large-farva/pikka-console/internal/render"
	"github.com/large-farva/pikka-console/internal/transport"
	"github.com/large-farva/pikka-console/internal/viewer"
	"github.com/large-farva/pikka-console/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     zerolog.Logger
	Cfg        config.Config
	ConfigPath string
	Metrics    *observability.Metrics
}

// App is the top-level daemon process.
type App struct {
	log        zerolog.Logger
	cfg        config.Config
	configPath string
	metrics    *observability.Metrics
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // BOOTING, LISTENING, STOPPING
	addr      atomic.Value // bound address once listening

	relay    *ws.Hub
	live     *ws.Hub
	renderer *render.Renderer
	viewer   *viewer.Viewer
	consumer atomic.Pointer[consumer.Consumer]
	demoStep atomic.Value // name of the last demo step played
}

// New creates an App in the BOOTING state. Call Run to start serving.
func New(opts Options) *App {
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		metrics:    opts.Metrics,
		startedAt:  time.Now(),
	}
	a.relay = ws.NewHub(ws.Options{
		Name:              "relay",
		Relay:             true,
		HeartbeatInterval: opts.Cfg.Relay.Heartbeat(),
		MaxMissed:         opts.Cfg.Relay.MaxMissed,
		ReadLimit:         opts.Cfg.Relay.ReadLimitBytes,
		Logger:            opts.Logger,
		Metrics:           opts.Metrics,
	})
	a.live = ws.NewHub(ws.Options{
		Name:              "viewer",
		HeartbeatInterval: opts.Cfg.Relay.Heartbeat(),
		MaxMissed:         opts.Cfg.Relay.MaxMissed,
		Logger:            opts.Logger,
		Metrics:           opts.Metrics,
	})
	a.renderer = render.New(opts.Logger)
	a.viewer = viewer.New(viewer.Options{
		Live:     a.live,
		Snapshot: a.renderer.Latest,
		Clear:    func() { a.clearViewer() },
		Logger:   opts.Logger,
	})
	a.state.Store("BOOTING")
	a.addr.Store("")
	a.demoStep.Store("")
	return a
}

// IsAddrInUse reports whether err means the listen address is taken.
func IsAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Listen binds the configured address.
func (a *App) Listen() (net.Listener, error) {
	addr := a.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

// Run binds the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := a.Listen()
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the hubs, the viewer pipeline and the demo page, and serves
// HTTP on ln. It blocks until ctx is cancelled or the server fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.addr.Store(ln.Addr().String())

	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.log.Info().Str("addr", a.Addr()).Str("relay", a.RelayURL()).Msg("listening")

	go a.relay.Run(ctx)
	go a.live.Run(ctx)

	if a.cfg.Viewer.Enabled {
		a.startViewer(ctx)
	}
	if a.cfg.Demo.Enabled {
		if err := a.startDemo(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}
	a.transition("LISTENING")

	go func() {
		<-ctx.Done()
		a.transition("STOPPING")
		a.log.Info().Msg("shutdown requested")
		if c := a.consumer.Load(); c != nil {
			c.CleanUp()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	return a.server.Serve(ln)
}

// Handler returns the daemon's HTTP routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleRoot)
	mux.Handle("/monitor", a.relay.Handler())
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/snapshot", a.handleSnapshot)
	mux.Handle("/metrics", a.metrics.Handler())
	if a.cfg.Viewer.Enabled {
		a.viewer.Register(mux)
	}
	return mux
}

// Addr returns the bound address, or "" before Serve.
func (a *App) Addr() string { return a.addr.Load().(string) }

// RelayURL is the websocket endpoint producers should dial.
func (a *App) RelayURL() string {
	addr := a.Addr()
	if addr == "" {
		return a.cfg.Server.RelayURL()
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return a.cfg.Server.RelayURL()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port) + "/monitor"
}

// ViewerURL is the page a browser should open.
func (a *App) ViewerURL() string {
	return "http" + strings.TrimSuffix(strings.TrimPrefix(a.RelayURL(), "ws"), "/monitor") + "/viewer"
}

// State returns the current lifecycle state.
func (a *App) State() string { return a.state.Load().(string) }

func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.log.Info().Str("from", old).Str("to", newState).Msg("state change")
}

// startViewer connects a consumer to the configured source and repaints the
// viewer on every update.
func (a *App) startViewer(ctx context.Context) {
	var tr transport.Transport
	switch a.cfg.Viewer.Source {
	case config.SourceBroadcast:
		tr = transport.OpenBroadcast(a.cfg.Viewer.Channel)
	default:
		tr = transport.DialSocket(ctx, transport.SocketOptions{
			URL:        a.RelayURL(),
			MinBackoff: a.cfg.Producer.MinBackoff(),
			MaxBackoff: a.cfg.Producer.MaxBackoff(),
			Logger:     a.log,
		})
	}

	opts := []consumer.Option{
		consumer.WithLogger(a.log),
		consumer.WithMetrics(a.metrics),
		consumer.WithBucketLimit(a.cfg.Viewer.BucketLimit),
	}
	if a.cfg.Viewer.Dedup {
		opts = append(opts, consumer.WithDedup())
	}
	c := consumer.New(tr, opts...)
	rp := newRepainter()
	c.OnUpdate(rp.Kick)
	go rp.Run(ctx, func() { a.renderer.Render(c.Snapshot()) })
	a.consumer.Store(c)

	a.renderer.BindTabs(a.viewer)
	a.log.Info().Str("source", a.cfg.Viewer.Source).Str("url", a.ViewerURL()).Msg("viewer ready")
}

// clearViewer empties the viewer's aggregated state and returns how many
// entries it held.
func (a *App) clearViewer() int {
	c := a.consumer.Load()
	if c == nil {
		return 0
	}
	n := c.Snapshot().Len()
	c.Clear()
	a.log.Info().Int("entries", n).Msg("viewer cleared")
	return n
}

// startDemo runs a simulated page whose producer feeds the same source the
// viewer listens on.
func (a *App) startDemo(ctx context.Context) error {
	pageLog := a.log.With().Str("component", "demo-page").Logger()
	p, err := page.New(a.cfg.Demo.PageURL,
		page.WithConsole(console.New(debugWriter{pageLog}, debugWriter{pageLog})),
		page.WithLogger(pageLog),
	)
	if err != nil {
		return errors.Wrap(err, "demo page")
	}

	var tr transport.Transport
	if a.cfg.Viewer.Source == config.SourceBroadcast {
		tr = transport.OpenBroadcast(a.cfg.Viewer.Channel)
	} else {
		tr = transport.DialSocket(ctx, transport.SocketOptions{
			URL:        a.RelayURL(),
			QueueSize:  a.cfg.Producer.QueueCap,
			MinBackoff: a.cfg.Producer.MinBackoff(),
			MaxBackoff: a.cfg.Producer.MaxBackoff(),
			Logger:     a.log,
			OnDrop:     a.metrics.QueueDropped,
		})
	}

	prod := producer.New(p, tr, producer.WithLogger(a.log), producer.WithMetrics(a.metrics))
	prod.Start()

	r := demo.New(p)
	if a.cfg.Demo.IntervalSeconds > 0 {
		r.Interval = time.Duration(a.cfg.Demo.IntervalSeconds) * time.Second
	}
	go func() {
		defer prod.Stop()
		r.Run(ctx, func(step string) { a.demoStep.Store(step) })
	}()
	a.log.Info().Str("page", a.cfg.Demo.PageURL).Dur("interval", r.Interval).Msg("demo page running")
	return nil
}

// debugWriter sends console output of the demo page to the daemon log at
// debug level, one record per write.
type debugWriter struct {
	log zerolog.Logger
}

func (w debugWriter) Write(p []byte) (int, error) {
	w.log.Debug().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

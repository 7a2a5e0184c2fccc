// Package producer runs on the monitored page. It starts an interceptor and
// an error collector and sends every event they capture over a transport.
package producer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/collect"
	"github.com/large-farva/pikka-console/internal/intercept"
	"github.com/large-farva/pikka-console/internal/observability"
	"github.com/large-farva/pikka-console/internal/telemetry"
	"github.com/large-farva/pikka-console/internal/transport"
)

// Host is the monitored page.
type Host interface {
	collect.Host
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger used for send failures. It must not be the
// page's console, or a failing send would be captured again.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Producer) { p.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// Producer forwards a page's console and error events to a transport.
type Producer struct {
	tr          transport.Transport
	interceptor *intercept.Interceptor
	collector   *collect.Collector
	log         zerolog.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a producer for host. Nothing is patched until Start.
func New(host Host, tr transport.Transport, opts ...Option) *Producer {
	p := &Producer{tr: tr, log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With().Str("component", "producer").Logger()
	p.interceptor = intercept.New(host, p.sendConsole)
	p.collector = collect.New(host, p.sendError)
	return p
}

// Start begins capturing. Calling it again, or after Stop, does nothing.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.interceptor.Start()
	p.collector.Start()
}

// Stop restores the page and closes the transport. Frames still queued in
// the transport are dropped. Stop is idempotent and may be called before
// Start.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.started {
		p.interceptor.Stop()
		p.collector.Stop()
	}
	if err := p.tr.Close(); err != nil {
		p.log.Debug().Err(err).Msg("transport close")
	}
}

func (p *Producer) sendConsole(ev telemetry.ConsoleEvent) {
	frame, err := telemetry.EncodeConsole(ev)
	p.send(frame, err)
}

func (p *Producer) sendError(ev telemetry.ErrorEvent) {
	frame, err := telemetry.EncodeError(ev)
	p.send(frame, err)
}

func (p *Producer) send(frame []byte, err error) {
	if err == nil {
		err = p.tr.Send(frame)
	}
	if err != nil {
		p.metrics.SendFailed()
		p.log.Warn().Err(err).Msg("event not sent")
	}
}

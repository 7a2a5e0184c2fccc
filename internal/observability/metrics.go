package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon exports. A nil *Metrics is valid
// and records nothing, so packages can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	HubConnections   *prometheus.GaugeVec
	HubFramesTotal   *prometheus.CounterVec
	HubEvictions     *prometheus.CounterVec
	ConsumerEntries  *prometheus.CounterVec
	MalformedFrames  prometheus.Counter
	ProducerDropped  prometheus.Counter
	ProducerSendErrs prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		HubConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pikka",
			Name:      "hub_connections",
			Help:      "Open websocket connections per hub",
		}, []string{"hub"}),
		HubFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "hub_frames_total",
			Help:      "Frames seen by a hub, by direction",
		}, []string{"hub", "direction"}),
		HubEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "hub_heartbeat_evictions_total",
			Help:      "Connections closed after missing heartbeats",
		}, []string{"hub"}),
		ConsumerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "consumer_entries_total",
			Help:      "Entries stored by the consumer, by bucket",
		}, []string{"bucket"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "consumer_malformed_frames_total",
			Help:      "Inbound frames the consumer could not decode",
		}),
		ProducerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "producer_queue_dropped_total",
			Help:      "Frames discarded because the socket queue was full",
		}),
		ProducerSendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pikka",
			Name:      "producer_send_errors_total",
			Help:      "Events that could not be encoded or handed to the transport",
		}),
	}
	r.MustRegister(
		m.HubConnections, m.HubFramesTotal, m.HubEvictions,
		m.ConsumerEntries, m.MalformedFrames, m.ProducerDropped, m.ProducerSendErrs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) HubConnected(hub string, delta float64) {
	if m == nil {
		return
	}
	m.HubConnections.WithLabelValues(hub).Add(delta)
}

func (m *Metrics) HubFrame(hub, direction string) {
	if m == nil {
		return
	}
	m.HubFramesTotal.WithLabelValues(hub, direction).Inc()
}

func (m *Metrics) HubEvicted(hub string) {
	if m == nil {
		return
	}
	m.HubEvictions.WithLabelValues(hub).Inc()
}

func (m *Metrics) ConsumerEntry(bucket string) {
	if m == nil {
		return
	}
	m.ConsumerEntries.WithLabelValues(bucket).Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.ProducerDropped.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.ProducerSendErrs.Inc()
}

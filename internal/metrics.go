package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	connectionsCurrent prometheus.Gauge
	connectionsTotal   prometheus.Counter
	pagesActive        prometheus.Gauge
	messagesTotal      *prometheus.CounterVec
	malformedFrames    prometheus.Counter
	evictionsTotal     prometheus.Counter
	broadcastsTotal    prometheus.Counter
	sendFailures       prometheus.Counter
	rejectedUpgrades   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		connectionsCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "visitortracker_connections_current",
			Help: "Open WebSocket sessions across all pages",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitortracker_connections_total",
			Help: "Accepted WebSocket upgrades",
		}),
		pagesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "visitortracker_pages_active",
			Help: "Pages with a live presence tracker",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitortracker_messages_total",
			Help: "Client messages handled by type",
		}, []string{"type"}),
		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitortracker_malformed_frames_total",
			Help: "Frames dropped because they could not be decoded",
		}),
		evictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitortracker_evictions_total",
			Help: "Sessions evicted by the stale sweep",
		}),
		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitortracker_broadcasts_total",
			Help: "Count broadcasts fanned out to a page",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitortracker_send_failures_total",
			Help: "Messages that could not be queued for a session",
		}),
		rejectedUpgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitortracker_rejected_upgrades_total",
			Help: "WebSocket requests rejected before upgrade by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncConn() {
	m.connectionsTotal.Inc()
	m.connectionsCurrent.Inc()
}

func (m *Metrics) DecConn() {
	m.connectionsCurrent.Dec()
}

func (m *Metrics) IncPage() {
	m.pagesActive.Inc()
}

func (m *Metrics) DecPage() {
	m.pagesActive.Dec()
}

func (m *Metrics) IncMessage(messageType string) {
	switch messageType {
	case TypeHeartbeat, TypePing, TypeActive, TypeInactive:
	default:
		// keep label cardinality bounded
		messageType = "unknown"
	}
	m.messagesTotal.WithLabelValues(messageType).Inc()
}

func (m *Metrics) IncMalformed() {
	m.malformedFrames.Inc()
}

func (m *Metrics) AddEvictions(n int) {
	m.evictionsTotal.Add(float64(n))
}

func (m *Metrics) IncBroadcast() {
	m.broadcastsTotal.Inc()
}

func (m *Metrics) IncSendFailure() {
	m.sendFailures.Inc()
}

func (m *Metrics) IncRejected(reason string) {
	m.rejectedUpgrades.WithLabelValues(reason).Inc()
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

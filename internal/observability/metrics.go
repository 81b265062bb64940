package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service collectors on a dedicated registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	messages        *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	ledger          *prometheus.CounterVec
	sweepActions    *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	connections     prometheus.Gauge
	droppedFrames   prometheus.Counter
	exportedEvents  *prometheus.CounterVec
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"route", "method", "code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_messages_total",
			Help: "Persisted messages by kind.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_upload_decisions_total",
			Help: "Image upload rate limiter decisions.",
		}, []string{"outcome"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_unread_ledger_mutations_total",
			Help: "Unread ledger mutations by entity and operation.",
		}, []string{"entity", "op"}),
		sweepActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_sweep_actions_total",
			Help: "Inactivity sweeper actions by kind.",
		}, []string{"action"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_sweep_runs_total",
			Help: "Inactivity sweeper passes by result.",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livechat_realtime_connections",
			Help: "Open realtime connections.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livechat_realtime_dropped_frames_total",
			Help: "Outbound frames dropped because a client was too slow.",
		}),
		exportedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_exported_events_total",
			Help: "Domain events handed to the export sink by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.errors, m.messages, m.uploads, m.ledger,
		m.sweepActions, m.sweepRuns, m.connections, m.droppedFrames, m.exportedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordMessage counts a persisted message.
func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// RecordUploadDecision counts a rate limiter outcome.
func (m *Metrics) RecordUploadDecision(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// RecordLedgerMutation counts an unread ledger write.
func (m *Metrics) RecordLedgerMutation(entity, op string) {
	if m == nil {
		return
	}
	m.ledger.WithLabelValues(entity, op).Inc()
}

// RecordSweepAction counts a per-conversation sweeper action.
func (m *Metrics) RecordSweepAction(action string) {
	if m == nil {
		return
	}
	m.sweepActions.WithLabelValues(action).Inc()
}

// RecordSweepRun counts a sweeper pass.
func (m *Metrics) RecordSweepRun(result string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
}

// ConnectionOpened tracks a new realtime connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a closed realtime connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// RecordDroppedFrame counts an outbound frame dropped for a slow client.
func (m *Metrics) RecordDroppedFrame() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}

// RecordExportedEvent counts an event handed to the export sink.
func (m *Metrics) RecordExportedEvent(result string) {
	if m == nil {
		return
	}
	m.exportedEvents.WithLabelValues(result).Inc()
}

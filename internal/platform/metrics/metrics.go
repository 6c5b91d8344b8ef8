package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the SABR session service.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	sessionsCreated   prometheus.Counter
	sessionsEnded     prometheus.Counter
	activeSessions    prometheus.Gauge
	bytesIngested     prometheus.Counter
	partsTotal        *prometheus.CounterVec
	streamErrorsTotal *prometheus.CounterVec
	serverErrorsTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sabr_requests_total",
			Help: "Total number of HTTP requests received, by route pattern and status code",
		}, []string{"route", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sabr_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sabr_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sabr_sessions_ended_total",
			Help: "Total number of sessions ended",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sabr_active_sessions",
			Help: "Number of sessions that are not ended",
		}),
		bytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sabr_bytes_ingested_total",
			Help: "Total number of decompressed UMP bytes fed to sessions",
		}),
		partsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sabr_parts_emitted_total",
			Help: "Total number of parts emitted, by kind",
		}, []string{"kind"}),
		streamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sabr_stream_errors_total",
			Help: "Total number of stream errors, by type",
		}, []string{"type"}),
		serverErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sabr_server_errors_total",
			Help: "Total number of streams terminated by a SABR_ERROR part",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsCreated,
		m.sessionsEnded,
		m.activeSessions,
		m.bytesIngested,
		m.partsTotal,
		m.streamErrorsTotal,
		m.serverErrorsTotal,
	)
	return m
}

// IncRequests increments the request counter for a route pattern and status.
func (m *Metrics) IncRequests(route string, status int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreated.Inc()
}

// IncSessionsEnded increments the sessions ended counter.
func (m *Metrics) IncSessionsEnded() {
	m.sessionsEnded.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// AddBytesIngested adds n to the ingested bytes counter.
func (m *Metrics) AddBytesIngested(n int) {
	m.bytesIngested.Add(float64(n))
}

// IncParts increments the emitted parts counter for kind.
func (m *Metrics) IncParts(kind string) {
	m.partsTotal.WithLabelValues(kind).Inc()
}

// IncStreamErrors increments the stream error counter for typ, e.g.
// "sequence_mismatch", "protocol_state" or "malformed".
func (m *Metrics) IncStreamErrors(typ string) {
	m.streamErrorsTotal.WithLabelValues(typ).Inc()
}

// IncServerErrors increments the server-terminated streams counter.
func (m *Metrics) IncServerErrors() {
	m.serverErrorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

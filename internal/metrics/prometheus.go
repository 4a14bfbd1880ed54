package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector implements smpp.MetricsCollector using Prometheus
type PrometheusMetricsCollector struct {
	registry *prometheus.Registry

	// Counters
	pdusTotal         *prometheus.CounterVec
	decodeErrorsTotal *prometheus.CounterVec
	bindsTotal        *prometheus.CounterVec
	disconnectsTotal  *prometheus.CounterVec
	connectionsTotal  *prometheus.CounterVec
	submitsTotal      *prometheus.CounterVec
	throttledTotal    *prometheus.CounterVec
	unmatchedTotal    *prometheus.CounterVec
	messagesTotal     *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
	receiptsTotal     *prometheus.CounterVec

	// Gauges
	activeSessions  *prometheus.GaugeVec
	pendingRequests *prometheus.GaugeVec

	// Histograms
	responseLatency *prometheus.HistogramVec
	handlerDuration *prometheus.HistogramVec
	sessionDuration *prometheus.HistogramVec

	server *http.Server
}

// NewPrometheusMetricsCollector registers the SMPP metrics under namespace
// (default "smpp") on a private registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "smpp"
	}
	registry := prometheus.NewRegistry()
	pmc := &PrometheusMetricsCollector{registry: registry}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	pmc.pdusTotal = counter("pdus_total", "PDUs read or written", "command", "direction")
	pmc.decodeErrorsTotal = counter("decode_errors_total", "Frames that failed to decode", "kind")
	pmc.bindsTotal = counter("binds_total", "Bind attempts by mode and resulting status", "mode", "status")
	pmc.disconnectsTotal = counter("disconnects_total", "Sessions closed, by reason", "reason")
	pmc.connectionsTotal = counter("connections_total", "Accepted transport connections", "result")
	pmc.submitsTotal = counter("submits_total", "submit_sm handled, by status", "status")
	pmc.throttledTotal = counter("throttled_total", "Requests refused with ESME_RTHROTTLED", "command")
	pmc.unmatchedTotal = counter("unmatched_responses_total", "Responses with no pending request", "command")
	pmc.messagesTotal = counter("messages_total", "Messages accepted by the message handler", "command", "data_coding")
	pmc.eventsTotal = counter("events_total", "Events published on the event bus", "event_type")
	pmc.receiptsTotal = counter("receipts_total", "Delivery receipts, by final stat", "stat")

	pmc.activeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Open sessions by state",
	}, []string{"state"})
	pmc.pendingRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Outbound requests awaiting a response across all sessions",
	}, []string{})

	pmc.responseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "response_latency_seconds",
		Help:      "Time from sending a request to receiving its response",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})
	pmc.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Time spent in authentication and message collaborators",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})
	pmc.sessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Lifetime of sessions",
		Buckets:   []float64{1, 10, 60, 300, 900, 3600, 7200, 21600, 43200},
	}, []string{"mode"})

	registry.MustRegister(
		pmc.pdusTotal,
		pmc.decodeErrorsTotal,
		pmc.bindsTotal,
		pmc.disconnectsTotal,
		pmc.connectionsTotal,
		pmc.submitsTotal,
		pmc.throttledTotal,
		pmc.unmatchedTotal,
		pmc.messagesTotal,
		pmc.eventsTotal,
		pmc.receiptsTotal,
		pmc.activeSessions,
		pmc.pendingRequests,
		pmc.responseLatency,
		pmc.handlerDuration,
		pmc.sessionDuration,
	)

	return pmc
}

// Registry exposes the underlying registry.
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// IncCounter increments a counter metric
func (p *PrometheusMetricsCollector) IncCounter(name string, labels map[string]string) {
	switch name {
	case "pdus_total":
		p.pdusTotal.With(labels).Inc()
	case "decode_errors_total":
		p.decodeErrorsTotal.With(labels).Inc()
	case "binds_total":
		p.bindsTotal.With(labels).Inc()
	case "disconnects_total":
		p.disconnectsTotal.With(labels).Inc()
	case "connections_total":
		p.connectionsTotal.With(labels).Inc()
	case "submits_total":
		p.submitsTotal.With(labels).Inc()
	case "throttled_total":
		p.throttledTotal.With(labels).Inc()
	case "unmatched_responses_total":
		p.unmatchedTotal.With(labels).Inc()
	case "messages_total":
		p.messagesTotal.With(labels).Inc()
	case "events_total":
		p.eventsTotal.With(labels).Inc()
	case "receipts_total":
		p.receiptsTotal.With(labels).Inc()
	}
}

// SetGauge sets a gauge metric
func (p *PrometheusMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	switch name {
	case "active_sessions":
		p.activeSessions.With(labels).Set(value)
	case "pending_requests":
		p.pendingRequests.With(labels).Set(value)
	}
}

// ObserveHistogram observes a value for a histogram metric
func (p *PrometheusMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	switch name {
	case "response_latency":
		p.responseLatency.With(labels).Observe(value)
	case "handler":
		p.handlerDuration.With(labels).Observe(value)
	case "session":
		p.sessionDuration.With(labels).Observe(value)
	}
}

// RecordDuration records a duration metric
func (p *PrometheusMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	p.ObserveHistogram(name, duration.Seconds(), labels)
}

// StartServer serves /metrics (or path) on port in the background.
func (p *PrometheusMetricsCollector) StartServer(port int, path string, onError func(error)) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())

	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed && onError != nil {
			onError(err)
		}
	}()
}

// Stop stops the metrics collector and HTTP server
func (p *PrometheusMetricsCollector) Stop() error {
	if p.server != nil {
		return p.server.Close()
	}
	return nil
}

// NoOpMetricsCollector provides a no-op implementation for when metrics are disabled
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a no-op metrics collector
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

func (n *NoOpMetricsCollector) IncCounter(name string, labels map[string]string) {}

func (n *NoOpMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {}

func (n *NoOpMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
}

func (n *NoOpMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}

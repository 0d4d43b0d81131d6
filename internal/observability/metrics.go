package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the feedback service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	classifications *prometheus.CounterVec
	sweepItems      *prometheus.CounterVec
	fanout          *prometheus.CounterVec
}

// NewMetrics registers the service collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	errorTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total number of failed HTTP requests by error code",
	}, []string{"method", "path", "code"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_transitions_total",
		Help: "Lifecycle transition outcomes per record",
	}, []string{"transition", "outcome"})

	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_classifications_total",
		Help: "Sentiment classification outcomes",
	}, []string{"source", "outcome"})

	sweepItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_sweep_items_total",
		Help: "Retry sweep item outcomes",
	}, []string{"partition", "outcome"})

	fanout := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_fanout_messages_total",
		Help: "Change notifications emitted or suppressed",
	}, []string{"source", "result"})

	registry.MustRegister(
		requestDuration, requestTotal, errorTotal, transitions, classifications, sweepItems, fanout,
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		errorTotal:      errorTotal,
		transitions:     transitions,
		classifications: classifications,
		sweepItems:      sweepItems,
		fanout:          fanout,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest observes one HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// RecordError counts a request that ended with an application error.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorTotal.WithLabelValues(method, path, code).Inc()
}

func (m *Metrics) RecordTransition(transition, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, outcome).Inc()
}

func (m *Metrics) RecordClassification(source, outcome string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordSweepItem(partition, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(partition, outcome).Inc()
}

func (m *Metrics) RecordFanout(source, result string) {
	if m == nil {
		return
	}
	m.fanout.WithLabelValues(source, result).Inc()
}

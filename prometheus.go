package azfunc

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder counts the records emitted by the functions into a
// Prometheus registry, so the host can be scraped directly on /metrics even
// when no collector is configured. Combine it with a Client through Tee.
type PrometheusRecorder struct {
	traces     *prometheus.CounterVec
	exceptions *prometheus.CounterVec
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates the recorder and registers its collectors on a
// dedicated registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		traces: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "function_traces_total",
				Help: "Total number of trace records by source and severity",
			},
			[]string{"source", "severity"},
		),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "function_exceptions_total",
				Help: "Total number of exception records by source and severity",
			},
			[]string{"source", "severity"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "function_requests_total",
				Help: "Total number of completed invocations by source, status and outcome",
			},
			[]string{"source", "status_code", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "function_request_duration_seconds",
				Help:    "Invocation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		registry: registry,
	}

	registry.MustRegister(p.traces, p.exceptions, p.requests, p.duration)
	return p
}

// TrackTrace counts the trace.
func (p *PrometheusRecorder) TrackTrace(_ context.Context, t Trace) {
	p.traces.WithLabelValues(t.Properties["source"], t.Severity.String()).Inc()
}

// TrackException counts the exception.
func (p *PrometheusRecorder) TrackException(_ context.Context, e Exception) {
	if e.Err == nil {
		return
	}
	p.exceptions.WithLabelValues(e.Properties["source"], e.Severity.String()).Inc()
}

// TrackRequest counts the invocation and observes its duration.
func (p *PrometheusRecorder) TrackRequest(_ context.Context, r Request) {
	source := r.Properties["source"]
	success := "false"
	if r.Success {
		success = "true"
	}
	p.requests.WithLabelValues(source, r.ResultCode, success).Inc()
	p.duration.WithLabelValues(source).Observe(r.Duration.Seconds())
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recaptcha_defer"

// Page outcomes recorded by RecordPage
const (
	OutcomeRewritten  = "rewritten"
	OutcomeIneligible = "ineligible"
	OutcomeUnchanged  = "unchanged"
	OutcomeNotHTML    = "not_html"
	OutcomeError      = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Upstream metrics
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec

	// Rewrite metrics
	PagesProcessed *prometheus.CounterVec
	TagsMarked     prometheus.Counter
	LoaderInjected prometheus.Counter
	Decisions      *prometheus.CounterVec
	ProcessSeconds prometheus.Histogram

	// Simulation metrics
	Simulations *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	PagesRewritten int64   `json:"pages_rewritten"`
	PagesSkipped   int64   `json:"pages_skipped"`
	TagsMarked     int64   `json:"tags_marked"`
	TotalDuration  float64 `json:"total_duration_seconds"`
	RequestCount   int64   `json:"request_count"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		UpstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Total number of upstream fetches",
			},
			[]string{"status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream fetch duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Total number of failed upstream fetches",
			},
			[]string{"error_type"},
		),

		PagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_processed_total",
				Help:      "Pages run through the optimizer, by outcome",
			},
			[]string{"outcome"},
		),
		TagsMarked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tags_marked_total",
				Help:      "Script tags neutralized by the marker",
			},
		),
		LoaderInjected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_injected_total",
				Help:      "Pages that received the deferred loader",
			},
		),
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eligibility_decisions_total",
				Help:      "Eligibility decisions by rule",
			},
			[]string{"reason", "load"},
		),
		ProcessSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "process_duration_seconds",
				Help:      "Time spent rewriting one page",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),

		Simulations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "Simulated page loads by mode and trigger",
			},
			[]string{"mode", "trigger"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordUpstreamCall records an upstream fetch
func (m *Metrics) RecordUpstreamCall(status string, duration time.Duration) {
	m.UpstreamCalls.WithLabelValues(status).Inc()
	m.UpstreamDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordUpstreamError records a failed upstream fetch
func (m *Metrics) RecordUpstreamError(errorType string) {
	m.UpstreamErrors.WithLabelValues(errorType).Inc()
}

// RecordPage records one optimizer run
func (m *Metrics) RecordPage(outcome string, marked int, injected bool, duration time.Duration) {
	m.PagesProcessed.WithLabelValues(outcome).Inc()
	m.TagsMarked.Add(float64(marked))
	if injected {
		m.LoaderInjected.Inc()
	}
	m.ProcessSeconds.Observe(duration.Seconds())

	m.mu.Lock()
	if outcome == OutcomeRewritten {
		m.snapshot.PagesRewritten++
	} else {
		m.snapshot.PagesSkipped++
	}
	m.snapshot.TagsMarked += int64(marked)
	m.mu.Unlock()
}

// RecordDecision records an eligibility decision
func (m *Metrics) RecordDecision(reason string, load bool) {
	l := "false"
	if load {
		l = "true"
	}
	m.Decisions.WithLabelValues(reason, l).Inc()
}

// RecordSimulation records a simulated page load
func (m *Metrics) RecordSimulation(mode, trigger string) {
	if trigger == "" {
		trigger = "none"
	}
	m.Simulations.WithLabelValues(mode, trigger).Inc()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

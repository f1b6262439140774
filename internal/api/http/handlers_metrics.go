package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps the collector so handlers work without one
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackDecision records a decision made outside the optimizer
func (hm *HandlerMetrics) TrackDecision(reason string, load bool) {
	if hm.metrics != nil {
		hm.metrics.RecordDecision(reason, load)
	}
}

// TrackSimulation records a finished simulation
func (hm *HandlerMetrics) TrackSimulation(mode, trigger string) {
	if hm.metrics != nil {
		hm.metrics.RecordSimulation(mode, trigger)
	}
}

// TrackPassthrough records a proxied response the optimizer never saw
func (hm *HandlerMetrics) TrackPassthrough(outcome string) {
	if hm.metrics != nil {
		hm.metrics.RecordPage(outcome, 0, false, 0)
	}
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	RewriteRate      float64 `json:"rewrite_rate"`
}

// MetricsJSON returns the counters in JSON for dashboards without a
// Prometheus scraper
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics disabled"})
		return
	}

	snapshot := h.metrics.metrics.Snapshot()
	resp := gin.H{
		"timestamp": time.Now(),
		"counters":  snapshot,
		"summary":   summarize(snapshot),
	}
	if h.origin != nil {
		resp["breakers"] = h.origin.Breakers()
	}
	if h.pool != nil {
		resp["sandbox"] = h.pool.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func summarize(s monitoring.MetricsSnapshot) MetricsSummary {
	var summary MetricsSummary
	if s.RequestCount > 0 {
		summary.AverageLatencyMs = s.TotalDuration / float64(s.RequestCount) * 1000
	}
	if s.TotalRequests > 0 {
		summary.ErrorRate = float64(s.TotalErrors) / float64(s.TotalRequests)
	}
	if pages := s.PagesRewritten + s.PagesSkipped; pages > 0 {
		summary.RewriteRate = float64(s.PagesRewritten) / float64(pages)
	}
	return summary
}

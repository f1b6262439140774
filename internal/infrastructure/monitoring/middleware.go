package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// OutcomeKey is the gin context key a handler stores the page outcome under
const OutcomeKey = "recaptcha_defer.outcome"

// ProxyRoute labels requests served by the origin proxy. Their paths are
// unbounded, so they share one label.
const ProxyRoute = "proxy"

// SetOutcome records what happened to the page served by this request
func SetOutcome(c *gin.Context, outcome string) {
	c.Set(OutcomeKey, outcome)
}

// Outcome returns the page outcome a handler recorded, if any
func Outcome(c *gin.Context) string {
	return c.GetString(OutcomeKey)
}

// Route returns the registered route of a request, or ProxyRoute
func Route(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return ProxyRoute
}

// Middleware records request counts, latency and sizes per route
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		metrics.RecordHTTPRequest(
			c.Request.Method,
			Route(c),
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			max(c.Request.ContentLength, 0),
			max(int64(c.Writer.Size()), 0),
		)
	}
}

// Timer measures one upstream fetch
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer starts timing a fetch
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{start: time.Now(), metrics: metrics}
}

// Stop records the fetch under its status label
func (t *Timer) Stop(status string) {
	t.metrics.RecordUpstreamCall(status, time.Since(t.start))
}

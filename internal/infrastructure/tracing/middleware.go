package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
)

// HTTPMiddleware opens a span per request, continuing the caller's trace when
// the trace headers are present. Proxied pages are tagged with their outcome.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(c.Request.Header)
		span, ctx := tracer.StartSpan(WithTrace(c.Request.Context(), traceID, parentID), monitoring.Route(c))
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		defer func() {
			span.Finish()
			tracer.Submit(span)
		}()

		c.Next()

		status := c.Writer.Status()
		span.SetStatus(status)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		span.SetTag("http.status", strconv.Itoa(status))
		if outcome := monitoring.Outcome(c); outcome != "" {
			span.SetTag("page.outcome", outcome)
		}
		if last := c.Errors.Last(); last != nil {
			span.SetError(last)
		}
	}
}

package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
	"github.com/GriffinCanCode/recaptcha-defer/internal/upstream"
)

// Proxy forwards unrouted requests to the origin and rewrites the HTML pages
// it returns
func (h *Handlers) Proxy(c *gin.Context) {
	if h.origin == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no origin configured"})
		return
	}

	resp, err := h.origin.Fetch(c.Request.Context(), upstream.RequestFrom(c.Request))
	if err != nil && !errors.Is(err, upstream.ErrNotHTML) {
		h.originFailed(c, err)
		return
	}

	header := upstream.ResponseHeader(resp.Header)
	if err != nil || !rewritable(c.Request.Method, resp.Status) {
		outcome := monitoring.OutcomeUnchanged
		if err != nil {
			outcome = monitoring.OutcomeNotHTML
		}
		h.metrics.TrackPassthrough(outcome)
		monitoring.SetOutcome(c, outcome)
		h.write(c, resp.Status, header, resp.Body)
		return
	}

	page := eligibility.Page{
		Path:        c.Request.URL.Path,
		IsFrontPage: c.Request.URL.Path == "/",
	}
	res, err := h.optimizer.Process(c.Request.Context(), page, resp.Body)
	if err != nil {
		h.logger.Warn("Rewrite failed, serving origin page",
			zap.String("path", page.Path),
			zap.Error(err),
		)
		monitoring.SetOutcome(c, monitoring.OutcomeError)
		h.write(c, resp.Status, header, resp.Body)
		return
	}
	monitoring.SetOutcome(c, res.Outcome)

	if res.Changed() {
		header.Set("ETag", res.ETag)
		header.Del("Content-MD5")
		header.Del("Digest")
		if utils.ETagMatch(c.GetHeader("If-None-Match"), res.ETag) {
			h.write(c, http.StatusNotModified, header, nil)
			return
		}
	}
	h.write(c, resp.Status, header, res.HTML)
}

func (h *Handlers) write(c *gin.Context, status int, header http.Header, body []byte) {
	dst := c.Writer.Header()
	for key, values := range header {
		dst[key] = values
	}
	if status == http.StatusNotModified || status == http.StatusNoContent || len(body) == 0 {
		c.Status(status)
		c.Writer.WriteHeaderNow()
		return
	}
	c.Data(status, header.Get("Content-Type"), body)
}

func (h *Handlers) originFailed(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
		c.Header("Retry-After", "30")
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		c.Abort()
		return
	}

	h.logger.Warn("Origin fetch failed",
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	c.JSON(status, gin.H{"error": http.StatusText(status)})
}

// rewritable reports whether a response is a page a visitor renders
func rewritable(method string, status int) bool {
	return method != http.MethodHead && status == http.StatusOK
}

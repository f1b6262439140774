package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
	"github.com/GriffinCanCode/recaptcha-defer/internal/upstream"
)

// Version is reported by the root endpoint
const Version = "1.0.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	optimizer *optimizer.Optimizer
	origin    *upstream.Client
	pool      *sandbox.Pool
	metrics   *HandlerMetrics
	logger    *zap.Logger
	hasher    *utils.Hasher

	script     string
	scriptETag string
	started    time.Time
}

// Deps are the components the handlers serve. Origin and Pool may be nil:
// without an origin the proxy answers 404, without a pool each loader
// simulation gets its own runtime.
type Deps struct {
	Optimizer *optimizer.Optimizer
	Origin    *upstream.Client
	Pool      *sandbox.Pool
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) (*Handlers, error) {
	if deps.Optimizer == nil {
		return nil, fmt.Errorf("handlers require an optimizer")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	script, err := injector.Script(deps.Optimizer.Options())
	if err != nil {
		return nil, err
	}
	hasher := utils.DefaultHasher()

	return &Handlers{
		optimizer:  deps.Optimizer,
		origin:     deps.Origin,
		pool:       deps.Pool,
		metrics:    NewHandlerMetrics(deps.Metrics),
		logger:     logger,
		hasher:     hasher,
		script:     script,
		scriptETag: hasher.ETag([]byte(script)),
		started:    time.Now(),
	}, nil
}

// Root handles liveness checks
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "recaptcha-defer",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	resp := gin.H{
		"uptime_seconds": time.Since(h.started).Seconds(),
		"loader":         gin.H{"etag": h.scriptETag, "bytes": len(h.script)},
	}

	if h.origin != nil {
		breakers := h.origin.Breakers()
		for _, state := range breakers {
			if state != "closed" {
				status = "degraded"
			}
		}
		resp["upstream"] = gin.H{
			"url":      h.origin.BaseURL().String(),
			"breakers": breakers,
		}
	}
	if h.pool != nil {
		resp["sandbox"] = h.pool.Stats()
	}

	resp["status"] = status
	c.JSON(http.StatusOK, resp)
}

// Loader serves the standalone loader script for pages that include it by
// URL instead of inline
func (h *Handlers) Loader(c *gin.Context) {
	c.Header("ETag", h.scriptETag)
	c.Header("Cache-Control", "public, max-age=3600")
	if utils.ETagMatch(c.GetHeader("If-None-Match"), h.scriptETag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(h.script))
}

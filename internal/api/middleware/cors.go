package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/tracing"
)

// CORSConfig controls cross-origin access to the API and the loader script.
// Proxied pages keep whatever CORS headers the origin sends.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows any origin to call the API and fetch the loader
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "Content-Type", "Content-Length", "Cache-Control", "If-None-Match", HeaderRequestID},
		ExposeHeaders: []string{"ETag", HeaderRequestID, tracing.HeaderTraceID},
		MaxAge:        12 * time.Hour,
	}
}

// WithOrigins returns a copy restricted to origins. An empty list keeps the
// current origins.
func (cfg CORSConfig) WithOrigins(origins []string) CORSConfig {
	if len(origins) == 0 {
		return cfg
	}
	cfg.AllowOrigins = append([]string(nil), origins...)
	return cfg
}

func (cfg CORSConfig) contrib() cors.Config {
	c := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = cfg.AllowOrigins
	return c
}

// CORS returns the gin-contrib/cors handler for cfg
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cfg.contrib())
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/recaptcha-defer/internal/api/http"
	"github.com/GriffinCanCode/recaptcha-defer/internal/api/middleware"
	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/config"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
	"github.com/GriffinCanCode/recaptcha-defer/internal/sandbox"
	"github.com/GriffinCanCode/recaptcha-defer/internal/upstream"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	pool    *sandbox.Pool
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return New(cfg, logger)
}

// New creates a server with an existing logger
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing recaptcha-defer proxy",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("upstream", cfg.Upstream.URL),
		zap.Duration("loader_timeout", cfg.Loader.Timeout),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	// Initialize distributed tracing
	tracer := tracing.New("recaptcha-defer", logger.Component("tracing"))

	rules, err := config.LoadRules(cfg.Rules.File)
	if err != nil {
		tracer.Close()
		return nil, err
	}
	gate, err := eligibility.NewGate(rules, eligibility.WithLogger(logger.Component("eligibility")))
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("invalid eligibility rules: %w", err)
	}

	loader := injector.DefaultOptions()
	if cfg.Loader.Timeout > 0 {
		loader.Timeout = cfg.Loader.Timeout
	}
	if err := injector.Validate(loader); err != nil {
		tracer.Close()
		return nil, err
	}
	opt, err := optimizer.New(gate, loader)
	if err != nil {
		tracer.Close()
		return nil, err
	}
	opt.WithMetrics(metrics).WithLogger(logger.Component("optimizer"))

	var origin *upstream.Client
	if cfg.Upstream.URL != "" {
		origin, err = upstream.New(upstream.Config{
			BaseURL:           cfg.Upstream.URL,
			Timeout:           cfg.Upstream.Timeout,
			Retries:           cfg.Upstream.Retries,
			RequestsPerSecond: cfg.Upstream.RequestsPerSec,
			MaxBodyBytes:      cfg.Upstream.MaxBodyBytes,
			BreakerFailures:   cfg.Upstream.BreakerFailures,
		}, upstream.WithMetrics(metrics), upstream.WithLogger(logger.Component("upstream")))
		if err != nil {
			tracer.Close()
			return nil, err
		}
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Sandbox.Timeout
	sandboxCfg.Logger = logger.Component("sandbox")
	pool, err := sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
	}

	handlers, err := apihttp.NewHandlers(apihttp.Deps{
		Optimizer: opt,
		Origin:    origin,
		Pool:      pool,
		Metrics:   metrics,
		Logger:    logger.Component("http"),
	})
	if err != nil {
		pool.Close()
		tracer.Close()
		return nil, err
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// Register routes. CORS covers our own endpoints only; proxied pages
	// carry the origin's headers.
	cors := middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.CORSOrigins))

	router.GET("/health", handlers.Health)
	router.GET("/loader.js", cors, handlers.Loader)
	router.OPTIONS("/loader.js", cors)

	api := router.Group("/api", cors)
	api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	api.GET("", handlers.Root)
	api.POST("/mark", handlers.Mark)
	api.POST("/eligibility", handlers.Eligibility)
	api.POST("/optimize", handlers.Optimize)
	api.POST("/simulate", handlers.Simulate)

	// Metrics endpoints
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	router.GET("/metrics/json", handlers.MetricsJSON)

	// Everything else is the origin site
	router.NoRoute(handlers.Proxy)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		pool:    pool,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Metrics returns the server's collector
func (s *Server) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops. It returns nil after
// Shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Draining HTTP server...")
	return s.http.Shutdown(ctx)
}

// Close releases the sandbox pool and the tracer
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.pool.Close(); err != nil {
		s.logger.Error("Failed to close sandbox pool", zap.Error(err))
		return fmt.Errorf("failed to close sandbox pool: %w", err)
	}
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return nil
}

// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbd888/pulseguard/internal/alerts"
	"github.com/mbd888/pulseguard/internal/attest"
	"github.com/mbd888/pulseguard/internal/config"
	"github.com/mbd888/pulseguard/internal/features"
	"github.com/mbd888/pulseguard/internal/graph"
	"github.com/mbd888/pulseguard/internal/health"
	"github.com/mbd888/pulseguard/internal/logging"
	"github.com/mbd888/pulseguard/internal/metrics"
	"github.com/mbd888/pulseguard/internal/ratelimit"
	"github.com/mbd888/pulseguard/internal/realtime"
	"github.com/mbd888/pulseguard/internal/risk"
	"github.com/mbd888/pulseguard/internal/rolling"
	"github.com/mbd888/pulseguard/internal/scoring"
	"github.com/mbd888/pulseguard/internal/security"
	"github.com/mbd888/pulseguard/internal/validation"
)

// Shutdown budgets
const (
	drainDelay       = 2 * time.Second
	httpShutdownWait = 15 * time.Second
	dispatchDrain    = 5 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	signer       attest.Signer
	signerSet    bool
	attestor     *attest.Attestor
	pipeline     *rolling.Pipeline
	scoring      *scoring.Service
	dispatcher   *alerts.Dispatcher
	sinks        alerts.Store
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health and /api
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithSigner overrides the signer built from ATTEST_SIGNER/ATTEST_KEY.
// A nil signer yields checksum-only attestations.
func WithSigner(signer attest.Signer) Option {
	return func(s *Server) {
		s.signer = signer
		s.signerSet = true
	}
}

// WithSinkStore replaces the in-memory sink registry
func WithSinkStore(store alerts.Store) Option {
	return func(s *Server) {
		s.sinks = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: drainDelay,
	}

	// Apply options first (may set signer/logger)
	for _, opt := range opts {
		opt(s)
	}

	if !s.signerSet {
		signer, err := attest.NewSigner(cfg.AttestSigner, cfg.AttestKey)
		if err != nil {
			return nil, fmt.Errorf("attestation signer: %w", err)
		}
		s.signer = signer
	}
	attestor, err := attest.New(cfg.AttestDigest, s.signer)
	if err != nil {
		return nil, fmt.Errorf("attestation digest: %w", err)
	}
	s.attestor = attestor.WithLogger(logging.Component(s.logger, "attest"))
	if s.signer == nil {
		s.logger.Warn("attestation signing disabled, responses carry checksums only",
			"digest", attestor.Info().Digest)
	}

	// Realtime hub doubles as an in-process alert sink
	s.realtimeHub = realtime.NewHub(logging.Component(s.logger, "realtime"))

	if s.sinks == nil {
		s.sinks = alerts.NewMemoryStore()
	}
	s.dispatcher = alerts.NewDispatcher(s.sinks, cfg.SinkTimeout, logging.Component(s.logger, "alerts")).
		WithPublisher(s.realtimeHub)
	if cfg.SinkPublicOnly {
		s.dispatcher.
			WithURLChecker(security.NewPublicURLChecker(nil)).
			WithTransport(security.PublicTransport())
	}
	if cfg.SinkURL != "" {
		if _, err := s.dispatcher.Register(context.Background(), cfg.SinkURL); err != nil {
			return nil, fmt.Errorf("SINK_URL: %w", err)
		}
	}

	var cycles graph.CycleCounter = graph.NewSimpleCycles(cfg.GraphMaxCycles)
	if !cfg.GraphStructural {
		cycles = graph.NoCycles{}
		s.logger.Warn("structural graph analysis disabled, num_cycles will be reported as 0")
	}

	s.pipeline = rolling.New(cfg.FeatureWindow)
	engine := risk.NewEngine().WithAlertThreshold(cfg.AlertThreshold)
	s.scoring = scoring.NewService(s.pipeline, engine, s.attestor, logging.Component(s.logger, "scoring")).
		WithCycleCounter(cycles).
		WithPathLimits(cfg.PathMinHops, cfg.PathMaxPaths, cfg.PathStartNodes).
		WithDispatcher(s.dispatcher).
		WithScorePublisher(s.realtimeHub)

	burst := cfg.RateLimitRPM / 10
	if burst < 1 {
		burst = 1
	}
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})

	s.setupHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("server configured",
		"window", s.pipeline.Window(),
		"alert_threshold", engine.AlertThreshold(),
		"classifier", s.scoring.Classifier().Name(),
		"attestation", s.attestor.Algorithm(),
		"sinks", s.sinks.Count(),
		"rpc", maskURL(cfg.RPCURL),
	)

	return s, nil
}

// maskURL hides credentials and API keys embedded in node URLs
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	// Providers put keys in the path (e.g. /v3/<key>)
	if u.Path != "" && u.Path != "/" {
		u.Path = "/redacted"
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Health checks
// -----------------------------------------------------------------------------

func (s *Server) setupHealthChecks() {
	s.health = health.NewRegistry()

	s.health.Register("rolling", func(ctx context.Context) health.Status {
		return health.Status{
			Healthy: true,
			Data: map[string]any{
				"size":           s.pipeline.Len(),
				"window":         s.pipeline.Window(),
				"featureVersion": features.Version,
			},
		}
	})
	s.health.Register("attestation", func(ctx context.Context) health.Status {
		info := s.attestor.Info()
		return health.Status{
			Healthy: true,
			Data:    map[string]any{"alg": info.Alg, "digest": info.Digest},
		}
	})
	s.health.Register("alerts", func(ctx context.Context) health.Status {
		return health.Status{
			Healthy: true,
			Data:    map[string]any{"sinks": s.sinks.Count()},
		}
	})
	s.health.Register("realtime", func(ctx context.Context) health.Status {
		return health.Status{Healthy: true, Data: s.realtimeHub.Stats()}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honour an upstream request ID (load balancer, producer)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			// probes and scrapes are too frequent for info
			logger.Debug("request completed", "path", path, "status", status)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// Scoring (rate limited)
	scoring.NewHandler(s.scoring).RegisterRoutes(s.router, s.rateLimiter.Middleware())

	// Alert sinks and live stream
	alerts.NewHandler(s.dispatcher).RegisterRoutes(s.router)
	s.router.GET("/stream/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Attestation key and verification
	attest.NewHandler(s.attestor).RegisterRoutes(s.router)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the health check endpoint
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "ok"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	info := s.attestor.Info()
	c.JSON(http.StatusOK, gin.H{
		"name":        "PulseGuard",
		"description": "Streaming transaction risk scoring",
		"version":     s.version,
		"config": gin.H{
			"featureWindow":   s.cfg.FeatureWindow,
			"featureVersion":  features.Version,
			"alertThreshold":  s.cfg.AlertThreshold,
			"classifier":      s.scoring.Classifier().Name(),
			"graphStructural": s.cfg.GraphStructural,
			"pathMinHops":     s.cfg.PathMinHops,
			"pathMaxPaths":    s.cfg.PathMaxPaths,
			"attestationAlg":  info.Alg,
			"attestDigest":    info.Digest,
			"sinkTimeoutMs":   s.cfg.SinkTimeout.Milliseconds(),
			"rateLimitRpm":    s.cfg.RateLimitRPM,
			"rpcUrl":          maskURL(s.cfg.RPCURL),
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go metrics.StartRuntimeCollector(runCtx, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. In-flight alert deliveries get a
// bounded drain; whatever is still pending afterwards is abandoned.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stop hub and collectors after the listener so no new clients arrive
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	dctx, dcancel := context.WithTimeout(context.Background(), dispatchDrain)
	defer dcancel()
	if err := s.dispatcher.Shutdown(dctx); err != nil {
		s.logger.Warn("alert deliveries abandoned", "error", err)
	} else {
		s.logger.Info("alert dispatcher drained")
	}

	s.rateLimiter.Stop()

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lofthouse/trustdesk/internal/config"
	"github.com/lofthouse/trustdesk/internal/disputes"
	"github.com/lofthouse/trustdesk/internal/health"
	"github.com/lofthouse/trustdesk/internal/leases"
	"github.com/lofthouse/trustdesk/internal/logging"
	"github.com/lofthouse/trustdesk/internal/metrics"
	"github.com/lofthouse/trustdesk/internal/moderation"
	"github.com/lofthouse/trustdesk/internal/profiles"
	"github.com/lofthouse/trustdesk/internal/ratelimit"
	"github.com/lofthouse/trustdesk/internal/realtime"
	"github.com/lofthouse/trustdesk/internal/traces"
	"github.com/lofthouse/trustdesk/internal/trust"
	"github.com/lofthouse/trustdesk/internal/validation"
	"github.com/lofthouse/trustdesk/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	trustService   *trust.Service
	disputeService *disputes.Service
	disputeTimer   *disputes.Timer
	modService     *moderation.Service
	dispatcher     *webhooks.Dispatcher
	webhookStore   webhooks.Store
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	traceShutdown  func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage plus the stores that depend on it
	var (
		profileStore  profiles.Store
		leaseRegistry leases.Registry
		trustStore    trust.Store
		disputeStore  disputes.Store
		modStore      moderation.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		profileStore = profiles.NewPostgresStore(db)
		leaseRegistry = leases.NewPostgresRegistry(db)
		trustStore = trust.NewPostgresStore(db)
		disputeStore = disputes.NewPostgresStore(db)
		modStore = moderation.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		memProfiles := profiles.NewMemoryStore()
		memLeases := leases.NewMemoryRegistry()
		profileStore = memProfiles
		leaseRegistry = memLeases
		trustStore = trust.NewMemoryStore()
		disputeStore = disputes.NewMemoryStore()
		modStore = moderation.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")

		if cfg.IsDevelopment() {
			seedDemoData(memProfiles, memLeases)
			s.logger.Info("demo data seeded", "lease", "lease_demo_1")
		}
	}

	// Webhooks (event notifications to external services)
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore).WithSecret(cfg.WebhookSecret)
	emitter := webhooks.NewEmitter(s.dispatcher, s.logger)
	s.logger.Info("webhooks enabled")

	// Trust validation. Demo mode relaxes the score gate so local testing
	// does not require a production-grade composite score.
	policy := &trust.GatePolicy{MinCompositeScore: cfg.TrustScoreThreshold}
	if s.db == nil && cfg.IsDevelopment() {
		policy = trust.DemoPolicy
	}
	s.trustService = trust.NewService(trustStore, trust.NewGate(policy), profileStore, emitter).
		WithLogger(s.logger)
	s.logger.Info("trust validation enabled", "minScore", policy.MinCompositeScore)

	// Disputes with the staleness sweep timer
	s.disputeService = disputes.NewService(disputeStore, leaseRegistry, emitter).
		WithSLA(cfg.UrgentStaleAge, cfg.NormalStaleAge).
		WithLimits(cfg.MinDescription, cfg.RespondMaxRetry)
	s.disputeTimer = disputes.NewTimer(s.disputeService, cfg.SweepInterval, s.logger)
	s.logger.Info("dispute resolution enabled", "sweepInterval", cfg.SweepInterval.String())

	// Listing moderation queue
	s.modService = moderation.NewService(modStore, emitter)
	s.logger.Info("moderation queue enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	trustHandler := trust.NewHandler(s.trustService).
		WithEvents(&validationEventBridge{s.realtimeHub})
	trustHandler.RegisterRoutes(v1)

	disputeHandler := disputes.NewHandler(s.disputeService).
		WithEvents(&disputeEventBridge{s.realtimeHub})
	disputeHandler.RegisterRoutes(v1)

	modHandler := moderation.NewHandler(s.modService).
		WithEvents(&moderationEventBridge{s.realtimeHub})
	modHandler.RegisterRoutes(v1)

	webhookHandler := webhooks.NewHandler(s.webhookStore, s.dispatcher)
	webhookHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
	c.JSON(http.StatusOK, gin.H{
		"name":        "Trustdesk",
		"description": "Trust validation and dispute resolution for rental marketplaces",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start stale dispute sweep
	go s.disputeTimer.Start(runCtx)

	// Export database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the stale dispute sweep
	if s.disputeTimer != nil {
		s.disputeTimer.Stop()
		s.logger.Info("dispute sweep stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// seedDemoData populates the in-memory stores so the API is usable out of
// the box in development mode. The profile and lease stores are owned by
// upstream services in production.
func seedDemoData(p *profiles.MemoryStore, l *leases.MemoryRegistry) {
	p.Put(&profiles.Eligibility{UserID: "usr_demo_tenant", AutomatedVerified: true, CompositeScore: 720})
	p.Put(&profiles.Eligibility{UserID: "usr_demo_landlord", AutomatedVerified: true, CompositeScore: 680})
	p.Put(&profiles.Eligibility{UserID: "usr_demo_lowscore", AutomatedVerified: true, CompositeScore: 250})
	l.Put(&leases.Lease{ID: "lease_demo_1", TenantID: "usr_demo_tenant", LandlordID: "usr_demo_landlord"})
}

// -----------------------------------------------------------------------------
// Realtime bridges
// -----------------------------------------------------------------------------

// validationEventBridge forwards validation status changes to the hub
type validationEventBridge struct {
	hub *realtime.Hub
}

func (b *validationEventBridge) EmitValidationStatus(requestID, userID, status string) {
	b.hub.BroadcastValidationStatus(requestID, userID, status)
}

// disputeEventBridge forwards dispute events to the hub
type disputeEventBridge struct {
	hub *realtime.Hub
}

func (b *disputeEventBridge) EmitDisputeStatus(disputeID, status string) {
	b.hub.BroadcastDisputeStatus(disputeID, status)
}

func (b *disputeEventBridge) EmitDisputeMessage(disputeID, messageID, senderID string) {
	b.hub.BroadcastDisputeMessage(disputeID, messageID, senderID)
}

// moderationEventBridge forwards moderation decisions to the hub
type moderationEventBridge struct {
	hub *realtime.Hub
}

func (b *moderationEventBridge) EmitModerationDecision(itemID, propertyID, status string) {
	b.hub.BroadcastModerationDecision(itemID, propertyID, status)
}

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

	"github.com/edupulse/edupulse/internal/activity"
	"github.com/edupulse/edupulse/internal/cache"
	"github.com/edupulse/edupulse/internal/config"
	"github.com/edupulse/edupulse/internal/interventions"
	"github.com/edupulse/edupulse/internal/logging"
	"github.com/edupulse/edupulse/internal/metrics"
	"github.com/edupulse/edupulse/internal/notify"
	"github.com/edupulse/edupulse/internal/provider"
	"github.com/edupulse/edupulse/internal/ratelimit"
	"github.com/edupulse/edupulse/internal/realtime"
	"github.com/edupulse/edupulse/internal/risk"
	"github.com/edupulse/edupulse/internal/security"
	"github.com/edupulse/edupulse/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	dataProvider provider.DataProvider
	pairLister   provider.PairLister
	resultCache  cache.Cache
	cacheStop    func()

	riskStore    risk.Store
	engine       *risk.Engine
	sweepWorker  *risk.Worker
	tracker      *activity.Tracker
	ivService    *interventions.Service
	webhookStore notify.Store
	dispatcher   *notify.Dispatcher
	emitter      *notify.Emitter
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithProvider sets a custom activity data provider (for testing)
func WithProvider(p provider.DataProvider) Option {
	return func(s *Server) {
		s.dataProvider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Result cache (Redis if REDIS_URL set, otherwise in-process)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.resultCache = rc
		s.logger.Info("using Redis result cache", "addr", cfg.RedisURL)
	} else {
		mem := cache.NewMemory()
		s.resultCache = mem
		s.cacheStop = mem.Stop
		s.logger.Info("using in-process result cache")
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		// Activity tables feed the risk signal queries
		activityStore := activity.NewPostgresStore(db)
		if err := activityStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate activity tables", "error", err)
		}
		s.tracker = activity.NewTracker(activityStore)

		if s.dataProvider == nil {
			pg := provider.NewPostgres(db, cfg.SocialIntegration)
			s.dataProvider = pg
			s.pairLister = pg
		}

		// Risk snapshots with Postgres
		riskStore := risk.NewPostgresStore(db)
		if err := riskStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk store", "error", err)
		}
		s.riskStore = riskStore

		// Interventions with Postgres
		ivStore := interventions.NewPostgresStore(db)
		if err := ivStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate intervention store", "error", err)
		}
		s.ivService = interventions.NewService(ivStore)

		// Webhooks with Postgres
		webhookStore := notify.NewPostgresStore(db)
		if err := webhookStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		s.webhookStore = webhookStore
		s.logger.Info("webhooks enabled")
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		// In demo mode recorded activity must feed the risk signals,
		// so the activity store mirrors events into the provider.
		var sink *provider.Memory
		if s.dataProvider == nil {
			mem := provider.NewMemory()
			mem.SetForumSignal(cfg.SocialIntegration)
			mem.SetAssignmentSignal(true)
			s.dataProvider = mem
			s.pairLister = mem
			sink = mem
		}
		s.tracker = activity.NewTracker(activity.NewMemoryStore(sink))

		s.riskStore = risk.NewMemoryStore()
		s.ivService = interventions.NewService(interventions.NewMemoryStore())
		s.webhookStore = notify.NewMemoryStore()
	}
	s.tracker = s.tracker.WithCache(s.resultCache).WithLogger(s.logger)

	// Risk engine
	s.engine = risk.NewEngine(s.dataProvider, s.riskStore).
		WithCache(s.resultCache, cfg.RiskCacheTTL).
		WithWeights(risk.Weights{
			Inactivity:  cfg.Weights.Inactivity,
			Velocity:    cfg.Weights.Velocity,
			Quiz:        cfg.Weights.Quiz,
			Forum:       cfg.Weights.Forum,
			Assignments: cfg.Weights.Assignments,
		}).
		WithThresholds(risk.Thresholds{
			Low:      cfg.Thresholds.Low,
			Medium:   cfg.Thresholds.Medium,
			High:     cfg.Thresholds.High,
			Critical: cfg.Thresholds.Critical,
		}).
		WithSentinelDays(cfg.InactivityDays).
		WithLogger(s.logger)

	// Outbound notifications
	s.dispatcher = notify.NewDispatcher(s.webhookStore)
	s.emitter = notify.NewEmitter(s.dispatcher, s.logger)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Fan recorded activity out to live dashboards
	s.tracker = s.tracker.OnTracked(func(ctx context.Context, e *activity.Event) {
		s.realtimeHub.BroadcastActivity(map[string]any{
			"eventId":  e.ID,
			"userId":   e.UserID,
			"courseId": e.CourseID,
			"type":     string(e.Type),
		})
	})

	// Fan logged interventions out to webhooks and live dashboards
	s.ivService = s.ivService.OnLogged(func(ctx context.Context, iv *interventions.Intervention) {
		s.emitter.EmitInterventionLogged(iv.ID, iv.UserID, iv.CourseID, string(iv.Type), iv.RiskScore)
		s.realtimeHub.BroadcastIntervention(map[string]any{
			"interventionId": iv.ID,
			"userId":         iv.UserID,
			"courseId":       iv.CourseID,
			"type":           string(iv.Type),
			"status":         string(iv.Status),
			"riskScore":      iv.RiskScore,
		})
	})

	// Background sweep recalculates every recently active student
	if s.pairLister != nil {
		s.sweepWorker = risk.NewWorker(s.engine, s.pairLister, cfg.SweepInterval, cfg.SweepLookback, s.logger).
			OnResult(func(ctx context.Context, r *risk.Result) {
				s.emitter.EmitRiskCalculated(r.UserID, r.CourseID, r.Score, string(r.Level), string(r.Trend))
				s.realtimeHub.BroadcastRiskScore(map[string]any{
					"userId":   r.UserID,
					"courseId": r.CourseID,
					"score":    r.Score,
					"level":    string(r.Level),
					"trend":    string(r.Trend),
				})
			})
		s.logger.Info("risk sweep scheduled", "interval", cfg.SweepInterval, "lookback", cfg.SweepLookback)
	}

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

// apiKeyMiddleware guards mutating endpoints when API_KEY is configured.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != s.cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A valid X-API-Key header is required",
			})
			return
		}
		c.Next()
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

	// V1 API group
	v1 := s.router.Group("/v1")

	// Mutating endpoints require the shared API key when configured
	mutating := s.router.Group("/v1")
	mutating.Use(s.apiKeyMiddleware())

	riskHandler := risk.NewHandler(s.engine, s.riskStore).
		WithListCache(s.resultCache, s.cfg.ListCacheTTL)
	riskHandler.RegisterRoutes(v1, mutating)

	activityHandler := activity.NewHandler(s.tracker)
	activityHandler.RegisterRoutes(v1, mutating)

	ivHandler := interventions.NewHandler(s.ivService)
	ivHandler.RegisterRoutes(v1, mutating)

	webhookHandler := notify.NewHandler(s.webhookStore)
	if s.cfg.IsProduction() {
		// SSRF guard resolves DNS, so keep it out of local development
		webhookHandler = webhookHandler.WithURLCheck(security.ValidateEndpointURL)
	}
	webhookHandler.RegisterRoutes(mutating)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	if s.realtimeHub != nil {
		go s.realtimeHub.Run(runCtx)
	}

	// Start risk sweep worker
	if s.sweepWorker != nil {
		go s.sweepWorker.Start(runCtx)
	}

	// Export connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, sweep worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop sweep worker
	if s.sweepWorker != nil {
		s.sweepWorker.Stop()
		s.logger.Info("sweep worker stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Let in-flight webhook deliveries finish
	if s.dispatcher != nil {
		s.dispatcher.Wait()
		s.logger.Info("webhook deliveries drained")
	}

	// Stop in-process cache janitor
	if s.cacheStop != nil {
		s.cacheStop()
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

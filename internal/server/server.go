// Package server sets up the HTTP server with all routes
package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/verigate/internal/challenge"
	"github.com/mbd888/verigate/internal/circuitbreaker"
	"github.com/mbd888/verigate/internal/config"
	"github.com/mbd888/verigate/internal/fingerprint"
	"github.com/mbd888/verigate/internal/health"
	"github.com/mbd888/verigate/internal/kv"
	"github.com/mbd888/verigate/internal/logging"
	"github.com/mbd888/verigate/internal/metrics"
	"github.com/mbd888/verigate/internal/pagination"
	"github.com/mbd888/verigate/internal/ratelimit"
	"github.com/mbd888/verigate/internal/realtime"
	"github.com/mbd888/verigate/internal/retry"
	"github.com/mbd888/verigate/internal/risk"
	"github.com/mbd888/verigate/internal/security"
	"github.com/mbd888/verigate/internal/telemetry"
	"github.com/mbd888/verigate/internal/traces"
	"github.com/mbd888/verigate/internal/validation"
	"github.com/mbd888/verigate/internal/verify"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        kv.Store
	riskStore    risk.Store
	assessor     *risk.Assessor
	gate         *verify.Gate
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB        // nil unless using Postgres
	redisStore   *kv.RedisStore // nil unless using Redis
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	httpClient   *http.Client
	callbackURL  string
	callbackCB   *circuitbreaker.Breaker
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Per-session telemetry recorders, keyed by session ID
	recMu     sync.Mutex
	recorders map[string]*recorderEntry

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// recorderIdleTTL bounds how long an untouched telemetry recorder
// survives. Session IDs are client-chosen, so sessions that begin a
// challenge and walk away would otherwise pin their recorders forever.
const recorderIdleTTL = 30 * time.Minute

type recorderEntry struct {
	rec     *telemetry.Recorder
	touched time.Time
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets a custom KV store (for testing)
func WithStore(store kv.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, "json"),
		recorders:  make(map[string]*recorderEntry),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage: Postgres if DATABASE_URL set, Redis if REDIS_URL
	// set, otherwise in-memory
	if s.store == nil {
		switch {
		case cfg.DatabaseURL != "":
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
			pgStore := kv.NewPostgresStore(db)
			if err := pgStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate kv store", "error", err)
			}
			s.store = pgStore
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

			// Assessment audit trail with Postgres
			riskStore := risk.NewPostgresStore(db)
			if err := riskStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate assessment store", "error", err)
			}
			s.riskStore = riskStore
			s.logger.Info("assessment audit trail enabled")

		case cfg.RedisURL != "":
			rs, err := kv.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			if err := rs.Ping(ctx); err != nil {
				return nil, fmt.Errorf("failed to ping redis: %w", err)
			}
			s.redisStore = rs
			s.store = rs
			s.riskStore = risk.NewMemoryStore()
			s.logger.Info("using Redis storage", "url", maskDSN(cfg.RedisURL))

		default:
			s.store = kv.NewMemoryStore()
			s.riskStore = risk.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}
	if s.riskStore == nil {
		s.riskStore = risk.NewMemoryStore()
	}

	// Threat assessor over the audit store
	s.assessor = risk.NewAssessor(s.riskStore)

	// Verification gate
	s.gate = verify.NewGate(s.store,
		verify.WithAssessor(s.assessor),
		verify.WithTrustedEnvironment(cfg.TrustedEnvironment, cfg.HeadlessLeniency),
		verify.WithFlagTTL(time.Duration(cfg.FlagTTLHours)*time.Hour),
		verify.WithLogger(s.logger),
	)
	if cfg.TrustedEnvironment {
		s.logger.Info("trusted environment mode enabled", "leniency", cfg.HeadlessLeniency)
	}

	// Outcome callback (optional)
	if cfg.CallbackURL != "" {
		if err := security.ValidateEndpointURL(cfg.CallbackURL); err != nil {
			s.logger.Warn("callback URL rejected, callbacks disabled", "error", err)
		} else {
			s.callbackURL = cfg.CallbackURL
			s.callbackCB = circuitbreaker.New(5, 30*time.Second)
			s.logger.Info("outcome callbacks enabled", "url", cfg.CallbackURL)
		}
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("store", func(ctx context.Context) health.Status {
		if err := s.store.Ping(ctx); err != nil {
			return health.Status{Name: "store", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "store", Healthy: true}
	})

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

	// Per-IP rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitPerMin > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitPerMin
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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

// requireAdmin checks the X-Admin-Secret header against the configured secret.
// When no secret is configured (demo mode), admin routes are open.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret != "" && c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin secret required",
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

	// Ops status page
	s.router.GET("/", s.statusPageHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :session URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.SessionParamMiddleware())

	// Verification flow
	v1.POST("/verification/begin", s.beginHandler)
	v1.POST("/verification/submit", s.submitHandler)
	v1.GET("/verification/status/:session", s.statusHandler)
	v1.GET("/verification/records/:session", s.recordsHandler)

	// Telemetry ingest (client event batches)
	v1.POST("/telemetry/:session/events", s.telemetryHandler)

	// Fingerprint computation and plausibility check
	v1.POST("/fingerprint", s.fingerprintHandler)

	// Assessment audit trail
	v1.GET("/assessments/:session", s.assessmentsHandler)

	// Admin routes
	admin := v1.Group("")
	admin.Use(s.requireAdmin())
	{
		admin.POST("/verification/reset/:session", s.resetHandler)
		admin.GET("/admin/hub/stats", s.hubStatsHandler)
	}
}

// -----------------------------------------------------------------------------
// Request/response types
// -----------------------------------------------------------------------------

// sampleRequest carries client-computed telemetry counters.
type sampleRequest struct {
	PointerMoves int                    `json:"pointerMoves"`
	KeyPresses   int                    `json:"keyPresses"`
	ElapsedMs    int64                  `json:"elapsedMs"`
	Scrolled     bool                   `json:"scrolled"`
	FocusChanges int                    `json:"focusChanges"`
	Events       []telemetry.InputEvent `json:"events,omitempty"`
}

func (r *sampleRequest) sample() telemetry.Sample {
	return telemetry.Sample{
		PointerMoves: r.PointerMoves,
		KeyPresses:   r.KeyPresses,
		Elapsed:      time.Duration(r.ElapsedMs) * time.Millisecond,
		Scrolled:     r.Scrolled,
		FocusChanges: r.FocusChanges,
		Events:       r.Events,
	}
}

// -----------------------------------------------------------------------------
// Verification handlers
// -----------------------------------------------------------------------------

// beginHandler handles POST /v1/verification/begin
func (s *Server) beginHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Session string `json:"session" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidSessionID(req.Session) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session",
			"message": "session must be 1-128 characters of [a-zA-Z0-9_-]",
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "verification.begin", traces.SessionID(req.Session))
	defer span.End()

	res, err := s.gate.Begin(ctx, req.Session)
	if err != nil {
		logging.L(ctx).Error("begin failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to begin verification",
		})
		return
	}

	if res.Challenge != nil {
		metrics.ChallengesIssuedTotal.WithLabelValues(string(res.Challenge.Kind)).Inc()

		// Open a telemetry window for the attempt
		rec := telemetry.NewRecorder(req.Session, telemetry.WithSink(s.realtimeHub))
		_ = rec.Subscribe()
		s.recMu.Lock()
		s.recorders[req.Session] = &recorderEntry{rec: rec, touched: time.Now()}
		s.recMu.Unlock()

		s.realtimeHub.Broadcast(&realtime.Event{
			Type:      realtime.EventChallenge,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session": req.Session,
				"kind":    string(res.Challenge.Kind),
			},
		})
	}

	c.JSON(http.StatusOK, s.resultResponse(res))
}

// submitHandler handles POST /v1/verification/submit
func (s *Server) submitHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Session string              `json:"session" binding:"required"`
		Answer  string              `json:"answer"`
		Sample  *sampleRequest      `json:"sample,omitempty"`
		Signals fingerprint.Signals `json:"signals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidSessionID(req.Session) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session",
			"message": "session must be 1-128 characters of [a-zA-Z0-9_-]",
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "verification.submit", traces.SessionID(req.Session))
	defer span.End()

	answer := validation.SanitizeAnswer(req.Answer)

	// Prefer the client-computed sample; fall back to the server-side
	// recorder window for this session.
	var sample telemetry.Sample
	if req.Sample != nil {
		sample = req.Sample.sample()
	} else {
		s.recMu.Lock()
		entry := s.recorders[req.Session]
		if entry != nil {
			entry.touched = time.Now()
		}
		s.recMu.Unlock()
		if entry != nil {
			sample = entry.rec.Snapshot()
		}
	}

	res, err := s.gate.Submit(ctx, req.Session, answer, sample, req.Signals)
	if err != nil {
		if errors.Is(err, verify.ErrNoChallenge) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_challenge",
				"message": "No active challenge for this session. Call begin first.",
			})
			return
		}
		logging.L(ctx).Error("submit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process submission",
		})
		return
	}

	span.SetAttributes(traces.Outcome(string(res.Status)))
	s.recordOutcome(req.Session, res)

	// Close the telemetry window on terminal outcomes
	if res.Status == verify.StatusVerified {
		s.recMu.Lock()
		if entry := s.recorders[req.Session]; entry != nil {
			_ = entry.rec.Unsubscribe()
			delete(s.recorders, req.Session)
		}
		s.recMu.Unlock()
	}

	c.JSON(http.StatusOK, s.resultResponse(res))
}

// recordOutcome fans an outcome out to metrics, the realtime hub, and the
// configured callback endpoint.
func (s *Server) recordOutcome(session string, res verify.Result) {
	metrics.VerificationAttemptsTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.BehaviorScore.Observe(float64(res.BehaviorScore))
	if res.Assessment != nil {
		metrics.ThreatAssessmentsTotal.WithLabelValues(string(res.Assessment.Level)).Inc()
	}
	if res.Status == verify.StatusBlocked {
		metrics.RateLimitBlocksTotal.Inc()
		s.realtimeHub.Broadcast(&realtime.Event{
			Type:      realtime.EventBlock,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session":    session,
				"retryAfter": res.RetryAfter.Seconds(),
			},
		})
	}

	outcome := map[string]interface{}{
		"session":  session,
		"status":   string(res.Status),
		"attempts": res.Attempts,
	}
	if res.Assessment != nil {
		outcome["riskScore"] = float64(res.Assessment.Confidence)
		outcome["riskLevel"] = string(res.Assessment.Level)
	}
	s.realtimeHub.BroadcastOutcome(outcome)

	if s.callbackURL != "" {
		go s.postCallback(outcome)
	}
}

// postCallback delivers an outcome to the configured callback endpoint.
// Best effort; transient failures retry with backoff, a run of failures
// trips the breaker and drops deliveries until the endpoint recovers.
func (s *Server) postCallback(outcome map[string]interface{}) {
	if !s.callbackCB.Allow("callback") {
		s.logger.Warn("outcome callback skipped, circuit open")
		return
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.callbackURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("callback endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return retry.Permanent(fmt.Errorf("callback endpoint rejected with %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		s.callbackCB.RecordFailure("callback")
		s.logger.Warn("outcome callback failed", "error", err)
		return
	}
	s.callbackCB.RecordSuccess("callback")
}

// statusHandler handles GET /v1/verification/status/:session
func (s *Server) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()
	session := c.Param("session")

	res, err := s.gate.Status(ctx, session)
	if err != nil {
		logging.L(ctx).Error("status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read verification status",
		})
		return
	}

	c.JSON(http.StatusOK, s.resultResponse(res))
}

// recordsHandler handles GET /v1/verification/records/:session
func (s *Server) recordsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	session := c.Param("session")

	records, err := s.gate.Records(ctx, session)
	if err != nil {
		logging.L(ctx).Error("records lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read verification records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"records": records,
		"count":   len(records),
	})
}

// resetHandler handles POST /v1/verification/reset/:session (admin)
func (s *Server) resetHandler(c *gin.Context) {
	ctx := c.Request.Context()
	session := c.Param("session")

	if err := s.gate.Reset(ctx, session); err != nil {
		logging.L(ctx).Error("reset failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to reset session",
		})
		return
	}

	s.recMu.Lock()
	if entry := s.recorders[session]; entry != nil {
		_ = entry.rec.Unsubscribe()
		delete(s.recorders, session)
	}
	s.recMu.Unlock()

	logging.L(ctx).Info("session reset", "session", session)
	c.JSON(http.StatusOK, gin.H{"session": session, "reset": true})
}

// telemetryHandler handles POST /v1/telemetry/:session/events
func (s *Server) telemetryHandler(c *gin.Context) {
	session := c.Param("session")

	var req struct {
		Events []struct {
			Kind     string `json:"kind" binding:"required"`
			ValueLen int    `json:"valueLen"`
		} `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	s.recMu.Lock()
	entry := s.recorders[session]
	if entry != nil {
		entry.touched = time.Now()
	}
	s.recMu.Unlock()
	if entry == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_window",
			"message": "No open telemetry window for this session. Call begin first.",
		})
		return
	}
	rec := entry.rec

	for _, ev := range req.Events {
		switch ev.Kind {
		case "pointermove":
			rec.RecordPointerMove()
		case "keydown":
			rec.RecordKeyPress()
		case "paste":
			rec.RecordInput(telemetry.KindPaste, ev.ValueLen)
		case "change":
			rec.RecordInput(telemetry.KindChange, ev.ValueLen)
		case "scroll":
			rec.RecordScroll()
		case "focuschange":
			rec.RecordFocusChange()
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": len(req.Events)})
}

// fingerprintHandler handles POST /v1/fingerprint
func (s *Server) fingerprintHandler(c *gin.Context) {
	var signals fingerprint.Signals
	if err := c.ShouldBindJSON(&signals); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	id := fingerprint.Compute(signals)
	report := fingerprint.Validate(signals)

	c.JSON(http.StatusOK, gin.H{
		"fingerprint":  id,
		"plausibility": report,
	})
}

// assessmentsHandler handles GET /v1/assessments/:session
func (s *Server) assessmentsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	session := c.Param("session")

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 50",
			})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	// Stores cap the trail per session, so one fetch covers every page.
	assessments, err := s.riskStore.ListBySession(ctx, session, 50)
	if err != nil {
		logging.L(ctx).Error("assessment lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read assessments",
		})
		return
	}

	// Results are newest first. A cursor points at the last item of the
	// previous page; resume strictly after it.
	if cursor != nil {
		idx := len(assessments)
		for i, a := range assessments {
			if a.ID == cursor.ID {
				idx = i + 1
				break
			}
			if a.EvaluatedAt.Before(cursor.CreatedAt) {
				idx = i
				break
			}
		}
		assessments = assessments[idx:]
	}
	if len(assessments) > limit+1 {
		assessments = assessments[:limit+1]
	}

	page, next, hasMore := pagination.ComputePage(assessments, limit, func(a *risk.Assessment) (time.Time, string) {
		return a.EvaluatedAt, a.ID
	})

	resp := gin.H{
		"session":     session,
		"assessments": page,
		"count":       len(page),
		"hasMore":     hasMore,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// hubStatsHandler handles GET /v1/admin/hub/stats (admin)
func (s *Server) hubStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// resultResponse shapes a gate result for JSON transport.
func (s *Server) resultResponse(res verify.Result) gin.H {
	out := gin.H{
		"status":   string(res.Status),
		"attempts": res.Attempts,
	}
	if res.Challenge != nil {
		out["challenge"] = challengeView(res.Challenge)
	}
	if res.Assessment != nil {
		out["assessment"] = res.Assessment
	}
	if res.BehaviorScore != 0 {
		out["behaviorScore"] = res.BehaviorScore
	}
	if res.RetryAfter > 0 {
		out["retryAfterSeconds"] = int64(res.RetryAfter.Seconds())
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	return out
}

// challengeView strips a challenge for transport. The answer never leaves
// the server, but this also pins the exposed field set.
func challengeView(c *challenge.Challenge) gin.H {
	view := gin.H{
		"id":         c.ID,
		"kind":       string(c.Kind),
		"prompt":     c.Prompt,
		"difficulty": c.Difficulty,
		"issuedAt":   c.IssuedAt,
	}
	if c.Image != "" {
		view["image"] = c.Image
	}
	return view
}

// -----------------------------------------------------------------------------
// Info handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string)
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Verigate",
		"description": "Human verification gate with behavioral threat scoring",
		"version":     "0.1.0",
	})
}

const statusPageHTML = `<!DOCTYPE html>
<html>
<head>
<title>Verigate</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 640px; margin: 40px auto; color: #1a1a2e; }
code { background: #f0f0f5; padding: 2px 6px; border-radius: 4px; }
li { margin: 6px 0; }
</style>
</head>
<body>
<h1>Verigate</h1>
<p>Human verification gate with behavioral threat scoring.</p>
<ul>
<li><code>POST /v1/verification/begin</code> &mdash; issue a challenge</li>
<li><code>POST /v1/verification/submit</code> &mdash; submit an answer</li>
<li><code>GET /v1/verification/status/:session</code> &mdash; session status</li>
<li><code>GET /v1/verification/records/:session</code> &mdash; outcome log</li>
<li><code>POST /v1/telemetry/:session/events</code> &mdash; telemetry ingest</li>
<li><code>GET /ws</code> &mdash; realtime event stream</li>
<li><code>GET /health</code>, <code>GET /metrics</code></li>
</ul>
</body>
</html>`

func (s *Server) statusPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, statusPageHTML)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start recorder janitor
	go s.sweepRecorders(runCtx)

	// Start DB stats collector
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

// sweepRecorders evicts telemetry recorders that went quiet without
// reaching a terminal outcome.
func (s *Server) sweepRecorders(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evictIdleRecorders(now.Add(-recorderIdleTTL))
		}
	}
}

func (s *Server) evictIdleRecorders(cutoff time.Time) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	for session, entry := range s.recorders {
		if entry.touched.Before(cutoff) {
			_ = entry.rec.Unsubscribe()
			delete(s.recorders, session)
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
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

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close Redis connection
	if s.redisStore != nil {
		if err := s.redisStore.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		} else {
			s.logger.Info("redis connection closed")
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
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metrics"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
	"github.com/raaihank/phi-sentinel/internal/security"
	"github.com/raaihank/phi-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

// Deps are the components the server exposes over HTTP
type Deps struct {
	Detector *privacy.Detector
	Redactor *redact.Redactor
	Audit    *audit.Logger
	Hub      *websocket.Hub
	Limiter  *security.RateLimiter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server is the PHI detection and audit HTTP service
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	detector *privacy.Detector
	redactor *redact.Redactor
	audit    *audit.Logger
	wsHub    *websocket.Hub
	limiter  *security.RateLimiter
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	router   *mux.Router
	server   *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Detector == nil || deps.Redactor == nil || deps.Audit == nil {
		return nil, errors.New("server requires a detector, redactor and audit logger")
	}
	if deps.Limiter == nil {
		deps.Limiter = security.NewRateLimiter(cfg.RateLimit)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		detector: deps.Detector,
		redactor: deps.Redactor,
		audit:    deps.Audit,
		wsHub:    deps.Hub,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.clientMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if s.config.WebSocket.Enabled && s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodPost)
	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)
	api.HandleFunc("/redact/batch", s.handleRedactBatch).Methods(http.MethodPost)
	api.HandleFunc("/preview", s.handlePreview).Methods(http.MethodPost)

	auditRouter := api.PathPrefix("/audit").Subrouter()
	auditRouter.HandleFunc("/events", s.handleAuditEvents).Methods(http.MethodGet)
	auditRouter.HandleFunc("/metrics", s.handleAuditMetrics).Methods(http.MethodGet)
	auditRouter.HandleFunc("/search", s.handleAuditSearch).Methods(http.MethodGet)
	auditRouter.HandleFunc("/export", s.handleAuditExport).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the background workers and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PHI-Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("privacy_enabled", s.config.Privacy.Enabled),
		zap.Bool("rate_limit_enabled", s.config.RateLimit.Enabled),
		zap.String("audit_backend", s.config.Audit.Storage.Backend),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}
	s.limiter.StartCleanupRoutine(ctx)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PHI-Sentinel server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":               "phi-sentinel",
		"version":            Version,
		"privacy_enabled":    s.config.Privacy.Enabled,
		"rate_limit_enabled": s.config.RateLimit.Enabled,
		"enabled_rules":      len(s.detector.EnabledRules()),
		"audit_backend":      s.config.Audit.Storage.Backend,
	})
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

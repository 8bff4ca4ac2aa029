package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/metrics"
)

// ServerDeps carries the pre-wired dependencies of the API server. The
// binaries own connection lifecycles; the server only serves.
type ServerDeps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Services Services

	// HistoryCache is optional; nil disables the history fast path
	HistoryCache HistoryCache
	// Publisher enables the WebSocket alert stream when set
	Publisher StreamPublisher
	// Metrics enables request instrumentation when set
	Metrics *metrics.Registry
	// MetricsHandler is mounted at /metrics when set
	MetricsHandler http.Handler
	// HealthCheckers feed the readiness probe
	HealthCheckers []HealthChecker
	// ContractPath points at the OpenAPI document; empty disables
	// contract validation
	ContractPath string
	Contract     ContractConfig
}

// Server is the HTTP API server.
type Server struct {
	config      *config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	handlers    *Handlers
	health      *HealthService
	stream      *AlertStreamHandler
	rateLimiter *clientRateLimiter
	middlewares []Middleware
}

// NewServer assembles the router, middleware chain, and http.Server.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Services.Ingestion == nil || deps.Services.Analysis == nil ||
		deps.Services.Alerting == nil || deps.Services.Rules == nil {
		return nil, fmt.Errorf("all services are required")
	}

	errorHandler := NewDefaultErrorHandler(deps.Logger, deps.Config.Environment == "development")
	base := NewBaseHandler(errorHandler, "v1")
	handlers := NewHandlers(base, deps.Services, deps.HistoryCache, deps.Logger)

	healthConfig := DefaultHealthConfig()
	healthConfig.ServiceVersion = deps.Config.Version
	healthConfig.Environment = deps.Config.Environment
	health := NewHealthService(healthConfig, deps.HealthCheckers...)

	var stream *AlertStreamHandler
	if deps.Publisher != nil {
		stream = NewAlertStreamHandler(deps.Publisher, deps.Logger, DefaultStreamConfig())
	}

	rateLimiter := newClientRateLimiter(deps.Config.RateLimit)

	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware(deps.Logger),
		recoveryMiddleware(deps.Logger),
		securityHeadersMiddleware,
		rateLimitMiddleware(rateLimiter),
	}
	if deps.Metrics != nil {
		// After recovery so panics still count as 500s
		middlewares = append(middlewares, metricsMiddleware(deps.Metrics))
	}
	if deps.ContractPath != "" {
		validator, err := NewContractValidator(deps.ContractPath)
		if err != nil {
			return nil, fmt.Errorf("contract validator: %w", err)
		}
		middlewares = append(middlewares, contractMiddleware(validator, deps.Contract, deps.Logger))
	}

	server := &Server{
		config:      deps.Config,
		logger:      deps.Logger,
		handlers:    handlers,
		health:      health,
		stream:      stream,
		rateLimiter: rateLimiter,
		middlewares: middlewares,
	}

	mux := server.setupRoutes(deps.MetricsHandler)

	var h http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	server.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:        h,
		ReadTimeout:    deps.Config.Server.ReadTimeout,
		WriteTimeout:   deps.Config.Server.WriteTimeout,
		IdleTimeout:    deps.Config.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return server, nil
}

// setupRoutes mounts operational endpoints on the root mux and the v1 API
// under /api/v1.
func (s *Server) setupRoutes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", s.health.LivenessHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())
	mux.Handle("GET /startupz", s.health.StartupHandler())

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	if s.stream != nil {
		mux.Handle("GET /ws/v1/alerts", s.stream)
	}

	v1 := http.NewServeMux()
	s.handlers.RegisterRoutes(v1)
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))

	return mux
}

// Handler exposes the fully wrapped root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until the context is canceled or the listener
// fails. SO_REUSEPORT lets a replacement process bind before this one
// finishes draining.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reusePort}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting API server",
		"address", s.httpServer.Addr,
		"environment", s.config.Environment,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured timeout. The
// binaries close the database, cache, and publisher afterward.
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down API server")
	s.rateLimiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", "error", err)
		return err
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

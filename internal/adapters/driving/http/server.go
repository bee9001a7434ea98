package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	authService        driving.AuthService
	syncService        driving.SyncService
	bulkService        driving.BulkService
	reconciler         driving.ReconciliationService
	settingsService    driving.SettingsService
	credentialsService driving.CredentialsService

	// Infrastructure
	taskQueue   driven.TaskQueue
	db          Pinger // PostgreSQL health check
	redisClient Pinger // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Services bundles the driving ports and infrastructure the API exposes.
type Services struct {
	Auth        driving.AuthService
	Sync        driving.SyncService
	Bulk        driving.BulkService // Optional: cancellation only works in-process
	Reconciler  driving.ReconciliationService
	Settings    driving.SettingsService
	Credentials driving.CredentialsService
	TaskQueue   driven.TaskQueue
	DB          Pinger
	Redis       Pinger // can be nil
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:             http.NewServeMux(),
		version:            cfg.Version,
		logger:             logger,
		authService:        svc.Auth,
		syncService:        svc.Sync,
		bulkService:        svc.Bulk,
		reconciler:         svc.Reconciler,
		settingsService:    svc.Settings,
		credentialsService: svc.Credentials,
		taskQueue:          svc.TaskQueue,
		db:                 svc.DB,
		redisClient:        svc.Redis,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	}
	handler = NewLoggingMiddleware(logger).Handler(handler)
	handler = NewRecoveryMiddleware(logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)
	viewer := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}
	operator := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireWrite(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireAdmin(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Order sync endpoints
	s.router.Handle("POST /api/v1/orders/{id}/sync", operator(s.handleSyncOrder))
	s.router.Handle("GET /api/v1/orders/{id}/sync", viewer(s.handleGetSyncState))
	s.router.Handle("DELETE /api/v1/orders/{id}/sync", admin(s.handleResetSyncState))
	s.router.Handle("POST /api/v1/orders/{id}/payment", operator(s.handleApplyPayment))
	s.router.Handle("POST /api/v1/orders/{id}/refunds", operator(s.handleSyncRefund))

	// Bulk sync endpoints
	s.router.Handle("POST /api/v1/batches", operator(s.handleCreateBatch))
	s.router.Handle("DELETE /api/v1/batches/{id}", operator(s.handleCancelBatch))

	// Reconciliation endpoints
	s.router.Handle("POST /api/v1/reconciliations", operator(s.handleCreateReconciliation))
	s.router.Handle("GET /api/v1/reconciliations", viewer(s.handleListReconciliations))
	s.router.Handle("GET /api/v1/reconciliations/{id}", viewer(s.handleGetReconciliation))

	// Settings and credentials endpoints (admin-only)
	s.router.Handle("GET /api/v1/settings", admin(s.handleGetSettings))
	s.router.Handle("PUT /api/v1/settings", admin(s.handleUpdateSettings))
	s.router.Handle("GET /api/v1/credentials", admin(s.handleGetCredentials))
	s.router.Handle("PUT /api/v1/credentials", admin(s.handleSaveCredentials))

	// Storefront webhook (shared secret, no bearer token)
	s.router.Handle("POST /api/v1/webhooks/orders",
		NewWebhookMiddleware(s.authService).Verify(http.HandlerFunc(s.handleOrderWebhook)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

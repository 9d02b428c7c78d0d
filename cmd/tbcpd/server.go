package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/api/handlers"
	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/budget"
	"github.com/tbcp-io/tbcp/internal/cache"
	"github.com/tbcp-io/tbcp/internal/config"
	"github.com/tbcp-io/tbcp/internal/limit"
	"github.com/tbcp-io/tbcp/internal/metrics"
	"github.com/tbcp-io/tbcp/internal/provider"
	"github.com/tbcp-io/tbcp/internal/ratelimit"
	"github.com/tbcp-io/tbcp/internal/server"
	"github.com/tbcp-io/tbcp/internal/session"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/internal/token"
	"github.com/tbcp-io/tbcp/internal/usage"
)

// Server wires every governance component onto the HTTP surface and owns
// the admin and agent listener's lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *store.PoolManager
	budget *budget.Engine
	cache  *cache.Manager

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer builds a Server. db and immediateDB are the two database handles
// store.NewPoolManager expects — immediateDB is nil on postgres, where
// check-and-reserve operations take a row lock instead of an immediate
// transaction.
func NewServer(cfg *config.Config, db, immediateDB *gorm.DB, logger *zap.Logger) (*Server, error) {
	pool, err := store.NewPoolManager(db, immediateDB, store.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Server{cfg: cfg, logger: logger, pool: pool}, nil
}

// Start builds every domain manager and handler, registers the full route
// table, and starts the non-blocking HTTP listener.
func (s *Server) Start() error {
	auditRecorder := audit.NewRecorder(s.logger)
	usageRecorder := usage.NewRecorder(s.pool, s.logger)
	limitEnforcer := limit.NewEnforcer(s.pool, auditRecorder, s.logger)
	tokens := token.NewManager(s.pool, auditRecorder, s.cfg.Security.BcryptCost, s.cfg.Security.SigningKey, s.logger)
	sessions := session.NewManager(s.pool, s.cfg.Security.SigningKey, "tbcp", s.logger)
	vault := provider.NewVault(s.pool, auditRecorder, s.cfg.Security.EncryptionKey, s.logger)
	leaseTTL := time.Duration(s.cfg.Budget.LeaseTTLSeconds) * time.Second
	budgetEngine := budget.NewEngine(s.pool, limitEnforcer, usageRecorder, auditRecorder, leaseTTL, s.logger)
	sweepInterval := time.Duration(s.cfg.Budget.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	budgetEngine.StartSweep(context.Background(), sweepInterval)
	s.budget = budgetEngine

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Addr = s.cfg.Redis.Addr
	cacheConfig.Password = s.cfg.Redis.Password
	cacheConfig.DB = s.cfg.Redis.DB
	cacheManager, err := cache.NewManager(cacheConfig, s.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.cache = cacheManager
	limiter := ratelimit.NewLimiter(cacheManager.Client(), ratelimit.DefaultLimit, s.logger)

	authHandler := handlers.NewAuthHandler(s.pool.DB(), sessions, s.logger)
	tokenHandler := handlers.NewTokenHandler(tokens, s.logger)
	limitHandler := handlers.NewLimitHandler(limitEnforcer, s.logger)
	usageHandler := handlers.NewUsageHandler(usageRecorder, s.logger)
	traceHandler := handlers.NewTraceHandler(usageRecorder, s.logger)
	providerHandler := handlers.NewProviderHandler(vault, s.logger)
	keyHandler := handlers.NewKeyHandler(vault, budgetEngine, limiter, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		sqlDB, err := s.pool.DB().WithContext(ctx).DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))
	healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
		return cacheManager.Ping(ctx)
	}))

	adminAuth := AdminAuth(sessions, s.logger)
	agentAuth := AgentAuth(tokens, s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /api/ready", healthHandler.HandleReady)

	mux.HandleFunc("POST /api/v1/api-tokens/validate", tokenHandler.HandleValidate)

	mux.Handle("POST /api/auth/login", Chain(http.HandlerFunc(authHandler.HandleLogin)))
	mux.Handle("POST /api/auth/refresh", Chain(http.HandlerFunc(authHandler.HandleRefresh)))
	mux.Handle("POST /api/auth/logout", Chain(http.HandlerFunc(authHandler.HandleLogout)))

	mux.Handle("POST /api/v1/api-tokens", Chain(http.HandlerFunc(tokenHandler.HandleCreate), adminAuth))
	mux.Handle("GET /api/v1/api-tokens", Chain(http.HandlerFunc(tokenHandler.HandleList), adminAuth))
	mux.Handle("GET /api/v1/api-tokens/{id}", Chain(http.HandlerFunc(tokenHandler.HandleGet), adminAuth))
	mux.Handle("POST /api/v1/api-tokens/{id}/rotate", Chain(http.HandlerFunc(tokenHandler.HandleRotate), adminAuth))
	mux.Handle("DELETE /api/v1/api-tokens/{id}", Chain(http.HandlerFunc(tokenHandler.HandleRevoke), adminAuth))

	mux.Handle("POST /api/v1/limits", Chain(http.HandlerFunc(limitHandler.HandleCreate), adminAuth))
	mux.Handle("GET /api/v1/limits", Chain(http.HandlerFunc(limitHandler.HandleList), adminAuth))
	mux.Handle("GET /api/v1/limits/{id}", Chain(http.HandlerFunc(limitHandler.HandleGet), adminAuth))
	mux.Handle("PUT /api/v1/limits/{id}", Chain(http.HandlerFunc(limitHandler.HandleUpdate), adminAuth))
	mux.Handle("DELETE /api/v1/limits/{id}", Chain(http.HandlerFunc(limitHandler.HandleDelete), adminAuth))

	mux.Handle("GET /api/v1/usage/aggregate", Chain(http.HandlerFunc(usageHandler.HandleAggregate), adminAuth))
	mux.Handle("GET /api/v1/usage/by-project/{id}", Chain(http.HandlerFunc(usageHandler.HandleByProject), adminAuth))
	mux.Handle("GET /api/v1/usage/by-provider/{id}", Chain(http.HandlerFunc(usageHandler.HandleByProvider), adminAuth))

	mux.Handle("GET /api/v1/traces", Chain(http.HandlerFunc(traceHandler.HandleList), adminAuth))
	mux.Handle("GET /api/v1/traces/{id}", Chain(http.HandlerFunc(traceHandler.HandleGet), adminAuth))

	mux.Handle("POST /api/providers", Chain(http.HandlerFunc(providerHandler.HandleCreate), adminAuth))
	mux.Handle("GET /api/providers", Chain(http.HandlerFunc(providerHandler.HandleList), adminAuth))
	mux.Handle("GET /api/providers/{id}", Chain(http.HandlerFunc(providerHandler.HandleGet), adminAuth))
	mux.Handle("PUT /api/providers/{id}", Chain(http.HandlerFunc(providerHandler.HandleUpdate), adminAuth))
	mux.Handle("DELETE /api/providers/{id}", Chain(http.HandlerFunc(providerHandler.HandleDelete), adminAuth))
	mux.Handle("GET /api/projects/{id}/provider", Chain(http.HandlerFunc(providerHandler.HandleListForProject), adminAuth))

	mux.Handle("GET /api/keys", Chain(http.HandlerFunc(keyHandler.HandleGet), agentAuth))

	mux.HandleFunc("GET /api/tokens", func(w http.ResponseWriter, r *http.Request) {
		target := "/api/v1/api-tokens"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})

	collector := metrics.NewCollector("tbcp", s.logger)

	handler := Chain(mux, Recovery(s.logger), RequestID(), SecurityHeaders(), RequestLogger(s.logger), Metrics(collector), CORS(s.cfg.Server.AllowedOrigins))

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	if s.cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	if s.cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsConfig := server.DefaultConfig()
		metricsConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
		s.metricsManager = server.NewManager(metricsMux, metricsConfig, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
	}

	return nil
}

// WaitForShutdown blocks until a termination signal arrives, then shuts the
// HTTP listener down within its configured grace period and runs Shutdown to
// stop the lease sweep, close the cache and stop the metrics listener.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}

// Shutdown gracefully stops the HTTP listener and the lease sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.budget != nil {
		s.budget.Stop()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.metricsManager != nil {
		_ = s.metricsManager.Shutdown(ctx)
	}
	return s.httpManager.Shutdown(ctx)
}

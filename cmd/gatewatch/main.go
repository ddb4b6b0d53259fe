package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatewatch/gatewatch/internal/agents"
	"github.com/gatewatch/gatewatch/internal/app"
	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/gatewatch/gatewatch/internal/observability"
	"github.com/gatewatch/gatewatch/internal/platform/cache"
	"github.com/gatewatch/gatewatch/internal/platform/db"
	"github.com/gatewatch/gatewatch/internal/rbac"
	"github.com/gatewatch/gatewatch/internal/scan"
	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/stats"
	"github.com/gatewatch/gatewatch/internal/view"
	"github.com/gatewatch/gatewatch/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Sessions live in Redis, so a dead Redis means nobody can log in.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "gatewatch_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	scanRepo := scan.NewRepository(dbpool)
	scanService := scan.NewService(scanRepo, logger, metrics, jobClient)

	statsRepo := stats.NewRepository(dbpool)
	statsCache := stats.NewCache(redisClient, cfg.StatsCacheTTL)
	statsService := stats.NewService(statsRepo, statsCache, logger)
	if err := statsCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("stats cache invalidation", slog.Any("error", err))
	}

	scanHandler := scan.NewHandler(logger, scanService, statsService, templates, csrfManager, sessionManager)
	statsHandler := stats.NewHandler(logger, statsService, templates, csrfManager)

	agentsRepo := agents.NewRepository(dbpool)
	agentsService := agents.NewService(agentsRepo, auditLogger, logger)
	agentsHandler := agents.NewHandler(logger, agentsService, templates, csrfManager, sessionManager)

	rbacMiddleware := rbac.Middleware{Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		ScanHandler:    scanHandler,
		StatsHandler:   statsHandler,
		AgentsHandler:  agentsHandler,
		JobHandler:     jobHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/runlater/core/config"
	"github.com/runlater/core/internal/email"
	"github.com/runlater/core/internal/health"
	"github.com/runlater/core/internal/inbound"
	"github.com/runlater/core/internal/infrastructure/postgres"
	ctxlog "github.com/runlater/core/internal/log"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/monitorcheck"
	"github.com/runlater/core/internal/notifier"
	httptransport "github.com/runlater/core/internal/transport/http"
	"github.com/runlater/core/internal/transport/http/handler"
	"github.com/runlater/core/internal/usecase"
	"github.com/runlater/core/internal/wake"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	redisClient := newRedisClient(cfg.RedisURL)
	wakeBroadcaster := wake.New(redisClient, logger)

	orgs := postgres.NewOrganizationRepository(pool)
	taskRepo := postgres.NewTaskRepository(pool)
	endpointRepo := postgres.NewEndpointRepository(pool)
	monitorRepo := postgres.NewMonitorRepository(pool)
	executionRepo := postgres.NewExecutionRepository(pool)
	emailLogRepo := postgres.NewEmailLogRepository(pool)
	auditLogRepo := postgres.NewAuditLogRepository(pool)

	taskUsecase := usecase.NewTaskUsecase(taskRepo, orgs, wakeBroadcaster)
	endpointUsecase := usecase.NewEndpointUsecase(endpointRepo)
	monitorUsecase := usecase.NewMonitorUsecase(monitorRepo)

	inboundSvc := inbound.New(endpointRepo, wakeBroadcaster, logger)

	emailSender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notif := notifier.New(emailSender, emailLogRepo, logger)
	monitorChecker := monitorcheck.New(pool, monitorRepo, orgs, notif, logger, time.Duration(cfg.MonitorCheckIntervalSec)*time.Second)

	taskHandler := handler.NewTaskHandler(taskUsecase, executionRepo, logger)
	endpointHandler := handler.NewEndpointHandler(endpointUsecase, inboundSvc, cfg.PublicBaseURL, logger)
	monitorHandler := handler.NewMonitorHandler(monitorUsecase, monitorChecker, cfg.PublicBaseURL, logger)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, endpointHandler, monitorHandler, auditLogRepo, cfg.JWKSURL, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newRedisClient(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	return redis.NewClient(opts)
}

// newLogger mirrors cmd/scheduler's construction: the ContextHandler
// wrapper is what attaches request_id from middleware.RequestID to
// every handler's ErrorContext/InfoContext record — without it the
// correlation silently never happens.
func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

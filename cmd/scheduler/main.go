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
	"github.com/runlater/core/internal/cleanup"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/email"
	"github.com/runlater/core/internal/execcounter"
	"github.com/runlater/core/internal/health"
	"github.com/runlater/core/internal/hostblock"
	"github.com/runlater/core/internal/infrastructure/postgres"
	ctxlog "github.com/runlater/core/internal/log"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/monitorcheck"
	"github.com/runlater/core/internal/notifier"
	"github.com/runlater/core/internal/scheduler"
	"github.com/runlater/core/internal/wake"
	"github.com/runlater/core/internal/worker"
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

	logger.Info("db connected")

	metrics.Register()
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	redisClient := newRedisClient(cfg.RedisURL)
	wakeBroadcaster := wake.New(redisClient, logger)
	go wakeBroadcaster.Run(ctx)

	orgs := postgres.NewOrganizationRepository(pool)
	tasks := postgres.NewTaskRepository(pool)
	executions := postgres.NewExecutionRepository(pool)
	monitors := postgres.NewMonitorRepository(pool)
	idempotency := postgres.NewIdempotencyRepository(pool)
	emailLogs := postgres.NewEmailLogRepository(pool)
	auditLogs := postgres.NewAuditLogRepository(pool)

	emailSender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notif := notifier.New(emailSender, emailLogs, logger)
	quotaWatcher := notifier.NewQuotaWatcher(notif)

	sched := scheduler.New(
		pool,
		orgs,
		wakeBroadcaster,
		logger,
		time.Duration(cfg.SchedulerTickSec)*time.Second,
		time.Duration(cfg.SchedulerLookaheadSec)*time.Second,
	)
	go sched.Run(ctx)

	breaker := hostblock.New()
	go breaker.Run(ctx)

	counter := execcounter.New(orgs, tasks, logger)
	counter.OnFlush = func(org *domain.Organization) {
		quotaWatcher.Observe(context.Background(), org)
	}
	go counter.Run(ctx, time.Duration(cfg.ExecCounterFlushSec)*time.Second)

	newWorker := func(id string) *worker.Worker {
		return worker.New(id, executions, orgs, breaker, counter, notif, wakeBroadcaster, logger)
	}
	workerPool := worker.NewPool(newWorker, executions, cfg.WorkerMinCount, cfg.WorkerMaxCount, logger)
	go workerPool.Run(ctx)

	sweeper := cleanup.New(pool, executions, tasks, orgs, monitors, idempotency, emailLogs, auditLogs, logger, time.Duration(cfg.CleanupStaleRecoverySec)*time.Second)
	go sweeper.Run(ctx)

	monitorChecker := monitorcheck.New(pool, monitors, orgs, notif, logger, time.Duration(cfg.MonitorCheckIntervalSec)*time.Second)
	go monitorChecker.Run(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
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
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
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

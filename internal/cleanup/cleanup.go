// Package cleanup runs the two leader-elected sweeps that keep the
// database tidy: recovering stale running executions on a short,
// configurable cadence, and purging data past its tenant's retention
// window once a day.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/infrastructure/postgres"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/repository"
)

// staleRunningCutoff is how long an execution may sit in running
// before the sweep assumes its worker died mid-flight and recovers it.
const staleRunningCutoff = 10 * time.Minute

// idempotencyKeyTTL is how long a key lives before the retention pass
// expires it.
const idempotencyKeyTTL = 24 * time.Hour

// Global (not tier-scoped) retention windows for the operational log
// tables.
const (
	emailLogRetentionDays = 90
	auditLogRetentionDays = 365
)

// retentionHourUTC is the hour of day, UTC, the retention pass runs at.
const retentionHourUTC = 3

// retentionCheckInterval is how often the retention loop wakes to check
// whether it's time to run — not the retention cadence itself, which is
// always once per day.
const retentionCheckInterval = time.Minute

type Sweeper struct {
	pool          *pgxpool.Pool
	executions    repository.ExecutionRepository
	tasks         repository.TaskRepository
	orgs          repository.OrganizationRepository
	monitors      repository.MonitorRepository
	idempotency   repository.IdempotencyRepository
	emailLogs     repository.EmailLogRepository
	auditLogs     repository.AuditLogRepository
	logger        *slog.Logger
	staleInterval time.Duration

	lastRetentionRun time.Time
}

func New(
	pool *pgxpool.Pool,
	executions repository.ExecutionRepository,
	tasks repository.TaskRepository,
	orgs repository.OrganizationRepository,
	monitors repository.MonitorRepository,
	idempotency repository.IdempotencyRepository,
	emailLogs repository.EmailLogRepository,
	auditLogs repository.AuditLogRepository,
	logger *slog.Logger,
	staleInterval time.Duration,
) *Sweeper {
	return &Sweeper{
		pool:          pool,
		executions:    executions,
		tasks:         tasks,
		orgs:          orgs,
		monitors:      monitors,
		idempotency:   idempotency,
		emailLogs:     emailLogs,
		auditLogs:     auditLogs,
		logger:        logger.With("component", "cleanup"),
		staleInterval: staleInterval,
	}
}

// Run starts both sweeps and blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	go s.runStaleRecovery(ctx)
	s.runRetention(ctx)
}

func (s *Sweeper) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(s.staleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.withLock(ctx, func(ctx context.Context) error {
				return s.recoverStale(ctx, time.Now().UTC())
			}); err != nil {
				s.logger.Error("stale recovery sweep failed", "error", err)
			}
		}
	}
}

// runRetention wakes every retentionCheckInterval and runs the daily
// purge once the clock crosses retentionHourUTC. lastRetentionRun stops
// a second run by this process on the same calendar day; it is held in
// memory, so a restart during that hour runs the pass again.
func (s *Sweeper) runRetention(ctx context.Context) {
	ticker := time.NewTicker(retentionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if now.Hour() != retentionHourUTC {
				continue
			}
			if sameDay(s.lastRetentionRun, now) {
				continue
			}
			if err := s.withLock(ctx, func(ctx context.Context) error {
				return s.runRetentionPass(ctx, now)
			}); err != nil {
				s.logger.Error("retention sweep failed", "error", err)
				continue
			}
			s.lastRetentionRun = now
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// withLock runs fn only if this instance wins the cleanup advisory
// lock, so a multi-instance deployment never double-runs a sweep. The
// lock transaction stays open — idle — until fn returns: committing
// earlier would release the transaction-scoped lock and let another
// node start the same sweep mid-run.
func (s *Sweeper) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acquired, err := postgres.TryAdvisoryLock(ctx, tx, postgres.LockIDCleanup)
	if err != nil {
		return err
	}
	if !acquired {
		return tx.Commit(ctx)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Sweeper) runRetentionPass(ctx context.Context, now time.Time) error {
	if err := s.purgeRetention(ctx); err != nil {
		s.logger.Error("purge retention failed", "error", err)
	}
	if err := s.purgeIdempotencyKeys(ctx, now); err != nil {
		s.logger.Error("purge idempotency keys failed", "error", err)
	}
	s.purgeOperationalLogs(ctx, now)
	return nil
}

// purgeOperationalLogs ages out email and audit logs past their global
// windows — these tables have no per-tier retention, just their own.
func (s *Sweeper) purgeOperationalLogs(ctx context.Context, now time.Time) {
	if n, err := s.emailLogs.PurgeBefore(ctx, now.AddDate(0, 0, -emailLogRetentionDays)); err != nil {
		s.logger.Error("purge email logs failed", "error", err)
	} else if n > 0 {
		metrics.CleanupPurgedTotal.WithLabelValues("email_logs").Add(float64(n))
	}
	if n, err := s.auditLogs.PurgeBefore(ctx, now.AddDate(0, 0, -auditLogRetentionDays)); err != nil {
		s.logger.Error("purge audit logs failed", "error", err)
	} else if n > 0 {
		metrics.CleanupPurgedTotal.WithLabelValues("audit_logs").Add(float64(n))
	}
}

// purgeIdempotencyKeys expires keys older than idempotencyKeyTTL. Unlike
// execution/task retention this is a single global cutoff — the table
// isn't tenant-scoped.
func (s *Sweeper) purgeIdempotencyKeys(ctx context.Context, now time.Time) error {
	n, err := s.idempotency.PurgeBefore(ctx, now.Add(-idempotencyKeyTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.CleanupPurgedTotal.WithLabelValues("idempotency_keys").Add(float64(n))
	}
	return nil
}

// recoverStale finds executions stuck running past staleRunningCutoff
// and fails them with "interrupted" — the worker that claimed them is
// presumed dead, so nothing will ever report their outcome otherwise.
// This is deliberately Fail, not Timeout: the execution's own timeout
// never fired, the worker process itself disappeared.
func (s *Sweeper) recoverStale(ctx context.Context, now time.Time) error {
	stale, err := s.executions.ListStaleRunning(ctx, now.Add(-staleRunningCutoff))
	if err != nil {
		return err
	}
	for _, e := range stale {
		if err := s.executions.Fail(ctx, e.ID, "interrupted", now); err != nil {
			s.logger.Error("recover stale execution failed", "execution_id", e.ID, "error", err)
			continue
		}
		metrics.CleanupRecoveredTotal.Inc()
		s.logger.Warn("recovered stale running execution", "execution_id", e.ID, "task_id", e.TaskID)
	}
	return nil
}

// purgeRetention deletes finished executions and soft-deleted tasks
// older than each organization's tier retention window. It walks
// organizations rather than running one global DELETE because the
// cutoff differs by tier.
func (s *Sweeper) purgeRetention(ctx context.Context) error {
	orgs, err := s.orgs.ListForQuotaRecalc(ctx)
	if err != nil {
		return err
	}

	for _, org := range orgs {
		cutoff := time.Now().UTC().AddDate(0, 0, -org.Tier.RetentionDays())
		if n, err := s.executions.PurgeFinishedBefore(ctx, org.ID, cutoff); err != nil {
			s.logger.Error("purge finished executions failed", "org_id", org.ID, "error", err)
		} else if n > 0 {
			metrics.CleanupPurgedTotal.WithLabelValues("executions").Add(float64(n))
		}
		if n, err := s.tasks.PurgeSoftDeletedBefore(ctx, org.ID, cutoff); err != nil {
			s.logger.Error("purge soft-deleted tasks failed", "org_id", org.ID, "error", err)
		} else if n > 0 {
			metrics.CleanupPurgedTotal.WithLabelValues("tasks").Add(float64(n))
		}
		if n, err := s.tasks.PurgeCompletedOnceBefore(ctx, org.ID, cutoff); err != nil {
			s.logger.Error("purge completed one-shot tasks failed", "org_id", org.ID, "error", err)
		} else if n > 0 {
			metrics.CleanupPurgedTotal.WithLabelValues("tasks").Add(float64(n))
		}
		if n, err := s.monitors.PurgePingsBefore(ctx, org.ID, cutoff); err != nil {
			s.logger.Error("purge monitor pings failed", "org_id", org.ID, "error", err)
		} else if n > 0 {
			metrics.CleanupPurgedTotal.WithLabelValues("monitor_pings").Add(float64(n))
		}
	}
	return nil
}

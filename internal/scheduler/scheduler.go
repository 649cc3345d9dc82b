// Package scheduler runs the leader-elected tick loop that turns due
// cron/once tasks into pending executions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/cronutil"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/infrastructure/postgres"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/wake"
)

// Scheduler ticks on an interval, tries to take the leader advisory
// lock, and — only while holding it — claims due tasks and fires
// executions for them. Losing the lock between ticks is harmless: the
// next node to acquire it picks up exactly where task.NextRunAt left off.
type Scheduler struct {
	pool         *pgxpool.Pool
	orgs         repository.OrganizationRepository
	wake         *wake.Broadcaster
	logger       *slog.Logger
	tickInterval time.Duration
	lookahead    time.Duration
}

func New(
	pool *pgxpool.Pool,
	orgs repository.OrganizationRepository,
	wakeBroadcaster *wake.Broadcaster,
	logger *slog.Logger,
	tickInterval, lookahead time.Duration,
) *Scheduler {
	return &Scheduler{
		pool:         pool,
		orgs:         orgs,
		wake:         wakeBroadcaster,
		logger:       logger.With("component", "scheduler"),
		tickInterval: tickInterval,
		lookahead:    lookahead,
	}
}

// Run ticks on tickInterval and additionally wakes early whenever
// another node (or this one) publishes to the scheduler wake topic —
// e.g. right after a task is created or re-enabled with a near-term
// next_run_at. The ticker is the correctness floor; the wake channel
// is purely a latency optimization.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	wakeCh := s.wake.Subscribe(wake.TopicScheduler)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		case <-wakeCh:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	fired, err := s.tick(ctx)
	if err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
		return
	}
	if fired {
		s.wake.Publish(ctx, wake.TopicWorkers)
	}
}

// tick returns whether it created at least one pending execution
// worth waking workers for.
func (s *Scheduler) tick(ctx context.Context) (bool, error) {
	start := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acquired, err := postgres.TryAdvisoryLock(ctx, tx, postgres.LockIDScheduler)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, tx.Commit(ctx) // another node holds the lock this tick
	}

	now := time.Now().UTC()
	horizon := now.Add(s.lookahead)

	rows, err := tx.Query(ctx, `
		SELECT `+taskSelectColumns+`
		FROM tasks
		WHERE enabled AND deleted_at IS NULL
		  AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT 500
		FOR UPDATE SKIP LOCKED`, horizon)
	if err != nil {
		return false, err
	}

	var due []*domain.Task
	for rows.Next() {
		t, scanErr := scanTaskRow(rows)
		if scanErr != nil {
			rows.Close()
			return false, scanErr
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	pendingCreated := false
	for _, t := range due {
		created, err := s.fire(ctx, tx, t, now)
		if err != nil {
			s.logger.Error("fire task failed", "task_id", t.ID, "error", err)
			continue
		}
		pendingCreated = pendingCreated || created
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return pendingCreated, nil
}

const taskSelectColumns = `id, organization_id, method, url, headers, body,
	       timeout_seconds, retry_attempts, schedule_type, cron_expr,
	       interval_minutes, scheduled_at, next_run_at, enabled,
	       queue_name, callback_url, deleted_at, endpoint_id,
	       created_at, updated_at`

func scanTaskRow(row pgx.Rows) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.Method, &t.URL, &t.Headers, &t.Body,
		&t.TimeoutSeconds, &t.RetryAttempts, &t.ScheduleType, &t.CronExpr,
		&t.IntervalMinutes, &t.ScheduledAt, &t.NextRunAt, &t.Enabled,
		&t.QueueName, &t.CallbackURL, &t.DeletedAt, &t.EndpointID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return &t, err
}

// fire dispatches a due task to its cron or once handling. Both paths
// split into the "upcoming" case (next_run_at still ahead of now, only
// reached because it falls inside the lookahead window) and the
// "overdue" case (next_run_at already in the past, possibly by more
// than one occurrence). It reports whether it created a pending
// execution, for the caller to decide whether to wake workers.
func (s *Scheduler) fire(ctx context.Context, tx pgx.Tx, t *domain.Task, now time.Time) (bool, error) {
	org, err := s.orgs.GetByID(ctx, t.OrganizationID)
	if err != nil {
		return false, fmt.Errorf("load organization: %w", err)
	}

	if t.ScheduleType == domain.ScheduleOnce {
		return s.fireOnce(ctx, tx, t, now, org)
	}
	return s.fireCron(ctx, tx, t, now, org)
}

func (s *Scheduler) fireOnce(ctx context.Context, tx pgx.Tx, t *domain.Task, now time.Time, org *domain.Organization) (bool, error) {
	due := *t.NextRunAt
	created := false

	if due.After(now) {
		c, err := s.createOrSkip(ctx, tx, t.ID, due, org)
		if err != nil {
			return false, err
		}
		created = c
	} else {
		grace := cronutil.GraceWindow(0)
		if cronutil.WithinGrace(due, now, grace) && !org.OverQuota() {
			if err := s.createPending(ctx, tx, t.ID, due); err != nil {
				return false, err
			}
			created = true
		} else if err := s.createMissed(ctx, tx, t.ID, due); err != nil {
			return false, err
		}
	}

	// One-shot tasks never run again.
	_, err := tx.Exec(ctx, `UPDATE tasks SET next_run_at = NULL, updated_at = NOW() WHERE id = $1`, t.ID)
	return created, err
}

func (s *Scheduler) fireCron(ctx context.Context, tx pgx.Tx, t *domain.Task, now time.Time, org *domain.Organization) (bool, error) {
	sched, err := cronutil.Parse(t.CronExpr)
	if err != nil {
		s.logger.Error("invalid stored cron expression", "task_id", t.ID, "cron_expr", t.CronExpr, "error", err)
		return false, nil
	}

	due := *t.NextRunAt

	if due.After(now) {
		created, err := s.createOrSkip(ctx, tx, t.ID, due, org)
		if err != nil {
			return false, err
		}
		next := sched.Next(due)
		_, err = tx.Exec(ctx, `UPDATE tasks SET next_run_at = $2, updated_at = NOW() WHERE id = $1`, t.ID, next)
		return created, err
	}

	intervalMin := 60
	if t.IntervalMinutes != nil {
		intervalMin = *t.IntervalMinutes
	}
	grace := cronutil.GraceWindow(intervalMin)

	// lastRun is nudged a second before due so CatchUp's first Next()
	// call lands back on due itself instead of skipping it.
	occurrences, next := cronutil.CatchUp(sched, due.Add(-time.Second), now)

	// A task created mid-catch-up window must not backfill fire times
	// from before it existed.
	filtered := occurrences[:0]
	for _, firedAt := range occurrences {
		if !firedAt.Before(t.CreatedAt) {
			filtered = append(filtered, firedAt)
		}
	}
	occurrences = filtered

	created := false
	for i, firedAt := range occurrences {
		isLast := i == len(occurrences)-1
		if isLast && cronutil.WithinGrace(firedAt, now, grace) && !org.OverQuota() {
			if err := s.createPending(ctx, tx, t.ID, firedAt); err != nil {
				return false, err
			}
			created = true
		} else if err := s.createMissed(ctx, tx, t.ID, firedAt); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE tasks SET next_run_at = $2, updated_at = NOW() WHERE id = $1`, t.ID, next)
	return created, err
}

// createOrSkip is the "upcoming" quota gate: over-quota tenants get no
// execution at all for this fire (not even a missed row) — the spec
// treats the lookahead window as pure creation-ahead-of-time, so a
// dropped upcoming fire leaves no trace beyond the advanced schedule.
func (s *Scheduler) createOrSkip(ctx context.Context, tx pgx.Tx, taskID string, firedAt time.Time, org *domain.Organization) (bool, error) {
	if org.OverQuota() {
		metrics.ScheduledFiresTotal.WithLabelValues("skipped_over_quota").Inc()
		return false, nil
	}
	if err := s.createPending(ctx, tx, taskID, firedAt); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) createPending(ctx context.Context, tx pgx.Tx, taskID string, scheduledFor time.Time) error {
	execID := uuid.Must(uuid.NewV7()).String()
	_, err := tx.Exec(ctx, `
		INSERT INTO executions (id, task_id, attempt, scheduled_for, status)
		VALUES ($1, $2, 1, $3, 'pending')`, execID, taskID, scheduledFor)
	if err == nil {
		metrics.ScheduledFiresTotal.WithLabelValues("pending").Inc()
	}
	return err
}

func (s *Scheduler) createMissed(ctx context.Context, tx pgx.Tx, taskID string, scheduledFor time.Time) error {
	execID := uuid.Must(uuid.NewV7()).String()
	_, err := tx.Exec(ctx, `
		INSERT INTO executions (id, task_id, attempt, scheduled_for, status, finished_at)
		VALUES ($1, $2, 1, $3, 'missed', $3)`, execID, taskID, scheduledFor)
	if err == nil {
		metrics.ScheduledFiresTotal.WithLabelValues("missed").Inc()
	}
	return err
}

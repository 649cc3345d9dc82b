package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/cronutil"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

type MonitorRepository struct {
	pool *pgxpool.Pool
}

func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

const monitorColumns = `id, organization_id, name, token, interval_seconds,
	       cron_expr, grace_seconds, status, last_ping_at, last_status_at,
	       next_expected_at, created_at, updated_at`

func (r *MonitorRepository) Create(ctx context.Context, m *domain.Monitor) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO monitors (id, organization_id, name, token, interval_seconds, cron_expr, grace_seconds, status, next_expected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+monitorColumns,
		m.ID, m.OrganizationID, m.Name, m.Token, m.IntervalSeconds, nullIfEmpty(m.CronExpr), m.GraceSeconds, m.Status, m.NextExpectedAt,
	)
	created, err := scanMonitor(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("monitor token collision: %w", err)
		}
		return err
	}
	*m = *created
	return nil
}

// nullIfEmpty maps an empty schedule string to SQL NULL rather than
// storing an empty string for the unused half of interval/cron_expr.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *MonitorRepository) GetByToken(ctx context.Context, token string) (*domain.Monitor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE token = $1`, token)
	return scanMonitor(row)
}

func (r *MonitorRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Monitor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1 AND organization_id = $2`, id, orgID)
	return scanMonitor(row)
}

func (r *MonitorRepository) List(ctx context.Context, orgID string, cursor *repository.Cursor, limit int) ([]*domain.Monitor, *repository.Cursor, error) {
	args := []any{orgID}
	where := []string{"organization_id = $1"}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM monitors WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		monitorColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*domain.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, nil, err
		}
		monitors = append(monitors, m)
	}

	var next *repository.Cursor
	if len(monitors) == limit {
		last := monitors[len(monitors)-1]
		next = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return monitors, next, nil
}

func (r *MonitorRepository) Update(ctx context.Context, m *domain.Monitor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE monitors SET name = $3, interval_seconds = $4, cron_expr = $5,
		       grace_seconds = $6, status = $7, next_expected_at = $8, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`,
		m.ID, m.OrganizationID, m.Name, m.IntervalSeconds, nullIfEmpty(m.CronExpr),
		m.GraceSeconds, m.Status, m.NextExpectedAt,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMonitorNotFound
	}
	return nil
}

// RecordPing stores the ping and, in the same transaction, flips status
// back to up if the monitor had gone down or never reported — a ping is
// always proof of life regardless of what state the checker last saw.
// The monitor row is locked by token first so the prior status used to
// detect a down->up recovery is read consistently with the update.
func (r *MonitorRepository) RecordPing(ctx context.Context, token, sourceIP string, at time.Time) (*domain.Monitor, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var priorStatus, intervalOrCron string
	var intervalSeconds int
	var cronExpr *string
	err = tx.QueryRow(ctx, `SELECT status, interval_seconds, cron_expr FROM monitors WHERE token = $1 FOR UPDATE`, token).
		Scan(&priorStatus, &intervalSeconds, &cronExpr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrMonitorNotFound
		}
		return nil, false, err
	}
	if cronExpr != nil {
		intervalOrCron = *cronExpr
	}
	if priorStatus == string(domain.MonitorStatusPaused) {
		err = domain.ErrMonitorPaused
		return nil, false, err
	}

	var nextExpectedAt time.Time
	if intervalOrCron != "" {
		sched, parseErr := cronutil.Parse(intervalOrCron)
		if parseErr != nil {
			err = fmt.Errorf("parse monitor cron_expr: %w", parseErr)
			return nil, false, err
		}
		nextExpectedAt = sched.Next(at)
	} else {
		nextExpectedAt = at.Add(time.Duration(intervalSeconds) * time.Second)
	}

	row := tx.QueryRow(ctx, `
		UPDATE monitors
		SET    last_ping_at     = $2,
		       status           = CASE WHEN status IN ('down', 'new') THEN 'up' ELSE status END,
		       last_status_at   = CASE WHEN status IN ('down', 'new') THEN $2 ELSE last_status_at END,
		       next_expected_at = $3,
		       updated_at       = NOW()
		WHERE token = $1
		RETURNING `+monitorColumns, token, at, nextExpectedAt)

	m, scanErr := scanMonitor(row)
	if scanErr != nil {
		err = scanErr
		return nil, false, err
	}

	// The interval in effect at ping time is captured on the ping row,
	// so editing the schedule later doesn't rewrite history.
	pingID := uuid.Must(uuid.NewV7()).String()
	if _, err = tx.Exec(ctx, `
		INSERT INTO monitor_pings (id, monitor_id, source_ip, interval_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5)`, pingID, m.ID, sourceIP, intervalSeconds, at); err != nil {
		return nil, false, fmt.Errorf("insert monitor ping: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return m, priorStatus == "down", nil
}

// ListOverdue finds monitors past their expected-ping deadline plus
// grace. next_expected_at is set at creation and recomputed on every
// ping (for both interval and cron schedules), so the comparison never
// needs to re-derive a deadline from last_ping_at/interval_seconds
// here — that derivation lives in Go, where cron expressions can
// actually be parsed.
func (r *MonitorRepository) ListOverdue(ctx context.Context, now time.Time) ([]*domain.Monitor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE status IN ('up', 'new')
		  AND next_expected_at IS NOT NULL
		  AND next_expected_at + (grace_seconds * INTERVAL '1 second') < $1`,
		now)
	if err != nil {
		return nil, fmt.Errorf("list overdue monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*domain.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, nil
}

func (r *MonitorRepository) MarkDown(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE monitors SET status = 'down', last_status_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}

func (r *MonitorRepository) PurgePingsBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM monitor_pings
		USING monitors
		WHERE monitor_pings.monitor_id = monitors.id
		  AND monitors.organization_id = $1
		  AND monitor_pings.created_at < $2`, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge monitor pings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMonitor(row rowScanner) (*domain.Monitor, error) {
	var m domain.Monitor
	var cronExpr *string
	err := row.Scan(
		&m.ID, &m.OrganizationID, &m.Name, &m.Token, &m.IntervalSeconds,
		&cronExpr, &m.GraceSeconds, &m.Status, &m.LastPingAt, &m.LastStatusAt,
		&m.NextExpectedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMonitorNotFound
		}
		return nil, fmt.Errorf("scan monitor: %w", err)
	}
	if cronExpr != nil {
		m.CronExpr = *cronExpr
	}
	return &m, nil
}

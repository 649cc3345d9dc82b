package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

type EndpointRepository struct {
	pool *pgxpool.Pool
}

func NewEndpointRepository(pool *pgxpool.Pool) *EndpointRepository {
	return &EndpointRepository{pool: pool}
}

const endpointColumns = `id, organization_id, slug, enabled, forward_urls,
	       retry_attempts, queue_name, created_at, updated_at`

func (r *EndpointRepository) Create(ctx context.Context, e *domain.Endpoint) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO endpoints (id, organization_id, slug, enabled, forward_urls, retry_attempts, queue_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+endpointColumns,
		e.ID, e.OrganizationID, e.Slug, e.Enabled, e.ForwardURLs, e.RetryAttempts, e.QueueName,
	)
	created, err := scanEndpoint(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrEndpointSlugConflict
		}
		return err
	}
	*e = *created
	return nil
}

func (r *EndpointRepository) GetBySlug(ctx context.Context, slug string) (*domain.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE slug = $1`, slug)
	return scanEndpoint(row)
}

func (r *EndpointRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1 AND organization_id = $2`, id, orgID)
	return scanEndpoint(row)
}

func (r *EndpointRepository) List(ctx context.Context, orgID string, cursor *repository.Cursor, limit int) ([]*domain.Endpoint, *repository.Cursor, error) {
	args := []any{orgID}
	where := []string{"organization_id = $1"}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM endpoints WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		endpointColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, nil, err
		}
		endpoints = append(endpoints, e)
	}

	var next *repository.Cursor
	if len(endpoints) == limit {
		last := endpoints[len(endpoints)-1]
		next = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return endpoints, next, nil
}

func (r *EndpointRepository) Update(ctx context.Context, e *domain.Endpoint) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE endpoints SET enabled = $3, forward_urls = $4, retry_attempts = $5,
		       queue_name = $6, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`,
		e.ID, e.OrganizationID, e.Enabled, e.ForwardURLs, e.RetryAttempts, e.QueueName,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

// FanOut records the inbound event and, for every forward URL
// configured on the endpoint, creates a fresh one-shot task — carrying
// this delivery's actual method, filtered headers and body — plus one
// immediately-due pending execution for it. All in a single
// transaction, mirroring the claim-then-insert-then-commit shape the
// scheduler tick uses, just triggered by an HTTP request instead of a
// timer. The created tasks are skip_next_run (endpoint_id set,
// next_run_at NULL): the fan-out execution is their sole driver, the
// scheduler never touches them.
func (r *EndpointRepository) FanOut(ctx context.Context, ep *domain.Endpoint, event *domain.InboundEvent) (*domain.InboundEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	event.ID = uuid.Must(uuid.NewV7()).String()
	taskIDs := make([]string, 0, len(ep.ForwardURLs))

	// The event row below keeps the raw headers; each forward task gets
	// the hop-by-hop-stripped copy it will actually send.
	forwardHeaders := domain.FilterForwardHeaders(event.Headers)

	for _, forwardURL := range ep.ForwardURLs {
		taskID := uuid.Must(uuid.NewV7()).String()
		_, err = tx.Exec(ctx, `
			INSERT INTO tasks (
				id, organization_id, method, url, headers, body,
				timeout_seconds, retry_attempts, schedule_type, cron_expr,
				scheduled_at, next_run_at, enabled, queue_name, endpoint_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'once', '', NOW(), NULL, true, $9, $10)`,
			taskID, ep.OrganizationID, event.Method, forwardURL, forwardHeaders, event.Body,
			domain.DefaultForwardTimeoutSeconds, ep.RetryAttempts, ep.QueueName, ep.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert forward task for %s: %w", forwardURL, err)
		}

		execID := uuid.Must(uuid.NewV7()).String()
		if _, err = tx.Exec(ctx, `
			INSERT INTO executions (id, task_id, attempt, scheduled_for, status)
			VALUES ($1, $2, 1, NOW(), 'pending')`, execID, taskID); err != nil {
			return nil, fmt.Errorf("insert fan-out execution for task %s: %w", taskID, err)
		}

		taskIDs = append(taskIDs, taskID)
	}

	event.TaskIDs = taskIDs

	_, err = tx.Exec(ctx, `
		INSERT INTO inbound_events (id, endpoint_id, method, headers, body, source_ip, task_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.EndpointID, event.Method, event.Headers, event.Body, event.SourceIP, event.TaskIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("insert inbound event: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return event, nil
}

func (r *EndpointRepository) GetEventByID(ctx context.Context, orgID, eventID string) (*domain.InboundEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT ie.id, ie.endpoint_id, ie.method, ie.headers, ie.body, ie.source_ip, ie.task_ids, ie.created_at
		FROM inbound_events ie
		JOIN endpoints e ON e.id = ie.endpoint_id
		WHERE ie.id = $1 AND e.organization_id = $2`, eventID, orgID)

	var ev domain.InboundEvent
	err := row.Scan(&ev.ID, &ev.EndpointID, &ev.Method, &ev.Headers, &ev.Body, &ev.SourceIP, &ev.TaskIDs, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInboundEventNotFound
		}
		return nil, fmt.Errorf("scan inbound event: %w", err)
	}
	return &ev, nil
}

// Replay creates one fresh pending execution per task id stored on the
// event, scheduled_for NOW(). It reports ErrTaskDeleted if any of those
// tasks has since been soft-deleted, without creating partial executions
// for the others.
func (r *EndpointRepository) Replay(ctx context.Context, taskIDs []string) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT id FROM tasks WHERE id = ANY($1) AND deleted_at IS NULL`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("check replay tasks: %w", err)
	}
	live := make(map[string]struct{}, len(taskIDs))
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		live[id] = struct{}{}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(live) != len(taskIDs) {
		return nil, domain.ErrTaskDeleted
	}

	execIDs := make([]string, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		execID := uuid.Must(uuid.NewV7()).String()
		if _, err = tx.Exec(ctx, `
			INSERT INTO executions (id, task_id, attempt, scheduled_for, status)
			VALUES ($1, $2, 1, NOW(), 'pending')`, execID, taskID); err != nil {
			return nil, fmt.Errorf("insert replay execution for task %s: %w", taskID, err)
		}
		execIDs = append(execIDs, execID)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return execIDs, nil
}

func (r *EndpointRepository) ListEventsByEndpoint(ctx context.Context, orgID, endpointID string, cursor *repository.Cursor, limit int) ([]*domain.InboundEvent, *repository.Cursor, error) {
	args := []any{orgID, endpointID}
	where := []string{"e.organization_id = $1", "ie.endpoint_id = $2"}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		where = append(where, fmt.Sprintf("(ie.created_at, ie.id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT ie.id, ie.endpoint_id, ie.method, ie.headers, ie.body, ie.source_ip, ie.task_ids, ie.created_at
		FROM inbound_events ie
		JOIN endpoints e ON e.id = ie.endpoint_id
		WHERE %s
		ORDER BY ie.created_at DESC, ie.id DESC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list inbound events: %w", err)
	}
	defer rows.Close()

	var events []*domain.InboundEvent
	for rows.Next() {
		var ev domain.InboundEvent
		if err := rows.Scan(&ev.ID, &ev.EndpointID, &ev.Method, &ev.Headers, &ev.Body, &ev.SourceIP, &ev.TaskIDs, &ev.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan inbound event: %w", err)
		}
		events = append(events, &ev)
	}

	var next *repository.Cursor
	if len(events) == limit {
		last := events[len(events)-1]
		next = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return events, next, nil
}

func scanEndpoint(row rowScanner) (*domain.Endpoint, error) {
	var e domain.Endpoint
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.Slug, &e.Enabled, &e.ForwardURLs,
		&e.RetryAttempts, &e.QueueName, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	return &e, nil
}

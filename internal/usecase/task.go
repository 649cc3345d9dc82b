// Package usecase validates and orchestrates task, endpoint, and monitor
// mutations before they reach the repository layer — the layer the HTTP
// handlers call into rather than touching repositories directly.
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/runlater/core/internal/cronutil"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/urlsafety"
	"github.com/runlater/core/internal/wake"
)

const (
	defaultTimeoutSeconds = 30
	defaultRetryAttempts  = 3
	maxPageLimit          = 100
	defaultPageLimit      = 20
)

// TaskUsecase validates task definitions against tenant-tier limits and
// SSRF policy before handing them to the repository.
type TaskUsecase struct {
	tasks repository.TaskRepository
	orgs  repository.OrganizationRepository
	wake  *wake.Broadcaster
}

// NewTaskUsecase builds the task usecase. wakeBroadcaster may be nil
// (tests); when present, mutations that produce a runnable next_run_at
// nudge the scheduler instead of waiting out its tick.
func NewTaskUsecase(tasks repository.TaskRepository, orgs repository.OrganizationRepository, wakeBroadcaster *wake.Broadcaster) *TaskUsecase {
	return &TaskUsecase{tasks: tasks, orgs: orgs, wake: wakeBroadcaster}
}

func (u *TaskUsecase) wakeScheduler(ctx context.Context, t *domain.Task) {
	if u.wake == nil || t.NextRunAt == nil {
		return
	}
	u.wake.Publish(ctx, wake.TopicScheduler)
}

type CreateTaskInput struct {
	OrganizationID string
	Name           string
	Method         string
	URL            string
	Headers        map[string]string
	Body           *string
	TimeoutSeconds int
	RetryAttempts  int
	CallbackURL    *string
	QueueName      *string

	// Exactly one of CronExpr or ScheduledAt must be set.
	CronExpr    string
	ScheduledAt *time.Time
}

func (u *TaskUsecase) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.Task, error) {
	org, err := u.orgs.GetByID(ctx, in.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}

	if err := urlsafety.CheckURL(in.URL); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidURL, err)
	}
	if err := checkCallbackURL(in.CallbackURL); err != nil {
		return nil, err
	}

	if in.Method == "" {
		in.Method = "POST"
	}
	if in.TimeoutSeconds <= 0 {
		in.TimeoutSeconds = defaultTimeoutSeconds
	}
	if in.RetryAttempts < 0 {
		in.RetryAttempts = defaultRetryAttempts
	}
	if in.Headers == nil {
		in.Headers = make(map[string]string)
	}

	t := &domain.Task{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrganizationID: org.ID,
		Name:           in.Name,
		Method:         in.Method,
		URL:            in.URL,
		Headers:        in.Headers,
		Body:           in.Body,
		TimeoutSeconds: in.TimeoutSeconds,
		RetryAttempts:  in.RetryAttempts,
		CallbackURL:    in.CallbackURL,
		QueueName:      in.QueueName,
		Enabled:        true,
	}

	switch {
	case in.CronExpr != "" && in.ScheduledAt != nil:
		return nil, fmt.Errorf("task must have either a cron expression or a one-shot time, not both")

	case in.CronExpr != "":
		sched, err := cronutil.Parse(in.CronExpr)
		if err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		now := time.Now().UTC()
		interval := cronutil.DeriveIntervalMinutes(sched, now)
		if interval < org.Tier.MinCronIntervalMinutes() {
			return nil, domain.ErrCronIntervalFloor
		}
		next := sched.Next(now)
		t.ScheduleType = domain.ScheduleCron
		t.CronExpr = in.CronExpr
		t.IntervalMinutes = &interval
		t.NextRunAt = &next

	case in.ScheduledAt != nil:
		if in.ScheduledAt.Before(time.Now().UTC()) {
			return nil, fmt.Errorf("scheduled_at must be in the future")
		}
		t.ScheduleType = domain.ScheduleOnce
		t.ScheduledAt = in.ScheduledAt
		t.NextRunAt = in.ScheduledAt

	default:
		return nil, fmt.Errorf("task must have either a cron expression or a one-shot time")
	}

	if err := u.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	u.wakeScheduler(ctx, t)
	return t, nil
}

func (u *TaskUsecase) GetTask(ctx context.Context, orgID, id string) (*domain.Task, error) {
	return u.tasks.GetByID(ctx, orgID, id)
}

type ListTasksInput struct {
	OrganizationID string
	Cursor         string
	Limit          int
}

type ListTasksResult struct {
	Tasks      []*domain.Task
	NextCursor string
}

func (u *TaskUsecase) ListTasks(ctx context.Context, in ListTasksInput) (ListTasksResult, error) {
	limit := clampLimit(in.Limit)
	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return ListTasksResult{}, fmt.Errorf("decode cursor: %w", err)
	}

	tasks, next, err := u.tasks.List(ctx, in.OrganizationID, cursor, limit)
	if err != nil {
		return ListTasksResult{}, fmt.Errorf("list tasks: %w", err)
	}
	return ListTasksResult{Tasks: tasks, NextCursor: encodeCursor(next)}, nil
}

type UpdateTaskInput struct {
	OrganizationID string
	ID             string
	Name           string
	Method         string
	URL            string
	Headers        map[string]string
	Body           *string
	TimeoutSeconds int
	RetryAttempts  int
	CallbackURL    *string
	QueueName      *string
	Enabled        bool
	CronExpr       string
	ScheduledAt    *time.Time
}

// UpdateTask re-validates the full task definition the same way
// CreateTask does — a partial update that skipped URL/cron validation
// would let a task drift outside tenant policy after the fact.
func (u *TaskUsecase) UpdateTask(ctx context.Context, in UpdateTaskInput) (*domain.Task, error) {
	existing, err := u.tasks.GetByID(ctx, in.OrganizationID, in.ID)
	if err != nil {
		return nil, err
	}
	org, err := u.orgs.GetByID(ctx, in.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if err := urlsafety.CheckURL(in.URL); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidURL, err)
	}
	if err := checkCallbackURL(in.CallbackURL); err != nil {
		return nil, err
	}

	existing.Name = in.Name
	existing.Method = in.Method
	existing.URL = in.URL
	existing.Headers = in.Headers
	existing.Body = in.Body
	existing.TimeoutSeconds = in.TimeoutSeconds
	existing.RetryAttempts = in.RetryAttempts
	existing.CallbackURL = in.CallbackURL
	existing.QueueName = in.QueueName
	existing.Enabled = in.Enabled

	switch {
	case in.CronExpr != "":
		sched, err := cronutil.Parse(in.CronExpr)
		if err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		now := time.Now().UTC()
		interval := cronutil.DeriveIntervalMinutes(sched, now)
		if interval < org.Tier.MinCronIntervalMinutes() {
			return nil, domain.ErrCronIntervalFloor
		}
		next := sched.Next(now)
		existing.ScheduleType = domain.ScheduleCron
		existing.CronExpr = in.CronExpr
		existing.IntervalMinutes = &interval
		existing.ScheduledAt = nil
		if existing.Enabled {
			existing.NextRunAt = &next
		}

	case in.ScheduledAt != nil:
		existing.ScheduleType = domain.ScheduleOnce
		existing.ScheduledAt = in.ScheduledAt
		existing.CronExpr = ""
		existing.IntervalMinutes = nil
		if existing.Enabled {
			existing.NextRunAt = in.ScheduledAt
		}
	}

	if !existing.Enabled {
		existing.NextRunAt = nil
	}

	if err := u.tasks.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	u.wakeScheduler(ctx, existing)
	return existing, nil
}

// CloneTask copies a task's request and schedule fields into a new task,
// suffixing its name with "(copy)". A cloned once-task whose scheduled_at
// has already passed is rescheduled to an hour from now rather than firing
// immediately.
func (u *TaskUsecase) CloneTask(ctx context.Context, orgID, id string) (*domain.Task, error) {
	src, err := u.tasks.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	clone := &domain.Task{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrganizationID: src.OrganizationID,
		Name:           src.Name + " (copy)",
		Method:         src.Method,
		URL:            src.URL,
		Headers:        src.Headers,
		Body:           src.Body,
		TimeoutSeconds: src.TimeoutSeconds,
		RetryAttempts:  src.RetryAttempts,
		CallbackURL:    src.CallbackURL,
		QueueName:      src.QueueName,
		ScheduleType:   src.ScheduleType,
		CronExpr:       src.CronExpr,
		Enabled:        true,
	}

	now := time.Now().UTC()
	switch src.ScheduleType {
	case domain.ScheduleCron:
		sched, err := cronutil.Parse(src.CronExpr)
		if err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		interval := cronutil.DeriveIntervalMinutes(sched, now)
		next := sched.Next(now)
		clone.IntervalMinutes = &interval
		clone.NextRunAt = &next

	case domain.ScheduleOnce:
		scheduledAt := now.Add(time.Hour)
		if src.ScheduledAt != nil && src.ScheduledAt.After(now) {
			scheduledAt = *src.ScheduledAt
		}
		clone.ScheduledAt = &scheduledAt
		clone.NextRunAt = &scheduledAt
	}

	if err := u.tasks.Create(ctx, clone); err != nil {
		return nil, fmt.Errorf("create cloned task: %w", err)
	}
	u.wakeScheduler(ctx, clone)
	return clone, nil
}

func (u *TaskUsecase) DeleteTask(ctx context.Context, orgID, id string) error {
	return u.tasks.SoftDelete(ctx, orgID, id, time.Now().UTC())
}

// checkCallbackURL applies the same SSRF policy to a task's optional
// callback URL as to its target URL — both are service-originated
// outbound requests a tenant controls the destination of.
func checkCallbackURL(callbackURL *string) error {
	if callbackURL == nil || *callbackURL == "" {
		return nil
	}
	if err := urlsafety.CheckURL(*callbackURL); err != nil {
		return fmt.Errorf("callback url: %w: %s", domain.ErrInvalidURL, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

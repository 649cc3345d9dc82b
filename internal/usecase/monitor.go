package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/runlater/core/internal/cronutil"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

const (
	minMonitorIntervalSeconds = 60
	defaultMonitorGraceSeconds = 300
)

// nextExpected computes the deadline (before grace) for a monitor's
// next ping, given its schedule and the time its last one landed.
func nextExpected(intervalSeconds int, cronExpr string, from time.Time) (*time.Time, error) {
	if cronExpr != "" {
		sched, err := cronutil.Parse(cronExpr)
		if err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		next := sched.Next(from)
		return &next, nil
	}
	next := from.Add(time.Duration(intervalSeconds) * time.Second)
	return &next, nil
}

// MonitorUsecase validates dead man's switch monitors before creation.
type MonitorUsecase struct {
	monitors repository.MonitorRepository
}

func NewMonitorUsecase(monitors repository.MonitorRepository) *MonitorUsecase {
	return &MonitorUsecase{monitors: monitors}
}

type CreateMonitorInput struct {
	OrganizationID string
	Name           string

	// Exactly one of IntervalSeconds or CronExpr must be set.
	IntervalSeconds int
	CronExpr        string

	GraceSeconds int
}

func (u *MonitorUsecase) CreateMonitor(ctx context.Context, in CreateMonitorInput) (*domain.Monitor, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if in.CronExpr != "" && in.IntervalSeconds > 0 {
		return nil, fmt.Errorf("monitor must have either an interval or a cron expression, not both")
	}
	if in.CronExpr == "" && in.IntervalSeconds < minMonitorIntervalSeconds {
		return nil, fmt.Errorf("interval_seconds must be at least %d", minMonitorIntervalSeconds)
	}
	if in.CronExpr != "" {
		if _, err := cronutil.Parse(in.CronExpr); err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
	}
	if in.GraceSeconds <= 0 {
		in.GraceSeconds = defaultMonitorGraceSeconds
	}

	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now().UTC()
	next, err := nextExpected(in.IntervalSeconds, in.CronExpr, now)
	if err != nil {
		return nil, err
	}

	m := &domain.Monitor{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OrganizationID:  in.OrganizationID,
		Name:            in.Name,
		Token:           token,
		IntervalSeconds: in.IntervalSeconds,
		CronExpr:        in.CronExpr,
		GraceSeconds:    in.GraceSeconds,
		Status:          domain.MonitorStatusNew,
		LastStatusAt:    now,
		NextExpectedAt:  next,
	}
	if err := u.monitors.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}
	return m, nil
}

func (u *MonitorUsecase) GetMonitor(ctx context.Context, orgID, id string) (*domain.Monitor, error) {
	return u.monitors.GetByID(ctx, orgID, id)
}

type ListMonitorsInput struct {
	OrganizationID string
	Cursor         string
	Limit          int
}

type ListMonitorsResult struct {
	Monitors   []*domain.Monitor
	NextCursor string
}

func (u *MonitorUsecase) ListMonitors(ctx context.Context, in ListMonitorsInput) (ListMonitorsResult, error) {
	limit := clampLimit(in.Limit)
	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return ListMonitorsResult{}, fmt.Errorf("decode cursor: %w", err)
	}
	monitors, next, err := u.monitors.List(ctx, in.OrganizationID, cursor, limit)
	if err != nil {
		return ListMonitorsResult{}, fmt.Errorf("list monitors: %w", err)
	}
	return ListMonitorsResult{Monitors: monitors, NextCursor: encodeCursor(next)}, nil
}

type UpdateMonitorInput struct {
	OrganizationID  string
	ID              string
	Name            string
	IntervalSeconds int
	CronExpr        string
	GraceSeconds    int
	Paused          bool
}

func (u *MonitorUsecase) UpdateMonitor(ctx context.Context, in UpdateMonitorInput) (*domain.Monitor, error) {
	existing, err := u.monitors.GetByID(ctx, in.OrganizationID, in.ID)
	if err != nil {
		return nil, err
	}
	if in.CronExpr != "" && in.IntervalSeconds > 0 {
		return nil, fmt.Errorf("monitor must have either an interval or a cron expression, not both")
	}
	if in.IntervalSeconds > 0 && in.IntervalSeconds < minMonitorIntervalSeconds {
		return nil, fmt.Errorf("interval_seconds must be at least %d", minMonitorIntervalSeconds)
	}

	scheduleChanged := false
	if in.CronExpr != "" {
		if _, err := cronutil.Parse(in.CronExpr); err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		existing.CronExpr = in.CronExpr
		existing.IntervalSeconds = 0
		scheduleChanged = true
	} else if in.IntervalSeconds > 0 {
		existing.IntervalSeconds = in.IntervalSeconds
		existing.CronExpr = ""
		scheduleChanged = true
	}

	existing.Name = in.Name
	if in.GraceSeconds > 0 {
		existing.GraceSeconds = in.GraceSeconds
	}
	if in.Paused {
		existing.Status = domain.MonitorStatusPaused
	} else if existing.Status == domain.MonitorStatusPaused {
		existing.Status = domain.MonitorStatusNew
	}

	if scheduleChanged {
		next, err := nextExpected(existing.IntervalSeconds, existing.CronExpr, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		existing.NextExpectedAt = next
	}

	if err := u.monitors.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update monitor: %w", err)
	}
	return existing, nil
}

func randomToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

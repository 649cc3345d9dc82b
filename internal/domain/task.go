package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidURL        = errors.New("url is not permitted")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrCronIntervalFloor = errors.New("cron interval is below the tier floor")
)

type ScheduleType string

const (
	ScheduleCron ScheduleType = "cron"
	ScheduleOnce ScheduleType = "once"
)

// DefaultForwardTimeoutSeconds is applied to the one-shot tasks the
// inbound fan-out creates per forward URL, which carry no timeout of
// their own since they're never authored through the task API.
const DefaultForwardTimeoutSeconds = 30

// Task is a deliverable specification: what to send, and when.
type Task struct {
	ID             string
	OrganizationID string
	Name           string

	// Request shape.
	Method         string
	URL            string
	Headers        map[string]string
	Body           *string
	TimeoutSeconds int
	RetryAttempts  int

	// Schedule shape.
	ScheduleType    ScheduleType
	CronExpr        string
	IntervalMinutes *int // derived from CronExpr, used for claim priority, the tier floor and the grace window
	ScheduledAt     *time.Time

	// Delivery state.
	NextRunAt   *time.Time
	Enabled     bool
	QueueName   *string
	CallbackURL *string
	DeletedAt   *time.Time

	// EndpointID is set for tasks created by inbound fan-out; such tasks
	// are skip_next_run (NextRunAt stays nil forever) because the fan-out
	// execution is their sole driver.
	EndpointID *string

	// LastExecutionAt is buffered in-memory by execcounter.Counter and
	// flushed periodically rather than written on every execution.
	LastExecutionAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SkipNextRun reports whether the scheduler should ever pick this task up
// on its own — false for every task except the inbound fan-out forwards,
// which are driven solely by the execution created at fan-out time.
func (t *Task) SkipNextRun() bool {
	return t.EndpointID != nil
}

// IsSoftDeleted reports whether the task has been marked for purge.
func (t *Task) IsSoftDeleted() bool {
	return t.DeletedAt != nil
}

// Package execcounter coalesces per-organization execution counts and
// per-task last-run timestamps in memory, flushing both to Postgres on
// an interval instead of issuing an UPDATE per execution.
package execcounter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/runlater/core/internal/domain"
)

// Store is the subset of the organization repository the counter
// needs to flush execution counts.
type Store interface {
	IncrementExecutionCount(ctx context.Context, orgID, forMonth string, delta int) (*domain.Organization, error)
}

// TaskTimestamps is the subset of the task repository the counter needs
// to flush buffered last-run timestamps.
type TaskTimestamps interface {
	UpdateLastExecutionAt(ctx context.Context, taskID string, at time.Time) error
}

type Counter struct {
	mu         sync.Mutex
	deltas     map[string]int       // organization ID -> pending delta
	timestamps map[string]time.Time // task ID -> latest last_execution_at
	store      Store
	tasks      TaskTimestamps
	logger     *slog.Logger

	// OnFlush is called after each successful flush with the
	// organization's post-flush state, letting the notifier detect the
	// 80%/100% quota crossing without polling the DB itself.
	OnFlush func(org *domain.Organization)
}

func New(store Store, tasks TaskTimestamps, logger *slog.Logger) *Counter {
	return &Counter{
		deltas:     make(map[string]int),
		timestamps: make(map[string]time.Time),
		store:      store,
		tasks:      tasks,
		logger:     logger.With("component", "execcounter"),
	}
}

// Record buffers one execution against an organization. Safe for
// concurrent use by every worker goroutine.
func (c *Counter) Record(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas[orgID]++
}

// RecordTaskRun buffers a task's most recent execution time. Safe for
// concurrent use by every worker goroutine. Only the latest value per
// task survives until the next flush.
func (c *Counter) RecordTaskRun(taskID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.timestamps[taskID]; !ok || at.After(existing) {
		c.timestamps[taskID] = at
	}
}

// Run flushes buffered deltas and timestamps every interval until ctx
// is canceled.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.flush(context.Background())
			return
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

// flush drains both buffers without discarding entries that fail to
// write, so a transient DB error loses no counts or timestamps — they
// simply carry forward into the next flush instead.
func (c *Counter) flush(ctx context.Context) {
	c.flushDeltas(ctx)
	c.flushTimestamps(ctx)
}

func (c *Counter) flushDeltas(ctx context.Context) {
	c.mu.Lock()
	snapshot := make(map[string]int, len(c.deltas))
	for org, delta := range c.deltas {
		snapshot[org] = delta
	}
	c.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	month := time.Now().UTC().Format("2006-01-02")
	month = month[:7] + "-01"

	for orgID, delta := range snapshot {
		org, err := c.store.IncrementExecutionCount(ctx, orgID, month, delta)
		if err != nil {
			c.logger.Error("flush execution count failed", "org_id", orgID, "delta", delta, "error", err)
			continue
		}
		c.mu.Lock()
		c.deltas[orgID] -= delta
		if c.deltas[orgID] <= 0 {
			delete(c.deltas, orgID)
		}
		c.mu.Unlock()

		if c.OnFlush != nil {
			c.OnFlush(org)
		}
	}
}

// flushTimestamps writes each buffered task's last_execution_at. An
// entry is cleared only if it still matches the value written — a
// newer RecordTaskRun racing in between snapshot and write must
// survive to the next flush rather than being dropped.
func (c *Counter) flushTimestamps(ctx context.Context) {
	c.mu.Lock()
	snapshot := make(map[string]time.Time, len(c.timestamps))
	for taskID, at := range c.timestamps {
		snapshot[taskID] = at
	}
	c.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	for taskID, at := range snapshot {
		if err := c.tasks.UpdateLastExecutionAt(ctx, taskID, at); err != nil {
			c.logger.Error("flush task last_execution_at failed", "task_id", taskID, "error", err)
			continue
		}
		c.mu.Lock()
		if current, ok := c.timestamps[taskID]; ok && !current.After(at) {
			delete(c.timestamps, taskID)
		}
		c.mu.Unlock()
	}
}

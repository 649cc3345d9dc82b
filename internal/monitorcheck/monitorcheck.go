// Package monitorcheck runs the leader-elected sweep that flips
// overdue dead man's switch monitors to down and notifies the owning
// organization.
package monitorcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/infrastructure/postgres"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/notifier"
	"github.com/runlater/core/internal/repository"
)

type Checker struct {
	pool     *pgxpool.Pool
	monitors repository.MonitorRepository
	orgs     repository.OrganizationRepository
	notifier *notifier.Notifier
	logger   *slog.Logger
	interval time.Duration
}

func New(
	pool *pgxpool.Pool,
	monitors repository.MonitorRepository,
	orgs repository.OrganizationRepository,
	notif *notifier.Notifier,
	logger *slog.Logger,
	interval time.Duration,
) *Checker {
	return &Checker{
		pool:     pool,
		monitors: monitors,
		orgs:     orgs,
		notifier: notif,
		logger:   logger.With("component", "monitor_checker"),
		interval: interval,
	}
}

func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sweep(ctx); err != nil {
				c.logger.Error("monitor sweep failed", "error", err)
			}
		}
	}
}

func (c *Checker) sweep(ctx context.Context) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acquired, err := postgres.TryAdvisoryLock(ctx, tx, postgres.LockIDMonitorCheck)
	if err != nil {
		return err
	}
	if !acquired {
		return tx.Commit(ctx)
	}
	// The status flips go through the repository's own statements, not
	// this transaction — the lock transaction just stays open, idle,
	// until the sweep finishes, keeping other nodes out of the same
	// pass. Committing releases it.
	defer func() { _ = tx.Commit(ctx) }()

	now := time.Now().UTC()
	overdue, err := c.monitors.ListOverdue(ctx, now)
	if err != nil {
		return err
	}

	for _, m := range overdue {
		if err := c.monitors.MarkDown(ctx, m.ID, now); err != nil {
			c.logger.Error("mark monitor down failed", "monitor_id", m.ID, "error", err)
			continue
		}
		metrics.MonitorTransitionsTotal.WithLabelValues("down").Inc()
		c.logger.Warn("monitor went down", "monitor_id", m.ID, "name", m.Name)
		c.notify(ctx, m)
	}
	return nil
}

// Ping records a check-in for the monitor identified by token and, if
// it had been down, emits a monitor.recovered notification. It's called
// directly from the HTTP ping handler rather than from the sweep loop —
// a ping is an event, not something worth waiting out the next tick for.
func (c *Checker) Ping(ctx context.Context, token, sourceIP string) (*domain.Monitor, error) {
	m, recovered, err := c.monitors.RecordPing(ctx, token, sourceIP, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if recovered {
		metrics.MonitorTransitionsTotal.WithLabelValues("recovered").Inc()
		c.logger.Info("monitor recovered", "monitor_id", m.ID, "name", m.Name)
		c.notifyRecovered(ctx, m)
	}
	return m, nil
}

func (c *Checker) notifyRecovered(ctx context.Context, m *domain.Monitor) {
	org, err := c.orgs.GetByID(ctx, m.OrganizationID)
	if err != nil {
		c.logger.Error("load organization for monitor notification failed", "monitor_id", m.ID, "error", err)
		return
	}
	body := "Monitor \"" + m.Name + "\" has checked in again and is back up."
	c.notifier.NotifyEmail(ctx, org.ID, org.NotificationEmail, "Monitor recovered: "+m.Name, body)
	c.notifier.NotifyWebhook(ctx, org.NotificationWebhookURL, org.WebhookSecret, notifier.Event{
		Type:  notifier.EventMonitorRecovered,
		OrgID: org.ID,
		Data:  map[string]any{"monitor_id": m.ID, "name": m.Name},
	})
}

func (c *Checker) notify(ctx context.Context, m *domain.Monitor) {
	org, err := c.orgs.GetByID(ctx, m.OrganizationID)
	if err != nil {
		c.logger.Error("load organization for monitor notification failed", "monitor_id", m.ID, "error", err)
		return
	}
	body := "Monitor \"" + m.Name + "\" has not checked in and is now marked down."
	c.notifier.NotifyEmail(ctx, org.ID, org.NotificationEmail, "Monitor down: "+m.Name, body)
	c.notifier.NotifyWebhook(ctx, org.NotificationWebhookURL, org.WebhookSecret, notifier.Event{
		Type:  notifier.EventMonitorDown,
		OrgID: org.ID,
		Data:  map[string]any{"monitor_id": m.ID, "name": m.Name},
	})
}

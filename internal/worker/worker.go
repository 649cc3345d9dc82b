// Package worker claims pending executions and runs them against their
// task's URL, handling retries, host blocking, and notifications.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/execcounter"
	"github.com/runlater/core/internal/hostblock"
	"github.com/runlater/core/internal/metrics"
	"github.com/runlater/core/internal/notifier"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/wake"
)

// OrgLookup is the narrow organization accessor the worker needs for
// webhook signing secrets and notification targets.
type OrgLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
}

type Worker struct {
	id        string
	execs     repository.ExecutionRepository
	orgs      OrgLookup
	executor  *Executor
	breaker   *hostblock.Breaker
	counter   *execcounter.Counter
	notifier  *notifier.Notifier
	wake      *wake.Broadcaster
	callbacks *CallbackDispatcher
	logger    *slog.Logger
}

func New(
	id string,
	execs repository.ExecutionRepository,
	orgs OrgLookup,
	breaker *hostblock.Breaker,
	counter *execcounter.Counter,
	notif *notifier.Notifier,
	wakeBroadcaster *wake.Broadcaster,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:        id,
		execs:     execs,
		orgs:      orgs,
		executor:  NewExecutor(logger),
		breaker:   breaker,
		counter:   counter,
		notifier:  notif,
		wake:      wakeBroadcaster,
		callbacks: NewCallbackDispatcher(logger),
		logger:    logger.With("component", "worker", "worker_id", id),
	}
}

// Idle-backoff ladder for Run: a worker with nothing to claim sleeps a
// little longer each time, up to idleBackoffCap, and exits once its
// cumulative idle time crosses idleExitAfter. The pool's sizing loop
// will spawn a replacement if claim volume picks back up.
const (
	idleBackoffStart = 2 * time.Second
	idleBackoffCap   = 5 * time.Second
	idleExitAfter    = 5 * time.Minute
)

// Run repeatedly claims and runs one execution at a time until ctx is
// canceled or the worker has sat idle for idleExitAfter, at which point
// it exits and relies on the pool to spawn a replacement if demand
// returns. A worker is a single sequential process — the pool's size is
// the only concurrency control.
func (w *Worker) Run(ctx context.Context) {
	backoff := idleBackoffStart
	var idleFor time.Duration
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := w.ClaimAndRun(ctx)
		if err != nil {
			w.logger.Error("claim failed", "error", err)
		}
		if claimed > 0 {
			backoff = idleBackoffStart
			idleFor = 0
			continue
		}

		idleFor += backoff
		if idleFor >= idleExitAfter {
			w.logger.Info("worker exiting after idle period", "idle_for", idleFor)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > idleBackoffCap {
			backoff = idleBackoffCap
		}
	}
}

// ClaimAndRun claims a single pending execution and runs it to
// completion before returning. Callers (Run) decide how often to call
// this; running one claim at a time, synchronously, keeps in-flight
// concurrency bounded entirely by the pool's worker count.
func (w *Worker) ClaimAndRun(ctx context.Context) (claimed int, err error) {
	batch, err := w.execs.Claim(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("claim execution: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	// A claimed execution runs to completion even if shutdown lands
	// mid-flight — the claim moved the row to running, so abandoning it
	// here would strand it until the stale sweep. Run's loop observes
	// the cancellation and exits right after.
	w.run(context.WithoutCancel(ctx), batch[0])
	return 1, nil
}

func (w *Worker) run(ctx context.Context, ce *repository.ClaimedExecution) {
	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()
	metrics.ExecutionPickupLatency.Observe(time.Since(ce.Execution.ScheduledFor).Seconds())

	exec := ce.Execution
	task := ce.Task

	org, err := w.orgs.GetByID(ctx, task.OrganizationID)
	if err != nil {
		w.logger.Error("load organization failed", "task_id", task.ID, "error", err)
		_ = w.execs.Fail(ctx, exec.ID, "organization lookup failed: "+err.Error(), time.Now().UTC())
		return
	}

	host := hostOf(task.URL)
	if blocked, until := w.breaker.Blocked(org.ID, host, time.Now()); blocked {
		w.logger.Warn("host blocked, skipping execution", "task_id", task.ID, "host", host, "blocked_until", until)
		finishedAt := time.Now().UTC()
		msg := fmt.Sprintf("host %s is blocked until %s", host, until)
		_ = w.execs.Fail(ctx, exec.ID, msg, finishedAt)
		w.maybeRetry(ctx, &task, &exec, until, fmt.Sprintf("host %s was blocked", host))
		w.sendCallback(&task, org, &exec, domain.StatusFailed, nil, &msg, finishedAt)
		return
	}

	result := w.executor.Run(ctx, &task, exec.ID, org.WebhookSecret)
	finishedAt := time.Now().UTC()

	// Every branch below reaches a terminal status, so every branch
	// counts against the tenant's monthly quota and bumps the task's
	// buffered last-run timestamp.
	w.counter.Record(org.ID)
	w.counter.RecordTaskRun(task.ID, finishedAt)

	switch {
	case result.Err != nil && result.IsTimeout:
		w.breaker.RecordFailure(org.ID, host, finishedAt)
		_ = w.execs.Timeout(ctx, exec.ID, finishedAt)
		w.maybeRetry(ctx, &task, &exec, w.retryTime(&exec), "timed out")
		w.notifyFailure(ctx, org, &task, &exec, "timed out")
		msg := "execution exceeded its timeout"
		w.sendCallback(&task, org, &exec, domain.StatusTimeout, nil, &msg, finishedAt)
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusTimeout)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusTimeout)).Observe(result.Duration.Seconds())

	case result.Err != nil:
		w.breaker.RecordFailure(org.ID, host, finishedAt)
		_ = w.execs.Fail(ctx, exec.ID, result.Err.Error(), finishedAt)
		w.maybeRetry(ctx, &task, &exec, w.retryTime(&exec), result.Err.Error())
		w.notifyFailure(ctx, org, &task, &exec, result.Err.Error())
		errMsg := result.Err.Error()
		w.sendCallback(&task, org, &exec, domain.StatusFailed, nil, &errMsg, finishedAt)
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusFailed)).Observe(result.Duration.Seconds())

	case result.StatusCode == 429:
		w.breaker.RecordRateLimit(org.ID, host, finishedAt, result.RetryAfter)
		_ = w.execs.Complete(ctx, exec.ID, result.StatusCode, result.Body, finishedAt)
		w.maybeRetry(ctx, &task, &exec, finishedAt.Add(result.RetryAfter), "rate limited")
		statusCode := result.StatusCode
		msg := "rate limited (429)"
		w.sendCallback(&task, org, &exec, domain.StatusFailed, &statusCode, &msg, finishedAt)
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusFailed)).Observe(result.Duration.Seconds())

	case result.StatusCode >= 200 && result.StatusCode < 300:
		w.breaker.RecordSuccess(org.ID, host)
		_ = w.execs.Complete(ctx, exec.ID, result.StatusCode, result.Body, finishedAt)
		statusCode := result.StatusCode
		w.sendCallback(&task, org, &exec, domain.StatusSuccess, &statusCode, nil, finishedAt)
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusSuccess)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusSuccess)).Observe(result.Duration.Seconds())

	case result.StatusCode >= 500:
		w.breaker.RecordFailure(org.ID, host, finishedAt)
		_ = w.execs.Complete(ctx, exec.ID, result.StatusCode, result.Body, finishedAt)
		w.maybeRetry(ctx, &task, &exec, w.retryTime(&exec), fmt.Sprintf("server error %d", result.StatusCode))
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusFailed)).Observe(result.Duration.Seconds())
		w.notifyFailure(ctx, org, &task, &exec, fmt.Sprintf("server error %d", result.StatusCode))
		statusCode := result.StatusCode
		msg := fmt.Sprintf("server error %d", result.StatusCode)
		w.sendCallback(&task, org, &exec, domain.StatusFailed, &statusCode, &msg, finishedAt)

	default:
		// 3xx the client did not follow, 4xx other than 429: a failed
		// delivery, but not evidence of host trouble — no breaker
		// feedback and no retry, the receiver answered and said no.
		_ = w.execs.Complete(ctx, exec.ID, result.StatusCode, result.Body, finishedAt)
		statusCode := result.StatusCode
		msg := fmt.Sprintf("received status %d", result.StatusCode)
		w.sendCallback(&task, org, &exec, domain.StatusFailed, &statusCode, &msg, finishedAt)
		metrics.ExecutionsCompletedTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
		metrics.ExecutionDuration.WithLabelValues(string(domain.StatusFailed)).Observe(result.Duration.Seconds())
	}
}

// sendCallback delivers the execution's outcome to the task's optional
// callback URL. A nil CallbackURL or a nil webhook secret skips delivery
// silently — the signature has nothing to sign against without a secret.
func (w *Worker) sendCallback(task *domain.Task, org *domain.Organization, exec *domain.Execution, status domain.Status, statusCode *int, errMsg *string, finishedAt time.Time) {
	if task.CallbackURL == nil || len(org.WebhookSecret) == 0 {
		return
	}
	w.callbacks.Send(*task.CallbackURL, org.WebhookSecret, Outcome{
		TaskID:      task.ID,
		ExecutionID: exec.ID,
		Attempt:     exec.Attempt,
		Status:      string(status),
		StatusCode:  statusCode,
		Error:       errMsg,
		FinishedAt:  finishedAt,
	})
}

// retryTime computes the quadratic backoff (attempt^2 * 5s) target.
func (w *Worker) retryTime(exec *domain.Execution) time.Time {
	delay := time.Duration(exec.Attempt*exec.Attempt) * 5 * time.Second
	return time.Now().UTC().Add(delay)
}

// maybeRetry enqueues a retry execution only for one-shot tasks within
// their retry budget — recurring cron tasks rely on their next
// scheduled fire instead of a same-task retry.
func (w *Worker) maybeRetry(ctx context.Context, task *domain.Task, exec *domain.Execution, at time.Time, reason string) {
	if task.ScheduleType != domain.ScheduleOnce {
		return
	}
	if exec.Attempt >= task.RetryAttempts {
		return
	}
	if _, err := w.execs.CreateRetry(ctx, task.ID, exec.Attempt+1, at); err != nil {
		w.logger.Error("create retry execution failed", "task_id", task.ID, "reason", reason, "error", err)
		return
	}
	w.wake.Publish(ctx, wake.TopicWorkers)
}

// notifyFailure emits a task.failed notification only on a transition
// into failure — a task already failing on its previous execution stays
// quiet rather than alerting on every attempt.
func (w *Worker) notifyFailure(ctx context.Context, org *domain.Organization, task *domain.Task, exec *domain.Execution, reason string) {
	prev, err := w.execs.LastTerminalStatus(ctx, task.ID, exec.ID)
	if err != nil {
		w.logger.Error("load previous execution status failed", "task_id", task.ID, "error", err)
		return
	}
	if prev != "" && prev != domain.StatusSuccess {
		return
	}

	body := fmt.Sprintf("Task %s failed: %s", task.ID, reason)
	w.notifier.NotifyEmail(ctx, org.ID, org.NotificationEmail, "Task failed", body)
	w.notifier.NotifyWebhook(ctx, org.NotificationWebhookURL, org.WebhookSecret, notifier.Event{
		Type:  notifier.EventTaskFailed,
		OrgID: org.ID,
		Data:  map[string]any{"task_id": task.ID, "reason": reason},
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

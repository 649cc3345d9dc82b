package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/runlater/core/internal/domain"
)

// quotaWarningFraction is the 80% crossing spec.md §7 requires a
// one-time warning at; 100% (OverQuota) is the other crossing.
const quotaWarningFraction = 0.8

// QuotaWatcher turns a stream of post-flush organization snapshots into
// at-most-once warning and exceeded notifications per billing month. It
// holds no state beyond what it has already notified, so it is safe to
// feed every execcounter flush without re-alerting on every tick.
type QuotaWatcher struct {
	mu       sync.Mutex
	notified map[string]string // org ID -> highest level notified this month ("warning"|"exceeded")
	month    map[string]string // org ID -> month (YYYY-MM) the level above covers
	notifier *Notifier
}

func NewQuotaWatcher(n *Notifier) *QuotaWatcher {
	return &QuotaWatcher{
		notified: make(map[string]string),
		month:    make(map[string]string),
		notifier: n,
	}
}

// Observe is meant to be wired as an execcounter.Counter's OnFlush hook.
// It fires a quota.warning the first time an organization's usage
// crosses 80% of its monthly ceiling in a billing month, and a
// quota.exceeded the first time it crosses 100%, then stays quiet until
// QuotaMonth rolls over.
func (w *QuotaWatcher) Observe(ctx context.Context, org *domain.Organization) {
	if org == nil {
		return
	}
	monthKey := org.QuotaMonth.Format("2006-01")

	w.mu.Lock()
	if w.month[org.ID] != monthKey {
		w.month[org.ID] = monthKey
		delete(w.notified, org.ID)
	}
	already := w.notified[org.ID]
	w.mu.Unlock()

	fraction := org.QuotaFraction()
	switch {
	case org.OverQuota():
		if already == EventQuotaExceeded {
			return
		}
		w.setNotified(org.ID, EventQuotaExceeded)
		w.fire(ctx, org, EventQuotaExceeded, fmt.Sprintf(
			"Organization %s has exhausted its monthly execution quota (%d/%d).",
			org.Name, org.MonthlyExecutionCount, org.Tier.MonthlyQuota()))

	case fraction >= quotaWarningFraction:
		if already == EventQuotaWarning || already == EventQuotaExceeded {
			return
		}
		w.setNotified(org.ID, EventQuotaWarning)
		w.fire(ctx, org, EventQuotaWarning, fmt.Sprintf(
			"Organization %s has used %d%% of its monthly execution quota (%d/%d).",
			org.Name, int(fraction*100), org.MonthlyExecutionCount, org.Tier.MonthlyQuota()))
	}
}

func (w *QuotaWatcher) setNotified(orgID, level string) {
	w.mu.Lock()
	w.notified[orgID] = level
	w.mu.Unlock()
}

func (w *QuotaWatcher) fire(ctx context.Context, org *domain.Organization, eventType, body string) {
	subject := "Execution quota warning"
	if eventType == EventQuotaExceeded {
		subject = "Execution quota exceeded"
	}
	w.notifier.NotifyEmail(ctx, org.ID, org.NotificationEmail, subject, body)
	w.notifier.NotifyWebhook(ctx, org.NotificationWebhookURL, org.WebhookSecret, Event{
		Type:  eventType,
		OrgID: org.ID,
		Data: map[string]any{
			"monthly_execution_count": org.MonthlyExecutionCount,
			"monthly_quota":           org.Tier.MonthlyQuota(),
		},
	})
}

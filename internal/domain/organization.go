package domain

import (
	"errors"
	"time"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrQuotaExceeded        = errors.New("monthly execution quota exceeded")
)

// Tier controls the monthly execution ceiling and retention window.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// MonthlyQuota returns the execution ceiling for the tier.
func (t Tier) MonthlyQuota() int {
	switch t {
	case TierPro:
		return 100_000
	default:
		return 1_000
	}
}

// RetentionDays returns how long finished executions and completed
// one-shot tasks are kept before the cleanup sweeper purges them.
func (t Tier) RetentionDays() int {
	switch t {
	case TierPro:
		return 30
	default:
		return 7
	}
}

// MinCronIntervalMinutes returns the floor a cron task's derived interval
// must clear. Free tenants cannot schedule minute-level crons.
func (t Tier) MinCronIntervalMinutes() int {
	if t == TierFree {
		return 60
	}
	return 1
}

// Organization is the tenant boundary. Every task, endpoint, and monitor
// belongs to exactly one.
type Organization struct {
	ID                     string
	Name                   string
	Tier                   Tier
	WebhookSecret          []byte
	NotificationEmail      *string
	NotificationWebhookURL *string

	// MonthlyExecutionCount is advisory — it is maintained by the
	// execution counter's coalesced flush and can be recomputed from
	// executions for the current month if it ever drifts.
	MonthlyExecutionCount int
	QuotaMonth            time.Time // first day of month the counter covers

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OverQuota reports whether the organization has exhausted its monthly
// execution ceiling.
func (o *Organization) OverQuota() bool {
	return o.MonthlyExecutionCount >= o.Tier.MonthlyQuota()
}

// QuotaFraction returns the fraction of the monthly ceiling consumed,
// used to detect the 80%/100% notification crossing thresholds.
func (o *Organization) QuotaFraction() float64 {
	limit := o.Tier.MonthlyQuota()
	if limit <= 0 {
		return 0
	}
	return float64(o.MonthlyExecutionCount) / float64(limit)
}

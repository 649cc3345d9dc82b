package repository

import (
	"context"
	"time"
)

// IdempotencyRepository persists idempotency keys so the cleanup sweep
// can expire them; no table scopes them per organization (spec.md §7
// treats the key as a global dedupe token, not tenant data).
type IdempotencyRepository interface {
	// PurgeBefore removes keys recorded before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

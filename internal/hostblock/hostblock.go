// Package hostblock implements the per-(organization, host) circuit
// breaker: a host that repeatedly fails gets blocked for an escalating
// backoff window, and a host that rate-limits gets blocked for the
// Retry-After window it sent, before the worker pool will try it again. This is a custom reason-tagged, duration-driven breaker rather
// than a generic closed/open/half-open state machine — see DESIGN.md
// for why sony/gobreaker couldn't express it.
package hostblock

import (
	"context"
	"sync"
	"time"

	"github.com/runlater/core/internal/metrics"
)

type Reason string

const (
	ReasonRateLimited         Reason = "rate_limited"
	ReasonConsecutiveFailures Reason = "consecutive_failures"
)

// backoffSteps is the escalation ladder; level is clamped to its
// length, so the backoff never grows past the last entry.
var backoffSteps = [4]time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

type entry struct {
	blockedUntil time.Time
	reason       Reason
	failStreak   int
	level        int
}

// Breaker tracks block state for every (org, host) pair this process
// has seen. It is purely in-process — each node makes its own calls,
// which is acceptable because a blocked host just means a few extra
// wasted requests from other nodes until their own streak trips it too.
type Breaker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Breaker {
	return &Breaker{entries: make(map[string]*entry)}
}

func key(orgID, host string) string {
	return orgID + "|" + host
}

// Blocked reports whether the given host is currently blocked for the
// organization, and until when.
func (b *Breaker) Blocked(orgID, host string, now time.Time) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key(orgID, host)]
	if !ok || now.After(e.blockedUntil) {
		return false, time.Time{}
	}
	return true, e.blockedUntil
}

// RecordFailure bumps the consecutive-failure streak. At streak 3 it
// escalates the block level and opens the breaker.
func (b *Breaker) RecordFailure(orgID, host string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(orgID, host)
	e, ok := b.entries[k]
	if !ok {
		e = &entry{}
		b.entries[k] = e
	}
	e.failStreak++
	if e.failStreak >= 3 {
		b.escalate(e, ReasonConsecutiveFailures, now)
		e.failStreak = 0
	}
}

// rateLimitFallback is the block window used when a 429 arrives with
// no usable Retry-After horizon.
const rateLimitFallback = 60 * time.Second

// RecordRateLimit opens the breaker for exactly the Retry-After horizon
// the host asked for — the host named its own recovery time, so the
// escalation ladder (which exists to guess one) doesn't apply.
func (b *Breaker) RecordRateLimit(orgID, host string, now time.Time, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = rateLimitFallback
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(orgID, host)
	e, ok := b.entries[k]
	if !ok {
		e = &entry{}
		b.entries[k] = e
	}
	e.reason = ReasonRateLimited
	until := now.Add(retryAfter)
	if until.After(e.blockedUntil) {
		e.blockedUntil = until
	}
	metrics.HostBlockEventsTotal.WithLabelValues(string(ReasonRateLimited)).Inc()
}

// RecordSuccess resets the failure streak and escalation level.
func (b *Breaker) RecordSuccess(orgID, host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key(orgID, host))
}

func (b *Breaker) escalate(e *entry, reason Reason, now time.Time) {
	e.reason = reason
	step := backoffSteps[e.level]
	e.blockedUntil = now.Add(step)
	if e.level < len(backoffSteps)-1 {
		e.level++
	}
	metrics.HostBlockEventsTotal.WithLabelValues(string(reason)).Inc()
}

const (
	sweepInterval = 30 * time.Second
	sweepIdleFor  = 10 * time.Minute
)

// Run sweeps expired entries every 30s until ctx is canceled.
func (b *Breaker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep(time.Now(), sweepIdleFor)
		}
	}
}

// Sweep removes entries whose block has long since expired, bounding
// memory for organizations/hosts this node no longer hears from.
func (b *Breaker) Sweep(now time.Time, idleFor time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, e := range b.entries {
		if now.Sub(e.blockedUntil) > idleFor {
			delete(b.entries, k)
		}
	}
}

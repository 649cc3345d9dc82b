package hostblock_test

import (
	"testing"
	"time"

	"github.com/runlater/core/internal/hostblock"
)

func TestBlocked_UnknownHost_IsFalse(t *testing.T) {
	b := hostblock.New()
	if blocked, _ := b.Blocked("org_1", "api.example.com", time.Now()); blocked {
		t.Fatal("expected unknown host to be unblocked")
	}
}

func TestRecordFailure_TripsAtThirdStreak(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	b.RecordFailure("org_1", host, now)
	b.RecordFailure("org_1", host, now)
	if blocked, _ := b.Blocked("org_1", host, now); blocked {
		t.Fatal("expected no block before the third consecutive failure")
	}

	b.RecordFailure("org_1", host, now)
	blocked, until := b.Blocked("org_1", host, now)
	if !blocked {
		t.Fatal("expected block after the third consecutive failure")
	}
	if !until.After(now) {
		t.Fatalf("blocked_until = %v, want after %v", until, now)
	}
}

func TestRecordFailure_EscalatesAcrossStreaks(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	for i := 0; i < 3; i++ {
		b.RecordFailure("org_1", host, now)
	}
	_, firstUntil := b.Blocked("org_1", host, now)
	firstWindow := firstUntil.Sub(now)

	for i := 0; i < 3; i++ {
		b.RecordFailure("org_1", host, now)
	}
	_, secondUntil := b.Blocked("org_1", host, now)
	secondWindow := secondUntil.Sub(now)

	if secondWindow <= firstWindow {
		t.Fatalf("expected escalation: second window %v <= first window %v", secondWindow, firstWindow)
	}
}

func TestRecordSuccess_ClearsBlock(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	for i := 0; i < 3; i++ {
		b.RecordFailure("org_1", host, now)
	}
	if blocked, _ := b.Blocked("org_1", host, now); !blocked {
		t.Fatal("expected block before success is recorded")
	}

	b.RecordSuccess("org_1", host)
	if blocked, _ := b.Blocked("org_1", host, now); blocked {
		t.Fatal("expected success to clear the block")
	}
}

func TestRecordRateLimit_HonorsRetryAfter(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	b.RecordRateLimit("org_1", host, now, 120*time.Second)
	blocked, until := b.Blocked("org_1", host, now)
	if !blocked {
		t.Fatal("expected rate limit to block immediately")
	}
	if until.Before(now.Add(120 * time.Second)) {
		t.Fatalf("blocked_until = %v, want at least %v", until, now.Add(120*time.Second))
	}
}

func TestBlocked_ExpiresAfterWindow(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	b.RecordRateLimit("org_1", host, now, 30*time.Second)
	if blocked, _ := b.Blocked("org_1", host, now.Add(31*time.Second)); blocked {
		t.Fatal("expected block to have expired")
	}
}

func TestSweep_RemovesLongExpiredEntries(t *testing.T) {
	b := hostblock.New()
	now := time.Now()
	host := "api.example.com"

	b.RecordFailure("org_1", host, now)
	b.RecordFailure("org_1", host, now)
	b.RecordRateLimit("org_1", host, now, 10*time.Second)
	b.Sweep(now.Add(time.Hour), 30*time.Second)

	// After a sweep with a short idle window, a long-expired entry is
	// gone entirely rather than merely reporting unblocked — assert
	// indirectly via a fresh failure streak needing 3 hits again: had
	// the entry survived, its streak of 2 would trip on this failure.
	b.RecordFailure("org_1", host, now.Add(time.Hour))
	if blocked, _ := b.Blocked("org_1", host, now.Add(time.Hour)); blocked {
		t.Fatal("expected single post-sweep failure not to trip a fresh block")
	}
}

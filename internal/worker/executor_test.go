package worker

import (
	"testing"
	"time"

	"github.com/runlater/core/internal/domain"
)

func TestParseRetryAfter_DeltaSeconds(t *testing.T) {
	now := time.Date(2026, 2, 6, 13, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("120", now); got != 120*time.Second {
		t.Fatalf("delta-seconds 120 = %v, want 120s", got)
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2026, 2, 6, 13, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("Fri, 06 Feb 2026 13:02:00 GMT", now); got != 2*time.Minute {
		t.Fatalf("IMF-fixdate 2 minutes ahead = %v, want 2m", got)
	}
}

func TestParseRetryAfter_FallsBackTo60s(t *testing.T) {
	now := time.Date(2026, 2, 6, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"garbage", "soon"},
		{"negative delta", "-5"},
		{"past date", "Thu, 05 Feb 2026 13:00:00 GMT"},
		{"trailing junk", "120abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.header, now); got != 60*time.Second {
				t.Fatalf("parseRetryAfter(%q) = %v, want 60s fallback", tt.header, got)
			}
		})
	}
}

func TestRetryTime_QuadraticBackoff(t *testing.T) {
	w := &Worker{}
	before := time.Now().UTC()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 20 * time.Second},
		{3, 45 * time.Second},
	}
	for _, tt := range tests {
		exec := domain.Execution{Attempt: tt.attempt}
		delay := w.retryTime(&exec).Sub(before)
		if delay < tt.want || delay > tt.want+time.Second {
			t.Fatalf("attempt %d retry delay = %v, want ~%v", tt.attempt, delay, tt.want)
		}
	}
}

package cronutil_test

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/runlater/core/internal/cronutil"
)

func mustParse(t *testing.T, expr string) cron.Schedule {
	t.Helper()
	sched, err := cronutil.Parse(expr)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	return sched
}

func TestParse_RejectsInvalidExpression(t *testing.T) {
	if _, err := cronutil.Parse("not a cron"); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestDeriveIntervalMinutes_EveryMinute(t *testing.T) {
	sched := mustParse(t, "* * * * *")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := cronutil.DeriveIntervalMinutes(sched, from); got != 1 {
		t.Fatalf("interval = %d, want 1", got)
	}
}

func TestDeriveIntervalMinutes_Hourly(t *testing.T) {
	sched := mustParse(t, "0 * * * *")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := cronutil.DeriveIntervalMinutes(sched, from); got != 60 {
		t.Fatalf("interval = %d, want 60", got)
	}
}

func TestCatchUp_WalksEveryMissedOccurrence(t *testing.T) {
	sched := mustParse(t, "* * * * *")
	lastRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := lastRun.Add(4 * time.Minute)

	due, next := cronutil.CatchUp(sched, lastRun, now)
	if len(due) != 4 {
		t.Fatalf("due = %d occurrences, want 4", len(due))
	}
	for i, d := range due {
		want := lastRun.Add(time.Duration(i+1) * time.Minute)
		if !d.Equal(want) {
			t.Fatalf("due[%d] = %v, want %v", i, d, want)
		}
	}
	if !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("next = %v, want %v", next, now.Add(time.Minute))
	}
}

func TestCatchUp_NoMissedOccurrences(t *testing.T) {
	sched := mustParse(t, "* * * * *")
	lastRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := lastRun

	due, next := cronutil.CatchUp(sched, lastRun, now)
	if len(due) != 0 {
		t.Fatalf("due = %d occurrences, want 0", len(due))
	}
	if !next.Equal(lastRun.Add(time.Minute)) {
		t.Fatalf("next = %v, want %v", next, lastRun.Add(time.Minute))
	}
}

func TestWithinGrace(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	firedAt := now.Add(-20 * time.Second)
	if !cronutil.WithinGrace(firedAt, now, 30*time.Second) {
		t.Fatal("expected fire 20s ago to be within a 30s grace window")
	}
	if cronutil.WithinGrace(firedAt.Add(-20*time.Second), now, 30*time.Second) {
		t.Fatal("expected fire 40s ago to fall outside a 30s grace window")
	}
}

func TestGraceWindow_Clamps(t *testing.T) {
	if got := cronutil.GraceWindow(1); got != 30*time.Second {
		t.Fatalf("1-minute interval grace = %v, want 30s floor", got)
	}
	if got := cronutil.GraceWindow(300); got != time.Hour {
		t.Fatalf("300-minute interval grace = %v, want 1h ceiling", got)
	}
	if got := cronutil.GraceWindow(10); got != 5*time.Minute {
		t.Fatalf("10-minute interval grace = %v, want 5m (50%%)", got)
	}
}

func TestComputeCron_PresetShapes(t *testing.T) {
	tests := []struct {
		name       string
		preset     cronutil.Preset
		minute     int
		hour       int
		daysOfWeek []int
		dayOfMonth int
		want       string
	}{
		{"hourly", cronutil.PresetHourly, 15, 0, nil, 0, "15 * * * *"},
		{"daily", cronutil.PresetDaily, 30, 9, nil, 0, "30 9 * * *"},
		{"weekly", cronutil.PresetWeekly, 0, 8, []int{1, 5}, 0, "0 8 * * 1,5"},
		{"monthly", cronutil.PresetMonthly, 0, 3, nil, 15, "0 3 15 * *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cronutil.ComputeCron(tt.preset, tt.minute, tt.hour, tt.daysOfWeek, tt.dayOfMonth)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expression = %q, want %q", got, tt.want)
			}
			// Every built expression must parse.
			if _, err := cronutil.Parse(got); err != nil {
				t.Fatalf("built expression %q does not parse: %v", got, err)
			}
		})
	}
}

func TestComputeCron_RejectsOutOfRange(t *testing.T) {
	if _, err := cronutil.ComputeCron(cronutil.PresetHourly, 60, 0, nil, 0); err == nil {
		t.Fatal("expected an error for minute 60")
	}
	if _, err := cronutil.ComputeCron(cronutil.PresetDaily, 0, 24, nil, 0); err == nil {
		t.Fatal("expected an error for hour 24")
	}
	if _, err := cronutil.ComputeCron(cronutil.PresetWeekly, 0, 9, nil, 0); err == nil {
		t.Fatal("expected an error for an empty weekly day list")
	}
	if _, err := cronutil.ComputeCron(cronutil.PresetMonthly, 0, 9, nil, 32); err == nil {
		t.Fatal("expected an error for day of month 32")
	}
	if _, err := cronutil.ComputeCron(cronutil.Preset("fortnightly"), 0, 9, nil, 1); err == nil {
		t.Fatal("expected an error for an unknown preset")
	}
}

func TestDescribe_CoversPresetShapes(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"* * * * *", "Every minute"},
		{"*/5 * * * *", "Every 5 minutes"},
		{"15 * * * *", "Hourly at :15"},
		{"30 9 * * *", "Daily at 09:30"},
		{"0 8 * * 1,5", "Weekly on Mon, Fri at 08:00"},
		{"0 3 15 * *", "Monthly on day 15 at 03:00"},
	}
	for _, tt := range tests {
		if got := cronutil.Describe(tt.expr); got != tt.want {
			t.Fatalf("Describe(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestDescribe_RoundTripsComputedExpressions(t *testing.T) {
	expr, err := cronutil.ComputeCron(cronutil.PresetWeekly, 45, 17, []int{0, 3}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cronutil.Describe(expr); got != "Weekly on Sun, Wed at 17:45" {
		t.Fatalf("Describe(%q) = %q", expr, got)
	}
}

func TestDescribe_FallsBackToRawExpression(t *testing.T) {
	exprs := []string{"0 9 * 2 *", "not a cron", "0 9 1 * 1"}
	for _, expr := range exprs {
		if got := cronutil.Describe(expr); got != expr {
			t.Fatalf("Describe(%q) = %q, want the raw expression back", expr, got)
		}
	}
}

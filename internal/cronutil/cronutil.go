// Package cronutil wraps robfig/cron's parser with the interval
// derivation and catch-up walk the scheduler and task validation need.
package cronutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a cron expression and returns the parsed schedule.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression: %w", err)
	}
	return sched, nil
}

// DeriveIntervalMinutes estimates the expression's firing cadence by
// measuring the gap between its next two occurrences from now. Used
// to rank claim priority, to enforce the per-tier minimum interval
// floor and, once stored on the task, as the scheduler's grace-window
// basis — not as an authoritative recurrence model.
func DeriveIntervalMinutes(sched cron.Schedule, from time.Time) int {
	first := sched.Next(from)
	second := sched.Next(first)
	gap := second.Sub(first)
	minutes := int(gap.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// CatchUp walks sched.Next forward from lastRun until it lands strictly
// after now, returning every occurrence that fell due in between
// (oldest first) plus the next occurrence after now. The caller
// decides, per occurrence, whether it is still within the grace window
// or must be recorded missed — CatchUp itself never drops an
// occurrence, so no fire time is silently lost.
func CatchUp(sched cron.Schedule, lastRun, now time.Time) (due []time.Time, next time.Time) {
	t := lastRun
	for {
		t = sched.Next(t)
		if t.After(now) {
			return due, t
		}
		due = append(due, t)
	}
}

// WithinGrace reports whether firedAt is still close enough to now to
// fire late rather than being recorded missed.
func WithinGrace(firedAt, now time.Time, graceWindow time.Duration) bool {
	return !firedAt.Before(now.Add(-graceWindow))
}

// Preset names for the schedule shapes most tenants pick from instead
// of writing a raw cron expression.
type Preset string

const (
	PresetHourly  Preset = "hourly"
	PresetDaily   Preset = "daily"
	PresetWeekly  Preset = "weekly"
	PresetMonthly Preset = "monthly"
)

// dowNames indexes short weekday names by cron day-of-week number.
var dowNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ComputeCron builds a standard 5-field cron expression from a preset:
// hourly at :minute, daily/weekly/monthly at hour:minute, weekly on the
// given days of week (0=Sunday), monthly on dayOfMonth.
func ComputeCron(preset Preset, minute, hour int, daysOfWeek []int, dayOfMonth int) (string, error) {
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("minute %d out of range", minute)
	}
	switch preset {
	case PresetHourly:
		return fmt.Sprintf("%d * * * *", minute), nil
	case PresetDaily, PresetWeekly, PresetMonthly:
		if hour < 0 || hour > 23 {
			return "", fmt.Errorf("hour %d out of range", hour)
		}
	default:
		return "", fmt.Errorf("unknown preset %q", preset)
	}

	switch preset {
	case PresetDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case PresetWeekly:
		if len(daysOfWeek) == 0 {
			return "", fmt.Errorf("weekly preset needs at least one day of week")
		}
		parts := make([]string, len(daysOfWeek))
		for i, d := range daysOfWeek {
			if d < 0 || d > 6 {
				return "", fmt.Errorf("day of week %d out of range", d)
			}
			parts[i] = strconv.Itoa(d)
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ",")), nil
	default: // PresetMonthly
		if dayOfMonth < 1 || dayOfMonth > 31 {
			return "", fmt.Errorf("day of month %d out of range", dayOfMonth)
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, dayOfMonth), nil
	}
}

// Describe renders the shapes ComputeCron produces (plus the two bare
// minute forms) as a human-readable summary. Expressions outside those
// shapes come back verbatim — a raw cron string is still the most
// precise description of itself.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]
	if month != "*" {
		return expr
	}

	switch {
	case minute == "*" && hour == "*" && dom == "*" && dow == "*":
		return "Every minute"

	case strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && dow == "*":
		if n, err := strconv.Atoi(minute[2:]); err == nil && n > 0 {
			return fmt.Sprintf("Every %d minutes", n)
		}

	case hour == "*" && dom == "*" && dow == "*":
		if m, err := strconv.Atoi(minute); err == nil {
			return fmt.Sprintf("Hourly at :%02d", m)
		}

	case dom == "*" && dow == "*":
		if m, h, ok := parseClock(minute, hour); ok {
			return fmt.Sprintf("Daily at %02d:%02d", h, m)
		}

	case dom == "*":
		m, h, ok := parseClock(minute, hour)
		if !ok {
			return expr
		}
		var names []string
		for _, part := range strings.Split(dow, ",") {
			d, err := strconv.Atoi(part)
			if err != nil || d < 0 || d > 6 {
				return expr
			}
			names = append(names, dowNames[d])
		}
		return fmt.Sprintf("Weekly on %s at %02d:%02d", strings.Join(names, ", "), h, m)

	case dow == "*":
		m, h, ok := parseClock(minute, hour)
		if !ok {
			return expr
		}
		if d, err := strconv.Atoi(dom); err == nil {
			return fmt.Sprintf("Monthly on day %d at %02d:%02d", d, h, m)
		}
	}
	return expr
}

func parseClock(minute, hour string) (m, h int, ok bool) {
	m, errM := strconv.Atoi(minute)
	h, errH := strconv.Atoi(hour)
	return m, h, errM == nil && errH == nil
}

// GraceWindow returns 50% of the interval, clamped to [30s, 1h].
func GraceWindow(intervalMinutes int) time.Duration {
	w := time.Duration(intervalMinutes) * time.Minute / 2
	if w < 30*time.Second {
		return 30 * time.Second
	}
	if w > time.Hour {
		return time.Hour
	}
	return w
}

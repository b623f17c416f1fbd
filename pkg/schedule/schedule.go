// Package schedule parses the two schedule forms the daemon accepts — a
// six-field cron expression, or a human duration shorthand like "15m" — and
// exposes a single Next-delay query over the result.
package schedule

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/robfig/cron/v3"

	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a parsed six-field cron expression. Its canonical string form
// round-trips through Parse.
type Schedule struct {
	expr string
	cron cron.Schedule
}

// Parse accepts either a six-field cron expression (detected by the
// presence of whitespace) or a human duration such as "15m" or "2h", which
// is synthesized into an equivalent cron expression. A duration that
// cannot be expressed as a clean periodic cron step is rejected.
func Parse(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Schedule{}, blkerrors.New(blkerrors.ConfigInvalid, "schedule.parse", fmt.Errorf("empty schedule"))
	}

	expr := s
	if !hasWhitespace(s) {
		synthesized, err := synthesizeCron(s)
		if err != nil {
			return Schedule{}, blkerrors.New(blkerrors.ConfigInvalid, "schedule.parse", err)
		}
		expr = synthesized
	}

	parsed, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, blkerrors.New(blkerrors.ConfigInvalid, "schedule.parse", fmt.Errorf("parse cron %q: %w", expr, err))
	}
	return Schedule{expr: expr, cron: parsed}, nil
}

func hasWhitespace(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// synthesizeCron turns a human duration into a six-field "step" cron
// expression, trying seconds, then minutes, then hours, accepting only
// steps that evenly divide their unit's range (60 for seconds/minutes, 24
// for hours) so that the generated schedule actually fires every d.
func synthesizeCron(human string) (string, error) {
	d, err := time.ParseDuration(human)
	if err != nil {
		return "", fmt.Errorf("%q is neither a cron expression nor a parseable duration: %w", human, err)
	}
	if d <= 0 {
		return "", fmt.Errorf("duration %s must be positive", d)
	}
	if d%time.Second != 0 {
		return "", fmt.Errorf("duration %s is not whole-second; provide a cron expression", d)
	}

	totalSeconds := int64(d / time.Second)

	if totalSeconds < 60 {
		if 60%totalSeconds == 0 {
			return fmt.Sprintf("*/%d * * * * *", totalSeconds), nil
		}
		return "", fmt.Errorf("duration %s does not evenly divide a minute; provide a cron expression", d)
	}
	if totalSeconds%60 != 0 {
		return "", fmt.Errorf("duration %s is not whole-minute; provide a cron expression", d)
	}

	totalMinutes := totalSeconds / 60
	if totalMinutes < 60 {
		if 60%totalMinutes == 0 {
			return fmt.Sprintf("0 */%d * * * *", totalMinutes), nil
		}
		return "", fmt.Errorf("duration %s does not evenly divide an hour; provide a cron expression", d)
	}
	if totalMinutes%60 != 0 {
		return "", fmt.Errorf("duration %s is not whole-hour; provide a cron expression", d)
	}

	totalHours := totalMinutes / 60
	if totalHours < 24 && 24%totalHours == 0 {
		return fmt.Sprintf("0 0 */%d * * *", totalHours), nil
	}
	return "", fmt.Errorf("duration %s does not evenly divide a day; provide a cron expression", d)
}

// Render returns the canonical cron expression for s; Parse(s.Render())
// reconstructs an equivalent Schedule.
func (s Schedule) Render() string {
	return s.expr
}

// NextDelay returns the delay from after until the schedule's next
// occurrence. Human durations always recur; the bool result is false only
// for a cron expression with no occurrence at all (such as February 30),
// for which robfig/cron returns the zero time.
func (s Schedule) NextDelay(after time.Time) (time.Duration, bool) {
	next := s.cron.Next(after)
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(after), true
}

// NextTime returns the schedule's next absolute occurrence after after.
func (s Schedule) NextTime(after time.Time) time.Time {
	return s.cron.Next(after)
}

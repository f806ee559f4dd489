package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is how often a recurrence fires.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
	FreqCustom  Frequency = "CUSTOM"
)

var (
	// ErrInvalidRule means the rule input could not be interpreted.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrRecurrenceEnded means the rule's end date is before the next candidate.
	ErrRecurrenceEnded = errors.New("recurrence ended")
	// ErrUnsupportedRecurrence means the rule type has no evaluator (CUSTOM cron).
	ErrUnsupportedRecurrence = errors.New("unsupported recurrence")
)

// RecurrenceRule describes how an event repeats. Rules are immutable: an edit
// replaces the whole rule, it is never patched in place.
type RecurrenceRule struct {
	Freq       Frequency  `json:"type"`
	Interval   int        `json:"interval,omitempty"`   // every N units, 0 means 1
	DaysOfWeek []int      `json:"daysOfWeek,omitempty"` // 0=Sunday..6=Saturday, WEEKLY only
	DayOfMonth int        `json:"dayOfMonth,omitempty"` // 1-31, MONTHLY only
	EndDate    *time.Time `json:"endDate,omitempty"`
	// Count caps total occurrences. It is carried through serialization but not
	// consulted by NextOccurrence; enforcement is up to the caller, which is the
	// only place an occurrence counter exists.
	Count    int    `json:"count,omitempty"`
	CronExpr string `json:"cronExpression,omitempty"` // CUSTOM only, stored, not evaluated
}

// Validate checks the rule's field invariants.
func (r RecurrenceRule) Validate() error {
	switch r.Freq {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly, FreqCustom:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Freq)
	}
	if r.Interval < 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidRule)
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day of week %d out of range", ErrInvalidRule, d)
		}
	}
	if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month %d out of range", ErrInvalidRule, r.DayOfMonth)
	}
	return nil
}

// NextOccurrence computes the next time the recurrence fires after base.
// It returns ErrRecurrenceEnded when the candidate falls strictly after the
// rule's end date (landing exactly on the end date still fires), and
// ErrUnsupportedRecurrence for CUSTOM rules, whose cron expressions are stored
// but never evaluated.
func NextOccurrence(base time.Time, r RecurrenceRule) (time.Time, error) {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	var next time.Time
	switch r.Freq {
	case FreqDaily:
		next = base.AddDate(0, 0, interval)

	case FreqWeekly:
		if len(r.DaysOfWeek) == 0 {
			next = base.AddDate(0, 0, 7*interval)
		} else {
			// Advance to the nearest listed weekday strictly after base's,
			// wrapping into the next week when none remains. The interval is
			// not consulted on this branch.
			days := append([]int(nil), r.DaysOfWeek...)
			sort.Ints(days)
			wd := int(base.Weekday())
			offset := -1
			for _, d := range days {
				if d > wd {
					offset = d - wd
					break
				}
			}
			if offset < 0 {
				offset = 7 - wd + days[0]
			}
			next = base.AddDate(0, 0, offset)
		}

	case FreqMonthly:
		if r.DayOfMonth > 0 {
			// Target month first, then clamp the day so "31st of every month"
			// lands on the 30th in a 30-day month instead of rolling over.
			y, m, _ := base.Date()
			anchor := time.Date(y, m, 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
			target := anchor.AddDate(0, interval, 0)
			day := r.DayOfMonth
			if last := daysInMonth(target.Year(), target.Month()); day > last {
				day = last
			}
			next = time.Date(target.Year(), target.Month(), day, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
		} else {
			// Without an explicit day the anchor day is kept, rolling into the
			// following month when it does not exist (Jan 31 + 1 month = Mar 2/3).
			next = base.AddDate(0, interval, 0)
		}

	case FreqYearly:
		next = base.AddDate(interval, 0, 0)

	case FreqCustom:
		return time.Time{}, ErrUnsupportedRecurrence

	default:
		return time.Time{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Freq)
	}

	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, ErrRecurrenceEnded
	}
	return next, nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseRule interprets a rule from any of its three wire encodings, tried in
// order: a bare keyword ("DAILY"), the compact "TYPE:interval" form
// ("WEEKLY:2"), or a JSON object.
func ParseRule(input string) (RecurrenceRule, error) {
	s := strings.TrimSpace(input)

	switch Frequency(s) {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return RecurrenceRule{Freq: Frequency(s)}, nil
	}

	if i := strings.IndexByte(s, ':'); i > 0 {
		freq := Frequency(s[:i])
		switch freq {
		case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
			if n, err := strconv.Atoi(s[i+1:]); err == nil && n >= 1 {
				return RecurrenceRule{Freq: freq, Interval: n}, nil
			}
		}
	}

	var r RecurrenceRule
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return RecurrenceRule{}, fmt.Errorf("%w: %q", ErrInvalidRule, input)
	}
	if err := r.Validate(); err != nil {
		return RecurrenceRule{}, err
	}
	return r, nil
}

// FormatRule serializes a rule for storage. Rules with an interval above one
// use the compact "TYPE:interval" form; everything else, including the plain
// single-interval case, is JSON. The two encodings round-trip semantically but
// not byte-for-byte.
func FormatRule(r RecurrenceRule) string {
	if r.CronExpr == "" && r.Interval > 1 {
		return fmt.Sprintf("%s:%d", r.Freq, r.Interval)
	}
	b, _ := json.Marshal(r)
	return string(b)
}

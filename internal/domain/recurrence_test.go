package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextOccurrenceDaily(t *testing.T) {
	next, err := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqDaily})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 11), next)

	next, err = NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqDaily, Interval: 3})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 13), next)
}

func TestNextOccurrenceDailyLeapYear(t *testing.T) {
	next, err := NextOccurrence(date(2024, time.February, 28), RecurrenceRule{Freq: FreqDaily})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), next)

	next, err = NextOccurrence(date(2023, time.February, 28), RecurrenceRule{Freq: FreqDaily})
	require.NoError(t, err)
	assert.Equal(t, date(2023, time.March, 1), next)
}

func TestNextOccurrenceDailyYearBoundary(t *testing.T) {
	next, err := NextOccurrence(date(2024, time.December, 31), RecurrenceRule{Freq: FreqDaily, Interval: 2})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 2), next)
}

func TestNextOccurrenceWeekly(t *testing.T) {
	next, err := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqWeekly})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 17), next)

	next, err = NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqWeekly, Interval: 2})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 24), next)
}

func TestNextOccurrenceWeeklyDaysOfWeek(t *testing.T) {
	// 2024-03-12 is a Tuesday (weekday 2).
	base := date(2024, time.March, 12)

	// Next listed weekday strictly after Tuesday is Friday (5).
	next, err := NextOccurrence(base, RecurrenceRule{Freq: FreqWeekly, DaysOfWeek: []int{1, 5}})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 15), next)
	assert.Equal(t, time.Friday, next.Weekday())

	// No listed weekday after Tuesday: wrap to Monday (1) next week.
	next, err = NextOccurrence(base, RecurrenceRule{Freq: FreqWeekly, DaysOfWeek: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 17), next) // Sunday is the smallest listed value
	assert.Equal(t, time.Sunday, next.Weekday())

	// Same weekday listed does not fire today; it wraps a full week.
	next, err = NextOccurrence(base, RecurrenceRule{Freq: FreqWeekly, DaysOfWeek: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 19), next)
}

func TestNextOccurrenceWeeklyDaysOfWeekIgnoresInterval(t *testing.T) {
	base := date(2024, time.March, 12) // Tuesday
	next, err := NextOccurrence(base, RecurrenceRule{Freq: FreqWeekly, Interval: 2, DaysOfWeek: []int{5}})
	require.NoError(t, err)
	// The day-of-week branch advances to the nearest listed day regardless of interval.
	assert.Equal(t, date(2024, time.March, 15), next)
}

func TestNextOccurrenceMonthlyClampsDayOfMonth(t *testing.T) {
	// Day 31 anchored in March, advancing into April (30 days) clamps to the 30th.
	next, err := NextOccurrence(date(2024, time.March, 31), RecurrenceRule{Freq: FreqMonthly, DayOfMonth: 31})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 30), next)

	// February in a leap year clamps to the 29th.
	next, err = NextOccurrence(date(2024, time.January, 31), RecurrenceRule{Freq: FreqMonthly, DayOfMonth: 31})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), next)
}

func TestNextOccurrenceMonthlyWithoutDayRollsOver(t *testing.T) {
	// Without an explicit day the native date arithmetic rolls Jan 31 into March.
	next, err := NextOccurrence(date(2024, time.January, 31), RecurrenceRule{Freq: FreqMonthly})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 2), next)

	next, err = NextOccurrence(date(2024, time.March, 15), RecurrenceRule{Freq: FreqMonthly, Interval: 2})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 15), next)
}

func TestNextOccurrenceYearly(t *testing.T) {
	next, err := NextOccurrence(date(2024, time.July, 4), RecurrenceRule{Freq: FreqYearly})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.July, 4), next)
}

func TestNextOccurrenceCustomUnsupported(t *testing.T) {
	_, err := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqCustom, CronExpr: "0 7 * * *"})
	assert.ErrorIs(t, err, ErrUnsupportedRecurrence)
}

func TestNextOccurrenceEndDate(t *testing.T) {
	end := date(2024, time.March, 11)

	// Candidate strictly after the end date: ended.
	_, err := NextOccurrence(date(2024, time.March, 11), RecurrenceRule{Freq: FreqDaily, EndDate: &end})
	assert.ErrorIs(t, err, ErrRecurrenceEnded)

	// Candidate exactly on the end date still fires.
	next, err := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqDaily, EndDate: &end})
	require.NoError(t, err)
	assert.Equal(t, end, next)
}

func TestNextOccurrenceEndedAndUnsupportedAreDistinct(t *testing.T) {
	end := date(2024, time.January, 1)
	_, endedErr := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqDaily, EndDate: &end})
	_, unsupportedErr := NextOccurrence(date(2024, time.March, 10), RecurrenceRule{Freq: FreqCustom})

	assert.ErrorIs(t, endedErr, ErrRecurrenceEnded)
	assert.NotErrorIs(t, endedErr, ErrUnsupportedRecurrence)
	assert.ErrorIs(t, unsupportedErr, ErrUnsupportedRecurrence)
	assert.NotErrorIs(t, unsupportedErr, ErrRecurrenceEnded)
}

func TestParseRuleKeyword(t *testing.T) {
	r, err := ParseRule("DAILY")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceRule{Freq: FreqDaily}, r)
}

func TestParseRuleCompact(t *testing.T) {
	r, err := ParseRule("DAILY:2")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceRule{Freq: FreqDaily, Interval: 2}, r)

	r, err = ParseRule("WEEKLY:4")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceRule{Freq: FreqWeekly, Interval: 4}, r)
}

func TestParseRuleJSON(t *testing.T) {
	r, err := ParseRule(`{"type":"WEEKLY","daysOfWeek":[1,3,5]}`)
	require.NoError(t, err)
	assert.Equal(t, FreqWeekly, r.Freq)
	assert.Equal(t, []int{1, 3, 5}, r.DaysOfWeek)
}

func TestParseRuleInvalid(t *testing.T) {
	for _, input := range []string{"not json", "", "HOURLY", "DAILY:zero", "DAILY:-1", `{"type":"NOPE"}`} {
		_, err := ParseRule(input)
		assert.ErrorIs(t, err, ErrInvalidRule, "input %q", input)
	}
}

func TestFormatRule(t *testing.T) {
	assert.Equal(t, `{"type":"DAILY"}`, FormatRule(RecurrenceRule{Freq: FreqDaily}))
	assert.Equal(t, "DAILY:2", FormatRule(RecurrenceRule{Freq: FreqDaily, Interval: 2}))

	// A cron expression forces the JSON encoding even with an interval.
	out := FormatRule(RecurrenceRule{Freq: FreqCustom, Interval: 2, CronExpr: "0 7 * * *"})
	assert.Contains(t, out, `"cronExpression":"0 7 * * *"`)
}

func TestFormatParseRoundTrip(t *testing.T) {
	end := date(2025, time.June, 1)
	rules := []RecurrenceRule{
		{Freq: FreqDaily},
		{Freq: FreqWeekly, Interval: 3},
		{Freq: FreqWeekly, DaysOfWeek: []int{1, 3, 5}},
		{Freq: FreqMonthly, DayOfMonth: 15, EndDate: &end},
	}
	for _, r := range rules {
		parsed, err := ParseRule(FormatRule(r))
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
}

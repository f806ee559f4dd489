package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undarez/synexa-sub003/internal/domain"
)

func newAgendaService(store ReminderStore) *AgendaService {
	reminders := NewReminderService(store, time.UTC, zerolog.Nop())
	return NewAgendaService(reminders, nil, time.UTC, zerolog.Nop())
}

func seedReminder(t *testing.T, store *fakeReminderStore, title string, rule domain.RecurrenceRule, nextRun time.Time) *domain.Reminder {
	t.Helper()
	r := &domain.Reminder{UserID: 1, Title: title, Rule: rule, IsActive: true, NextRun: &nextRun}
	require.NoError(t, store.CreateReminder(r))
	return r
}

func TestOccurrencesExpandsWithinWindow(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 7)

	seedReminder(t, store, "Water plants",
		domain.RecurrenceRule{Freq: domain.FreqDaily, Interval: 2},
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	occurrences, err := svc.Occurrences(1, from, until)
	require.NoError(t, err)

	// Mar 2, 4 and 6 land inside the window; Mar 8 09:00 is past its end.
	require.Len(t, occurrences, 3)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), occurrences[0].At)
	assert.Equal(t, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), occurrences[2].At)
}

func TestOccurrencesMergesAndSorts(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 3)

	seedReminder(t, store, "Evening",
		domain.RecurrenceRule{Freq: domain.FreqDaily},
		time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	seedReminder(t, store, "Morning",
		domain.RecurrenceRule{Freq: domain.FreqDaily},
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	occurrences, err := svc.Occurrences(1, from, until)
	require.NoError(t, err)
	require.NotEmpty(t, occurrences)

	for i := 1; i < len(occurrences); i++ {
		assert.False(t, occurrences[i].At.Before(occurrences[i-1].At), "out of order at %d", i)
	}
	assert.Equal(t, "Morning", occurrences[0].Title)
}

func TestOccurrenceAtWindowStartIsIncluded(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 1)

	// The window is inclusive at both ends: a run exactly at `from` counts.
	seedReminder(t, store, "On the dot",
		domain.RecurrenceRule{Freq: domain.FreqWeekly},
		from)

	occurrences, err := svc.Occurrences(1, from, until)
	require.NoError(t, err)
	require.Len(t, occurrences, 1)
	assert.True(t, occurrences[0].At.Equal(from))
}

func TestOccurrencesSkipsInactiveAndCustom(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 7)

	inactive := seedReminder(t, store, "Off",
		domain.RecurrenceRule{Freq: domain.FreqDaily},
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store.reminders[inactive.ID].IsActive = false

	// CUSTOM reminders carry no next run, so they produce nothing.
	custom := &domain.Reminder{UserID: 1, Title: "Cron", Rule: domain.RecurrenceRule{Freq: domain.FreqCustom, CronExpr: "0 7 * * *"}, IsActive: true}
	require.NoError(t, store.CreateReminder(custom))

	occurrences, err := svc.Occurrences(1, from, until)
	require.NoError(t, err)
	assert.Empty(t, occurrences)
}

func TestOccurrencesEndedRuleStops(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 30)

	end := time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC)
	seedReminder(t, store, "Short series",
		domain.RecurrenceRule{Freq: domain.FreqDaily, EndDate: &end},
		time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))

	occurrences, err := svc.Occurrences(1, from, until)
	require.NoError(t, err)

	// Mar 3, 4, 5 fire; Mar 6 falls past the end date.
	require.Len(t, occurrences, 3)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), occurrences[2].At)
}

func TestBuildICS(t *testing.T) {
	store := newFakeReminderStore()
	svc := newAgendaService(store)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 2)

	seedReminder(t, store, "Standup",
		domain.RecurrenceRule{Freq: domain.FreqDaily},
		time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))

	ics, err := svc.BuildICS(1, from, until)
	require.NoError(t, err)

	assert.Contains(t, ics, "BEGIN:VCALENDAR")
	assert.Contains(t, ics, "BEGIN:VEVENT")
	assert.Contains(t, ics, "SUMMARY:Standup")
	assert.Contains(t, ics, "reminder-")
}

func TestUnpublishWithoutPublisherIsNoop(t *testing.T) {
	svc := newAgendaService(newFakeReminderStore())

	assert.NoError(t, svc.Unpublish(context.Background(), 1))
}

func TestRuleToRRule(t *testing.T) {
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule domain.RecurrenceRule
		want string
		ok   bool
	}{
		{"daily", domain.RecurrenceRule{Freq: domain.FreqDaily}, "FREQ=DAILY", true},
		{"interval", domain.RecurrenceRule{Freq: domain.FreqDaily, Interval: 3}, "FREQ=DAILY;INTERVAL=3", true},
		{"weekdays", domain.RecurrenceRule{Freq: domain.FreqWeekly, DaysOfWeek: []int{1, 3, 5}}, "FREQ=WEEKLY;BYDAY=MO,WE,FR", true},
		{"monthday", domain.RecurrenceRule{Freq: domain.FreqMonthly, DayOfMonth: 15}, "FREQ=MONTHLY;BYMONTHDAY=15", true},
		{"until", domain.RecurrenceRule{Freq: domain.FreqYearly, EndDate: &end}, "FREQ=YEARLY;UNTIL=20261231T000000Z", true},
		{"count", domain.RecurrenceRule{Freq: domain.FreqDaily, Count: 10}, "FREQ=DAILY;COUNT=10", true},
		{"custom has no rrule", domain.RecurrenceRule{Freq: domain.FreqCustom, CronExpr: "0 7 * * *"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RuleToRRule(tt.rule)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

package service

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undarez/synexa-sub003/internal/domain"
)

type fakeReminderStore struct {
	reminders   map[int64]*domain.Reminder
	deactivated []int64
	nextID      int64
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{reminders: map[int64]*domain.Reminder{}}
}

func (f *fakeReminderStore) CreateReminder(r *domain.Reminder) error {
	f.nextID++
	r.ID = f.nextID
	f.reminders[r.ID] = r
	return nil
}

func (f *fakeReminderStore) GetReminder(id int64) (*domain.Reminder, error) {
	return f.reminders[id], nil
}

func (f *fakeReminderStore) ListRemindersByUser(userID int64) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	for _, r := range f.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReminderStore) ListDueReminders(now time.Time) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	for _, r := range f.reminders {
		if r.IsActive && r.NextRun != nil && !r.NextRun.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReminderStore) UpdateReminderNextRun(id int64, sentAt, nextRun time.Time) error {
	r := f.reminders[id]
	r.LastSent = &sentAt
	r.NextRun = &nextRun
	return nil
}

func (f *fakeReminderStore) DeactivateReminder(id int64, sentAt time.Time) error {
	r := f.reminders[id]
	r.IsActive = false
	r.LastSent = &sentAt
	r.NextRun = nil
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeReminderStore) DeleteReminder(id int64) error {
	delete(f.reminders, id)
	return nil
}

func newReminderService(store ReminderStore) *ReminderService {
	return NewReminderService(store, time.UTC, zerolog.Nop())
}

func TestReminderCreateComputesFirstRun(t *testing.T) {
	store := newFakeReminderStore()
	svc := newReminderService(store)

	r, err := svc.Create(1, "Water the plants", "", "DAILY:2")
	require.NoError(t, err)
	assert.Equal(t, domain.FreqDaily, r.Rule.Freq)
	assert.Equal(t, 2, r.Rule.Interval)
	require.NotNil(t, r.NextRun)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 2), *r.NextRun, time.Minute)
}

func TestReminderCreateAcceptsAllEncodings(t *testing.T) {
	svc := newReminderService(newFakeReminderStore())

	for _, input := range []string{"DAILY", "WEEKLY:2", `{"type":"WEEKLY","daysOfWeek":[1,3,5]}`} {
		_, err := svc.Create(1, "t", "", input)
		assert.NoError(t, err, "input %q", input)
	}
}

func TestReminderCreateCustomHasNoNextRun(t *testing.T) {
	svc := newReminderService(newFakeReminderStore())

	r, err := svc.Create(1, "Exotic", "", `{"type":"CUSTOM","cronExpression":"0 7 * * *"}`)
	require.NoError(t, err)
	assert.Nil(t, r.NextRun)
	assert.True(t, r.IsActive)
}

func TestReminderCreateRejectsBadRule(t *testing.T) {
	svc := newReminderService(newFakeReminderStore())

	_, err := svc.Create(1, "t", "", "not json")
	assert.ErrorIs(t, err, domain.ErrInvalidRule)

	_, err = svc.Create(1, "   ", "", "DAILY")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMarkSentAdvancesNextRun(t *testing.T) {
	store := newFakeReminderStore()
	svc := newReminderService(store)

	r, err := svc.Create(1, "Standup", "", "DAILY")
	require.NoError(t, err)

	require.NoError(t, svc.MarkSent(r.ID, 1))
	stored := store.reminders[r.ID]
	require.NotNil(t, stored.LastSent)
	require.NotNil(t, stored.NextRun)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 1), *stored.NextRun, time.Minute)
}

func TestMarkSentDeactivatesEndedRule(t *testing.T) {
	store := newFakeReminderStore()
	svc := newReminderService(store)

	// The end date has passed, so the occurrence after this send falls
	// outside the rule.
	end := time.Now().Add(-time.Hour)
	rule := domain.RecurrenceRule{Freq: domain.FreqDaily, EndDate: &end}
	next := time.Now().Add(-time.Minute)
	reminder := &domain.Reminder{UserID: 1, Title: "Last call", Rule: rule, IsActive: true, NextRun: &next}
	require.NoError(t, store.CreateReminder(reminder))

	require.NoError(t, svc.MarkSent(reminder.ID, 1))
	assert.Contains(t, store.deactivated, reminder.ID)
	assert.False(t, store.reminders[reminder.ID].IsActive)
}

func TestReminderOwnership(t *testing.T) {
	store := newFakeReminderStore()
	svc := newReminderService(store)

	r, err := svc.Create(1, "Private", "", "DAILY")
	require.NoError(t, err)

	_, err = svc.Get(r.ID, 2)
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = svc.Delete(999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

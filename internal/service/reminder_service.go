package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/internal/domain"
)

// ReminderStore is the persistence surface reminders need.
type ReminderStore interface {
	CreateReminder(r *domain.Reminder) error
	GetReminder(id int64) (*domain.Reminder, error)
	ListRemindersByUser(userID int64) ([]*domain.Reminder, error)
	ListDueReminders(now time.Time) ([]*domain.Reminder, error)
	UpdateReminderNextRun(id int64, sentAt, nextRun time.Time) error
	DeactivateReminder(id int64, sentAt time.Time) error
	DeleteReminder(id int64) error
}

type ReminderService struct {
	store    ReminderStore
	timezone *time.Location
	log      zerolog.Logger
}

func NewReminderService(store ReminderStore, tz *time.Location, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		store:    store,
		timezone: tz,
		log:      log.With().Str("component", "reminders").Logger(),
	}
}

// Create parses the rule input (keyword, compact or JSON encoding) and
// precomputes the first run so due checks stay a single indexed query.
func (s *ReminderService) Create(userID int64, title, notes, ruleInput string) (*domain.Reminder, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: reminder title cannot be empty", ErrInvalidInput)
	}

	rule, err := domain.ParseRule(ruleInput)
	if err != nil {
		return nil, err
	}

	reminder := &domain.Reminder{
		UserID:   userID,
		Title:    title,
		Notes:    notes,
		Rule:     rule,
		IsActive: true,
	}

	now := time.Now().In(s.timezone)
	next, err := domain.NextOccurrence(now, rule)
	switch {
	case err == nil:
		reminder.NextRun = &next
	case errors.Is(err, domain.ErrUnsupportedRecurrence):
		// CUSTOM rules are stored with no next run; they never come due on
		// their own.
	case errors.Is(err, domain.ErrRecurrenceEnded):
		return nil, fmt.Errorf("%w: rule has already ended", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("compute next run: %w", err)
	}

	if err := s.store.CreateReminder(reminder); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return reminder, nil
}

func (s *ReminderService) Get(id, userID int64) (*domain.Reminder, error) {
	r, err := s.store.GetReminder(id)
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	if r == nil {
		return nil, ErrNotFound
	}
	if r.UserID != userID {
		return nil, ErrAccessDenied
	}
	return r, nil
}

func (s *ReminderService) List(userID int64) ([]*domain.Reminder, error) {
	return s.store.ListRemindersByUser(userID)
}

func (s *ReminderService) GetDue() ([]*domain.Reminder, error) {
	return s.store.ListDueReminders(time.Now().In(s.timezone))
}

// MarkSent advances a reminder to its next occurrence. A rule that has ended,
// or a CUSTOM rule with nothing to evaluate, deactivates the reminder instead.
func (s *ReminderService) MarkSent(id, userID int64) error {
	reminder, err := s.Get(id, userID)
	if err != nil {
		return err
	}

	now := time.Now().In(s.timezone)
	next, err := domain.NextOccurrence(now, reminder.Rule)
	switch {
	case err == nil:
		return s.store.UpdateReminderNextRun(id, now, next)
	case errors.Is(err, domain.ErrRecurrenceEnded), errors.Is(err, domain.ErrUnsupportedRecurrence):
		s.log.Info().Int64("reminder", id).Msg("recurrence exhausted, deactivating")
		return s.store.DeactivateReminder(id, now)
	default:
		return fmt.Errorf("compute next run: %w", err)
	}
}

func (s *ReminderService) Delete(id, userID int64) error {
	if _, err := s.Get(id, userID); err != nil {
		return err
	}
	return s.store.DeleteReminder(id)
}

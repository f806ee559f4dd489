package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/internal/clients/caldav"
	"github.com/undarez/synexa-sub003/internal/domain"
)

// occurrenceCap bounds rule expansion per reminder, so a dense rule over a
// long window cannot run away.
const occurrenceCap = 500

// Occurrence is one concrete firing of a reminder inside an agenda window.
type Occurrence struct {
	ReminderID int64     `json:"reminder_id"`
	Title      string    `json:"title"`
	At         time.Time `json:"at"`
}

// AgendaService expands recurrence rules into concrete occurrences and exposes
// them as JSON, an ICS feed, and optionally a CalDAV collection.
type AgendaService struct {
	reminders *ReminderService
	publisher *caldav.Client
	timezone  *time.Location
	log       zerolog.Logger
}

func NewAgendaService(reminders *ReminderService, publisher *caldav.Client, tz *time.Location, log zerolog.Logger) *AgendaService {
	return &AgendaService{
		reminders: reminders,
		publisher: publisher,
		timezone:  tz,
		log:       log.With().Str("component", "agenda").Logger(),
	}
}

// Occurrences expands every active reminder of the user into the [from, until]
// window, sorted by time.
func (s *AgendaService) Occurrences(userID int64, from, until time.Time) ([]Occurrence, error) {
	reminders, err := s.reminders.List(userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	var out []Occurrence
	for _, r := range reminders {
		if !r.IsActive {
			continue
		}
		out = append(out, expand(r, from, until)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// expand walks the rule forward from the reminder's next run. Ended and
// unsupported rules simply stop producing.
func expand(r *domain.Reminder, from, until time.Time) []Occurrence {
	var out []Occurrence

	t := from
	if r.NextRun != nil && !r.NextRun.Before(from) {
		t = *r.NextRun
		if t.After(until) {
			return nil
		}
		out = append(out, Occurrence{ReminderID: r.ID, Title: r.Title, At: t})
	}

	for len(out) < occurrenceCap {
		next, err := domain.NextOccurrence(t, r.Rule)
		if err != nil || next.After(until) {
			break
		}
		out = append(out, Occurrence{ReminderID: r.ID, Title: r.Title, At: next})
		t = next
	}
	return out
}

// BuildICS renders the window as an iCalendar feed, one VEVENT per occurrence.
// UIDs are derived from reminder id and timestamp so repeated feed fetches
// stay stable.
func (s *AgendaService) BuildICS(userID int64, from, until time.Time) (string, error) {
	occurrences, err := s.Occurrences(userID, from, until)
	if err != nil {
		return "", err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Synexa//Agenda//EN")

	now := time.Now().UTC()
	for _, occ := range occurrences {
		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, fmt.Sprintf("reminder-%d-%d@synexa", occ.ReminderID, occ.At.Unix()))
		vevent.Props.SetText(ical.PropSummary, occ.Title)
		vevent.Props.SetDateTime(ical.PropDateTimeStart, occ.At.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)
		cal.Children = append(cal.Children, vevent.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

// PublishCalDAV pushes each active reminder as one recurring VEVENT. The
// remote calendar expands the series from the RRULE, so a reminder maps to a
// single object regardless of how many times it fires.
func (s *AgendaService) PublishCalDAV(ctx context.Context, userID int64) error {
	if s.publisher == nil || !s.publisher.IsConfigured() {
		return errors.New("caldav publishing not configured")
	}

	reminders, err := s.reminders.List(userID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	var published, skipped int
	for _, r := range reminders {
		if !r.IsActive || r.NextRun == nil {
			skipped++
			continue
		}
		rrule, ok := RuleToRRule(r.Rule)
		if !ok {
			skipped++
			continue
		}
		event := &caldav.Event{
			UID:         fmt.Sprintf("synexa-reminder-%d", r.ID),
			Summary:     r.Title,
			Description: r.Notes,
			Start:       *r.NextRun,
			RRule:       rrule,
		}
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			return fmt.Errorf("publish reminder %d: %w", r.ID, err)
		}
		published++
	}

	s.log.Info().Int64("user", userID).Int("published", published).Int("skipped", skipped).Msg("agenda published to CalDAV")
	return nil
}

// Unpublish removes a reminder's published series from the CalDAV collection.
// Without a configured publisher there is nothing to clean up.
func (s *AgendaService) Unpublish(ctx context.Context, reminderID int64) error {
	if s.publisher == nil || !s.publisher.IsConfigured() {
		return nil
	}
	if err := s.publisher.RemoveEvent(ctx, fmt.Sprintf("synexa-reminder-%d", reminderID)); err != nil {
		return fmt.Errorf("unpublish reminder %d: %w", reminderID, err)
	}
	return nil
}

var rruleWeekdays = []string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// RuleToRRule renders a recurrence rule as iCalendar RRULE text. CUSTOM rules
// have no RRULE equivalent and report ok=false.
func RuleToRRule(r domain.RecurrenceRule) (string, bool) {
	var freq string
	switch r.Freq {
	case domain.FreqDaily:
		freq = "DAILY"
	case domain.FreqWeekly:
		freq = "WEEKLY"
	case domain.FreqMonthly:
		freq = "MONTHLY"
	case domain.FreqYearly:
		freq = "YEARLY"
	default:
		return "", false
	}

	parts := []string{"FREQ=" + freq}
	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}
	if r.Freq == domain.FreqWeekly && len(r.DaysOfWeek) > 0 {
		days := make([]string, 0, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d >= 0 && d < len(rruleWeekdays) {
				days = append(days, rruleWeekdays[d])
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.Freq == domain.FreqMonthly && r.DayOfMonth > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.DayOfMonth))
	}
	if r.EndDate != nil {
		parts = append(parts, "UNTIL="+r.EndDate.UTC().Format("20060102T150405Z"))
	}
	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	}
	return strings.Join(parts, ";"), true
}

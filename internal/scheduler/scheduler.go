package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/config"
	"github.com/undarez/synexa-sub003/internal/domain"
	"github.com/undarez/synexa-sub003/internal/notify"
	"github.com/undarez/synexa-sub003/internal/service"
	"github.com/undarez/synexa-sub003/internal/storage"
)

// Scheduler drives time-based behavior: due-reminder delivery, cron-triggered
// routines and the daily agenda digest.
type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	storage  *storage.Storage
	reminder *service.ReminderService
	routine  *service.RoutineService
	agenda   *service.AgendaService
	sender   notify.Sender
	log      zerolog.Logger

	// entries maps routine id to its registered cron entry and the spec it
	// was registered with, so Reload can drop stale schedules and replace
	// edited ones without restarting the whole cron. Guarded by mu: Reload
	// is called from API handlers as well as Start.
	mu      sync.Mutex
	entries map[int64]scheduleEntry
}

type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

func New(cfg *config.Config, st *storage.Storage, reminderSvc *service.ReminderService, routineSvc *service.RoutineService, agendaSvc *service.AgendaService, sender notify.Sender, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Timezone)),
		cfg:      cfg,
		storage:  st,
		reminder: reminderSvc,
		routine:  routineSvc,
		agenda:   agendaSvc,
		sender:   sender,
		log:      log.With().Str("component", "scheduler").Logger(),
		entries:  map[int64]scheduleEntry{},
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("* * * * *", s.checkReminders); err != nil {
		return fmt.Errorf("add reminder check: %w", err)
	}

	digestSpec, err := digestCronSpec(s.cfg.DigestTime)
	if err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(digestSpec, s.sendDigest); err != nil {
		return fmt.Errorf("add agenda digest: %w", err)
	}

	if err := s.Reload(); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("tz", s.cfg.Timezone.String()).Str("digest", s.cfg.DigestTime).Msg("scheduler started")

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// digestCronSpec turns "HH:MM" into a daily cron expression.
func digestCronSpec(hhmm string) (string, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid digest time %q, want HH:MM", hhmm)
	}
	return fmt.Sprintf("%s %s * * *", parts[1], parts[0]), nil
}

// Reload syncs cron entries with the active SCHEDULE routines in storage. It
// is called at startup and whenever a routine is created, updated or deleted.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	routines, err := s.storage.ListScheduledRoutines()
	if err != nil {
		return fmt.Errorf("list scheduled routines: %w", err)
	}

	seen := map[int64]bool{}
	for _, r := range routines {
		seen[r.ID] = true

		spec, err := routineCronSpec(r)
		if err != nil {
			s.dropEntry(r.ID)
			s.log.Warn().Int64("routine", r.ID).Err(err).Msg("skipping routine with bad trigger")
			continue
		}

		if cur, ok := s.entries[r.ID]; ok {
			if cur.spec == spec {
				continue
			}
			// An edited cron spec replaces the old entry.
			s.dropEntry(r.ID)
		}

		routineID, userID := r.ID, r.UserID
		entryID, err := s.cron.AddFunc(spec, func() { s.runRoutine(routineID, userID) })
		if err != nil {
			s.log.Warn().Int64("routine", r.ID).Str("spec", spec).Err(err).Msg("skipping routine with bad cron spec")
			continue
		}
		s.entries[r.ID] = scheduleEntry{id: entryID, spec: spec}
		s.log.Info().Int64("routine", r.ID).Str("spec", spec).Msg("routine scheduled")
	}

	for id := range s.entries {
		if !seen[id] {
			s.dropEntry(id)
			s.log.Info().Int64("routine", id).Msg("routine unscheduled")
		}
	}
	return nil
}

func (s *Scheduler) dropEntry(routineID int64) {
	if cur, ok := s.entries[routineID]; ok {
		s.cron.Remove(cur.id)
		delete(s.entries, routineID)
	}
}

func routineCronSpec(r *domain.Routine) (string, error) {
	var trigger struct {
		Cron string `json:"cron"`
	}
	if err := json.Unmarshal([]byte(r.TriggerData), &trigger); err != nil {
		return "", fmt.Errorf("parse trigger data: %w", err)
	}
	if trigger.Cron == "" {
		return "", fmt.Errorf("trigger data has no cron expression")
	}
	return trigger.Cron, nil
}

func (s *Scheduler) runRoutine(routineID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.routine.Execute(ctx, routineID, userID, service.ExecuteOptions{
		Metadata: map[string]string{"trigger": "schedule"},
	})
	if err != nil {
		s.log.Error().Int64("routine", routineID).Err(err).Msg("scheduled routine failed")
		return
	}

	failed := 0
	for _, step := range result.Steps {
		if step.Status == domain.StepError {
			failed++
		}
	}
	s.log.Info().Int64("routine", routineID).Str("run", result.RunID).
		Int("steps", len(result.Steps)).Int("failed", failed).Msg("scheduled routine executed")
}

func (s *Scheduler) checkReminders() {
	reminders, err := s.reminder.GetDue()
	if err != nil {
		s.log.Error().Err(err).Msg("due reminder query failed")
		return
	}

	for _, r := range reminders {
		user, err := s.storage.GetUserByID(r.UserID)
		if err != nil || user == nil {
			continue
		}

		text := fmt.Sprintf("🔔 <b>%s</b>", r.Title)
		if r.Notes != "" {
			text += "\n" + r.Notes
		}
		if err := s.sender.Send(user.TelegramChatID, text); err != nil {
			s.log.Error().Int64("reminder", r.ID).Err(err).Msg("reminder delivery failed")
			continue
		}

		if err := s.reminder.MarkSent(r.ID, r.UserID); err != nil {
			s.log.Error().Int64("reminder", r.ID).Err(err).Msg("mark sent failed")
		}
	}
}

// sendDigest sends each user the agenda for the coming 24 hours.
func (s *Scheduler) sendDigest() {
	users, err := s.storage.ListUsers()
	if err != nil {
		s.log.Error().Err(err).Msg("digest user query failed")
		return
	}

	now := time.Now().In(s.cfg.Timezone)
	until := now.Add(24 * time.Hour)

	for _, u := range users {
		if u.TelegramChatID == 0 {
			continue
		}

		occurrences, err := s.agenda.Occurrences(u.ID, now, until)
		if err != nil {
			s.log.Error().Int64("user", u.ID).Err(err).Msg("digest agenda query failed")
			continue
		}
		if len(occurrences) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "📅 <b>Today's agenda</b> (%d)\n", len(occurrences))
		for _, occ := range occurrences {
			fmt.Fprintf(&b, "\n%s — %s", occ.At.In(s.cfg.Timezone).Format("15:04"), occ.Title)
		}

		if err := s.sender.Send(u.TelegramChatID, b.String()); err != nil {
			s.log.Error().Int64("user", u.ID).Err(err).Msg("digest delivery failed")
		}
	}
}

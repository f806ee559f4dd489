package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/internal/domain"
)

// RoutineStore is the persistence surface routine execution and CRUD need.
type RoutineStore interface {
	CreateRoutine(r *domain.Routine) error
	GetRoutine(id int64) (*domain.Routine, error)
	ListRoutinesByUser(userID int64) ([]*domain.Routine, error)
	UpdateRoutine(r *domain.Routine) error
	ReplaceSteps(routineID int64, steps []domain.RoutineStep) error
	DeleteRoutine(id int64) error
}

// StepDispatcher sends one routine step's command to its device. It never
// fails the call itself; every outcome is folded into the returned status.
type StepDispatcher interface {
	DispatchStep(ctx context.Context, userID int64, step domain.RoutineStep, dryRun bool) (domain.StepStatus, string)
}

// RoutineService creates, edits and executes routines.
type RoutineService struct {
	store      RoutineStore
	dispatcher StepDispatcher
	log        zerolog.Logger
}

func NewRoutineService(store RoutineStore, dispatcher StepDispatcher, log zerolog.Logger) *RoutineService {
	return &RoutineService{
		store:      store,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "routines").Logger(),
	}
}

func validTrigger(t domain.TriggerType) bool {
	switch t {
	case domain.TriggerManual, domain.TriggerSchedule, domain.TriggerVoice, domain.TriggerLocation, domain.TriggerSensor:
		return true
	}
	return false
}

func (s *RoutineService) Create(userID int64, name, description string, trigger domain.TriggerType, triggerData string, steps []domain.StepInput) (*domain.Routine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: routine name cannot be empty", ErrInvalidInput)
	}
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	if !validTrigger(trigger) {
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidInput, trigger)
	}
	if triggerData == "" {
		triggerData = "{}"
	}

	routine := &domain.Routine{
		UserID:      userID,
		Name:        name,
		Description: description,
		IsActive:    true,
		TriggerType: trigger,
		TriggerData: triggerData,
		Steps:       domain.NormalizeSteps(steps),
	}

	if err := s.store.CreateRoutine(routine); err != nil {
		return nil, fmt.Errorf("create routine: %w", err)
	}
	return routine, nil
}

func (s *RoutineService) Get(id, userID int64) (*domain.Routine, error) {
	routine, err := s.store.GetRoutine(id)
	if err != nil {
		return nil, fmt.Errorf("get routine: %w", err)
	}
	if routine == nil {
		return nil, ErrNotFound
	}
	if routine.UserID != userID {
		return nil, ErrAccessDenied
	}
	return routine, nil
}

func (s *RoutineService) List(userID int64) ([]*domain.Routine, error) {
	return s.store.ListRoutinesByUser(userID)
}

// Update rewrites a routine's attributes and replaces its step list wholesale.
func (s *RoutineService) Update(id, userID int64, name, description string, active bool, trigger domain.TriggerType, triggerData string, steps []domain.StepInput) (*domain.Routine, error) {
	routine, err := s.Get(id, userID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: routine name cannot be empty", ErrInvalidInput)
	}
	if !validTrigger(trigger) {
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidInput, trigger)
	}

	routine.Name = name
	routine.Description = description
	routine.IsActive = active
	routine.TriggerType = trigger
	if triggerData != "" {
		routine.TriggerData = triggerData
	}
	routine.Steps = domain.NormalizeSteps(steps)
	for i := range routine.Steps {
		routine.Steps[i].RoutineID = routine.ID
	}

	if err := s.store.UpdateRoutine(routine); err != nil {
		return nil, fmt.Errorf("update routine: %w", err)
	}
	if err := s.store.ReplaceSteps(routine.ID, routine.Steps); err != nil {
		return nil, fmt.Errorf("replace steps: %w", err)
	}
	return routine, nil
}

func (s *RoutineService) Delete(id, userID int64) error {
	if _, err := s.Get(id, userID); err != nil {
		return err
	}
	return s.store.DeleteRoutine(id)
}

// ExecuteOptions control one routine run.
type ExecuteOptions struct {
	DryRun   bool
	Metadata map[string]string // free-form run annotations, logged only
}

// Execute runs a routine's steps in order against the step dispatcher.
//
// The step list is read once up front; concurrent edits do not affect an
// in-flight run. Steps run strictly sequentially, each waiting out its delay
// first (skipped on dry runs), and a failing step never aborts the rest: its
// outcome is recorded and execution moves on. Cancelling ctx is the only way
// to stop a run early; the partial result is returned along with ctx.Err().
func (s *RoutineService) Execute(ctx context.Context, routineID, userID int64, opts ExecuteOptions) (*domain.ExecutionResult, error) {
	routine, err := s.Get(routineID, userID)
	if err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{
		RunID:     uuid.NewString(),
		RoutineID: routine.ID,
		DryRun:    opts.DryRun,
		Steps:     make([]domain.StepOutcome, 0, len(routine.Steps)),
		StartedAt: time.Now(),
	}

	runLog := s.log.With().
		Str("run_id", result.RunID).
		Int64("routine", routine.ID).
		Bool("dry_run", opts.DryRun).
		Logger()
	runLog.Info().Str("name", routine.Name).Int("steps", len(routine.Steps)).
		Fields(map[string]any{"metadata": opts.Metadata}).Msg("routine run started")

	for _, step := range routine.Steps {
		if step.DelaySeconds > 0 && !opts.DryRun {
			if err := sleep(ctx, time.Duration(step.DelaySeconds)*time.Second); err != nil {
				result.FinishedAt = time.Now()
				runLog.Warn().Int("completed", len(result.Steps)).Msg("routine run cancelled")
				return result, err
			}
		}

		status, detail := s.dispatcher.DispatchStep(ctx, userID, step, opts.DryRun)
		result.Steps = append(result.Steps, domain.StepOutcome{
			StepOrder:  step.Order,
			ActionType: step.ActionType,
			Status:     status,
			Detail:     detail,
		})
	}

	result.FinishedAt = time.Now()
	runLog.Info().Dur("took", result.FinishedAt.Sub(result.StartedAt)).Msg("routine run finished")
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package domain

import (
	"sort"
	"time"
)

// TriggerType is what causes a routine to run.
type TriggerType string

const (
	TriggerManual   TriggerType = "MANUAL"
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerVoice    TriggerType = "VOICE"
	TriggerLocation TriggerType = "LOCATION"
	TriggerSensor   TriggerType = "SENSOR"
)

// Routine is a named, ordered sequence of device-control steps.
type Routine struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	IsActive    bool
	TriggerType TriggerType
	TriggerData string // JSON payload for the trigger subsystem, e.g. {"cron":"0 7 * * *"}
	Steps       []RoutineStep
	CreatedAt   time.Time
}

// RoutineStep is one unit of a routine. Order is dense and 0-based within a
// routine; NormalizeSteps enforces that on every write.
type RoutineStep struct {
	ID           int64
	RoutineID    int64
	Order        int
	ActionType   string
	DeviceID     *int64
	Payload      CommandPayload
	DelaySeconds int // wait before executing this step, relative to the previous one
}

// CommandPayload carries the action-specific parameters of a device command.
// Known actions use the typed fields; anything a connector does not model goes
// through Extra.
type CommandPayload struct {
	Brightness *int              `json:"brightness,omitempty"` // 0-100
	Hue        *int              `json:"hue,omitempty"`        // 0-65535
	Saturation *int              `json:"saturation,omitempty"` // 0-254
	ColorTemp  *int              `json:"color_temp,omitempty"` // mireds
	Duration   *int              `json:"duration_seconds,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Command is the generic device instruction handed to a connector.
type Command struct {
	Action  string         `json:"action"`
	Payload CommandPayload `json:"payload"`
}

// StepInput is the client-supplied shape of a step before normalization.
type StepInput struct {
	ActionType   string          `json:"action_type"`
	DeviceID     *int64          `json:"device_id,omitempty"`
	Payload      *CommandPayload `json:"payload,omitempty"`
	DelaySeconds *int            `json:"delay_seconds,omitempty"`
	Order        *int            `json:"order,omitempty"`
}

// NormalizeSteps turns raw client step input into a dense, ordered step list.
// Steps without an action type are dropped. A missing order defaults to the
// input index. Steps are stably sorted by order (ties keep input position) and
// then reindexed 0..N-1, so gaps and duplicates from the client disappear.
func NormalizeSteps(in []StepInput) []RoutineStep {
	steps := make([]RoutineStep, 0, len(in))
	for i, raw := range in {
		if raw.ActionType == "" {
			continue
		}
		step := RoutineStep{
			Order:      i,
			ActionType: raw.ActionType,
			DeviceID:   raw.DeviceID,
		}
		if raw.Order != nil {
			step.Order = *raw.Order
		}
		if raw.Payload != nil {
			step.Payload = *raw.Payload
		}
		if raw.DelaySeconds != nil && *raw.DelaySeconds > 0 {
			step.DelaySeconds = *raw.DelaySeconds
		}
		steps = append(steps, step)
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	for i := range steps {
		steps[i].Order = i
	}
	return steps
}

// StepStatus is the outcome of a single step dispatch:
// pending -> sent | queued | error.
type StepStatus string

const (
	StepSent   StepStatus = "sent"
	StepQueued StepStatus = "queued"
	StepError  StepStatus = "error"
)

// StepOutcome records what happened to one step of a run.
type StepOutcome struct {
	StepOrder  int        `json:"step_order"`
	ActionType string     `json:"action_type"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
}

// ExecutionResult is the ephemeral report of one routine run. It is returned
// to the caller and logged, never persisted onto the routine itself.
type ExecutionResult struct {
	RunID      string        `json:"run_id"`
	RoutineID  int64         `json:"routine_id"`
	DryRun     bool          `json:"dry_run"`
	Steps      []StepOutcome `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/undarez/synexa-sub003/internal/connectors"
	"github.com/undarez/synexa-sub003/internal/domain"
)

// DeviceStore is the persistence surface the dispatcher needs.
type DeviceStore interface {
	CreateDevice(d *domain.Device) error
	GetDevice(id int64) (*domain.Device, error)
	ListDevicesByUser(userID int64) ([]*domain.Device, error)
	DeleteDevice(id int64) error
	TouchDevice(id int64, at time.Time) error
}

// DeviceService owns the device registry and routes commands to per-provider
// connectors.
type DeviceService struct {
	store    DeviceStore
	registry *connectors.Registry
	log      zerolog.Logger
}

func NewDeviceService(store DeviceStore, registry *connectors.Registry, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "devices").Logger(),
	}
}

func (s *DeviceService) Register(userID int64, d *domain.Device) (*domain.Device, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, fmt.Errorf("%w: device name cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(d.Provider) == "" {
		return nil, fmt.Errorf("%w: device provider cannot be empty", ErrInvalidInput)
	}
	d.Provider = strings.ToLower(strings.TrimSpace(d.Provider))
	d.UserID = userID

	if err := s.store.CreateDevice(d); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return d, nil
}

func (s *DeviceService) List(userID int64) ([]*domain.Device, error) {
	return s.store.ListDevicesByUser(userID)
}

// Providers lists the providers with a registered connector; devices on any
// other provider have their commands queued instead of sent.
func (s *DeviceService) Providers() []string {
	return s.registry.Providers()
}

func (s *DeviceService) Get(id, userID int64) (*domain.Device, error) {
	d, err := s.store.GetDevice(id)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if d.UserID != userID {
		return nil, ErrAccessDenied
	}
	return d, nil
}

func (s *DeviceService) Delete(id, userID int64) error {
	if _, err := s.Get(id, userID); err != nil {
		return err
	}
	return s.store.DeleteDevice(id)
}

// DispatchResult is the outcome of one device command.
type DispatchResult struct {
	Status domain.StepStatus `json:"status"`
	Detail string            `json:"detail,omitempty"`
}

// Dispatch resolves a device and routes the command to its provider's
// connector. A missing or foreign device is a terminal error; everything past
// that point is folded into the result: no registered connector yields
// "queued", a connector failure yields "error". Connector errors never
// propagate as raw failures.
func (s *DeviceService) Dispatch(ctx context.Context, deviceID, userID int64, cmd domain.Command) (*DispatchResult, error) {
	device, err := s.store.GetDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		return nil, ErrNotFound
	}
	if device.UserID != userID {
		return nil, ErrAccessDenied
	}

	status, detail := s.send(ctx, device, cmd, false)
	return &DispatchResult{Status: status, Detail: detail}, nil
}

// DispatchStep handles one routine step. Unlike Dispatch, nothing here is
// terminal: every failure, including an unresolvable device, becomes the
// step's own outcome so the rest of the routine keeps running.
func (s *DeviceService) DispatchStep(ctx context.Context, userID int64, step domain.RoutineStep, dryRun bool) (domain.StepStatus, string) {
	if step.DeviceID == nil {
		return domain.StepQueued, "step has no target device; action recorded"
	}

	device, err := s.store.GetDevice(*step.DeviceID)
	if err != nil {
		return domain.StepError, fmt.Sprintf("get device %d: %v", *step.DeviceID, err)
	}
	if device == nil || device.UserID != userID {
		return domain.StepError, fmt.Sprintf("device %d not found", *step.DeviceID)
	}

	return s.send(ctx, device, domain.Command{Action: step.ActionType, Payload: step.Payload}, dryRun)
}

func (s *DeviceService) send(ctx context.Context, device *domain.Device, cmd domain.Command, dryRun bool) (domain.StepStatus, string) {
	connector := s.registry.Lookup(device.Provider)
	if connector == nil {
		s.log.Debug().Str("provider", device.Provider).Int64("device", device.ID).Msg("no connector registered, command queued")
		return domain.StepQueued, fmt.Sprintf("no connector for provider %q; command queued", device.Provider)
	}

	if dryRun {
		return domain.StepSent, fmt.Sprintf("dry run: would send %q to %s", cmd.Action, device.Name)
	}

	if err := s.store.TouchDevice(device.ID, time.Now()); err != nil {
		s.log.Warn().Err(err).Int64("device", device.ID).Msg("touch device failed")
	}

	if err := connector.Send(ctx, device, cmd); err != nil {
		s.log.Warn().Err(err).Int64("device", device.ID).Str("action", cmd.Action).Msg("dispatch failed")
		return domain.StepError, err.Error()
	}

	s.log.Info().Int64("device", device.ID).Str("action", cmd.Action).Msg("command sent")
	return domain.StepSent, fmt.Sprintf("%q sent to %s", cmd.Action, device.Name)
}

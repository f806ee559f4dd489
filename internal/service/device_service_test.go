package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undarez/synexa-sub003/internal/connectors"
	"github.com/undarez/synexa-sub003/internal/domain"
)

type fakeDeviceStore struct {
	devices map[int64]*domain.Device
	touched []int64
	nextID  int64
}

func newFakeDeviceStore(devices ...*domain.Device) *fakeDeviceStore {
	f := &fakeDeviceStore{devices: map[int64]*domain.Device{}}
	for _, d := range devices {
		f.nextID++
		d.ID = f.nextID
		f.devices[d.ID] = d
	}
	return f
}

func (f *fakeDeviceStore) CreateDevice(d *domain.Device) error {
	f.nextID++
	d.ID = f.nextID
	f.devices[d.ID] = d
	return nil
}

func (f *fakeDeviceStore) GetDevice(id int64) (*domain.Device, error) { return f.devices[id], nil }

func (f *fakeDeviceStore) ListDevicesByUser(userID int64) ([]*domain.Device, error) {
	var out []*domain.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeviceStore) DeleteDevice(id int64) error {
	delete(f.devices, id)
	return nil
}

func (f *fakeDeviceStore) TouchDevice(id int64, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

// fakeConnector records sends and fails on demand.
type fakeConnector struct {
	err   error
	sends int
}

func (c *fakeConnector) Send(_ context.Context, _ *domain.Device, _ domain.Command) error {
	c.sends++
	return c.err
}

func TestDispatchUnknownDeviceIsNotFound(t *testing.T) {
	registry := connectors.NewRegistry()
	conn := &fakeConnector{}
	registry.Register("hue", conn)
	svc := NewDeviceService(newFakeDeviceStore(), registry, zerolog.Nop())

	_, err := svc.Dispatch(context.Background(), 42, 1, domain.Command{Action: "turn_on"})
	assert.ErrorIs(t, err, ErrNotFound)
	// No connector call happens for an unresolvable device.
	assert.Zero(t, conn.sends)
}

func TestDispatchForeignDeviceIsAccessDenied(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 2, Name: "Lamp", Provider: "hue"})
	svc := NewDeviceService(store, connectors.NewRegistry(), zerolog.Nop())

	_, err := svc.Dispatch(context.Background(), 1, 1, domain.Command{Action: "turn_on"})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDispatchUnregisteredProviderQueues(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 1, Name: "Plug", Provider: "ewelink"})
	svc := NewDeviceService(store, connectors.NewRegistry(), zerolog.Nop())

	result, err := svc.Dispatch(context.Background(), 1, 1, domain.Command{Action: "turn_on"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepQueued, result.Status)
	assert.Contains(t, result.Detail, "ewelink")
}

func TestDispatchConnectorFailureBecomesErrorStatus(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 1, Name: "Lamp", Provider: "hue"})
	registry := connectors.NewRegistry()
	registry.Register("hue", &fakeConnector{err: errors.New("bridge unreachable")})
	svc := NewDeviceService(store, registry, zerolog.Nop())

	result, err := svc.Dispatch(context.Background(), 1, 1, domain.Command{Action: "turn_on"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepError, result.Status)
	assert.Equal(t, "bridge unreachable", result.Detail)
}

func TestDispatchSuccessTouchesDevice(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 1, Name: "Lamp", Provider: "Hue"})
	registry := connectors.NewRegistry()
	registry.Register("hue", &fakeConnector{})
	svc := NewDeviceService(store, registry, zerolog.Nop())

	// Provider matching is case-insensitive.
	result, err := svc.Dispatch(context.Background(), 1, 1, domain.Command{Action: "turn_on"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSent, result.Status)
	assert.Equal(t, []int64{1}, store.touched)
}

func TestDispatchStepIsolatesFailures(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 1, Name: "Lamp", Provider: "hue"})
	registry := connectors.NewRegistry()
	registry.Register("hue", &fakeConnector{})
	svc := NewDeviceService(store, registry, zerolog.Nop())

	// Missing device inside a routine is a per-step error, not a call failure.
	missing := int64(42)
	status, detail := svc.DispatchStep(context.Background(), 1, domain.RoutineStep{ActionType: "turn_on", DeviceID: &missing}, false)
	assert.Equal(t, domain.StepError, status)
	assert.Contains(t, detail, "not found")

	// A step without a target device is recorded as queued.
	status, _ = svc.DispatchStep(context.Background(), 1, domain.RoutineStep{ActionType: "scene"}, false)
	assert.Equal(t, domain.StepQueued, status)
}

func TestDispatchStepDryRunSkipsIO(t *testing.T) {
	store := newFakeDeviceStore(&domain.Device{UserID: 1, Name: "Lamp", Provider: "hue"})
	registry := connectors.NewRegistry()
	conn := &fakeConnector{}
	registry.Register("hue", conn)
	svc := NewDeviceService(store, registry, zerolog.Nop())

	deviceID := int64(1)
	status, detail := svc.DispatchStep(context.Background(), 1, domain.RoutineStep{ActionType: "turn_on", DeviceID: &deviceID}, true)
	assert.Equal(t, domain.StepSent, status)
	assert.Contains(t, detail, "dry run")
	assert.Zero(t, conn.sends)
	assert.Empty(t, store.touched)
}

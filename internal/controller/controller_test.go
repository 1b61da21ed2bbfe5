package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/db"
	"github.com/thatsimonsguy/modbus-hvac/internal/config"
	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/project"
	"github.com/thatsimonsguy/modbus-hvac/internal/regmap"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
)

const (
	thermostat = 7
	heatPump   = 2
)

const testMaps = `{
  "acme_hp": {"co": {"0": {}}, "hr": {"1": {}, "10": {"conv_f_read": 1, "min": 13, "max": 45}}, "wop": [5, 6]},
  "acme_th": {"ir": {"0": {"conv_f_read": 1}, "1": {"conv_f_read": 1}, "3": {"conv_f_read": 1, "signed": true}}}
}`

const testCaps = `{
  "generators": {"acme_hp": {
    "onoff_source": {"datatype": "co", "address": 0},
    "mode_source": {"datatype": "hr", "address": 1},
    "setpoint_source": {"datatype": "hr", "address": 10}
  }}
}`

var january = time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC)

// newInstallation is one room on a thermostat driving one heat pump, all on
// an in-memory bus.
func newInstallation(t *testing.T) (*project.Project, *transport.Memory) {
	t.Helper()
	maps, err := regmap.ParseRegisterMaps([]byte(testMaps), regmap.JSON)
	require.NoError(t, err)
	caps := regmap.NewCapabilities()
	require.NoError(t, caps.Parse([]byte(testCaps), regmap.JSON))

	cfg := &config.Config{
		Control: room.DefaultParams(),
		Buses:   []config.Bus{{ID: 1, Backend: config.BackendMemory}},
		Groups:  []config.Group{{ID: 1}},
		Devices: []config.Device{
			{Bus: 1, ID: thermostat, Name: "thermostat", Brand: "acme", Model: "th", Category: device.CategoryGeneric},
			{Bus: 1, ID: heatPump, Name: "heat pump", Brand: "acme", Model: "hp", Category: device.CategoryGenerator, Groups: []int{1}},
		},
		Rooms: []config.Room{{
			Building: 1, Dwelling: 1, ID: 1, Groups: []int{1}, Bus: 1, Device: thermostat,
			Sources: room.Sources{
				Temperature: &model.Descriptor{Datatype: model.InputRegister, Address: 0},
				Setpoint:    &model.Descriptor{Datatype: model.InputRegister, Address: 1},
			},
		}},
		Outdoor: config.Outdoor{Bus: 1, Device: thermostat, Temperature: &model.Descriptor{Datatype: model.InputRegister, Address: 3}},
	}

	mem := transport.NewMemory()
	mem.Set(thermostat, model.InputRegister, 0, 195) // 19.5
	mem.Set(thermostat, model.InputRegister, 1, 210) // 21.0
	mem.Set(thermostat, model.InputRegister, 3, 50)  // 5.0 outdoor
	mem.Set(heatPump, model.Coil, 0, 0)
	mem.Set(heatPump, model.HoldingRegister, 1, 1)
	mem.Set(heatPump, model.HoldingRegister, 10, 300)

	p, err := project.Build(cfg, project.Documents{Maps: maps, Caps: caps}, func(config.Bus) (transport.Client, error) {
		return mem, nil
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, mem
}

func raw(t *testing.T, mem *transport.Memory, dt model.Datatype, addr uint16) uint16 {
	t.Helper()
	v, ok := mem.Get(heatPump, dt, addr)
	require.True(t, ok)
	return v
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []exchange.Snapshot
	err   error
}

func (r *recordingPublisher) Publish(_ context.Context, s exchange.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return r.err
}

type staticOverrides struct {
	list []db.DeviceOverride
	err  error
}

func (s staticOverrides) Overrides(context.Context) ([]db.DeviceOverride, error) {
	return s.list, s.err
}

func fixedClock() func() time.Time {
	return func() time.Time { return january }
}

func TestRunCycleDrivesGenerator(t *testing.T) {
	p, mem := newInstallation(t)
	pub := &recordingPublisher{}
	c := New(p, Options{Publisher: pub, Now: fixedClock()})

	res, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.CycleID)
	assert.Zero(t, res.DeviceErrors)
	assert.Zero(t, res.FailedReads)

	// 21 + 10 + (min(20, 21) - 5) / 2
	assert.Equal(t, uint16(385), raw(t, mem, model.HoldingRegister, 10))
	assert.Equal(t, uint16(model.CodeHeating), raw(t, mem, model.HoldingRegister, 1))
	assert.Equal(t, uint16(1), raw(t, mem, model.Coil, 0))

	require.Len(t, pub.snaps, 1)
	snap := pub.snaps[0]
	assert.Equal(t, res.CycleID, snap.CycleID)
	assert.Equal(t, january, snap.Time)
	require.Len(t, snap.Groups, 1)
	assert.Equal(t, model.DemandHeating, snap.Groups[0].Aggregate.Demand)
	assert.Equal(t, 38.5, *snap.Groups[0].Aggregate.WaterSetpoint)
	assert.Len(t, snap.Devices, 2)
	assert.Equal(t, snap, c.Last())
}

func TestRunCycleNoDemandSwitchesOff(t *testing.T) {
	p, mem := newInstallation(t)
	mem.Set(thermostat, model.InputRegister, 0, 225)
	mem.Set(heatPump, model.Coil, 0, 1)
	c := New(p, Options{Now: fixedClock()})

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0), raw(t, mem, model.Coil, 0))
	assert.Equal(t, uint16(300), raw(t, mem, model.HoldingRegister, 10), "setpoint untouched while off")
}

func TestRunCycleAppliesOverrides(t *testing.T) {
	p, mem := newInstallation(t)
	overrides := staticOverrides{list: []db.DeviceOverride{
		{Bus: 1, Device: heatPump, Override: device.Override{Field: "setpoint", Active: true, Value: 30}},
		{Bus: 1, Device: 99, Override: device.Override{Field: "onoff", Active: true}},
		{Bus: 1, Device: heatPump, Override: device.Override{Field: "speed", Active: true, Value: 1}},
	}}
	c := New(p, Options{Overrides: overrides, Now: fixedClock()})

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(300), raw(t, mem, model.HoldingRegister, 10))
	assert.Equal(t, uint16(1), raw(t, mem, model.Coil, 0))
}

func TestRunCycleKeepsOverridesWhenSourceFails(t *testing.T) {
	p, mem := newInstallation(t)
	mem.Set(heatPump, model.Coil, 0, 1)
	hp, ok := p.Device(1, heatPump)
	require.True(t, ok)
	require.NoError(t, hp.(device.Overridable).SetOverride(device.Override{Field: "onoff", Active: true, Value: 0}))

	c := New(p, Options{Overrides: staticOverrides{err: errors.New("db locked")}, Now: fixedClock()})
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0), raw(t, mem, model.Coil, 0))
}

func TestRunCycleCountsFailingDevices(t *testing.T) {
	p, mem := newInstallation(t)
	mem.SetOffline(heatPump, true)
	c := New(p, Options{Now: fixedClock()})

	res, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeviceErrors)
	assert.Positive(t, res.FailedReads)
	require.Len(t, res.Snapshot.Groups, 1)
	assert.Equal(t, 38.5, *res.Snapshot.Groups[0].Aggregate.WaterSetpoint, "groups are unaffected")
}

func TestRunCycleReportsPublishFailure(t *testing.T) {
	p, _ := newInstallation(t)
	c := New(p, Options{Publisher: &recordingPublisher{err: errors.New("broker gone")}, Now: fixedClock()})

	res, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, res.Snapshot.Devices, "the cycle still completes")
}

func TestRunCycleIsNotReentrant(t *testing.T) {
	p, _ := newInstallation(t)
	c := New(p, Options{Now: fixedClock()})
	c.running.Store(true)

	_, err := c.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	c.running.Store(false)
	_, err = c.RunCycle(context.Background())
	assert.NoError(t, err)
}

type panicking struct{}

func (panicking) Info() device.Info { return device.Info{Bus: 1, ID: 3} }
func (panicking) State() interface{} { return nil }
func (panicking) Update(context.Context, device.Cycle) error { panic("nil register map") }

func TestRunDeviceRecovers(t *testing.T) {
	err := runDevice(context.Background(), panicking{}, device.Cycle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil register map")
}

func TestApplyOverrides(t *testing.T) {
	p, _ := newInstallation(t)
	logger := zerolog.Nop()
	n := ApplyOverrides(p.Devices, []db.DeviceOverride{
		{Bus: 1, Device: heatPump, Override: device.Override{Field: "mode", Active: true, Value: 1}},
		{Bus: 1, Device: heatPump, Override: device.Override{Field: "mode", Active: true, Value: 7}},
		{Bus: 1, Device: thermostat, Override: device.Override{Field: "onoff", Active: true}},
	}, &logger)
	assert.Equal(t, 1, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	p, _ := newInstallation(t)
	pub := &recordingPublisher{}
	c := New(p, Options{Publisher: pub, Now: fixedClock()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.snaps) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

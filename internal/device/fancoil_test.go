package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

func TestAutoSpeed(t *testing.T) {
	tests := []struct {
		temp, setpoint float64
		want           float64
	}{
		{20, 20.5, 1},
		{20, 21.5, 2},
		{20, 23, 3},
		{22, 20, 3},
		{21, 21, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AutoSpeed(tt.temp, tt.setpoint), "temp %g setpoint %g", tt.temp, tt.setpoint)
	}
}

func newTestFancoil(regs *fakeRegs, mutate func(*FancoilCapabilities)) *Fancoil {
	caps := FancoilCapabilities{
		OnOff:         co(0),
		Mode:          hr(4),
		Setpoint:      hr(1),
		Temperature:   hr(2),
		Speed:         hr(3),
		HeatingOffset: -0.5,
		CoolingOffset: 0.5,
	}
	if mutate != nil {
		mutate(&caps)
	}
	return NewFancoil(NewBase(testInfo(CategoryFancoil, 1), regs), caps)
}

func TestFancoilSetpointDomain(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, nil)
	ctx := context.Background()

	require.True(t, f.SetSetpoint(ctx, 22))
	assert.False(t, f.SetSetpoint(ctx, 45))
	assert.False(t, f.SetTemperature(ctx, -3))
	assert.Equal(t, 22.0, regs.value(t, model.HoldingRegister, 1))

	v, ok := f.Setpoint(ctx)
	require.True(t, ok)
	assert.Equal(t, 22.0, v)
}

func TestFancoilSpeedCoils(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, func(c *FancoilCapabilities) {
		c.Speed = nil
		c.SpeedCoils = [MaxFanSpeed]*model.Descriptor{co(10), co(11), co(12)}
		c.AutoSpeed = ptr(4)
	})
	ctx := context.Background()

	require.True(t, f.SetSpeed(ctx, 2))
	assert.Equal(t, 0.0, regs.value(t, model.Coil, 10))
	assert.Equal(t, 1.0, regs.value(t, model.Coil, 11))
	assert.Equal(t, 0.0, regs.value(t, model.Coil, 12))

	v, ok := f.Speed(ctx)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	assert.False(t, f.SetSpeed(ctx, 5))
	assert.False(t, f.SetSpeed(ctx, 4), "auto code has no coil")
	assert.False(t, f.SetSpeed(ctx, 1.5))
}

func TestFancoilSpeedRegisterAcceptsAutoCode(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, func(c *FancoilCapabilities) { c.AutoSpeed = ptr(4) })

	require.True(t, f.SetSpeed(context.Background(), 4))
	assert.Equal(t, 4.0, regs.value(t, model.HoldingRegister, 3))
}

func TestFancoilUpdateHeating(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, nil)
	grp := groupWith(1, room.Aggregate{
		Mode:           model.ModeHeating,
		Demand:         model.DemandHeating,
		AirSetpoint:    ptr(21),
		AirTemperature: ptr(19),
	})

	require.NoError(t, f.Update(context.Background(), cycleWith(grp)))
	assert.Equal(t, 20.5, regs.value(t, model.HoldingRegister, 1))
	assert.Equal(t, 19.0, regs.value(t, model.HoldingRegister, 2))
	assert.Equal(t, 2.0, regs.value(t, model.HoldingRegister, 3))
	assert.Equal(t, float64(model.CodeHeating), regs.value(t, model.HoldingRegister, 4))
	assert.Equal(t, 1.0, regs.value(t, model.Coil, 0))

	s := f.State().(FancoilState)
	require.NotNil(t, s.Speed)
	assert.Equal(t, 2.0, *s.Speed)
}

func TestFancoilUpdateAutoCodeWins(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, func(c *FancoilCapabilities) { c.AutoSpeed = ptr(0) })
	grp := groupWith(1, room.Aggregate{
		Mode:           model.ModeCooling,
		Demand:         model.DemandCooling,
		AirSetpoint:    ptr(24),
		AirTemperature: ptr(28),
	})

	require.NoError(t, f.Update(context.Background(), cycleWith(grp)))
	assert.Equal(t, 0.0, regs.value(t, model.HoldingRegister, 3))
	assert.Equal(t, 24.5, regs.value(t, model.HoldingRegister, 1))
}

func TestFancoilManualSpeed(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, nil)
	require.NoError(t, f.SetOverride(Override{Field: "speed", Active: true, Value: 3}))
	grp := groupWith(1, room.Aggregate{
		Mode:           model.ModeHeating,
		Demand:         model.DemandHeating,
		AirSetpoint:    ptr(21),
		AirTemperature: ptr(20.8),
	})

	require.NoError(t, f.Update(context.Background(), cycleWith(grp)))
	assert.Equal(t, 3.0, regs.value(t, model.HoldingRegister, 3))

	assert.Error(t, f.SetOverride(Override{Field: "speed", Active: true, Value: 4}))
	assert.Error(t, f.SetOverride(Override{Field: "setpoint", Active: true}))
}

func TestFancoilNoDemandTurnsOffAndClaimsRemoteOnOff(t *testing.T) {
	regs := newFakeRegs()
	f := newTestFancoil(regs, func(c *FancoilCapabilities) {
		c.RemoteOnOff = hr(9)
		c.RemoteOnOffModbus = ptr(2)
	})
	regs.preset(model.HoldingRegister, 9, 0)
	grp := groupWith(1, room.Aggregate{Mode: model.ModeHeating, Demand: model.DemandNone, AirSetpoint: ptr(21)})

	require.NoError(t, f.Update(context.Background(), cycleWith(grp)))
	assert.Equal(t, 2.0, regs.value(t, model.HoldingRegister, 9))
	assert.Equal(t, 0.0, regs.value(t, model.Coil, 0))
	assert.False(t, regs.wrote(model.HoldingRegister, 1))
}

func TestFancoilWithoutGroup(t *testing.T) {
	regs := newFakeRegs()
	f := NewFancoil(NewBase(testInfo(CategoryFancoil, 7), regs), FancoilCapabilities{OnOff: co(0)})
	assert.Error(t, f.Update(context.Background(), cycleWith()))
}

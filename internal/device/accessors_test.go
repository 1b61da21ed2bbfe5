package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

type reading struct {
	value interface{}
	ok    bool
}

func TestAccessorsWithoutWriteAreIdempotent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testing.T, *fakeRegs) func(context.Context) reading
		want  interface{}
	}{
		{"generator onoff", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.Coil, 0, 1)
			g := newTestGenerator(regs, 1)
			return func(ctx context.Context) reading { v, ok := g.OnOff(ctx); return reading{v, ok} }
		}, true},
		{"generator mode", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 2, 3)
			g := newTestGenerator(regs, 1)
			return func(ctx context.Context) reading { v, ok := g.Mode(ctx); return reading{v, ok} }
		}, model.ModeCooling},
		{"generator setpoint", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 1, 18)
			g := newTestGenerator(regs, 1)
			return func(ctx context.Context) reading { v, ok := g.Setpoint(ctx); return reading{v, ok} }
		}, 18.0},
		{"fancoil setpoint", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 1, 22)
			f := newTestFancoil(regs, nil)
			return func(ctx context.Context) reading { v, ok := f.Setpoint(ctx); return reading{v, ok} }
		}, 22.0},
		{"fancoil mode", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 4, model.CodeHeating)
			f := newTestFancoil(regs, nil)
			return func(ctx context.Context) reading { v, ok := f.Mode(ctx); return reading{v, ok} }
		}, model.ModeHeating},
		{"fancoil speed", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 3, 2)
			f := newTestFancoil(regs, nil)
			return func(ctx context.Context) reading { v, ok := f.Speed(ctx); return reading{v, ok} }
		}, 2.0},
		{"heat recovery onoff", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.Coil, 0, 0)
			h := newTestHRU(regs, false)
			return func(ctx context.Context) reading { v, ok := h.OnOff(ctx); return reading{v, ok} }
		}, false},
		{"circuit mode", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 20, 0x0116)
			tfc := newTestTempFluid(t, regs)
			return func(ctx context.Context) reading { v, ok := tfc.Mode(ctx, 0); return reading{v, ok} }
		}, model.ModeCooling},
		{"circuit setpoint", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 20, 0x0116)
			tfc := newTestTempFluid(t, regs)
			return func(ctx context.Context) reading { v, ok := tfc.Setpoint(ctx, 0); return reading{v, ok} }
		}, 22.0},
		{"zone setpoint", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			regs.preset(model.HoldingRegister, 11, 21)
			a := newTestAirZone(regs)
			return func(ctx context.Context) reading { v, ok := a.ZoneSetpoint(ctx, 1); return reading{v, ok} }
		}, 21.0},
		{"unconfigured attribute", func(t *testing.T, regs *fakeRegs) func(context.Context) reading {
			f := newTestFancoil(regs, func(c *FancoilCapabilities) { c.Speed = nil })
			return func(ctx context.Context) reading { v, ok := f.Speed(ctx); return reading{v, ok} }
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs := newFakeRegs()
			read := tt.setup(t, regs)
			ctx := context.Background()

			first := read(ctx)
			second := read(ctx)
			assert.Equal(t, first, second)
			assert.Empty(t, regs.writes)
			if tt.want == nil {
				assert.False(t, first.ok)
				return
			}
			require.True(t, first.ok)
			assert.Equal(t, tt.want, first.value)
		})
	}
}

func TestAccessorKeepsValueAfterRejectedRequest(t *testing.T) {
	regs := newFakeRegs()
	regs.preset(model.HoldingRegister, 1, 22)
	f := newTestFancoil(regs, nil)
	ctx := context.Background()

	assert.False(t, f.SetSetpoint(ctx, 45))
	v, ok := f.Setpoint(ctx)
	require.True(t, ok)
	assert.Equal(t, 22.0, v)
	assert.Empty(t, regs.writes)
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/internal/device"
	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

type fakeDevice struct {
	info      device.Info
	overrides map[string]device.Override
}

func newFake(bus, id int) *fakeDevice {
	return &fakeDevice{info: device.Info{Bus: bus, ID: id}, overrides: map[string]device.Override{}}
}

func (f *fakeDevice) Info() device.Info { return f.info }
func (f *fakeDevice) State() interface{} { return map[string]bool{"on": true} }

func (f *fakeDevice) SetOverride(o device.Override) error {
	if o.Field == "bogus" {
		return fmt.Errorf("no override %q", o.Field)
	}
	f.overrides[o.Field] = o
	return nil
}

func (f *fakeDevice) Overrides() []device.Override {
	var list []device.Override
	for _, o := range f.overrides {
		list = append(list, o)
	}
	return list
}

func TestSaveAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	g := &room.Group{ID: 1}
	g.Restore(room.Aggregate{Mode: model.ModeCooling, WaterSetpoint: model.Float(16), Rooms: 3})
	src := newFake(1, 2)
	require.NoError(t, src.SetOverride(device.Override{Field: "setpoint", Active: true, Value: 40}))
	src.overrides["bogus"] = device.Override{Field: "bogus", Active: true}
	gone := newFake(1, 9)
	require.NoError(t, gone.SetOverride(device.Override{Field: "onoff", Active: true}))

	snap := exchange.NewSnapshot("c", time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC),
		map[int]*room.Group{1: g}, []device.Device{src, gone})
	require.NoError(t, s.Save(snap))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	fresh := &room.Group{ID: 1}
	dst := newFake(1, 2)
	require.NoError(t, s.Restore(map[int]*room.Group{1: fresh}, []device.Device{dst}))

	agg := fresh.Aggregate()
	assert.Equal(t, model.ModeCooling, agg.Mode)
	require.NotNil(t, agg.WaterSetpoint)
	assert.Equal(t, 16.0, *agg.WaterSetpoint)
	assert.Equal(t, 3, agg.Rooms)

	assert.Equal(t, device.Override{Field: "setpoint", Active: true, Value: 40}, dst.overrides["setpoint"])
	assert.NotContains(t, dst.overrides, "bogus")
}

func TestRestoreMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, s.Restore(nil, nil))
}

func TestRestoreRejectsOtherVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 7, "groups": []}`), 0o644))

	err := New(path).Restore(nil, nil)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	assert.Error(t, New(path).Restore(nil, nil))
}

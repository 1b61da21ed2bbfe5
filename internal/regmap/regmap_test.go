package regmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/internal/conversion"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

const jsonMap = `{
  "acme_hp10": {
    "co": {"0": {}},
    "hr": {"10": {"conv_f_read": 1, "min": 13, "max": 45}, "11": {"conv_f_read": [1, 4]}},
    "ir": {"20": {"conv_f_read": 1, "signed": true}},
    "qregsmax": 8,
    "wop": [5, 16]
  }
}`

const yamlMap = `
acme_fc2:
  hr:
    "1": {conv_f_read: 1, precision: 1}
    "2": {}
  di:
    "4": {}
  qregsmax: 4
`

func TestParseRegisterMapsJSON(t *testing.T) {
	maps, err := ParseRegisterMaps([]byte(jsonMap), JSON)
	require.NoError(t, err)
	rm := maps["acme_hp10"]
	require.NotNil(t, rm)

	assert.Equal(t, 8, rm.MaxBatch)
	e, ok := rm.Entry(model.HoldingRegister, 11)
	require.True(t, ok)
	assert.Equal(t, conversion.Pipeline{conversion.Div10, conversion.CelsiusToFahrenheit}, e.Read)
	assert.Equal(t, 2, e.Decimals())

	e, ok = rm.Entry(model.HoldingRegister, 10)
	require.True(t, ok)
	assert.True(t, e.InDomain(13))
	assert.False(t, e.InDomain(46))

	e, ok = rm.Entry(model.InputRegister, 20)
	require.True(t, ok)
	assert.True(t, e.Signed)

	_, ok = rm.Entry(model.DiscreteInput, 0)
	assert.False(t, ok)
	assert.Equal(t, []int{10, 11}, rm.Addresses(model.HoldingRegister))
}

func TestParseRegisterMapsYAML(t *testing.T) {
	maps, err := ParseRegisterMaps([]byte(yamlMap), YAML)
	require.NoError(t, err)
	rm := maps["acme_fc2"]
	require.NotNil(t, rm)

	e, ok := rm.Entry(model.HoldingRegister, 1)
	require.True(t, ok)
	assert.Equal(t, 1, e.Decimals())
	assert.Equal(t, conversion.Pipeline{conversion.Div10}, e.Read)
	assert.Equal(t, []int{4}, rm.Addresses(model.DiscreteInput))
}

func TestParseRegisterMapsErrors(t *testing.T) {
	_, err := ParseRegisterMaps([]byte(`{"x_y": {"hr": {"abc": {}, "3": {"conv_f_read": 9}}}}`), JSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"abc"`)
	assert.Contains(t, err.Error(), "unknown conversion function")
}

func TestWriteOp(t *testing.T) {
	tests := []struct {
		name   string
		wop    []int
		dt     model.Datatype
		op     int
		wantOK bool
	}{
		{"default coil", nil, model.Coil, WriteSingleCoil, true},
		{"default register", nil, model.HoldingRegister, WriteSingleRegister, true},
		{"multiple only", []int{WriteMultipleRegisters}, model.HoldingRegister, WriteMultipleRegisters, true},
		{"coil unsupported", []int{WriteSingleRegister}, model.Coil, 0, false},
		{"input register", nil, model.InputRegister, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := &RegisterMap{WriteOps: tt.wop}
			op, ok := rm.WriteOp(tt.dt)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.op, op)
		})
	}
}

func TestLoadRegisterMapsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hp.json"), []byte(jsonMap), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fc.yaml"), []byte(yamlMap), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	maps, err := LoadRegisterMaps(dir)
	require.NoError(t, err)
	assert.Len(t, maps, 2)
	assert.Contains(t, maps, "acme_hp10")
	assert.Contains(t, maps, "acme_fc2")
}

func TestCapabilities(t *testing.T) {
	c := NewCapabilities()
	require.NoError(t, c.Parse([]byte(`{"generators": {"acme_hp10": {"onoff": {"datatype": "co", "address": 0}, "mode_code_cooling": 3}}}`), JSON))
	require.NoError(t, c.Parse([]byte("fancoils:\n  acme_fc2:\n    setpoint: {datatype: hr, address: 1}\n"), YAML))

	type genCap struct {
		OnOff           *model.Descriptor `json:"onoff"`
		ModeCodeCooling int               `json:"mode_code_cooling"`
	}
	var g genCap
	require.NoError(t, c.Decode("generators", "acme_hp10", &g))
	require.NotNil(t, g.OnOff)
	assert.Equal(t, model.Coil, g.OnOff.Datatype)
	assert.Equal(t, 3, g.ModeCodeCooling)

	type fcCap struct {
		Setpoint *model.Descriptor `json:"setpoint"`
	}
	var f fcCap
	require.NoError(t, c.Decode("fancoils", "acme_fc2", &f))
	assert.Equal(t, 1, f.Setpoint.Address)
	assert.True(t, c.Has("fancoils", "acme_fc2"))

	type strict struct {
		OnOff *model.Descriptor `json:"onoff"`
	}
	var s strict
	err := c.Decode("generators", "acme_hp10", &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode_code_cooling")

	assert.Error(t, c.Decode("generators", "missing", &s))
}

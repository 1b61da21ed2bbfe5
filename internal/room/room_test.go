package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/registers"
)

var (
	july    = time.Date(2026, time.July, 10, 12, 0, 0, 0, time.UTC)
	january = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)
)

func f(v float64) *float64 { return &v }

func newRoom(id int, temp, sp *float64, mode *float64) *Room {
	r := &Room{ID: id, CoolingOffset: 1, HeatingOffset: -1}
	r.Load(Reading{Temperature: temp, Setpoint: sp, Mode: mode})
	return r
}

type fakeReader map[registers.Source]float64

func (fr fakeReader) Get(_ context.Context, src registers.Source) (float64, bool) {
	v, ok := fr[src]
	return v, ok
}

func TestRoom_Refresh(t *testing.T) {
	r := &Room{
		Bus:    1,
		Device: 4,
		Sources: Sources{
			Temperature: &model.Descriptor{Datatype: model.InputRegister, Address: 1},
			Setpoint:    &model.Descriptor{Datatype: model.HoldingRegister, Address: 2},
			Humidity:    &model.Descriptor{Datatype: model.InputRegister, Address: 3},
		},
	}
	reader := fakeReader{
		{Bus: 1, Device: 4, Datatype: model.InputRegister, Address: 1}:   24,
		{Bus: 1, Device: 4, Datatype: model.HoldingRegister, Address: 2}: 23,
	}
	r.Refresh(context.Background(), reader)

	temp, ok := r.Temperature()
	require.True(t, ok)
	assert.Equal(t, 24.0, temp)

	sp, ok := r.Setpoint()
	require.True(t, ok)
	assert.Equal(t, 23.0, sp)

	_, ok = r.RelativeHumidity()
	assert.False(t, ok, "read failure gives no value")
	_, ok = r.AirQuality()
	assert.False(t, ok, "unset source gives no value")
}

func TestRoom_SanityDomain(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		ok   bool
	}{
		{"below", -0.5, false},
		{"low edge", 0, true},
		{"normal", 21.5, true},
		{"high edge", 55, true},
		{"above", 55.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRoom(1, f(tt.v), f(tt.v), nil)
			_, ok := r.Temperature()
			assert.Equal(t, tt.ok, ok)
			_, ok = r.Setpoint()
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestRoom_DewPointAndEnthalpy(t *testing.T) {
	r := &Room{}
	r.Load(Reading{Temperature: f(24), Humidity: f(50)})

	dp, ok := r.DewPoint()
	require.True(t, ok)
	assert.InDelta(t, 12.9, dp, 0.2)

	h, ok := r.Enthalpy(0)
	require.True(t, ok)
	assert.InDelta(t, 47.8, h, 0.5)

	r.Load(Reading{Temperature: f(24), Humidity: f(0)})
	_, ok = r.DewPoint()
	assert.False(t, ok)

	r.Load(Reading{Humidity: f(50)})
	_, ok = r.Enthalpy(0)
	assert.False(t, ok)
}

func TestVoteMode(t *testing.T) {
	heat, cool := f(model.CodeHeating), f(model.CodeCooling)
	tests := []struct {
		name  string
		modes []*float64
		now   time.Time
		want  model.Mode
	}{
		{"majority cooling", []*float64{cool, cool, heat}, january, model.ModeCooling},
		{"majority heating", []*float64{heat, heat, cool}, july, model.ModeHeating},
		{"tie in summer", []*float64{heat, cool}, july, model.ModeCooling},
		{"tie in winter", []*float64{heat, cool}, january, model.ModeHeating},
		{"unknown in summer", []*float64{nil, f(7)}, july, model.ModeCooling},
		{"no rooms in winter", nil, january, model.ModeHeating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rooms []*Room
			for i, m := range tt.modes {
				rooms = append(rooms, newRoom(i, nil, nil, m))
			}
			assert.Equal(t, tt.want, VoteMode(rooms, tt.now))
		})
	}
}

func TestCompute_CoolingScenario(t *testing.T) {
	cool := f(model.CodeCooling)
	a := newRoom(1, f(26), f(24), cool)
	b := newRoom(2, f(23), f(24), cool)

	agg := Compute([]*Room{a, b}, DefaultParams(), Outdoor{Temperature: f(30)}, january)

	assert.Equal(t, model.ModeCooling, agg.Mode)
	assert.Equal(t, model.DemandCooling, agg.Demand)
	require.NotNil(t, agg.WaterSetpoint)
	// room A: 24 - 5 - (30 - max(26, 24)) / 2
	assert.Equal(t, 17.0, *agg.WaterSetpoint)
	require.NotNil(t, agg.AirSetpoint)
	assert.Equal(t, 25.0, *agg.AirSetpoint)
	assert.Equal(t, 26.0, *agg.AirTemperature)
	assert.Equal(t, 23.0, *agg.MinTemperature)
}

func TestCompute_TemperatureSpanIncludesRoomsWithoutSetpoint(t *testing.T) {
	cool := f(model.CodeCooling)
	a := newRoom(1, f(25), f(25), cool)
	b := newRoom(2, f(17), nil, cool)
	c := newRoom(3, f(28), nil, cool)

	agg := Compute([]*Room{a, b, c}, DefaultParams(), Outdoor{}, july)

	assert.Equal(t, 17.0, *agg.MinTemperature)
	assert.Equal(t, 28.0, *agg.MaxTemperature)
	assert.Equal(t, 25.0, *agg.AirTemperature, "air temperature only counts rooms with a setpoint")
	assert.Equal(t, 26.0, *agg.AirSetpoint)
}

func TestCompute_WaterCandidates(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name    string
		mode    float64
		temp    float64
		sp      float64
		outdoor *float64
		want    float64
		demand  model.Demand
	}{
		{"cooling large excess", model.CodeCooling, 27, 24, f(30), 17, model.DemandCooling},
		{"cooling large excess no outdoor", model.CodeCooling, 27, 24, nil, 19, model.DemandCooling},
		{"cooling small excess", model.CodeCooling, 24.5, 24, f(30), 19, model.DemandCooling},
		{"cooling satisfied", model.CodeCooling, 23, 24, f(30), 21.5, model.DemandNone},
		{"heating large deficit", model.CodeHeating, 18, 21, f(4), 39, model.DemandHeating},
		{"heating small deficit", model.CodeHeating, 20.5, 21, f(4), 31, model.DemandHeating},
		{"heating satisfied", model.CodeHeating, 22, 21, f(4), 26, model.DemandNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRoom(1, f(tt.temp), f(tt.sp), f(tt.mode))
			agg := Compute([]*Room{r}, p, Outdoor{Temperature: tt.outdoor}, july)
			require.NotNil(t, agg.WaterSetpoint)
			assert.Equal(t, tt.want, *agg.WaterSetpoint)
			assert.Equal(t, tt.demand, agg.Demand)
		})
	}
}

func TestCompute_HeatingPicksMax(t *testing.T) {
	heat := f(model.CodeHeating)
	a := newRoom(1, f(20.5), f(21), heat) // 31
	b := newRoom(2, f(22), f(20), heat)   // 25
	agg := Compute([]*Room{a, b}, DefaultParams(), Outdoor{}, july)

	assert.Equal(t, model.ModeHeating, agg.Mode)
	assert.Equal(t, 31.0, *agg.WaterSetpoint)
	assert.Equal(t, 20.0, *agg.AirSetpoint, "max of 21-1 and 20-1")
	assert.Equal(t, 20.5, *agg.AirTemperature)
}

func TestCompute_DewPointLimit(t *testing.T) {
	r := newRoom(1, f(26), f(24), f(model.CodeCooling))
	r.Load(Reading{Temperature: f(26), Setpoint: f(24), Humidity: f(60), Mode: f(model.CodeCooling)})
	agg := Compute([]*Room{r}, DefaultParams(), Outdoor{Temperature: f(30)}, july)

	require.NotNil(t, agg.DewPoint)
	assert.Equal(t, 17.6, *agg.DewPoint)
	// 17 computed, raised to dew point + 2
	assert.Equal(t, 19.6, *agg.WaterSetpoint)
}

func TestCompute_SupplyBounds(t *testing.T) {
	p := DefaultParams()

	cold := newRoom(1, f(40), f(15), f(model.CodeCooling))
	agg := Compute([]*Room{cold}, p, Outdoor{Temperature: f(50)}, july)
	assert.Equal(t, p.MinCoolingSupply, *agg.WaterSetpoint)

	hot := newRoom(1, f(1), f(40), f(model.CodeHeating))
	agg = Compute([]*Room{hot}, p, Outdoor{Temperature: f(-20)}, july)
	assert.Equal(t, p.MaxHeatingSupply, *agg.WaterSetpoint)
}

func TestCompute_SkipsIncompleteRooms(t *testing.T) {
	cool := f(model.CodeCooling)
	missing := newRoom(1, nil, f(24), cool)
	implausible := newRoom(2, f(80), f(24), cool)
	agg := Compute([]*Room{missing, implausible}, DefaultParams(), Outdoor{}, july)

	assert.Nil(t, agg.WaterSetpoint)
	assert.Nil(t, agg.AirSetpoint)
	assert.Equal(t, model.DemandNone, agg.Demand)
}

func TestCompute_AirQuality(t *testing.T) {
	a := &Room{}
	a.Load(Reading{AirQuality: f(900), AirQualitySetpoint: f(800)})
	b := &Room{}
	b.Load(Reading{AirQuality: f(500), AirQualitySetpoint: f(600)})
	c := &Room{}
	c.Load(Reading{AirQuality: f(1200), AirQualitySetpoint: f(1000)})

	agg := Compute([]*Room{a, b, c}, DefaultParams(), Outdoor{}, july)
	assert.Equal(t, 1200.0, *agg.AirQuality)
	assert.Equal(t, 800.0, *agg.AirQualitySetpoint, "min setpoint among exceeding rooms")

	agg = Compute([]*Room{b}, DefaultParams(), Outdoor{}, july)
	assert.Equal(t, 600.0, *agg.AirQualitySetpoint, "no room exceeds: min over all")
}

func TestGroup_UpdateAndSubset(t *testing.T) {
	desc := func(addr int) *model.Descriptor {
		return &model.Descriptor{Datatype: model.HoldingRegister, Address: addr}
	}
	mk := func(id, base int) *Room {
		return &Room{
			ID:            id,
			Bus:           1,
			Device:        10,
			CoolingOffset: 1,
			Sources:       Sources{Temperature: desc(base), Setpoint: desc(base + 1), Mode: desc(base + 2)},
		}
	}
	src := func(addr int) registers.Source {
		return registers.Source{Bus: 1, Device: 10, Datatype: model.HoldingRegister, Address: addr}
	}
	reader := fakeReader{
		src(0): 26, src(1): 24, src(2): model.CodeCooling,
		src(10): 23, src(11): 22, src(12): model.CodeCooling,
	}

	g := &Group{ID: 3, Rooms: []*Room{mk(1, 0), mk(2, 10)}, Params: DefaultParams()}
	agg := g.Update(context.Background(), reader, Outdoor{}, january)
	assert.Equal(t, model.ModeCooling, agg.Mode)
	assert.Equal(t, 23.0, *agg.AirSetpoint)
	assert.Equal(t, agg, g.Aggregate())

	zone := g.Subset([]string{g.Rooms[0].Key()}, Outdoor{})
	assert.Equal(t, model.ModeCooling, zone.Mode)
	assert.Equal(t, 1, zone.Rooms)
	assert.Equal(t, 25.0, *zone.AirSetpoint)
}

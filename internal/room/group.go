package room

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

// Params are the installation-wide tuning values of the aggregation.
type Params struct {
	CoolingOffset      float64 `json:"cooling_offset"`
	HeatingOffset      float64 `json:"heating_offset"` // negative
	WaterOffsetCooling float64 `json:"water_offset_cooling"`
	WaterOffsetHeating float64 `json:"water_offset_heating"`
	TempLimitCooling   float64 `json:"temp_limit_cooling"`
	TempLimitHeating   float64 `json:"temp_limit_heating"`
	DewPointOffset     float64 `json:"dew_point_offset"`
	MinCoolingSupply   float64 `json:"min_cooling_supply"`
	MaxHeatingSupply   float64 `json:"max_heating_supply"`
	Altitude           float64 `json:"altitude"`
}

func DefaultParams() Params {
	return Params{
		CoolingOffset:      1,
		HeatingOffset:      -1,
		WaterOffsetCooling: 5,
		WaterOffsetHeating: 10,
		TempLimitCooling:   26,
		TempLimitHeating:   20,
		DewPointOffset:     2,
		MinCoolingSupply:   13,
		MaxHeatingSupply:   45,
	}
}

// Outdoor conditions for the cycle. Nil fields are unknown.
type Outdoor struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// Aggregate is what a group computes each cycle. Nothing carries over between
// cycles.
type Aggregate struct {
	Mode               model.Mode   `json:"mode"`
	Demand             model.Demand `json:"demand"`
	WaterSetpoint      *float64     `json:"water_setpoint"`
	AirSetpoint        *float64     `json:"air_setpoint"`
	AirTemperature     *float64     `json:"air_temperature"`
	// Min/MaxTemperature span every room reporting a temperature.
	MinTemperature     *float64     `json:"min_temperature"`
	MaxTemperature     *float64     `json:"max_temperature"`
	DewPoint           *float64     `json:"dew_point"`
	Enthalpy           *float64     `json:"enthalpy"`
	AirQuality         *float64     `json:"air_quality"`
	AirQualitySetpoint *float64     `json:"air_quality_setpoint"`
	Rooms              int          `json:"rooms"`
}

type Group struct {
	ID     int
	Name   string
	Rooms  []*Room
	Params Params

	agg Aggregate
}

func (g *Group) Aggregate() Aggregate {
	return g.agg
}

// Restore replaces the aggregate without touching the rooms, for a group
// loaded from a snapshot before its first cycle.
func (g *Group) Restore(a Aggregate) {
	g.agg = a
}

// Update refreshes every member room concurrently, then recomputes the
// aggregate. A room that fails to read only drops its own contribution.
func (g *Group) Update(ctx context.Context, reader Reader, outdoor Outdoor, now time.Time) Aggregate {
	var eg errgroup.Group
	for _, r := range g.Rooms {
		r := r
		eg.Go(func() error {
			r.Refresh(ctx, reader)
			return nil
		})
	}
	_ = eg.Wait()

	g.agg = Compute(g.Rooms, g.Params, outdoor, now)
	log.Debug().
		Int("group", g.ID).
		Str("mode", string(g.agg.Mode)).
		Str("demand", string(g.agg.Demand)).
		Interface("water_setpoint", g.agg.WaterSetpoint).
		Interface("air_setpoint", g.agg.AirSetpoint).
		Msg("Group aggregate computed")
	return g.agg
}

// Subset aggregates some of the group's rooms under the group's current mode.
// Used by devices that split one group into zones.
func (g *Group) Subset(keys []string, outdoor Outdoor) Aggregate {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var rooms []*Room
	for _, r := range g.Rooms {
		if want[r.Key()] {
			rooms = append(rooms, r)
		}
	}
	return ComputeWithMode(rooms, g.Params, outdoor, g.agg.Mode)
}

// VoteMode is the majority of the rooms' own mode readings. Ties and no
// readings fall back to the season.
func VoteMode(rooms []*Room, now time.Time) model.Mode {
	var heating, cooling int
	for _, r := range rooms {
		m, ok := r.Mode()
		if !ok {
			continue
		}
		if m == model.ModeCooling {
			cooling++
		} else {
			heating++
		}
	}
	switch {
	case cooling > heating:
		return model.ModeCooling
	case heating > cooling:
		return model.ModeHeating
	}
	return model.SeasonalMode(now)
}

func Compute(rooms []*Room, p Params, outdoor Outdoor, now time.Time) Aggregate {
	return ComputeWithMode(rooms, p, outdoor, VoteMode(rooms, now))
}

type tracker struct {
	v   float64
	set bool
}

func (t *tracker) max(v float64) {
	if !t.set || v > t.v {
		t.v, t.set = v, true
	}
}

func (t *tracker) min(v float64) {
	if !t.set || v < t.v {
		t.v, t.set = v, true
	}
}

func (t *tracker) ptr() *float64 {
	if !t.set {
		return nil
	}
	return model.Float(t.v)
}

func ComputeWithMode(rooms []*Room, p Params, outdoor Outdoor, mode model.Mode) Aggregate {
	agg := Aggregate{Mode: mode, Demand: model.DemandNone, Rooms: len(rooms)}
	cooling := mode == model.ModeCooling

	var (
		air, water         tracker
		minTemp, maxTemp   tracker
		coolest, warmest   tracker
		dewPoint, enthalpy tracker
		aq, aqSp, aqAnySp  tracker
	)
	for _, r := range rooms {
		if dp, ok := r.DewPoint(); ok {
			dewPoint.max(dp)
		}
		if h, ok := r.Enthalpy(p.Altitude); ok {
			enthalpy.max(h)
		}
		q, qok := r.AirQuality()
		qsp, spok := r.AirQualitySetpoint()
		if qok {
			aq.max(q)
		}
		if spok {
			aqAnySp.min(qsp)
			if qok && q > qsp {
				aqSp.min(qsp)
			}
		}

		t, tok := r.Temperature()
		if tok {
			coolest.min(t)
			warmest.max(t)
		}
		sp, sok := r.Setpoint()
		if !tok || !sok {
			continue
		}
		minTemp.min(t)
		maxTemp.max(t)

		airSp := sp + r.AirOffset(mode)
		if cooling {
			air.min(airSp)
		} else {
			air.max(airSp)
		}

		candidate, demand := waterCandidate(t, sp, p, outdoor, mode)
		if demand != model.DemandNone {
			agg.Demand = demand
		}
		if cooling {
			water.min(candidate)
		} else {
			water.max(candidate)
		}
	}

	agg.AirSetpoint = air.ptr()
	agg.MinTemperature = coolest.ptr()
	agg.MaxTemperature = warmest.ptr()
	if cooling {
		agg.AirTemperature = maxTemp.ptr()
	} else {
		agg.AirTemperature = minTemp.ptr()
	}
	agg.DewPoint = dewPoint.ptr()
	agg.Enthalpy = enthalpy.ptr()
	agg.AirQuality = aq.ptr()
	if aqSp.set {
		agg.AirQualitySetpoint = aqSp.ptr()
	} else {
		agg.AirQualitySetpoint = aqAnySp.ptr()
	}

	if water.set {
		w := water.v
		if cooling && dewPoint.set {
			w = math.Max(w, dewPoint.v+p.DewPointOffset)
		}
		w = math.Min(math.Max(w, p.MinCoolingSupply), p.MaxHeatingSupply)
		agg.WaterSetpoint = model.Float(round2(w))
	}
	return agg
}

// waterCandidate is one room's supply-water setpoint and demand.
func waterCandidate(t, sp float64, p Params, outdoor Outdoor, mode model.Mode) (float64, model.Demand) {
	if mode == model.ModeCooling {
		excess := t - sp
		switch {
		case excess > p.CoolingOffset:
			c := sp - p.WaterOffsetCooling
			if outdoor.Temperature != nil {
				c -= (*outdoor.Temperature - math.Max(p.TempLimitCooling, sp)) / 2
			}
			return c, model.DemandCooling
		case excess > 0:
			return sp - p.WaterOffsetCooling, model.DemandCooling
		}
		return sp - p.WaterOffsetCooling/2, model.DemandNone
	}

	delta := t - sp
	switch {
	case delta < p.HeatingOffset:
		c := sp + p.WaterOffsetHeating
		if outdoor.Temperature != nil {
			c += (math.Min(p.TempLimitHeating, sp) - *outdoor.Temperature) / 2
		}
		return c, model.DemandHeating
	case delta < 0:
		return sp + p.WaterOffsetHeating, model.DemandHeating
	}
	return sp + p.WaterOffsetHeating/2, model.DemandNone
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

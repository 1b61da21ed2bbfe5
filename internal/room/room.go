// Package room reads room sensors and aggregates groups of rooms into the
// demand and setpoints the devices serving them are driven to.
package room

import (
	"context"
	"fmt"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/psychro"
	"github.com/thatsimonsguy/modbus-hvac/internal/registers"
)

// Sanity domain of room temperatures and setpoints, °C.
const (
	MinPlausible = 0.0
	MaxPlausible = 55.0
)

// Reader is the register access the aggregation needs.
type Reader interface {
	Get(ctx context.Context, src registers.Source) (float64, bool)
}

// Sources are the thermostat registers of one room.
type Sources struct {
	Setpoint           *model.Descriptor `json:"setpoint,omitempty"`
	Humidity           *model.Descriptor `json:"humidity,omitempty"`
	Temperature        *model.Descriptor `json:"temperature,omitempty"`
	Actuator           *model.Descriptor `json:"actuator,omitempty"`
	AirQuality         *model.Descriptor `json:"air_quality,omitempty"`
	AirQualitySetpoint *model.Descriptor `json:"air_quality_setpoint,omitempty"`
	Mode               *model.Descriptor `json:"mode,omitempty"`
}

// Reading is what one refresh of a room produced. Nil fields had no value.
type Reading struct {
	Setpoint           *float64 `json:"setpoint"`
	Humidity           *float64 `json:"humidity"`
	Temperature        *float64 `json:"temperature"`
	Actuator           *float64 `json:"actuator"`
	AirQuality         *float64 `json:"air_quality"`
	AirQualitySetpoint *float64 `json:"air_quality_setpoint"`
	Mode               *float64 `json:"mode"`
}

type Room struct {
	Building int
	Dwelling int
	ID       int
	Name     string
	Groups   []int

	Bus     int
	Device  int
	Sources Sources

	// Second-stage air offsets. Cooling is positive, heating negative.
	CoolingOffset float64
	HeatingOffset float64

	reading Reading
}

func (r *Room) Key() string {
	return fmt.Sprintf("%d/%d/%d", r.Building, r.Dwelling, r.ID)
}

func (r *Room) get(ctx context.Context, reader Reader, d *model.Descriptor) *float64 {
	src, ok := registers.SourceFor(r.Bus, r.Device, d)
	if !ok {
		return nil
	}
	return model.OptFloat(reader.Get(ctx, src))
}

// Refresh reads every configured source. Missing values are not errors.
func (r *Room) Refresh(ctx context.Context, reader Reader) {
	r.reading = Reading{
		Setpoint:           r.get(ctx, reader, r.Sources.Setpoint),
		Humidity:           r.get(ctx, reader, r.Sources.Humidity),
		Temperature:        r.get(ctx, reader, r.Sources.Temperature),
		Actuator:           r.get(ctx, reader, r.Sources.Actuator),
		AirQuality:         r.get(ctx, reader, r.Sources.AirQuality),
		AirQualitySetpoint: r.get(ctx, reader, r.Sources.AirQualitySetpoint),
		Mode:               r.get(ctx, reader, r.Sources.Mode),
	}
}

// Load replaces the last reading.
func (r *Room) Load(reading Reading) {
	r.reading = reading
}

func (r *Room) Reading() Reading {
	return r.reading
}

func value(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func plausible(p *float64) (float64, bool) {
	v, ok := value(p)
	if !ok || v < MinPlausible || v > MaxPlausible {
		return 0, false
	}
	return v, true
}

func (r *Room) Setpoint() (float64, bool) {
	return plausible(r.reading.Setpoint)
}

func (r *Room) Temperature() (float64, bool) {
	return plausible(r.reading.Temperature)
}

func (r *Room) RelativeHumidity() (float64, bool) {
	v, ok := value(r.reading.Humidity)
	if !ok || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

func (r *Room) ActuatorState() (float64, bool) {
	return value(r.reading.Actuator)
}

func (r *Room) AirQuality() (float64, bool) {
	return value(r.reading.AirQuality)
}

func (r *Room) AirQualitySetpoint() (float64, bool) {
	return value(r.reading.AirQualitySetpoint)
}

func (r *Room) Mode() (model.Mode, bool) {
	v, ok := value(r.reading.Mode)
	if !ok {
		return "", false
	}
	return model.ModeFromCode(v)
}

// AirOffset is the second-stage offset for mode.
func (r *Room) AirOffset(mode model.Mode) float64 {
	if mode == model.ModeCooling {
		return r.CoolingOffset
	}
	return r.HeatingOffset
}

func (r *Room) DewPoint() (float64, bool) {
	t, ok := r.Temperature()
	if !ok || t == 0 {
		return 0, false
	}
	rh, ok := r.RelativeHumidity()
	if !ok {
		return 0, false
	}
	return psychro.DewPoint(t, rh)
}

func (r *Room) Enthalpy(altitude float64) (float64, bool) {
	t, ok := r.Temperature()
	if !ok || t == 0 {
		return 0, false
	}
	rh, ok := r.RelativeHumidity()
	if !ok {
		return 0, false
	}
	return psychro.Enthalpy(t, rh, altitude)
}

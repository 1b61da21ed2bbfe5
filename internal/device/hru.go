package device

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/psychro"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

// HRUMode is a set of heat-recovery strategies. Free-cooling combines with
// dehumidification or fan-coil support; ventilation stands alone.
type HRUMode int

const (
	HRUOff         HRUMode = 0
	HRUDehumidify  HRUMode = 1
	HRUFancoil     HRUMode = 2
	HRUFreeCooling HRUMode = 4
	HRUVentilation HRUMode = 8
)

const hruCombinable = HRUDehumidify | HRUFancoil | HRUFreeCooling

func (m HRUMode) Has(flag HRUMode) bool {
	return m&flag != 0
}

// Valid reports whether m is a mode the unit can run.
func (m HRUMode) Valid() bool {
	switch {
	case m == HRUOff, m == HRUVentilation:
		return true
	case m&^hruCombinable != 0:
		return false
	case m.Has(HRUDehumidify) && m.Has(HRUFancoil):
		return false
	}
	return true
}

func (m HRUMode) String() string {
	if m == HRUOff {
		return "off"
	}
	var parts []string
	for _, f := range []struct {
		flag HRUMode
		name string
	}{
		{HRUDehumidify, "dehumidification"},
		{HRUFancoil, "fancoil"},
		{HRUFreeCooling, "freecooling"},
		{HRUVentilation, "ventilation"},
	} {
		if m.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "+")
}

type HRUCapabilities struct {
	OnOff               *model.Descriptor `json:"onoff_source"`
	Mode                *model.Descriptor `json:"mode_source"`
	FanSpeed            *model.Descriptor `json:"fan_speed_source"`
	Airflow             *model.Descriptor `json:"airflow_source"`
	OutdoorDamper       *model.Descriptor `json:"outdoor_damper_source"`
	RecirculationDamper *model.Descriptor `json:"recirculation_damper_source"`
	Bypass              *model.Descriptor `json:"bypass_source"`
	Valve               *model.Descriptor `json:"valve_source"`
	Alarm               *model.Descriptor `json:"alarm_source"`

	// VentilateByFlow selects the 10-step airflow table over the 3-step speed
	// table.
	VentilateByFlow bool     `json:"ventilate_by_flow"`
	MaxSpeed        *float64 `json:"max_speed"`
	MaxAirflow      *float64 `json:"max_airflow"`
	DamperOpen      *float64 `json:"damper_open_value"`
	ValveOpen       *float64 `json:"valve_open_value"`

	DehumidificationOffset float64 `json:"dehumidification_offset"`
	CoolingOffset          float64 `json:"cooling_offset"`
	HeatingOffset          float64 `json:"heating_offset"`
}

// HRUProfile is the actuator position set of one mode.
type HRUProfile struct {
	FanMax        bool
	OutdoorOpen   bool
	Recirculation bool
	ValveOpen     bool
	BypassOpen    bool
}

// Profile returns the actuator set for m. Composite free-cooling modes take
// the free-cooling dampers and bypass and keep the partner mode's valve.
func Profile(m HRUMode) HRUProfile {
	switch {
	case m == HRUOff:
		return HRUProfile{Recirculation: true}
	case m == HRUVentilation:
		return HRUProfile{OutdoorOpen: true}
	case m.Has(HRUFreeCooling):
		return HRUProfile{
			FanMax:      true,
			OutdoorOpen: true,
			ValveOpen:   m.Has(HRUDehumidify) || m.Has(HRUFancoil),
			BypassOpen:  true,
		}
	case m.Has(HRUDehumidify):
		return HRUProfile{FanMax: true, Recirculation: true, ValveOpen: true}
	}
	return HRUProfile{FanMax: true, OutdoorOpen: true, ValveOpen: true}
}

// HRUThresholds are the per-model activation offsets of Decide.
type HRUThresholds struct {
	Dehumidification float64
	Cooling          float64
	Heating          float64 // negative
}

// Decide picks the unit's mode from its group aggregate and outdoor air.
func Decide(agg room.Aggregate, outdoor room.Outdoor, th HRUThresholds, altitude float64) HRUMode {
	cooling := agg.Mode == model.ModeCooling
	var mode HRUMode

	if cooling && agg.MinTemperature != nil && agg.DewPoint != nil &&
		*agg.MinTemperature < *agg.DewPoint+th.Dehumidification {
		mode |= HRUDehumidify
	}

	if cooling && freeCooling(agg, outdoor, altitude) {
		mode |= HRUFreeCooling
	}

	if !mode.Has(HRUDehumidify) && agg.AirSetpoint != nil {
		sp := *agg.AirSetpoint
		if cooling && agg.MaxTemperature != nil && sp < *agg.MaxTemperature+th.Cooling {
			mode |= HRUFancoil
		}
		if !cooling && agg.MinTemperature != nil && sp > *agg.MinTemperature+th.Heating {
			mode |= HRUFancoil
		}
	}

	if mode == HRUOff {
		mode = HRUVentilation
	}
	return mode
}

func freeCooling(agg room.Aggregate, outdoor room.Outdoor, altitude float64) bool {
	if outdoor.Temperature == nil {
		return false
	}
	t := *outdoor.Temperature
	if outdoor.Humidity == nil || *outdoor.Humidity == 0 {
		return agg.MinTemperature != nil && t < *agg.MinTemperature
	}
	h, ok := psychro.Enthalpy(t, *outdoor.Humidity, altitude)
	return ok && agg.Enthalpy != nil && h < *agg.Enthalpy
}

// Ventilation steps. The table reaches full scale at 120% of the air quality
// setpoint.
const (
	FlowSteps      = 10
	SpeedSteps     = 3
	fullScaleRatio = 1.2
)

// VentilationStep maps air quality to a step in 1..steps.
func VentilationStep(aq, setpoint *float64, steps int) int {
	if aq == nil || setpoint == nil || *setpoint <= 0 {
		return 1
	}
	ratio := *aq / (*setpoint * fullScaleRatio)
	step := int(math.Ceil(ratio * float64(steps)))
	if step < 1 {
		return 1
	}
	if step > steps {
		return steps
	}
	return step
}

type HeatRecoveryUnit struct {
	Base

	onoff         attr
	mode          attr
	fanSpeed      attr
	airflow       attr
	outdoorDamper attr
	recirculation attr
	bypass        attr
	valve         attr
	alarm         attr

	byFlow     bool
	maxSpeed   float64
	maxAirflow float64
	damperOpen float64
	valveOpen  float64
	thresholds HRUThresholds

	current HRUMode

	ManualOnOff Manual
	ManualMode  Manual
}

type HRUState struct {
	OnOff         *bool    `json:"onoff"`
	Mode          string   `json:"mode"`
	ModeCode      int      `json:"mode_code"`
	FanSpeed      *float64 `json:"fan_speed"`
	Airflow       *float64 `json:"airflow"`
	OutdoorDamper *float64 `json:"outdoor_damper"`
	Recirculation *float64 `json:"recirculation_damper"`
	Bypass        *float64 `json:"bypass"`
	Valve         *float64 `json:"valve"`
	Alarm         *float64 `json:"alarm"`
	ManualOnOff   Manual   `json:"manual_onoff"`
	ManualMode    Manual   `json:"manual_mode"`
}

func NewHeatRecoveryUnit(base Base, caps HRUCapabilities) *HeatRecoveryUnit {
	orDefault := func(p *float64, d float64) float64 {
		if p == nil {
			return d
		}
		return *p
	}
	return &HeatRecoveryUnit{
		Base:          base,
		onoff:         bind(caps.OnOff),
		mode:          bind(caps.Mode),
		fanSpeed:      bind(caps.FanSpeed),
		airflow:       bind(caps.Airflow),
		outdoorDamper: bind(caps.OutdoorDamper),
		recirculation: bind(caps.RecirculationDamper),
		bypass:        bind(caps.Bypass),
		valve:         bind(caps.Valve),
		alarm:         bind(caps.Alarm),
		byFlow:        caps.VentilateByFlow,
		maxSpeed:      orDefault(caps.MaxSpeed, SpeedSteps),
		maxAirflow:    orDefault(caps.MaxAirflow, 100),
		damperOpen:    orDefault(caps.DamperOpen, 1),
		valveOpen:     orDefault(caps.ValveOpen, 1),
		thresholds: HRUThresholds{
			Dehumidification: caps.DehumidificationOffset,
			Cooling:          caps.CoolingOffset,
			Heating:          caps.HeatingOffset,
		},
	}
}

func (h *HeatRecoveryUnit) OnOff(ctx context.Context) (bool, bool) {
	v, ok := h.get(ctx, &h.onoff)
	return v != 0, ok
}

func (h *HeatRecoveryUnit) SetOnOff(ctx context.Context, on bool) bool {
	return h.setBool(ctx, "onoff", &h.onoff, on)
}

// Mode is the mode applied last cycle.
func (h *HeatRecoveryUnit) Mode() HRUMode {
	return h.current
}

// SetMode drives every actuator to the profile of m.
func (h *HeatRecoveryUnit) SetMode(ctx context.Context, m HRUMode, agg room.Aggregate) bool {
	if !m.Valid() {
		h.logger().Warn().Int("mode", int(m)).Msg("Invalid heat recovery mode, keeping previous")
		return false
	}
	p := Profile(m)
	ok := true
	open := func(b bool, v float64) float64 {
		if b {
			return v
		}
		return 0
	}

	if h.mode.configured() {
		ok = h.set(ctx, "mode", &h.mode, float64(m), nil) && ok
	}
	ok = h.setActuator(ctx, "outdoor_damper", &h.outdoorDamper, open(p.OutdoorOpen, h.damperOpen)) && ok
	ok = h.setActuator(ctx, "recirculation_damper", &h.recirculation, open(p.Recirculation, h.damperOpen)) && ok
	ok = h.setActuator(ctx, "bypass", &h.bypass, open(p.BypassOpen, h.damperOpen)) && ok
	ok = h.setActuator(ctx, "valve", &h.valve, open(p.ValveOpen, h.valveOpen)) && ok

	switch {
	case m == HRUOff:
		ok = h.setActuator(ctx, "fan_speed", &h.fanSpeed, 0) && ok
		ok = h.setActuator(ctx, "airflow", &h.airflow, 0) && ok
	case m == HRUVentilation:
		if h.byFlow {
			step := VentilationStep(agg.AirQuality, agg.AirQualitySetpoint, FlowSteps)
			ok = h.setActuator(ctx, "airflow", &h.airflow, h.maxAirflow*float64(step)/FlowSteps) && ok
		} else {
			step := VentilationStep(agg.AirQuality, agg.AirQualitySetpoint, SpeedSteps)
			ok = h.setActuator(ctx, "fan_speed", &h.fanSpeed, math.Round(h.maxSpeed*float64(step)/SpeedSteps)) && ok
		}
	case p.FanMax:
		ok = h.setActuator(ctx, "fan_speed", &h.fanSpeed, h.maxSpeed) && ok
		ok = h.setActuator(ctx, "airflow", &h.airflow, h.maxAirflow) && ok
	}

	if ok {
		h.current = m
	}
	return ok
}

// setActuator writes a if the model has it. Missing actuators succeed.
func (h *HeatRecoveryUnit) setActuator(ctx context.Context, name string, a *attr, v float64) bool {
	if !a.configured() {
		return true
	}
	return h.set(ctx, name, a, v, nil)
}

func (h *HeatRecoveryUnit) Update(ctx context.Context, c Cycle) error {
	h.checkAlarm(ctx, &h.alarm)

	grp, ok := h.firstGroup(c)
	if !ok {
		return fmt.Errorf("heat recovery unit %s has no group", h.info.Name)
	}
	agg := grp.Aggregate()

	// Units without an on/off register are always on. An unreadable one
	// leaves the actuators alone until the next cycle.
	on := true
	if h.onoff.configured() {
		v, ok := h.OnOff(ctx)
		if !ok && !h.ManualOnOff.Active {
			return fmt.Errorf("heat recovery unit %s: on/off state unreadable", h.info.Name)
		}
		on = v
	}
	if h.ManualOnOff.Active {
		on = h.ManualOnOff.Value != 0
		h.SetOnOff(ctx, on)
	}
	if !on {
		h.SetMode(ctx, HRUOff, agg)
		return nil
	}

	mode := Decide(agg, c.Outdoor, h.thresholds, c.Params.Altitude)
	if h.ManualMode.Active {
		mode = HRUMode(h.ManualMode.Value)
	}
	h.logger().Debug().Str("mode", mode.String()).Msg("Heat recovery mode decided")
	if !h.SetMode(ctx, mode, agg) {
		return fmt.Errorf("heat recovery unit %s: failed to apply %s", h.info.Name, mode)
	}
	return nil
}

func (h *HeatRecoveryUnit) Stop(ctx context.Context) bool {
	ok := h.SetMode(ctx, HRUOff, room.Aggregate{})
	if h.onoff.configured() {
		ok = h.SetOnOff(ctx, false) && ok
	}
	return ok
}

func (h *HeatRecoveryUnit) SetOverride(o Override) error {
	switch o.Field {
	case "onoff":
		setManual(&h.ManualOnOff, o)
	case "mode":
		if o.Active && (o.Value != math.Trunc(o.Value) || !HRUMode(o.Value).Valid()) {
			return fmt.Errorf("invalid heat recovery mode %g", o.Value)
		}
		setManual(&h.ManualMode, o)
	default:
		return fmt.Errorf("heat recovery unit has no override %q", o.Field)
	}
	return nil
}

func (h *HeatRecoveryUnit) Overrides() []Override {
	return []Override{
		h.ManualOnOff.override("onoff", 0),
		h.ManualMode.override("mode", 0),
	}
}

func (h *HeatRecoveryUnit) State() interface{} {
	return HRUState{
		OnOff:         optBool(h.onoff),
		Mode:          h.current.String(),
		ModeCode:      int(h.current),
		FanSpeed:      h.fanSpeed.cur,
		Airflow:       h.airflow.cur,
		OutdoorDamper: h.outdoorDamper.cur,
		Recirculation: h.recirculation.cur,
		Bypass:        h.bypass.cur,
		Valve:         h.valve.cur,
		Alarm:         h.alarm.cur,
		ManualOnOff:   h.ManualOnOff,
		ManualMode:    h.ManualMode,
	}
}

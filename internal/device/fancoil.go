package device

import (
	"context"
	"fmt"
	"math"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

// Input domains of the values a fancoil accepts.
const (
	FancoilMinSetpoint = 10.0
	FancoilMaxSetpoint = 40.0
	FancoilMinTemp     = 0.0
	FancoilMaxTemp     = 50.0
	MaxFanSpeed        = 3
)

type FancoilCapabilities struct {
	OnOff       *model.Descriptor `json:"onoff_source"`
	Mode        *model.Descriptor `json:"mode_source"`
	Setpoint    *model.Descriptor `json:"setpoint_source"`
	Temperature *model.Descriptor `json:"temperature_source"`
	Valve       *model.Descriptor `json:"valve_source"`
	Alarm       *model.Descriptor `json:"alarm_source"`

	// Either one register taking 0..3 or one coil per speed.
	Speed      *model.Descriptor              `json:"speed_source"`
	SpeedCoils [MaxFanSpeed]*model.Descriptor `json:"speed_sources"`
	AutoSpeed  *float64                       `json:"auto_speed_code"`

	// RemoteOnOffModbus is the value selecting Modbus rather than a digital
	// input as the unit's on/off source.
	RemoteOnOff       *model.Descriptor `json:"remote_onoff_source"`
	RemoteOnOffModbus *float64          `json:"remote_onoff_value"`

	HeatingCode   *float64 `json:"heating_code"`
	CoolingCode   *float64 `json:"cooling_code"`
	CoolingOffset float64  `json:"cooling_offset"`
	HeatingOffset float64  `json:"heating_offset"`
}

type Fancoil struct {
	Base

	onoff       attr
	mode        modeAttr
	setpoint    attr
	temperature attr
	valve       attr
	alarm       attr
	speed       attr
	speedCoils  [MaxFanSpeed]attr
	remoteOnOff attr

	autoSpeed         *float64
	remoteOnOffModbus *float64
	coolingOffset     float64
	heatingOffset     float64

	currentSpeed *float64

	ManualOnOff Manual
	ManualSpeed Manual
}

type FancoilState struct {
	OnOff       *bool       `json:"onoff"`
	Mode        *model.Mode `json:"mode"`
	Setpoint    *float64    `json:"setpoint"`
	Temperature *float64    `json:"temperature"`
	Valve       *float64    `json:"valve"`
	Speed       *float64    `json:"speed"`
	Alarm       *float64    `json:"alarm"`
	ManualOnOff Manual      `json:"manual_onoff"`
	ManualSpeed Manual      `json:"manual_speed"`
}

func NewFancoil(base Base, caps FancoilCapabilities) *Fancoil {
	fc := &Fancoil{
		Base:              base,
		onoff:             bind(caps.OnOff),
		mode:              modeAttr{attr: bind(caps.Mode), codes: modeCodes(caps.HeatingCode, caps.CoolingCode)},
		setpoint:          bind(caps.Setpoint),
		temperature:       bind(caps.Temperature),
		valve:             bind(caps.Valve),
		alarm:             bind(caps.Alarm),
		speed:             bind(caps.Speed),
		remoteOnOff:       bind(caps.RemoteOnOff),
		autoSpeed:         caps.AutoSpeed,
		remoteOnOffModbus: caps.RemoteOnOffModbus,
		coolingOffset:     caps.CoolingOffset,
		heatingOffset:     caps.HeatingOffset,
	}
	for i, d := range caps.SpeedCoils {
		fc.speedCoils[i] = bind(d)
	}
	return fc
}

func (f *Fancoil) OnOff(ctx context.Context) (bool, bool) {
	v, ok := f.get(ctx, &f.onoff)
	return v != 0, ok
}

func (f *Fancoil) SetOnOff(ctx context.Context, on bool) bool {
	return f.setBool(ctx, "onoff", &f.onoff, on)
}

func (f *Fancoil) Mode(ctx context.Context) (model.Mode, bool) {
	return f.getMode(ctx, &f.mode)
}

func (f *Fancoil) SetMode(ctx context.Context, m model.Mode) bool {
	return f.setMode(ctx, &f.mode, m)
}

func (f *Fancoil) Setpoint(ctx context.Context) (float64, bool) {
	return f.get(ctx, &f.setpoint)
}

func (f *Fancoil) SetSetpoint(ctx context.Context, v float64) bool {
	return f.set(ctx, "setpoint", &f.setpoint, v, between(FancoilMinSetpoint, FancoilMaxSetpoint))
}

func (f *Fancoil) Temperature(ctx context.Context) (float64, bool) {
	return f.get(ctx, &f.temperature)
}

// SetTemperature feeds the room temperature to units without their own probe.
func (f *Fancoil) SetTemperature(ctx context.Context, v float64) bool {
	return f.set(ctx, "temperature", &f.temperature, v, between(FancoilMinTemp, FancoilMaxTemp))
}

// Speed reads the fan speed 0..3 from whichever speed source the model has.
func (f *Fancoil) Speed(ctx context.Context) (float64, bool) {
	if f.speed.configured() {
		v, ok := f.get(ctx, &f.speed)
		if ok {
			f.currentSpeed = model.Float(v)
		}
		return v, ok
	}
	speed, seen := 0.0, false
	for i := range f.speedCoils {
		v, ok := f.get(ctx, &f.speedCoils[i])
		if !ok {
			continue
		}
		seen = true
		if v != 0 {
			speed = float64(i + 1)
		}
	}
	if seen {
		f.currentSpeed = model.Float(speed)
	}
	return speed, seen
}

func (f *Fancoil) validSpeed(v float64) bool {
	if f.autoSpeed != nil && v == *f.autoSpeed {
		return true
	}
	return v == math.Trunc(v) && v >= 0 && v <= MaxFanSpeed
}

func (f *Fancoil) SetSpeed(ctx context.Context, v float64) bool {
	if f.speed.configured() {
		if !f.set(ctx, "speed", &f.speed, v, f.validSpeed) {
			return false
		}
		f.currentSpeed = model.Float(v)
		return true
	}
	if !f.validSpeed(v) || (f.autoSpeed != nil && v == *f.autoSpeed) {
		f.logger().Warn().Float64("speed", v).Msg("Invalid speed, keeping previous")
		return false
	}
	ok := true
	for i := range f.speedCoils {
		if !f.speedCoils[i].configured() {
			continue
		}
		ok = f.setBool(ctx, fmt.Sprintf("speed%d", i+1), &f.speedCoils[i], int(v) == i+1) && ok
	}
	if ok {
		f.currentSpeed = model.Float(v)
	}
	return ok
}

// AutoSpeed picks a speed from the distance to setpoint.
func AutoSpeed(temp, setpoint float64) float64 {
	d := math.Abs(temp - setpoint)
	switch {
	case d < 1:
		return 1
	case d < 2:
		return 2
	}
	return 3
}

func (f *Fancoil) offset(mode model.Mode) float64 {
	if mode == model.ModeCooling {
		return f.coolingOffset
	}
	return f.heatingOffset
}

func (f *Fancoil) Update(ctx context.Context, c Cycle) error {
	f.checkAlarm(ctx, &f.alarm)
	f.get(ctx, &f.valve)

	if f.remoteOnOffModbus != nil {
		if v, ok := f.get(ctx, &f.remoteOnOff); !ok || v != *f.remoteOnOffModbus {
			f.set(ctx, "remote_onoff", &f.remoteOnOff, *f.remoteOnOffModbus, nil)
		}
	}

	grp, ok := f.firstGroup(c)
	if !ok {
		return fmt.Errorf("fancoil %s has no group", f.info.Name)
	}
	agg := grp.Aggregate()

	on := agg.Demand != model.DemandNone
	if f.ManualOnOff.Active {
		on = f.ManualOnOff.Value != 0
	}
	if !on {
		f.SetOnOff(ctx, false)
		return nil
	}

	f.SetMode(ctx, agg.Mode)
	var setpoint, temp float64
	haveSp, haveTemp := false, false
	if agg.AirSetpoint != nil {
		setpoint, haveSp = *agg.AirSetpoint+f.offset(agg.Mode), true
		f.SetSetpoint(ctx, setpoint)
	}
	if agg.AirTemperature != nil {
		temp, haveTemp = *agg.AirTemperature, true
		f.SetTemperature(ctx, temp)
	}

	switch {
	case f.ManualSpeed.Active:
		f.SetSpeed(ctx, f.ManualSpeed.Value)
	case f.autoSpeed != nil && f.speed.configured():
		f.SetSpeed(ctx, *f.autoSpeed)
	case haveSp && haveTemp:
		f.SetSpeed(ctx, AutoSpeed(temp, setpoint))
	}

	if f.onoff.configured() && !f.SetOnOff(ctx, true) {
		return fmt.Errorf("fancoil %s: on/off write failed", f.info.Name)
	}
	return nil
}

func (f *Fancoil) SetOverride(o Override) error {
	switch o.Field {
	case "onoff":
		setManual(&f.ManualOnOff, o)
	case "speed":
		if o.Active && (o.Value != math.Trunc(o.Value) || o.Value < 0 || o.Value > MaxFanSpeed) {
			return fmt.Errorf("invalid fan speed %g", o.Value)
		}
		setManual(&f.ManualSpeed, o)
	default:
		return fmt.Errorf("fancoil has no override %q", o.Field)
	}
	return nil
}

func (f *Fancoil) Overrides() []Override {
	return []Override{
		f.ManualOnOff.override("onoff", 0),
		f.ManualSpeed.override("speed", 0),
	}
}

func (f *Fancoil) State() interface{} {
	return FancoilState{
		OnOff:       optBool(f.onoff),
		Mode:        f.mode.current(),
		Setpoint:    f.setpoint.cur,
		Temperature: f.temperature.cur,
		Valve:       f.valve.cur,
		Speed:       f.currentSpeed,
		Alarm:       f.alarm.cur,
		ManualOnOff: f.ManualOnOff,
		ManualSpeed: f.ManualSpeed,
	}
}

package device

import (
	"context"
	"fmt"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/psychro"
)

const MaxChannels = 12

type ChannelCapabilities struct {
	Setpoint      *model.Descriptor `json:"setpoint_source"`
	Temperature   *model.Descriptor `json:"temperature_source"`
	Humidity      *model.Descriptor `json:"humidity_source"`
	FloorTemp     *model.Descriptor `json:"floor_temperature_source"`
	Actuator      *model.Descriptor `json:"actuator_source"`
	CoolingEnable *model.Descriptor `json:"cooling_enable_source"`
}

type UFHCCapabilities struct {
	OnOff       *model.Descriptor     `json:"onoff_source"`
	Mode        *model.Descriptor     `json:"mode_source"`
	Channels    []ChannelCapabilities `json:"channels"`
	HeatingCode *float64              `json:"heating_code"`
	CoolingCode *float64              `json:"cooling_code"`
}

type Channel struct {
	setpoint      attr
	temperature   attr
	humidity      attr
	floorTemp     attr
	actuator      attr
	coolingEnable attr

	used     bool
	dewPoint *float64
	enthalpy *float64
}

type ChannelState struct {
	Channel          int      `json:"channel"`
	Setpoint         *float64 `json:"setpoint"`
	Temperature      *float64 `json:"temperature"`
	Humidity         *float64 `json:"humidity"`
	FloorTemperature *float64 `json:"floor_temperature"`
	Actuator         *float64 `json:"actuator"`
	CoolingEnabled   *bool    `json:"cooling_enabled"`
	DewPoint         *float64 `json:"dew_point"`
	Enthalpy         *float64 `json:"enthalpy"`
}

// UFHCController drives an underfloor manifold of up to 12 channels.
type UFHCController struct {
	Base

	onoff    attr
	mode     modeAttr
	channels []*Channel

	ManualOnOff Manual
}

type UFHCState struct {
	OnOff    *bool          `json:"onoff"`
	Mode     *model.Mode    `json:"mode"`
	Channels []ChannelState `json:"channels"`
}

func NewUFHCController(base Base, caps UFHCCapabilities) (*UFHCController, error) {
	if len(caps.Channels) > MaxChannels {
		return nil, fmt.Errorf("ufh controller supports %d channels, got %d", MaxChannels, len(caps.Channels))
	}
	u := &UFHCController{
		Base:  base,
		onoff: bind(caps.OnOff),
		mode:  modeAttr{attr: bind(caps.Mode), codes: modeCodes(caps.HeatingCode, caps.CoolingCode)},
	}
	for _, cc := range caps.Channels {
		u.channels = append(u.channels, &Channel{
			setpoint:      bind(cc.Setpoint),
			temperature:   bind(cc.Temperature),
			humidity:      bind(cc.Humidity),
			floorTemp:     bind(cc.FloorTemp),
			actuator:      bind(cc.Actuator),
			coolingEnable: bind(cc.CoolingEnable),
		})
	}
	return u, nil
}

// refreshChannel reads one channel. A channel that yields nothing is unused.
func (u *UFHCController) refreshChannel(ctx context.Context, ch *Channel, altitude float64) {
	_, sok := u.get(ctx, &ch.setpoint)
	t, tok := u.get(ctx, &ch.temperature)
	rh, hok := u.get(ctx, &ch.humidity)
	_, fok := u.get(ctx, &ch.floorTemp)
	_, aok := u.get(ctx, &ch.actuator)
	_, cok := u.get(ctx, &ch.coolingEnable)
	ch.used = sok || tok || hok || fok || aok || cok

	ch.dewPoint, ch.enthalpy = nil, nil
	if tok && hok && t > -100 && t < 100 {
		ch.dewPoint = model.OptFloat(psychro.DewPoint(t, rh))
		ch.enthalpy = model.OptFloat(psychro.Enthalpy(t, rh, altitude))
	}
}

// ChannelDewPoint is the dew point computed for channel i in the last update.
func (u *UFHCController) ChannelDewPoint(i int) (float64, bool) {
	if i < 0 || i >= len(u.channels) || u.channels[i].dewPoint == nil {
		return 0, false
	}
	return *u.channels[i].dewPoint, true
}

func (u *UFHCController) ChannelUsed(i int) bool {
	return i >= 0 && i < len(u.channels) && u.channels[i].used
}

func (u *UFHCController) SetOnOff(ctx context.Context, on bool) bool {
	return u.setBool(ctx, "onoff", &u.onoff, on)
}

func (u *UFHCController) SetMode(ctx context.Context, m model.Mode) bool {
	return u.setMode(ctx, &u.mode, m)
}

func (u *UFHCController) Update(ctx context.Context, c Cycle) error {
	grp, ok := u.firstGroup(c)
	if !ok {
		return fmt.Errorf("ufh controller %s has no group", u.info.Name)
	}
	agg := grp.Aggregate()

	for i, ch := range u.channels {
		u.refreshChannel(ctx, ch, c.Params.Altitude)
		if !ch.used {
			continue
		}
		if !ch.coolingEnable.configured() {
			continue
		}
		enable := agg.Mode == model.ModeCooling &&
			ch.dewPoint != nil &&
			agg.WaterSetpoint != nil &&
			*agg.WaterSetpoint > *ch.dewPoint
		u.setBool(ctx, fmt.Sprintf("ch%d_cooling_enable", i+1), &ch.coolingEnable, enable)
	}

	on := agg.Demand != model.DemandNone
	if u.ManualOnOff.Active {
		on = u.ManualOnOff.Value != 0
	}
	if on {
		u.SetMode(ctx, agg.Mode)
	}
	if u.onoff.configured() && !u.SetOnOff(ctx, on) {
		return fmt.Errorf("ufh controller %s: on/off write failed", u.info.Name)
	}
	return nil
}

func (u *UFHCController) SetOverride(o Override) error {
	if o.Field != "onoff" {
		return fmt.Errorf("ufh controller has no override %q", o.Field)
	}
	setManual(&u.ManualOnOff, o)
	return nil
}

func (u *UFHCController) Overrides() []Override {
	return []Override{u.ManualOnOff.override("onoff", 0)}
}

func (u *UFHCController) State() interface{} {
	s := UFHCState{OnOff: optBool(u.onoff), Mode: u.mode.current()}
	for i, ch := range u.channels {
		if !ch.used {
			continue
		}
		s.Channels = append(s.Channels, ChannelState{
			Channel:          i + 1,
			Setpoint:         ch.setpoint.cur,
			Temperature:      ch.temperature.cur,
			Humidity:         ch.humidity.cur,
			FloorTemperature: ch.floorTemp.cur,
			Actuator:         ch.actuator.cur,
			CoolingEnabled:   optBool(ch.coolingEnable),
			DewPoint:         ch.dewPoint,
			Enthalpy:         ch.enthalpy,
		})
	}
	return s
}

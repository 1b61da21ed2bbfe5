package device

import (
	"context"
	"fmt"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

const (
	ZoneCount       = 2
	ZoneMinSetpoint = 10.0
	ZoneMaxSetpoint = 35.0
	ZoneMinTemp     = 0.0
	ZoneMaxTemp     = 50.0
)

type ZoneCapabilities struct {
	OnOff       *model.Descriptor `json:"onoff_source"`
	Setpoint    *model.Descriptor `json:"setpoint_source"`
	Temperature *model.Descriptor `json:"temperature_source"`
	Damper      *model.Descriptor `json:"damper_source"`
}

type AirZoneCapabilities struct {
	OnOff         *model.Descriptor           `json:"onoff_source"`
	Mode          *model.Descriptor           `json:"mode_source"`
	Zones         [ZoneCount]ZoneCapabilities `json:"zones"`
	DamperOpen    *float64                    `json:"damper_open_value"`
	HeatingCode   *float64                    `json:"heating_code"`
	CoolingCode   *float64                    `json:"cooling_code"`
	CoolingOffset float64                     `json:"cooling_offset"`
	HeatingOffset float64                     `json:"heating_offset"`
}

type zone struct {
	rooms       []string
	onoff       attr
	setpoint    attr
	temperature attr
	damper      attr
	demand      model.Demand
}

type ZoneState struct {
	Rooms       []string     `json:"rooms"`
	Demand      model.Demand `json:"demand"`
	OnOff       *bool        `json:"onoff"`
	Setpoint    *float64     `json:"setpoint"`
	Temperature *float64     `json:"temperature"`
	Damper      *float64     `json:"damper"`
}

// AirZoneManager splits its single group into two damper-controlled zones.
type AirZoneManager struct {
	Base

	onoff         attr
	mode          modeAttr
	zones         [ZoneCount]*zone
	damperOpen    float64
	coolingOffset float64
	heatingOffset float64

	ManualOnOff Manual
}

type AirZoneState struct {
	OnOff *bool       `json:"onoff"`
	Mode  *model.Mode `json:"mode"`
	Zones []ZoneState `json:"zones"`
}

// NewAirZoneManager binds the manager. zoneRooms lists the room keys of each
// zone.
func NewAirZoneManager(base Base, caps AirZoneCapabilities, zoneRooms [ZoneCount][]string) *AirZoneManager {
	a := &AirZoneManager{
		Base:          base,
		onoff:         bind(caps.OnOff),
		mode:          modeAttr{attr: bind(caps.Mode), codes: modeCodes(caps.HeatingCode, caps.CoolingCode)},
		damperOpen:    1,
		coolingOffset: caps.CoolingOffset,
		heatingOffset: caps.HeatingOffset,
	}
	if caps.DamperOpen != nil {
		a.damperOpen = *caps.DamperOpen
	}
	for i, zc := range caps.Zones {
		a.zones[i] = &zone{
			rooms:       zoneRooms[i],
			onoff:       bind(zc.OnOff),
			setpoint:    bind(zc.Setpoint),
			temperature: bind(zc.Temperature),
			damper:      bind(zc.Damper),
			demand:      model.DemandNone,
		}
	}
	return a
}

func (a *AirZoneManager) zone(i int) (*zone, error) {
	if i < 0 || i >= ZoneCount {
		return nil, fmt.Errorf("zone %d out of range", i)
	}
	return a.zones[i], nil
}

func (a *AirZoneManager) SetOnOff(ctx context.Context, on bool) bool {
	return a.setBool(ctx, "onoff", &a.onoff, on)
}

func (a *AirZoneManager) Mode(ctx context.Context) (model.Mode, bool) {
	return a.getMode(ctx, &a.mode)
}

func (a *AirZoneManager) SetMode(ctx context.Context, m model.Mode) bool {
	return a.setMode(ctx, &a.mode, m)
}

func (a *AirZoneManager) ZoneSetpoint(ctx context.Context, i int) (float64, bool) {
	z, err := a.zone(i)
	if err != nil {
		return 0, false
	}
	return a.get(ctx, &z.setpoint)
}

func (a *AirZoneManager) SetZoneSetpoint(ctx context.Context, i int, v float64) bool {
	z, err := a.zone(i)
	if err != nil {
		return false
	}
	return a.set(ctx, fmt.Sprintf("zone%d_setpoint", i+1), &z.setpoint, v, between(ZoneMinSetpoint, ZoneMaxSetpoint))
}

func (a *AirZoneManager) SetZoneTemperature(ctx context.Context, i int, v float64) bool {
	z, err := a.zone(i)
	if err != nil {
		return false
	}
	return a.set(ctx, fmt.Sprintf("zone%d_temperature", i+1), &z.temperature, v, between(ZoneMinTemp, ZoneMaxTemp))
}

func (a *AirZoneManager) offset(mode model.Mode) float64 {
	if mode == model.ModeCooling {
		return a.coolingOffset
	}
	return a.heatingOffset
}

func (a *AirZoneManager) Update(ctx context.Context, c Cycle) error {
	grp, ok := a.firstGroup(c)
	if !ok {
		return fmt.Errorf("air zone manager %s has no group", a.info.Name)
	}
	mode := grp.Aggregate().Mode

	anyDemand := false
	for i, z := range a.zones {
		sub := grp.Subset(z.rooms, c.Outdoor)
		a.updateZone(ctx, i, z, sub)
		anyDemand = anyDemand || z.demand != model.DemandNone
	}

	on := anyDemand
	if a.ManualOnOff.Active {
		on = a.ManualOnOff.Value != 0
	}
	if on {
		a.SetMode(ctx, mode)
	}
	if a.onoff.configured() && !a.SetOnOff(ctx, on) {
		return fmt.Errorf("air zone manager %s: on/off write failed", a.info.Name)
	}
	return nil
}

func (a *AirZoneManager) updateZone(ctx context.Context, i int, z *zone, sub room.Aggregate) {
	z.demand = sub.Demand
	if sub.AirSetpoint != nil {
		a.SetZoneSetpoint(ctx, i, *sub.AirSetpoint+a.offset(sub.Mode))
	}
	if sub.AirTemperature != nil {
		a.SetZoneTemperature(ctx, i, *sub.AirTemperature)
	}
	active := z.demand != model.DemandNone
	if z.damper.configured() {
		v := 0.0
		if active {
			v = a.damperOpen
		}
		a.set(ctx, fmt.Sprintf("zone%d_damper", i+1), &z.damper, v, nil)
	}
	if z.onoff.configured() {
		a.setBool(ctx, fmt.Sprintf("zone%d_onoff", i+1), &z.onoff, active)
	}
}

func (a *AirZoneManager) SetOverride(o Override) error {
	if o.Field != "onoff" {
		return fmt.Errorf("air zone manager has no override %q", o.Field)
	}
	setManual(&a.ManualOnOff, o)
	return nil
}

func (a *AirZoneManager) Overrides() []Override {
	return []Override{a.ManualOnOff.override("onoff", 0)}
}

func (a *AirZoneManager) State() interface{} {
	s := AirZoneState{OnOff: optBool(a.onoff), Mode: a.mode.current()}
	for _, z := range a.zones {
		s.Zones = append(s.Zones, ZoneState{
			Rooms:       z.rooms,
			Demand:      z.demand,
			OnOff:       optBool(z.onoff),
			Setpoint:    z.setpoint.cur,
			Temperature: z.temperature.cur,
			Damper:      z.damper.cur,
		})
	}
	return s
}

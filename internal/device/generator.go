package device

import (
	"context"
	"fmt"
	"math"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

// GeneratorCapabilities binds a heat pump model's attributes to registers.
type GeneratorCapabilities struct {
	OnOff       *model.Descriptor `json:"onoff_source"`
	Mode        *model.Descriptor `json:"mode_source"`
	Setpoint    *model.Descriptor `json:"setpoint_source"`
	SupplyTemp  *model.Descriptor `json:"supply_temperature_source"`
	ReturnTemp  *model.Descriptor `json:"return_temperature_source"`
	Alarm       *model.Descriptor `json:"alarm_source"`
	HeatingCode *float64          `json:"heating_code"`
	CoolingCode *float64          `json:"cooling_code"`
}

// Generator is a heat source. It follows the water setpoint and mode of its
// group.
type Generator struct {
	Base

	onoff      attr
	mode       modeAttr
	setpoint   attr
	supplyTemp attr
	returnTemp attr
	alarm      attr

	minSupply float64
	maxSupply float64

	ManualOnOff    Manual
	ManualMode     Manual
	ManualSetpoint Manual
}

type GeneratorState struct {
	OnOff             *bool       `json:"onoff"`
	Mode              *model.Mode `json:"mode"`
	Setpoint          *float64    `json:"setpoint"`
	SupplyTemperature *float64    `json:"supply_temperature"`
	ReturnTemperature *float64    `json:"return_temperature"`
	Alarm             *float64    `json:"alarm"`
	ManualOnOff       Manual      `json:"manual_onoff"`
	ManualMode        Manual      `json:"manual_mode"`
	ManualSetpoint    Manual      `json:"manual_setpoint"`
}

// NewGenerator builds a generator whose setpoint writes are clamped to
// [minSupply, maxSupply].
func NewGenerator(base Base, caps GeneratorCapabilities, minSupply, maxSupply float64) *Generator {
	return &Generator{
		Base:       base,
		onoff:      bind(caps.OnOff),
		mode:       modeAttr{attr: bind(caps.Mode), codes: modeCodes(caps.HeatingCode, caps.CoolingCode)},
		setpoint:   bind(caps.Setpoint),
		supplyTemp: bind(caps.SupplyTemp),
		returnTemp: bind(caps.ReturnTemp),
		alarm:      bind(caps.Alarm),
		minSupply:  minSupply,
		maxSupply:  maxSupply,
	}
}

func (g *Generator) OnOff(ctx context.Context) (bool, bool) {
	v, ok := g.get(ctx, &g.onoff)
	return v != 0, ok
}

func (g *Generator) SetOnOff(ctx context.Context, on bool) bool {
	return g.setBool(ctx, "onoff", &g.onoff, on)
}

func (g *Generator) Mode(ctx context.Context) (model.Mode, bool) {
	return g.getMode(ctx, &g.mode)
}

func (g *Generator) SetMode(ctx context.Context, m model.Mode) bool {
	return g.setMode(ctx, &g.mode, m)
}

func (g *Generator) Setpoint(ctx context.Context) (float64, bool) {
	return g.get(ctx, &g.setpoint)
}

// SetSetpoint clamps v into the supply bounds before writing.
func (g *Generator) SetSetpoint(ctx context.Context, v float64) bool {
	if math.IsNaN(v) {
		g.logger().Warn().Msg("Invalid setpoint, keeping previous")
		return false
	}
	clamped := math.Min(math.Max(v, g.minSupply), g.maxSupply)
	if clamped != v {
		g.logger().Debug().Float64("requested", v).Float64("clamped", clamped).Msg("Setpoint clamped")
	}
	return g.set(ctx, "setpoint", &g.setpoint, clamped, nil)
}

func (g *Generator) SupplyTemperature(ctx context.Context) (float64, bool) {
	return g.get(ctx, &g.supplyTemp)
}

func (g *Generator) ReturnTemperature(ctx context.Context) (float64, bool) {
	return g.get(ctx, &g.returnTemp)
}

func (g *Generator) Update(ctx context.Context, c Cycle) error {
	g.checkAlarm(ctx, &g.alarm)
	g.SupplyTemperature(ctx)
	g.ReturnTemperature(ctx)

	on := false
	mode := model.SeasonalMode(c.Now)
	var setpoint *float64
	if grp, ok := g.firstGroup(c); ok {
		agg := grp.Aggregate()
		on = agg.Demand != model.DemandNone
		if agg.Mode.Valid() {
			mode = agg.Mode
		}
		setpoint = agg.WaterSetpoint
	}

	if g.ManualOnOff.Active {
		on = g.ManualOnOff.Value != 0
	}
	if g.ManualMode.Active {
		if m, ok := model.ModeFromCode(g.ManualMode.Value); ok {
			mode = m
		}
	}
	if g.ManualSetpoint.Active {
		setpoint = model.Float(g.ManualSetpoint.Value)
	}

	if on {
		g.SetMode(ctx, mode)
		if setpoint != nil {
			g.SetSetpoint(ctx, *setpoint)
		}
	}
	if g.onoff.configured() && !g.SetOnOff(ctx, on) {
		return fmt.Errorf("generator %s: on/off write failed", g.info.Name)
	}
	return nil
}

func (g *Generator) Stop(ctx context.Context) bool {
	return g.SetOnOff(ctx, false)
}

func (g *Generator) SetOverride(o Override) error {
	switch o.Field {
	case "onoff":
		setManual(&g.ManualOnOff, o)
	case "mode":
		if o.Active {
			if _, ok := model.ModeFromCode(o.Value); !ok {
				return fmt.Errorf("invalid mode code %g", o.Value)
			}
		}
		setManual(&g.ManualMode, o)
	case "setpoint":
		setManual(&g.ManualSetpoint, o)
	default:
		return fmt.Errorf("generator has no override %q", o.Field)
	}
	return nil
}

func (g *Generator) Overrides() []Override {
	return []Override{
		g.ManualOnOff.override("onoff", 0),
		g.ManualMode.override("mode", 0),
		g.ManualSetpoint.override("setpoint", 0),
	}
}

func (g *Generator) State() interface{} {
	return GeneratorState{
		OnOff:             optBool(g.onoff),
		Mode:              g.mode.current(),
		Setpoint:          g.setpoint.cur,
		SupplyTemperature: g.supplyTemp.cur,
		ReturnTemperature: g.returnTemp.cur,
		Alarm:             g.alarm.cur,
		ManualOnOff:       g.ManualOnOff,
		ManualMode:        g.ManualMode,
		ManualSetpoint:    g.ManualSetpoint,
	}
}

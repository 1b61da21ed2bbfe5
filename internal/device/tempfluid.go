package device

import (
	"context"
	"fmt"
	"math"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/registers"
)

const (
	MaxCircuits = 3

	// Supply temperatures outside this range stop the circuit pump.
	MinSafeSupply = 0.0
	MaxSafeSupply = 60.0
)

// CircuitCapabilities binds one circuit. ModeSetpoint is one holding register
// carrying the mode code in its high byte and the setpoint in its low byte.
type CircuitCapabilities struct {
	Pump         *model.Descriptor `json:"pump_source"`
	ModeSetpoint *model.Descriptor `json:"mode_setpoint_source"`
	SupplyTemp   *model.Descriptor `json:"supply_temperature_source"`
}

type TempFluidCapabilities struct {
	Circuits    []CircuitCapabilities `json:"circuits"`
	HeatingCode *float64              `json:"heating_code"`
	CoolingCode *float64              `json:"cooling_code"`
}

// Circuit is one independent hydronic circuit, served by its own group.
type Circuit struct {
	pump         attr
	modeSetpoint *model.Descriptor
	supplyTemp   attr

	mode     *model.Mode
	setpoint *float64

	ManualPump     Manual
	ManualMode     Manual
	ManualSetpoint Manual
}

type CircuitState struct {
	Pump              *bool       `json:"pump"`
	Mode              *model.Mode `json:"mode"`
	Setpoint          *float64    `json:"setpoint"`
	SupplyTemperature *float64    `json:"supply_temperature"`
	ManualPump        Manual      `json:"manual_pump"`
	ManualMode        Manual      `json:"manual_mode"`
	ManualSetpoint    Manual      `json:"manual_setpoint"`
}

type TempFluidController struct {
	Base

	circuits []*Circuit
	codes    ModeCodes
}

type TempFluidState struct {
	Circuits []CircuitState `json:"circuits"`
}

func NewTempFluidController(base Base, caps TempFluidCapabilities) (*TempFluidController, error) {
	if len(caps.Circuits) == 0 || len(caps.Circuits) > MaxCircuits {
		return nil, fmt.Errorf("temp fluid controller needs 1..%d circuits, got %d", MaxCircuits, len(caps.Circuits))
	}
	t := &TempFluidController{
		Base:  base,
		codes: modeCodes(caps.HeatingCode, caps.CoolingCode),
	}
	for _, cc := range caps.Circuits {
		t.circuits = append(t.circuits, &Circuit{
			pump:         bind(cc.Pump),
			modeSetpoint: cc.ModeSetpoint,
			supplyTemp:   bind(cc.SupplyTemp),
		})
	}
	return t, nil
}

func (t *TempFluidController) circuit(i int) (*Circuit, error) {
	if i < 0 || i >= len(t.circuits) {
		return nil, fmt.Errorf("circuit %d out of range 0..%d", i, len(t.circuits)-1)
	}
	return t.circuits[i], nil
}

func (t *TempFluidController) Circuits() int {
	return len(t.circuits)
}

func (t *TempFluidController) Pump(ctx context.Context, i int) (bool, bool) {
	c, err := t.circuit(i)
	if err != nil {
		return false, false
	}
	v, ok := t.get(ctx, &c.pump)
	return v != 0, ok
}

func (t *TempFluidController) SetPump(ctx context.Context, i int, on bool) bool {
	c, err := t.circuit(i)
	if err != nil {
		t.logger().Warn().Err(err).Msg("Invalid circuit")
		return false
	}
	return t.setBool(ctx, fmt.Sprintf("circuit%d_pump", i+1), &c.pump, on)
}

func (t *TempFluidController) SupplyTemperature(ctx context.Context, i int) (float64, bool) {
	c, err := t.circuit(i)
	if err != nil {
		return 0, false
	}
	return t.get(ctx, &c.supplyTemp)
}

func (t *TempFluidController) packed(ctx context.Context, c *Circuit) (registers.Packed, bool) {
	src, ok := registers.SourceFor(t.info.Bus, t.info.ID, c.modeSetpoint)
	if !ok {
		return registers.Packed{}, false
	}
	p, ok := t.regs.GetPacked(ctx, src)
	if !ok {
		return registers.Packed{}, false
	}
	if m, ok := t.codes.Decode(float64(p.High)); ok {
		c.mode = &m
	}
	c.setpoint = model.Float(float64(p.Low))
	return p, true
}

// Mode reads the high byte of the circuit's packed register.
func (t *TempFluidController) Mode(ctx context.Context, i int) (model.Mode, bool) {
	c, err := t.circuit(i)
	if err != nil {
		return "", false
	}
	p, ok := t.packed(ctx, c)
	if !ok {
		return "", false
	}
	return t.codes.Decode(float64(p.High))
}

// Setpoint reads the low byte of the circuit's packed register.
func (t *TempFluidController) Setpoint(ctx context.Context, i int) (float64, bool) {
	c, err := t.circuit(i)
	if err != nil {
		return 0, false
	}
	p, ok := t.packed(ctx, c)
	if !ok {
		return 0, false
	}
	return float64(p.Low), true
}

func (t *TempFluidController) SetMode(ctx context.Context, i int, m model.Mode) bool {
	c, err := t.circuit(i)
	if err != nil || !m.Valid() {
		t.logger().Warn().Int("circuit", i).Str("mode", string(m)).Msg("Invalid mode, keeping previous")
		return false
	}
	code := t.codes.Encode(m)
	if code < 0 || code > math.MaxUint8 {
		t.logger().Warn().Float64("code", code).Msg("Mode code does not fit a byte")
		return false
	}
	src, ok := registers.SourceFor(t.info.Bus, t.info.ID, c.modeSetpoint)
	if !ok {
		return false
	}
	if !t.regs.SetHalf(ctx, src, model.HalfHigh, uint8(code)) {
		t.logger().Warn().Int("circuit", i).Msg("Mode write failed, keeping previous")
		return false
	}
	c.mode = &m
	return true
}

func (t *TempFluidController) SetSetpoint(ctx context.Context, i int, v float64) bool {
	c, err := t.circuit(i)
	if err != nil || math.IsNaN(v) || v < MinSafeSupply || v > MaxSafeSupply {
		t.logger().Warn().Int("circuit", i).Float64("setpoint", v).Msg("Invalid setpoint, keeping previous")
		return false
	}
	src, ok := registers.SourceFor(t.info.Bus, t.info.ID, c.modeSetpoint)
	if !ok {
		return false
	}
	sp := math.Round(v)
	if !t.regs.SetHalf(ctx, src, model.HalfLow, uint8(sp)) {
		t.logger().Warn().Int("circuit", i).Msg("Setpoint write failed, keeping previous")
		return false
	}
	c.setpoint = model.Float(sp)
	return true
}

// safeSupply reports whether the circuit's supply temperature allows running
// its pump.
func (t *TempFluidController) safeSupply(ctx context.Context, i int) bool {
	v, ok := t.SupplyTemperature(ctx, i)
	return ok && v >= MinSafeSupply && v <= MaxSafeSupply
}

func (t *TempFluidController) Update(ctx context.Context, cyc Cycle) error {
	var failed []int
	for i, c := range t.circuits {
		if !t.updateCircuit(ctx, cyc, i, c) {
			failed = append(failed, i+1)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("temp fluid controller %s: circuits %v not applied", t.info.Name, failed)
	}
	return nil
}

func (t *TempFluidController) updateCircuit(ctx context.Context, cyc Cycle, i int, c *Circuit) bool {
	if !t.safeSupply(ctx, i) {
		t.logger().Warn().Int("circuit", i+1).Msg("Supply temperature missing or unsafe, stopping pump")
		return !c.pump.configured() || t.SetPump(ctx, i, false)
	}

	on := false
	mode := model.SeasonalMode(cyc.Now)
	var setpoint *float64
	if i < len(t.info.Groups) {
		if grp, ok := cyc.group(t.info.Groups[i]); ok {
			agg := grp.Aggregate()
			on = agg.Demand != model.DemandNone
			if agg.Mode.Valid() {
				mode = agg.Mode
			}
			setpoint = agg.WaterSetpoint
		}
	}

	if c.ManualPump.Active {
		on = c.ManualPump.Value != 0
	}
	if c.ManualMode.Active {
		if m, ok := model.ModeFromCode(c.ManualMode.Value); ok {
			mode = m
		}
	}
	if c.ManualSetpoint.Active {
		setpoint = model.Float(c.ManualSetpoint.Value)
	}

	ok := true
	if on && c.modeSetpoint != nil {
		t.packed(ctx, c)
		if c.mode == nil || *c.mode != mode {
			ok = t.SetMode(ctx, i, mode) && ok
		}
		if setpoint != nil && (c.setpoint == nil || *c.setpoint != math.Round(*setpoint)) {
			ok = t.SetSetpoint(ctx, i, *setpoint) && ok
		}
	}
	if c.pump.configured() {
		ok = t.SetPump(ctx, i, on) && ok
	}
	return ok
}

func (t *TempFluidController) Stop(ctx context.Context) bool {
	ok := true
	for i := range t.circuits {
		ok = t.SetPump(ctx, i, false) && ok
	}
	return ok
}

func (t *TempFluidController) SetOverride(o Override) error {
	c, err := t.circuit(o.Circuit)
	if err != nil {
		return err
	}
	switch o.Field {
	case "pump", "onoff":
		setManual(&c.ManualPump, o)
	case "mode":
		if o.Active {
			if _, ok := model.ModeFromCode(o.Value); !ok {
				return fmt.Errorf("invalid mode code %g", o.Value)
			}
		}
		setManual(&c.ManualMode, o)
	case "setpoint":
		setManual(&c.ManualSetpoint, o)
	default:
		return fmt.Errorf("temp fluid controller has no override %q", o.Field)
	}
	return nil
}

func (t *TempFluidController) Overrides() []Override {
	var out []Override
	for i, c := range t.circuits {
		out = append(out,
			c.ManualPump.override("pump", i),
			c.ManualMode.override("mode", i),
			c.ManualSetpoint.override("setpoint", i),
		)
	}
	return out
}

func (t *TempFluidController) State() interface{} {
	s := TempFluidState{Circuits: make([]CircuitState, 0, len(t.circuits))}
	for _, c := range t.circuits {
		s.Circuits = append(s.Circuits, CircuitState{
			Pump:              optBool(c.pump),
			Mode:              c.mode,
			Setpoint:          c.setpoint,
			SupplyTemperature: c.supplyTemp.cur,
			ManualPump:        c.ManualPump,
			ManualMode:        c.ManualMode,
			ManualSetpoint:    c.ManualSetpoint,
		})
	}
	return s
}

// Package device holds one control unit per device category. Every unit reads
// the aggregates of the room groups it serves and decides, once per cycle,
// what to write to its registers.
package device

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/notifications"
	"github.com/thatsimonsguy/modbus-hvac/internal/registers"
	"github.com/thatsimonsguy/modbus-hvac/internal/room"
)

// Registers is the register access a control unit needs.
type Registers interface {
	Get(ctx context.Context, src registers.Source) (float64, bool)
	Set(ctx context.Context, src registers.Source, value float64) bool
	GetPacked(ctx context.Context, src registers.Source) (registers.Packed, bool)
	SetHalf(ctx context.Context, src registers.Source, half model.Half, v uint8) bool
}

// Notify sends alarm notifications, overridable in tests.
var Notify = notifications.Alarm

type Info struct {
	Bus      int    `json:"bus"`
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	Category string `json:"category"`
	Groups   []int  `json:"groups"`
}

type Device interface {
	Info() Info
	// State is the JSON-encodable view of the cached attributes.
	State() interface{}
}

// Controller is a device with control behaviour.
type Controller interface {
	Device
	Update(ctx context.Context, c Cycle) error
}

// Poller is a device that only reports telemetry.
type Poller interface {
	Device
	Poll(ctx context.Context) error
}

// Stopper devices can be driven to a safe off state on shutdown.
type Stopper interface {
	Device
	Stop(ctx context.Context) bool
}

// Override replaces a computed target with an operator-provided value until
// it is deactivated.
type Override struct {
	Field   string  `json:"field"`
	Circuit int     `json:"circuit"`
	Active  bool    `json:"active"`
	Value   float64 `json:"value"`
}

type Overridable interface {
	Device
	SetOverride(o Override) error
	Overrides() []Override
}

// Manual is one override pair.
type Manual struct {
	Active bool    `json:"active"`
	Value  float64 `json:"value"`
}

func (m Manual) override(field string, circuit int) Override {
	return Override{Field: field, Circuit: circuit, Active: m.Active, Value: m.Value}
}

// Cycle is what every unit sees during one control cycle.
type Cycle struct {
	Groups  map[int]*room.Group
	Outdoor room.Outdoor
	Params  room.Params
	Now     time.Time
}

func (c Cycle) group(id int) (*room.Group, bool) {
	g, ok := c.Groups[id]
	return g, ok
}

// Base carries identity and register access shared by all categories.
type Base struct {
	info Info
	regs Registers

	alarmed bool
}

func NewBase(info Info, regs Registers) Base {
	return Base{info: info, regs: regs}
}

func (b *Base) Info() Info {
	return b.info
}

func (b *Base) logger() *zerolog.Logger {
	l := log.With().
		Int("bus", b.info.Bus).
		Int("device", b.info.ID).
		Str("name", b.info.Name).
		Logger()
	return &l
}

// firstGroup returns the aggregate of the unit's only group.
func (b *Base) firstGroup(c Cycle) (*room.Group, bool) {
	if len(b.info.Groups) == 0 {
		return nil, false
	}
	return c.group(b.info.Groups[0])
}

// attr is one register-bound attribute and its last known value.
type attr struct {
	desc *model.Descriptor
	cur  *float64
}

func bind(d *model.Descriptor) attr {
	return attr{desc: d}
}

func (a *attr) configured() bool {
	return a.desc != nil
}

func (a *attr) value() (float64, bool) {
	if a.cur == nil {
		return 0, false
	}
	return *a.cur, true
}

// get reads the attribute from the device and caches it. Unset attributes and
// failed reads give no value and leave the cache alone.
func (b *Base) get(ctx context.Context, a *attr) (float64, bool) {
	src, ok := registers.SourceFor(b.info.Bus, b.info.ID, a.desc)
	if !ok {
		return 0, false
	}
	v, ok := b.regs.Get(ctx, src)
	if !ok {
		return 0, false
	}
	a.cur = model.Float(v)
	return v, true
}

// set validates and writes v. The cache only moves on a successful write.
func (b *Base) set(ctx context.Context, name string, a *attr, v float64, valid func(float64) bool) bool {
	logger := b.logger()
	if !a.configured() {
		logger.Debug().Str("attr", name).Msg("Attribute not available on this model")
		return false
	}
	if math.IsNaN(v) || (valid != nil && !valid(v)) {
		logger.Warn().Str("attr", name).Float64("value", v).Msg("Invalid value, keeping previous")
		return false
	}
	src, _ := registers.SourceFor(b.info.Bus, b.info.ID, a.desc)
	if !b.regs.Set(ctx, src, v) {
		logger.Warn().Str("attr", name).Float64("value", v).Msg("Write failed, keeping previous")
		return false
	}
	a.cur = model.Float(v)
	return true
}

func (b *Base) setBool(ctx context.Context, name string, a *attr, on bool) bool {
	return b.set(ctx, name, a, boolValue(on), nil)
}

// checkAlarm notifies when the alarm flag goes from clear to raised.
func (b *Base) checkAlarm(ctx context.Context, a *attr) {
	v, ok := b.get(ctx, a)
	if !ok {
		return
	}
	raised := v != 0
	if raised && !b.alarmed {
		b.logger().Error().Float64("alarm", v).Msg("Device alarm raised")
		Notify(b.info.Name, fmt.Sprintf("bus %d device %d alarm code %g", b.info.Bus, b.info.ID, v))
	} else if !raised && b.alarmed {
		b.logger().Info().Msg("Device alarm cleared")
	}
	b.alarmed = raised
}

func boolValue(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

func between(lo, hi float64) func(float64) bool {
	return func(v float64) bool {
		return v >= lo && v <= hi
	}
}

// ModeCodes maps system modes to the vendor codes a model expects.
type ModeCodes struct {
	Heating float64
	Cooling float64
}

func modeCodes(heating, cooling *float64) ModeCodes {
	c := ModeCodes{Heating: model.CodeHeating, Cooling: model.CodeCooling}
	if heating != nil {
		c.Heating = *heating
	}
	if cooling != nil {
		c.Cooling = *cooling
	}
	return c
}

func (c ModeCodes) Encode(m model.Mode) float64 {
	if m == model.ModeCooling {
		return c.Cooling
	}
	return c.Heating
}

func (c ModeCodes) Decode(v float64) (model.Mode, bool) {
	switch v {
	case c.Heating:
		return model.ModeHeating, true
	case c.Cooling:
		return model.ModeCooling, true
	}
	return "", false
}

func (c ModeCodes) valid(v float64) bool {
	_, ok := c.Decode(v)
	return ok
}

// modeAttr is a mode register decoded through vendor codes.
type modeAttr struct {
	attr
	codes ModeCodes
}

func (b *Base) getMode(ctx context.Context, m *modeAttr) (model.Mode, bool) {
	v, ok := b.get(ctx, &m.attr)
	if !ok {
		return "", false
	}
	return m.codes.Decode(v)
}

func (b *Base) setMode(ctx context.Context, m *modeAttr, mode model.Mode) bool {
	if !mode.Valid() {
		b.logger().Warn().Str("mode", string(mode)).Msg("Invalid mode, keeping previous")
		return false
	}
	return b.set(ctx, "mode", &m.attr, m.codes.Encode(mode), m.codes.valid)
}

func (m *modeAttr) current() *model.Mode {
	v, ok := m.value()
	if !ok {
		return nil
	}
	mode, ok := m.codes.Decode(v)
	if !ok {
		return nil
	}
	return &mode
}

func optBool(a attr) *bool {
	v, ok := a.value()
	if !ok {
		return nil
	}
	on := v != 0
	return &on
}

func setManual(m *Manual, o Override) {
	m.Active = o.Active
	m.Value = o.Value
}

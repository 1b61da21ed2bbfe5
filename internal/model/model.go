package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type Mode string

const (
	ModeHeating Mode = "heating"
	ModeCooling Mode = "cooling"
)

// System-level mode codes as read from room thermostats and written by default
// to devices that do not declare vendor codes.
const (
	CodeHeating = 0
	CodeCooling = 1
)

// ModeFromCode maps a system mode code to a Mode.
func ModeFromCode(code float64) (Mode, bool) {
	switch int(code) {
	case CodeHeating:
		return ModeHeating, true
	case CodeCooling:
		return ModeCooling, true
	}
	return "", false
}

func (m Mode) Code() int {
	if m == ModeCooling {
		return CodeCooling
	}
	return CodeHeating
}

func (m Mode) Valid() bool {
	return m == ModeHeating || m == ModeCooling
}

// SeasonalMode is the fallback when no room reports a usable mode:
// cooling June through September, heating otherwise.
func SeasonalMode(now time.Time) Mode {
	if m := now.Month(); m >= time.June && m <= time.September {
		return ModeCooling
	}
	return ModeHeating
}

type Demand string

const (
	DemandNone    Demand = "none"
	DemandCooling Demand = "cooling"
	DemandHeating Demand = "heating"
)

// Datatype is the Modbus register table a descriptor points into.
type Datatype string

const (
	Coil            Datatype = "co"
	DiscreteInput   Datatype = "di"
	HoldingRegister Datatype = "hr"
	InputRegister   Datatype = "ir"
)

var Datatypes = []Datatype{Coil, DiscreteInput, HoldingRegister, InputRegister}

func (d Datatype) Valid() bool {
	switch d {
	case Coil, DiscreteInput, HoldingRegister, InputRegister:
		return true
	}
	return false
}

func (d Datatype) Writable() bool {
	return d == Coil || d == HoldingRegister
}

// Bit tables hold 0/1 values.
func (d Datatype) Bit() bool {
	return d == Coil || d == DiscreteInput
}

func (d *Datatype) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Datatype) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Datatype) set(s string) error {
	dt := Datatype(s)
	if !dt.Valid() {
		return fmt.Errorf("unknown datatype %q", s)
	}
	*d = dt
	return nil
}

// Half selects one byte of a register that multiplexes two values.
type Half string

const (
	HalfHigh Half = "high"
	HalfLow  Half = "low"
)

// Modbus slave addresses. 0 is broadcast and 248..255 are reserved.
const (
	MinDeviceID = 1
	MaxDeviceID = 247
)

func ValidDeviceID(id int) bool {
	return id >= MinDeviceID && id <= MaxDeviceID
}

// Descriptor locates a register on the device that owns it. A nil *Descriptor
// means the capability is not available on that brand/model.
type Descriptor struct {
	Datatype Datatype `json:"datatype" yaml:"datatype"`
	Address  int      `json:"address" yaml:"address"`
}

func (d *Descriptor) String() string {
	if d == nil {
		return "unset"
	}
	return fmt.Sprintf("%s:%d", d.Datatype, d.Address)
}

// Float returns a pointer to v, for optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}

// OptFloat converts a comma-ok reading to an optional field.
func OptFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func OptBool(v bool, ok bool) *bool {
	if !ok {
		return nil
	}
	return &v
}

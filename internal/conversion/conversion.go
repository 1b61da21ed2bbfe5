// Package conversion turns raw register values into physical quantities and back.
package conversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Func identifies one step of a conversion pipeline. The numeric ids are the
// ones used in register map documents.
type Func int

const (
	Mul10 Func = iota
	Div10
	Mul100
	Div100
	CelsiusToFahrenheit
	FahrenheitToCelsius
)

// intermediate results inside a multi-step pipeline are kept at this precision
const intermediatePrecision = 2

var ErrUnknownFunc = errors.New("unknown conversion function")

func (f Func) Valid() bool {
	return f >= Mul10 && f <= FahrenheitToCelsius
}

func (f Func) apply(v float64) (float64, error) {
	switch f {
	case Mul10:
		return v * 10, nil
	case Div10:
		return v / 10, nil
	case Mul100:
		return v * 100, nil
	case Div100:
		return v / 100, nil
	case CelsiusToFahrenheit:
		return v*9/5 + 32, nil
	case FahrenheitToCelsius:
		return (v - 32) * 5 / 9, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownFunc, int(f))
}

// Inverse returns the function that undoes f.
func (f Func) Inverse() Func {
	switch f {
	case Mul10:
		return Div10
	case Div10:
		return Mul10
	case Mul100:
		return Div100
	case Div100:
		return Mul100
	case CelsiusToFahrenheit:
		return FahrenheitToCelsius
	case FahrenheitToCelsius:
		return CelsiusToFahrenheit
	}
	return f
}

type Kind int

const (
	Float Kind = iota
	Int
)

// Pipeline is an ordered list of conversion steps. The zero value is the
// identity conversion.
type Pipeline []Func

// Apply runs v through every step. Every step but the last is rounded to two
// decimals; the final result is cast to kind, rounded to precision for Float.
func (p Pipeline) Apply(v float64, kind Kind, precision int) (float64, error) {
	var err error
	for i, f := range p {
		v, err = f.apply(v)
		if err != nil {
			return 0, err
		}
		if i < len(p)-1 {
			v = Round(v, intermediatePrecision)
		}
	}
	return cast(v, kind, precision), nil
}

// Inverse returns the write-side pipeline: the inverted steps in reverse order.
func (p Pipeline) Inverse() Pipeline {
	inv := make(Pipeline, len(p))
	for i, f := range p {
		inv[len(p)-1-i] = f.Inverse()
	}
	return inv
}

func (p Pipeline) Validate() error {
	for _, f := range p {
		if !f.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownFunc, int(f))
		}
	}
	return nil
}

// UnmarshalJSON accepts a single function id, a list of ids, or null.
func (p *Pipeline) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		*p = nil
		return nil
	}
	var single int
	if err := json.Unmarshal(b, &single); err == nil {
		*p = Pipeline{Func(single)}
		return nil
	}
	var list []int
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("conversion must be an int or a list of ints: %w", err)
	}
	*p = fromInts(list)
	return nil
}

func (p *Pipeline) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single int
	if err := unmarshal(&single); err == nil {
		*p = Pipeline{Func(single)}
		return nil
	}
	var list []int
	if err := unmarshal(&list); err != nil {
		return fmt.Errorf("conversion must be an int or a list of ints: %w", err)
	}
	*p = fromInts(list)
	return nil
}

func fromInts(list []int) Pipeline {
	p := make(Pipeline, 0, len(list))
	for _, id := range list {
		p = append(p, Func(id))
	}
	return p
}

// Convert parses value (number or numeric string) and applies the pipeline.
// Unparseable input or an unknown step yields no value and is logged.
func Convert(value interface{}, p Pipeline, kind Kind, precision int) (float64, bool) {
	v, ok := ParseNumber(value)
	if !ok {
		log.Warn().Interface("value", value).Msg("Cannot convert non-numeric value")
		return 0, false
	}
	out, err := p.Apply(v, kind, precision)
	if err != nil {
		log.Warn().Err(err).Float64("value", v).Msg("Conversion failed")
		return 0, false
	}
	return out, true
}

func ParseNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return ParseNumber(f)
	}
	return 0, false
}

func Round(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

func cast(v float64, kind Kind, precision int) float64 {
	if kind == Int {
		return math.Round(v)
	}
	return Round(v, precision)
}

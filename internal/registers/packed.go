package registers

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
)

// Packed is one holding register carrying two byte-sized values.
type Packed struct {
	High uint8
	Low  uint8
}

func FromRaw(raw uint16) Packed {
	return Packed{High: uint8(raw >> 8), Low: uint8(raw)}
}

func (p Packed) Raw() uint16 {
	return uint16(p.High)<<8 | uint16(p.Low)
}

func (p Packed) Half(h model.Half) uint8 {
	if h == model.HalfHigh {
		return p.High
	}
	return p.Low
}

// With returns p with one half replaced.
func (p Packed) With(h model.Half, v uint8) Packed {
	if h == model.HalfHigh {
		p.High = v
	} else {
		p.Low = v
	}
	return p
}

// GetPacked reads src and splits it into its two halves. Packed registers carry
// raw bytes, no conversion is applied.
func (f *Facade) GetPacked(ctx context.Context, src Source) (Packed, bool) {
	bus, dev, _, err := f.resolve(src)
	if err != nil {
		log.Debug().Err(err).Msg("Register not resolvable")
		return Packed{}, false
	}
	k := cacheKey{src.Datatype, src.Address}
	if raw, ok := f.cached(dev, k); ok {
		return FromRaw(raw), true
	}
	values, err := bus.Read(ctx, uint8(src.Device), transport.ReadCode(src.Datatype), uint16(src.Address), 1)
	if err != nil {
		log.Warn().Err(err).Str("source", src.String()).Msg("Packed register read failed")
		return Packed{}, false
	}
	f.store(dev, k, values[0])
	return FromRaw(values[0]), true
}

// SetHalf replaces one byte of src and leaves the other as the device
// currently holds it. The current value is always read from the bus, never
// from the cycle cache.
func (f *Facade) SetHalf(ctx context.Context, src Source, half model.Half, v uint8) bool {
	logger := log.With().Str("source", src.String()).Str("half", string(half)).Uint8("value", v).Logger()
	if src.Datatype != model.HoldingRegister {
		logger.Warn().Msg("Packed values live in holding registers")
		return false
	}
	bus, dev, _, err := f.resolve(src)
	if err != nil {
		logger.Warn().Err(err).Msg("Register not resolvable")
		return false
	}

	values, err := bus.Read(ctx, uint8(src.Device), transport.ReadHoldingRegisters, uint16(src.Address), 1)
	if err != nil {
		logger.Warn().Err(err).Msg("Packed register read failed, not writing")
		return false
	}
	next := FromRaw(values[0]).With(half, v)
	if err := f.write(ctx, bus, dev, src, next.Raw()); err != nil {
		logger.Warn().Err(err).Msg("Packed register write failed")
		return false
	}
	return true
}

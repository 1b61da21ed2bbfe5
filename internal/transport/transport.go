// Package transport provides the read/write primitives of a physical Modbus
// bus. Everything above it speaks in register values, never in frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

type FunctionCode uint8

const (
	ReadCoils              FunctionCode = 1
	ReadDiscreteInputs     FunctionCode = 2
	ReadHoldingRegisters   FunctionCode = 3
	ReadInputRegisters     FunctionCode = 4
	WriteSingleCoil        FunctionCode = 5
	WriteSingleRegister    FunctionCode = 6
	WriteMultipleCoils     FunctionCode = 15
	WriteMultipleRegisters FunctionCode = 16
)

var (
	ErrBusClosed       = errors.New("bus closed")
	ErrUnsupportedCode = errors.New("unsupported function code")
)

func (fc FunctionCode) String() string {
	switch fc {
	case ReadCoils:
		return "read_coils"
	case ReadDiscreteInputs:
		return "read_discrete_inputs"
	case ReadHoldingRegisters:
		return "read_holding_registers"
	case ReadInputRegisters:
		return "read_input_registers"
	case WriteSingleCoil:
		return "write_single_coil"
	case WriteSingleRegister:
		return "write_single_register"
	case WriteMultipleCoils:
		return "write_multiple_coils"
	case WriteMultipleRegisters:
		return "write_multiple_registers"
	}
	return fmt.Sprintf("fc_%d", uint8(fc))
}

// ReadCode returns the read function code for a register table.
func ReadCode(dt model.Datatype) FunctionCode {
	switch dt {
	case model.Coil:
		return ReadCoils
	case model.DiscreteInput:
		return ReadDiscreteInputs
	case model.InputRegister:
		return ReadInputRegisters
	}
	return ReadHoldingRegisters
}

// Client is the wire primitive of one bus. Bit tables carry 0/1 values.
// Implementations are not safe for concurrent use; Bus serializes them.
type Client interface {
	Read(slave uint8, fc FunctionCode, start, count uint16) ([]uint16, error)
	Write(slave uint8, fc FunctionCode, addr, value uint16) error
	Close() error
}

// Bus serializes every request to one half-duplex line. Waiting for the line
// honours ctx.
type Bus struct {
	ID      int
	client  Client
	line    chan struct{}
	metrics *Metrics
	closed  atomic.Bool
}

func NewBus(id int, client Client, metrics *Metrics) *Bus {
	return &Bus{
		ID:      id,
		client:  client,
		line:    make(chan struct{}, 1),
		metrics: metrics,
	}
}

func (b *Bus) acquire(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.line <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) release() {
	<-b.line
}

func (b *Bus) Read(ctx context.Context, slave uint8, fc FunctionCode, start, count uint16) ([]uint16, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	began := time.Now()
	values, err := b.client.Read(slave, fc, start, count)
	b.metrics.observe(b.ID, fc, began, err)
	if err != nil {
		log.Debug().
			Err(err).
			Int("bus", b.ID).
			Uint8("device", slave).
			Str("op", fc.String()).
			Uint16("start", start).
			Uint16("count", count).
			Msg("Modbus read failed")
		return nil, fmt.Errorf("bus %d device %d %s %d+%d: %w", b.ID, slave, fc, start, count, err)
	}
	if len(values) < int(count) {
		return nil, fmt.Errorf("bus %d device %d %s: short response %d of %d", b.ID, slave, fc, len(values), count)
	}
	return values[:count], nil
}

func (b *Bus) Write(ctx context.Context, slave uint8, fc FunctionCode, addr, value uint16) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	began := time.Now()
	err := b.client.Write(slave, fc, addr, value)
	b.metrics.observe(b.ID, fc, began, err)
	if err != nil {
		return fmt.Errorf("bus %d device %d %s %d: %w", b.ID, slave, fc, addr, err)
	}
	return nil
}

func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

// registers decodes big-endian register payloads.
func registers(b []byte, count uint16) []uint16 {
	out := make([]uint16, 0, count)
	for i := 0; i+1 < len(b) && len(out) < int(count); i += 2 {
		out = append(out, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return out
}

// bits decodes a packed coil/discrete-input payload, least significant bit first.
func bits(b []byte, count uint16) []uint16 {
	out := make([]uint16, 0, count)
	for i := 0; i < int(count) && i/8 < len(b); i++ {
		out = append(out, uint16(b[i/8]>>(uint(i)%8)&1))
	}
	return out
}

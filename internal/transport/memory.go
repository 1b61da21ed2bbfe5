package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

var (
	ErrIllegalAddress = errors.New("illegal data address")
	ErrNoResponse     = errors.New("no response from device")
)

// Memory is an in-process bus used for simulation and tests. Reading an
// address that was never set answers like a device would: illegal address.
type Memory struct {
	mu      sync.Mutex
	tables  map[uint8]map[model.Datatype]map[uint16]uint16
	offline map[uint8]bool
	reads   int
	writes  int
}

func NewMemory() *Memory {
	return &Memory{
		tables:  map[uint8]map[model.Datatype]map[uint16]uint16{},
		offline: map[uint8]bool{},
	}
}

func (m *Memory) Set(slave uint8, dt model.Datatype, addr uint16, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(slave, dt)[addr] = value
}

func (m *Memory) Get(slave uint8, dt model.Datatype, addr uint16) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tables[slave][dt][addr]
	return v, ok
}

// SetOffline makes every request to slave time out.
func (m *Memory) SetOffline(slave uint8, offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline[slave] = offline
}

// Requests returns how many reads and writes were served.
func (m *Memory) Requests() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

func (m *Memory) table(slave uint8, dt model.Datatype) map[uint16]uint16 {
	if m.tables[slave] == nil {
		m.tables[slave] = map[model.Datatype]map[uint16]uint16{}
	}
	if m.tables[slave][dt] == nil {
		m.tables[slave][dt] = map[uint16]uint16{}
	}
	return m.tables[slave][dt]
}

func (m *Memory) Read(slave uint8, fc FunctionCode, start, count uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.offline[slave] {
		return nil, ErrNoResponse
	}

	var dt model.Datatype
	switch fc {
	case ReadCoils:
		dt = model.Coil
	case ReadDiscreteInputs:
		dt = model.DiscreteInput
	case ReadHoldingRegisters:
		dt = model.HoldingRegister
	case ReadInputRegisters:
		dt = model.InputRegister
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
	}

	table := m.tables[slave][dt]
	out := make([]uint16, 0, count)
	for i := uint16(0); i < count; i++ {
		v, ok := table[start+i]
		if !ok {
			return nil, fmt.Errorf("%w: %s %d", ErrIllegalAddress, dt, start+i)
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) Write(slave uint8, fc FunctionCode, addr, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.offline[slave] {
		return ErrNoResponse
	}
	switch fc {
	case WriteSingleCoil, WriteMultipleCoils:
		if value != 0 {
			value = 1
		}
		m.table(slave, model.Coil)[addr] = value
	case WriteSingleRegister, WriteMultipleRegisters:
		m.table(slave, model.HoldingRegister)[addr] = value
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

package transport

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// RTUConfig describes a serial RS-485 line.
// Parity values => N (None), E (Even), O (Odd)
type RTUConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

type rtuClient struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// NewRTU opens a serial line. Unset fields keep the goburrow/serial defaults.
func NewRTU(cfg RTUConfig) (Client, error) {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	if cfg.BaudRate != 0 {
		handler.BaudRate = cfg.BaudRate
	}
	if cfg.DataBits != 0 {
		handler.DataBits = cfg.DataBits
	}
	if cfg.StopBits != 0 {
		handler.StopBits = cfg.StopBits
	}
	if cfg.Parity != "" {
		handler.Parity = cfg.Parity
	}
	if cfg.Timeout != 0 {
		handler.Timeout = cfg.Timeout
	}
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("unable to open serial port %s: %w", cfg.Port, err)
	}
	return &rtuClient{handler: handler, client: modbus.NewClient(handler)}, nil
}

func (c *rtuClient) Read(slave uint8, fc FunctionCode, start, count uint16) ([]uint16, error) {
	c.handler.SlaveId = slave
	switch fc {
	case ReadCoils:
		b, err := c.client.ReadCoils(start, count)
		if err != nil {
			return nil, err
		}
		return bits(b, count), nil
	case ReadDiscreteInputs:
		b, err := c.client.ReadDiscreteInputs(start, count)
		if err != nil {
			return nil, err
		}
		return bits(b, count), nil
	case ReadHoldingRegisters:
		b, err := c.client.ReadHoldingRegisters(start, count)
		if err != nil {
			return nil, err
		}
		return registers(b, count), nil
	case ReadInputRegisters:
		b, err := c.client.ReadInputRegisters(start, count)
		if err != nil {
			return nil, err
		}
		return registers(b, count), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
}

func (c *rtuClient) Write(slave uint8, fc FunctionCode, addr, value uint16) error {
	c.handler.SlaveId = slave
	var err error
	switch fc {
	case WriteSingleCoil:
		coil := uint16(0x0000)
		if value != 0 {
			coil = 0xFF00
		}
		_, err = c.client.WriteSingleCoil(addr, coil)
	case WriteMultipleCoils:
		_, err = c.client.WriteMultipleCoils(addr, 1, []byte{byte(value & 1)})
	case WriteSingleRegister:
		_, err = c.client.WriteSingleRegister(addr, value)
	case WriteMultipleRegisters:
		_, err = c.client.WriteMultipleRegisters(addr, 1, []byte{byte(value >> 8), byte(value)})
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
	}
	return err
}

func (c *rtuClient) Close() error {
	return c.handler.Close()
}

package transport

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

// TCPConfig describes a Modbus TCP gateway, e.g. "tcp://10.0.0.20:502".
type TCPConfig struct {
	URL     string
	Timeout time.Duration
}

type tcpClient struct {
	client *modbus.ModbusClient
}

func NewTCP(cfg TCPConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     cfg.URL,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid modbus gateway %s: %w", cfg.URL, err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", cfg.URL, err)
	}
	return &tcpClient{client: client}, nil
}

func (c *tcpClient) Read(slave uint8, fc FunctionCode, start, count uint16) ([]uint16, error) {
	if err := c.client.SetUnitId(slave); err != nil {
		return nil, err
	}
	switch fc {
	case ReadCoils:
		v, err := c.client.ReadCoils(start, count)
		if err != nil {
			return nil, err
		}
		return fromBools(v), nil
	case ReadDiscreteInputs:
		v, err := c.client.ReadDiscreteInputs(start, count)
		if err != nil {
			return nil, err
		}
		return fromBools(v), nil
	case ReadHoldingRegisters:
		return c.client.ReadRegisters(start, count, modbus.HOLDING_REGISTER)
	case ReadInputRegisters:
		return c.client.ReadRegisters(start, count, modbus.INPUT_REGISTER)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
}

func (c *tcpClient) Write(slave uint8, fc FunctionCode, addr, value uint16) error {
	if err := c.client.SetUnitId(slave); err != nil {
		return err
	}
	switch fc {
	case WriteSingleCoil:
		return c.client.WriteCoil(addr, value != 0)
	case WriteMultipleCoils:
		return c.client.WriteCoils(addr, []bool{value != 0})
	case WriteSingleRegister:
		return c.client.WriteRegister(addr, value)
	case WriteMultipleRegisters:
		return c.client.WriteRegisters(addr, []uint16{value})
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedCode, fc)
}

func (c *tcpClient) Close() error {
	return c.client.Close()
}

func fromBools(v []bool) []uint16 {
	out := make([]uint16, len(v))
	for i, b := range v {
		if b {
			out[i] = 1
		}
	}
	return out
}

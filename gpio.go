package main

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/mcp23xxx"
	"periph.io/x/host/v3"
)

// GPIOBank reads groups of input pins as ports. Bit i of a port is pin i
// of its group; missing pins read as 0.
type GPIOBank struct {
	ports [][]gpio.PinIO
}

// OpenGPIOBank looks up every pin by name and configures it as an input
// with pull-up, so an idle switch reads high.
func OpenGPIOBank(groups [][]string) (*GPIOBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host init: %w", err)
	}
	ports := make([][]gpio.PinIO, len(groups))
	for i, names := range groups {
		for _, name := range names {
			p := gpioreg.ByName(name)
			if p == nil {
				return nil, fmt.Errorf("gpio: no pin named %q", name)
			}
			ports[i] = append(ports[i], p)
		}
	}
	return newGPIOBank(ports)
}

func newGPIOBank(ports [][]gpio.PinIO) (*GPIOBank, error) {
	for _, group := range ports {
		for _, p := range group {
			if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
				return nil, fmt.Errorf("gpio: configure %s: %w", p.Name(), err)
			}
			logger.Debug("gpio: input configured", "pin", p.Name())
		}
	}
	return &GPIOBank{ports: ports}, nil
}

// ReadPorts samples every pin once.
func (g *GPIOBank) ReadPorts() ([]byte, error) {
	out := make([]byte, len(g.ports))
	for i, group := range g.ports {
		for bit, p := range group {
			if p.Read() == gpio.High {
				out[i] |= 1 << bit
			}
		}
	}
	return out, nil
}

// GPIOLEDs drives status LEDs on output pins, LED1 first.
type GPIOLEDs struct {
	pins []gpio.PinIO
}

// OpenGPIOLEDs looks up the LED pins by name.
func OpenGPIOLEDs(names []string) (*GPIOLEDs, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host init: %w", err)
	}
	pins := make([]gpio.PinIO, 0, len(names))
	for _, name := range names {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio: no led pin named %q", name)
		}
		pins = append(pins, p)
	}
	return &GPIOLEDs{pins: pins}, nil
}

func (l *GPIOLEDs) SetLEDs(mask LEDMask) error {
	for i, p := range l.pins {
		if err := p.Out(gpio.Level(mask&(1<<i) != 0)); err != nil {
			return fmt.Errorf("gpio: led %s: %w", p.Name(), err)
		}
	}
	return nil
}

// MCPBank reads the GPA and GPB banks of an MCP23017 as up to two ports.
type MCPBank struct {
	*GPIOBank
	bus i2c.BusCloser
	dev *mcp23xxx.Dev
}

// OpenMCPBank opens the I2C bus and the expander at addr. ports is 1 or 2.
func OpenMCPBank(busName string, addr uint16, ports int) (*MCPBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mcp: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("mcp: open bus %q: %w", busName, err)
	}
	dev, err := mcp23xxx.NewI2C(bus, mcp23xxx.MCP23017, addr)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("mcp: open device 0x%02X: %w", addr, err)
	}
	if ports > len(dev.Pins) {
		_ = dev.Close()
		_ = bus.Close()
		return nil, fmt.Errorf("%w: expander has %d ports, want %d", ErrPortCount, len(dev.Pins), ports)
	}

	groups := make([][]gpio.PinIO, ports)
	for i := range groups {
		for _, p := range dev.Pins[i] {
			groups[i] = append(groups[i], p)
		}
	}
	bank, err := newGPIOBank(groups)
	if err != nil {
		_ = dev.Close()
		_ = bus.Close()
		return nil, err
	}
	logger.Info("mcp: expander opened", "bus", busName, "address", fmt.Sprintf("0x%02X", addr), "ports", ports)
	return &MCPBank{GPIOBank: bank, bus: bus, dev: dev}, nil
}

// Close releases the expander and its bus.
func (m *MCPBank) Close() error {
	err := m.dev.Close()
	if berr := m.bus.Close(); err == nil {
		err = berr
	}
	return err
}

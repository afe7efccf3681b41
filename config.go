package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Input sources.
const (
	SourceSerial = "serial"
	SourceGPIO   = "gpio"
	SourceMCP    = "mcp23017"
)

const bitsPerPort = 8

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// PortConfig names one monitored 8-bit input port and the CC offset of its
// bit 0.
type PortConfig struct {
	Name   string `json:"name"`
	Offset byte   `json:"offset"`
}

// SerialConfig locates the input board on a serial line.
type SerialConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// GPIOConfig lists periph pin names: one slice of up to eight pins per
// port (bit 0 first), and up to four LED pins.
type GPIOConfig struct {
	Pins [][]string `json:"pins,omitempty"`
	LEDs []string   `json:"leds,omitempty"`
}

// MCPConfig locates an MCP23017 expander. Its GPA and GPB banks map to the
// first and second configured port.
type MCPConfig struct {
	Bus     string `json:"bus,omitempty"` // i2creg name, empty for the first bus
	Address uint16 `json:"address"`
}

// MIDIConfig selects system MIDI ports by case-insensitive substring.
type MIDIConfig struct {
	OutPatterns []string `json:"out_patterns,omitempty"`
	InPatterns  []string `json:"in_patterns,omitempty"`
}

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Channel        byte         `json:"channel"`
	CCBase         byte         `json:"cc_base"`
	Ports          []PortConfig `json:"ports"`
	DebounceMS     uint32       `json:"debounce_ms"`
	SettleMS       uint32       `json:"settle_ms"`
	PollIntervalMS uint32       `json:"poll_interval_ms"`
	Source         string       `json:"source"`
	Serial         SerialConfig `json:"serial"`
	GPIO           GPIOConfig   `json:"gpio"`
	MCP            MCPConfig    `json:"mcp"`
	MIDI           MIDIConfig   `json:"midi"`
}

// DefaultConfig mirrors the two-port board: port B on CC 0-7, port D on
// CC 8-15, channel 0, 30 ms debounce.
func DefaultConfig() *Config {
	return &Config{
		Channel: 0,
		CCBase:  CCBase,
		Ports: []PortConfig{
			{Name: "B", Offset: 0},
			{Name: "D", Offset: 8},
		},
		DebounceMS:     30,
		SettleMS:       100,
		PollIntervalMS: 1,
		Source:         SourceSerial,
		Serial: SerialConfig{
			Device: "/dev/ttyACM0",
			Baud:   115200,
		},
		MCP: MCPConfig{Address: 0x20},
		MIDI: MIDIConfig{
			OutPatterns: []string{"pincc"},
			InPatterns:  []string{"pincc"},
		},
	}
}

// LoadConfig reads a JSON config file over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the ranges the CC encoder relies on.
func (c *Config) Validate() error {
	if c.Channel > 15 {
		return fmt.Errorf("%w: channel %d out of range 0-15", ErrInvalidConfig, c.Channel)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("%w: no ports configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("%w: port with empty name", ErrInvalidConfig)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate port %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
		if top := int(c.CCBase) + int(p.Offset) + bitsPerPort - 1; top > DataMask {
			return fmt.Errorf("%w: port %q reaches controller %d (max %d)", ErrInvalidConfig, p.Name, top, DataMask)
		}
	}

	switch c.Source {
	case SourceSerial:
		if c.Serial.Device == "" || c.Serial.Baud <= 0 {
			return fmt.Errorf("%w: serial source needs device and baud", ErrInvalidConfig)
		}
	case SourceGPIO:
		if len(c.GPIO.Pins) != len(c.Ports) {
			return fmt.Errorf("%w: gpio has %d pin groups for %d ports", ErrInvalidConfig, len(c.GPIO.Pins), len(c.Ports))
		}
		for i, group := range c.GPIO.Pins {
			if len(group) == 0 || len(group) > bitsPerPort {
				return fmt.Errorf("%w: gpio port %q needs 1-8 pins, has %d", ErrInvalidConfig, c.Ports[i].Name, len(group))
			}
		}
		if len(c.GPIO.LEDs) > 4 {
			return fmt.Errorf("%w: at most 4 gpio leds", ErrInvalidConfig)
		}
	case SourceMCP:
		if len(c.Ports) > 2 {
			return fmt.Errorf("%w: mcp23017 has 2 ports, %d configured", ErrInvalidConfig, len(c.Ports))
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}
	return nil
}

func (c *Config) Debounce() time.Duration     { return time.Duration(c.DebounceMS) * time.Millisecond }
func (c *Config) Settle() time.Duration       { return time.Duration(c.SettleMS) * time.Millisecond }
func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalMS) * time.Millisecond }

package main

import (
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

// LEDMask has one bit per status LED, LED1 in bit 0.
type LEDMask byte

const (
	LED1 LEDMask = 1 << iota
	LED2
	LED3
	LED4

	LEDsOff LEDMask = 0
)

// LEDDriver lights the status LEDs described by mask and turns the rest off.
type LEDDriver interface {
	SetLEDs(mask LEDMask) error
}

// LinkState is the lifecycle of the MIDI output connection.
type LinkState int

const (
	LinkNotReady LinkState = iota
	LinkEnumerating
	LinkReady
	LinkError
)

func (s LinkState) String() string {
	switch s {
	case LinkNotReady:
		return "not-ready"
	case LinkEnumerating:
		return "enumerating"
	case LinkReady:
		return "ready"
	case LinkError:
		return "error"
	}
	return "unknown"
}

// StatusMask returns the LED pattern for a link state.
func StatusMask(s LinkState) LEDMask {
	switch s {
	case LinkEnumerating:
		return LED2 | LED3
	case LinkReady:
		return LED2 | LED4
	case LinkError:
		return LED1 | LED3
	default:
		return LED1
	}
}

// NoteMask returns the LED pattern for an incoming message: a sounding
// Note-On lights LED1 for keys above 64 and LED2 otherwise; anything else
// clears the LEDs.
func NoteMask(msg midi.Message) LEDMask {
	var ch, key, vel uint8
	if msg.GetNoteOn(&ch, &key, &vel) && vel > 0 {
		if key > 64 {
			return LED1
		}
		return LED2
	}
	return LEDsOff
}

// Indicator serialises LED updates coming from the link watcher and the
// MIDI listener goroutine.
type Indicator struct {
	mu     sync.Mutex
	driver LEDDriver
	last   LEDMask
	set    bool
}

func NewIndicator(driver LEDDriver) *Indicator {
	return &Indicator{driver: driver}
}

// Status shows the pattern for a link state.
func (ind *Indicator) Status(s LinkState) {
	logger.Debug("led: link status", "state", s.String())
	ind.show(StatusMask(s))
}

// Note reacts to one incoming MIDI message.
func (ind *Indicator) Note(msg midi.Message) {
	ind.show(NoteMask(msg))
}

// Mask returns the last pattern written.
func (ind *Indicator) Mask() LEDMask {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.last
}

func (ind *Indicator) show(mask LEDMask) {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if ind.set && ind.last == mask {
		return
	}
	if ind.driver != nil {
		if err := ind.driver.SetLEDs(mask); err != nil {
			logger.Warn("led: update failed", "mask", byte(mask), "err", err)
			return
		}
	}
	ind.last = mask
	ind.set = true
}

package main

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

const (
	StatusControlChange = 0xB0
	ChannelMask         = 0x0F
	DataMask            = 0x7F

	// CCBase is added to every CC number to form the controller byte.
	CCBase = 0x50

	ValueOn  = 64
	ValueOff = 0

	// cinControlChange is the USB-MIDI code index number for a CC event.
	cinControlChange = 0x0B
)

// CCEvent is one Control Change message produced by an input transition.
// Number is the logical CC number (port offset + bit index); Controller is
// the byte that goes on the wire.
type CCEvent struct {
	Channel    byte
	Number     byte
	Controller byte
	Value      byte
}

// BuildCC constructs a CC event using the default CC base. Channel must be
// 0-15 and number at most 127-CCBase; neither is checked here.
func BuildCC(on bool, number, channel byte) CCEvent {
	return buildCC(on, number, channel, CCBase)
}

func buildCC(on bool, number, channel, base byte) CCEvent {
	ev := CCEvent{
		Channel:    channel,
		Number:     number,
		Controller: base + number,
		Value:      ValueOff,
	}
	if on {
		ev.Value = ValueOn
	}
	return ev
}

// On reports whether the event signals an active input.
func (e CCEvent) On() bool { return e.Value != ValueOff }

// Status returns the status byte: Control Change on the event's channel.
func (e CCEvent) Status() byte { return StatusControlChange | e.Channel }

// Bytes returns the three-byte MIDI wire form:
//
//	[0xB0|channel][controller][value]
func (e CCEvent) Bytes() [3]byte {
	return [3]byte{e.Status(), e.Controller, e.Value}
}

// Packet returns the 4-byte USB-MIDI event packet for the given virtual
// cable, the form a USB MIDI device class sends on its IN endpoint.
func (e CCEvent) Packet(cable byte) [4]byte {
	return [4]byte{(cable&0x0F)<<4 | cinControlChange, e.Status(), e.Controller, e.Value}
}

// Message converts the event into a gomidi message ready for a driver port.
func (e CCEvent) Message() midi.Message {
	return midi.ControlChange(e.Channel&ChannelMask, e.Controller&DataMask, e.Value&DataMask)
}

func (e CCEvent) String() string {
	state := "off"
	if e.On() {
		state = "on"
	}
	return fmt.Sprintf("cc ch=%d num=%d ctl=0x%02X %s", e.Channel, e.Number, e.Controller, state)
}

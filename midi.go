package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// EXCLUDED_PATTERNS: virtual/system ports that are never auto-connected.
var EXCLUDED_PATTERNS = []string{"Midi Through", "Through Port", "Dummy"}

const midiRescanInterval = 1000 * time.Millisecond

// ErrNotConnected is returned by Send while no output port is open.
var ErrNotConnected = errors.New("midi: not connected")

// MIDILink keeps an output port open to the preferred device and carries CC
// events to it. It also listens on a matching input port so incoming notes
// can drive the status LEDs.
//
// onState is called on every lifecycle transition; onMessage for every
// message received on the input port, from the driver's listener goroutine.
type MIDILink struct {
	mu  sync.Mutex
	drv drivers.Driver

	outPatterns []string
	inPatterns  []string

	out     drivers.Out
	send    func(midi.Message) error
	outName string

	in     drivers.In
	stopFn func()
	inName string

	state        LinkState
	queue        []CCEvent
	lastRescanAt time.Time

	onState   func(LinkState)
	onMessage func(midi.Message)
}

// NewMIDILink wraps an opened driver. Call Close when done.
func NewMIDILink(drv drivers.Driver, cfg MIDIConfig, onState func(LinkState), onMessage func(midi.Message)) *MIDILink {
	return &MIDILink{
		drv:         drv,
		outPatterns: cfg.OutPatterns,
		inPatterns:  cfg.InPatterns,
		state:       LinkNotReady,
		onState:     onState,
		onMessage:   onMessage,
	}
}

// State returns the current lifecycle state.
func (m *MIDILink) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close releases both ports and the driver.
func (m *MIDILink) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeConn()
	if err := m.drv.Close(); err != nil {
		logger.Warn("midi: driver close failed", "err", err)
	}
}

// Tick should be called on a regular interval from the main loop. It
// connects to a matching output when one appears and notices when it goes
// away.
func (m *MIDILink) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastRescanAt.IsZero() && now.Sub(m.lastRescanAt) < midiRescanInterval {
		return
	}
	m.lastRescanAt = now

	outputs := m.listOutputs()

	if m.out != nil {
		for _, n := range outputs {
			if n == m.outName {
				return
			}
		}
		logger.Warn("midi: output disappeared", "device", m.outName)
		m.closeConn()
		m.setState(LinkNotReady)
		m.lastRescanAt = time.Time{}
		return
	}

	cand, ok := pickPreferred(outputs, m.outPatterns)
	if !ok {
		return
	}
	m.setState(LinkEnumerating)
	if err := m.openOut(cand); err != nil {
		logger.Error("midi: connect failed", "device", cand, "err", err)
		m.setState(LinkError)
		return
	}
	m.setState(LinkReady)
	m.openIn()
}

// Send queues an event for the next Flush.
func (m *MIDILink) Send(ev CCEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.send == nil {
		return ErrNotConnected
	}
	m.queue = append(m.queue, ev)
	return nil
}

// Flush writes every queued event. The queue is emptied even when a write
// fails; nothing is retried.
func (m *MIDILink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := m.queue
	m.queue = m.queue[:0]
	if m.send == nil {
		if len(queued) > 0 {
			return fmt.Errorf("%w: dropped %d events", ErrNotConnected, len(queued))
		}
		return nil
	}
	for i, ev := range queued {
		if err := m.send(ev.Message()); err != nil {
			return fmt.Errorf("midi: send to %q: %w (dropped %d)", m.outName, err, len(queued)-i)
		}
		packet := ev.Packet(0)
		logger.Debug("midi: sent", "device", m.outName, "event", ev.String(), "usb_packet", fmt.Sprintf("% X", packet[:]))
	}
	return nil
}

// -------------------- internal --------------------

func (m *MIDILink) setState(s LinkState) {
	if s == m.state {
		return
	}
	logger.Info("midi: link state", "from", m.state.String(), "to", s.String())
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

func (m *MIDILink) listOutputs() []string {
	outs, err := m.drv.Outs()
	if err != nil {
		logger.Error("midi: list outputs failed", "err", err)
		return nil
	}
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	names = withoutExcluded(names)
	logger.Debug("midi: outputs found", "count", len(names), "devices", strings.Join(names, ", "))
	return names
}

func (m *MIDILink) openOut(name string) error {
	outs, err := m.drv.Outs()
	if err != nil {
		return err
	}
	var found drivers.Out
	for _, out := range outs {
		if out.String() == name {
			found = out
			break
		}
	}
	if found == nil {
		return fmt.Errorf("output %q not found", name)
	}
	send, err := midi.SendTo(found)
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	m.out = found
	m.send = send
	m.outName = name
	logger.Info("midi: output connected", "device", name)
	return nil
}

// openIn attaches the note listener. A missing input only disables the
// decorative LED response, so failures are logged and ignored.
func (m *MIDILink) openIn() {
	if m.onMessage == nil || len(m.inPatterns) == 0 {
		return
	}
	ins, err := m.drv.Ins()
	if err != nil {
		logger.Warn("midi: list inputs failed", "err", err)
		return
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	name, ok := pickPreferred(withoutExcluded(names), m.inPatterns)
	if !ok {
		logger.Debug("midi: no input for note feedback")
		return
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}

	onMessage := m.onMessage
	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		logger.Debug("midi: received", "device", name, "msg", msg.String())
		onMessage(msg)
	}, midi.HandleError(func(listenErr error) {
		logger.Warn("midi: listener error", "device", name, "err", listenErr)
	}))
	if err != nil {
		logger.Warn("midi: listen failed", "device", name, "err", err)
		_ = found.Close()
		return
	}
	m.in = found
	m.stopFn = stop
	m.inName = name
	logger.Info("midi: input connected", "device", name)
}

func (m *MIDILink) closeConn() {
	if m.stopFn != nil {
		m.stopFn()
		m.stopFn = nil
	}
	if m.in != nil {
		_ = m.in.Close()
		m.in = nil
	}
	if m.out != nil {
		_ = m.out.Close()
		m.out = nil
	}
	m.send = nil
	m.queue = m.queue[:0]
	m.outName = ""
	m.inName = ""
}

// -------------------- utility --------------------

func withoutExcluded(names []string) []string {
	var kept []string
	for _, name := range names {
		excluded := false
		for _, pat := range EXCLUDED_PATTERNS {
			if containsCI(name, pat) {
				excluded = true
				break
			}
		}
		if excluded {
			logger.Debug("midi: port excluded", "device", name)
		} else {
			kept = append(kept, name)
		}
	}
	return kept
}

// pickPreferred returns the first port matching a pattern, in pattern
// order. With no patterns, a lone port is taken.
func pickPreferred(names, patterns []string) (string, bool) {
	for _, pat := range patterns {
		for _, name := range names {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(patterns) == 0 && len(names) == 1 {
		return names[0], true
	}
	return "", false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

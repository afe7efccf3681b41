package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPortCount is returned when a sample does not carry one byte per
// configured port.
var ErrPortCount = errors.New("mapper: sample size does not match port count")

// PortReader returns the raw electrical level of every monitored port, one
// byte per port in configuration order.
type PortReader interface {
	ReadPorts() ([]byte, error)
}

// EventSink accepts CC events for transmission. Send may queue; Flush
// forces anything queued onto the wire.
type EventSink interface {
	Send(ev CCEvent) error
	Flush() error
}

// Mapper turns debounced input-bit transitions into CC events.
//
// The baseline is captured once by InitializeBaseline; until then it is
// all zeros, so raw levels are taken as-is. previous holds the last
// debounced active state and is only written after a change.
type Mapper struct {
	cfg    *Config
	reader PortReader
	sink   EventSink
	sleep  func(time.Duration)

	baseline []byte
	previous []byte
}

// NewMapper builds a mapper for cfg. The config must already be validated.
func NewMapper(cfg *Config, reader PortReader, sink EventSink) *Mapper {
	return &Mapper{
		cfg:      cfg,
		reader:   reader,
		sink:     sink,
		sleep:    time.Sleep,
		baseline: make([]byte, len(cfg.Ports)),
		previous: make([]byte, len(cfg.Ports)),
	}
}

// InitializeBaseline waits for the inputs to settle and records their idle
// level.
func (m *Mapper) InitializeBaseline() error {
	m.sleep(m.cfg.Settle())
	raw, err := m.reader.ReadPorts()
	if err != nil {
		return fmt.Errorf("mapper: baseline read: %w", err)
	}
	if len(raw) != len(m.cfg.Ports) {
		return fmt.Errorf("%w: got %d, want %d", ErrPortCount, len(raw), len(m.cfg.Ports))
	}
	copy(m.baseline, raw)
	for i, p := range m.cfg.Ports {
		logger.Info("mapper: baseline captured", "port", p.Name, "idle", fmt.Sprintf("0x%02X", raw[i]))
	}
	return nil
}

// Baseline returns a copy of the idle mask per port.
func (m *Mapper) Baseline() []byte { return append([]byte(nil), m.baseline...) }

// Previous returns a copy of the last debounced active state per port.
func (m *Mapper) Previous() []byte { return append([]byte(nil), m.previous...) }

// Active normalises a raw level against an idle baseline: 1 means active
// regardless of pull-up or pull-down wiring.
func Active(raw, baseline byte) byte { return raw ^ baseline }

// PollOnce processes one sample. For every changed bit it emits one CC
// event, ports in configured order and bits ascending. If anything
// changed it blocks for the debounce delay and then commits the sample.
func (m *Mapper) PollOnce(raw []byte) ([]CCEvent, error) {
	if len(raw) != len(m.cfg.Ports) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPortCount, len(raw), len(m.cfg.Ports))
	}

	active := make([]byte, len(raw))
	var events []CCEvent
	for i, p := range m.cfg.Ports {
		active[i] = Active(raw[i], m.baseline[i])
		changes := active[i] ^ m.previous[i]
		if changes == 0 {
			continue
		}
		for bit := 0; bit < bitsPerPort; bit++ {
			mask := byte(1) << bit
			if changes&mask == 0 {
				continue
			}
			ev := buildCC(active[i]&mask != 0, p.Offset+byte(bit), m.cfg.Channel, m.cfg.CCBase)
			logger.Debug("mapper: input changed", "port", p.Name, "bit", bit, "event", ev.String())
			m.emit(ev)
			events = append(events, ev)
		}
	}

	if len(events) > 0 {
		m.sleep(m.cfg.Debounce())
		copy(m.previous, active)
	}
	return events, nil
}

// Poll reads the ports once and processes the sample.
func (m *Mapper) Poll() ([]CCEvent, error) {
	raw, err := m.reader.ReadPorts()
	if err != nil {
		return nil, fmt.Errorf("mapper: read: %w", err)
	}
	return m.PollOnce(raw)
}

// Run polls until ctx is done or a read fails.
func (m *Mapper) Run(ctx context.Context) error {
	interval := m.cfg.PollInterval()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := m.Poll(); err != nil {
			return err
		}
		if interval > 0 {
			m.sleep(interval)
		}
	}
}

// emit hands one event to the sink. Delivery is fire-and-forget: failures
// are logged and dropped.
func (m *Mapper) emit(ev CCEvent) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Send(ev); err != nil {
		logger.Warn("mapper: send failed", "event", ev.String(), "err", err)
		return
	}
	if err := m.sink.Flush(); err != nil {
		logger.Warn("mapper: flush failed", "err", err)
	}
}

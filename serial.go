package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	boardReadTimeout = 50 * time.Millisecond
	maxSkippedFrames = 4
	maxRequests      = 3
)

// ErrReplyTimeout is returned when the board does not answer within the
// read timeout.
var ErrReplyTimeout = errors.New("serial: reply timeout")

// timeoutReader turns the (0, nil) result a serial port gives on read
// timeout into ErrReplyTimeout, so bufio does not spin on empty reads.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrReplyTimeout
	}
	return n, err
}

// BoardLink talks to an input board over a serial line. It reads port
// levels on request and drives the board's status LEDs.
type BoardLink struct {
	mu    sync.Mutex
	port  io.ReadWriteCloser
	r     *bufio.Reader
	ports int
}

// OpenBoard opens the named serial device at the given baud rate. ports is
// the number of bytes the board reports per sample.
func OpenBoard(name string, baud, ports int) (*BoardLink, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %q: %w", name, err)
	}
	if err := p.SetReadTimeout(boardReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: set timeout on %q: %w", name, err)
	}
	logger.Info("serial: port opened", "device", name, "baud", baud)
	return newBoardLink(p, ports), nil
}

func newBoardLink(port io.ReadWriteCloser, ports int) *BoardLink {
	return &BoardLink{port: port, r: bufio.NewReader(timeoutReader{r: port}), ports: ports}
}

// ReadPorts requests one sample and waits for the PORT_STATE reply. A reply
// that times out or arrives garbled is requested again, up to maxRequests
// times.
func (b *BoardLink) ReadPorts() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxRequests; attempt++ {
		if attempt > 1 {
			// Drop whatever is left of the previous reply.
			_, _ = b.r.Discard(b.r.Buffered())
			logger.Debug("serial: re-requesting port state", "attempt", attempt, "err", lastErr)
		}
		if err := b.write(Frame{Cmd: CmdReadPorts}); err != nil {
			return nil, err
		}
		payload, err := b.readReply()
		if err == nil {
			return payload, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("serial: no port state after %d requests: %w", maxRequests, lastErr)
}

func (b *BoardLink) readReply() ([]byte, error) {
	for skipped := 0; skipped <= maxSkippedFrames; skipped++ {
		f, err := ReadFrame(b.r)
		if err != nil {
			if retryable(err) {
				logger.Warn("serial: dropping reply", "err", err)
			}
			return nil, fmt.Errorf("serial: read reply: %w", err)
		}
		if f.Cmd != CmdPortState {
			logger.Debug("serial: ignoring frame", "cmd", fmt.Sprintf("0x%02X", f.Cmd))
			continue
		}
		if len(f.Payload) != b.ports {
			return nil, fmt.Errorf("%w: board sent %d, want %d", ErrPortCount, len(f.Payload), b.ports)
		}
		return f.Payload, nil
	}
	return nil, fmt.Errorf("serial: no port state after %d frames: %w", maxSkippedFrames+1, ErrReplyTimeout)
}

// retryable reports whether a failed reply is worth requesting again.
func retryable(err error) bool {
	return errors.Is(err, ErrReplyTimeout) ||
		errors.Is(err, ErrBadChecksum) ||
		errors.Is(err, ErrShortFrame) ||
		errors.Is(err, ErrFrameSize)
}

// SetLEDs sends the LED mask to the board.
func (b *BoardLink) SetLEDs(mask LEDMask) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(Frame{Cmd: CmdSetLEDs, Payload: []byte{byte(mask)}})
}

func (b *BoardLink) write(f Frame) error {
	data := f.Encode()
	if _, err := b.port.Write(data); err != nil {
		return fmt.Errorf("serial: write cmd 0x%02X: %w", f.Cmd, err)
	}
	return nil
}

// Close closes the underlying serial port.
func (b *BoardLink) Close() error {
	logger.Info("serial: closing port")
	return b.port.Close()
}

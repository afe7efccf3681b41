package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopPort is an in-memory serial line: the board's replies are queued in rx
// and everything the host writes lands in tx. With idleTimeout set, an empty
// rx reads as (0, nil) the way a serial port does when its read timeout
// expires. Each write pops one entry of perRequest into rx.
type loopPort struct {
	rx          bytes.Buffer
	tx          bytes.Buffer
	closed      bool
	wErr        error
	idleTimeout bool
	perRequest  [][]byte
	writes      int
}

func (p *loopPort) Read(b []byte) (int, error) {
	if p.idleTimeout && p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *loopPort) Write(b []byte) (int, error) {
	if p.wErr != nil {
		return 0, p.wErr
	}
	p.writes++
	if len(p.perRequest) > 0 {
		p.rx.Write(p.perRequest[0])
		p.perRequest = p.perRequest[1:]
	}
	return p.tx.Write(b)
}

func (p *loopPort) Close() error {
	p.closed = true
	return nil
}

func (p *loopPort) reply(f Frame) { p.rx.Write(f.Encode()) }

func TestBoardLinkReadPorts(t *testing.T) {
	port := &loopPort{}
	port.reply(Frame{Cmd: CmdPortState, Payload: []byte{0xFE, 0xFF}})
	board := newBoardLink(port, 2)

	got, err := board.ReadPorts()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0xFF}, got)
	assert.Equal(t, (&Frame{Cmd: CmdReadPorts}).Encode(), port.tx.Bytes())
}

func TestBoardLinkSkipsUnrelatedAndCorruptFrames(t *testing.T) {
	unrelated := (&Frame{Cmd: 0x7E, Payload: []byte{0x01}}).Encode()
	corrupt := (&Frame{Cmd: CmdPortState, Payload: []byte{0x00}}).Encode()
	corrupt[len(corrupt)-1] ^= 0x01
	good := (&Frame{Cmd: CmdPortState, Payload: []byte{0x7F}}).Encode()

	// The first reply is an unrelated frame followed by a corrupt one, and
	// the stale tail after it is discarded before the request is re-sent.
	first := append(append(append([]byte(nil), unrelated...), corrupt...), 0xAA, 0x13)
	port := &loopPort{idleTimeout: true, perRequest: [][]byte{first, good}}
	board := newBoardLink(port, 1)

	got, err := board.ReadPorts()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7F}, got)
	assert.Equal(t, 2, port.writes)
}

func TestBoardLinkReadPortsErrors(t *testing.T) {
	port := &loopPort{}
	port.reply(Frame{Cmd: CmdPortState, Payload: []byte{0xFF}})
	_, err := newBoardLink(port, 2).ReadPorts()
	assert.ErrorIs(t, err, ErrPortCount)

	_, err = newBoardLink(&loopPort{}, 1).ReadPorts()
	assert.Error(t, err, "no reply")

	boom := errors.New("unplugged")
	_, err = newBoardLink(&loopPort{wErr: boom}, 1).ReadPorts()
	assert.ErrorIs(t, err, boom)
}

func TestBoardLinkSetLEDs(t *testing.T) {
	port := &loopPort{}
	board := newBoardLink(port, 1)

	require.NoError(t, board.SetLEDs(LED2|LED3))
	assert.Equal(t, (&Frame{Cmd: CmdSetLEDs, Payload: []byte{0x06}}).Encode(), port.tx.Bytes())

	require.NoError(t, board.Close())
	assert.True(t, port.closed)
}

func TestBoardLinkTimesOutOnSilentBoard(t *testing.T) {
	port := &loopPort{idleTimeout: true}
	board := newBoardLink(port, 1)

	_, err := board.ReadPorts()
	assert.ErrorIs(t, err, ErrReplyTimeout)
	assert.Equal(t, maxRequests, port.writes, "request re-sent after each timeout")
}

func TestBoardLinkRerequestsGarbledReply(t *testing.T) {
	corrupt := (&Frame{Cmd: CmdPortState, Payload: []byte{0x0F}}).Encode()
	corrupt[len(corrupt)-1] ^= 0x01
	good := (&Frame{Cmd: CmdPortState, Payload: []byte{0xF0}}).Encode()

	tests := []struct {
		name  string
		first []byte
	}{
		{"bad checksum", corrupt},
		{"zero length", []byte{SOF0, SOF1, 0x00}},
		{"oversized", []byte{SOF0, SOF1, MaxPayload + 2}},
		{"no reply", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &loopPort{idleTimeout: true, perRequest: [][]byte{tt.first, good}}
			board := newBoardLink(port, 1)

			got, err := board.ReadPorts()
			require.NoError(t, err)
			assert.Equal(t, []byte{0xF0}, got)
			assert.Equal(t, 2, port.writes)
		})
	}
}

func TestBoardLinkReadErrorIsNotRetried(t *testing.T) {
	port := &loopPort{}
	board := newBoardLink(port, 1)

	_, err := board.ReadPorts()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, port.writes)
}

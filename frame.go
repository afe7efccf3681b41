package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	SOF0 = 0xAA
	SOF1 = 0x55

	CmdSetLEDs   = 0x11
	CmdReadPorts = 0x20
	CmdPortState = 0x21

	MaxPayload = 32
)

var (
	ErrBadChecksum = errors.New("frame: bad checksum")
	ErrShortFrame  = errors.New("frame: length too short")
	ErrFrameSize   = errors.New("frame: payload too large")
)

// Frame is one command exchanged with the input board.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][payload...][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of LEN, CMD and payload.
func (f *Frame) Encode() []byte {
	length := byte(len(f.Payload) + 1)
	cks := length ^ f.Cmd
	for _, b := range f.Payload {
		cks ^= b
	}

	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, SOF0, SOF1, length, f.Cmd)
	out = append(out, f.Payload...)
	out = append(out, cks)
	return out
}

// ReadFrame reads the next frame, skipping any bytes before a start marker.
// On ErrBadChecksum the bad frame has been consumed and the caller may read
// again to resynchronise.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	if err := seekSOF(r); err != nil {
		return Frame{}, err
	}

	length, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	if length == 0 {
		return Frame{}, ErrShortFrame
	}
	if int(length)-1 > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameSize, length-1)
	}

	body := make([]byte, int(length)+1) // CMD, payload, CKS
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	cks := length
	for _, b := range body[:len(body)-1] {
		cks ^= b
	}
	if cks != body[len(body)-1] {
		return Frame{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadChecksum, body[len(body)-1], cks)
	}

	return Frame{Cmd: body[0], Payload: body[1 : len(body)-1]}, nil
}

func seekSOF(r *bufio.Reader) error {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == SOF0 && b == SOF1 {
			return nil
		}
		prev = b
	}
}

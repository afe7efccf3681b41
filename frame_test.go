package main

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncode(t *testing.T) {
	f := Frame{Cmd: CmdPortState, Payload: []byte{0xFE, 0xFF}}
	// LEN=3, CKS = 3 ^ 0x21 ^ 0xFE ^ 0xFF
	assert.Equal(t, []byte{SOF0, SOF1, 0x03, 0x21, 0xFE, 0xFF, 0x03 ^ 0x21 ^ 0xFE ^ 0xFF}, f.Encode())

	empty := Frame{Cmd: CmdReadPorts}
	assert.Equal(t, []byte{SOF0, SOF1, 0x01, 0x20, 0x01 ^ 0x20}, empty.Encode())
}

func TestReadFrame(t *testing.T) {
	want := Frame{Cmd: CmdSetLEDs, Payload: []byte{byte(LED2 | LED4)}}
	r := bufio.NewReader(bytes.NewReader(want.Encode()))

	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, want.Cmd, got.Cmd)
	assert.Equal(t, want.Payload, got.Payload)

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameSkipsNoise(t *testing.T) {
	f := Frame{Cmd: CmdPortState, Payload: []byte{0x12}}
	stream := append([]byte{0x00, SOF0, 0x13, SOF1, 0xAA}, f.Encode()...)

	got, err := ReadFrame(bufio.NewReader(bytes.NewReader(stream)))
	require.NoError(t, err)
	assert.Equal(t, byte(CmdPortState), got.Cmd)
	assert.Equal(t, []byte{0x12}, got.Payload)
}

func TestReadFrameResyncsAfterBadChecksum(t *testing.T) {
	bad := (&Frame{Cmd: CmdPortState, Payload: []byte{0x01}}).Encode()
	bad[len(bad)-1] ^= 0xFF
	good := (&Frame{Cmd: CmdPortState, Payload: []byte{0x02}}).Encode()
	r := bufio.NewReader(bytes.NewReader(append(bad, good...)))

	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrBadChecksum)

	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got.Payload)
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{SOF0, SOF1, 0x00})))
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader([]byte{SOF0, SOF1, MaxPayload + 2})))
	assert.ErrorIs(t, err, ErrFrameSize)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader([]byte{SOF0, SOF1, 0x03, CmdPortState})))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

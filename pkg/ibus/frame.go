// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ChannelFrame holds the 12-bit servo channel values of one accepted frame.
type ChannelFrame [NumChannels]uint16

// Command is the second byte of a sensor request: kind in the high nibble,
// sensor address (index+1) in the low nibble.
type Command uint8

// NewCommand builds a command byte for a zero-based sensor index.
func NewCommand(kind uint8, index uint8) Command {
	return Command(kind&0xF0 | (index+1)&0x0F)
}

// Kind returns the command kind (KindProbe, KindType or KindValue).
func (c Command) Kind() uint8 {
	return uint8(c) & 0xF0
}

// Index returns the zero-based sensor index. Address 0 yields 0xFF, which
// never matches a registered sensor.
func (c Command) Index() uint8 {
	return uint8(c)&0x0F - 1
}

// SensorType is a 16-bit type code: high byte is the value width in bytes,
// low byte is the sensor type identifier.
type SensorType uint16

// Width returns the response payload width in bytes.
func (t SensorType) Width() uint8 {
	return uint8(t >> 8)
}

// ID returns the sensor type identifier.
func (t SensorType) ID() uint8 {
	return uint8(t)
}

// SensorRequest is a validated 4-byte sensor request.
type SensorRequest struct {
	Length   uint8
	Command  Command
	Checksum uint16
}

// Bytes returns the request as it appeared on the wire.
func (r SensorRequest) Bytes() [SensorRequestSize]byte {
	return [SensorRequestSize]byte{r.Length, byte(r.Command), byte(r.Checksum), byte(r.Checksum >> 8)}
}

// Checksum computes the iBUS checksum: 0xFFFF minus the byte sum.
func Checksum(data []byte) uint16 {
	sum := uint16(0xFFFF)
	for _, b := range data {
		sum -= uint16(b)
	}
	return sum
}

// EncodeServoFrame builds a complete servo frame. Values are masked to 12 bits.
func EncodeServoFrame(frame ChannelFrame) [ServoFrameSize]byte {
	var out [ServoFrameSize]byte
	out[0] = SyncLo
	out[1] = SyncHi
	for i, v := range frame {
		binary.LittleEndian.PutUint16(out[2+i*2:], v&ChannelMask)
	}
	binary.LittleEndian.PutUint16(out[ServoFrameSize-2:], Checksum(out[:ServoFrameSize-2]))
	return out
}

// EncodeSensorRequest builds a sensor request for the given command.
func EncodeSensorRequest(cmd Command) [SensorRequestSize]byte {
	out := [SensorRequestSize]byte{SensorRequestSize, byte(cmd)}
	binary.LittleEndian.PutUint16(out[2:], Checksum(out[:2]))
	return out
}

// SensorResponse is a decoded sensor response as seen by the bus master.
type SensorResponse struct {
	Command Command
	// Value is the type code for Type responses, the measurement for Value
	// responses and zero for Probe echoes.
	Value uint32
	Width uint8
}

// Response parsing errors
var (
	ErrShortResponse    = errors.New("ibus: short sensor response")
	ErrResponseLength   = errors.New("ibus: sensor response length mismatch")
	ErrResponseChecksum = errors.New("ibus: sensor response checksum mismatch")
)

// ParseSensorResponse decodes a sensor response frame (4, 6 or 8 bytes).
func ParseSensorResponse(data []byte) (SensorResponse, error) {
	if len(data) < SensorRequestSize {
		return SensorResponse{}, ErrShortResponse
	}
	n := int(data[0])
	switch n {
	case SensorRequestSize, SensorResponse2, SensorResponse4:
	default:
		return SensorResponse{}, fmt.Errorf("%w: length byte %d", ErrResponseLength, n)
	}
	if len(data) < n {
		return SensorResponse{}, fmt.Errorf("%w: have %d bytes, want %d", ErrShortResponse, len(data), n)
	}
	want := Checksum(data[:n-2])
	got := binary.LittleEndian.Uint16(data[n-2:])
	if want != got {
		return SensorResponse{}, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrResponseChecksum, want, got)
	}

	resp := SensorResponse{Command: Command(data[1]), Width: uint8(n - 4)}
	switch n {
	case SensorResponse2:
		resp.Value = uint32(binary.LittleEndian.Uint16(data[2:]))
	case SensorResponse4:
		resp.Value = binary.LittleEndian.Uint32(data[2:])
	}
	return resp, nil
}

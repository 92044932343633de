// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import "errors"

// Decode errors. They are only ever counted; a link-level decoder has no
// channel to report them on except the link itself.
var (
	ErrChecksum = errors.New("ibus: servo frame checksum mismatch")
	ErrSyncLost = errors.New("ibus: sensor request sync lost")
)

const (
	servoIdle     = ServoFrameSize - 2 // waiting for the next sync marker
	sensorLatched = SensorRequestSize  // request complete or sync lost
)

// Receiver is the byte-at-a-time receive decoder for both protocols. The
// caller selects the protocol per byte according to the bus direction.
//
// Both protocols are defined over little-endian byte pairs, so the decoder
// keeps the two most recent bytes and only acts on every second byte.
type Receiver struct {
	prev, last byte
	servoPos   uint8
	sensorPos  uint8
	sum        uint16

	length  uint8
	command Command

	staged ChannelFrame
	frame  ChannelFrame
}

// NewReceiver returns a decoder waiting for a servo sync marker.
func NewReceiver() *Receiver {
	r := &Receiver{}
	r.Reset()
	return r
}

// Reset returns the decoder to its power-on state. The published frame is kept.
func (r *Receiver) Reset() {
	r.prev, r.last = 0, 0
	r.servoPos = servoIdle
	r.sensorPos = sensorLatched
	r.sum = 0
}

// ResetSensor arms the sensor request assembler. Called on every entry to
// half-duplex listening.
func (r *Receiver) ResetSensor() {
	r.sensorPos = 0
	r.sum = 0xFFFF
}

// Frame returns the last published channel frame.
func (r *Receiver) Frame() ChannelFrame {
	return r.frame
}

func (r *Receiver) shift(b byte) {
	r.prev, r.last = r.last, b
}

func (r *Receiver) pair() uint16 {
	return uint16(r.prev) | uint16(r.last)<<8
}

// DecodeServoByte consumes one byte of the servo stream. It returns true when
// a frame passed its checksum and was published, and ErrChecksum when a
// complete frame was discarded. Channel values are staged and only become
// visible through Frame after the checksum matched.
func (r *Receiver) DecodeServoByte(b byte) (bool, error) {
	r.shift(b)
	if r.prev == SyncLo && r.last == SyncHi {
		r.servoPos = 0
		r.sum = servoChecksumSeed
		return false, nil
	}
	if r.servoPos == servoIdle {
		return false, nil
	}
	r.servoPos++
	if r.servoPos&1 != 0 {
		return false, nil
	}
	if r.servoPos == servoIdle {
		if r.pair() != r.sum {
			return false, ErrChecksum
		}
		r.frame = r.staged
		return true, nil
	}
	r.staged[r.servoPos/2-1] = r.pair() & ChannelMask
	r.sum -= uint16(r.prev) + uint16(r.last)
	return false, nil
}

// DecodeSensorByte consumes one byte of a sensor request. It returns the
// request once both pairs arrived and validated. On a length or checksum
// mismatch it returns ErrSyncLost and ignores further bytes until
// ResetSensor is called.
func (r *Receiver) DecodeSensorByte(b byte) (SensorRequest, bool, error) {
	r.shift(b)
	if r.sensorPos == sensorLatched {
		return SensorRequest{}, false, nil
	}
	r.sensorPos++
	if r.sensorPos&1 != 0 {
		return SensorRequest{}, false, nil
	}
	if r.sensorPos == sensorLatched {
		got := r.pair()
		if r.length != SensorRequestSize || got != r.sum {
			return SensorRequest{}, false, ErrSyncLost
		}
		req := SensorRequest{Length: r.length, Command: r.command, Checksum: got}
		r.ResetSensor()
		return req, true, nil
	}
	r.length = r.prev
	r.command = Command(r.last)
	r.sum -= uint16(r.prev) + uint16(r.last)
	return SensorRequest{}, false, nil
}

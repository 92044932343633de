// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ibus implements the iBUS serial link engine: a single UART that
// carries inbound servo frames in full-duplex mode and answers sensor
// telemetry requests in half-duplex mode.
//
// The engine is driven by three hardware events (byte received, byte sent,
// turnaround timeout) and never allocates or blocks inside them, apart from
// the bounded ADC busy-wait performed by the oversampling sampler. It builds
// with TinyGo for the receiver-side microcontroller and with the standard
// toolchain for host emulation and testing.
package ibus

import "time"

// Servo frame framing
const (
	SyncLo = 0x20
	SyncHi = 0x40

	NumChannels    = 14
	ServoFrameSize = 2 + NumChannels*2 + 2 // sync + channels + checksum
	ChannelMask    = 0x0FFF

	// servoChecksumSeed is the accumulator value right after the sync marker.
	servoChecksumSeed = 0xFFFF - (SyncLo + SyncHi)
)

// Sensor request/response framing
const (
	SensorRequestSize = 4
	SensorResponse2   = 6 // length, command, 2 value bytes, checksum
	SensorResponse4   = 8 // length, command, 4 value bytes, checksum
	TxBufferSize      = 8

	// MaxSensors is bounded by the 4-bit address in the command byte
	// (address 0 is never assigned).
	MaxSensors = 15
)

// Command kinds (high nibble of the command byte)
const (
	KindProbe = 0x80
	KindType  = 0x90
	KindValue = 0xA0
)

// Sensor type identifiers (low byte of a SensorType)
const (
	SensorIntVoltage = 0x00
	SensorTemp       = 0x01
	SensorRPM        = 0x02
	SensorExtVoltage = 0x03
)

// Sensor type codes used by the stock deployment
const (
	TypeTemp       SensorType = 0x0201
	TypeExtVoltage SensorType = 0x0203
)

// Oversampling parameters
const (
	RingSize          = 64
	SettleConversions = 16
)

// DefaultTurnaround is the half-duplex listening window armed after every
// accepted servo frame (TIM4 at 62.5kHz, ARR=0xE0).
const DefaultTurnaround = 3600 * time.Microsecond

// Direction is the bus direction state.
type Direction uint8

// Direction values
const (
	FullDuplex Direction = iota
	HalfDuplexListening
	HalfDuplexTransmitting
)

// LineMode selects which UART paths and interrupts are enabled.
type LineMode uint8

// Line mode values
const (
	// LineReceive: receiver on, receive interrupt on, transmitter idle.
	LineReceive LineMode = iota
	// LineTransmit: receiver off, transmit-ready interrupt on.
	LineTransmit
	// LineDrain: receiver off, transmit-complete interrupt on.
	LineDrain
)

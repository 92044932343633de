// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

// Line is the UART as seen by the link engine.
type Line interface {
	// WriteData loads one byte into the transmit data register.
	WriteData(b byte)
	// SetMode switches the enabled receive/transmit paths and interrupts.
	SetMode(m LineMode)
	// SetHalfDuplex moves reception between the RX pin (full duplex) and
	// the shared TX pin (half duplex).
	SetHalfDuplex(on bool)
}

// Timer is the one-shot turnaround timer. Expiry must be delivered as
// Engine.OnTimeout at equal or higher priority than the receive handler.
type Timer interface {
	Arm()
	Disarm()
}

// Director owns the bus direction and the turnaround timer. Every writer
// moves the state toward full-duplex listening on ambiguity.
type Director struct {
	line  Line
	timer Timer
	state Direction
}

// NewDirector returns a controller in full-duplex mode.
func NewDirector(line Line, timer Timer) *Director {
	return &Director{line: line, timer: timer}
}

// State returns the current direction.
func (d *Director) State() Direction {
	return d.state
}

// EnterHalfDuplex starts the sensor window and arms the turnaround timer.
func (d *Director) EnterHalfDuplex() {
	d.line.SetHalfDuplex(true)
	d.state = HalfDuplexListening
	d.timer.Arm()
}

// BeginTransmit turns the receiver off and enables the transmit-ready
// interrupt. The receiver would otherwise read back our own bytes from the
// shared wire.
func (d *Director) BeginTransmit() {
	d.state = HalfDuplexTransmitting
	d.line.SetMode(LineTransmit)
}

// EndTransmit restores the receive path once the last byte left the wire.
func (d *Director) EndTransmit() {
	d.line.SetMode(LineReceive)
	if d.state == HalfDuplexTransmitting {
		d.state = HalfDuplexListening
	}
}

// Revert unconditionally returns the bus to full-duplex servo listening.
// Safe to call any number of times.
func (d *Director) Revert() {
	d.timer.Disarm()
	d.line.SetHalfDuplex(false)
	d.state = FullDuplex
}

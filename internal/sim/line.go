// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import "github.com/Thermoquad/ibuslink/pkg/ibus"

// Line models the UART registers. It is only touched from the board's event
// loop; bytes leave through the board's writer goroutine.
type Line struct {
	txq      chan byte
	mode     ibus.LineMode
	half     bool
	inflight int

	// echoQ holds written bytes still expected back from a single-wire
	// adapter, in wire order. Nil unless echo is enabled.
	echoQ []byte
	echo  bool
}

func newLine() *Line {
	return &Line{txq: make(chan byte, ibus.TxBufferSize)}
}

// WriteData implements ibus.Line.
func (l *Line) WriteData(b byte) {
	l.inflight++
	if l.echo {
		l.echoQ = append(l.echoQ, b)
	}
	l.txq <- b
}

// SetMode implements ibus.Line.
func (l *Line) SetMode(m ibus.LineMode) {
	l.mode = m
}

// SetHalfDuplex implements ibus.Line.
func (l *Line) SetHalfDuplex(on bool) {
	l.half = on
}

// receiving reports whether the receiver is enabled.
func (l *Line) receiving() bool {
	return l.mode == ibus.LineReceive
}

// txReady reports whether the data register is empty while the transmit-ready
// interrupt is enabled.
func (l *Line) txReady() bool {
	return l.mode == ibus.LineTransmit && l.inflight == 0
}

// dropEcho consumes c if it is the next byte expected back from the adapter.
// A mismatch means the loopback was lost and the queue is abandoned.
func (l *Line) dropEcho(c byte) bool {
	if len(l.echoQ) == 0 {
		return false
	}
	if l.echoQ[0] != c {
		l.echoQ = l.echoQ[:0]
		return false
	}
	l.echoQ = l.echoQ[1:]
	return true
}

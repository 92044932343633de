// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import "errors"

// ControlLaw receives every validated channel frame. It runs inside the
// receive handler and must not block.
type ControlLaw interface {
	ApplyChannelFrame(frame ChannelFrame)
}

// ControlLawFunc adapts a function to ControlLaw.
type ControlLawFunc func(frame ChannelFrame)

// ApplyChannelFrame implements ControlLaw.
func (f ControlLawFunc) ApplyChannelFrame(frame ChannelFrame) { f(frame) }

// CriticalSection masks the link interrupt sources for the duration of a
// guarded region. It is not a lock: nothing ever waits on it inside a
// handler.
//
// Firmware built with TinyGo passes InterruptMask from the main loop:
//
//	snap := engine.Snapshot(ibus.InterruptMask{})
//
// Host programs supply their own, such as the simulator's mutex.
type CriticalSection interface {
	Disable() uintptr
	Restore(state uintptr)
}

// Config wires the engine to its collaborators.
type Config struct {
	Line       Line
	Timer      Timer
	ControlLaw ControlLaw
	Sensors    *Registry

	// ServoOnly keeps the bus in full duplex; sensor requests are never
	// listened for.
	ServoOnly bool
}

// Engine is the serial link engine. Its three handlers must be called from
// the corresponding hardware events and never concurrently with each other.
type Engine struct {
	rx      *Receiver
	tx      Responder
	line    Line
	dir     *Director
	law     ControlLaw
	sensors *Registry
	stats   Statistics

	servoOnly bool
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Frame     ChannelFrame
	Direction Direction
	Stats     Statistics
}

// NewEngine validates the configuration and returns an engine listening for
// servo frames in full duplex.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Line == nil {
		return nil, errors.New("ibus: engine requires a line")
	}
	if cfg.Timer == nil && !cfg.ServoOnly {
		return nil, errors.New("ibus: engine requires a turnaround timer")
	}
	if cfg.Timer == nil {
		cfg.Timer = stoppedTimer{}
	}
	if cfg.ControlLaw == nil {
		cfg.ControlLaw = ControlLawFunc(func(ChannelFrame) {})
	}
	e := &Engine{
		rx:        NewReceiver(),
		line:      cfg.Line,
		dir:       NewDirector(cfg.Line, cfg.Timer),
		law:       cfg.ControlLaw,
		sensors:   cfg.Sensors,
		servoOnly: cfg.ServoOnly,
	}
	cfg.Line.SetHalfDuplex(false)
	cfg.Line.SetMode(LineReceive)
	return e, nil
}

// OnByteReceived is the receive interrupt handler.
func (e *Engine) OnByteReceived(b byte) {
	if e.tx.Busy() {
		// receiver is off while a response drains
		return
	}
	switch e.dir.State() {
	case FullDuplex:
		e.servoByte(b)
	case HalfDuplexListening:
		e.sensorByte(b)
	}
}

func (e *Engine) servoByte(b byte) {
	ok, err := e.rx.DecodeServoByte(b)
	if err != nil {
		e.stats.ServoChecksumErrors++
		return
	}
	if !ok {
		return
	}
	e.stats.ServoFrames++
	e.law.ApplyChannelFrame(e.rx.Frame())
	if e.servoOnly {
		return
	}
	e.rx.ResetSensor()
	e.dir.EnterHalfDuplex()
}

func (e *Engine) sensorByte(b byte) {
	req, ok, err := e.rx.DecodeSensorByte(b)
	if err != nil {
		e.stats.SensorSyncLost++
		return
	}
	if !ok {
		return
	}
	e.stats.SensorRequests++
	if !e.dispatch(req) {
		e.stats.Unanswered++
		return
	}
	e.stats.Responses++
	e.dir.BeginTransmit()
}

// dispatch prepares the response for a validated request. It reports false
// when the request must go unanswered.
func (e *Engine) dispatch(req SensorRequest) bool {
	cmd := req.Command
	i := cmd.Index()
	t, ok := e.sensors.Type(i)
	if !ok {
		return false
	}
	switch cmd.Kind() {
	case KindProbe:
		e.tx.Echo(req)
	case KindType:
		e.tx.Send2(cmd, uint16(t))
	case KindValue:
		// The ring advances even when the width cannot be sent.
		v, ok := e.sensors.Value(i)
		if !ok {
			return false
		}
		switch t.Width() {
		case 2:
			e.tx.Send2(cmd, uint16(v))
		case 4:
			e.tx.Send4(cmd, v)
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// OnByteSent is the transmit interrupt handler, raised on transmit-ready
// while sending and on transmit-complete after the final byte.
func (e *Engine) OnByteSent() {
	if e.tx.Draining() {
		e.tx.Complete()
		e.dir.EndTransmit()
		return
	}
	if !e.tx.Busy() {
		return
	}
	b, last := e.tx.Next()
	e.line.WriteData(b)
	e.stats.BytesSent++
	if last {
		// Wait for the shift register to empty before handing the wire back.
		e.line.SetMode(LineDrain)
	}
}

// OnTimeout is the turnaround timer handler. It reverts to full duplex
// regardless of decoder or responder state.
func (e *Engine) OnTimeout() {
	if e.dir.State() != FullDuplex {
		e.stats.Timeouts++
	}
	e.dir.Revert()
}

// Direction returns the current bus direction. Handler context only.
func (e *Engine) Direction() Direction {
	return e.dir.State()
}

// Snapshot copies the published frame, direction and counters inside a
// guarded region.
func (e *Engine) Snapshot(cs CriticalSection) Snapshot {
	state := cs.Disable()
	s := Snapshot{
		Frame:     e.rx.Frame(),
		Direction: e.dir.State(),
		Stats:     e.stats,
	}
	cs.Restore(state)
	return s
}

// Sensors returns the engine's sensor registry.
func (e *Engine) Sensors() *Registry {
	return e.sensors
}

type stoppedTimer struct{}

func (stoppedTimer) Arm()    {}
func (stoppedTimer) Disarm() {}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"fmt"
	"time"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// Offline drives an engine from timestamped chunks without goroutines or
// wall-clock timers. Transmission completes instantly and the turnaround
// timer fires when a chunk arrives past its deadline.
type Offline struct {
	engine *ibus.Engine
	line   offlineLine
	timer  offlineTimer
	adc    *ADC
}

type offlineLine struct {
	mode ibus.LineMode
	half bool
	out  []byte
}

func (l *offlineLine) WriteData(b byte)        { l.out = append(l.out, b) }
func (l *offlineLine) SetMode(m ibus.LineMode) { l.mode = m }
func (l *offlineLine) SetHalfDuplex(on bool)   { l.half = on }

type offlineTimer struct {
	period   time.Duration
	now      time.Time
	armed    bool
	deadline time.Time
}

func (t *offlineTimer) Arm() {
	t.armed = true
	t.deadline = t.now.Add(t.period)
}

func (t *offlineTimer) Disarm() {
	t.armed = false
}

// NewOffline builds an offline engine. Tap and Echo are ignored.
func NewOffline(opts Options) (*Offline, error) {
	if opts.Turnaround <= 0 && !opts.ServoOnly {
		return nil, fmt.Errorf("sim: turnaround must be positive, got %s", opts.Turnaround)
	}
	o := &Offline{adc: NewADC(opts.Sources, opts.ReadyPolls)}
	o.timer.period = opts.Turnaround

	reg, err := ibus.NewRegistry(o.adc, opts.Sensors)
	if err != nil {
		return nil, fmt.Errorf("sensor registry: %w", err)
	}
	o.engine, err = ibus.NewEngine(ibus.Config{
		Line:       &o.line,
		Timer:      &o.timer,
		ControlLaw: opts.ControlLaw,
		Sensors:    reg,
		ServoOnly:  opts.ServoOnly,
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Feed delivers a chunk received at the given time and returns the bytes
// the device transmitted in response.
func (o *Offline) Feed(at time.Time, data []byte) []byte {
	o.Advance(at)
	o.line.out = o.line.out[:0]
	for _, c := range data {
		if o.line.mode != ibus.LineReceive {
			continue
		}
		o.engine.OnByteReceived(c)
		o.drain()
	}
	return append([]byte(nil), o.line.out...)
}

// Advance moves the clock, firing the turnaround timer if it expired.
func (o *Offline) Advance(at time.Time) {
	if at.After(o.timer.now) {
		o.timer.now = at
	}
	if o.timer.armed && !o.timer.now.Before(o.timer.deadline) {
		o.timer.armed = false
		o.engine.OnTimeout()
	}
}

// drain runs the transmit interrupts of one response to completion.
func (o *Offline) drain() {
	for i := 0; i <= ibus.TxBufferSize && o.line.mode != ibus.LineReceive; i++ {
		o.engine.OnByteSent()
	}
}

// Engine returns the offline engine.
func (o *Offline) Engine() *ibus.Engine {
	return o.engine
}

// Stats returns the engine counters.
func (o *Offline) Stats() ibus.Statistics {
	return o.engine.Snapshot(nopMask{}).Stats
}

type nopMask struct{}

func (nopMask) Disable() uintptr { return 0 }
func (nopMask) Restore(uintptr)  {}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import "testing"

// ============================================================
// Test Doubles
// ============================================================

// fakeLine records everything the engine does to the UART
type fakeLine struct {
	written    []byte
	modes      []LineMode
	mode       LineMode
	halfDuplex bool
}

func (l *fakeLine) WriteData(b byte) { l.written = append(l.written, b) }

func (l *fakeLine) SetMode(m LineMode) {
	l.mode = m
	l.modes = append(l.modes, m)
}

func (l *fakeLine) SetHalfDuplex(on bool) { l.halfDuplex = on }

type fakeTimer struct {
	armed   bool
	arms    int
	disarms int
}

func (t *fakeTimer) Arm() {
	t.armed = true
	t.arms++
}

func (t *fakeTimer) Disarm() {
	t.armed = false
	t.disarms++
}

// fakeADC returns readings from a per-line function and reports ready after
// a fixed number of polls
type fakeADC struct {
	read    func(line uint8) uint16
	delay   int
	polls   int
	begins  int
	lines   []uint8
	pending bool
	line    uint8
}

func (a *fakeADC) BeginConversion(line uint8) {
	a.begins++
	a.lines = append(a.lines, line)
	a.pending = true
	a.line = line
	a.polls = 0
}

func (a *fakeADC) ConversionReady() bool {
	if !a.pending {
		return false
	}
	a.polls++
	return a.polls > a.delay
}

func (a *fakeADC) ConversionResult() uint16 {
	a.pending = false
	if a.read == nil {
		return 0
	}
	return a.read(a.line)
}

// constADC returns the same reading on every line
func constADC(v uint16) *fakeADC {
	return &fakeADC{read: func(uint8) uint16 { return v }}
}

type fakeMask struct {
	disabled int
	restored int
}

func (m *fakeMask) Disable() uintptr {
	m.disabled++
	return uintptr(m.disabled)
}

func (m *fakeMask) Restore(uintptr) { m.restored++ }

// ============================================================
// Engine Helpers
// ============================================================

type testRig struct {
	engine *Engine
	line   *fakeLine
	timer  *fakeTimer
	adc    *fakeADC
	frames []ChannelFrame
}

// newRig builds an engine over fakes with the given sensors
func newRig(t *testing.T, adc *fakeADC, sensors []SensorConfig) *testRig {
	t.Helper()
	rig := &testRig{line: &fakeLine{}, timer: &fakeTimer{}, adc: adc}
	var conv Converter
	if adc != nil {
		conv = adc
	}
	reg, err := NewRegistry(conv, sensors)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	rig.engine, err = NewEngine(Config{
		Line:  rig.line,
		Timer: rig.timer,
		ControlLaw: ControlLawFunc(func(f ChannelFrame) {
			rig.frames = append(rig.frames, f)
		}),
		Sensors: reg,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return rig
}

func (r *testRig) feed(data ...byte) {
	for _, b := range data {
		r.engine.OnByteReceived(b)
	}
}

func (r *testRig) sendFrame(f ChannelFrame) {
	enc := EncodeServoFrame(f)
	r.feed(enc[:]...)
}

func (r *testRig) sendRequest(cmd Command) {
	req := EncodeSensorRequest(cmd)
	r.feed(req[:]...)
}

// drain delivers transmit interrupts until the receive path is restored and
// returns the bytes that reached the wire
func (r *testRig) drain(t *testing.T) []byte {
	t.Helper()
	start := len(r.line.written)
	for i := 0; i < 2*TxBufferSize; i++ {
		if r.line.mode == LineReceive {
			return r.line.written[start:]
		}
		r.engine.OnByteSent()
	}
	t.Fatalf("transmitter never returned to receive mode (mode=%d)", r.line.mode)
	return nil
}

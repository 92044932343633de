// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import "time"

// Timer is the one-shot turnaround timer. Expiry is posted to the board as an
// event tagged with the arming generation, so an expiry that races a Disarm
// or a re-Arm is dropped by the event loop.
type Timer struct {
	period time.Duration
	post   func(event) bool
	t      *time.Timer
	gen    uint64
}

func newTimer(period time.Duration, post func(event) bool) *Timer {
	return &Timer{period: period, post: post}
}

// Arm implements ibus.Timer.
func (t *Timer) Arm() {
	t.stop()
	t.gen++
	gen := t.gen
	t.t = time.AfterFunc(t.period, func() {
		t.post(event{kind: evTimeout, gen: gen})
	})
}

// Disarm implements ibus.Timer.
func (t *Timer) Disarm() {
	t.stop()
	t.gen++
}

func (t *Timer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) current(gen uint64) bool {
	return t.t != nil && gen == t.gen
}

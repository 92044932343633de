// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build tinygo

package ibus

import "runtime/interrupt"

// InterruptMask is the CriticalSection used on the microcontroller: it
// masks all interrupts, which covers the UART and the turnaround timer.
type InterruptMask struct{}

var _ CriticalSection = InterruptMask{}

// Disable implements CriticalSection.
func (InterruptMask) Disable() uintptr {
	return uintptr(interrupt.Disable())
}

// Restore implements CriticalSection.
func (InterruptMask) Restore(state uintptr) {
	interrupt.Restore(interrupt.State(state))
}

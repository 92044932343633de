// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import "sync"

// Mask stands in for the interrupt mask on the host. The board holds it for
// the duration of every handler, so a reader's guarded region never overlaps
// a handler.
type Mask struct {
	mu sync.Mutex
}

// Disable implements ibus.CriticalSection.
func (m *Mask) Disable() uintptr {
	m.mu.Lock()
	return 0
}

// Restore implements ibus.CriticalSection.
func (m *Mask) Restore(uintptr) {
	m.mu.Unlock()
}

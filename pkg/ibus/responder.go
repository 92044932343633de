// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

// Responder drains a prepared sensor response one byte per transmit-ready
// interrupt. The buffer is filled from the receive handler and the transmit
// interrupt is only enabled afterwards, so producer and consumer never touch
// it at the same time.
type Responder struct {
	buf      [TxBufferSize]byte
	pos, n   uint8
	draining bool
}

// Busy reports whether a response is queued or still leaving the wire.
func (t *Responder) Busy() bool {
	return t.pos < t.n || t.draining
}

// Pending returns the bytes not yet pushed to the line.
func (t *Responder) Pending() []byte {
	return t.buf[t.pos:t.n]
}

// Echo queues a probe response: the request bytes verbatim.
func (t *Responder) Echo(req SensorRequest) {
	b := req.Bytes()
	copy(t.buf[:], b[:])
	t.start(SensorRequestSize)
}

// Send2 queues a 6-byte response carrying a 16-bit value.
func (t *Responder) Send2(cmd Command, v uint16) {
	t.buf[0] = SensorResponse2
	t.buf[1] = byte(cmd)
	t.buf[2] = byte(v)
	t.buf[3] = byte(v >> 8)
	t.seal(SensorResponse2)
}

// Send4 queues an 8-byte response carrying a 32-bit value.
func (t *Responder) Send4(cmd Command, v uint32) {
	t.buf[0] = SensorResponse4
	t.buf[1] = byte(cmd)
	t.buf[2] = byte(v)
	t.buf[3] = byte(v >> 8)
	t.buf[4] = byte(v >> 16)
	t.buf[5] = byte(v >> 24)
	t.seal(SensorResponse4)
}

func (t *Responder) seal(n uint8) {
	sum := Checksum(t.buf[:n-2])
	t.buf[n-2] = byte(sum)
	t.buf[n-1] = byte(sum >> 8)
	t.start(n)
}

func (t *Responder) start(n uint8) {
	t.pos = 0
	t.n = n
	t.draining = false
}

// Next returns the next byte to push and whether it is the final one. After
// the final byte the responder waits for transmit completion (see Complete).
func (t *Responder) Next() (byte, bool) {
	b := t.buf[t.pos]
	t.pos++
	last := t.pos == t.n
	if last {
		t.draining = true
	}
	return b, last
}

// Draining reports whether all bytes were pushed and the responder waits for
// the line to go idle.
func (t *Responder) Draining() bool {
	return t.draining
}

// Complete marks the last byte as physically sent.
func (t *Responder) Complete() {
	t.draining = false
	t.pos, t.n = 0, 0
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

// ResponseDecoder reassembles sensor responses from the device side of the
// wire, one byte at a time. It is the bus master's counterpart of Responder.
type ResponseDecoder struct {
	buf [TxBufferSize]byte
	n   int
}

// Reset discards a partially received response.
func (d *ResponseDecoder) Reset() {
	d.n = 0
}

// Pending returns the number of bytes held from an incomplete frame.
func (d *ResponseDecoder) Pending() int {
	return d.n
}

// DecodeByte consumes one byte. It returns a response when a complete frame
// passed its checksum. A byte that cannot start a frame yields
// ErrResponseLength and is dropped; a complete frame with a bad checksum
// yields ErrResponseChecksum.
func (d *ResponseDecoder) DecodeByte(b byte) (SensorResponse, bool, error) {
	if d.n == 0 {
		switch b {
		case SensorRequestSize, SensorResponse2, SensorResponse4:
		default:
			return SensorResponse{}, false, ErrResponseLength
		}
	}
	d.buf[d.n] = b
	d.n++
	if d.n < int(d.buf[0]) {
		return SensorResponse{}, false, nil
	}
	frame := d.buf[:d.n]
	d.n = 0
	resp, err := ParseSensorResponse(frame)
	if err != nil {
		return SensorResponse{}, false, err
	}
	return resp, true, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"errors"
	"testing"
)

// feedServo decodes data and returns the number of published frames and
// checksum errors
func feedServo(r *Receiver, data []byte) (frames, errs int) {
	for _, b := range data {
		ok, err := r.DecodeServoByte(b)
		if err != nil {
			errs++
		}
		if ok {
			frames++
		}
	}
	return frames, errs
}

func testFrame() ChannelFrame {
	var f ChannelFrame
	for i := range f {
		f[i] = uint16(1000 + 50*i)
	}
	return f
}

// ============================================================
// Servo Decoder Tests
// ============================================================

func TestReceiver_ServoFrameValid(t *testing.T) {
	r := NewReceiver()
	want := testFrame()
	enc := EncodeServoFrame(want)

	frames, errs := feedServo(r, enc[:])
	if frames != 1 || errs != 0 {
		t.Fatalf("Expected 1 frame and no errors, got %d frames, %d errors", frames, errs)
	}
	if r.Frame() != want {
		t.Errorf("Frame mismatch:\n  want %v\n  got  %v", want, r.Frame())
	}
}

func TestReceiver_ServoFramePublishedOnLastByte(t *testing.T) {
	r := NewReceiver()
	enc := EncodeServoFrame(testFrame())

	for i, b := range enc {
		ok, err := r.DecodeServoByte(b)
		if err != nil {
			t.Fatalf("Unexpected error at byte %d: %v", i, err)
		}
		if ok != (i == ServoFrameSize-1) {
			t.Fatalf("Byte %d: ok=%v", i, ok)
		}
		if i < ServoFrameSize-1 && r.Frame() != (ChannelFrame{}) {
			t.Fatalf("Frame visible before checksum at byte %d", i)
		}
	}
}

func TestReceiver_ServoChecksumMismatch(t *testing.T) {
	r := NewReceiver()
	good := testFrame()
	enc := EncodeServoFrame(good)
	feedServo(r, enc[:])

	var other ChannelFrame
	other[3] = 2000
	bad := EncodeServoFrame(other)
	bad[30] ^= 0x01

	frames, errs := feedServo(r, bad[:])
	if frames != 0 || errs != 1 {
		t.Fatalf("Expected 0 frames and 1 error, got %d frames, %d errors", frames, errs)
	}
	if r.Frame() != good {
		t.Errorf("Frame must be unchanged after a checksum failure")
	}
}

func TestReceiver_ServoChecksumErrorIsSentinel(t *testing.T) {
	r := NewReceiver()
	enc := EncodeServoFrame(ChannelFrame{})
	enc[31] = 0x00

	var last error
	for _, b := range enc {
		if _, err := r.DecodeServoByte(b); err != nil {
			last = err
		}
	}
	if !errors.Is(last, ErrChecksum) {
		t.Errorf("Expected ErrChecksum, got %v", last)
	}
}

func TestReceiver_ServoMasksTo12Bits(t *testing.T) {
	r := NewReceiver()
	// Build a frame by hand with bits set above the 12-bit field
	data := []byte{SyncLo, SyncHi}
	for i := 0; i < NumChannels; i++ {
		data = append(data, 0xFF, 0xFF)
	}
	sum := Checksum(data)
	data = append(data, byte(sum), byte(sum>>8))

	frames, _ := feedServo(r, data)
	if frames != 1 {
		t.Fatalf("Expected 1 frame, got %d", frames)
	}
	for i, v := range r.Frame() {
		if v != 0x0FFF {
			t.Errorf("Channel %d: expected 0x0FFF, got 0x%04X", i+1, v)
		}
	}
}

func TestReceiver_ServoResyncAfterTruncation(t *testing.T) {
	r := NewReceiver()
	want := testFrame()
	enc := EncodeServoFrame(want)

	// A frame cut off halfway, then a complete one
	stream := append([]byte{}, enc[:17]...)
	stream = append(stream, enc[:]...)

	frames, errs := feedServo(r, stream)
	if frames != 1 || errs != 0 {
		t.Fatalf("Expected 1 frame and no errors, got %d frames, %d errors", frames, errs)
	}
	if r.Frame() != want {
		t.Errorf("Frame mismatch after resync")
	}
}

func TestReceiver_ServoIgnoresNoise(t *testing.T) {
	r := NewReceiver()
	noise := []byte{0x00, 0x40, 0x20, 0x21, 0x41, 0xFF, 0x20}
	frames, errs := feedServo(r, noise)
	if frames != 0 || errs != 0 {
		t.Errorf("Noise without sync should be ignored, got %d frames, %d errors", frames, errs)
	}
}

func TestReceiver_ServoBackToBack(t *testing.T) {
	r := NewReceiver()
	var stream []byte
	for i := 0; i < 5; i++ {
		var f ChannelFrame
		f[0] = uint16(1000 + i)
		enc := EncodeServoFrame(f)
		stream = append(stream, enc[:]...)
	}
	frames, errs := feedServo(r, stream)
	if frames != 5 || errs != 0 {
		t.Fatalf("Expected 5 frames, got %d frames, %d errors", frames, errs)
	}
	if r.Frame()[0] != 1004 {
		t.Errorf("Expected last frame published, got ch1=%d", r.Frame()[0])
	}
}

// ============================================================
// Sensor Request Decoder Tests
// ============================================================

func decodeRequest(r *Receiver, data []byte) (SensorRequest, bool, error) {
	var (
		req SensorRequest
		ok  bool
		err error
	)
	for _, b := range data {
		q, done, e := r.DecodeSensorByte(b)
		if done {
			req, ok = q, true
		}
		if e != nil {
			err = e
		}
	}
	return req, ok, err
}

func TestReceiver_SensorRequestValid(t *testing.T) {
	r := NewReceiver()
	r.ResetSensor()

	enc := EncodeSensorRequest(0xA2)
	req, ok, err := decodeRequest(r, enc[:])
	if err != nil || !ok {
		t.Fatalf("Expected a request, got ok=%v err=%v", ok, err)
	}
	if req.Command != 0xA2 || req.Length != 4 || req.Bytes() != enc {
		t.Errorf("Unexpected request %+v", req)
	}
}

func TestReceiver_SensorRequestsInSameWindow(t *testing.T) {
	r := NewReceiver()
	r.ResetSensor()

	for _, cmd := range []Command{0x81, 0x91, 0xA1} {
		enc := EncodeSensorRequest(cmd)
		req, ok, err := decodeRequest(r, enc[:])
		if err != nil || !ok || req.Command != cmd {
			t.Fatalf("cmd 0x%02X: ok=%v err=%v req=%+v", uint8(cmd), ok, err, req)
		}
	}
}

func TestReceiver_SensorRequestIgnoredUntilArmed(t *testing.T) {
	r := NewReceiver()
	enc := EncodeSensorRequest(0x81)
	if _, ok, err := decodeRequest(r, enc[:]); ok || err != nil {
		t.Errorf("Unarmed assembler should ignore bytes, got ok=%v err=%v", ok, err)
	}
}

func TestReceiver_SensorSyncLost(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"bad checksum", []byte{0x04, 0x81, 0x7B, 0xFF}},
		{"bad length", func() []byte {
			b := []byte{0x06, 0x81}
			s := Checksum(b)
			return append(b, byte(s), byte(s>>8))
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReceiver()
			r.ResetSensor()

			_, ok, err := decodeRequest(r, tt.data)
			if ok || !errors.Is(err, ErrSyncLost) {
				t.Fatalf("Expected ErrSyncLost, got ok=%v err=%v", ok, err)
			}

			// Latched until re-armed
			good := EncodeSensorRequest(0x81)
			if _, ok, _ := decodeRequest(r, good[:]); ok {
				t.Errorf("Assembler should stay latched after sync loss")
			}

			r.ResetSensor()
			if _, ok, _ := decodeRequest(r, good[:]); !ok {
				t.Errorf("Assembler should accept requests after ResetSensor")
			}
		})
	}
}

func TestReceiver_ResetKeepsFrame(t *testing.T) {
	r := NewReceiver()
	want := testFrame()
	enc := EncodeServoFrame(want)
	feedServo(r, enc[:])

	r.Reset()
	if r.Frame() != want {
		t.Errorf("Reset must not clear the published frame")
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomFrame(rng *rand.Rand) ChannelFrame {
	var f ChannelFrame
	for i := range f {
		f[i] = uint16(rng.Intn(ChannelMask + 1))
	}
	return f
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzzReceiver_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	r := NewReceiver()

	// Random input must never panic
	for i := 0; i < getFuzzRounds()*ServoFrameSize; i++ {
		r.DecodeServoByte(byte(rng.Intn(256)))
	}
	r.ResetSensor()
	for i := 0; i < getFuzzRounds()*SensorRequestSize; i++ {
		if _, _, err := r.DecodeSensorByte(byte(rng.Intn(256))); err != nil {
			r.ResetSensor()
		}
	}
}

func TestFuzzReceiver_ValidFrames(t *testing.T) {
	rng := newFuzzRng(t)
	r := NewReceiver()

	for round := 0; round < getFuzzRounds(); round++ {
		want := randomFrame(rng)
		enc := EncodeServoFrame(want)

		var published int
		for _, b := range enc {
			if ok, err := r.DecodeServoByte(b); err != nil {
				t.Fatalf("Round %d: unexpected error %v", round, err)
			} else if ok {
				published++
			}
		}
		if published != 1 {
			t.Fatalf("Round %d: expected 1 frame, got %d", round, published)
		}
		if r.Frame() != want {
			t.Fatalf("Round %d: frame mismatch", round)
		}
	}
}

func TestFuzzReceiver_GarbageThenFrame(t *testing.T) {
	rng := newFuzzRng(t)
	r := NewReceiver()

	for round := 0; round < getFuzzRounds(); round++ {
		garbage := make([]byte, rng.Intn(64))
		rng.Read(garbage)
		for _, b := range garbage {
			r.DecodeServoByte(b)
		}

		want := randomFrame(rng)
		enc := EncodeServoFrame(want)
		var last bool
		for _, b := range enc {
			last, _ = r.DecodeServoByte(b)
		}
		if !last || r.Frame() != want {
			t.Fatalf("Round %d: a valid frame after % X was not accepted", round, garbage)
		}
	}
}

func TestFuzzReceiver_CorruptedFrames(t *testing.T) {
	rng := newFuzzRng(t)
	r := NewReceiver()

	for round := 0; round < getFuzzRounds(); round++ {
		good := randomFrame(rng)
		enc := EncodeServoFrame(good)
		for _, b := range enc {
			r.DecodeServoByte(b)
		}

		bad := EncodeServoFrame(randomFrame(rng))
		// Flip one bit in the checksum so the frame can never match
		bad[ServoFrameSize-2+rng.Intn(2)] ^= 1 << uint(rng.Intn(8))

		var accepted bool
		for _, b := range bad {
			if ok, _ := r.DecodeServoByte(b); ok {
				accepted = true
			}
		}
		if accepted {
			t.Fatalf("Round %d: corrupted frame was accepted", round)
		}
		if r.Frame() != good {
			t.Fatalf("Round %d: corrupted frame modified the published frame", round)
		}
	}
}

// ============================================================
// Engine Fuzz Tests
// ============================================================

func TestFuzzEngine_ProbeEchoes(t *testing.T) {
	rng := newFuzzRng(t)
	sensors := make([]SensorConfig, MaxSensors)
	for i := range sensors {
		sensors[i] = SensorConfig{Type: TypeTemp, Line: uint8(i)}
	}
	rig := newRig(t, constADC(0), sensors)

	for round := 0; round < getFuzzRounds(); round++ {
		rig.sendFrame(randomFrame(rng))
		cmd := NewCommand(KindProbe, uint8(rng.Intn(MaxSensors)))
		rig.sendRequest(cmd)

		got := rig.drain(t)
		want := EncodeSensorRequest(cmd)
		if !bytes.Equal(got, want[:]) {
			t.Fatalf("Round %d: expected echo % X, got % X", round, want, got)
		}
		rig.engine.OnTimeout()
	}
}

func TestFuzzEngine_TypeChecksums(t *testing.T) {
	rng := newFuzzRng(t)
	sensors := make([]SensorConfig, MaxSensors)
	for i := range sensors {
		sensors[i] = SensorConfig{Type: SensorType(rng.Intn(0xFFFF) + 1), Line: uint8(i)}
	}
	rig := newRig(t, constADC(0), sensors)

	for round := 0; round < getFuzzRounds(); round++ {
		rig.sendFrame(randomFrame(rng))
		idx := uint8(rng.Intn(MaxSensors))
		rig.sendRequest(NewCommand(KindType, idx))

		got := rig.drain(t)
		if len(got) != SensorResponse2 {
			t.Fatalf("Round %d: expected 6 bytes, got % X", round, got)
		}
		chk := uint16(got[4]) | uint16(got[5])<<8
		if chk != Checksum(got[:4]) {
			t.Fatalf("Round %d: checksum 0x%04X != 0xFFFF - sum(% X)", round, chk, got[:4])
		}
		typ := SensorType(uint16(got[2]) | uint16(got[3])<<8)
		if typ != sensors[idx].Type {
			t.Fatalf("Round %d: expected type 0x%04X, got 0x%04X", round, uint16(sensors[idx].Type), uint16(typ))
		}
		rig.engine.OnTimeout()
	}
}

func TestFuzzEngine_RandomTraffic(t *testing.T) {
	rng := newFuzzRng(t)
	rig := newRig(t, constADC(300), DefaultSensors())

	// Arbitrary interleaving of bytes and events must keep the engine consistent
	for i := 0; i < getFuzzRounds()*10; i++ {
		switch rng.Intn(10) {
		case 0:
			rig.engine.OnTimeout()
		case 1, 2:
			rig.engine.OnByteSent()
		case 3:
			rig.sendFrame(randomFrame(rng))
		default:
			rig.engine.OnByteReceived(byte(rng.Intn(256)))
		}

		d := rig.engine.Direction()
		if d == FullDuplex && rig.line.halfDuplex {
			t.Fatalf("Step %d: full duplex with the line in half duplex", i)
		}
		if d != FullDuplex && !rig.line.halfDuplex {
			t.Fatalf("Step %d: %s with the line in full duplex", i, FormatDirection(d))
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

// Converter is the raw analog-to-digital primitive. ConversionResult is only
// valid after ConversionReady reported true.
type Converter interface {
	BeginConversion(line uint8)
	ConversionReady() bool
	ConversionResult() uint16
}

// SensorRecord is the oversampling state of one logical sensor.
type SensorRecord struct {
	Type      SensorType
	Line      uint8
	Calibrate Calibration

	ring   [RingSize]uint16
	next   uint8
	filled uint8
}

// Filled returns the number of real samples held in the ring (0..RingSize).
func (s *SensorRecord) Filled() uint8 {
	return s.filled
}

// Sampler maintains rolling averages over a shared, multiplexed converter.
type Sampler struct {
	adc Converter
}

// NewSampler returns a sampler bound to a converter.
func NewSampler(adc Converter) *Sampler {
	return &Sampler{adc: adc}
}

// Sample returns the average of the samples held before this call, then
// captures one fresh reading into the oldest slot. The reported value
// therefore lags one call behind the newest conversion.
//
// The input is multiplexed, so SettleConversions throwaway conversions run
// on the sensor's line before the capture. They are interleaved with the
// tail of the summation loop to hide their latency.
func (s *Sampler) Sample(rec *SensorRecord) uint16 {
	var sum uint32
	for i := 0; i < RingSize; i++ {
		sum += uint32(rec.ring[i])
		if i < RingSize-SettleConversions {
			continue
		}
		s.convert(rec.Line)
	}
	rec.ring[rec.next] = s.convert(rec.Line)
	rec.next = (rec.next + 1) % RingSize
	if rec.filled < RingSize {
		rec.filled++
	}
	return uint16(sum / uint32(rec.filled))
}

// convert runs one conversion and busy-waits for it. This is the only
// blocking point inside the link handlers.
func (s *Sampler) convert(line uint8) uint16 {
	s.adc.BeginConversion(line)
	for !s.adc.ConversionReady() {
	}
	return s.adc.ConversionResult()
}

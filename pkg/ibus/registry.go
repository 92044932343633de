// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import "fmt"

// Calibration converts a raw averaged reading into the value reported on
// the bus. A nil Calibration reports the raw average.
type Calibration func(avg uint16) uint32

// TMP36 converts a 10-bit reading of a TMP36 into iBUS temperature units
// (0.1°C with a +40°C offset) for a reference voltage in millivolts.
// Readings below -40°C report zero.
func TMP36(vrefMV uint32) Calibration {
	return func(avg uint16) uint32 {
		mv := (uint32(avg) * vrefMV) >> 10
		if mv < 100 {
			return 0
		}
		return mv - 100
	}
}

// Divider converts a 10-bit reading of a resistor divider into centivolts.
// scale is the full-scale input voltage in centivolts: vref*(R1+R2)/R2.
func Divider(scale uint32) Calibration {
	return func(avg uint16) uint32 {
		return (uint32(avg) * scale) >> 10
	}
}

// Raw reports the averaged reading unchanged.
func Raw(avg uint16) uint32 {
	return uint32(avg)
}

// SensorConfig describes one sensor at registration time.
type SensorConfig struct {
	Type      SensorType
	Line      uint8
	Calibrate Calibration
}

// DefaultSensors is the stock deployment: a TMP36 on line 3 and a battery
// divider on line 4.
func DefaultSensors() []SensorConfig {
	return []SensorConfig{
		{Type: TypeTemp, Line: 3, Calibrate: TMP36(3325)},
		{Type: TypeExtVoltage, Line: 4, Calibrate: Divider(3657)},
	}
}

// Registry maps sensor indexes to their type codes and averaged values.
type Registry struct {
	sampler *Sampler
	sensors []SensorRecord
}

// NewRegistry builds a registry over a converter. Indexes follow the order
// of cfgs.
func NewRegistry(adc Converter, cfgs []SensorConfig) (*Registry, error) {
	if len(cfgs) > MaxSensors {
		return nil, fmt.Errorf("too many sensors: %d (max %d)", len(cfgs), MaxSensors)
	}
	if len(cfgs) > 0 && adc == nil {
		return nil, fmt.Errorf("sensors configured without a converter")
	}
	r := &Registry{
		sampler: NewSampler(adc),
		sensors: make([]SensorRecord, len(cfgs)),
	}
	for i, c := range cfgs {
		if c.Type == 0 {
			return nil, fmt.Errorf("sensor %d: type code must not be zero", i)
		}
		r.sensors[i] = SensorRecord{Type: c.Type, Line: c.Line, Calibrate: c.Calibrate}
	}
	return r, nil
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sensors)
}

// Type returns the type code of sensor i.
func (r *Registry) Type(i uint8) (SensorType, bool) {
	if int(i) >= r.Len() {
		return 0, false
	}
	return r.sensors[i].Type, true
}

// Value samples sensor i and returns its calibrated rolling average.
func (r *Registry) Value(i uint8) (uint32, bool) {
	if int(i) >= r.Len() {
		return 0, false
	}
	rec := &r.sensors[i]
	avg := r.sampler.Sample(rec)
	if rec.Calibrate == nil {
		return uint32(avg), true
	}
	return rec.Calibrate(avg), true
}

// Filled returns the filled-count of sensor i.
func (r *Registry) Filled(i uint8) uint8 {
	if int(i) >= r.Len() {
		return 0
	}
	return r.sensors[i].filled
}

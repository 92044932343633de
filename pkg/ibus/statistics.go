// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"fmt"
	"time"
)

// Statistics counts link events. Counters are only written from the
// handlers; readers take a copy through Engine.Snapshot.
type Statistics struct {
	ServoFrames         uint32
	ServoChecksumErrors uint32
	SensorRequests      uint32
	SensorSyncLost      uint32
	Unanswered          uint32 // unknown index, kind or width
	Responses           uint32
	BytesSent           uint32
	Timeouts            uint32
}

// Errors returns the number of frames dropped by validation.
func (s Statistics) Errors() uint32 {
	return s.ServoChecksumErrors + s.SensorSyncLost
}

// String returns the counters on one line.
func (s Statistics) String() string {
	return fmt.Sprintf("frames=%d chk_err=%d requests=%d sync_lost=%d unanswered=%d responses=%d tx=%d timeouts=%d",
		s.ServoFrames, s.ServoChecksumErrors, s.SensorRequests, s.SensorSyncLost,
		s.Unanswered, s.Responses, s.BytesSent, s.Timeouts)
}

// Rates holds per-second rates computed over an observation window.
type Rates struct {
	FrameRate    float64 // servo frames/sec
	RequestRate  float64 // sensor requests/sec
	ErrorRate    float64 // errors/sec
	TimeoutRatio float64 // timeouts per accepted servo frame
}

// CalculateRates computes rates for the given elapsed time.
func (s Statistics) CalculateRates(elapsed time.Duration) Rates {
	var r Rates
	if sec := elapsed.Seconds(); sec > 0 {
		r.FrameRate = float64(s.ServoFrames) / sec
		r.RequestRate = float64(s.SensorRequests) / sec
		r.ErrorRate = float64(s.Errors()) / sec
	}
	if s.ServoFrames > 0 {
		r.TimeoutRatio = float64(s.Timeouts) / float64(s.ServoFrames)
	}
	return r
}

// Report formats a statistics summary for the given elapsed time.
func (s Statistics) Report(elapsed time.Duration) string {
	r := s.CalculateRates(elapsed)

	total := s.ServoFrames + s.ServoChecksumErrors
	var validPercent float64
	if total > 0 {
		validPercent = float64(s.ServoFrames) * 100.0 / float64(total)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Servo Frames:    %8d (%.1f%% valid)\n", s.ServoFrames, validPercent)
	if s.ServoChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ServoChecksumErrors)
	}
	result += fmt.Sprintf("Sensor Requests: %8d\n", s.SensorRequests)
	if s.SensorSyncLost > 0 {
		result += fmt.Sprintf("  Sync Lost:        %5d\n", s.SensorSyncLost)
	}
	if s.Unanswered > 0 {
		result += fmt.Sprintf("  Unanswered:       %5d\n", s.Unanswered)
	}
	result += fmt.Sprintf("Responses:       %8d (%d bytes)\n", s.Responses, s.BytesSent)
	result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", r.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", r.ErrorRate)
	result += "================================\n"

	return result
}

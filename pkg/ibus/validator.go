// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"errors"
	"fmt"
)

// AnomalyType represents different types of link anomalies
type AnomalyType int

const (
	AnomalyChannelRange AnomalyType = iota
	AnomalyChecksum
	AnomalySyncLost
	AnomalyDecodeError
)

// Plausible servo pulse range in microseconds. Values outside it decode
// fine but usually mean a misconfigured transmitter or a corrupted frame
// that happened to pass the checksum.
const (
	ChannelMin = 800
	ChannelMax = 2200
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateChannelFrame checks every channel of an accepted frame.
// Returns a slice of validation errors (empty if the frame is plausible)
func ValidateChannelFrame(f ChannelFrame) []ValidationError {
	errs := []ValidationError{}
	for i, v := range f {
		if v < ChannelMin || v > ChannelMax {
			errs = append(errs, ValidationError{
				Type:    AnomalyChannelRange,
				Message: fmt.Sprintf("Channel %d out of range (%d, valid %d-%d)", i+1, v, ChannelMin, ChannelMax),
				Details: map[string]interface{}{"channel": i + 1, "value": v},
			})
		}
	}
	return errs
}

// ClassifyDecodeError maps a decoder error to its anomaly.
func ClassifyDecodeError(err error) ValidationError {
	switch {
	case errors.Is(err, ErrChecksum):
		return ValidationError{Type: AnomalyChecksum, Message: "Servo frame checksum mismatch"}
	case errors.Is(err, ErrSyncLost):
		return ValidationError{Type: AnomalySyncLost, Message: "Sensor request sync lost"}
	default:
		return ValidationError{Type: AnomalyDecodeError, Message: fmt.Sprintf("Decode error: %v", err)}
	}
}

// FormatAnomaly returns the human-readable name for an anomaly type
func FormatAnomaly(t AnomalyType) string {
	switch t {
	case AnomalyChannelRange:
		return "CHANNEL_RANGE"
	case AnomalyChecksum:
		return "CHECKSUM"
	case AnomalySyncLost:
		return "SYNC_LOST"
	default:
		return "DECODE_ERROR"
	}
}

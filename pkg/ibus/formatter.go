// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ibus

import (
	"fmt"
	"strings"
)

// FormatChannelFrame formats a channel frame into a human-readable string
func FormatChannelFrame(f ChannelFrame) string {
	var b strings.Builder
	for i, v := range f {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "ch%d=%d", i+1, v)
	}
	return b.String()
}

// FormatKind returns the human-readable name for a command kind
func FormatKind(kind uint8) string {
	switch kind {
	case KindProbe:
		return "PROBE"
	case KindType:
		return "TYPE"
	case KindValue:
		return "VALUE"
	default:
		return "UNKNOWN"
	}
}

// FormatCommand formats a sensor command byte
func FormatCommand(c Command) string {
	if c&0x0F == 0 {
		return fmt.Sprintf("%s (0x%02X) addr=0", FormatKind(c.Kind()), uint8(c))
	}
	return fmt.Sprintf("%s (0x%02X) sensor=%d", FormatKind(c.Kind()), uint8(c), c.Index())
}

// FormatSensorType returns the human-readable name for a sensor type code
func FormatSensorType(t SensorType) string {
	var name string
	switch t.ID() {
	case SensorIntVoltage:
		name = "INT_VOLTAGE"
	case SensorTemp:
		name = "TEMPERATURE"
	case SensorRPM:
		name = "RPM"
	case SensorExtVoltage:
		name = "EXT_VOLTAGE"
	default:
		name = "UNKNOWN"
	}
	return fmt.Sprintf("%s (0x%04X, %d bytes)", name, uint16(t), t.Width())
}

// FormatSensorValue converts a reported value into physical units where the
// sensor type is known.
func FormatSensorValue(t SensorType, v uint32) string {
	switch t.ID() {
	case SensorTemp:
		// 0.1°C with a +40°C offset
		return fmt.Sprintf("%.1f°C", (float64(v)-400)/10)
	case SensorIntVoltage, SensorExtVoltage:
		return fmt.Sprintf("%.2f V", float64(v)/100)
	case SensorRPM:
		return fmt.Sprintf("%d RPM", v)
	default:
		return fmt.Sprintf("%d", v)
	}
}

// FormatDirection returns the human-readable name for a bus direction
func FormatDirection(d Direction) string {
	switch d {
	case FullDuplex:
		return "FULL_DUPLEX"
	case HalfDuplexListening:
		return "HALF_DUPLEX_RX"
	case HalfDuplexTransmitting:
		return "HALF_DUPLEX_TX"
	default:
		return "UNKNOWN"
	}
}

// FormatResponse formats a decoded sensor frame. A 4-byte frame is a request
// or, for probes, the device's echo of one.
func FormatResponse(r SensorResponse) string {
	result := FormatCommand(r.Command)
	if r.Width == 0 {
		if r.Command.Kind() == KindProbe {
			return "REQUEST/ECHO " + result + "\n"
		}
		return "REQUEST " + result + "\n"
	}
	switch r.Command.Kind() {
	case KindProbe:
		return result + "  present\n"
	case KindType:
		return result + fmt.Sprintf("  Type: %s\n", FormatSensorType(SensorType(r.Value)))
	default:
		return result + fmt.Sprintf("  Value: %d (%d bytes)\n", r.Value, r.Width)
	}
}

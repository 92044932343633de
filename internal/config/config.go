// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the TOML deployment profile: link timing, the sensor
// table, the simulated ADC and MQTT publication.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// Duration is a time.Duration written as a string ("3.6ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Profile struct {
	Link    LinkConfig     `toml:"link"`
	Sensors []SensorConfig `toml:"sensors"`
	ADC     ADCConfig      `toml:"adc"`
	MQTT    MQTTConfig     `toml:"mqtt"`
}

type LinkConfig struct {
	Baud       int      `toml:"baud"`
	Turnaround Duration `toml:"turnaround"`
	ServoOnly  bool     `toml:"servo_only"`
}

type SensorConfig struct {
	Type        uint16 `toml:"type"`
	Line        uint8  `toml:"line"`
	Calibration string `toml:"calibration"` // tmp36 | divider | raw
	Scale       uint32 `toml:"scale"`

	// Simulated input for host emulation, in raw 10-bit counts
	SimValue uint16 `toml:"sim_value"`
	SimNoise uint16 `toml:"sim_noise"`
}

type ADCConfig struct {
	// Polls before a conversion reports ready
	ReadyPolls int `toml:"ready_polls"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	TopicPrefix string `toml:"topic_prefix"`
	ClientID    string `toml:"client_id"`
	QoS         byte   `toml:"qos"`
}

const (
	CalTMP36   = "tmp36"
	CalDivider = "divider"
	CalRaw     = "raw"
)

// Default scales for the stock board: 3.325V reference, 11:1 battery divider.
const (
	DefaultTMP36Scale   = 3325
	DefaultDividerScale = 3657
)

// Default returns the stock deployment: a TMP36 on line 3 and a battery
// divider on line 4.
func Default() Profile {
	return Profile{
		Link: LinkConfig{
			Baud:       115200,
			Turnaround: Duration{ibus.DefaultTurnaround},
		},
		Sensors: []SensorConfig{
			{Type: uint16(ibus.TypeTemp), Line: 3, Calibration: CalTMP36, Scale: DefaultTMP36Scale, SimValue: 200, SimNoise: 2},
			{Type: uint16(ibus.TypeExtVoltage), Line: 4, Calibration: CalDivider, Scale: DefaultDividerScale, SimValue: 350, SimNoise: 4},
		},
		ADC: ADCConfig{ReadyPolls: 1},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "ibuslink",
		},
	}
}

// Load reads a profile from path on top of the defaults. Unknown keys are
// rejected. A file that defines any sensors replaces the default table.
func Load(path string) (Profile, error) {
	cfg := Default()
	cfg.Sensors = nil
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Profile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := finish(&cfg, meta); err != nil {
		return Profile{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses a profile from a string on top of the defaults.
func Decode(data string) (Profile, error) {
	cfg := Default()
	cfg.Sensors = nil
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Profile{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := finish(&cfg, meta); err != nil {
		return Profile{}, err
	}
	return cfg, nil
}

func finish(cfg *Profile, meta toml.MetaData) error {
	if err := checkUndecoded(meta); err != nil {
		return err
	}
	if !meta.IsDefined("sensors") {
		cfg.Sensors = Default().Sensors
	}
	fillSensorDefaults(cfg.Sensors)
	return Validate(*cfg)
}

func checkUndecoded(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

func fillSensorDefaults(sensors []SensorConfig) {
	for i := range sensors {
		s := &sensors[i]
		s.Calibration = strings.ToLower(strings.TrimSpace(s.Calibration))
		if s.Calibration == "" {
			s.Calibration = CalRaw
		}
		if s.Scale == 0 {
			switch s.Calibration {
			case CalTMP36:
				s.Scale = DefaultTMP36Scale
			case CalDivider:
				s.Scale = DefaultDividerScale
			}
		}
	}
}

func Validate(cfg Profile) error {
	if cfg.Link.Baud <= 0 {
		return fmt.Errorf("link baud must be positive")
	}
	if !cfg.Link.ServoOnly && cfg.Link.Turnaround.Duration <= 0 {
		return fmt.Errorf("link turnaround must be positive")
	}
	if len(cfg.Sensors) > ibus.MaxSensors {
		return fmt.Errorf("too many sensors: %d (max %d)", len(cfg.Sensors), ibus.MaxSensors)
	}
	lines := make(map[uint8]int, len(cfg.Sensors))
	for i, s := range cfg.Sensors {
		if err := ValidateSensor(s); err != nil {
			return fmt.Errorf("sensor[%d] invalid: %w", i, err)
		}
		// Sensors on one line read one simulated input.
		if j, ok := lines[s.Line]; ok {
			o := cfg.Sensors[j]
			if o.SimValue != s.SimValue || o.SimNoise != s.SimNoise {
				return fmt.Errorf("sensor[%d] shares line %d with sensor[%d] but sets a different sim_value or sim_noise", i, s.Line, j)
			}
			continue
		}
		lines[s.Line] = i
	}
	if cfg.ADC.ReadyPolls < 0 {
		return fmt.Errorf("adc ready_polls must not be negative")
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if strings.TrimSpace(cfg.MQTT.TopicPrefix) == "" {
			return fmt.Errorf("mqtt topic_prefix is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}
	return nil
}

func ValidateSensor(s SensorConfig) error {
	t := ibus.SensorType(s.Type)
	if t == 0 {
		return fmt.Errorf("type is required")
	}
	if w := t.Width(); w != 2 && w != 4 {
		return fmt.Errorf("type 0x%04X: payload width %d is not 2 or 4", s.Type, w)
	}
	if s.Line > 15 {
		return fmt.Errorf("line %d out of range (0-15)", s.Line)
	}
	if s.SimValue > 1023 {
		return fmt.Errorf("sim_value %d exceeds the 10-bit range", s.SimValue)
	}
	switch s.Calibration {
	case CalTMP36, CalDivider:
		if s.Scale == 0 {
			return fmt.Errorf("%s calibration needs a scale", s.Calibration)
		}
	case CalRaw:
	default:
		return fmt.Errorf("unknown calibration %q", s.Calibration)
	}
	return nil
}

// Calibrate returns the converter for the sensor's calibration name.
func (s SensorConfig) Calibrate() ibus.Calibration {
	switch s.Calibration {
	case CalTMP36:
		return ibus.TMP36(s.Scale)
	case CalDivider:
		return ibus.Divider(s.Scale)
	default:
		return ibus.Raw
	}
}

// SensorConfigs converts the sensor table for ibus.NewRegistry.
func (p Profile) SensorConfigs() []ibus.SensorConfig {
	out := make([]ibus.SensorConfig, len(p.Sensors))
	for i, s := range p.Sensors {
		out[i] = ibus.SensorConfig{
			Type:      ibus.SensorType(s.Type),
			Line:      s.Line,
			Calibrate: s.Calibrate(),
		}
	}
	return out
}

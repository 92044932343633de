// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	require.Equal(t, ibus.DefaultTurnaround, cfg.Link.Turnaround.Duration)
	require.Len(t, cfg.Sensors, 2)
}

func TestDecode_EmptyKeepsDefaults(t *testing.T) {
	cfg, err := Decode("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestDecode_FullProfile(t *testing.T) {
	cfg, err := Decode(`
[link]
baud = 115200
turnaround = "5ms"

[[sensors]]
type = 0x0201
line = 2
calibration = "TMP36"

[[sensors]]
type = 0x0402
line = 7
sim_value = 100

[adc]
ready_polls = 3

[mqtt]
enabled = true
broker = "tcp://broker:1883"
topic_prefix = "rx/boat"
qos = 1
`)
	require.NoError(t, err)
	require.Equal(t, 5*time.Millisecond, cfg.Link.Turnaround.Duration)
	require.Len(t, cfg.Sensors, 2)

	require.Equal(t, CalTMP36, cfg.Sensors[0].Calibration)
	require.EqualValues(t, DefaultTMP36Scale, cfg.Sensors[0].Scale)
	require.Equal(t, CalRaw, cfg.Sensors[1].Calibration)
	require.EqualValues(t, 0, cfg.Sensors[1].SimNoise, "sensor tables must not inherit default entries")

	require.Equal(t, 3, cfg.ADC.ReadyPolls)
	require.True(t, cfg.MQTT.Enabled)
	require.Equal(t, "rx/boat", cfg.MQTT.TopicPrefix)

	sc := cfg.SensorConfigs()
	require.Equal(t, ibus.SensorType(0x0402), sc[1].Type)
	require.EqualValues(t, 7, sc[1].Line)
	require.EqualValues(t, 1234, sc[1].Calibrate(1234))
}

func TestDecode_EmptySensorTable(t *testing.T) {
	cfg, err := Decode("sensors = []\n")
	require.NoError(t, err)
	require.Empty(t, cfg.Sensors)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "[link]\nbogus = 1\n",
		"bad duration":      "[link]\nturnaround = \"soon\"\n",
		"zero turnaround":   "[link]\nturnaround = \"0s\"\n",
		"width 3":           "[[sensors]]\ntype = 0x0301\n",
		"zero type":         "[[sensors]]\nline = 1\n",
		"line out of range": "[[sensors]]\ntype = 0x0201\nline = 16\n",
		"bad calibration":   "[[sensors]]\ntype = 0x0201\ncalibration = \"magic\"\n",
		"sim over range":    "[[sensors]]\ntype = 0x0201\nsim_value = 2000\n",
		"mqtt no broker":    "[mqtt]\nenabled = true\nbroker = \"\"\n",
		"mqtt bad qos":      "[mqtt]\nenabled = true\nqos = 3\n",
		"shared line":       "[[sensors]]\ntype = 0x0201\nline = 2\nsim_value = 100\n[[sensors]]\ntype = 0x0203\nline = 2\nsim_value = 300\n",
	}
	for name, data := range cases {
		_, err := Decode(data)
		require.Error(t, err, name)
	}
}

func TestDecode_SharedLineSameInput(t *testing.T) {
	cfg, err := Decode(`
[[sensors]]
type = 0x0201
line = 2
sim_value = 300

[[sensors]]
type = 0x0203
line = 2
sim_value = 300
`)
	require.NoError(t, err)
	require.Len(t, cfg.Sensors, 2)
}

func TestDecode_ServoOnlyAllowsZeroTurnaround(t *testing.T) {
	cfg, err := Decode("[link]\nservo_only = true\nturnaround = \"0s\"\n")
	require.NoError(t, err)
	require.True(t, cfg.Link.ServoOnly)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ibuslink.toml")
	require.NoError(t, os.WriteFile(path, []byte("[adc]\nready_polls = 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.ADC.ReadyPolls)
	require.Len(t, cfg.Sensors, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSensorConfigs_Calibrations(t *testing.T) {
	sc := Default().SensorConfigs()
	require.Len(t, sc, 2)
	require.Equal(t, ibus.TypeTemp, sc[0].Type)
	require.EqualValues(t, 1562, sc[0].Calibrate(512))
	require.EqualValues(t, 3653, sc[1].Calibrate(1023))

	reg, err := ibus.NewRegistry(constConverter{}, sc)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())
}

type constConverter struct{}

func (constConverter) BeginConversion(uint8)    {}
func (constConverter) ConversionReady() bool    { return true }
func (constConverter) ConversionResult() uint16 { return 0 }

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ibuslink/internal/capture"
	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/internal/sim"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

func centered() ibus.ChannelFrame {
	var f ibus.ChannelFrame
	for i := range f {
		f[i] = 1500
	}
	return f
}

func TestServoMonitor_SyncAndErrors(t *testing.T) {
	mon := newServoMonitor()

	var events []servoEvent
	feed := func(data []byte) {
		for _, b := range data {
			if ev, ok := mon.feed(b); ok {
				events = append(events, ev)
			}
		}
	}

	feed([]byte{0x01, 0x02, 0x03})
	good := ibus.EncodeServoFrame(centered())
	feed(good[:])
	require.True(t, mon.synchronized)
	require.Equal(t, 3, mon.skipped)
	require.Len(t, events, 1)
	require.Empty(t, events[0].anomalies)

	bad := good
	bad[ibus.ServoFrameSize-1] ^= 0xFF
	feed(bad[:])
	require.Len(t, events, 2)
	require.ErrorIs(t, events[1].decodeErr, ibus.ErrChecksum)

	f := centered()
	f[5] = 2400
	out := ibus.EncodeServoFrame(f)
	feed(out[:])
	require.Len(t, events, 3)
	require.Len(t, events[2].anomalies, 1)

	require.EqualValues(t, 2, mon.stats.ServoFrames)
	require.EqualValues(t, 1, mon.stats.ServoChecksumErrors)
	require.EqualValues(t, 1, mon.anomalous)
}

func TestTrafficTap_DecodesResponsesAndCaptures(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf)
	require.NoError(t, err)
	tap := &trafficTap{rec: w, out: make(chan trafficMsg, 4)}

	tap.observe(sim.TapRx, []byte{0x04, 0x81, 0x7A, 0xFF})
	for _, b := range []byte{0x06, 0x91, 0x01, 0x02, 0x65, 0xFF} {
		tap.observe(sim.TapTx, []byte{b})
		tap.observe(sim.TapDiscard, []byte{b})
	}

	require.Len(t, tap.out, 1)
	m := <-tap.out
	require.Equal(t, ibus.Command(0x91), m.resp.Command)
	require.EqualValues(t, ibus.TypeTemp, m.resp.Value)
	require.Equal(t, 13, w.Count())

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)
	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Equal(t, capture.DirRx, recs[0].Dir)
	require.Equal(t, capture.DirTx, recs[1].Dir)
	require.Equal(t, capture.DirDiscard, recs[2].Dir)
}

func TestTrafficTap_DropsWhenFull(t *testing.T) {
	tap := &trafficTap{out: make(chan trafficMsg)}
	tap.observe(sim.TapTx, []byte{0x04, 0x81, 0x7A, 0xFF})
	require.Equal(t, 1, tap.drops)
}

func TestSimSources(t *testing.T) {
	profile := config.Default()
	profile.Sensors[0].SimNoise = 0

	sources := simSources(profile, 1)
	require.Len(t, sources, 2)
	require.Equal(t, sim.Constant(200), sources[3])

	noisy, ok := sources[4].(*sim.Noisy)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		v := noisy.Read()
		require.GreaterOrEqual(t, v, uint16(346))
		require.LessOrEqual(t, v, uint16(354))
	}
}

func TestSimSources_SharedLine(t *testing.T) {
	profile := config.Default()
	profile.Sensors[1].Line = profile.Sensors[0].Line
	profile.Sensors[1].SimValue = profile.Sensors[0].SimValue
	profile.Sensors[1].SimNoise = profile.Sensors[0].SimNoise
	require.NoError(t, config.Validate(profile))

	sources := simSources(profile, 1)
	require.Len(t, sources, 1)

	profile.Sensors[1].SimValue++
	require.Error(t, config.Validate(profile))
}

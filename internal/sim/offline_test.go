// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

func TestOffline_FrameRequestAndTimeout(t *testing.T) {
	opts := stockOptions()
	opts.Turnaround = ibus.DefaultTurnaround
	o, err := NewOffline(opts)
	require.NoError(t, err)

	t0 := time.Unix(1000, 0)
	enc := ibus.EncodeServoFrame(ibus.ChannelFrame{})
	require.Empty(t, o.Feed(t0, enc[:]))
	require.Equal(t, ibus.HalfDuplexListening, o.Engine().Direction())

	req := ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindType, 0))
	out := o.Feed(t0.Add(time.Millisecond), req[:])
	resp, err := ibus.ParseSensorResponse(out)
	require.NoError(t, err)
	require.EqualValues(t, ibus.TypeTemp, resp.Value)

	// A request after the window closed is read as servo noise
	req = ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindProbe, 0))
	require.Empty(t, o.Feed(t0.Add(5*time.Millisecond), req[:]))
	require.Equal(t, ibus.FullDuplex, o.Engine().Direction())
	require.EqualValues(t, 1, o.Stats().Timeouts)
}

func TestOffline_RequestInSameChunkAsFrame(t *testing.T) {
	o, err := NewOffline(stockOptions())
	require.NoError(t, err)

	enc := ibus.EncodeServoFrame(ibus.ChannelFrame{})
	req := ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindProbe, 1))
	chunk := append(enc[:], req[:]...)

	require.Equal(t, req[:], o.Feed(time.Unix(0, 0), chunk))
}

func TestNewOffline_Validation(t *testing.T) {
	_, err := NewOffline(Options{})
	require.Error(t, err)
	_, err = NewOffline(Options{ServoOnly: true})
	require.NoError(t, err)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package master

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ibuslink/internal/sim"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// startDevice runs an emulated board on one end of a pipe and returns a
// master on the other.
func startDevice(t *testing.T, opts sim.Options) (*Master, chan ibus.ChannelFrame) {
	t.Helper()
	dev, host := net.Pipe()

	frames := make(chan ibus.ChannelFrame, 64)
	nop := zerolog.Nop()
	opts.Logger = &nop
	opts.ControlLaw = ibus.ControlLawFunc(func(f ibus.ChannelFrame) {
		select {
		case frames <- f:
		default:
		}
	})
	board, err := sim.NewBoard(dev, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		board.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		host.Close()
		dev.Close()
		<-done
	})

	m := New(host, Options{
		ReplyTimeout: 200 * time.Millisecond,
		Gap:          40 * time.Millisecond,
		Logger:       &nop,
	})
	return m, frames
}

func stockDevice() sim.Options {
	return sim.Options{
		Turnaround: 20 * time.Millisecond,
		Sensors:    ibus.DefaultSensors(),
		Sources: map[uint8]sim.Source{
			3: sim.Constant(200),
			4: sim.Constant(350),
		},
	}
}

func TestMaster_Discover(t *testing.T) {
	m, _ := startDevice(t, stockDevice())

	found, err := m.Discover()
	require.NoError(t, err)
	require.Equal(t, []Sensor{
		{Index: 0, Type: ibus.TypeTemp},
		{Index: 1, Type: ibus.TypeExtVoltage},
	}, found)
}

func TestMaster_Value(t *testing.T) {
	m, _ := startDevice(t, stockDevice())

	v, err := m.Value(1)
	require.NoError(t, err)
	require.Zero(t, v, "first value averages an empty ring")

	v, err = m.Value(1)
	require.NoError(t, err)
	require.EqualValues(t, 624, v)
}

func TestMaster_FramesReachControlLaw(t *testing.T) {
	m, frames := startDevice(t, stockDevice())

	var f ibus.ChannelFrame
	f[2] = 1100
	m.SetFrame(f)
	require.NoError(t, m.SendFrame())

	select {
	case got := <-frames:
		require.Equal(t, f, got)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestMaster_SilentDevice(t *testing.T) {
	opts := stockDevice()
	opts.ServoOnly = true
	m, _ := startDevice(t, opts)

	ok, err := m.Probe(0)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.Type(0)
	require.ErrorIs(t, err, ErrNoResponse)

	found, err := m.Discover()
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestMaster_ReadError(t *testing.T) {
	dev, host := net.Pipe()
	m := New(host, Options{ReplyTimeout: time.Second})

	// Drain the request so the write completes, then drop the link
	go func() {
		buf := make([]byte, 64)
		dev.Read(buf)
		dev.Close()
	}()

	_, err := m.Probe(0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoResponse)

	_, err = m.Value(0)
	require.Error(t, err, "the master stays failed after a read error")
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ibuslink/internal/capture"
	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

func recordSession(t *testing.T, tx []byte) *capture.Reader {
	t.Helper()
	return recordSessionEcho(t, tx, false)
}

// recordSessionEcho records a Type exchange. With echo, every transmitted
// byte is followed by its loopback, as the board records it on a
// single-wire adapter.
func recordSessionEcho(t *testing.T, tx []byte, echo bool) *capture.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0)
	enc := ibus.EncodeServoFrame(ibus.ChannelFrame{})
	req := ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindType, 1))
	chunk := append(enc[:], req[:]...)
	require.NoError(t, w.Write(capture.Record{Time: t0, Dir: capture.DirRx, Data: chunk}))
	for i, b := range tx {
		require.NoError(t, w.Write(capture.Record{
			Time: t0.Add(time.Duration(i+1) * 100 * time.Microsecond),
			Dir:  capture.DirTx,
			Data: []byte{b},
		}))
		if echo {
			require.NoError(t, w.Write(capture.Record{
				Time: t0.Add(time.Duration(i+1)*100*time.Microsecond + 10*time.Microsecond),
				Dir:  capture.DirDiscard,
				Data: []byte{b},
			}))
		}
	}

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)
	return r
}

func TestReplayCapture_Matches(t *testing.T) {
	// Type response for sensor 1: EXT_VOLTAGE
	body := []byte{0x06, 0x92, 0x03, 0x02}
	chk := ibus.Checksum(body)
	tx := append(body, byte(chk), byte(chk>>8))

	res, err := replayCapture(recordSession(t, tx), config.Default(), nil)
	require.NoError(t, err)
	require.Equal(t, 1+len(tx), res.records)
	require.Equal(t, 1, res.responses)
	require.Zero(t, res.mismatches)
	require.EqualValues(t, 1, res.stats.ServoFrames)
	require.EqualValues(t, 1, res.stats.Responses)
}

func TestReplayCapture_DetectsMismatch(t *testing.T) {
	// Recorded a temperature sensor at index 1, the profile says voltage
	body := []byte{0x06, 0x92, 0x01, 0x02}
	chk := ibus.Checksum(body)
	tx := append(body, byte(chk), byte(chk>>8))

	res, err := replayCapture(recordSession(t, tx), config.Default(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.mismatches)
}

func TestReplayCapture_MissingResponse(t *testing.T) {
	res, err := replayCapture(recordSession(t, nil), config.Default(), nil)
	require.NoError(t, err)
	require.Zero(t, res.responses)
	require.Equal(t, 1, res.mismatches, "the engine answered where the recording is silent")
}

func TestReplayCapture_SkipsAdapterEcho(t *testing.T) {
	body := []byte{0x06, 0x92, 0x03, 0x02}
	chk := ibus.Checksum(body)
	tx := append(body, byte(chk), byte(chk>>8))

	res, err := replayCapture(recordSessionEcho(t, tx, true), config.Default(), nil)
	require.NoError(t, err)
	require.Equal(t, 1+2*len(tx), res.records)
	require.Equal(t, 1, res.responses)
	require.Zero(t, res.mismatches)
	require.Zero(t, res.stats.SensorSyncLost)
	require.EqualValues(t, 1, res.stats.SensorRequests)
}

func TestReplayCapture_WaitsForCompleteResponse(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0)
	write := func(at time.Duration, dir capture.Dir, data []byte) {
		require.NoError(t, w.Write(capture.Record{Time: t0.Add(at), Dir: dir, Data: data}))
	}
	enc := ibus.EncodeServoFrame(ibus.ChannelFrame{})
	typeReq := ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindType, 1))
	probeReq := ibus.EncodeSensorRequest(ibus.NewCommand(ibus.KindProbe, 0))

	body := []byte{0x06, 0x92, 0x03, 0x02}
	chk := ibus.Checksum(body)
	resp := append(body, byte(chk), byte(chk>>8))

	write(0, capture.DirRx, append(enc[:], typeReq[:]...))
	write(100*time.Microsecond, capture.DirTx, resp[:3])
	// the next request lands before the recorded response finished
	write(200*time.Microsecond, capture.DirRx, probeReq[:])
	write(300*time.Microsecond, capture.DirTx, resp[3:])
	write(400*time.Microsecond, capture.DirTx, probeReq[:])

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)
	res, err := replayCapture(r, config.Default(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.responses)
	require.Zero(t, res.mismatches)
}

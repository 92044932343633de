// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package master drives a link from the receiver's side: it sends servo
// frames and polls sensors the way a FlySky receiver does.
package master

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// ErrNoResponse is returned when a sensor stays silent past the reply timeout.
var ErrNoResponse = errors.New("master: no response")

const (
	DefaultReplyTimeout = 50 * time.Millisecond
	DefaultGap          = 10 * time.Millisecond
)

// Options configure a Master.
type Options struct {
	// ReplyTimeout bounds the wait for one response.
	ReplyTimeout time.Duration
	// Gap is the quiet time kept between cycles so the device's half-duplex
	// window expires before the next servo frame.
	Gap time.Duration
	// Echo skips our own bytes looped back by a single-wire adapter.
	Echo bool
	// Frame is sent ahead of every request. Defaults to all channels
	// centered.
	Frame  *ibus.ChannelFrame
	Logger *zerolog.Logger
}

// Sensor is one sensor found by Discover.
type Sensor struct {
	Index uint8
	Type  ibus.SensorType
}

// Master is not safe for concurrent use.
type Master struct {
	w       io.Writer
	opts    Options
	frame   ibus.ChannelFrame
	dec     ibus.ResponseDecoder
	chunks  chan []byte
	readErr chan error
	last    time.Time
	log     zerolog.Logger
	err     error
}

// New starts reading from conn. The reader exits when conn is closed.
func New(conn io.ReadWriter, opts Options) *Master {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.Gap <= 0 {
		opts.Gap = DefaultGap
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	m := &Master{
		w:       conn,
		opts:    opts,
		chunks:  make(chan []byte, 64),
		readErr: make(chan error, 1),
		log:     logger.With().Str("component", "master").Logger(),
	}
	if opts.Frame != nil {
		m.frame = *opts.Frame
	} else {
		for i := range m.frame {
			m.frame[i] = 1500
		}
	}
	go m.readLoop(conn)
	return m
}

func (m *Master) readLoop(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.chunks <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			m.readErr <- err
			return
		}
	}
}

// SetFrame replaces the servo frame sent ahead of each request.
func (m *Master) SetFrame(f ibus.ChannelFrame) {
	m.frame = f
}

// SendFrame sends one servo frame on its own.
func (m *Master) SendFrame() error {
	m.pace()
	enc := ibus.EncodeServoFrame(m.frame)
	_, err := m.w.Write(enc[:])
	m.last = time.Now()
	return err
}

// Request sends a servo frame followed by cmd and waits for the matching
// response.
func (m *Master) Request(cmd ibus.Command) (ibus.SensorResponse, error) {
	if m.err != nil {
		return ibus.SensorResponse{}, m.err
	}
	m.pace()
	m.flush()

	enc := ibus.EncodeServoFrame(m.frame)
	req := ibus.EncodeSensorRequest(cmd)
	out := append(enc[:], req[:]...)
	if _, err := m.w.Write(out); err != nil {
		return ibus.SensorResponse{}, fmt.Errorf("master: write: %w", err)
	}
	defer func() { m.last = time.Now() }()

	skip := 0
	if m.opts.Echo {
		skip = len(out)
	}

	deadline := time.NewTimer(m.opts.ReplyTimeout)
	defer deadline.Stop()
	for {
		select {
		case chunk := <-m.chunks:
			for _, b := range chunk {
				if skip > 0 {
					skip--
					continue
				}
				resp, ok, err := m.dec.DecodeByte(b)
				if err != nil {
					m.log.Trace().Err(err).Msg("discarding")
					continue
				}
				if ok && resp.Command == cmd {
					return resp, nil
				}
			}
		case err := <-m.readErr:
			m.err = fmt.Errorf("master: read: %w", err)
			return ibus.SensorResponse{}, m.err
		case <-deadline.C:
			return ibus.SensorResponse{}, fmt.Errorf("%w to %s", ErrNoResponse, ibus.FormatCommand(cmd))
		}
	}
}

// pace keeps the configured gap since the previous cycle.
func (m *Master) pace() {
	if m.last.IsZero() {
		return
	}
	if wait := m.opts.Gap - time.Since(m.last); wait > 0 {
		time.Sleep(wait)
	}
}

// flush drops anything that arrived between cycles.
func (m *Master) flush() {
	m.dec.Reset()
	for {
		select {
		case <-m.chunks:
		default:
			return
		}
	}
}

// Probe reports whether a sensor answers at index.
func (m *Master) Probe(index uint8) (bool, error) {
	_, err := m.Request(ibus.NewCommand(ibus.KindProbe, index))
	if errors.Is(err, ErrNoResponse) {
		return false, nil
	}
	return err == nil, err
}

// Type asks the sensor at index for its type.
func (m *Master) Type(index uint8) (ibus.SensorType, error) {
	resp, err := m.Request(ibus.NewCommand(ibus.KindType, index))
	if err != nil {
		return 0, err
	}
	return ibus.SensorType(resp.Value), nil
}

// Value asks the sensor at index for a measurement.
func (m *Master) Value(index uint8) (uint32, error) {
	resp, err := m.Request(ibus.NewCommand(ibus.KindValue, index))
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Discover probes every address and asks present sensors for their type.
// Discovery stops at the first empty address, as receivers do.
func (m *Master) Discover() ([]Sensor, error) {
	var found []Sensor
	for i := uint8(0); i < ibus.MaxSensors; i++ {
		ok, err := m.Probe(i)
		if err != nil {
			return found, err
		}
		if !ok {
			break
		}
		typ, err := m.Type(i)
		if err != nil {
			return found, err
		}
		m.log.Debug().Uint8("index", i).Str("type", ibus.FormatSensorType(typ)).Msg("sensor found")
		found = append(found, Sensor{Index: i, Type: typ})
	}
	return found, nil
}

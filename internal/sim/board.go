// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim runs the link engine on a host: a byte stream stands in for the
// UART, goroutines stand in for the interrupt sources and a single event loop
// serializes them into the engine's handlers.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// TapDir tells a Tap which way bytes travelled.
type TapDir uint8

const (
	TapRx TapDir = iota
	TapTx
	// TapDiscard carries bytes that reached the wire but not the decoder:
	// adapter echo and bytes arriving while the receiver is off.
	TapDiscard
)

// Tap observes link traffic. It is called from the event loop and must not
// block or call back into the board.
type Tap func(dir TapDir, data []byte)

type evKind uint8

const (
	evRx evKind = iota
	evTxDone
	evTimeout
	evIOErr
)

type event struct {
	kind evKind
	data []byte
	gen  uint64
	err  error
}

// Options configures a Board.
type Options struct {
	Turnaround time.Duration
	ServoOnly  bool
	Sensors    []ibus.SensorConfig
	Sources    map[uint8]Source
	ReadyPolls int
	ControlLaw ibus.ControlLaw

	// Echo drops transmitted bytes that come back on the receive side, as
	// single-wire adapters loop them back. The loopback may arrive before or
	// after the board learns the byte left.
	Echo bool

	Tap    Tap
	Logger *zerolog.Logger
}

// Board is the emulated receiver-side microcontroller.
type Board struct {
	engine *ibus.Engine
	conn   io.ReadWriter
	mask   *Mask
	line   *Line
	timer  *Timer
	adc    *ADC
	tap    Tap
	log    zerolog.Logger

	events chan event
	done   chan struct{}
}

// NewBoard wires an engine to conn.
func NewBoard(conn io.ReadWriter, opts Options) (*Board, error) {
	if conn == nil {
		return nil, errors.New("sim: board requires a connection")
	}
	if opts.Turnaround <= 0 && !opts.ServoOnly {
		return nil, fmt.Errorf("sim: turnaround must be positive, got %s", opts.Turnaround)
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	b := &Board{
		conn:   conn,
		mask:   &Mask{},
		line:   newLine(),
		tap:    opts.Tap,
		log:    logger.With().Str("component", "board").Logger(),
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
	b.line.echo = opts.Echo
	b.timer = newTimer(opts.Turnaround, b.post)
	b.adc = NewADC(opts.Sources, opts.ReadyPolls)

	reg, err := ibus.NewRegistry(b.adc, opts.Sensors)
	if err != nil {
		return nil, fmt.Errorf("sensor registry: %w", err)
	}
	b.engine, err = ibus.NewEngine(ibus.Config{
		Line:       b.line,
		Timer:      b.timer,
		ControlLaw: opts.ControlLaw,
		Sensors:    reg,
		ServoOnly:  opts.ServoOnly,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Engine returns the engine driven by the board.
func (b *Board) Engine() *ibus.Engine {
	return b.engine
}

// ADC returns the simulated converter.
func (b *Board) ADC() *ADC {
	return b.adc
}

// Snapshot takes a consistent copy of the engine state. It must not be
// called from the control law or a Tap.
func (b *Board) Snapshot() ibus.Snapshot {
	return b.engine.Snapshot(b.mask)
}

// SetSource swaps the analog source on line while the link runs.
func (b *Board) SetSource(line uint8, src Source) {
	state := b.mask.Disable()
	b.adc.SetSource(line, src)
	b.mask.Restore(state)
}

// Run services the link until ctx is cancelled or the connection fails. It
// returns nil on cancellation. The caller closes the connection to release
// the reader.
func (b *Board) Run(ctx context.Context) error {
	defer close(b.done)
	go b.readLoop()
	go b.writeLoop()

	b.log.Debug().
		Dur("turnaround", b.timer.period).
		Int("sensors", b.engine.Sensors().Len()).
		Msg("link running")

	for {
		select {
		case <-ctx.Done():
			b.stop()
			return nil
		case ev := <-b.events:
			if ev.kind == evIOErr {
				b.stop()
				return fmt.Errorf("link i/o: %w", ev.err)
			}
			b.handle(ev)
		}
	}
}

func (b *Board) stop() {
	state := b.mask.Disable()
	b.timer.stop()
	b.mask.Restore(state)
	b.log.Debug().Stringer("stats", b.Snapshot().Stats).Msg("link stopped")
}

// post delivers an event to the loop. It reports false once the loop exited.
func (b *Board) post(ev event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

func (b *Board) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !b.post(event{kind: evRx, data: data}) {
				return
			}
		}
		if err != nil {
			b.post(event{kind: evIOErr, err: err})
			return
		}
	}
}

func (b *Board) writeLoop() {
	for {
		select {
		case c := <-b.line.txq:
			if _, err := b.conn.Write([]byte{c}); err != nil {
				b.post(event{kind: evIOErr, err: err})
				return
			}
			if !b.post(event{kind: evTxDone, data: []byte{c}}) {
				return
			}
		case <-b.done:
			return
		}
	}
}

// handle runs one hardware event with the mask held.
func (b *Board) handle(ev event) {
	state := b.mask.Disable()
	defer b.mask.Restore(state)

	switch ev.kind {
	case evRx:
		var heard, discarded []byte
		for _, c := range ev.data {
			if b.line.dropEcho(c) {
				discarded = append(discarded, c)
				continue
			}
			if !b.line.receiving() {
				b.log.Trace().Uint8("byte", c).Msg("receiver off, byte discarded")
				discarded = append(discarded, c)
				continue
			}
			heard = append(heard, c)
			b.engine.OnByteReceived(c)
			b.kick()
		}
		if len(heard) > 0 {
			b.observe(TapRx, heard)
		}
		if len(discarded) > 0 {
			b.observe(TapDiscard, discarded)
		}
	case evTxDone:
		b.observe(TapTx, ev.data)
		b.line.inflight--
		if b.line.mode == ibus.LineDrain && b.line.inflight == 0 {
			// transmit complete
			b.engine.OnByteSent()
		}
		b.kick()
	case evTimeout:
		if b.timer.current(ev.gen) {
			b.engine.OnTimeout()
			b.kick()
		}
	}
}

// kick raises transmit-ready when the interrupt is enabled on an idle data
// register.
func (b *Board) kick() {
	if b.line.txReady() {
		b.engine.OnByteSent()
	}
}

func (b *Board) observe(dir TapDir, data []byte) {
	if b.tap != nil {
		b.tap(dir, data)
	}
}

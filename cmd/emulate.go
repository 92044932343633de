// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/capture"
	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/internal/mqttpub"
	"github.com/Thermoquad/ibuslink/internal/sim"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	emulateTUI        bool
	emulateCapture    string
	emulateMQTT       bool
	emulateServoOnly  bool
	emulateEcho       bool
	emulateTurnaround time.Duration
	emulateStats      int
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate the receiver-side link on a real connection",
	Long: `Run the link engine against the connection as if it were the flight
controller's UART.

Servo frames are decoded and forwarded to the control law. After each frame the
bus turns half duplex and sensor requests are answered from the profile's
sensor table, sampling simulated analog inputs. When the turnaround window
expires the bus returns to full duplex for the next servo frame.

Use --echo with single-wire adapters that loop transmitted bytes back.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().BoolVar(&emulateTUI, "tui", false, "Show the live dashboard")
	emulateCmd.Flags().StringVar(&emulateCapture, "capture", "", "Record link traffic to this file")
	emulateCmd.Flags().BoolVar(&emulateMQTT, "mqtt", false, "Publish channels and telemetry to MQTT (overrides profile)")
	emulateCmd.Flags().BoolVar(&emulateServoOnly, "servo-only", false, "Never answer sensor requests")
	emulateCmd.Flags().BoolVar(&emulateEcho, "echo", false, "Drop transmitted bytes echoed back by the adapter")
	emulateCmd.Flags().DurationVar(&emulateTurnaround, "turnaround", 0, "Half-duplex window (default from profile)")
	emulateCmd.Flags().IntVar(&emulateStats, "stats-interval", 10, "Statistics interval in seconds (0 to disable)")
}

// simSources builds the analog inputs from the profile's simulated values.
// Sensors sharing a line share the first sensor's source.
func simSources(profile config.Profile, seed int64) map[uint8]sim.Source {
	sources := make(map[uint8]sim.Source, len(profile.Sensors))
	for i, s := range profile.Sensors {
		if _, ok := sources[s.Line]; ok {
			continue
		}
		if s.SimNoise == 0 {
			sources[s.Line] = sim.Constant(s.SimValue)
			continue
		}
		sources[s.Line] = sim.NewNoisy(s.SimValue, s.SimNoise, seed+int64(i))
	}
	return sources
}

// trafficMsg is a sensor response seen leaving the emulated device.
type trafficMsg struct {
	at   time.Time
	resp ibus.SensorResponse
}

// trafficTap records link traffic and decodes outgoing responses. It runs
// inside the board's event loop.
type trafficTap struct {
	rec   *capture.Writer
	tx    ibus.ResponseDecoder
	out   chan trafficMsg
	drops int
}

func (t *trafficTap) observe(dir sim.TapDir, data []byte) {
	now := time.Now()
	if t.rec != nil {
		d := capture.DirRx
		switch dir {
		case sim.TapTx:
			d = capture.DirTx
		case sim.TapDiscard:
			d = capture.DirDiscard
		}
		if err := t.rec.Write(capture.Record{Time: now, Dir: d, Data: data}); err != nil {
			log.Error().Err(err).Msg("capture write failed")
			t.rec = nil
		}
	}
	if dir != sim.TapTx {
		return
	}
	for _, b := range data {
		resp, ok, _ := t.tx.DecodeByte(b)
		if !ok {
			continue
		}
		select {
		case t.out <- trafficMsg{at: now, resp: resp}:
		default:
			t.drops++
		}
	}
}

func runEmulate(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("servo-only") {
		profile.Link.ServoOnly = emulateServoOnly
	}
	if emulateTurnaround > 0 {
		profile.Link.Turnaround = config.Duration{Duration: emulateTurnaround}
	}
	if emulateMQTT {
		profile.MQTT.Enabled = true
	}
	if err := config.Validate(profile); err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(profile.Link.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tap := &trafficTap{out: make(chan trafficMsg, 64)}
	if emulateCapture != "" {
		f, err := os.Create(emulateCapture)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		defer f.Close()
		if tap.rec, err = capture.NewWriter(f); err != nil {
			return err
		}
	}

	var law ibus.ControlLaw
	var pub *mqttpub.Publisher
	if profile.MQTT.Enabled {
		pub, err = mqttpub.Dial(mqttpub.Options{
			Broker:      profile.MQTT.Broker,
			TopicPrefix: profile.MQTT.TopicPrefix,
			ClientID:    profile.MQTT.ClientID,
			QoS:         profile.MQTT.QoS,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		law = pub
	}

	board, err := sim.NewBoard(conn, sim.Options{
		Turnaround: profile.Link.Turnaround.Duration,
		ServoOnly:  profile.Link.ServoOnly,
		Sensors:    profile.SensorConfigs(),
		Sources:    simSources(profile, time.Now().UnixNano()),
		ReadyPolls: profile.ADC.ReadyPolls,
		ControlLaw: law,
		Echo:       emulateEcho,
		Tap:        tap.observe,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("connection", connInfo).
		Dur("turnaround", profile.Link.Turnaround.Duration).
		Int("sensors", len(profile.Sensors)).
		Bool("servo_only", profile.Link.ServoOnly).
		Msg("emulating link")

	runErr := make(chan error, 1)
	go func() {
		runErr <- board.Run(ctx)
		// release the reader
		conn.Close()
	}()

	if emulateTUI {
		p := tea.NewProgram(newEmulateModel(board, profile, connInfo))
		go forwardTraffic(ctx, tap.out, pub, profile, p.Send)
		linkErr := make(chan error, 1)
		go func() {
			err := <-runErr
			linkErr <- err
			p.Send(linkDownMsg{err: err})
		}()
		_, tuiErr := p.Run()
		stop()
		err := <-linkErr
		if tuiErr != nil {
			return fmt.Errorf("TUI error: %w", tuiErr)
		}
		return err
	}

	go forwardTraffic(ctx, tap.out, pub, profile, nil)
	return reportLoop(ctx, board, pub, runErr)
}

// forwardTraffic hands decoded responses to MQTT and the dashboard outside
// the event loop.
func forwardTraffic(ctx context.Context, in <-chan trafficMsg, pub *mqttpub.Publisher, profile config.Profile, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-in:
			if send != nil {
				send(m)
			}
			if pub == nil || m.resp.Command.Kind() != ibus.KindValue {
				continue
			}
			idx := m.resp.Command.Index()
			if int(idx) >= len(profile.Sensors) {
				continue
			}
			typ := ibus.SensorType(profile.Sensors[idx].Type)
			if err := pub.PublishSensor(idx, typ, m.resp.Value); err != nil {
				log.Warn().Err(err).Msg("sensor publish failed")
			}
		}
	}
}

func reportLoop(ctx context.Context, board *sim.Board, pub *mqttpub.Publisher, runErr <-chan error) error {
	var tick <-chan time.Time
	if emulateStats > 0 {
		t := time.NewTicker(time.Duration(emulateStats) * time.Second)
		defer t.Stop()
		tick = t.C
	}
	start := time.Now()
	for {
		select {
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-tick:
			snap := board.Snapshot()
			r := snap.Stats.CalculateRates(time.Since(start))
			log.Info().
				Str("direction", ibus.FormatDirection(snap.Direction)).
				Stringer("stats", snap.Stats).
				Float64("frame_rate", r.FrameRate).
				Float64("request_rate", r.RequestRate).
				Msg("link statistics")
			if pub != nil {
				if err := pub.PublishSnapshot(snap); err != nil {
					log.Warn().Err(err).Msg("stats publish failed")
				}
			}
		case <-ctx.Done():
			return <-runErr
		}
	}
}

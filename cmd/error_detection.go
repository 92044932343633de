// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze corrupted servo frames",
	Long: `Track servo frame errors and out-of-range channels with statistics.

This command listens on the servo line and detects:
  - Checksum failures
  - Channels outside the usual 800..2200 µs range
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// servoEvent is one decoder outcome on the servo line.
type servoEvent struct {
	at        time.Time
	frame     ibus.ChannelFrame
	decodeErr error
	anomalies []ibus.ValidationError
}

// servoMonitor feeds bytes through a receiver and tracks sync and counters.
type servoMonitor struct {
	rx           *ibus.Receiver
	stats        ibus.Statistics
	anomalous    uint32
	synchronized bool
	skipped      int
}

func newServoMonitor() *servoMonitor {
	return &servoMonitor{rx: ibus.NewReceiver()}
}

// feed decodes one byte. It reports an event once the monitor has seen its
// first valid frame; errors before that only count as skipped bytes.
func (m *servoMonitor) feed(b byte) (servoEvent, bool) {
	ok, err := m.rx.DecodeServoByte(b)
	if err != nil {
		if !m.synchronized {
			m.skipped++
			return servoEvent{}, false
		}
		m.stats.ServoChecksumErrors++
		return servoEvent{at: time.Now(), decodeErr: err}, true
	}
	if !ok {
		if !m.synchronized {
			m.skipped++
		}
		return servoEvent{}, false
	}
	if !m.synchronized {
		m.synchronized = true
		m.skipped -= ibus.ServoFrameSize - 1
		if m.skipped < 0 {
			m.skipped = 0
		}
	}
	m.stats.ServoFrames++
	ev := servoEvent{at: time.Now(), frame: m.rx.Frame()}
	ev.anomalies = ibus.ValidateChannelFrame(ev.frame)
	if len(ev.anomalies) > 0 {
		m.anomalous++
	}
	return ev, true
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	conn, connInfo, err := OpenConnection(profile.Link.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(ev servoEvent) {
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", ev.at.Format("15:04:05.000"), ev.decodeErr)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printAnomalies prints out-of-range channels for a frame
func printAnomalies(ev servoEvent) {
	fmt.Printf("[%s] \033[1;33mCHANNEL RANGE:\033[0m %d channel(s)\n", ev.at.Format("15:04:05.000"), len(ev.anomalies))
	for i, a := range ev.anomalies {
		fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		if ch, ok := a.Details["channel"].(int); ok {
			if v, ok := a.Details["value"].(uint16); ok {
				fmt.Printf("    ch%d=%d (valid: %d to %d)\n", ch, v, ibus.ChannelMin, ibus.ChannelMax)
			}
		}
	}
	fmt.Println()
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	mon := newServoMonitor()
	p := tea.NewProgram(initialModel(connInfo, statsInterval, showAll))

	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				wasSynced := mon.synchronized
				ev, ok := mon.feed(buf[i])
				if !ok {
					continue
				}
				if !wasSynced {
					p.Send(syncMsg{invalidBytes: mon.skipped})
				}
				p.Send(servoDataMsg(ev))
			}
			if err != nil {
				if isClosed(err) {
					p.Send(closedMsg{})
					return
				}
				log.Debug().Err(err).Msg("read error")
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("ibuslink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	mon := newServoMonitor()
	start := time.Now()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	chunks := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				if isClosed(err) {
					readErr <- err
					return
				}
				log.Debug().Err(err).Msg("read error")
			}
		}
	}()

	for {
		select {
		case data := <-chunks:
			for _, b := range data {
				wasSynced := mon.synchronized
				ev, ok := mon.feed(b)
				if !ok {
					continue
				}
				if !wasSynced {
					if mon.skipped > 0 {
						fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", mon.skipped)
					} else {
						fmt.Printf("[SYNC] Synchronized\n\n")
					}
				}
				switch {
				case ev.decodeErr != nil:
					printDecodeError(ev)
				case len(ev.anomalies) > 0:
					printAnomalies(ev)
				case showAll:
					fmt.Printf("[%s] %s\n", ev.at.Format("15:04:05.000"), ibus.FormatChannelFrame(ev.frame))
				}
			}

		case err := <-readErr:
			log.Info().Err(err).Msg("connection closed")
			fmt.Print(mon.stats.Report(time.Since(start)))
			return nil

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(mon.stats.Report(time.Since(start)))
			if mon.anomalous > 0 {
				fmt.Printf("Out-of-range frames: %d\n", mon.anomalous)
			}
			fmt.Println()
		}
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/master"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	controlTimeout int
	controlGap     int
	controlEcho    bool
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI acting as the receiver",
	Long: `Drive a link from the receiver's side via an interactive terminal UI.

The TUI streams servo frames with channel values you set, discovers the
sensors on the bus and keeps polling their values between frames.

Features:
  - Sensor discovery (probe and type requests)
  - Live sensor values
  - Channel editing
  - Event logging

Tab switches between the sensor list and the channel editor. Left and right
select a channel, enter applies the typed value.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().IntVar(&controlTimeout, "timeout", 50, "Reply timeout in milliseconds")
	controlCmd.Flags().IntVar(&controlGap, "gap", 10, "Quiet time between requests in milliseconds")
	controlCmd.Flags().BoolVar(&controlEcho, "echo", false, "Skip own bytes echoed by a single-wire adapter")
}

// controlLoop owns the master. The TUI only touches the frame.
type controlLoop struct {
	m    *master.Master
	mu   sync.Mutex
	next ibus.ChannelFrame
	send func(tea.Msg)
	done chan struct{}
}

// Messages
type discoveredMsg struct {
	sensors []master.Sensor
	err     error
}

type sensorValueMsg struct {
	index uint8
	value uint32
	err   error
}

type connectionLostMsg struct {
	err error
}

func (l *controlLoop) setChannel(ch int, v uint16) {
	l.mu.Lock()
	l.next[ch] = v & ibus.ChannelMask
	l.mu.Unlock()
}

func (l *controlLoop) frame() ibus.ChannelFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

func (l *controlLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *controlLoop) run() {
	l.m.SetFrame(l.frame())
	sensors, err := l.m.Discover()
	l.send(discoveredMsg{sensors: sensors, err: err})
	if err != nil {
		l.send(connectionLostMsg{err: err})
		return
	}

	for !l.stopped() {
		l.m.SetFrame(l.frame())
		if len(sensors) == 0 {
			if err := l.m.SendFrame(); err != nil {
				l.send(connectionLostMsg{err: err})
				return
			}
			continue
		}
		for _, s := range sensors {
			l.m.SetFrame(l.frame())
			v, err := l.m.Value(s.Index)
			if err != nil && !errors.Is(err, master.ErrNoResponse) {
				l.send(connectionLostMsg{err: err})
				return
			}
			l.send(sensorValueMsg{index: s.Index, value: v, err: err})
			if l.stopped() {
				return
			}
		}
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	conn, connInfo, err := OpenConnection(profile.Link.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	loop := &controlLoop{
		m:    newMaster(conn, controlTimeout, controlGap, controlEcho),
		done: make(chan struct{}),
	}
	for i := range loop.next {
		loop.next[i] = 1500
	}

	p := tea.NewProgram(initialControlModel(loop, connInfo), tea.WithAltScreen(), tea.WithMouseCellMotion())
	loop.send = p.Send
	go loop.run()

	_, err = p.Run()
	close(loop.done)
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

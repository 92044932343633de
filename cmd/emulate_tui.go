// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/internal/sim"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

const snapshotInterval = 250 * time.Millisecond

type snapshotMsg ibus.Snapshot
type linkDownMsg struct {
	err error
}

// sensorRow is the dashboard's view of one registered sensor.
type sensorRow struct {
	cfg       config.SensorConfig
	simValue  uint16
	lastValue string
	responses int
}

// emulateModel is the dashboard for a running board.
type emulateModel struct {
	board    *sim.Board
	connInfo string
	start    time.Time
	snap     ibus.Snapshot
	sensors  []sensorRow
	table    table.Model
	input    textinput.Model
	editing  bool
	log      eventLog
	linkDown bool
	width    int
	height   int
	quitting bool
}

func newEmulateModel(board *sim.Board, profile config.Profile, connInfo string) emulateModel {
	rows := make([]sensorRow, len(profile.Sensors))
	for i, s := range profile.Sensors {
		rows[i] = sensorRow{cfg: s, simValue: s.SimValue, lastValue: "-"}
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 3},
			{Title: "Line", Width: 4},
			{Title: "Type", Width: 30},
			{Title: "Cal", Width: 8},
			{Title: "ADC", Width: 5},
			{Title: "Value", Width: 12},
			{Title: "Resp", Width: 7},
		}),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)

	ti := textinput.New()
	ti.Placeholder = "0-1023"
	ti.CharLimit = 4
	ti.Width = 10

	m := emulateModel{
		board:    board,
		connInfo: connInfo,
		start:    time.Now(),
		sensors:  rows,
		table:    t,
		input:    ti,
		log:      eventLog{max: 50},
		width:    80,
		height:   24,
	}
	m.refreshRows()
	return m
}

func (m *emulateModel) refreshRows() {
	rows := make([]table.Row, len(m.sensors))
	for i, s := range m.sensors {
		rows[i] = table.Row{
			strconv.Itoa(i),
			strconv.Itoa(int(s.cfg.Line)),
			ibus.FormatSensorType(ibus.SensorType(s.cfg.Type)),
			s.cfg.Calibration,
			strconv.Itoa(int(s.simValue)),
			s.lastValue,
			strconv.Itoa(s.responses),
		}
	}
	m.table.SetRows(rows)
}

func (m emulateModel) snapshotCmd() tea.Cmd {
	board := m.board
	return tea.Tick(snapshotInterval, func(time.Time) tea.Msg {
		return snapshotMsg(board.Snapshot())
	})
}

func (m emulateModel) Init() tea.Cmd {
	return tea.Batch(m.snapshotCmd(), tea.EnterAltScreen)
}

func (m emulateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "e", "enter":
			if len(m.sensors) == 0 {
				return m, nil
			}
			m.editing = true
			m.input.SetValue(strconv.Itoa(int(m.sensors[m.table.Cursor()].simValue)))
			return m, m.input.Focus()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		m.snap = ibus.Snapshot(msg)
		return m, m.snapshotCmd()

	case trafficMsg:
		idx := int(msg.resp.Command.Index())
		if idx < len(m.sensors) {
			m.sensors[idx].responses++
			if msg.resp.Command.Kind() == ibus.KindValue {
				typ := ibus.SensorType(m.sensors[idx].cfg.Type)
				m.sensors[idx].lastValue = ibus.FormatSensorValue(typ, msg.resp.Value)
			}
			m.refreshRows()
		}

	case linkDownMsg:
		m.linkDown = true
		if msg.err != nil {
			m.log.add(fmt.Sprintf("Link stopped: %v", msg.err), true)
		} else {
			m.log.add("Link stopped", false)
		}
	}
	return m, nil
}

func (m emulateModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.editing = false
		m.input.Blur()
		v, err := strconv.ParseUint(strings.TrimSpace(m.input.Value()), 10, 16)
		if err != nil || v > 1023 {
			m.log.add(fmt.Sprintf("Invalid ADC value %q", m.input.Value()), true)
			return m, nil
		}
		i := m.table.Cursor()
		m.sensors[i].simValue = uint16(v)
		m.board.SetSource(m.sensors[i].cfg.Line, sim.Constant(v))
		m.log.add(fmt.Sprintf("Sensor %d: line %d set to %d", i, m.sensors[i].cfg.Line, v), false)
		m.refreshRows()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m emulateModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("IBUSLINK - EMULATOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | e: set ADC input | q: quit", m.connInfo)))
	s.WriteString("\n\n")

	dir := ibus.FormatDirection(m.snap.Direction)
	switch {
	case m.linkDown:
		s.WriteString(errorStyle.Render("✗ Link stopped"))
	case m.snap.Direction == ibus.FullDuplex:
		s.WriteString(statsValueStyle.Render("● " + dir))
	default:
		s.WriteString(warningStyle.Render("◐ " + dir))
	}
	s.WriteString("\n")

	st := m.snap.Stats
	r := st.CalculateRates(time.Since(m.start))
	stats := fmt.Sprintf("%s %s   %s %s   %s %s\n%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f/s)", st.ServoFrames, r.FrameRate)),
		statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f/s)", st.SensorRequests, r.RequestRate)),
		statsLabelStyle.Render("Responses:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Responses)),
		statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ServoChecksumErrors)),
		statsLabelStyle.Render("Sync lost:"), errorStyle.Render(fmt.Sprintf("%d", st.SensorSyncLost)),
		statsLabelStyle.Render("Timeouts:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Timeouts)),
	)
	s.WriteString(boxStyle.Render(stats))
	s.WriteString("\n")

	s.WriteString(renderChannels(m.snap.Frame, m.width))
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("Sensors:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")
	if m.editing {
		s.WriteString(fmt.Sprintf("%s %s  %s\n",
			statsLabelStyle.Render("ADC value:"), m.input.View(), headerStyle.Render("(enter to apply, esc to cancel)")))
	}

	s.WriteString(m.log.render(m.height-28, m.width))
	return s.String()
}

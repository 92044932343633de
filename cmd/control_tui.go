// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// Focus states
const (
	focusSensorList = iota
	focusChannelInput
)

// sensorItem is one discovered sensor in the list
type sensorItem struct {
	index    uint8
	typ      ibus.SensorType
	value    string
	timeouts int
	lastSeen time.Time
}

// Implement list.Item interface
func (s sensorItem) Title() string { return fmt.Sprintf("Sensor %d: %s", s.index, s.value) }
func (s sensorItem) Description() string {
	d := ibus.FormatSensorType(s.typ)
	if s.timeouts > 0 {
		d += fmt.Sprintf(" | %d timeouts", s.timeouts)
	}
	return d
}
func (s sensorItem) FilterValue() string { return strconv.Itoa(int(s.index)) }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	loop     *controlLoop
	connInfo string

	sensors    []sensorItem
	sensorList list.Model
	discovered bool

	channels     ibus.ChannelFrame
	channel      int
	channelInput textinput.Model
	focusedField int

	requests int
	timeouts int
	log      eventLog

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

func initialControlModel(loop *controlLoop, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "1500"
	ti.CharLimit = 4
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	sensorList := list.New([]list.Item{}, delegate, 40, 10)
	sensorList.Title = "Sensors"
	sensorList.SetShowStatusBar(false)
	sensorList.SetShowHelp(false)
	sensorList.SetFilteringEnabled(false)

	return controlModel{
		loop:         loop,
		connInfo:     connInfo,
		sensorList:   sensorList,
		channels:     loop.frame(),
		channelInput: ti,
		focusedField: focusSensorList,
		log:          eventLog{max: 100},
		width:        80,
		height:       24,
	}
}

func (m controlModel) Init() tea.Cmd {
	return nil
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sensorList.SetSize(40, m.height/2)

	case discoveredMsg:
		m.discovered = true
		for _, s := range msg.sensors {
			m.sensors = append(m.sensors, sensorItem{index: s.Index, typ: s.Type, value: "-"})
			m.log.add(fmt.Sprintf("Found sensor %d: %s", s.Index, ibus.FormatSensorType(s.Type)), false)
		}
		if len(msg.sensors) == 0 && msg.err == nil {
			m.log.add("No sensors answered, streaming frames only", false)
		}
		m.refreshList()

	case sensorValueMsg:
		m.requests++
		for i := range m.sensors {
			if m.sensors[i].index != msg.index {
				continue
			}
			if msg.err != nil {
				m.timeouts++
				m.sensors[i].timeouts++
			} else {
				m.sensors[i].value = ibus.FormatSensorValue(m.sensors[i].typ, msg.value)
				m.sensors[i].lastSeen = time.Now()
			}
		}
		m.refreshList()

	case connectionLostMsg:
		m.connectionLost = true
		m.log.add(fmt.Sprintf("Connection lost: %v", msg.err), true)
	}

	var cmd tea.Cmd
	if m.focusedField == focusSensorList {
		m.sensorList, cmd = m.sensorList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) refreshList() {
	items := make([]list.Item, len(m.sensors))
	for i, s := range m.sensors {
		items[i] = s
	}
	m.sensorList.SetItems(items)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusChannelInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		if m.focusedField == focusSensorList {
			m.focusedField = focusChannelInput
			return m, m.channelInput.Focus()
		}
		m.focusedField = focusSensorList
		m.channelInput.Blur()
		return m, nil

	case "left":
		if m.focusedField == focusChannelInput {
			m.channel = (m.channel + ibus.NumChannels - 1) % ibus.NumChannels
			return m, nil
		}

	case "right":
		if m.focusedField == focusChannelInput {
			m.channel = (m.channel + 1) % ibus.NumChannels
			return m, nil
		}

	case "enter":
		if m.focusedField == focusChannelInput {
			return m.applyChannel()
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusChannelInput {
		m.channelInput, cmd = m.channelInput.Update(msg)
	} else {
		m.sensorList, cmd = m.sensorList.Update(msg)
	}
	return m, cmd
}

func (m controlModel) applyChannel() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.log.add("Cannot change channels: connection lost", true)
		return m, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(m.channelInput.Value()), 10, 16)
	if err != nil || v > ibus.ChannelMask {
		m.log.add(fmt.Sprintf("Invalid channel value %q", m.channelInput.Value()), true)
		return m, nil
	}
	m.channels[m.channel] = uint16(v)
	m.loop.setChannel(m.channel, uint16(v))
	m.log.add(fmt.Sprintf("ch%d set to %d", m.channel+1, v), false)
	m.channelInput.SetValue("")
	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	focusedBoxStyle := boxStyle.BorderForeground(lipgloss.Color("12"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("IBUSLINK - CONTROL"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Tab: switch focus | q: quit", m.connInfo)))
	s.WriteString("\n\n")

	switch {
	case m.connectionLost:
		s.WriteString(errorStyle.Render("✗ Connection lost"))
	case !m.discovered:
		s.WriteString(warningStyle.Render("⏳ Discovering sensors..."))
	default:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("✓ %d sensor(s)", len(m.sensors))))
		s.WriteString(headerStyle.Render(fmt.Sprintf("  requests: %d  timeouts: %d", m.requests, m.timeouts)))
	}
	s.WriteString("\n")

	listBox := boxStyle
	editBox := boxStyle
	if m.focusedField == focusSensorList {
		listBox = focusedBoxStyle
	} else {
		editBox = focusedBoxStyle
	}

	var edit strings.Builder
	edit.WriteString(statsLabelStyle.Render(fmt.Sprintf("Channel %d", m.channel+1)))
	edit.WriteString(headerStyle.Render(fmt.Sprintf("  current: %d", m.channels[m.channel])))
	edit.WriteString("\n")
	edit.WriteString(m.channelInput.View())

	left := listBox.Render(m.sensorList.View())
	right := lipgloss.JoinVertical(lipgloss.Left,
		editBox.Render(edit.String()),
		renderChannels(m.channels, m.width-46),
	)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(m.log.render(m.height-30, m.width))
	return s.String()
}

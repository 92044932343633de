// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

// Styles shared by the terminal UIs
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// eventLog keeps the most recent entries.
type eventLog struct {
	entries []errorLogEntry
	max     int
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *eventLog) render(lines, width int) string {
	if lines < 5 {
		lines = 5
	}
	var b strings.Builder
	start := len(l.entries) - lines
	if start < 0 {
		start = 0
	}
	if len(l.entries) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range l.entries[start:] {
		ts := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", ts, errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", ts, warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return boxStyle.Width(width - 4).Render(b.String())
}

// channelBar renders one channel as a bar over the 1000..2000 µs stick range.
func channelBar(ch int, v uint16, width int) string {
	lo, hi := 1000, 2000
	pos := int(v) - lo
	if pos < 0 {
		pos = 0
	}
	if pos > hi-lo {
		pos = hi - lo
	}
	filled := pos * width / (hi - lo)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	value := statsValueStyle.Render(fmt.Sprintf("%4d", v))
	if v < ibus.ChannelMin || v > ibus.ChannelMax {
		value = warningStyle.Render(fmt.Sprintf("%4d", v))
	}
	return fmt.Sprintf("%s %s %s", statsLabelStyle.Render(fmt.Sprintf("ch%-2d", ch)), bar, value)
}

func renderChannels(f ibus.ChannelFrame, width int) string {
	barWidth := (width - 30) / 2
	if barWidth < 10 {
		barWidth = 10
	}
	var b strings.Builder
	half := ibus.NumChannels / 2
	for i := 0; i < half; i++ {
		b.WriteString(channelBar(i+1, f[i], barWidth))
		b.WriteString("  ")
		b.WriteString(channelBar(i+half+1, f[i+half], barWidth))
		if i < half-1 {
			b.WriteString("\n")
		}
	}
	return boxStyle.Render(b.String())
}

// TUI model for error_detection
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	start         time.Time
	stats         ibus.Statistics
	anomalous     uint32
	lastFrame     ibus.ChannelFrame
	haveFrame     bool
	log           eventLog
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	closed        bool
}

// Messages
type tickMsg time.Time
type servoDataMsg servoEvent
type syncMsg struct {
	invalidBytes int
}
type closedMsg struct{}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		start:         time.Now(),
		log:           eventLog{max: 100},
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.log.add(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.log.add("Synchronized", false)
		}

	case closedMsg:
		m.closed = true
		m.log.add("Connection closed", true)

	case servoDataMsg:
		switch {
		case msg.decodeErr != nil:
			m.stats.ServoChecksumErrors++
			a := ibus.ClassifyDecodeError(msg.decodeErr)
			m.log.add(fmt.Sprintf("%s: %v", ibus.FormatAnomaly(a.Type), msg.decodeErr), true)
		default:
			m.stats.ServoFrames++
			m.lastFrame = msg.frame
			m.haveFrame = true
			if len(msg.anomalies) > 0 {
				m.anomalous++
				for _, a := range msg.anomalies {
					m.log.add(a.Message, true)
				}
			} else if m.showAll {
				m.log.add(ibus.FormatChannelFrame(msg.frame), false)
			}
		}
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("IBUSLINK - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.closed:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderServoStats(m.stats, m.anomalous, time.Since(m.start))))
	s.WriteString("\n")

	if m.haveFrame {
		s.WriteString(renderChannels(m.lastFrame, m.width))
		s.WriteString("\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	logHeight := m.height - 22
	s.WriteString(m.log.render(logHeight, m.width))

	return s.String()
}

func renderServoStats(st ibus.Statistics, anomalous uint32, elapsed time.Duration) string {
	r := st.CalculateRates(elapsed)
	total := st.ServoFrames + st.ServoChecksumErrors
	var validPercent, errorPercent float64
	if total > 0 {
		validPercent = float64(st.ServoFrames) * 100.0 / float64(total)
		errorPercent = float64(st.ServoChecksumErrors) * 100.0 / float64(total)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", total)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ServoFrames, validPercent)),
		statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ServoChecksumErrors, errorPercent)),
	))
	if anomalous > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Out of range:"), warningStyle.Render(fmt.Sprintf("%d", anomalous))))
	}
	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", r.ErrorRate))
	if r.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", r.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", r.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))
	return b.String()
}

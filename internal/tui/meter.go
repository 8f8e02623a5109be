// SPDX-License-Identifier: MIT
package tui

import (
	"audioviz/internal/analysis"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SensitivityStep is the change applied by one +/- key press.
const SensitivityStep = 0.1

// MaxSensitivity bounds the gain reachable from the keyboard.
const MaxSensitivity = 10.0

const (
	defaultBarWidth = 40
	minBarWidth     = 10
	labelWidth      = 12
)

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C3C3C"))
	labelStyle = lipgloss.NewStyle().Width(labelWidth).Foreground(lipgloss.Color("#FFFDF5"))
	beatStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#E8505B")).
			Padding(0, 1).
			Bold(true)
	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3C3C3C")).
			Padding(0, 1)
)

// Controller is the driver surface the meter reads from and steers.
type Controller interface {
	Latest() analysis.Snapshot
	Sensitivity() float64
	SetSensitivity(float64)
	RequestReset()
}

type meterKeyMap struct {
	Up    key.Binding
	Down  key.Binding
	Reset key.Binding
	Quit  key.Binding
}

func (k meterKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Reset, k.Quit}
}

func (k meterKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var meterKeys = meterKeyMap{
	Up:    key.NewBinding(key.WithKeys("+", "=", "up"), key.WithHelp("+", "more gain")),
	Down:  key.NewBinding(key.WithKeys("-", "_", "down"), key.WithHelp("-", "less gain")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

type frameMsg time.Time

// MeterModel is the Bubble Tea model for the live feature meter. It polls
// the controller at the refresh interval.
type MeterModel struct {
	ctrl     Controller
	refresh  time.Duration
	snap     analysis.Snapshot
	width    int
	help     help.Model
	title    string
	lastBeat uint64 // Tick of the most recent beat, kept on screen briefly.
}

// NewMeterModel creates a meter polling ctrl every refresh.
func NewMeterModel(ctrl Controller, refresh time.Duration, title string) MeterModel {
	if refresh <= 0 {
		refresh = time.Second / 30
	}
	return MeterModel{
		ctrl:    ctrl,
		refresh: refresh,
		snap:    ctrl.Latest(),
		help:    help.New(),
		title:   title,
	}
}

func (m MeterModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Init starts polling.
func (m MeterModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles polling, resizes and key presses.
func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.snap = m.ctrl.Latest()
		if m.snap.Beat {
			m.lastBeat = m.snap.Tick
		}
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, meterKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, meterKeys.Up):
			m.ctrl.SetSensitivity(stepSensitivity(m.ctrl.Sensitivity(), SensitivityStep))
		case key.Matches(msg, meterKeys.Down):
			m.ctrl.SetSensitivity(stepSensitivity(m.ctrl.Sensitivity(), -SensitivityStep))
		case key.Matches(msg, meterKeys.Reset):
			m.ctrl.RequestReset()
		}
	}
	return m, nil
}

// stepSensitivity moves v by delta, rounded to the step grid and kept
// within [0, MaxSensitivity].
func stepSensitivity(v, delta float64) float64 {
	v = math.Round((v+delta)/SensitivityStep) * SensitivityStep
	return math.Max(0, math.Min(MaxSensitivity, v))
}

// View renders the meter.
func (m MeterModel) View() string {
	var sb strings.Builder
	s := m.snap

	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	width := m.barWidth()
	for _, row := range []struct {
		label string
		value float64
	}{
		{"Volume", s.Volume},
		{"Bass", s.Bass},
		{"Mid", s.Mid},
		{"Treble", s.Treble},
		{"Energy", s.Energy},
		{"Variability", s.Variability},
		{"Peak", s.Peak},
	} {
		fmt.Fprintf(&sb, "%s%s %5.3f\n", labelStyle.Render(row.label), renderBar(row.value, width), row.value)
	}

	sb.WriteString("\n")
	pitch := "-"
	if s.Pitch > 0 {
		pitch = fmt.Sprintf("%.1f Hz", s.Pitch)
	}
	fmt.Fprintf(&sb, "%s%-12s %s\n", labelStyle.Render("Pitch"), pitch, highlightStyle.Render(s.NoteString()))

	beat := idleStyle.Render("BEAT")
	if s.Beat || (m.lastBeat > 0 && s.Tick-m.lastBeat < 6) {
		beat = beatStyle.Render("BEAT")
	}
	fmt.Fprintf(&sb, "%s%s\n", labelStyle.Render("Onset"), beat)
	fmt.Fprintf(&sb, "%s%.1f\n", labelStyle.Render("Gain"), m.ctrl.Sensitivity())
	fmt.Fprintf(&sb, "%s%d\n\n", labelStyle.Render("Tick"), s.Tick)

	sb.WriteString(infoStyle.Render(m.help.View(meterKeys)))
	return sb.String()
}

func (m MeterModel) barWidth() int {
	if m.width <= 0 {
		return defaultBarWidth
	}
	return max(minBarWidth, m.width-labelWidth-8)
}

// renderBar draws v in [0,1] as a horizontal bar of width cells.
func renderBar(v float64, width int) string {
	if math.IsNaN(v) {
		v = 0
	}
	filled := int(math.Round(math.Max(0, math.Min(1, v)) * float64(width)))
	return barStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", width-filled))
}

// RunMeter runs the meter full-screen until the user quits or ctx is
// cancelled.
func RunMeter(ctx context.Context, ctrl Controller, refresh time.Duration, title string) error {
	p := tea.NewProgram(NewMeterModel(ctrl, refresh, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/stimlink/pkg/link"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries   = 100
	changeHighlight = 2 * time.Second
)

// Focus states
const (
	focusRegisterList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// errorLogEntry is one line of the event log
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// register is one watched address
type register struct {
	address  uint16
	value    byte
	valid    bool
	changed  time.Time
	previous byte
}

// Implement list.Item interface
func (r register) Title() string {
	if name, ok := registerNames[r.address]; ok {
		return fmt.Sprintf("%04X %s", r.address, name)
	}
	return fmt.Sprintf("%04X", r.address)
}

func (r register) Description() string {
	if !r.valid {
		return "--"
	}
	desc := fmt.Sprintf("0x%02X  %3d  %08b", r.value, r.value, r.value)
	if !r.changed.IsZero() && time.Since(r.changed) < changeHighlight {
		desc += fmt.Sprintf("  (was 0x%02X)", r.previous)
	}
	return desc
}

func (r register) FilterValue() string { return fmt.Sprintf("%04X", r.address) }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	guard    *deviceGuard
	connInfo string

	// Registers
	registers    []register
	registerList list.Model
	polling      bool

	// Statistics and events
	stats    link.Stats
	errorLog []errorLogEntry

	// Command line
	input        textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorReadMsg struct {
	values map[uint16]byte
	err    error
}

type monitorPokeMsg struct {
	address uint16
	value   byte
	err     error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(guard *deviceGuard, connInfo string, watch []uint16) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "poke 0x407B 0x76"
	ti.CharLimit = 40
	ti.Width = 30
	ti.Prompt = "> "

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	registerList := list.New([]list.Item{}, delegate, 36, 14)
	registerList.Title = "Registers"
	registerList.SetShowStatusBar(false)
	registerList.SetShowHelp(false)
	registerList.SetFilteringEnabled(false)

	m := monitorModel{
		guard:        guard,
		connInfo:     connInfo,
		registerList: registerList,
		errorLog:     make([]errorLogEntry, 0),
		input:        ti,
		focusedField: focusRegisterList,
		width:        80,
		height:       24,
	}
	for _, addr := range watch {
		m.addRegister(addr)
	}
	m.addLogEntry(fmt.Sprintf("Connected: %s", connInfo), false)
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// readCmd peeks every watched register off the UI goroutine
func (m monitorModel) readCmd() tea.Cmd {
	addrs := make([]uint16, len(m.registers))
	for i, r := range m.registers {
		addrs[i] = r.address
	}
	guard := m.guard
	return func() tea.Msg {
		values, err := guard.peekAll(addrs)
		return monitorReadMsg{values: values, err: err}
	}
}

func (m monitorModel) pokeCmd(addr uint16, value byte) tea.Cmd {
	guard := m.guard
	return func() tea.Msg {
		return monitorPokeMsg{address: addr, value: value, err: guard.poke(addr, value)}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.stats = m.guard.stats()
		cmds = append(cmds, monitorTickCmd())
		if !m.polling && !m.connectionLost && len(m.registers) > 0 {
			m.polling = true
			cmds = append(cmds, m.readCmd())
		}

	case monitorReadMsg:
		m.polling = false
		m.applyValues(msg.values)
		if msg.err != nil {
			m.handleDeviceError("Peek", msg.err)
		}

	case monitorPokeMsg:
		if msg.err != nil {
			m.handleDeviceError(fmt.Sprintf("Poke %04X", msg.address), msg.err)
		} else {
			m.addLogEntry(fmt.Sprintf("Poked %04X <- 0x%02X", msg.address, msg.value), false)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusRegisterList {
		m.registerList, cmd = m.registerList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusRegisterList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusCommandInput {
			return m.runCommand()
		}
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusCommandInput:
		m.input, cmd = m.input.Update(msg)
	case focusRegisterList:
		m.registerList, cmd = m.registerList.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) toggleFocus() {
	if m.focusedField == focusRegisterList {
		m.focusedField = focusCommandInput
		m.input.Focus()
	} else {
		m.focusedField = focusRegisterList
		m.input.Blur()
	}
}

// runCommand executes the command line
func (m *monitorModel) runCommand() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return m, nil
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "poke":
		if len(fields) != 3 {
			m.addLogEntry("usage: poke ADDRESS VALUE", true)
			return m, nil
		}
		if m.connectionLost {
			m.addLogEntry("Cannot poke: connection lost", true)
			return m, nil
		}
		addr, err := parseAddress(fields[1])
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		value, err := parseByteArg(fields[2])
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		return m, m.pokeCmd(addr, value)

	case "watch", "unwatch":
		if len(fields) != 2 {
			m.addLogEntry(fmt.Sprintf("usage: %s ADDRESS", fields[0]), true)
			return m, nil
		}
		addr, err := parseAddress(fields[1])
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		if strings.EqualFold(fields[0], "watch") {
			m.addRegister(addr)
		} else {
			m.removeRegister(addr)
		}
		return m, nil

	default:
		m.addLogEntry(fmt.Sprintf("unknown command %q", fields[0]), true)
		return m, nil
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Resetting key and disconnecting...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("STIMLINK MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = errorStyle.Render("CONNECTION LOST")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch", connStatus)))
	s.WriteString("\n\n")

	// Register list | command panel
	leftWidth := 36
	rightWidth := max(m.width-leftWidth-6, 20)

	listStyle := boxStyle.Width(leftWidth)
	inputStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusRegisterList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	} else {
		inputStyle = focusedBoxStyle.Width(rightWidth)
	}

	var panel strings.Builder
	panel.WriteString(statsLabelStyle.Render("COMMAND"))
	panel.WriteString("\n")
	panel.WriteString(m.input.View())
	panel.WriteString("\n\n")
	panel.WriteString(headerStyle.Render("poke ADDR VALUE | watch ADDR | unwatch ADDR"))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(m.registerList.View()), " ", inputStyle.Render(panel.String())))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	errCount := statsValueStyle.Render("0")
	if n := m.stats.ChecksumErrors + m.stats.Timeouts; n > 0 {
		errCount = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Out:"), statsValueStyle.Render(fmt.Sprintf("%d frames", m.stats.FramesOut)),
		statsLabelStyle.Render("In:"), statsValueStyle.Render(fmt.Sprintf("%d frames", m.stats.FramesIn)),
		statsLabelStyle.Render("Errors:"), errCount,
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
	)

	return boxStyle.Width(max(m.width-4, 20)).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := min(len(m.errorLog), 8)
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.errorLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(max(m.width-4, 20)).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) applyValues(values map[uint16]byte) {
	now := time.Now()
	for i := range m.registers {
		r := &m.registers[i]
		v, ok := values[r.address]
		if !ok {
			continue
		}
		if r.valid && r.value != v {
			r.previous = r.value
			r.changed = now
			m.addLogEntry(fmt.Sprintf("%04X: 0x%02X -> 0x%02X", r.address, r.previous, v), false)
		}
		r.value = v
		r.valid = true
	}
	m.syncList()
}

func (m *monitorModel) handleDeviceError(op string, err error) {
	if errors.Is(err, link.ErrClosed) || errors.Is(err, link.ErrDisconnected) {
		if !m.connectionLost {
			m.connectionLost = true
			m.addLogEntry("Connection lost", true)
		}
		return
	}
	m.addLogEntry(fmt.Sprintf("%s failed: %v", op, err), true)
}

func (m *monitorModel) addRegister(addr uint16) {
	if slices.ContainsFunc(m.registers, func(r register) bool { return r.address == addr }) {
		return
	}
	m.registers = append(m.registers, register{address: addr})
	m.syncList()
}

func (m *monitorModel) removeRegister(addr uint16) {
	m.registers = slices.DeleteFunc(m.registers, func(r register) bool { return r.address == addr })
	m.syncList()
}

func (m *monitorModel) syncList() {
	items := make([]list.Item, len(m.registers))
	for i, r := range m.registers {
		items[i] = r
	}
	m.registerList.SetItems(items)
}

func (m *monitorModel) updateListSize() {
	// Leave room for the header, statistics bar and event log
	listHeight := max(m.height-20, 6)
	m.registerList.SetSize(36, listHeight)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/xmodem"
)

var (
	flashRetries  int
	flashPlain    bool
	flashReadyFor time.Duration
)

var flashCmd = &cobra.Command{
	Use:   "flash FILE",
	Short: "Send a firmware image over XMODEM-CRC",
	Long: `Send FILE to a controller waiting in its firmware loader.

The file must be a whole number of 128-byte blocks. No handshake is
performed: the loader speaks XMODEM-CRC and announces itself with 'C'.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().IntVar(&flashRetries, "retries", xmodem.DefaultMaxRetries, "Resends per rejected block")
	flashCmd.Flags().DurationVar(&flashReadyFor, "ready-timeout", xmodem.DefaultReadyTimeout, "Wait for each ready poll")
	flashCmd.Flags().BoolVar(&flashPlain, "plain", false, "Print progress lines instead of the progress bar")
}

//////////////////////////////////////////////////////////////
// Progress Model
//////////////////////////////////////////////////////////////

type flashProgressMsg float64

type flashDoneMsg struct {
	err error
}

type flashModel struct {
	file     string
	connInfo string
	bar      progress.Model
	percent  float64
	started  time.Time
	err      error
	done     bool
	cancel   context.CancelFunc
}

func (m flashModel) Init() tea.Cmd {
	return nil
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, 60)
		return m, nil

	case flashProgressMsg:
		m.percent = float64(msg)
		return m, m.bar.SetPercent(m.percent)

	case flashDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m flashModel) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("STIMLINK FLASH"))
	s.WriteString(headerStyle.Render(fmt.Sprintf(" | %s | %s", m.file, m.connInfo)))
	s.WriteString("\n\n")
	s.WriteString(m.bar.View())
	s.WriteString("\n\n")

	switch {
	case m.done && m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("FAILED: %v", m.err)))
		s.WriteString("\n")
	case m.done:
		s.WriteString(okStyle.Render(fmt.Sprintf("Done in %s", time.Since(m.started).Round(time.Millisecond))))
		s.WriteString("\n")
	case m.percent == 0:
		s.WriteString(headerStyle.Render("Waiting for the loader... (q to abort)"))
		s.WriteString("\n")
	default:
		s.WriteString(headerStyle.Render("Sending... (q to abort)"))
		s.WriteString("\n")
	}
	return s.String()
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

func runFlash(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	if len(data)%xmodem.BlockSize != 0 {
		return fmt.Errorf("%s: %w: got %d bytes", args[0], xmodem.ErrBlockAlignment, len(data))
	}

	ch, connInfo, err := OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	opts := []xmodem.Option{
		xmodem.WithLogger(logger.With("component", "xmodem")),
		xmodem.WithRetries(flashRetries),
		xmodem.WithReadyTimeout(flashReadyFor),
	}

	if flashPlain {
		fmt.Printf("Flashing %s (%d blocks) via %s\n", args[0], len(data)/xmodem.BlockSize, connInfo)
		opts = append(opts, xmodem.WithProgress(func(fraction float64) {
			fmt.Printf("  %5.1f%%\n", fraction*100)
		}))
		if err := xmodem.NewSender(ch, opts...).SendFile(ctx, data); err != nil {
			return err
		}
		fmt.Println("Done")
		return nil
	}

	m := flashModel{
		file:     args[0],
		connInfo: connInfo,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		started:  time.Now(),
		cancel:   cancel,
	}
	p := tea.NewProgram(m)

	opts = append(opts, xmodem.WithProgress(func(fraction float64) {
		p.Send(flashProgressMsg(fraction))
	}))
	sender := xmodem.NewSender(ch, opts...)

	go func() {
		p.Send(flashDoneMsg{err: sender.SendFile(ctx, data)})
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return final.(flashModel).err
}

// Copyright (c) 2025 Neomantra Corp

// Command scsync-tui runs a synchronization while showing a live dashboard
// of the run status and anomaly counts by kind. It runs the same
// synchronizer core scsync does, but it does not write the rewritten
// outputs or a manifest; it only reports how the run went.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scquant/scsync"
	"github.com/scquant/scsync/internal/collab"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	kindStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type anomalyMsg scsync.Anomaly
type doneMsg struct {
	result scsync.RunResult
	err    error
}

type model struct {
	tally    map[scsync.AnomalyKind]int
	total    int
	status   string
	err      error
	sink     collab.ChannelDiagnosticsSink
	runDone  chan struct{}
	finished bool
	spinner  spinner.Model
}

func newModel(sink collab.ChannelDiagnosticsSink) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = kindStyle
	return model{
		tally:   make(map[scsync.AnomalyKind]int),
		status:  "running",
		sink:    sink,
		spinner: sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForAnomaly(), m.spinner.Tick)
}

func (m model) waitForAnomaly() tea.Cmd {
	return func() tea.Msg {
		a, ok := <-m.sink.C
		if !ok {
			return nil
		}
		return anomalyMsg(a)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case anomalyMsg:
		m.tally[scsync.Anomaly(msg).Kind]++
		m.total++
		return m, m.waitForAnomaly()
	case doneMsg:
		m.finished = true
		if msg.err != nil {
			m.err = msg.err
			m.status = "failed"
		} else {
			m.status = msg.result.Status.String()
		}
		return m, nil
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	status := m.status
	if !m.finished {
		status = m.spinner.View() + " " + status
	}
	s := headerStyle.Render("scsync") + " — " + status + "\n\n"
	for kind, count := range m.tally {
		s += fmt.Sprintf("  %s %d\n", kindStyle.Render(kind.String()), count)
	}
	s += fmt.Sprintf("\n  total anomalies: %d\n", m.total)
	if m.err != nil {
		s += fmt.Sprintf("\n  error: %v\n", m.err)
	}
	if m.finished {
		s += "\n  press q to exit\n"
	}
	return s
}

func main() {
	cmd := &cobra.Command{
		Use:   "scsync-tui",
		Short: "Live dashboard for a running scsync synchronization",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			symbol, _ := cmd.Flags().GetString("symbol")
			dateStr, _ := cmd.Flags().GetString("date")
			clock, err := collab.NewUTCClockSourceFromString(dateStr)
			if err != nil {
				return err
			}
			return runTUI(dir, symbol, clock)
		},
	}
	cmd.Flags().String("dir", ".", "directory holding the input files")
	cmd.Flags().String("symbol", "", "contract symbol")
	cmd.Flags().String("date", "", "day to synchronize, YYYY-MM-DD (UTC)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTUI(dir, symbol string, clock collab.UTCClockSource) error {
	log := zap.NewNop()
	sink := collab.NewChannelDiagnosticsSink(64)
	m := newModel(sink)
	p := tea.NewProgram(m)

	go func() {
		result, err := runHeadless(dir, symbol, clock, sink, log)
		p.Send(doneMsg{result: result, err: err})
	}()

	_, err := p.Run()
	return err
}

func runHeadless(dir, symbol string, clock collab.UTCClockSource, sink collab.ChannelDiagnosticsSink, log *zap.Logger) (scsync.RunResult, error) {
	date := clock.Day
	locator := collab.FileLocator{Dir: dir}

	tradesIn, tradesCloser, err := scsync.MakeCompressedReader(locator.TradesInPath(symbol, date), false)
	if err != nil {
		return scsync.RunResult{}, err
	}
	if tradesCloser != nil {
		defer tradesCloser.Close()
	}
	depthIn, depthCloser, err := scsync.MakeCompressedReader(locator.DepthInPath(symbol, date), false)
	if err != nil {
		return scsync.RunResult{}, err
	}
	if depthCloser != nil {
		defer depthCloser.Close()
	}

	tradesScanner, err := scsync.NewTradesScanner(tradesIn)
	if err != nil {
		return scsync.RunResult{}, err
	}
	depthScanner, err := scsync.NewDepthScanner(depthIn)
	if err != nil {
		return scsync.RunResult{}, err
	}

	synchronizer := scsync.NewSynchronizer(tradesScanner, depthScanner, clock, sink, log)
	return synchronizer.Run()
}

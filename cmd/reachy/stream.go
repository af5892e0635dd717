package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/reachymini/pkg/monitor"
	"github.com/gwillem/reachymini/pkg/robot"
	"github.com/gwillem/reachymini/pkg/stream"
)

type StreamCommand struct {
	Hz             int           `long:"hz" default:"50" description:"Sample rate"`
	Duration       time.Duration `long:"duration" description:"Stop after this long (e.g. 10s); required for recording"`
	Record         bool          `short:"r" long:"record" description:"Record joint frames while streaming"`
	Passive        bool          `long:"passive" description:"Disable torque so the head can be moved by hand"`
	Replay         bool          `long:"replay" description:"Replay the recording when the stream ends"`
	ReplayInterval time.Duration `long:"replay-interval" default:"20ms" description:"Pause between replayed frames"`
	Yes            bool          `short:"y" long:"yes" description:"Replay without asking"`
	NoTUI          bool          `long:"no-tui" description:"Log samples instead of drawing a chart"`
	MetricsAddr    string        `long:"metrics-addr" description:"Serve /health, /metrics and /pose on this address (e.g. :9100)"`
	CORSOrigins    []string      `long:"cors-origin" description:"Origin allowed to query the monitor (repeatable)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// poseSeries are the charted pose components.
var poseSeries = []struct {
	name  string
	color string
	value func(robot.HeadPose) float64
}{
	{"x mm", "196", func(p robot.HeadPose) float64 { return p.X }},
	{"y mm", "208", func(p robot.HeadPose) float64 { return p.Y }},
	{"z mm", "226", func(p robot.HeadPose) float64 { return p.Z }},
	{"roll °", "46", func(p robot.HeadPose) float64 { return p.Roll }},
	{"pitch °", "51", func(p robot.HeadPose) float64 { return p.Pitch }},
	{"yaw °", "201", func(p robot.HeadPose) float64 { return p.Yaw }},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type streamModel struct {
	ctrl     *stream.Controller
	chart    *streamlinechart.Model
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	pose     robot.HeadPose
	recorded int
	quitting bool
	done     bool
	lastPose *robot.HeadPose // previous pose, to detect movement
}

func (m *streamModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg stream.State
type logMsg string
type doneMsg struct{ err error }

func waitForState(ctrl *stream.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *stream.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *streamModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *streamModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialStreamModel(ctrl *stream.Controller) streamModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-45, 45),
	)
	for _, s := range poseSeries {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}
	return streamModel{
		ctrl:  ctrl,
		chart: &chart,
	}
}

func (m streamModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m streamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := stream.State(msg)
		if state.Error == nil && state.Joints != nil {
			m.recorded = state.Recorded
			// Only update chart if there's movement (freeze when idle)
			if m.lastPose == nil || *m.lastPose != state.Pose {
				for _, s := range poseSeries {
					m.chart.PushDataSet(s.name, s.value(state.Pose))
				}
				m.chart.DrawAll()
				pose := state.Pose
				m.lastPose = &pose
			}
			m.pose = state.Pose
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case doneMsg:
		m.done = true
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.addLog("Error: " + msg.err.Error())
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m streamModel) View() string {
	if m.quitting || m.done {
		return "Stream stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Reachy Mini Stream"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	sb.WriteString(statusStyle.Render("  " + m.pose.String()))
	if m.recorded > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%d frames]", m.recorded)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, s := range poseSeries {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

func (c *StreamCommand) Execute(args []string) error {
	if c.Record && c.Duration <= 0 {
		return fmt.Errorf("stream: --record needs --duration")
	}
	if c.Replay && !c.Record {
		return fmt.Errorf("stream: --replay needs --record")
	}

	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		robot.RegisterMetrics()

		var rec *stream.Recording
		if c.Record {
			rec = &stream.Recording{}
		}
		ctrl := stream.NewController(r, stream.Config{
			Hz:        c.Hz,
			Duration:  c.Duration,
			Recording: rec,
			Passive:   c.Passive,
		})

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if c.MetricsAddr != "" {
			srv := monitor.New(logger, ctrl, c.CORSOrigins)
			go func() {
				if err := srv.Run(ctx, c.MetricsAddr); err != nil {
					logger.Error().Err(err).Str("addr", c.MetricsAddr).Msg("monitor stopped")
				}
			}()
			logger.Info().Str("addr", c.MetricsAddr).Msg("serving monitor")
		}

		var err error
		if c.NoTUI {
			err = runHeadless(ctx, ctrl)
		} else {
			err = runTUI(ctx, cancel, ctrl)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		if rec == nil {
			return nil
		}
		fmt.Printf("Recorded %d frames.\n", rec.Len())
		if !c.Replay || rec.Len() == 0 {
			return nil
		}
		if !c.Yes && !confirm(fmt.Sprintf("Replay %d frames? The head will move.", rec.Len())) {
			return nil
		}
		replayCtx, stop := signalContext()
		defer stop()
		if err := stream.Replay(replayCtx, r, rec, c.ReplayInterval); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		fmt.Println(successStyle.Render("Replay complete."))
		return nil
	})
}

func runTUI(ctx context.Context, cancel context.CancelFunc, ctrl *stream.Controller) error {
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(ctx)
	}()

	m := initialStreamModel(ctrl)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		err := <-done
		p.Send(doneMsg{err: err})
		done <- err
	}()
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		return fmt.Errorf("run tui: %w", err)
	}
	cancel()
	return <-done
}

func runHeadless(ctx context.Context, ctrl *stream.Controller) error {
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(ctx)
	}()
	for {
		select {
		case err := <-done:
			return err
		case msg := <-ctrl.Logs():
			logger.Info().Msg(msg)
		case s := <-ctrl.States():
			if s.Error != nil {
				logger.Warn().Err(s.Error).Msg("sample failed")
				continue
			}
			logger.Info().
				Float64("x", s.Pose.X).Float64("y", s.Pose.Y).Float64("z", s.Pose.Z).
				Float64("roll", s.Pose.Roll).Float64("pitch", s.Pose.Pitch).Float64("yaw", s.Pose.Yaw).
				Bool("converged", s.Converged).
				Msg("pose")
		}
	}
}

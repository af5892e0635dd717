package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/reachymini/pkg/dynamixel"
	"github.com/gwillem/reachymini/pkg/robot"
	"github.com/gwillem/reachymini/pkg/transport"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableMotorStyle
			}
			return tableCellStyle
		}).
		Render()
}

const daemonChoice = "daemon"

type SetupCommand struct {
	Output string `short:"o" long:"output" description:"Where to save the config (JSON); defaults to --config when it is a .json file"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Reachy Mini Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Output == "" && robot.ConfigExists() && !confirm(fmt.Sprintf("%s exists. Overwrite its calibration?", robot.DefaultConfigFile)) {
		return nil
	}

	// Step 1: pick the connection
	if !opts.Sim {
		if err := chooseConnection(cfg); err != nil {
			return err
		}
		opts.Address = cfg.Address
		opts.Serial = cfg.SerialPort
		opts.SerialOnly = cfg.SerialPort != ""
	}

	// Step 2: record ranges
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Record range of motion ━━━"))
	fmt.Println()
	cal, err := calibrate()
	if err != nil {
		return err
	}
	cfg.Calibration = cal

	out := c.Output
	if out == "" && strings.EqualFold(filepath.Ext(opts.Config), ".json") {
		out = opts.Config
	}
	if out == "" {
		out = robot.DefaultConfigFile
		err = cfg.Save()
	} else {
		err = cfg.SaveTo(out)
	}
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", out)
	fmt.Println()
	fmt.Println("Follow the head with: " + headerStyle.Render("reachy stream"))
	return nil
}

// chooseConnection asks whether to use the daemon or one of the serial
// ports that answered a probe, and stores the choice in cfg.
func chooseConnection(cfg *robot.Config) error {
	fmt.Println("Scanning serial ports for Reachy Mini motors...")
	heads := findHeads()

	options := []huh.Option[string]{
		huh.NewOption(fmt.Sprintf("Daemon over WebSocket (%s)", transport.WebSocketURL(cfg.Address)), daemonChoice),
	}
	for _, h := range heads {
		options = append(options, huh.NewOption(fmt.Sprintf("Serial %s (%d motors)", h.port, len(h.ids)), h.port))
	}

	choice := daemonChoice
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should we reach the head?").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if choice == daemonChoice {
		cfg.SerialPort = ""
		address := cfg.Address
		input := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Daemon address").
					Description("host[:port] or ws:// URL, empty for the local daemon").
					Value(&address),
			),
		)
		if err := input.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		cfg.Address = address
		return nil
	}
	cfg.SerialPort = choice
	return nil
}

type headInfo struct {
	port string
	ids  []byte
}

// findHeads probes every serial port for the motor IDs of a head.
func findHeads() []headInfo {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	want := robot.DefaultCalibration().MotorIDs()
	var heads []headInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		ids, err := probePort(port, want)
		if err != nil {
			logger.Debug().Err(err).Str("port", port).Msg("probe failed")
			continue
		}
		if len(ids) > 0 {
			fmt.Printf("  Found %d motor(s) on %s\n", len(ids), port)
			heads = append(heads, headInfo{port: port, ids: ids})
		}
	}
	return heads
}

func probePort(port string, ids []byte) ([]byte, error) {
	sp, err := transport.OpenSerial(port, transport.SerialConfig{})
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, err := transport.WriteRead(ctx, sp, dynamixel.BuildSyncRead(dynamixel.PresentPosition, ids), 20*time.Millisecond)
	if err != nil {
		return nil, err
	}
	var found []byte
	for _, st := range dynamixel.ScanPositions(buf) {
		found = append(found, st.ID)
	}
	return found, nil
}

type ScanCommand struct{}

func (c *ScanCommand) Execute(args []string) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	want := robot.DefaultCalibration().MotorIDs()
	rows := make([][]string, 0, len(ports))
	for _, port := range ports {
		ids, err := probePort(port, want)
		found := "-"
		switch {
		case err != nil:
			found = dimStyle.Render(err.Error())
		case len(ids) > 0:
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = strconv.Itoa(int(id))
			}
			found = strings.Join(parts, ",")
		}
		head := ""
		if err == nil && len(ids) == len(want) {
			head = successStyle.Render("yes")
		}
		rows = append(rows, []string{port, found, head})
	}
	fmt.Println(renderTable([]string{"Port", "Motor IDs", "Reachy Mini"}, rows))
	return nil
}

// calibrate disables torque and tracks raw positions while the user moves
// every joint through its range.
func calibrate() (robot.Calibration, error) {
	ctx, cancel := signalContext()
	defer cancel()
	r, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.DisableTorque(ctx); err != nil {
		return nil, fmt.Errorf("disable torque: %w", err)
	}

	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion of the head and both antennas.")
	fmt.Println()

	motors := robot.AllMotors()
	positions, err := r.RawPositions(ctx)
	if err != nil {
		return nil, err
	}
	model := newCalibrationModel(ctx, r, motors, positions)
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		return nil, fmt.Errorf("calibration aborted")
	}

	base := r.Calibration()
	cal := make(robot.Calibration, len(motors))
	for _, name := range motors {
		mc := base[name]
		if _, seen := cm.cur[name]; seen && cm.max[name] > cm.min[name] {
			mc.RangeMin = int(cm.min[name])
			mc.RangeMax = int(cm.max[name])
		} else {
			fmt.Println(dimStyle.Render("  " + string(name) + ": no range recorded, keeping the full range"))
		}
		cal[name] = mc
	}
	return cal, nil
}

type calibrationModel struct {
	ctx      context.Context
	robot    *robot.Robot
	motors   []robot.MotorName
	cur      map[robot.MotorName]int32
	min      map[robot.MotorName]int32
	max      map[robot.MotorName]int32
	quitting bool
	aborted  bool
}

type tickMsg time.Time

func newCalibrationModel(ctx context.Context, r *robot.Robot, motors []robot.MotorName, start map[robot.MotorName]int32) calibrationModel {
	m := calibrationModel{
		ctx:    ctx,
		robot:  r,
		motors: motors,
		cur:    make(map[robot.MotorName]int32),
		min:    make(map[robot.MotorName]int32),
		max:    make(map[robot.MotorName]int32),
	}
	for name, pos := range start {
		m.cur[name], m.min[name], m.max[name] = pos, pos, pos
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q":
			m.quitting = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.quitting, m.aborted = true, true
			return m, tea.Quit
		}

	case tickMsg:
		positions, err := m.robot.RawPositions(m.ctx)
		if err != nil {
			return m, tick()
		}
		for name, pos := range positions {
			if _, seen := m.cur[name]; !seen {
				m.min[name], m.max[name] = pos, pos
			}
			m.cur[name] = pos
			if pos < m.min[name] {
				m.min[name] = pos
			}
			if pos > m.max[name] {
				m.max[name] = pos
			}
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	ranges := make([]int32, 0, len(m.motors))
	for _, name := range m.motors {
		if _, seen := m.cur[name]; !seen {
			ranges = append(ranges, 0)
			rows = append(rows, []string{string(name), "no reply", "-", "-", "-", "-"})
			continue
		}
		size := m.max[name] - m.min[name]
		ranges = append(ranges, size)
		recorded := robot.MotorCalibration{RangeMin: int(m.min[name]), RangeMax: int(m.max[name])}
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.cur[name]),
			fmt.Sprintf("%d", m.min[name]),
			fmt.Sprintf("%d", m.max[name]),
			fmt.Sprintf("%d", size),
			fmt.Sprintf("%d", recorded.Denormalize(0)),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range", "Center").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				// a quarter turn or more is a plausible range
				if row >= 0 && row < len(ranges) && ranges[row] > dynamixel.TicksPerRevolution/4 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, Esc to abort"))

	return sb.String()
}

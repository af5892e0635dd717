package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/reachymini/pkg/kinematics"
	"github.com/gwillem/reachymini/pkg/robot"
)

func deg(rad float64) float64 { return rad * 180 / math.Pi }
func rad(deg float64) float64 { return deg * math.Pi / 180 }

// parseAngles parses args as radians, or degrees when inDegrees is set.
func parseAngles(args []string, inDegrees bool) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("angle %d: %w", i+1, err)
		}
		if inDegrees {
			v = rad(v)
		}
		out[i] = v
	}
	return out, nil
}

func parseMotors(args []string) ([]robot.MotorName, error) {
	if len(args) == 0 {
		return robot.AllMotors(), nil
	}
	var names []robot.MotorName
	for _, a := range args {
		n, err := robot.ParseMotor(a)
		if err != nil {
			return nil, err
		}
		names = append(names, n...)
	}
	return names, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func confirm(title string) bool {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return ok
}

// PoseFlags is a head pose in millimeters and degrees.
type PoseFlags struct {
	X     float64 `long:"x" default:"0" description:"X in mm"`
	Y     float64 `long:"y" default:"0" description:"Y in mm"`
	Z     float64 `long:"z" default:"0" description:"Z in mm above the lowest head position"`
	Roll  float64 `long:"roll" default:"0" description:"Roll in degrees"`
	Pitch float64 `long:"pitch" default:"0" description:"Pitch in degrees"`
	Yaw   float64 `long:"yaw" default:"0" description:"Yaw in degrees"`
}

func (p PoseFlags) HeadPose() robot.HeadPose {
	return robot.HeadPose{X: p.X, Y: p.Y, Z: p.Z, Roll: p.Roll, Pitch: p.Pitch, Yaw: p.Yaw}
}

type PoseCommand struct {
	JSON bool `long:"json" description:"Print JSON"`
}

func (c *PoseCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		pose, res, err := r.HeadPose(ctx)
		if err != nil {
			return err
		}
		if !res.Converged {
			logger.Warn().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("forward kinematics did not converge")
		}
		if c.JSON {
			return printJSON(pose)
		}
		fmt.Println(pose)
		return nil
	})
}

type SetPoseCommand struct {
	PoseFlags
	NoTorque bool `long:"no-torque" description:"Do not enable head torque before moving"`
}

func (c *SetPoseCommand) Execute(args []string) error {
	pose := c.HeadPose()
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		if !c.NoTorque {
			if err := r.EnableTorque(ctx, robot.HeadMotors()...); err != nil {
				return err
			}
		}
		if err := r.SetHeadPose(ctx, pose); err != nil {
			return fmt.Errorf("set pose %s: %w", pose, err)
		}
		logger.Info().Stringer("pose", pose).Msg("head moved")
		return nil
	})
}

type JointsCommand struct {
	JSON bool `long:"json" description:"Print JSON (radians)"`
}

func (c *JointsCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		joints, err := r.Joints(ctx)
		if err != nil {
			return err
		}
		names := robot.AllMotors()
		if c.JSON {
			out := make(map[robot.MotorName]float64, len(names))
			for i, name := range names {
				out[name] = joints[i]
			}
			return printJSON(out)
		}
		rows := make([][]string, len(names))
		for i, name := range names {
			id, _ := name.ID()
			rows[i] = []string{
				string(name),
				strconv.Itoa(int(id)),
				fmt.Sprintf("%.4f", joints[i]),
				fmt.Sprintf("%.1f", deg(joints[i])),
			}
		}
		fmt.Println(renderTable([]string{"Motor", "ID", "Radians", "Degrees"}, rows))
		return nil
	})
}

type SetJointsCommand struct {
	Degrees  bool `short:"d" long:"deg" description:"Angles are in degrees"`
	NoTorque bool `long:"no-torque" description:"Do not enable torque before moving"`
}

func (c *SetJointsCommand) Execute(args []string) error {
	joints, err := parseAngles(args, c.Degrees)
	if err != nil {
		return err
	}
	var names []robot.MotorName
	switch len(joints) {
	case len(robot.HeadMotors()):
		names = robot.HeadMotors()
	case len(robot.AllMotors()):
		names = robot.AllMotors()
	default:
		return fmt.Errorf("%w: got %d angles, want 6 (head) or 8 (head and antennas)", robot.ErrJointCount, len(joints))
	}

	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		if !c.NoTorque {
			if err := r.EnableTorque(ctx, names...); err != nil {
				return err
			}
		}
		if len(names) == len(robot.AllMotors()) {
			return r.SetJoints(ctx, joints)
		}
		return r.SetHeadJoints(ctx, joints)
	})
}

type AntennasCommand struct {
	Degrees bool `short:"d" long:"deg" description:"Angles are in degrees"`
	Args    struct {
		Left  string `positional-arg-name:"left"`
		Right string `positional-arg-name:"right"`
	} `positional-args:"yes"`
}

func (c *AntennasCommand) Execute(args []string) error {
	if c.Args.Left == "" {
		return withRobot(func(ctx context.Context, r *robot.Robot) error {
			left, right, err := r.Antennas(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("left %.1f°  right %.1f°\n", deg(left), deg(right))
			return nil
		})
	}
	if c.Args.Right == "" {
		return fmt.Errorf("antennas: give both left and right")
	}
	angles, err := parseAngles([]string{c.Args.Left, c.Args.Right}, c.Degrees)
	if err != nil {
		return err
	}
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		if err := r.EnableTorque(ctx, robot.AntennaMotors()...); err != nil {
			return err
		}
		return r.SetAntennas(ctx, angles[0], angles[1])
	})
}

type TorqueCommand struct {
	Args struct {
		State  string   `positional-arg-name:"on|off" required:"yes"`
		Motors []string `positional-arg-name:"motor" description:"Motor names or head, antennas, all"`
	} `positional-args:"yes"`
}

func (c *TorqueCommand) Execute(args []string) error {
	names, err := parseMotors(c.Args.Motors)
	if err != nil {
		return err
	}
	var enable bool
	switch strings.ToLower(c.Args.State) {
	case "on", "enable", "1":
		enable = true
	case "off", "disable", "0":
	default:
		return fmt.Errorf("torque: state must be on or off, got %q", c.Args.State)
	}
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		if enable {
			return r.EnableTorque(ctx, names...)
		}
		return r.DisableTorque(ctx, names...)
	})
}

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		names := robot.AllMotors()
		positions, err := r.RawPositions(ctx)
		if err != nil {
			return err
		}
		temps, err := r.Temperatures(ctx)
		if err != nil {
			return err
		}
		loads, err := r.Loads(ctx)
		if err != nil {
			return err
		}
		hwErrors, err := r.HardwareErrors(ctx)
		if err != nil {
			return err
		}

		cal := r.Calibration()
		rows := make([][]string, len(names))
		for i, name := range names {
			id, _ := name.ID()
			row := []string{string(name), strconv.Itoa(int(id)), "-", "-", "-", "-", "no reply"}
			if raw, ok := positions[name]; ok {
				row[2] = fmt.Sprintf("%.1f°", deg(cal[name].ToRadians(raw)))
				row[3] = fmt.Sprintf("%+.0f%%", cal[name].Normalize(int(raw)))
				row[4] = fmt.Sprintf("%d°C", temps[name])
				row[5] = strconv.Itoa(int(loads[name]))
			}
			if code, ok := hwErrors[name]; ok {
				row[6] = "ok"
				if code != 0 {
					row[6] = code.String()
				}
			}
			rows[i] = row
		}
		fmt.Println(renderTable([]string{"Motor", "ID", "Position", "In range", "Temp", "Load", "Hardware"}, rows))
		return nil
	})
}

type CheckCommand struct {
	Yes bool `short:"y" long:"yes" description:"Reboot without asking"`
}

func (c *CheckCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		codes, err := r.HardwareErrors(ctx)
		if err != nil {
			return err
		}
		var faulty []string
		for _, name := range robot.AllMotors() {
			if code, ok := codes[name]; ok && code != 0 {
				faulty = append(faulty, fmt.Sprintf("%s (%s)", name, code))
			}
		}
		if len(faulty) == 0 {
			fmt.Println(successStyle.Render(fmt.Sprintf("All %d responding motors report no hardware errors.", len(codes))))
			return nil
		}
		fmt.Println("Motors with hardware errors:")
		for _, f := range faulty {
			fmt.Println("  " + f)
		}
		if !c.Yes && !confirm("Reboot these motors?") {
			return nil
		}

		report, err := r.CheckAndReboot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Checked %d motors, rebooted %d.\n", report.Checked, len(report.Rebooted))
		for _, name := range report.NoResponse {
			fmt.Println(dimStyle.Render("  no response: " + string(name)))
		}
		return nil
	})
}

type RebootCommand struct {
	Yes  bool `short:"y" long:"yes" description:"Reboot without asking"`
	Args struct {
		Motors []string `positional-arg-name:"motor" description:"Motor names or head, antennas, all"`
	} `positional-args:"yes"`
}

func (c *RebootCommand) Execute(args []string) error {
	names, err := parseMotors(c.Args.Motors)
	if err != nil {
		return err
	}
	if !c.Yes && !confirm(fmt.Sprintf("Reboot %d motor(s)? Torque will be off afterwards.", len(names))) {
		return nil
	}
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		return r.Reboot(ctx, names...)
	})
}

// offlineSolver builds a solver from the configured geometry without
// connecting to the head.
func offlineSolver() (*kinematics.Solver, robot.Geometry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, robot.Geometry{}, err
	}
	geometry, err := cfg.ResolveGeometry()
	if err != nil {
		return nil, robot.Geometry{}, err
	}
	solver, err := geometry.Solver()
	if err != nil {
		return nil, robot.Geometry{}, err
	}
	return solver, geometry, nil
}

type FKCommand struct {
	Degrees bool `short:"d" long:"deg" description:"Angles are in degrees"`
	JSON    bool `long:"json" description:"Print JSON"`
}

func (c *FKCommand) Execute(args []string) error {
	joints, err := parseAngles(args, c.Degrees)
	if err != nil {
		return err
	}
	solver, geometry, err := offlineSolver()
	if err != nil {
		return err
	}
	res, err := solver.ForwardKinematics(joints)
	if err != nil {
		return err
	}
	pose := robot.HeadPoseFrom(kinematics.PoseFromMatrix(res.Pose), geometry.HeadZOffset)
	if !res.Converged {
		logger.Warn().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("forward kinematics did not converge")
	}
	if c.JSON {
		return printJSON(pose)
	}
	fmt.Println(pose)
	logger.Debug().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("solved")
	return nil
}

type IKCommand struct {
	PoseFlags
	Degrees bool `short:"d" long:"deg" description:"Print degrees instead of radians"`
}

func (c *IKCommand) Execute(args []string) error {
	solver, geometry, err := offlineSolver()
	if err != nil {
		return err
	}
	pose := c.HeadPose()
	joints, err := solver.InverseKinematics(pose.Pose(geometry.HeadZOffset).Matrix(), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", pose, err)
	}
	parts := make([]string, len(joints))
	for i, j := range joints {
		if c.Degrees {
			j = deg(j)
		}
		parts[i] = strconv.FormatFloat(j, 'f', 4, 64)
	}
	fmt.Println(strings.Join(parts, " "))
	return nil
}

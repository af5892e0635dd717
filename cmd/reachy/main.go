package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gwillem/reachymini/pkg/robot"
	"github.com/gwillem/reachymini/pkg/sim"
	"github.com/gwillem/reachymini/pkg/transport"
)

type Options struct {
	Config     string `short:"c" long:"config" default:"reachy.json" description:"Config file (.json, .yaml or .toml)"`
	Address    string `short:"a" long:"address" description:"Daemon address: host[:port] or ws:// URL"`
	Serial     string `short:"s" long:"serial" description:"Serial device, used when the daemon is unreachable"`
	SerialOnly bool   `long:"serial-only" description:"Skip the daemon and talk to the serial device directly"`
	Sim        bool   `long:"sim" description:"Use a simulated bus instead of hardware"`
	Verbose    bool   `short:"v" long:"verbose" description:"Debug logging"`

	Setup     SetupCommand     `command:"setup" description:"Find the head and record motor ranges"`
	Scan      ScanCommand      `command:"scan" description:"List serial ports with Reachy Mini motors"`
	Pose      PoseCommand      `command:"pose" description:"Print the head pose"`
	SetPose   SetPoseCommand   `command:"set-pose" description:"Move the head to a pose"`
	Joints    JointsCommand    `command:"joints" description:"Print all joint angles"`
	SetJoints SetJointsCommand `command:"set-joints" description:"Write six head or all eight joint angles"`
	Antennas  AntennasCommand  `command:"antennas" description:"Read or set the antennas"`
	Torque    TorqueCommand    `command:"torque" description:"Enable or disable torque"`
	Status    StatusCommand    `command:"status" description:"Show position, temperature, load and errors per motor"`
	Check     CheckCommand     `command:"check" description:"Reboot motors that report hardware errors"`
	Reboot    RebootCommand    `command:"reboot" description:"Reboot motors"`
	FK        FKCommand        `command:"fk" description:"Compute the head pose for six joint angles (offline)"`
	IK        IKCommand        `command:"ik" description:"Compute joint angles for a head pose (offline)"`
	Stream    StreamCommand    `command:"stream" description:"Follow the head pose live, record and replay"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

var logger = zerolog.Nop()

func main() {
	parser.LongDescription = "Reachy Mini - head and antenna control CLI"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		logger = initLogger("reachy", opts.Verbose)
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func initLogger(app string, verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = l
	return l
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadOrDefault(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Config, err)
	}
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	if opts.Serial != "" {
		cfg.SerialPort = opts.Serial
	}
	return cfg, nil
}

// connect opens a session with the head described by the config.
func connect(ctx context.Context) (*robot.Robot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	geometry, err := cfg.ResolveGeometry()
	if err != nil {
		return nil, err
	}
	calibration, err := cfg.ResolveCalibration()
	if err != nil {
		return nil, err
	}

	if !cfg.IsCalibrated() {
		logger.Debug().Msg("no calibration configured, using the full tick range")
	}

	var port transport.Port
	if opts.Sim {
		logger.Info().Msg("using simulated bus")
		port = sim.NewBus(calibration.MotorIDs()...)
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		port, err = transport.Dial(dialCtx, transport.Options{
			Address:    cfg.Address,
			SerialPort: cfg.SerialPort,
			BaudRate:   cfg.BaudRate,
			SerialOnly: opts.SerialOnly,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("via", describePort(port)).Msg("bus open")
	}

	r, err := robot.New(port,
		robot.WithLogger(logger),
		robot.WithGeometry(geometry),
		robot.WithCalibration(calibration),
		robot.WithReadWait(cfg.ReadWait()),
		robot.WithRebootDelay(cfg.RebootDelay()),
	)
	if err != nil {
		port.Close()
		return nil, err
	}
	return r, nil
}

// withRobot runs fn with a connected session and closes it afterwards.
func withRobot(fn func(ctx context.Context, r *robot.Robot) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	r, err := connect(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r)
}

func describePort(p transport.Port) string {
	switch p := p.(type) {
	case *transport.WebSocketPort:
		return p.URL()
	case *transport.SerialPort:
		return p.Name()
	default:
		return fmt.Sprintf("%T", p)
	}
}

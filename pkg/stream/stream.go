// Package stream follows the head pose in a loop, optionally records the
// joint trajectory, and replays recordings.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/reachymini/pkg/kinematics"
	"github.com/gwillem/reachymini/pkg/robot"
)

// DefaultHz is the stream rate when none is configured.
const DefaultHz = 50

// Head is the part of a robot session the stream needs. *robot.Robot
// implements it.
type Head interface {
	Joints(ctx context.Context) ([]float64, error)
	SetJoints(ctx context.Context, joints []float64) error
	ForwardKinematics(joints []float64) (robot.HeadPose, kinematics.FKResult, error)
	EnableTorque(ctx context.Context, names ...robot.MotorName) error
	DisableTorque(ctx context.Context, names ...robot.MotorName) error
}

var _ Head = (*robot.Robot)(nil)

// State is one sample of the stream.
type State struct {
	Joints    []float64 // all eight joints, radians
	Pose      robot.HeadPose
	Converged bool
	Recorded  int // frames recorded so far
	Timestamp time.Time
	Error     error
}

// Controller runs the pose stream loop.
type Controller struct {
	head     Head
	hz       int
	duration time.Duration
	passive  bool
	rec      *Recording

	mu      sync.RWMutex
	state   State
	running bool
	stateCh chan State
	logCh   chan string
}

// Config holds configuration for the controller.
type Config struct {
	Hz int
	// Duration stops the stream after this long; zero runs until the
	// context is cancelled.
	Duration time.Duration
	// Recording, when set, is cleared on start and receives every sample.
	Recording *Recording
	// Passive disables torque on start so the head can be moved by hand.
	Passive bool
}

// NewController creates a stream controller for head.
func NewController(head Head, cfg Config) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}
	return &Controller{
		head:     head,
		hz:       cfg.Hz,
		duration: cfg.Duration,
		passive:  cfg.Passive,
		rec:      cfg.Recording,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the stream frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// State returns the latest sample.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Running reports whether Start is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start runs the stream until ctx is cancelled, returning ctx.Err(), or
// until the configured duration has elapsed, returning nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	if c.passive {
		if err := c.head.DisableTorque(ctx); err != nil {
			c.log("Warning: failed to disable torque: %v", err)
		} else {
			c.log("Torque disabled (passive mode)")
		}
	}
	if c.rec != nil {
		c.rec.Clear()
	}
	if c.duration > 0 {
		c.log("Streaming at %d Hz for %s", c.hz, c.duration)
	} else {
		c.log("Streaming at %d Hz", c.hz)
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if c.duration > 0 && now.Sub(start) >= c.duration {
				return nil
			}
			c.step(ctx)
		}
	}
}

func (c *Controller) step(ctx context.Context) {
	joints, err := c.head.Joints(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log("Read error: %v", err)
		c.sendState(State{Error: err, Timestamp: time.Now()})
		return
	}

	s := State{Joints: joints, Timestamp: time.Now()}
	if c.rec != nil {
		s.Recorded = c.rec.Append(joints)
	}

	pose, res, err := c.head.ForwardKinematics(joints[:len(robot.HeadMotors())])
	if err != nil {
		c.log("Kinematics error: %v", err)
		s.Error = err
	} else {
		s.Pose = pose
		s.Converged = res.Converged
	}
	c.sendState(s)
}

func (c *Controller) sendState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if c.rec != nil {
		c.log("Stream stopped, %d frames recorded", c.rec.Len())
	} else {
		c.log("Stream stopped")
	}
}

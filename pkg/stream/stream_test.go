package stream

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/reachymini/pkg/dynamixel"
	"github.com/gwillem/reachymini/pkg/kinematics"
	"github.com/gwillem/reachymini/pkg/robot"
	"github.com/gwillem/reachymini/pkg/sim"
)

func newTestRobot(t *testing.T) (*robot.Robot, *sim.Bus) {
	t.Helper()
	bus := sim.NewBus(11, 12, 13, 14, 15, 16, 17, 18)
	r, err := robot.New(bus, robot.WithReadWait(time.Microsecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, bus
}

func motorID(t *testing.T, name robot.MotorName) byte {
	t.Helper()
	id, ok := name.ID()
	if !ok {
		t.Fatalf("unknown motor %q", name)
	}
	return id
}

func TestStreamDuration(t *testing.T) {
	r, _ := newTestRobot(t)
	rec := &Recording{}
	rec.Append(make([]float64, 8)) // cleared on start

	c := NewController(r, Config{Hz: 100, Duration: 80 * time.Millisecond, Recording: rec})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Running() {
		t.Error("still running after Start returned")
	}
	n := rec.Len()
	if n == 0 || n > 9 {
		t.Fatalf("recorded %d frames, want 1..9", n)
	}
	for i, f := range rec.Frames() {
		if len(f) != 8 {
			t.Errorf("frame %d has %d joints, want 8", i, len(f))
		}
	}

	s := c.State()
	if s.Error != nil {
		t.Fatalf("last state error: %v", s.Error)
	}
	if !s.Converged || s.Recorded != n {
		t.Errorf("last state = %+v, want converged with %d frames", s, n)
	}
	for i, v := range []float64{s.Pose.X, s.Pose.Y, s.Pose.Z, s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw} {
		if math.Abs(v) > 1e-6 {
			t.Errorf("pose component %d = %v, want 0", i, v)
		}
	}
}

func TestStreamFollowsHead(t *testing.T) {
	r, bus := newTestRobot(t)
	want := robot.HeadPose{Z: 8, Yaw: 10}
	joints, err := r.InverseKinematics(want)
	if err != nil {
		t.Fatalf("InverseKinematics: %v", err)
	}
	for i, name := range robot.HeadMotors() {
		bus.SetPosition(motorID(t, name), dynamixel.RadiansToRaw(joints[i]))
	}

	c := NewController(r, Config{Hz: 200})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case s := <-c.States():
		if s.Error != nil {
			t.Fatalf("state error: %v", s.Error)
		}
		if math.Abs(s.Pose.Z-want.Z) > 0.5 || math.Abs(s.Pose.Yaw-want.Yaw) > 0.5 {
			t.Errorf("pose = %s, want near %s", s.Pose, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
	}

	if err := c.Start(ctx); err == nil {
		t.Error("second Start succeeded")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start = %v, want context.Canceled", err)
	}
}

func TestStreamPassive(t *testing.T) {
	r, bus := newTestRobot(t)
	if err := r.EnableTorque(context.Background()); err != nil {
		t.Fatalf("EnableTorque: %v", err)
	}
	c := NewController(r, Config{Hz: 100, Duration: 20 * time.Millisecond, Passive: true})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range robot.AllMotors() {
		if bus.Torque(motorID(t, name)) {
			t.Errorf("%s torque still on", name)
		}
	}
}

// fakeHead fails reads after a number of successes.
type fakeHead struct {
	mu       sync.Mutex
	reads    int
	failFrom int
	written  [][]float64
	torque   []bool
	writeErr error
}

func (h *fakeHead) Joints(context.Context) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	if h.failFrom > 0 && h.reads >= h.failFrom {
		return nil, robot.ErrNoReply
	}
	return make([]float64, 8), nil
}

func (h *fakeHead) SetJoints(_ context.Context, joints []float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return h.writeErr
	}
	h.written = append(h.written, joints)
	return nil
}

func (h *fakeHead) ForwardKinematics([]float64) (robot.HeadPose, kinematics.FKResult, error) {
	return robot.HeadPose{}, kinematics.FKResult{Converged: true}, nil
}

func (h *fakeHead) EnableTorque(context.Context, ...robot.MotorName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.torque = append(h.torque, true)
	return nil
}

func (h *fakeHead) DisableTorque(context.Context, ...robot.MotorName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.torque = append(h.torque, false)
	return nil
}

func TestStreamReadError(t *testing.T) {
	h := &fakeHead{failFrom: 1}
	c := NewController(h, Config{Hz: 100})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	select {
	case s := <-c.States():
		if !errors.Is(s.Error, robot.ErrNoReply) {
			t.Errorf("state error = %v, want ErrNoReply", s.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state received")
	}

	select {
	case msg := <-c.Logs():
		if msg == "" {
			t.Error("empty log message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no log received")
	}
}

func TestNewControllerDefaults(t *testing.T) {
	c := NewController(&fakeHead{}, Config{})
	if c.Hz() != DefaultHz {
		t.Errorf("Hz = %d, want %d", c.Hz(), DefaultHz)
	}
}

func TestReplay(t *testing.T) {
	r, bus := newTestRobot(t)
	rec := &Recording{}
	frames := [][]float64{
		{0, 0, 0, 0, 0, 0, 0, 0},
		{0.1, -0.1, 0.1, -0.1, 0.1, -0.1, 0.2, -0.2},
		{0.2, -0.2, 0.2, -0.2, 0.2, -0.2, 0.4, -0.4},
	}
	for _, f := range frames {
		rec.Append(f)
	}

	if err := Replay(context.Background(), r, rec, time.Millisecond); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	last := frames[len(frames)-1]
	for i, name := range robot.AllMotors() {
		id := motorID(t, name)
		if got, want := bus.Position(id), dynamixel.RadiansToRaw(last[i]); got != want {
			t.Errorf("%s position = %d, want %d", name, got, want)
		}
		if bus.Torque(id) {
			t.Errorf("%s torque left on", name)
		}
	}
}

func TestReplayEmpty(t *testing.T) {
	h := &fakeHead{}
	if err := Replay(context.Background(), h, &Recording{}, 0); !errors.Is(err, ErrEmptyRecording) {
		t.Errorf("Replay = %v, want ErrEmptyRecording", err)
	}
	if len(h.torque) != 0 {
		t.Errorf("torque changed on empty recording: %v", h.torque)
	}
}

func TestReplayCancelledDisablesTorque(t *testing.T) {
	h := &fakeHead{}
	rec := &Recording{}
	for i := 0; i < 100; i++ {
		rec.Append(make([]float64, 8))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Replay(ctx, h, rec, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Replay = %v, want DeadlineExceeded", err)
	}
	if len(h.written) == 0 || len(h.written) >= 100 {
		t.Errorf("wrote %d frames, want a partial replay", len(h.written))
	}
	if want := []bool{true, false}; len(h.torque) != 2 || h.torque[0] != want[0] || h.torque[1] != want[1] {
		t.Errorf("torque sequence = %v, want %v", h.torque, want)
	}
}

func TestReplayWriteError(t *testing.T) {
	boom := errors.New("boom")
	h := &fakeHead{writeErr: boom}
	rec := &Recording{}
	rec.Append(make([]float64, 8))
	if err := Replay(context.Background(), h, rec, 0); !errors.Is(err, boom) {
		t.Errorf("Replay = %v, want boom", err)
	}
	if len(h.torque) != 2 || h.torque[1] {
		t.Errorf("torque sequence = %v, want enable then disable", h.torque)
	}
}

func TestRecordingCopies(t *testing.T) {
	rec := &Recording{}
	f := []float64{1, 2}
	if n := rec.Append(f); n != 1 {
		t.Errorf("Append = %d, want 1", n)
	}
	f[0] = 9
	if got := rec.Frames()[0][0]; got != 1 {
		t.Errorf("recorded frame aliased caller slice: %v", got)
	}
	rec.Clear()
	if rec.Len() != 0 {
		t.Errorf("Len after Clear = %d", rec.Len())
	}
}

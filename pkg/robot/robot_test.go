package robot

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gwillem/reachymini/pkg/dynamixel"
	"github.com/gwillem/reachymini/pkg/kinematics"
	"github.com/gwillem/reachymini/pkg/sim"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRobot(t *testing.T, opts ...Option) (*Robot, *sim.Bus) {
	t.Helper()
	bus := sim.NewBus(11, 12, 13, 14, 15, 16, 17, 18)
	opts = append([]Option{WithReadWait(time.Microsecond), WithRebootDelay(time.Microsecond)}, opts...)
	r, err := New(bus, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, bus
}

func TestHeadPoseAtRest(t *testing.T) {
	r, _ := newTestRobot(t)
	pose, res, err := r.HeadPose(context.Background())
	if err != nil {
		t.Fatalf("HeadPose: %v", err)
	}
	if !res.Converged {
		t.Fatalf("did not converge: %+v", res)
	}
	for i, v := range []float64{pose.X, pose.Y, pose.Z, pose.Roll, pose.Pitch, pose.Yaw} {
		if math.Abs(v) > 1e-6 {
			t.Errorf("pose component %d = %v, want 0", i, v)
		}
	}
}

func TestSetHeadPoseRoundTrip(t *testing.T) {
	ctx := context.Background()
	tests := []HeadPose{
		{Z: 10},
		{X: 5, Y: -5, Roll: 5, Pitch: 3, Yaw: -5},
		{Yaw: 15},
	}

	for _, want := range tests {
		r, _ := newTestRobot(t)
		if err := r.EnableTorque(ctx); err != nil {
			t.Fatalf("EnableTorque: %v", err)
		}
		if err := r.SetHeadPose(ctx, want); err != nil {
			t.Fatalf("SetHeadPose(%s): %v", want, err)
		}
		got, res, err := r.HeadPose(ctx)
		if err != nil || !res.Converged {
			t.Fatalf("HeadPose = %+v, %v", res, err)
		}
		diffs := []float64{
			got.X - want.X, got.Y - want.Y, got.Z - want.Z,
			got.Roll - want.Roll, got.Pitch - want.Pitch, got.Yaw - want.Yaw,
		}
		for _, d := range diffs {
			if math.Abs(d) > 0.5 {
				t.Errorf("set %s, read back %s", want, got)
				break
			}
		}
	}
}

func TestSetHeadPoseUnreachable(t *testing.T) {
	r, bus := newTestRobot(t)
	before := testutil.ToFloat64(ikUnreachable)

	err := r.SetHeadPose(context.Background(), HeadPose{Z: 300})
	if !errors.Is(err, kinematics.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if n := len(bus.Packets()); n != 0 {
		t.Errorf("unreachable pose wrote %d packets", n)
	}
	if got := testutil.ToFloat64(ikUnreachable) - before; got != 1 {
		t.Errorf("ik_unreachable_total grew by %v, want 1", got)
	}
}

func TestSetHeadPoseNonFinite(t *testing.T) {
	poses := map[string]HeadPose{
		"z +inf":    {Z: math.Inf(1)},
		"x nan":     {X: math.NaN()},
		"pitch nan": {Pitch: math.NaN()},
	}
	for name, pose := range poses {
		r, bus := newTestRobot(t)
		err := r.SetHeadPose(context.Background(), pose)
		if !errors.Is(err, kinematics.ErrUnreachable) {
			t.Errorf("%s: err = %v, want ErrUnreachable", name, err)
		}
		if n := len(bus.Packets()); n != 0 {
			t.Errorf("%s: wrote %d packets", name, n)
		}
	}
}

func TestJointsMissingMotor(t *testing.T) {
	r, bus := newTestRobot(t)
	bus.SetPosition(11, 3072)
	bus.SetSilent(13, true)
	missing := repliesMissing.WithLabelValues(string(Head3))
	before := testutil.ToFloat64(missing)

	joints, err := r.Joints(context.Background())
	if err != nil {
		t.Fatalf("Joints: %v", err)
	}
	if len(joints) != 8 {
		t.Fatalf("got %d joints, want 8", len(joints))
	}
	if math.Abs(joints[0]-math.Pi/2) > 1e-9 {
		t.Errorf("joint 0 = %v, want π/2", joints[0])
	}
	if joints[2] != 0 {
		t.Errorf("silent motor read %v, want 0", joints[2])
	}
	if got := testutil.ToFloat64(missing) - before; got != 1 {
		t.Errorf("replies_missing_total grew by %v, want 1", got)
	}
}

func TestJointsNoReply(t *testing.T) {
	r, bus := newTestRobot(t)
	for id := byte(11); id <= 18; id++ {
		bus.SetSilent(id, true)
	}
	if _, err := r.Joints(context.Background()); !errors.Is(err, ErrNoReply) {
		t.Errorf("err = %v, want ErrNoReply", err)
	}
}

func TestJointCount(t *testing.T) {
	r, _ := newTestRobot(t)
	ctx := context.Background()
	if err := r.SetJoints(ctx, []float64{1}); !errors.Is(err, ErrJointCount) {
		t.Errorf("SetJoints: err = %v, want ErrJointCount", err)
	}
	if err := r.SetHeadJoints(ctx, make([]float64, 8)); !errors.Is(err, ErrJointCount) {
		t.Errorf("SetHeadJoints: err = %v, want ErrJointCount", err)
	}
	if _, _, err := r.ForwardKinematics(make([]float64, 5)); !errors.Is(err, ErrJointCount) {
		t.Errorf("ForwardKinematics: err = %v, want ErrJointCount", err)
	}
}

func TestInvalidJointAngles(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	cases := []struct {
		name string
		set  func(context.Context, *Robot) error
	}{
		{"all nan", func(ctx context.Context, r *Robot) error {
			return r.SetJoints(ctx, []float64{0, 0, 0, nan, 0, 0, 0, 0})
		}},
		{"head inf", func(ctx context.Context, r *Robot) error {
			return r.SetHeadJoints(ctx, []float64{0, 0, 0, 0, 0, -inf})
		}},
		{"antenna nan", func(ctx context.Context, r *Robot) error {
			return r.SetAntennas(ctx, 0.2, nan)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, bus := newTestRobot(t)
			if err := tc.set(context.Background(), r); !errors.Is(err, ErrInvalidJoint) {
				t.Errorf("err = %v, want ErrInvalidJoint", err)
			}
			if n := len(bus.Packets()); n != 0 {
				t.Errorf("wrote %d packets", n)
			}
		})
	}
}

func TestAntennas(t *testing.T) {
	r, bus := newTestRobot(t)
	ctx := context.Background()
	if err := r.EnableTorque(ctx, AntennaMotors()...); err != nil {
		t.Fatalf("EnableTorque: %v", err)
	}
	if bus.Torque(11) {
		t.Error("head torque enabled by antenna request")
	}
	if err := r.SetAntennas(ctx, 0.5, -0.5); err != nil {
		t.Fatalf("SetAntennas: %v", err)
	}
	left, right, err := r.Antennas(ctx)
	if err != nil {
		t.Fatalf("Antennas: %v", err)
	}
	tick := 2 * math.Pi / 4096
	if math.Abs(left-0.5) > tick || math.Abs(right+0.5) > tick {
		t.Errorf("antennas = %v, %v, want 0.5, -0.5", left, right)
	}
}

func TestTorque(t *testing.T) {
	r, bus := newTestRobot(t)
	ctx := context.Background()
	if err := r.EnableTorque(ctx, Head1); err != nil {
		t.Fatalf("EnableTorque: %v", err)
	}
	if !bus.Torque(11) || bus.Torque(12) {
		t.Errorf("torque 11=%v 12=%v, want true false", bus.Torque(11), bus.Torque(12))
	}
	if err := r.EnableTorque(ctx); err != nil {
		t.Fatalf("EnableTorque: %v", err)
	}
	if err := r.DisableTorque(ctx); err != nil {
		t.Fatalf("DisableTorque: %v", err)
	}
	for id := byte(11); id <= 18; id++ {
		if bus.Torque(id) {
			t.Errorf("servo %d still has torque", id)
		}
	}
}

func TestTemperature(t *testing.T) {
	r, bus := newTestRobot(t)
	ctx := context.Background()
	bus.SetTemperature(12, 42)
	bus.SetHardwareError(13, dynamixel.HWOverload)
	bus.SetSilent(14, true)

	temp, err := r.Temperature(ctx, Head2)
	if err != nil || temp != 42 {
		t.Errorf("Temperature(head_2) = %d, %v, want 42", temp, err)
	}
	if _, err := r.Temperature(ctx, Head3); !errors.Is(err, dynamixel.ErrMotor) {
		t.Errorf("Temperature(head_3) err = %v, want ErrMotor", err)
	}
	if _, err := r.Temperature(ctx, Head4); !errors.Is(err, ErrNoReply) {
		t.Errorf("Temperature(head_4) err = %v, want ErrNoReply", err)
	}
	if _, err := r.Temperature(ctx, "neck"); err == nil {
		t.Error("unknown motor accepted")
	}
}

func TestTemperaturesAndLoads(t *testing.T) {
	r, bus := newTestRobot(t)
	ctx := context.Background()
	bus.SetSilent(12, true)
	bus.SetLoad(11, -50)
	bus.SetLoad(17, 120)

	temps, err := r.Temperatures(ctx)
	if err != nil {
		t.Fatalf("Temperatures: %v", err)
	}
	if len(temps) != 8 {
		t.Errorf("got %d temperatures, want 8", len(temps))
	}
	if temps[Head1] != sim.DefaultTemperature || temps[Head2] != 0 {
		t.Errorf("temperatures = %v", temps)
	}

	loads, err := r.Loads(ctx, Head1, LeftAntenna)
	if err != nil {
		t.Fatalf("Loads: %v", err)
	}
	if loads[Head1] != -50 || loads[LeftAntenna] != 120 {
		t.Errorf("loads = %v", loads)
	}
	load, err := r.Load(ctx, Head1)
	if err != nil || load != -50 {
		t.Errorf("Load(head_1) = %d, %v", load, err)
	}
}

func TestCheckAndReboot(t *testing.T) {
	r, bus := newTestRobot(t)
	ctx := context.Background()
	bus.SetHardwareError(13, dynamixel.HWOverheating)
	bus.SetSilent(18, true)
	before := testutil.ToFloat64(reboots.WithLabelValues(string(Head3)))

	report, err := r.CheckAndReboot(ctx)
	if err != nil {
		t.Fatalf("CheckAndReboot: %v", err)
	}
	if report.Checked != 8 {
		t.Errorf("Checked = %d, want 8", report.Checked)
	}
	if len(report.WithErrors) != 1 || report.WithErrors[0] != (MotorFault{Motor: Head3, Error: dynamixel.HWOverheating}) {
		t.Errorf("WithErrors = %+v", report.WithErrors)
	}
	if len(report.Rebooted) != 1 || report.Rebooted[0] != Head3 {
		t.Errorf("Rebooted = %v", report.Rebooted)
	}
	if len(report.NoResponse) != 1 || report.NoResponse[0] != RightAntenna {
		t.Errorf("NoResponse = %v", report.NoResponse)
	}
	if got := testutil.ToFloat64(reboots.WithLabelValues(string(Head3))) - before; got != 1 {
		t.Errorf("reboots_total grew by %v, want 1", got)
	}

	codes, err := r.HardwareErrors(ctx, Head3)
	if err != nil {
		t.Fatalf("HardwareErrors: %v", err)
	}
	if codes[Head3] != 0 {
		t.Errorf("head_3 still reports %s", codes[Head3])
	}
}

func TestRebootCancelled(t *testing.T) {
	r, _ := newTestRobot(t, WithRebootDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Reboot(ctx, Head1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCalibrationLimitsWrites(t *testing.T) {
	cal := Calibration{Head1: {RangeMin: 2000, RangeMax: 2100}}
	r, bus := newTestRobot(t, WithCalibration(cal))
	ctx := context.Background()
	if err := r.EnableTorque(ctx); err != nil {
		t.Fatalf("EnableTorque: %v", err)
	}
	if err := r.SetHeadJoints(ctx, []float64{1, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("SetHeadJoints: %v", err)
	}
	if got := bus.Position(11); got != 2100 {
		t.Errorf("position = %d, want clamped to 2100", got)
	}
}

func TestKinematicsHelpers(t *testing.T) {
	r, _ := newTestRobot(t)
	joints, err := r.InverseKinematics(HeadPose{Z: 10})
	if err != nil {
		t.Fatalf("InverseKinematics: %v", err)
	}
	pose, res, err := r.ForwardKinematics(joints)
	if err != nil || !res.Converged {
		t.Fatalf("ForwardKinematics = %+v, %v", res, err)
	}
	if math.Abs(pose.Z-10) > 1e-6 || math.Abs(pose.X) > 1e-6 {
		t.Errorf("pose = %s, want z=10", pose)
	}
}

func TestRawPositions(t *testing.T) {
	r, bus := newTestRobot(t)
	bus.SetPosition(11, 1500)
	bus.SetPosition(17, 3000)
	bus.SetSilent(12, true)

	got, err := r.RawPositions(context.Background())
	if err != nil {
		t.Fatalf("RawPositions: %v", err)
	}
	if got[Head1] != 1500 || got[LeftAntenna] != 3000 {
		t.Errorf("positions = %v", got)
	}
	if _, ok := got[Head2]; ok {
		t.Error("silent motor present in result")
	}
	if len(got) != 7 {
		t.Errorf("got %d motors, want 7", len(got))
	}
}

func TestSessionAccessors(t *testing.T) {
	g := DefaultGeometry()
	g.HeadZOffset = 0.18
	r, _ := newTestRobot(t, WithGeometry(g))
	if got := r.Geometry().HeadZOffset; got != 0.18 {
		t.Errorf("HeadZOffset = %v, want 0.18", got)
	}
	if got := len(r.Calibration()); got != len(AllMotors()) {
		t.Errorf("calibration has %d motors, want %d", got, len(AllMotors()))
	}
}

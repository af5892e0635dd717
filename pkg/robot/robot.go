package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gwillem/reachymini/pkg/dynamixel"
	"github.com/gwillem/reachymini/pkg/kinematics"
	"github.com/gwillem/reachymini/pkg/transport"
	"github.com/rs/zerolog"
)

// Timing defaults.
const (
	DefaultReadWait    = 10 * time.Millisecond
	DefaultRebootDelay = 500 * time.Millisecond
)

var (
	ErrJointCount   = errors.New("robot: wrong number of joints")
	ErrNoReply      = errors.New("robot: no reply")
	ErrInvalidJoint = errors.New("robot: joint angle is not finite")
)

// Robot is a session with one Reachy Mini head. All bus traffic and
// kinematics go through it; methods are safe for concurrent use and run one
// at a time.
type Robot struct {
	mu sync.Mutex

	port        transport.Port
	log         zerolog.Logger
	geometry    Geometry
	calibration Calibration
	solver      *kinematics.Solver
	readWait    time.Duration
	rebootDelay time.Duration
}

// Option configures a Robot.
type Option func(*Robot)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Robot) { r.log = l }
}

// WithGeometry replaces the built-in head geometry.
func WithGeometry(g Geometry) Option {
	return func(r *Robot) { r.geometry = g }
}

// WithCalibration sets the per-motor calibration.
func WithCalibration(c Calibration) Option {
	return func(r *Robot) { r.calibration = c }
}

// WithReadWait sets how long to wait for replies after a read request.
func WithReadWait(d time.Duration) Option {
	return func(r *Robot) { r.readWait = d }
}

// WithRebootDelay sets the pause after each reboot.
func WithRebootDelay(d time.Duration) Option {
	return func(r *Robot) { r.rebootDelay = d }
}

// New starts a session on port. The Robot owns port and closes it on Close.
func New(port transport.Port, opts ...Option) (*Robot, error) {
	r := &Robot{
		port:        port,
		log:         zerolog.Nop(),
		geometry:    DefaultGeometry(),
		calibration: DefaultCalibration(),
		readWait:    DefaultReadWait,
		rebootDelay: DefaultRebootDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	cal, err := r.calibration.withDefaults()
	if err != nil {
		return nil, err
	}
	r.calibration = cal
	solver, err := r.geometry.Solver()
	if err != nil {
		return nil, fmt.Errorf("build solver: %w", err)
	}
	r.solver = solver
	return r, nil
}

// Close closes the underlying port.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port.Close()
}

// Geometry returns the head geometry in use.
func (r *Robot) Geometry() Geometry { return r.geometry }

// Calibration returns the calibration in use.
func (r *Robot) Calibration() Calibration { return r.calibration }

// send writes a frame that expects no reply.
func (r *Robot) send(ctx context.Context, inst dynamixel.Instruction, frame []byte) error {
	recordFrame(inst.String())
	if err := r.port.Write(ctx, frame); err != nil {
		return fmt.Errorf("write %s: %w", inst, err)
	}
	return nil
}

// exchange writes a frame and returns the replies that arrive.
func (r *Robot) exchange(ctx context.Context, inst dynamixel.Instruction, frame []byte) ([]byte, error) {
	recordFrame(inst.String())
	buf, err := transport.WriteRead(ctx, r.port, frame, r.readWait)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inst, err)
	}
	return buf, nil
}

func defaultMotors(names []MotorName) []MotorName {
	if len(names) == 0 {
		return AllMotors()
	}
	return names
}

// syncRead reads reg from names and returns the replies by motor. Missing
// motors are logged and counted; error flagged replies are counted.
func (r *Robot) syncRead(ctx context.Context, reg dynamixel.Register, names []MotorName, keepErrors bool) (map[MotorName]dynamixel.Status, error) {
	ids := r.calibration.IDs(names...)
	buf, err := r.exchange(ctx, dynamixel.InstSyncRead, dynamixel.BuildSyncRead(reg, ids))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", reg.Name, err)
	}
	var replies []dynamixel.Status
	if keepErrors {
		replies = dynamixel.ScanStatusAll(buf, reg.Size)
	} else {
		replies = dynamixel.ScanStatus(buf, reg.Size)
	}

	out := make(map[MotorName]dynamixel.Status, len(replies))
	for _, st := range replies {
		name, _, ok := r.calibration.ByID(st.ID)
		if !ok {
			continue
		}
		if st.Error != 0 {
			recordMotorError(name)
			r.log.Debug().Str("motor", string(name)).Uint8("error", st.Error).Msg("status error")
		}
		out[name] = st
	}
	for _, name := range names {
		if _, ok := out[name]; !ok {
			recordMissing(name)
			r.log.Warn().Str("motor", string(name)).Str("register", reg.Name).Msg("no reply")
		}
	}
	return out, nil
}

// readJoints returns joint angles for names, in order. Motors that did not
// answer read as 0. It fails only when no motor answered.
func (r *Robot) readJoints(ctx context.Context, names []MotorName) ([]float64, error) {
	replies, err := r.syncRead(ctx, dynamixel.PresentPosition, names, false)
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("read positions: %w", ErrNoReply)
	}
	joints := make([]float64, len(names))
	for i, name := range names {
		if st, ok := replies[name]; ok {
			joints[i] = r.calibration[name].ToRadians(st.Value)
		}
	}
	return joints, nil
}

func (r *Robot) writeJoints(ctx context.Context, names []MotorName, joints []float64) error {
	if len(joints) != len(names) {
		return fmt.Errorf("%w: got %d, want %d", ErrJointCount, len(joints), len(names))
	}
	for i, j := range joints {
		if math.IsNaN(j) || math.IsInf(j, 0) {
			return fmt.Errorf("%w: %s = %v", ErrInvalidJoint, names[i], j)
		}
	}
	ids := make([]byte, len(names))
	ticks := make([]int32, len(names))
	for i, name := range names {
		mc := r.calibration[name]
		ids[i] = byte(mc.ID)
		ticks[i] = mc.ToRaw(joints[i])
	}
	if err := r.send(ctx, dynamixel.InstSyncWrite, dynamixel.BuildSyncWritePosition(ids, ticks)); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// Joints reads all eight joint angles in radians: six head motors then the
// left and right antennas.
func (r *Robot) Joints(ctx context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readJoints(ctx, AllMotors())
}

// SetJoints writes all eight joint angles in radians.
func (r *Robot) SetJoints(ctx context.Context, joints []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeJoints(ctx, AllMotors(), joints)
}

// HeadJoints reads the six head joint angles in radians.
func (r *Robot) HeadJoints(ctx context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readJoints(ctx, HeadMotors())
}

// SetHeadJoints writes the six head joint angles in radians.
func (r *Robot) SetHeadJoints(ctx context.Context, joints []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeJoints(ctx, HeadMotors(), joints)
}

// Antennas reads the antenna angles in radians.
func (r *Robot) Antennas(ctx context.Context) (left, right float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joints, err := r.readJoints(ctx, AntennaMotors())
	if err != nil {
		return 0, 0, err
	}
	return joints[0], joints[1], nil
}

// SetAntennas writes the antenna angles in radians.
func (r *Robot) SetAntennas(ctx context.Context, left, right float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeJoints(ctx, AntennaMotors(), []float64{left, right})
}

// HeadPose reads the head joints and solves for the head pose. The result
// reports whether the solver converged; an unconverged pose is returned
// as is.
func (r *Robot) HeadPose(ctx context.Context) (HeadPose, kinematics.FKResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joints, err := r.readJoints(ctx, HeadMotors())
	if err != nil {
		return HeadPose{}, kinematics.FKResult{}, err
	}
	return r.forward(joints)
}

// SetHeadPose moves the head to pose. An unreachable pose writes nothing
// and returns an error matching kinematics.ErrUnreachable.
func (r *Robot) SetHeadPose(ctx context.Context, pose HeadPose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	joints, err := r.inverse(pose)
	if err != nil {
		return err
	}
	return r.writeJoints(ctx, HeadMotors(), joints)
}

// ForwardKinematics solves for the head pose at the given head joints
// without touching the bus.
func (r *Robot) ForwardKinematics(joints []float64) (HeadPose, kinematics.FKResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forward(joints)
}

// InverseKinematics returns the head joints for pose without touching the bus.
func (r *Robot) InverseKinematics(pose HeadPose) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inverse(pose)
}

func (r *Robot) forward(joints []float64) (HeadPose, kinematics.FKResult, error) {
	if len(joints) != len(HeadMotors()) {
		return HeadPose{}, kinematics.FKResult{}, fmt.Errorf("%w: got %d, want %d", ErrJointCount, len(joints), len(HeadMotors()))
	}
	res, err := r.solver.ForwardKinematics(joints)
	if err != nil {
		return HeadPose{}, res, fmt.Errorf("forward kinematics: %w", err)
	}
	recordFK(res.Iterations, res.Converged)
	if !res.Converged {
		r.log.Warn().Int("iterations", res.Iterations).Float64("residual", res.Residual).Msg("forward kinematics did not converge")
	}
	return HeadPoseFrom(kinematics.PoseFromMatrix(res.Pose), r.geometry.HeadZOffset), res, nil
}

func (r *Robot) inverse(pose HeadPose) ([]float64, error) {
	joints, err := r.solver.InverseKinematics(pose.Pose(r.geometry.HeadZOffset).Matrix(), nil)
	if err != nil {
		if errors.Is(err, kinematics.ErrUnreachable) {
			ikUnreachable.Inc()
		}
		return nil, fmt.Errorf("inverse kinematics for %s: %w", pose, err)
	}
	return joints, nil
}

// EnableTorque enables torque on names, or on every motor if none given.
func (r *Robot) EnableTorque(ctx context.Context, names ...MotorName) error {
	return r.setTorque(ctx, true, names)
}

// DisableTorque disables torque on names, or on every motor if none given.
func (r *Robot) DisableTorque(ctx context.Context, names ...MotorName) error {
	return r.setTorque(ctx, false, names)
}

func (r *Robot) setTorque(ctx context.Context, enable bool, names []MotorName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.calibration.IDs(defaultMotors(names)...)
	if err := r.send(ctx, dynamixel.InstSyncWrite, dynamixel.BuildSyncWriteTorque(ids, enable)); err != nil {
		return fmt.Errorf("set torque: %w", err)
	}
	r.log.Debug().Bool("enable", enable).Int("motors", len(ids)).Msg("torque")
	return nil
}

// readOne reads reg from a single motor with a strict parse.
func (r *Robot) readOne(ctx context.Context, name MotorName, reg dynamixel.Register) (dynamixel.Status, error) {
	mc, ok := r.calibration[name]
	if !ok {
		return dynamixel.Status{}, fmt.Errorf("unknown motor %q", name)
	}
	buf, err := r.exchange(ctx, dynamixel.InstRead, dynamixel.BuildRead(byte(mc.ID), reg.Address, uint16(reg.Size)))
	if err != nil {
		return dynamixel.Status{}, fmt.Errorf("read %s of %s: %w", reg.Name, name, err)
	}
	if len(buf) == 0 {
		recordMissing(name)
		return dynamixel.Status{}, fmt.Errorf("read %s of %s: %w", reg.Name, name, ErrNoReply)
	}
	st, err := dynamixel.ParseStatus(buf, 0, reg.Size)
	if err != nil {
		if errors.Is(err, dynamixel.ErrMotor) {
			recordMotorError(name)
		}
		return st, fmt.Errorf("read %s of %s: %w", reg.Name, name, err)
	}
	return st, nil
}

// Temperature reads the temperature of one motor in °C.
func (r *Robot) Temperature(ctx context.Context, name MotorName) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.readOne(ctx, name, dynamixel.PresentTemperature)
	if err != nil {
		return 0, err
	}
	return uint8(st.Value), nil
}

// Load reads the present load of one motor.
func (r *Robot) Load(ctx context.Context, name MotorName) (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.readOne(ctx, name, dynamixel.PresentLoad)
	if err != nil {
		return 0, err
	}
	return int16(st.Value), nil
}

// Temperatures reads the temperature of names, or of every motor. Motors
// that do not answer, or answer with an error, read as 0.
func (r *Robot) Temperatures(ctx context.Context, names ...MotorName) (map[MotorName]uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names = defaultMotors(names)
	replies, err := r.syncRead(ctx, dynamixel.PresentTemperature, names, false)
	if err != nil {
		return nil, err
	}
	out := make(map[MotorName]uint8, len(names))
	for _, name := range names {
		out[name] = uint8(replies[name].Value)
	}
	return out, nil
}

// Loads reads the present load of names, or of every motor. Motors that do
// not answer, or answer with an error, read as 0.
func (r *Robot) Loads(ctx context.Context, names ...MotorName) (map[MotorName]int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names = defaultMotors(names)
	replies, err := r.syncRead(ctx, dynamixel.PresentLoad, names, false)
	if err != nil {
		return nil, err
	}
	out := make(map[MotorName]int16, len(names))
	for _, name := range names {
		out[name] = int16(replies[name].Value)
	}
	return out, nil
}

// RawPositions reads present positions in ticks, without calibration.
// Motors that do not answer are absent from the result.
func (r *Robot) RawPositions(ctx context.Context, names ...MotorName) (map[MotorName]int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replies, err := r.syncRead(ctx, dynamixel.PresentPosition, defaultMotors(names), false)
	if err != nil {
		return nil, err
	}
	out := make(map[MotorName]int32, len(replies))
	for name, st := range replies {
		out[name] = st.Value
	}
	return out, nil
}

// HardwareErrors reads the hardware error status of names, or of every
// motor. Motors that do not answer are absent from the result.
func (r *Robot) HardwareErrors(ctx context.Context, names ...MotorName) (map[MotorName]dynamixel.HardwareError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hardwareErrors(ctx, defaultMotors(names))
}

func (r *Robot) hardwareErrors(ctx context.Context, names []MotorName) (map[MotorName]dynamixel.HardwareError, error) {
	replies, err := r.syncRead(ctx, dynamixel.HardwareErrorStatus, names, true)
	if err != nil {
		return nil, err
	}
	out := make(map[MotorName]dynamixel.HardwareError, len(replies))
	for name, st := range replies {
		out[name] = dynamixel.HardwareError(st.Value)
	}
	return out, nil
}

// Reboot reboots names, or every motor, pausing after each one while the
// servo restarts. Rebooting clears hardware errors and disables torque.
func (r *Robot) Reboot(ctx context.Context, names ...MotorName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reboot(ctx, defaultMotors(names))
}

func (r *Robot) reboot(ctx context.Context, names []MotorName) error {
	for _, name := range names {
		mc, ok := r.calibration[name]
		if !ok {
			return fmt.Errorf("reboot: unknown motor %q", name)
		}
		if _, err := r.exchange(ctx, dynamixel.InstReboot, dynamixel.BuildReboot(byte(mc.ID))); err != nil {
			return fmt.Errorf("reboot %s: %w", name, err)
		}
		recordReboot(name)
		r.log.Info().Str("motor", string(name)).Msg("rebooted")
		if err := transport.Sleep(ctx, r.rebootDelay); err != nil {
			return err
		}
	}
	return nil
}

// MotorFault is a motor that reported a hardware error.
type MotorFault struct {
	Motor MotorName
	Error dynamixel.HardwareError
}

// CheckReport summarizes CheckAndReboot.
type CheckReport struct {
	Checked    int
	WithErrors []MotorFault
	Rebooted   []MotorName
	NoResponse []MotorName
}

// CheckAndReboot reads the hardware error status of every motor and
// reboots the ones that report an error.
func (r *Robot) CheckAndReboot(ctx context.Context) (CheckReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := AllMotors()
	report := CheckReport{Checked: len(names)}
	codes, err := r.hardwareErrors(ctx, names)
	if err != nil {
		return report, err
	}

	var faulty []MotorName
	for _, name := range names {
		code, ok := codes[name]
		switch {
		case !ok:
			report.NoResponse = append(report.NoResponse, name)
		case code != 0:
			report.WithErrors = append(report.WithErrors, MotorFault{Motor: name, Error: code})
			faulty = append(faulty, name)
			r.log.Warn().Str("motor", string(name)).Stringer("error", code).Msg("hardware error")
		}
	}
	for _, name := range faulty {
		if err := r.reboot(ctx, []MotorName{name}); err != nil {
			return report, err
		}
		report.Rebooted = append(report.Rebooted, name)
	}
	return report, nil
}

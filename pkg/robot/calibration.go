package robot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gwillem/reachymini/pkg/dynamixel"
)

// MotorCalibration maps joint angles of one motor to servo ticks.
type MotorCalibration struct {
	ID           int `json:"id" yaml:"id" toml:"id"`
	DriveMode    int `json:"drive_mode" yaml:"drive_mode" toml:"drive_mode"` // 1 inverts the direction
	HomingOffset int `json:"homing_offset" yaml:"homing_offset" toml:"homing_offset"`
	RangeMin     int `json:"range_min" yaml:"range_min" toml:"range_min"`
	RangeMax     int `json:"range_max" yaml:"range_max" toml:"range_max"`
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// DefaultCalibration returns an identity calibration over the full tick
// range for every motor.
func DefaultCalibration() Calibration {
	cal := make(Calibration, len(motorIDs))
	for _, name := range AllMotors() {
		id, _ := name.ID()
		cal[name] = MotorCalibration{ID: int(id), RangeMin: 0, RangeMax: dynamixel.TicksPerRevolution - 1}
	}
	return cal
}

// LoadCalibration loads calibration data from a JSON file. Motors missing
// from the file keep their defaults.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}
	return cal.withDefaults()
}

// withDefaults fills in missing motors, IDs and ranges and rejects unknown
// motor names.
func (c Calibration) withDefaults() (Calibration, error) {
	out := DefaultCalibration()
	for name, mc := range c {
		def, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("calibration: unknown motor %q", name)
		}
		if mc.ID == 0 {
			mc.ID = def.ID
		}
		if mc.RangeMin == 0 && mc.RangeMax == 0 {
			mc.RangeMin, mc.RangeMax = def.RangeMin, def.RangeMax
		}
		if mc.RangeMin > mc.RangeMax {
			return nil, fmt.Errorf("calibration: %s range_min %d above range_max %d", name, mc.RangeMin, mc.RangeMax)
		}
		out[name] = mc
	}
	return out, nil
}

// Normalize converts a raw servo position to a normalized value in the range [-100, 100].
func (c MotorCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	return (float64(raw-c.RangeMin)/rangeSize)*200 - 100
}

// Denormalize converts a normalized value [-100, 100] to a raw servo position.
func (c MotorCalibration) Denormalize(norm float64) int {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*rangeSize) + c.RangeMin
}

// Clamp limits raw to the calibrated range.
func (c MotorCalibration) Clamp(raw int32) int32 {
	return max(int32(c.RangeMin), min(int32(c.RangeMax), raw))
}

// ToRaw converts a joint angle to a goal position within range.
func (c MotorCalibration) ToRaw(rad float64) int32 {
	if c.DriveMode == 1 {
		rad = -rad
	}
	return c.Clamp(dynamixel.RadiansToRaw(rad) + int32(c.HomingOffset))
}

// ToRadians converts a present position to a joint angle.
func (c MotorCalibration) ToRadians(raw int32) float64 {
	rad := dynamixel.RawToRadians(raw - int32(c.HomingOffset))
	if c.DriveMode == 1 {
		rad = -rad
	}
	return rad
}

// MotorIDs returns the servo IDs for all motors in the calibration.
func (c Calibration) MotorIDs() []byte {
	return c.IDs(AllMotors()...)
}

// IDs returns the servo IDs of names, in order, skipping unknown motors.
func (c Calibration) IDs(names ...MotorName) []byte {
	ids := make([]byte, 0, len(names))
	for _, name := range names {
		if mc, ok := c[name]; ok {
			ids = append(ids, byte(mc.ID))
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id byte) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == int(id) {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

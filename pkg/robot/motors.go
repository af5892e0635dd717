// Package robot controls the Reachy Mini head and antennas over a servo bus.
package robot

import (
	"fmt"
	"strings"
)

// MotorName identifies a motor of the head.
type MotorName string

// Motor names. Head motors drive the six legs of the head platform.
const (
	Head1        MotorName = "head_1"
	Head2        MotorName = "head_2"
	Head3        MotorName = "head_3"
	Head4        MotorName = "head_4"
	Head5        MotorName = "head_5"
	Head6        MotorName = "head_6"
	LeftAntenna  MotorName = "left_antenna"
	RightAntenna MotorName = "right_antenna"
)

// motorIDs maps each motor to its servo ID on the bus.
var motorIDs = map[MotorName]byte{
	Head1:        11,
	Head2:        12,
	Head3:        13,
	Head4:        14,
	Head5:        15,
	Head6:        16,
	LeftAntenna:  17,
	RightAntenna: 18,
}

// AllMotors returns all motor names in order (matching servo IDs 11-18).
func AllMotors() []MotorName {
	return []MotorName{Head1, Head2, Head3, Head4, Head5, Head6, LeftAntenna, RightAntenna}
}

// HeadMotors returns the six platform motors in leg order.
func HeadMotors() []MotorName {
	return AllMotors()[:6]
}

// AntennaMotors returns the left and right antenna motors.
func AntennaMotors() []MotorName {
	return []MotorName{LeftAntenna, RightAntenna}
}

// ID returns the default servo ID of the motor.
func (m MotorName) ID() (byte, bool) {
	id, ok := motorIDs[m]
	return id, ok
}

// MotorByID returns the motor with the default servo ID id.
func MotorByID(id byte) (MotorName, bool) {
	for name, mid := range motorIDs {
		if mid == id {
			return name, true
		}
	}
	return "", false
}

// ParseMotor accepts a motor name or one of the group names "head",
// "antennas" and "all".
func ParseMotor(s string) ([]MotorName, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "all", "":
		return AllMotors(), nil
	case "head":
		return HeadMotors(), nil
	case "antennas":
		return AntennaMotors(), nil
	}
	name := MotorName(s)
	if _, ok := motorIDs[name]; !ok {
		return nil, fmt.Errorf("unknown motor %q", s)
	}
	return []MotorName{name}, nil
}

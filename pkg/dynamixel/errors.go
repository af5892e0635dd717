package dynamixel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTooShort           = errors.New("dynamixel: packet too short")
	ErrInvalidHeader      = errors.New("dynamixel: invalid header")
	ErrInvalidInstruction = errors.New("dynamixel: invalid instruction")
	ErrInvalidLength      = errors.New("dynamixel: invalid length")
	ErrInvalidChecksum    = errors.New("dynamixel: invalid checksum")

	// ErrMotor matches any *MotorError with errors.Is.
	ErrMotor = errors.New("dynamixel: motor error")
)

// MotorError reports a nonzero error byte in a status packet.
type MotorError struct {
	ID   byte
	Code byte
}

func (e *MotorError) Error() string {
	return fmt.Sprintf("dynamixel: motor %d error 0x%02X (%s)", e.ID, e.Code, describeStatusError(e.Code))
}

func (e *MotorError) Is(target error) bool {
	return target == ErrMotor
}

// Alert reports whether the servo raised its hardware alert bit. The cause
// is available from the hardware error status register.
func (e *MotorError) Alert() bool {
	return e.Code&0x80 != 0
}

var statusErrors = map[byte]string{
	0x01: "result fail",
	0x02: "instruction error",
	0x03: "crc error",
	0x04: "data range error",
	0x05: "data length error",
	0x06: "data limit error",
	0x07: "access error",
}

func describeStatusError(code byte) string {
	var parts []string
	if msg, ok := statusErrors[code&0x7F]; ok {
		parts = append(parts, msg)
	} else if code&0x7F != 0 {
		parts = append(parts, fmt.Sprintf("error %d", code&0x7F))
	}
	if code&0x80 != 0 {
		parts = append(parts, "hardware alert")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// HardwareError is the value of the hardware error status register.
type HardwareError byte

// Hardware error status bits.
const (
	HWInputVoltage    HardwareError = 1 << 0
	HWOverheating     HardwareError = 1 << 2
	HWMotorEncoder    HardwareError = 1 << 3
	HWElectricalShock HardwareError = 1 << 4
	HWOverload        HardwareError = 1 << 5
)

var hardwareErrorNames = []struct {
	bit  HardwareError
	name string
}{
	{HWInputVoltage, "input voltage"},
	{HWOverheating, "overheating"},
	{HWMotorEncoder, "motor encoder"},
	{HWElectricalShock, "electrical shock"},
	{HWOverload, "overload"},
}

func (h HardwareError) String() string {
	if h == 0 {
		return "ok"
	}
	var parts []string
	rest := h
	for _, n := range hardwareErrorNames {
		if h&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", byte(rest)))
	}
	return strings.Join(parts, ", ")
}

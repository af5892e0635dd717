// Package dynamixel implements the Dynamixel Protocol 2.0 wire format used by
// the XL330 servos: checksums, instruction packet builders, status packet
// parsing and position unit conversion.
//
// Packet layout:
//
//	[FF][FF][FD][00][ID][LEN_L][LEN_H][INSTR][params...][CRC_L][CRC_H]
//
// LEN counts the instruction byte, the parameters and the two CRC bytes.
package dynamixel

// BroadcastID addresses every servo on the bus.
const BroadcastID byte = 0xFE

// MaxID is the highest individually addressable servo ID.
const MaxID byte = 252

// header is the fixed packet prefix.
var header = [4]byte{0xFF, 0xFF, 0xFD, 0x00}

// Instruction is a Protocol 2.0 instruction code.
type Instruction byte

// Instruction codes used by this package.
const (
	InstRead      Instruction = 0x02
	InstReboot    Instruction = 0x08
	InstSyncRead  Instruction = 0x82
	InstSyncWrite Instruction = 0x83
	InstStatus    Instruction = 0x55
)

func (i Instruction) String() string {
	switch i {
	case InstRead:
		return "read"
	case InstReboot:
		return "reboot"
	case InstSyncRead:
		return "sync_read"
	case InstSyncWrite:
		return "sync_write"
	case InstStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Access describes whether a control table entry can be written.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

// Register is one entry of the XL330 control table.
type Register struct {
	Name    string
	Address uint16
	Size    int
	Access  Access
}

// XL330 control table entries.
var (
	TorqueEnable        = Register{Name: "torque_enable", Address: 64, Size: 1, Access: ReadWrite}
	HardwareErrorStatus = Register{Name: "hardware_error_status", Address: 70, Size: 1, Access: ReadOnly}
	GoalPosition        = Register{Name: "goal_position", Address: 116, Size: 4, Access: ReadWrite}
	PresentLoad         = Register{Name: "present_load", Address: 126, Size: 2, Access: ReadOnly}
	PresentPosition     = Register{Name: "present_position", Address: 132, Size: 4, Access: ReadOnly}
	PresentTemperature  = Register{Name: "present_temperature", Address: 146, Size: 1, Access: ReadOnly}
)

// Registers lists the control table entries in address order.
func Registers() []Register {
	return []Register{
		TorqueEnable,
		HardwareErrorStatus,
		GoalPosition,
		PresentLoad,
		PresentPosition,
		PresentTemperature,
	}
}

// RegisterAt returns the known register at addr.
func RegisterAt(addr uint16) (Register, bool) {
	for _, r := range Registers() {
		if r.Address == addr {
			return r, true
		}
	}
	return Register{}, false
}

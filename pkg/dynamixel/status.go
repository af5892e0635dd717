package dynamixel

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// statusOverhead is the size of a status packet without its data:
// header(4) + id(1) + length(2) + instruction(1) + error(1) + crc(2).
const statusOverhead = 11

// Status is one decoded status packet.
type Status struct {
	ID    byte
	Error byte
	Value int32
}

// StatusSize returns the total size of a status packet carrying size data bytes.
func StatusSize(size int) int {
	return statusOverhead + size
}

func validSize(size int) bool {
	return size == 1 || size == 2 || size == 4
}

// decodeValue reads a little-endian value: 1 byte unsigned, 2 and 4 bytes signed.
func decodeValue(b []byte, size int) int32 {
	switch size {
	case 1:
		return int32(b[0])
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

// ParseStatus parses the status packet starting at buf[offset] carrying
// size data bytes (1, 2 or 4). A nonzero error byte is returned as a
// *MotorError.
func ParseStatus(buf []byte, offset int, size int) (Status, error) {
	if !validSize(size) {
		return Status{}, fmt.Errorf("%w: unsupported data size %d", ErrInvalidLength, size)
	}
	if offset < 0 || offset > len(buf) {
		return Status{}, ErrTooShort
	}
	b := buf[offset:]
	if len(b) < StatusSize(size) {
		return Status{}, ErrTooShort
	}
	if !bytes.Equal(b[:4], header[:]) {
		return Status{}, ErrInvalidHeader
	}
	if Instruction(b[7]) != InstStatus {
		return Status{}, ErrInvalidInstruction
	}
	if int(binary.LittleEndian.Uint16(b[5:7])) != size+4 {
		return Status{}, ErrInvalidLength
	}

	st := Status{
		ID:    b[4],
		Error: b[8],
		Value: decodeValue(b[9:], size),
	}
	if st.Error != 0 {
		return st, &MotorError{ID: st.ID, Code: st.Error}
	}
	return st, nil
}

// ParsePosition parses a 4-byte present position reply at buf[offset].
func ParsePosition(buf []byte, offset int) (id byte, raw int32, err error) {
	st, err := ParseStatus(buf, offset, 4)
	if err != nil {
		return 0, 0, err
	}
	return st.ID, st.Value, nil
}

// ParseUint8 parses a 1-byte reply such as a temperature.
func ParseUint8(buf []byte) (uint8, error) {
	st, err := ParseStatus(buf, 0, 1)
	if err != nil {
		return 0, err
	}
	return uint8(st.Value), nil
}

// ParseInt16 parses a signed 2-byte reply such as a load.
func ParseInt16(buf []byte) (int16, error) {
	st, err := ParseStatus(buf, 0, 2)
	if err != nil {
		return 0, err
	}
	return int16(st.Value), nil
}

// ScanStatus extracts every status packet carrying size data bytes from
// buf, which may hold any mix of replies, partial packets and noise.
// Packets are located by their header rather than by position, so missing
// replies do not shift the others. 1- and 2-byte replies with a nonzero
// error byte are dropped; 4-byte position replies are kept. ScanStatus
// never fails: unparseable spans are skipped.
func ScanStatus(buf []byte, size int) []Status {
	all := ScanStatusAll(buf, size)
	if size == 4 {
		return all
	}
	out := all[:0]
	for _, st := range all {
		if st.Error == 0 {
			out = append(out, st)
		}
	}
	return out
}

// ScanStatusAll is ScanStatus without the error filter.
func ScanStatusAll(buf []byte, size int) []Status {
	if !validSize(size) {
		return nil
	}
	var out []Status
	for i := 0; i+len(header) <= len(buf); i++ {
		if !bytes.Equal(buf[i:i+len(header)], header[:]) {
			continue
		}
		if i+StatusSize(size) > len(buf) {
			continue
		}
		b := buf[i:]
		if Instruction(b[7]) != InstStatus {
			continue
		}
		if int(binary.LittleEndian.Uint16(b[5:7])) != size+4 {
			continue
		}
		out = append(out, Status{
			ID:    b[4],
			Error: b[8],
			Value: decodeValue(b[9:], size),
		})
	}
	return out
}

// ScanPositions returns the present position replies found in buf.
func ScanPositions(buf []byte) []Status {
	return ScanStatus(buf, PresentPosition.Size)
}

// ScanUint8 returns the error-free 1-byte replies found in buf.
func ScanUint8(buf []byte) []Status {
	return ScanStatus(buf, 1)
}

// ScanInt16 returns the error-free 2-byte replies found in buf.
func ScanInt16(buf []byte) []Status {
	return ScanStatus(buf, 2)
}

package dynamixel

import (
	"bytes"
	"encoding/binary"
)

// Packet is a decoded instruction packet.
type Packet struct {
	ID          byte
	Instruction Instruction
	Params      []byte
}

// ParseInstruction decodes the instruction packet at the start of buf and
// returns it with the number of bytes it occupied. Unlike status parsing the
// checksum is verified, since a servo ignores corrupted instructions.
func ParseInstruction(buf []byte) (Packet, int, error) {
	const minSize = 10 // header + id + length + instruction + crc
	if len(buf) < minSize {
		return Packet{}, 0, ErrTooShort
	}
	if !bytes.Equal(buf[:4], header[:]) {
		return Packet{}, 0, ErrInvalidHeader
	}
	length := int(binary.LittleEndian.Uint16(buf[5:7]))
	if length < 3 {
		return Packet{}, 0, ErrInvalidLength
	}
	total := 7 + length
	if len(buf) < total {
		return Packet{}, 0, ErrTooShort
	}
	want := binary.LittleEndian.Uint16(buf[total-2 : total])
	if CRC16(buf[:total-2]) != want {
		return Packet{}, 0, ErrInvalidChecksum
	}
	return Packet{
		ID:          buf[4],
		Instruction: Instruction(buf[7]),
		Params:      buf[8 : total-2],
	}, total, nil
}

// RegisterParams splits READ, SYNC_READ and SYNC_WRITE parameters into the register
// address, the data size and the per-servo part.
func (p Packet) RegisterParams() (addr uint16, size int, rest []byte, ok bool) {
	if len(p.Params) < 4 {
		return 0, 0, nil, false
	}
	addr = binary.LittleEndian.Uint16(p.Params[0:2])
	size = int(binary.LittleEndian.Uint16(p.Params[2:4]))
	return addr, size, p.Params[4:], true
}

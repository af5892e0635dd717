package dynamixel

// packet accumulates one outgoing packet.
type packet struct {
	buf []byte
}

// newPacket starts a packet addressed to id. capacity is the expected
// total size including the CRC.
func newPacket(id byte, capacity int) *packet {
	p := &packet{buf: make([]byte, 0, capacity)}
	p.buf = append(p.buf, header[:]...)
	p.buf = append(p.buf, id)
	return p
}

// instruction writes the length field and the instruction byte.
func (p *packet) instruction(inst Instruction, paramLen int) {
	length := uint16(paramLen + 3) // instruction + params + crc
	p.u16(length)
	p.u8(byte(inst))
}

func (p *packet) u8(v byte) {
	p.buf = append(p.buf, v)
}

func (p *packet) u16(v uint16) {
	p.buf = append(p.buf, byte(v), byte(v>>8))
}

func (p *packet) i32(v int32) {
	u := uint32(v)
	p.buf = append(p.buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}

func (p *packet) bytes(b []byte) {
	p.buf = append(p.buf, b...)
}

// value appends v using size bytes, little-endian.
func (p *packet) value(v int32, size int) {
	switch size {
	case 1:
		p.u8(byte(v))
	case 2:
		p.u16(uint16(v))
	default:
		p.i32(v)
	}
}

// finish appends the CRC and returns the packet bytes.
func (p *packet) finish() []byte {
	crc := CRC16(p.buf)
	p.u16(crc)
	return p.buf
}

// BuildRead builds a READ packet for length bytes at addr on one servo.
func BuildRead(id byte, addr, length uint16) []byte {
	p := newPacket(id, 14)
	p.instruction(InstRead, 4)
	p.u16(addr)
	p.u16(length)
	return p.finish()
}

// BuildReboot builds a REBOOT packet. The servo does not answer for about
// 500 ms afterwards.
func BuildReboot(id byte) []byte {
	p := newPacket(id, 10)
	p.instruction(InstReboot, 0)
	return p.finish()
}

// BuildSyncRead builds a SYNC_READ packet asking every servo in ids for reg.
func BuildSyncRead(reg Register, ids []byte) []byte {
	paramLen := 4 + len(ids)
	p := newPacket(BroadcastID, 10+paramLen)
	p.instruction(InstSyncRead, paramLen)
	p.u16(reg.Address)
	p.u16(uint16(reg.Size))
	p.bytes(ids)
	return p.finish()
}

// BuildSyncWrite builds a SYNC_WRITE packet setting reg to values[i] on
// ids[i]. Each value is encoded with reg.Size bytes. ids and values must
// have the same length; extra entries on either side are dropped.
func BuildSyncWrite(reg Register, ids []byte, values []int32) []byte {
	n := min(len(ids), len(values))
	paramLen := 4 + n*(1+reg.Size)
	p := newPacket(BroadcastID, 10+paramLen)
	p.instruction(InstSyncWrite, paramLen)
	p.u16(reg.Address)
	p.u16(uint16(reg.Size))
	for i := 0; i < n; i++ {
		p.u8(ids[i])
		p.value(values[i], reg.Size)
	}
	return p.finish()
}

// BuildSyncWriteTorque enables or disables torque on every servo in ids.
func BuildSyncWriteTorque(ids []byte, enable bool) []byte {
	var v int32
	if enable {
		v = 1
	}
	values := make([]int32, len(ids))
	for i := range values {
		values[i] = v
	}
	return BuildSyncWrite(TorqueEnable, ids, values)
}

// BuildSyncWritePosition sets the goal position, in ticks, of every servo in ids.
func BuildSyncWritePosition(ids []byte, ticks []int32) []byte {
	return BuildSyncWrite(GoalPosition, ids, ticks)
}

// BuildSyncWritePositionRadians sets the goal position, in radians, of every
// servo in ids.
func BuildSyncWritePositionRadians(ids []byte, radians []float64) []byte {
	ticks := make([]int32, len(radians))
	for i, r := range radians {
		ticks[i] = RadiansToRaw(r)
	}
	return BuildSyncWritePosition(ids, ticks)
}

// BuildStatus builds the status packet a servo sends back: errCode followed
// by data.
func BuildStatus(id byte, errCode byte, data []byte) []byte {
	paramLen := 1 + len(data)
	p := newPacket(id, 10+paramLen)
	p.instruction(InstStatus, paramLen)
	p.u8(errCode)
	p.bytes(data)
	return p.finish()
}

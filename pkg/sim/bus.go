// Package sim is an in-memory Dynamixel bus. It decodes instruction packets
// written to it and queues the status replies real servos would send, so the
// robot session can run without hardware.
package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/gwillem/reachymini/pkg/dynamixel"
	"github.com/gwillem/reachymini/pkg/transport"
)

// DefaultTemperature is the present temperature of a new servo, in °C.
const DefaultTemperature = 30

// Servo is the register state of one simulated servo.
type Servo struct {
	ID     byte
	Silent bool // never replies
	regs   map[uint16]int32
}

func newServo(id byte) *Servo {
	return &Servo{
		ID: id,
		regs: map[uint16]int32{
			dynamixel.GoalPosition.Address:       dynamixel.CenterPosition,
			dynamixel.PresentPosition.Address:    dynamixel.CenterPosition,
			dynamixel.PresentTemperature.Address: DefaultTemperature,
		},
	}
}

// statusError is the error byte the servo puts in its replies.
func (s *Servo) statusError() byte {
	if s.regs[dynamixel.HardwareErrorStatus.Address] != 0 {
		return 0x80
	}
	return 0
}

func (s *Servo) write(addr uint16, v int32) {
	s.regs[addr] = v
	if addr == dynamixel.GoalPosition.Address && s.regs[dynamixel.TorqueEnable.Address] != 0 {
		s.regs[dynamixel.PresentPosition.Address] = v
	}
}

// Bus is a transport.Port backed by simulated servos. It is safe for
// concurrent use.
type Bus struct {
	mu      sync.Mutex
	servos  map[byte]*Servo
	pending []byte
	packets []dynamixel.Packet
	closed  bool
}

var _ transport.Port = (*Bus)(nil)

// NewBus returns a bus with one servo per id, centered and torque off.
func NewBus(ids ...byte) *Bus {
	b := &Bus{servos: make(map[byte]*Servo, len(ids))}
	for _, id := range ids {
		b.servos[id] = newServo(id)
	}
	return b
}

func (b *Bus) Write(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(frame) > 0 {
		p, n, err := dynamixel.ParseInstruction(frame)
		if err != nil {
			// A real bus drops corrupted packets silently.
			if errors.Is(err, dynamixel.ErrTooShort) {
				return nil
			}
			frame = frame[1:]
			continue
		}
		frame = frame[n:]
		p.Params = append([]byte(nil), p.Params...)
		b.packets = append(b.packets, p)
		b.handle(p)
	}
	return nil
}

// Read returns and clears the queued replies.
func (b *Bus) Read(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := b.pending
	b.pending = nil
	return out, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Bus) handle(p dynamixel.Packet) {
	switch p.Instruction {
	case dynamixel.InstRead:
		addr, size, _, ok := p.RegisterParams()
		if !ok {
			return
		}
		b.reply(p.ID, addr, size)
	case dynamixel.InstSyncRead:
		addr, size, ids, ok := p.RegisterParams()
		if !ok {
			return
		}
		for _, id := range ids {
			b.reply(id, addr, size)
		}
	case dynamixel.InstSyncWrite:
		addr, size, rest, ok := p.RegisterParams()
		if !ok || size <= 0 {
			return
		}
		for len(rest) >= 1+size {
			if s, ok := b.servos[rest[0]]; ok {
				s.write(addr, decode(rest[1:1+size]))
			}
			rest = rest[1+size:]
		}
	case dynamixel.InstReboot:
		s, ok := b.servos[p.ID]
		if !ok || s.Silent {
			return
		}
		s.regs[dynamixel.HardwareErrorStatus.Address] = 0
		s.regs[dynamixel.TorqueEnable.Address] = 0
		b.pending = append(b.pending, dynamixel.BuildStatus(p.ID, 0, nil)...)
	}
}

func (b *Bus) reply(id byte, addr uint16, size int) {
	s, ok := b.servos[id]
	if !ok || s.Silent {
		return
	}
	data := encode(s.regs[addr], size)
	b.pending = append(b.pending, dynamixel.BuildStatus(id, s.statusError(), data)...)
}

// encode writes v little-endian into size bytes.
func encode(v int32, size int) []byte {
	out := make([]byte, size)
	u := uint32(v)
	for i := 0; i < size && i < 4; i++ {
		out[i] = byte(u >> (8 * i))
	}
	return out
}

// decode reads a little-endian value, sign-extending 2- and 4-byte data.
func decode(b []byte) int32 {
	switch len(b) {
	case 1:
		return int32(b[0])
	case 2:
		return int32(int16(uint16(b[0]) | uint16(b[1])<<8))
	default:
		var u uint32
		for i := 0; i < len(b) && i < 4; i++ {
			u |= uint32(b[i]) << (8 * i)
		}
		return int32(u)
	}
}

func (b *Bus) servo(id byte) *Servo {
	s, ok := b.servos[id]
	if !ok {
		s = newServo(id)
		b.servos[id] = s
	}
	return s
}

// SetSilent makes servo id stop (or resume) answering.
func (b *Bus) SetSilent(id byte, silent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servo(id).Silent = silent
}

// SetRegister stores v at addr on servo id, adding the servo if needed.
func (b *Bus) SetRegister(id byte, reg dynamixel.Register, v int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servo(id).regs[reg.Address] = v
}

// Register returns the value at reg on servo id.
func (b *Bus) Register(id byte, reg dynamixel.Register) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.servos[id]
	if !ok {
		return 0
	}
	return s.regs[reg.Address]
}

// SetHardwareError sets the hardware error status of servo id. Nonzero
// values raise the alert bit in its replies until it is rebooted.
func (b *Bus) SetHardwareError(id byte, code dynamixel.HardwareError) {
	b.SetRegister(id, dynamixel.HardwareErrorStatus, int32(code))
}

// SetTemperature sets the present temperature of servo id.
func (b *Bus) SetTemperature(id byte, celsius uint8) {
	b.SetRegister(id, dynamixel.PresentTemperature, int32(celsius))
}

// SetLoad sets the present load of servo id.
func (b *Bus) SetLoad(id byte, load int16) {
	b.SetRegister(id, dynamixel.PresentLoad, int32(load))
}

// SetPosition moves servo id to raw ticks.
func (b *Bus) SetPosition(id byte, raw int32) {
	b.SetRegister(id, dynamixel.PresentPosition, raw)
}

// Position returns the present position of servo id.
func (b *Bus) Position(id byte) int32 {
	return b.Register(id, dynamixel.PresentPosition)
}

// Torque reports whether servo id has torque enabled.
func (b *Bus) Torque(id byte) bool {
	return b.Register(id, dynamixel.TorqueEnable) != 0
}

// Packets returns the instruction packets received so far.
func (b *Bus) Packets() []dynamixel.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]dynamixel.Packet(nil), b.packets...)
}

// ResetPackets forgets the received packets.
func (b *Bus) ResetPackets() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
}

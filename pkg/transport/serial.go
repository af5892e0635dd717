package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial defaults for the XL330 bus.
const (
	DefaultBaudRate = 1_000_000
	// DefaultQuiet is the idle gap that ends a read.
	DefaultQuiet = 5 * time.Millisecond
)

// SerialConfig configures OpenSerial. Zero fields take defaults.
type SerialConfig struct {
	BaudRate int
	Quiet    time.Duration
}

// SerialPort is a Port on a local serial adapter.
type SerialPort struct {
	name  string
	quiet time.Duration

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// OpenSerial opens the named serial device at 8N1.
func OpenSerial(name string, cfg SerialConfig) (*SerialPort, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := p.SetReadTimeout(cfg.Quiet); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	_ = p.ResetInputBuffer()
	return &SerialPort{name: name, quiet: cfg.Quiet, port: p}, nil
}

// Name returns the device path.
func (s *SerialPort) Name() string { return s.name }

func (s *SerialPort) Write(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(frame) > 0 {
		n, err := s.port.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

// Read collects bytes until the line has been quiet for the configured gap
// or ctx is done.
func (s *SerialPort) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []byte
	chunk := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := s.port.Read(chunk)
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, chunk[:n]...)
	}
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// ListSerialPorts returns the serial devices present on this machine.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Package transport carries raw Dynamixel frames between the host and the
// servo bus, either over a local serial adapter or through the daemon's
// WebSocket bridge.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWait is how long WriteRead waits for replies before reading.
const DefaultWait = 10 * time.Millisecond

// ErrClosed is returned by operations on a closed port.
var ErrClosed = errors.New("transport: port closed")

// Port is a byte pipe to the servo bus. Read returns whatever arrived since
// the last read, which may be several replies, a partial reply or nothing.
type Port interface {
	Write(ctx context.Context, frame []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// WriteRead writes frame, gives the servos wait to answer and reads the
// replies. A zero wait uses DefaultWait.
func WriteRead(ctx context.Context, p Port, frame []byte, wait time.Duration) ([]byte, error) {
	if wait <= 0 {
		wait = DefaultWait
	}
	if err := p.Write(ctx, frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	if err := Sleep(ctx, wait); err != nil {
		return nil, err
	}
	buf, err := p.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read replies: %w", err)
	}
	return buf, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultReplayInterval is the pause between replayed frames.
const DefaultReplayInterval = 20 * time.Millisecond

var ErrEmptyRecording = errors.New("stream: no recorded frames to replay")

// Recording is a joint trajectory: one frame of all eight joints per
// stream sample. It is safe for concurrent use.
type Recording struct {
	mu     sync.Mutex
	frames [][]float64
}

// Append adds a copy of frame and returns the new length.
func (r *Recording) Append(frame []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]float64(nil), frame...))
	return len(r.frames)
}

// Len returns the number of frames.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Clear drops all frames.
func (r *Recording) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// Frames returns a copy of the frame list. The frames themselves are shared.
func (r *Recording) Frames() [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]float64(nil), r.frames...)
}

// Replay enables torque, writes every frame of rec interval apart and
// disables torque again, also when ctx is cancelled midway.
func Replay(ctx context.Context, head Head, rec *Recording, interval time.Duration) error {
	frames := rec.Frames()
	if len(frames) == 0 {
		return ErrEmptyRecording
	}
	if interval <= 0 {
		interval = DefaultReplayInterval
	}

	if err := head.EnableTorque(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	err := play(ctx, head, frames, interval)
	if derr := head.DisableTorque(context.WithoutCancel(ctx)); derr != nil && err == nil {
		err = fmt.Errorf("disable torque: %w", derr)
	}
	return err
}

func play(ctx context.Context, head Head, frames [][]float64, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i, frame := range frames {
		if err := head.SetJoints(ctx, frame); err != nil {
			return fmt.Errorf("replay frame %d: %w", i, err)
		}
		if i == len(frames)-1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

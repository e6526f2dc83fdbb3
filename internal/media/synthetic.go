package media

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// syntheticFrameSize is the payload size of generated camera frames.
const syntheticFrameSize = 64

// SyntheticCamera generates deterministic frames without touching hardware.
// Frames carry a monotonically increasing sequence number so consumers can
// tell captures apart.
type SyntheticCamera struct {
	// mu protects seq and closed.
	mu sync.Mutex
	// seq counts produced frames.
	seq uint64
	// closed marks the device as released.
	closed bool
}

// NewSyntheticCamera creates a camera producing generated frames.
func NewSyntheticCamera() *SyntheticCamera {
	return &SyntheticCamera{}
}

// CaptureFrame returns the next generated frame.
func (c *SyntheticCamera) CaptureFrame(_ context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrStreamClosed
	}

	c.seq++

	data := make([]byte, syntheticFrameSize)
	binary.BigEndian.PutUint64(data, c.seq)
	binary.BigEndian.PutUint64(data[8:], uint64(time.Now().UnixNano()))

	return &Frame{
		Data:       data,
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the synthetic device.
func (c *SyntheticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

// SyntheticScreen produces a generated recording blob sized proportionally
// to the requested duration.
type SyntheticScreen struct {
	// mu protects closed.
	mu sync.Mutex
	// closed marks the capture stream as released.
	closed bool
}

// NewSyntheticScreen creates a screen producing generated recordings.
func NewSyntheticScreen() *SyntheticScreen {
	return &SyntheticScreen{}
}

// syntheticBytesPerSecond sizes generated recordings.
const syntheticBytesPerSecond = 1024

// Record waits for the requested duration (or until the context is
// cancelled) and returns a generated blob.
func (s *SyntheticScreen) Record(ctx context.Context, duration time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.mu.Unlock()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	size := int(duration.Seconds() * syntheticBytesPerSecond)
	if size < syntheticBytesPerSecond {
		size = syntheticBytesPerSecond
	}

	blob := make([]byte, size)
	binary.BigEndian.PutUint64(blob, uint64(time.Now().UnixNano()))

	return blob, nil
}

// Close releases the synthetic capture stream.
func (s *SyntheticScreen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// Package media defines the capture capabilities the guardian depends on:
// a camera that yields frame snapshots and a screen that can be recorded
// into an evidence blob. Real device integrations implement these
// interfaces; the synthetic implementations in this package back the daemon
// when no device integration is wired in, and tests use scripted fakes.
package media

import (
	"context"
	"errors"
	"time"
)

// Frame is a single camera snapshot.
type Frame struct {
	// Data is the encoded image payload.
	Data []byte
	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time
}

// Empty reports whether the frame carries no payload. Capture paths treat an
// empty frame as "no frame", not an error.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0
}

// Camera provides snapshot reads from an acquired video device. The stream
// is acquired once and held for the process lifetime; CaptureFrame is a
// synchronous snapshot safe to call from multiple readers.
type Camera interface {
	// CaptureFrame returns the current frame. A nil frame with nil error
	// means the device produced nothing this instant; callers skip silently.
	CaptureFrame(ctx context.Context) (*Frame, error)
	// Close releases the underlying device.
	Close() error
}

// Screen records the display into a single evidence blob.
type Screen interface {
	// Record captures the screen for the given duration.
	Record(ctx context.Context, duration time.Duration) ([]byte, error)
	// Close releases the underlying capture stream.
	Close() error
}

// CameraProvider acquires the camera stream. Called once at daemon startup.
type CameraProvider func(ctx context.Context) (Camera, error)

// ScreenProvider acquires the screen capture stream. Called once at arm
// time so no user gesture is needed mid-incident.
type ScreenProvider func(ctx context.Context) (Screen, error)

// ErrStreamClosed is returned when capturing from a released device.
var ErrStreamClosed = errors.New("media stream is closed")

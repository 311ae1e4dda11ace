// Package frame provides frame sources and the codec for outbound frames.
package frame

import (
	"errors"
	"image"
)

// ErrNotReady reports that the source has no frame available right now.
// The capture loop skips the tick and retries later; it is never fatal.
var ErrNotReady = errors.New("frame source not ready")

// Source captures one raw frame on demand. The session loop adapts to
// whatever cadence the source can sustain.
type Source interface {
	// Capture returns the current frame, or ErrNotReady when no frame is
	// available yet.
	Capture() (image.Image, error)

	// Close releases the source.
	Close() error
}

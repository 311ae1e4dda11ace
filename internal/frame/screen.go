package frame

import (
	"fmt"
	"image"

	"github.com/vova616/screenshot"
)

// ScreenSource captures the primary display. Useful when the proctored
// machine itself is being monitored rather than a camera feed.
type ScreenSource struct{}

// NewScreenSource returns a screen-capture source.
func NewScreenSource() *ScreenSource {
	return &ScreenSource{}
}

// Capture grabs the current screen contents.
func (s *ScreenSource) Capture() (image.Image, error) {
	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return img, nil
}

// Close implements Source. A screen grab holds no resources.
func (s *ScreenSource) Close() error {
	return nil
}

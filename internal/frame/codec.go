package frame

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Default codec settings, matching the original capture pipeline
// (640px-wide frames, JPEG at 80% quality).
const (
	DefaultMaxWidth = 640
	DefaultQuality  = 80
)

// Codec bounds and encodes captured frames for transport. Lossy
// compression keeps each payload small enough for one websocket message.
type Codec struct {
	MaxWidth int // frames wider than this are scaled down; 0 keeps the original size
	Quality  int // JPEG quality in (0,100]; 0 uses DefaultQuality
}

// NewCodec returns a codec with the given bounds, substituting defaults
// for zero values.
func NewCodec(maxWidth, quality int) Codec {
	if maxWidth == 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return Codec{MaxWidth: maxWidth, Quality: quality}
}

// Encode returns the frame as bounded JPEG bytes.
func (c Codec) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if c.MaxWidth > 0 && img.Bounds().Dx() > c.MaxWidth {
		img = imaging.Resize(img, c.MaxWidth, 0, imaging.Linear)
	}
	quality := c.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

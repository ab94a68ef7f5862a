// Package frame holds decoded video frames and the validated images handed to
// the detector.
package frame

import (
	"fmt"

	"github.com/pkg/errors"
)

// Channels is the number of bytes per pixel in every buffer handled here (RGB).
const Channels = 3

// ErrSizeMismatch is wrapped by every ConversionError.
var ErrSizeMismatch = errors.New("frame buffer size mismatch")

// RawFrame is one decoded frame as produced by a frame source. Pix is RGB,
// row-major, without padding.
type RawFrame struct {
	// Index is zero-based and increases by one per decoded frame.
	Index int
	Pix   []byte
}

// CanonicalImage is an RGB image whose buffer length has been verified against
// its dimensions. Obtain one through Convert.
type CanonicalImage struct {
	Width  int
	Height int
	Pix    []byte
}

// ConversionError reports a buffer that does not describe a width x height RGB image.
type ConversionError struct {
	Width, Height int
	Len           int
	Err           error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %d byte buffer to %dx%d RGB image: %v", e.Len, e.Width, e.Height, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *ConversionError) Cause() error { return e.Err }

// Convert validates buf against width and height and copies it into a
// CanonicalImage. It never returns a partially converted image.
func Convert(buf []byte, width, height int) (*CanonicalImage, error) {
	if width <= 0 || height <= 0 || len(buf) != width*height*Channels {
		return nil, &ConversionError{Width: width, Height: height, Len: len(buf), Err: ErrSizeMismatch}
	}
	pix := make([]byte, len(buf))
	copy(pix, buf)
	return &CanonicalImage{
		Width:  width,
		Height: height,
		Pix:    pix,
	}, nil
}

// Stride is the number of bytes per image row.
func (c *CanonicalImage) Stride() int {
	return c.Width * Channels
}

// RGB returns the pixel at (x, y).
func (c *CanonicalImage) RGB(x, y int) (r, g, b uint8) {
	i := y*c.Stride() + x*Channels
	return c.Pix[i], c.Pix[i+1], c.Pix[i+2]
}

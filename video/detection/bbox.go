// Package detection defines detector output and the model-specific pre and
// post processing that does not depend on OpenCV.
package detection

import (
	"fmt"
	"image"
	"math"
)

// Rect is an axis aligned rectangle in source image pixel space.
type Rect struct {
	X0, Y0, X1, Y1 float32
}

func (r Rect) Width() float32  { return r.X1 - r.X0 }
func (r Rect) Height() float32 { return r.Y1 - r.Y0 }

// Image rounds r to integer pixel coordinates for drawing.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(float64(r.X0))),
		int(math.Round(float64(r.Y0))),
		int(math.Round(float64(r.X1))),
		int(math.Round(float64(r.Y1))),
	)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f, %.1f)", r.X0, r.Y0, r.X1, r.Y1)
}

// Bbox is a single detected object.
type Bbox struct {
	Rect       Rect
	Class      int
	Label      string
	Confidence float32
}

func (b Bbox) String() string {
	return fmt.Sprintf("%s (%d) %.2f at %v", b.Label, b.Class, b.Confidence, b.Rect)
}

// Set is the detector output for one image, in the order the detector produced it.
type Set []Bbox

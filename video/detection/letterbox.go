package detection

import (
	"math"

	"github.com/pkg/errors"
)

// Letterbox describes how a source image is fitted into a square model input:
// scaled to preserve aspect ratio, anchored top-left, and padded bottom/right.
type Letterbox struct {
	// Size is the side of the square model input.
	Size int

	SrcWidth, SrcHeight int

	// Width and Height are the dimensions of the scaled image inside the input.
	Width, Height int
	Scale         float64
}

func NewLetterbox(srcWidth, srcHeight, size int) Letterbox {
	scale := math.Min(float64(size)/float64(srcWidth), float64(size)/float64(srcHeight))
	clamp := func(v int) int {
		if v < 1 {
			return 1
		}
		if v > size {
			return size
		}
		return v
	}
	return Letterbox{
		Size:      size,
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		Width:     clamp(int(math.Round(float64(srcWidth) * scale))),
		Height:    clamp(int(math.Round(float64(srcHeight) * scale))),
		Scale:     scale,
	}
}

// Unmap converts a point in model input pixels back to source pixels, clamped
// to the source image.
func (l Letterbox) Unmap(x, y float64) (float64, float64) {
	x /= l.Scale
	y /= l.Scale
	return clampf(x, 0, float64(l.SrcWidth)), clampf(y, 0, float64(l.SrcHeight))
}

// Normalize builds a Size x Size x 3 float32 tensor (HWC) from RGB pixels that
// were already resized to Width x Height. Each channel is scaled to [0,1] and
// then normalised with mean and std. The border is filled with pad in every
// channel and normalised the same way.
func (l Letterbox) Normalize(pix []byte, pad uint8, mean, std [3]float32) ([]float32, error) {
	if len(pix) != l.Width*l.Height*3 {
		return nil, errors.Errorf("resized buffer has %d bytes, want %d", len(pix), l.Width*l.Height*3)
	}
	for c := range std {
		if std[c] == 0 {
			return nil, errors.Errorf("std[%d] is zero", c)
		}
	}
	var fill [3]float32
	for c := range fill {
		fill[c] = (float32(pad)/255 - mean[c]) / std[c]
	}
	out := make([]float32, l.Size*l.Size*3)
	for i := range out {
		out[i] = fill[i%3]
	}
	for y := 0; y < l.Height; y++ {
		src := pix[y*l.Width*3 : (y+1)*l.Width*3]
		dst := out[y*l.Size*3:]
		for i, v := range src {
			c := i % 3
			dst[i] = (float32(v)/255 - mean[c]) / std[c]
		}
	}
	return out, nil
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package detection

import (
	"math"

	"github.com/pkg/errors"
)

// DecodeRFDETR converts the two RF-DETR outputs for one image into a Set.
//
// dets holds one normalised (cx, cy, w, h) box per query relative to the
// square model input; logits holds numClasses scores per query. For every
// query the best class is taken, its sigmoid score compared against
// threshold, and the box mapped back through lb into source pixels. Queries
// whose class is not part of the vocabulary are dropped. Output keeps query
// order.
func DecodeRFDETR(dets, logits []float32, numClasses int, lb Letterbox, threshold float32) (Set, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid class count %d", numClasses)
	}
	if len(dets)%4 != 0 {
		return nil, errors.Errorf("box output length %d is not a multiple of 4", len(dets))
	}
	queries := len(dets) / 4
	if len(logits) != queries*numClasses {
		return nil, errors.Errorf("label output length %d, want %d queries x %d classes", len(logits), queries, numClasses)
	}

	set := Set{}
	size := float64(lb.Size)
	for q := 0; q < queries; q++ {
		scores := logits[q*numClasses : (q+1)*numClasses]
		class, best := 0, scores[0]
		for i, s := range scores {
			if s > best {
				class, best = i, s
			}
		}
		conf := sigmoid(best)
		if conf < threshold {
			continue
		}
		label, ok := Label(class)
		if !ok {
			continue
		}

		cx, cy := float64(dets[q*4])*size, float64(dets[q*4+1])*size
		w, h := float64(dets[q*4+2])*size, float64(dets[q*4+3])*size
		x0, y0 := lb.Unmap(cx-w/2, cy-h/2)
		x1, y1 := lb.Unmap(cx+w/2, cy+h/2)
		set = append(set, Bbox{
			Rect:       Rect{X0: float32(x0), Y0: float32(y0), X1: float32(x1), Y1: float32(y1)},
			Class:      class,
			Label:      label,
			Confidence: conf,
		})
	}
	return set, nil
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

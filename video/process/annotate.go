package process

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"framewatch/video/detection"
	"framewatch/video/frame"
)

// FileTimeLayout prefixes annotated image names.
// See https://golang.org/src/time/format.go.
const FileTimeLayout = "20060102-150405-Z0700"

var (
	colorText = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	// palette is indexed by class id.
	palette = []color.RGBA{
		{R: 230, G: 25, B: 75, A: 255},
		{R: 60, G: 180, B: 75, A: 255},
		{R: 255, G: 225, B: 25, A: 255},
		{R: 0, G: 130, B: 200, A: 255},
		{R: 245, G: 130, B: 48, A: 255},
		{R: 145, G: 30, B: 180, A: 255},
		{R: 70, G: 240, B: 240, A: 255},
		{R: 240, G: 50, B: 230, A: 255},
		{R: 210, G: 245, B: 60, A: 255},
		{R: 0, G: 128, B: 128, A: 255},
	}
)

// AnnotationError means an annotated image could not be produced or saved.
type AnnotationError struct {
	Index int
	Path  string
	Err   error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("annotate frame %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// Preview receives every annotated BGR image. Put must not retain the Mat.
type Preview interface {
	Put(img gocv.Mat)
}

// Annotator draws detections onto frames and writes them as JPEG files.
type Annotator struct {
	Dir       string
	Thickness int
	// Preview is optional.
	Preview Preview
}

// NewAnnotator writes into root/model. The directory is created by the first
// Annotate call.
func NewAnnotator(root, model string, thickness int) *Annotator {
	return &Annotator{
		Dir:       filepath.Join(root, model),
		Thickness: thickness,
	}
}

// Annotate writes one image per (image, set) pair.
func (a *Annotator) Annotate(index int, images []*frame.CanonicalImage, sets []detection.Set) error {
	if len(images) != len(sets) {
		return &AnnotationError{Index: index, Err: errors.Errorf("%d images but %d detection sets", len(images), len(sets))}
	}
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return &AnnotationError{Index: index, Path: a.Dir, Err: errors.Wrap(err, "create annotation directory")}
	}
	now := time.Now()
	for i := range images {
		path := a.path(now, index, i, len(images))
		if err := a.annotateOne(path, images[i], sets[i]); err != nil {
			return &AnnotationError{Index: index, Path: path, Err: err}
		}
		log.WithField("frame", index).Debugf("Annotated image written to %v", path)
	}
	return nil
}

func (a *Annotator) path(t time.Time, index, i, n int) string {
	name := fmt.Sprintf("%s_%06d", t.Format(FileTimeLayout), index)
	if n > 1 {
		name = fmt.Sprintf("%s_%d", name, i)
	}
	return filepath.Join(a.Dir, name+".jpg")
}

func (a *Annotator) annotateOne(path string, img *frame.CanonicalImage, set detection.Set) error {
	rgb, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pix)
	if err != nil {
		return err
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)
	runtime.KeepAlive(img.Pix)

	DrawDetections(&bgr, set, a.Thickness)

	if ok := gocv.IMWrite(path, bgr); !ok {
		return errors.New("failed to write image")
	}
	if a.Preview != nil {
		a.Preview.Put(bgr)
	}
	return nil
}

// DrawDetections outlines every box on img with a "label confidence" caption.
func DrawDetections(img *gocv.Mat, set detection.Set, thickness int) {
	font := gocv.FontHersheySimplex
	scale := 0.5
	pad := 2

	for _, b := range set {
		c := palette[b.Class%len(palette)]
		r := b.Rect.Image()
		gocv.Rectangle(img, r, c, thickness)

		text := fmt.Sprintf("%s %.2f", b.Label, b.Confidence)
		sz := gocv.GetTextSize(text, font, scale, 1)
		top := r.Min.Y - sz.Y - pad*2
		if top < 0 {
			top = r.Min.Y
		}
		bg := image.Rectangle{
			Min: image.Point{X: r.Min.X, Y: top},
			Max: image.Point{X: r.Min.X + sz.X + pad*2, Y: top + sz.Y + pad*2},
		}
		gocv.Rectangle(img, bg, c, -1)
		gocv.PutText(img, text, image.Point{X: r.Min.X + pad, Y: top + sz.Y + pad}, font, scale, colorText, 1)
	}
}

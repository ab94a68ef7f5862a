package source

import (
	"io"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"framewatch/video/frame"
)

// Capture reads a video file frame by frame. It is not safe for concurrent use.
type Capture struct {
	Path string

	vc         *gocv.VideoCapture
	width      int
	height     int
	fps        float64
	frameCount int

	// mat receives decoded BGR frames, rgb the converted copy.
	mat, rgb gocv.Mat
	index    int
}

// Open opens path and reads its dimensions and frame rate.
func Open(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open video %s", path)
	}
	c := &Capture{
		Path:       path,
		vc:         vc,
		width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		fps:        vc.Get(gocv.VideoCaptureFPS),
		frameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if c.width <= 0 || c.height <= 0 {
		vc.Close()
		return nil, errors.Errorf("video %s reports invalid size %dx%d", path, c.width, c.height)
	}
	if math.IsNaN(c.fps) || c.fps <= 0 {
		vc.Close()
		return nil, errors.Errorf("video %s reports invalid frame rate %v", path, c.fps)
	}
	c.mat = gocv.NewMat()
	c.rgb = gocv.NewMat()

	vlog := log.WithField("path", path)
	if d, err := ContainerDuration(path); err == nil {
		vlog = vlog.WithField("duration", d)
	}
	vlog.WithField("frames", c.frameCount).Debugf("Opened video capture")
	return c, nil
}

func (c *Capture) Size() (width, height int) {
	return c.width, c.height
}

func (c *Capture) FrameRate() float64 {
	return c.fps
}

// Next decodes the next frame. It returns io.EOF after the last frame and an
// error when decoding stops before the frame count reported by the container.
func (c *Capture) Next() (*frame.RawFrame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		if c.frameCount > 0 && c.index < c.frameCount {
			return nil, errors.Errorf("read failed at frame %d of %d", c.index, c.frameCount)
		}
		return nil, io.EOF
	}
	gocv.CvtColor(c.mat, &c.rgb, gocv.ColorBGRToRGB)
	f := &frame.RawFrame{
		Index: c.index,
		Pix:   c.rgb.ToBytes(),
	}
	c.index++
	return f, nil
}

// Close releases the decoder and the frame buffers.
func (c *Capture) Close() error {
	c.mat.Close()
	c.rgb.Close()
	return c.vc.Close()
}

package process

import (
	"encoding/binary"
	"image"
	"math"
	"runtime"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"framewatch/config"
	"framewatch/video/detection"
	"framewatch/video/frame"
)

// RFDETR runs an RF-DETR ONNX export through the OpenCV DNN module. The model
// takes a single letterboxed, ImageNet-normalised RGB image and produces
// normalised boxes and per-class logits for a fixed number of queries.
type RFDETR struct {
	net gocv.Net

	size      int
	mean, std [3]float32
	pad       uint8
	threshold float32
	outputs   []string

	// Letterboxed input, reused between frames.
	resized gocv.Mat
}

// NewRFDETR loads the model and runs cfg.WarmupRuns inferences on a blank
// image so the first real frame does not pay for lazy initialisation.
func NewRFDETR(cfg *config.PipelineConfig) (*RFDETR, error) {
	backend, target, err := ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, errors.Errorf("failed to read model %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set backend")
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "set target")
	}

	d := &RFDETR{
		net:       net,
		size:      cfg.InputSize,
		mean:      cfg.Mean,
		std:       cfg.Std,
		pad:       cfg.PadValue,
		threshold: cfg.ConfThreshold,
		outputs:   []string{cfg.OutputBoxes, cfg.OutputLogits},
		resized:   gocv.NewMat(),
	}

	blank := &frame.CanonicalImage{Width: d.size, Height: d.size, Pix: make([]byte, d.size*d.size*frame.Channels)}
	for i := 0; i < cfg.WarmupRuns; i++ {
		start := time.Now()
		if _, err := d.detect(blank); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "warmup run %d", i)
		}
		log.Debugf("Warmup run %d took %v", i, time.Since(start))
	}
	log.WithFields(log.Fields{
		"model":  cfg.ModelPath,
		"device": cfg.Device,
		"input":  d.size,
	}).Infof("Loaded detection model")
	return d, nil
}

// Infer runs each image through the model in turn.
func (d *RFDETR) Infer(images []*frame.CanonicalImage) ([]detection.Set, error) {
	sets := make([]detection.Set, 0, len(images))
	for i, img := range images {
		set, err := d.detect(img)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (d *RFDETR) detect(img *frame.CanonicalImage) (detection.Set, error) {
	src, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pix)
	if err != nil {
		return nil, errors.Wrap(err, "wrap image")
	}
	defer src.Close()

	lb := detection.NewLetterbox(img.Width, img.Height, d.size)
	gocv.Resize(src, &d.resized, image.Point{X: lb.Width, Y: lb.Height}, 0, 0, gocv.InterpolationLinear)
	runtime.KeepAlive(img.Pix)

	tensor, err := lb.Normalize(d.resized.ToBytes(), d.pad, d.mean, d.std)
	if err != nil {
		return nil, err
	}
	blob, err := d.blob(tensor)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	outs := d.net.ForwardLayers(d.outputs)
	defer func() {
		for _, m := range outs {
			m.Close()
		}
	}()
	if len(outs) != 2 {
		return nil, errors.Errorf("model produced %d outputs, want 2", len(outs))
	}

	boxes, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrapf(err, "read output %s", d.outputs[0])
	}
	logits, err := outs[1].DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrapf(err, "read output %s", d.outputs[1])
	}
	dims := outs[1].Size()
	if len(dims) == 0 {
		return nil, errors.Errorf("output %s has no shape", d.outputs[1])
	}
	return detection.DecodeRFDETR(boxes, logits, dims[len(dims)-1], lb, d.threshold)
}

// blob packs an HWC float32 tensor into an NCHW input blob. OpenCV reads the
// buffer in host byte order.
func (d *RFDETR) blob(tensor []float32) (gocv.Mat, error) {
	buf := make([]byte, len(tensor)*4)
	for i, v := range tensor {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	hwc, err := gocv.NewMatFromBytes(d.size, d.size, gocv.MatTypeCV32FC3, buf)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "wrap tensor")
	}
	defer hwc.Close()
	blob := gocv.BlobFromImage(hwc, 1, image.Point{X: d.size, Y: d.size}, gocv.NewScalar(0, 0, 0, 0), false, false)
	runtime.KeepAlive(buf)
	return blob, nil
}

func (d *RFDETR) Close() error {
	d.resized.Close()
	return d.net.Close()
}

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PipelineConfig is resolved once before a run and only read afterwards.
type PipelineConfig struct {
	VideoPath string
	ModelPath string
	// ModelName names the annotation output directory. Derived from ModelPath
	// when empty.
	ModelName string
	Device    string

	// ConfThreshold drops detections scoring below it.
	ConfThreshold float32
	// InputSize is the side of the square model input.
	InputSize int
	Mean      [3]float32
	Std       [3]float32
	// PadValue fills the letterbox border before normalisation.
	PadValue uint8

	// OutputBoxes and OutputLogits name the model outputs holding normalised
	// boxes and per-class logits.
	OutputBoxes  string
	OutputLogits string
	WarmupRuns   int

	// If non-zero, process every SampleInterval-th frame. Otherwise derive
	// the interval from the stream frame rate (about one frame per second).
	SampleInterval int

	// Annotated frames are written below AnnotateDir/ModelName. Empty disables
	// annotation.
	AnnotateDir       string
	AnnotateThickness int

	// ListenAddr enables the HTTP status surface when non-empty.
	ListenAddr string
}

// Default returns the RF-DETR settings the pipeline was built around.
func Default() *PipelineConfig {
	return &PipelineConfig{
		Device:            "cpu",
		ConfThreshold:     0.4,
		InputSize:         560,
		Mean:              [3]float32{0.485, 0.456, 0.406},
		Std:               [3]float32{0.229, 0.224, 0.225},
		PadValue:          114,
		OutputBoxes:       "dets",
		OutputLogits:      "labels",
		WarmupRuns:        3,
		AnnotateDir:       "runs",
		AnnotateThickness: 3,
	}
}

// Name returns ModelName, or the model file name without extension.
func (c *PipelineConfig) Name() string {
	if c.ModelName != "" {
		return c.ModelName
	}
	base := filepath.Base(c.ModelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Validate checks ranges and that the video and model files are readable.
func (c *PipelineConfig) Validate() error {
	if c.VideoPath == "" {
		return errors.New("video path is required")
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if err := readable(c.VideoPath); err != nil {
		return errors.Wrap(err, "video")
	}
	if err := readable(c.ModelPath); err != nil {
		return errors.Wrap(err, "model")
	}
	if c.Device == "" {
		return errors.New("device is required")
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return errors.Errorf("confidence threshold %v outside [0,1]", c.ConfThreshold)
	}
	if c.InputSize <= 0 {
		return errors.Errorf("invalid input size %d", c.InputSize)
	}
	for i, s := range c.Std {
		if s <= 0 {
			return errors.Errorf("std[%d] must be positive, got %v", i, s)
		}
	}
	if c.OutputBoxes == "" || c.OutputLogits == "" {
		return errors.New("model output names are required")
	}
	if c.WarmupRuns < 0 {
		return errors.Errorf("invalid warmup run count %d", c.WarmupRuns)
	}
	if c.SampleInterval < 0 {
		return errors.Errorf("invalid sample interval %d", c.SampleInterval)
	}
	if c.AnnotateThickness <= 0 {
		return errors.Errorf("invalid annotation thickness %d", c.AnnotateThickness)
	}
	return nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return errors.Errorf("%s is a directory", path)
	}
	return nil
}

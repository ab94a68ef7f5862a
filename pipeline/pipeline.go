// Package pipeline drives the sample, convert, infer, report and annotate cycle
// over a single video stream.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"framewatch/config"
	"framewatch/video/detection"
	"framewatch/video/frame"
)

// FrameSource yields the decoded frames of one opened video in order. Next
// returns io.EOF once the stream is exhausted.
type FrameSource interface {
	Size() (width, height int)
	FrameRate() float64
	Next() (*frame.RawFrame, error)
	Close() error
}

// Detector returns one detection set per image, in input order.
type Detector interface {
	Infer(images []*frame.CanonicalImage) ([]detection.Set, error)
	Close() error
}

type Reporter interface {
	Report(index int, latency time.Duration, set detection.Set)
}

// Annotator renders and persists detections for a frame.
type Annotator interface {
	Annotate(index int, images []*frame.CanonicalImage, sets []detection.Set) error
}

type SourceOpener func(path string) (FrameSource, error)
type DetectorFactory func(cfg *config.PipelineConfig) (Detector, error)

type State int

const (
	// Initializing is the zero value, held until the stream and the model
	// are both ready.
	Initializing State = iota
	Idle
	Streaming
	Draining
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Stats summarises a run.
type Stats struct {
	State              string
	Width, Height      int
	FrameRate          float64
	Interval           int
	FramesRead         int
	Sampled            int
	Processed          int
	ConversionFailures int
	AnnotationFailures int
	Detections         int
	LastFrame          int
	LastLatency        time.Duration
}

// Options wires the collaborators of a Controller. Open, NewDetector and
// Reporter are required.
type Options struct {
	Open        SourceOpener
	NewDetector DetectorFactory
	Reporter    Reporter
	// Annotator is optional.
	Annotator Annotator
	// Metrics is optional.
	Metrics *Metrics
	// Logger defaults to the standard logrus logger.
	Logger log.FieldLogger
}

type Controller struct {
	cfg  *config.PipelineConfig
	opts Options
	log  log.FieldLogger

	l     sync.Mutex
	state State
	stats Stats
}

func New(cfg *config.PipelineConfig, opts Options) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config is required")
	}
	if opts.Open == nil || opts.NewDetector == nil || opts.Reporter == nil {
		return nil, errors.New("frame source, detector and reporter are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Controller{
		cfg:  cfg,
		opts: opts,
		log:  logger,
	}
	c.stats.State = Initializing.String()
	c.stats.LastFrame = -1
	return c, nil
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.l.Lock()
	defer c.l.Unlock()
	return c.state
}

// Stats returns a snapshot of the run counters. Safe to call concurrently
// with Run.
func (c *Controller) Stats() Stats {
	c.l.Lock()
	defer c.l.Unlock()
	return c.stats
}

func (c *Controller) setState(s State) {
	c.l.Lock()
	defer c.l.Unlock()
	c.state = s
	c.stats.State = s.String()
}

func (c *Controller) update(f func(s *Stats)) {
	c.l.Lock()
	defer c.l.Unlock()
	f(&c.stats)
}

// Run opens the stream and the model, then processes sampled frames until the
// stream ends, ctx is cancelled, or the detector fails. It returns nil when
// the run ends by draining the stream.
func (c *Controller) Run(ctx context.Context) error {
	src, err := c.opts.Open(c.cfg.VideoPath)
	if err != nil {
		c.setState(Failed)
		c.log.WithError(err).WithFields(log.Fields{
			"stage": "stream",
			"path":  c.cfg.VideoPath,
		}).Error("Failed to open video stream")
		return &InitializationError{Stage: "stream", Err: err}
	}
	defer src.Close()

	width, height := src.Size()
	fps := src.FrameRate()
	interval := c.cfg.SampleInterval
	if interval <= 0 {
		interval = Cadence(fps)
	}
	c.log.WithFields(log.Fields{
		"width":  width,
		"height": height,
		"fps":    fps,
	}).Infof("Video size: %d x %d, FPS: %v", width, height, fps)

	det, err := c.opts.NewDetector(c.cfg)
	if err != nil {
		c.setState(Failed)
		c.log.WithError(err).WithFields(log.Fields{
			"stage": "model",
			"path":  c.cfg.ModelPath,
		}).Error("Failed to load detection model")
		return &InitializationError{Stage: "model", Err: err}
	}
	defer det.Close()

	c.update(func(s *Stats) {
		s.Width, s.Height = width, height
		s.FrameRate = fps
		s.Interval = interval
	})
	c.setState(Idle)
	c.log.WithField("interval", interval).Infof("Processing one frame every %d", interval)

	c.setState(Streaming)
	for {
		if err := ctx.Err(); err != nil {
			c.log.WithError(err).Info("Run cancelled, draining")
			break
		}

		raw, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Info("End of stream")
			} else {
				idx := c.Stats().FramesRead
				c.log.WithError(&DecodeError{Index: idx, Err: err}).Warn("Frame fetch failed, treating as end of stream")
			}
			break
		}
		c.update(func(s *Stats) { s.FramesRead++ })

		if !Selected(raw.Index, interval) {
			c.countFrame("skipped")
			continue
		}
		if err := c.cycle(det, raw, width, height); err != nil {
			c.setState(Failed)
			c.log.WithError(err).Error("Detector failed, aborting run")
			return err
		}
	}

	c.setState(Draining)
	st := c.Stats()
	c.log.WithFields(log.Fields{
		"frames":              st.FramesRead,
		"sampled":             st.Sampled,
		"processed":           st.Processed,
		"conversion_failures": st.ConversionFailures,
		"annotation_failures": st.AnnotationFailures,
		"detections":          st.Detections,
	}).Info("Run complete")
	return nil
}

// cycle runs one sampled frame through conversion, inference, reporting and
// annotation. Only detector failures are returned.
func (c *Controller) cycle(det Detector, raw *frame.RawFrame, width, height int) error {
	flog := c.log.WithField("frame", raw.Index)
	c.update(func(s *Stats) { s.Sampled++ })

	img, err := frame.Convert(raw.Pix, width, height)
	if err != nil {
		flog.WithError(err).Error("Failed to convert frame, skipping")
		c.update(func(s *Stats) { s.ConversionFailures++ })
		c.countFrame("dropped")
		if c.opts.Metrics != nil {
			c.opts.Metrics.ConversionFailures.Inc()
		}
		return nil
	}

	images := []*frame.CanonicalImage{img}
	start := time.Now()
	sets, err := det.Infer(images)
	elapsed := time.Since(start)
	if err != nil {
		return &InferenceError{Index: raw.Index, Err: err}
	}
	if len(sets) != len(images) {
		return &InferenceError{Index: raw.Index, Err: errors.Errorf("detector returned %d results for %d images", len(sets), len(images))}
	}
	set := sets[0]

	flog.WithField("latency", elapsed).Infof("[Inference]: Elapsed time: %v", elapsed)
	c.countFrame("processed")
	if m := c.opts.Metrics; m != nil {
		m.InferenceSeconds.Observe(elapsed.Seconds())
		for _, b := range set {
			m.Detections.WithLabelValues(b.Label).Inc()
		}
	}
	c.update(func(s *Stats) {
		s.Processed++
		s.Detections += len(set)
		s.LastFrame = raw.Index
		s.LastLatency = elapsed
	})

	c.opts.Reporter.Report(raw.Index, elapsed, set)

	if c.opts.Annotator != nil {
		if err := c.opts.Annotator.Annotate(raw.Index, images, sets); err != nil {
			// Reporting for this frame already happened; only the artifact is lost.
			flog.WithError(err).Error("Failed to annotate frame")
			c.update(func(s *Stats) { s.AnnotationFailures++ })
			if c.opts.Metrics != nil {
				c.opts.Metrics.AnnotationFailures.Inc()
			}
		}
	}
	return nil
}

func (c *Controller) countFrame(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.Frames.WithLabelValues(outcome).Inc()
	}
}

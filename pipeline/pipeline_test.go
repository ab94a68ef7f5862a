package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framewatch/config"
	"framewatch/video/detection"
	"framewatch/video/frame"
)

type fakeSource struct {
	width, height int
	fps           float64
	frames        int
	// failAt makes Next fail with a decode error at that index; -1 disables.
	failAt int
	// bad lists indices whose buffer is one byte short.
	bad map[int]bool

	next   int
	closed bool
}

func (s *fakeSource) Size() (int, int)   { return s.width, s.height }
func (s *fakeSource) FrameRate() float64 { return s.fps }
func (s *fakeSource) Close() error       { s.closed = true; return nil }

func (s *fakeSource) Next() (*frame.RawFrame, error) {
	if s.next == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.next >= s.frames {
		return nil, io.EOF
	}
	n := s.width * s.height * frame.Channels
	if s.bad[s.next] {
		n--
	}
	f := &frame.RawFrame{Index: s.next, Pix: make([]byte, n)}
	s.next++
	return f, nil
}

type fakeDetector struct {
	sets   func(idx int) detection.Set
	err    error
	calls  int
	closed bool
	// results overrides the number of sets returned when non-zero.
	results int
}

func (d *fakeDetector) Infer(images []*frame.CanonicalImage) ([]detection.Set, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	n := len(images)
	if d.results != 0 {
		n = d.results
	}
	out := make([]detection.Set, n)
	for i := range out {
		if d.sets != nil {
			out[i] = d.sets(d.calls)
		}
	}
	return out, nil
}

func (d *fakeDetector) Close() error { d.closed = true; return nil }

type report struct {
	index int
	set   detection.Set
}

type fakeReporter struct {
	reports []report
}

func (r *fakeReporter) Report(index int, latency time.Duration, set detection.Set) {
	r.reports = append(r.reports, report{index, set})
}

func (r *fakeReporter) indices() []int {
	var out []int
	for _, rep := range r.reports {
		out = append(out, rep.index)
	}
	return out
}

type fakeAnnotator struct {
	err     error
	indices []int
}

func (a *fakeAnnotator) Annotate(index int, images []*frame.CanonicalImage, sets []detection.Set) error {
	a.indices = append(a.indices, index)
	if len(images) != 1 || len(sets) != 1 {
		return errors.New("expected batch of one")
	}
	return a.err
}

type harness struct {
	src       *fakeSource
	det       *fakeDetector
	reporter  *fakeReporter
	annotator *fakeAnnotator
	metrics   *Metrics
	hook      *test.Hook
	ctl       *Controller
}

func newHarness(t *testing.T, src *fakeSource, det *fakeDetector) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	h := &harness{
		src:       src,
		det:       det,
		reporter:  &fakeReporter{},
		annotator: &fakeAnnotator{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		hook:      hook,
	}
	ctl, err := New(config.Default(), Options{
		Open:        func(string) (FrameSource, error) { return src, nil },
		NewDetector: func(*config.PipelineConfig) (Detector, error) { return det, nil },
		Reporter:    h.reporter,
		Annotator:   h.annotator,
		Metrics:     h.metrics,
		Logger:      logger,
	})
	require.NoError(t, err)
	h.ctl = ctl
	return h
}

func source(fps float64, frames int) *fakeSource {
	return &fakeSource{width: 4, height: 2, fps: fps, frames: frames, failAt: -1}
}

func TestCadence(t *testing.T) {
	tests := []struct {
		fps  float64
		want int
	}{
		{30, 30},
		{29.97, 30},
		{25, 25},
		{23.976, 24},
		{1, 1},
		{0.5, 1},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Cadence(tt.fps), "fps %v", tt.fps)
	}
}

func TestSelected(t *testing.T) {
	for _, interval := range []int{1, 2, 7, 24, 30, 60} {
		assert.True(t, Selected(0, interval))
		for idx := 0; idx < 500; idx++ {
			assert.Equal(t, idx%interval == 0, Selected(idx, interval))
		}
	}
}

func TestRunSamplesOneFramePerSecond(t *testing.T) {
	h := newHarness(t, source(30, 300), &fakeDetector{})

	require.NoError(t, h.ctl.Run(context.Background()))

	assert.Equal(t, Draining, h.ctl.State())
	assert.Equal(t, []int{0, 30, 60, 90, 120, 150, 180, 210, 240, 270}, h.reporter.indices())
	assert.Equal(t, h.reporter.indices(), h.annotator.indices)
	assert.Equal(t, 10, h.det.calls)

	st := h.ctl.Stats()
	assert.Equal(t, 300, st.FramesRead)
	assert.Equal(t, 10, st.Sampled)
	assert.Equal(t, 10, st.Processed)
	assert.Equal(t, 30, st.Interval)
	assert.Equal(t, 270, st.LastFrame)

	assert.Equal(t, 10.0, testutil.ToFloat64(h.metrics.Frames.WithLabelValues("processed")))
	assert.Equal(t, 290.0, testutil.ToFloat64(h.metrics.Frames.WithLabelValues("skipped")))

	assert.True(t, h.src.closed)
	assert.True(t, h.det.closed)
}

func TestRunRoundsFrameRate(t *testing.T) {
	h := newHarness(t, source(29.97, 61), &fakeDetector{})
	require.NoError(t, h.ctl.Run(context.Background()))
	assert.Equal(t, []int{0, 30, 60}, h.reporter.indices())
}

func TestRunConfiguredInterval(t *testing.T) {
	h := newHarness(t, source(30, 25), &fakeDetector{})
	h.ctl.cfg.SampleInterval = 10
	require.NoError(t, h.ctl.Run(context.Background()))
	assert.Equal(t, []int{0, 10, 20}, h.reporter.indices())
}

func TestRunFetchFailureDrains(t *testing.T) {
	src := source(30, 300)
	src.failAt = 5
	h := newHarness(t, src, &fakeDetector{})

	require.NoError(t, h.ctl.Run(context.Background()))

	assert.Equal(t, Draining, h.ctl.State())
	assert.Equal(t, []int{0}, h.reporter.indices())
	assert.Equal(t, 5, h.ctl.Stats().FramesRead)
}

func TestRunSkipsMalformedFrame(t *testing.T) {
	src := &fakeSource{width: 1, height: 1, fps: 2, frames: 6, failAt: -1, bad: map[int]bool{0: true}}
	h := newHarness(t, src, &fakeDetector{})

	require.NoError(t, h.ctl.Run(context.Background()))

	assert.Equal(t, Draining, h.ctl.State())
	assert.Equal(t, []int{2, 4}, h.reporter.indices())
	st := h.ctl.Stats()
	assert.Equal(t, 3, st.Sampled)
	assert.Equal(t, 1, st.ConversionFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConversionFailures))

	var converted bool
	for _, e := range h.hook.AllEntries() {
		if err, ok := e.Data["error"].(error); ok && errors.Is(err, frame.ErrSizeMismatch) {
			converted = true
			assert.Equal(t, 0, e.Data["frame"])
		}
	}
	assert.True(t, converted, "conversion failure should be logged")
}

func TestRunZeroDetections(t *testing.T) {
	h := newHarness(t, source(1, 3), &fakeDetector{
		sets: func(int) detection.Set { return detection.Set{} },
	})

	require.NoError(t, h.ctl.Run(context.Background()))

	require.Len(t, h.reporter.reports, 3)
	for _, r := range h.reporter.reports {
		assert.Empty(t, r.set)
	}
	assert.Equal(t, 0, h.ctl.Stats().Detections)
}

func TestRunCountsDetections(t *testing.T) {
	person := detection.Bbox{Class: 1, Label: "person", Confidence: 0.9}
	dog := detection.Bbox{Class: 18, Label: "dog", Confidence: 0.5}
	h := newHarness(t, source(2, 4), &fakeDetector{
		sets: func(int) detection.Set { return detection.Set{person, dog, person} },
	})

	require.NoError(t, h.ctl.Run(context.Background()))

	assert.Equal(t, detection.Set{person, dog, person}, h.reporter.reports[0].set)
	assert.Equal(t, 6, h.ctl.Stats().Detections)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Detections.WithLabelValues("person")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Detections.WithLabelValues("dog")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.InferenceSeconds))
}

func TestRunInferenceErrorIsFatal(t *testing.T) {
	h := newHarness(t, source(1, 10), &fakeDetector{err: errors.New("runtime gone")})

	err := h.ctl.Run(context.Background())

	var ie *InferenceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, ie.Index)
	assert.Equal(t, Failed, h.ctl.State())
	assert.Empty(t, h.reporter.reports)
	assert.Equal(t, 1, h.det.calls)
	assert.True(t, h.src.closed)
}

func TestRunWrongResultCountIsFatal(t *testing.T) {
	h := newHarness(t, source(1, 10), &fakeDetector{results: 2})

	err := h.ctl.Run(context.Background())

	var ie *InferenceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, Failed, h.ctl.State())
}

func TestRunAnnotationFailureContinues(t *testing.T) {
	h := newHarness(t, source(1, 3), &fakeDetector{})
	h.annotator.err = errors.New("disk full")

	require.NoError(t, h.ctl.Run(context.Background()))

	assert.Equal(t, []int{0, 1, 2}, h.reporter.indices())
	assert.Equal(t, 3, h.ctl.Stats().AnnotationFailures)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.AnnotationFailures))
}

func TestRunWithoutAnnotator(t *testing.T) {
	h := newHarness(t, source(1, 2), &fakeDetector{})
	h.ctl.opts.Annotator = nil
	require.NoError(t, h.ctl.Run(context.Background()))
	assert.Equal(t, []int{0, 1}, h.reporter.indices())
}

func TestRunCancelledBeforeFirstFrame(t *testing.T) {
	h := newHarness(t, source(1, 10), &fakeDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.ctl.Run(ctx))

	assert.Equal(t, Draining, h.ctl.State())
	assert.Empty(t, h.reporter.reports)
	assert.Zero(t, h.det.calls)
}

type cancellingReporter struct {
	fakeReporter
	cancel func()
}

func (r *cancellingReporter) Report(index int, latency time.Duration, set detection.Set) {
	r.fakeReporter.Report(index, latency, set)
	r.cancel()
}

func TestRunCancelledBetweenCycles(t *testing.T) {
	h := newHarness(t, source(1, 10), &fakeDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &cancellingReporter{cancel: cancel}
	h.ctl.opts.Reporter = rep

	require.NoError(t, h.ctl.Run(ctx))

	// The cycle in flight completes; the next one never starts.
	assert.Equal(t, []int{0}, rep.indices())
	assert.Equal(t, 1, h.det.calls)
}

func errorEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestRunInitializationErrors(t *testing.T) {
	openErr := errors.New("no such file")
	logger, hook := test.NewNullLogger()
	ctl, err := New(config.Default(), Options{
		Open:        func(string) (FrameSource, error) { return nil, openErr },
		NewDetector: func(*config.PipelineConfig) (Detector, error) { t.Fatal("detector built"); return nil, nil },
		Reporter:    &fakeReporter{},
		Logger:      logger,
	})
	require.NoError(t, err)
	assert.Equal(t, Initializing, ctl.State())

	err = ctl.Run(context.Background())
	var ie *InitializationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "stream", ie.Stage)
	assert.True(t, errors.Is(err, openErr))
	assert.Equal(t, Failed, ctl.State())

	entries := errorEntries(hook)
	require.Len(t, entries, 1)
	assert.Equal(t, "stream", entries[0].Data["stage"])
	assert.Equal(t, openErr, entries[0].Data[logrus.ErrorKey])

	src := source(30, 10)
	logger, hook = test.NewNullLogger()
	ctl, err = New(config.Default(), Options{
		Open:        func(string) (FrameSource, error) { return src, nil },
		NewDetector: func(*config.PipelineConfig) (Detector, error) { return nil, errors.New("bad weights") },
		Reporter:    &fakeReporter{},
		Logger:      logger,
	})
	require.NoError(t, err)

	err = ctl.Run(context.Background())
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "model", ie.Stage)
	assert.Equal(t, Failed, ctl.State())
	assert.True(t, src.closed)

	entries = errorEntries(hook)
	require.Len(t, entries, 1)
	assert.Equal(t, "model", entries[0].Data["stage"])
}

type stateRecordingDetector struct {
	fakeDetector
	ctl    *Controller
	states []State
}

func (d *stateRecordingDetector) Infer(images []*frame.CanonicalImage) ([]detection.Set, error) {
	d.states = append(d.states, d.ctl.State())
	return d.fakeDetector.Infer(images)
}

func TestRunStateTransitions(t *testing.T) {
	det := &stateRecordingDetector{}
	var factoryState State
	ctl, err := New(config.Default(), Options{
		Open: func(string) (FrameSource, error) { return source(1, 2), nil },
		NewDetector: func(*config.PipelineConfig) (Detector, error) {
			factoryState = det.ctl.State()
			return det, nil
		},
		Reporter: &fakeReporter{},
	})
	require.NoError(t, err)
	det.ctl = ctl

	assert.Equal(t, Initializing, ctl.State())
	assert.Equal(t, "initializing", ctl.Stats().State)

	require.NoError(t, ctl.Run(context.Background()))
	assert.Equal(t, Initializing, factoryState)
	assert.Equal(t, []State{Streaming, Streaming}, det.states)
	assert.Equal(t, Draining, ctl.State())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	_, err = New(config.Default(), Options{Reporter: &fakeReporter{}})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "framewatch"

// Metrics are the prometheus collectors updated by the controller.
type Metrics struct {
	Frames             *prometheus.CounterVec
	InferenceSeconds   prometheus.Histogram
	Detections         *prometheus.CounterVec
	ConversionFailures prometheus.Counter
	AnnotationFailures prometheus.Counter
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Decoded frames by outcome (skipped, processed, dropped).",
		}, []string{"outcome"}),
		InferenceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Wall clock detector latency per processed frame.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Reported bounding boxes by class label.",
		}, []string{"class"}),
		ConversionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_failures_total",
			Help:      "Sampled frames skipped because their buffer was malformed.",
		}),
		AnnotationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_failures_total",
			Help:      "Processed frames whose annotated image could not be written.",
		}),
	}
}

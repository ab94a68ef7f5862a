// Package report turns detection sets into log lines and inspectable reports.
package report

import (
	"time"

	log "github.com/sirupsen/logrus"

	"framewatch/video/detection"
)

// Entry is one reported box. Index is its position within the detection set.
type Entry struct {
	Index      int
	Rect       detection.Rect
	Class      int
	Label      string
	Confidence float32
}

// Report describes the detections of one processed frame.
type Report struct {
	RunID     string
	Frame     int
	Time      time.Time
	LatencyMS float64
	Count     int
	Entries   []Entry
}

// Publisher receives every report after it has been logged. Publish must not block.
type Publisher interface {
	Publish(r *Report)
}

// Build converts set into a Report with one entry per box, in set order.
func Build(runID string, frame int, latency time.Duration, set detection.Set) *Report {
	r := &Report{
		RunID:     runID,
		Frame:     frame,
		Time:      time.Now(),
		LatencyMS: float64(latency) / float64(time.Millisecond),
		Count:     len(set),
		Entries:   make([]Entry, 0, len(set)),
	}
	for i, b := range set {
		r.Entries = append(r.Entries, Entry{
			Index:      i,
			Rect:       b.Rect,
			Class:      b.Class,
			Label:      b.Label,
			Confidence: b.Confidence,
		})
	}
	return r
}

type Reporter struct {
	runID     string
	log       log.FieldLogger
	publisher Publisher
}

// New creates a Reporter. A nil logger uses the standard logrus logger and a
// nil publisher disables publishing.
func New(runID string, logger log.FieldLogger, publisher Publisher) *Reporter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reporter{
		runID:     runID,
		log:       logger.WithField("run", runID),
		publisher: publisher,
	}
}

// Report logs the detection count followed by every box. An empty set is a
// normal outcome.
func (r *Reporter) Report(frame int, latency time.Duration, set detection.Set) {
	rep := Build(r.runID, frame, latency, set)

	flog := r.log.WithField("frame", frame)
	flog.WithField("count", rep.Count).Infof("[Bboxes]: Found %d objects", rep.Count)
	for _, e := range rep.Entries {
		flog.WithFields(log.Fields{
			"index":      e.Index,
			"rect":       e.Rect.String(),
			"class":      e.Label,
			"confidence": e.Confidence,
		}).Infof("%d: %s %.2f at %v", e.Index, e.Label, e.Confidence, e.Rect)
	}

	if r.publisher != nil {
		r.publisher.Publish(rep)
	}
}

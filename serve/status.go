package serve

import (
	"encoding/json"
	"net/http"

	"framewatch/pipeline"
)

// StatusResponse is the JSON body served by StatusServer.
type StatusResponse struct {
	RunID         string
	VideoPath     string
	State         string
	Width, Height int
	FrameRate     float64
	Interval      int

	FramesRead         int
	Sampled            int
	Processed          int
	ConversionFailures int
	AnnotationFailures int
	Detections         int

	LastFrame     int
	LastLatencyMS float64
}

// StatusServer reports the progress of the current run.
type StatusServer struct {
	RunID     string
	VideoPath string
	Stats     func() pipeline.Stats
}

func (s *StatusServer) BuildResponse() *StatusResponse {
	st := s.Stats()
	return &StatusResponse{
		RunID:              s.RunID,
		VideoPath:          s.VideoPath,
		State:              st.State,
		Width:              st.Width,
		Height:             st.Height,
		FrameRate:          st.FrameRate,
		Interval:           st.Interval,
		FramesRead:         st.FramesRead,
		Sampled:            st.Sampled,
		Processed:          st.Processed,
		ConversionFailures: st.ConversionFailures,
		AnnotationFailures: st.AnnotationFailures,
		Detections:         st.Detections,
		LastFrame:          st.LastFrame,
		LastLatencyMS:      st.LastLatency.Seconds() * 1000,
	}
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.BuildResponse())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

package pipeline

import "fmt"

// InitializationError means the stream or the model could not be set up.
type InitializationError struct {
	// Stage is "stream" or "model".
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// DecodeError means a frame could not be fetched. The run treats it as the
// end of the stream.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InferenceError means the detector failed; the run is aborted.
type InferenceError struct {
	Index int
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on frame %d: %v", e.Index, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Package vadmodel defines the Model interface for per-frame speech-confidence
// backends (e.g., Silero VAD served over a local inference socket, or an
// in-process ONNX runtime).
//
// Recurrent models carry hidden state across frames. That state is an explicit
// opaque [Context] value threaded through every Infer call and returned
// updated each time, never a hidden field inside the backend. The detector
// persists the context across utterances and discards it only on an explicit
// reset, because resetting loses the model's accuracy continuity.
//
// Implementations must be safe for concurrent use across different contexts;
// a single Context value must not be used by two concurrent Infer calls.
package vadmodel

import "context"

// Context is the opaque recurrent state of a speech-confidence model. The
// zero value (nil) means "fresh state"; backends must accept it and return a
// usable context from the first Infer call.
type Context any

// Model scores single audio frames for speech probability.
type Model interface {
	// Infer scores one frame of normalized mono samples and returns the
	// speech confidence in [0, 1] together with the updated recurrent
	// context. The passed rc must be either nil or a value previously
	// returned by this model. A failed inference is fatal to the session;
	// callers must not retry with the same context.
	Infer(ctx context.Context, frame []float32, rc Context) (confidence float64, updated Context, err error)
}

// Package stt defines the Provider interface for segment transcription
// backends.
//
// voxnote transcribes complete speech segments, not streams: the session
// orchestrator closes a padded recording window, reads the samples out of the
// lookback buffer, and submits them as one batch. A provider wraps a
// transcription service (the hosted OpenAI API, or a local whisper.cpp model)
// behind this one-shot call.
//
// Implementations must be safe for concurrent use; the session manager shares
// one provider across all live sessions.
package stt

import "context"

// WhisperSampleRate is the sample rate whisper-family models expect.
const WhisperSampleRate = 16000

// Segment is a complete speech segment extracted from the lookback buffer.
type Segment struct {
	// Samples is normalized mono PCM in [-1, 1].
	Samples []float32

	// SampleRate in Hz. Typically WhisperSampleRate.
	SampleRate int
}

// DurationSeconds returns the segment length in seconds.
func (s Segment) DurationSeconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Word is one transcribed word with its alignment, in seconds from segment
// start. Providers that cannot produce word-level timing return nil word
// lists; downstream checks that need timing degrade gracefully.
type Word struct {
	Word  string
	Start float64
	End   float64
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string

	// Words holds word-level detail when the backend supports it.
	Words []Word

	// DurationSeconds is the audio duration as reported by the backend,
	// falling back to the segment's own length.
	DurationSeconds float64
}

// Provider transcribes speech segments. Transcribe is invoked once per closed
// recording window and must honour ctx cancellation.
type Provider interface {
	Transcribe(ctx context.Context, seg Segment) (Result, error)
}

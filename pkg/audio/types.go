package audio

import "time"

// Default pipeline format. The detector operates on 16 kHz mono float32
// frames of 512 samples. The bridge emits non-overlapping frames, so its
// effective hop is the frame duration (32 ms); frame timestamps carry the
// real cadence downstream.
const (
	// DetectorSampleRate is the sample rate the detection pipeline runs at.
	DetectorSampleRate = 16000

	// FrameSamples is the number of samples in one detection frame
	// (512 samples ≈ 32 ms at 16 kHz).
	FrameSamples = 512

	// HopInterval is the canonical hop of the detection pipeline and the
	// detector's fallback frame advance when timestamps do not move.
	HopInterval = 10 * time.Millisecond
)

// Frame is a fixed-length chunk of normalized mono samples flowing from the
// capture path into the detector. Frames are immutable once produced: the
// bridge hands out the backing array it was given, so producers must not
// reuse sample slices after pushing them.
type Frame struct {
	// Samples holds normalized PCM in [-1, 1]. Length is FrameSamples.
	Samples []float32

	// Index is the zero-based production index of this frame within the
	// stream. Consecutive frames have consecutive indices; the consumer can
	// use this to assert ordering.
	Index uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

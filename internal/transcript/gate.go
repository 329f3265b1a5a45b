// Package transcript implements the quality gate that keeps hallucinated
// transcription output from becoming notes.
//
// Speech models produce confident-looking garbage on silence, music, and
// clipped audio: implausibly dense text, the same phrase looped, word
// timestamps with zero extent, or stock non-speech markers. Evaluate applies
// a fixed sequence of heuristics over the transcript and the timing data the
// VAD produced for the segment; the first matching check rejects. A rejection
// is a soft failure — the caller discards the segment and moves on, the user
// never sees an error.
package transcript

import (
	"fmt"
	"strings"
)

const (
	// expectedCharsPerSecond is the plausible character rate of normal
	// speech used by the compression-ratio check.
	expectedCharsPerSecond = 15.0

	// maxCompressionRatio rejects text denser than ~36 chars/sec.
	maxCompressionRatio = 2.4

	// maxRepetitionRatio rejects text where words repeat more than 3× on
	// average. Only evaluated above repetitionMinWords words.
	maxRepetitionRatio = 3.0
	repetitionMinWords = 5

	// maxZeroDurationRatio rejects segments where too many word timestamps
	// have zero extent — a signature of fabricated alignment.
	maxZeroDurationRatio = 0.3

	// tooShortMinDuration / tooShortMaxChars reject near-empty text over a
	// long segment: silence misclassified as speech.
	tooShortMinDuration = 3.0
	tooShortMaxChars    = 10
)

// nonSpeechMarkers are the stock annotations transcription models emit for
// non-speech audio. Matched case-insensitively as substrings.
var nonSpeechMarkers = []string{
	"[music]",
	"(music)",
	"[applause]",
	"(applause)",
	"[laughter]",
	"(laughter)",
	"[blank_audio]",
	"[silence]",
	"♪",
}

// WordTimestamp is one word of a transcript with its alignment, in seconds
// from segment start.
type WordTimestamp struct {
	Word  string
	Start float64
	End   float64
}

// GateMetrics holds the values computed during evaluation, carried on every
// verdict for observability.
type GateMetrics struct {
	CompressionRatio  float64
	RepetitionRatio   float64
	ZeroDurationRatio float64
	WordCount         int
	UniqueWordCount   int
	TextLength        int
}

// Verdict is the outcome of evaluating one transcript candidate.
type Verdict struct {
	// IsHallucination reports whether the transcript should be discarded.
	IsHallucination bool

	// Reason is a human-readable explanation of the rejection; empty on
	// acceptance.
	Reason string

	// Check is the short name of the failed check ("compression_ratio",
	// "repetition", "zero_duration", "non_speech_marker", "too_short");
	// empty on acceptance. Suitable as a metrics label.
	Check string

	// Metrics are the computed check inputs.
	Metrics GateMetrics
}

// Evaluate runs the hallucination checks over a transcript candidate.
// Checks run in a fixed order and the first match wins. It is a pure
// function: no state, no side effects.
func Evaluate(text string, words []WordTimestamp, durationSeconds float64) Verdict {
	m := computeMetrics(text, words, durationSeconds)

	if durationSeconds > 0 && m.CompressionRatio > maxCompressionRatio {
		return reject(m, "compression_ratio", fmt.Sprintf(
			"compression ratio %.2f exceeds %.2f (%d chars in %.1fs is not plausible speech)",
			m.CompressionRatio, maxCompressionRatio, m.TextLength, durationSeconds))
	}

	if m.WordCount > repetitionMinWords && m.RepetitionRatio > maxRepetitionRatio {
		return reject(m, "repetition", fmt.Sprintf(
			"repetition ratio %.2f exceeds %.2f (%d words, %d unique)",
			m.RepetitionRatio, maxRepetitionRatio, m.WordCount, m.UniqueWordCount))
	}

	if len(words) > 0 && m.ZeroDurationRatio > maxZeroDurationRatio {
		return reject(m, "zero_duration", fmt.Sprintf(
			"zero-duration timestamp ratio %.2f exceeds %.2f",
			m.ZeroDurationRatio, maxZeroDurationRatio))
	}

	if marker := findNonSpeechMarker(text); marker != "" {
		return reject(m, "non_speech_marker",
			fmt.Sprintf("non-speech marker %q in transcript", marker))
	}

	if durationSeconds > tooShortMinDuration && m.TextLength < tooShortMaxChars {
		return reject(m, "too_short", fmt.Sprintf(
			"only %d chars for a %.1fs segment (likely silence misclassified as speech)",
			m.TextLength, durationSeconds))
	}

	return Verdict{Metrics: m}
}

func reject(m GateMetrics, check, reason string) Verdict {
	return Verdict{IsHallucination: true, Reason: reason, Check: check, Metrics: m}
}

func computeMetrics(text string, words []WordTimestamp, durationSeconds float64) GateMetrics {
	m := GateMetrics{TextLength: len(text)}

	if durationSeconds > 0 {
		m.CompressionRatio = float64(len(text)) / (durationSeconds * expectedCharsPerSecond)
	}

	fields := strings.Fields(text)
	m.WordCount = len(fields)
	unique := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		unique[strings.ToLower(strings.Trim(w, ".,!?;:"))] = struct{}{}
	}
	m.UniqueWordCount = len(unique)
	if m.UniqueWordCount > 0 {
		m.RepetitionRatio = float64(m.WordCount) / float64(m.UniqueWordCount)
	}

	if len(words) > 0 {
		zero := 0
		for _, w := range words {
			if w.Start == w.End {
				zero++
			}
		}
		m.ZeroDurationRatio = float64(zero) / float64(len(words))
	}

	return m
}

// findNonSpeechMarker returns the first non-speech marker contained in text,
// or "" when none match.
func findNonSpeechMarker(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range nonSpeechMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

package transcript

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

const (
	// defaultSimilarityThreshold is the Jaro-Winkler score above which two
	// consecutive transcripts count as the same utterance replayed.
	defaultSimilarityThreshold = 0.92

	// duplicateMinChars skips the check for very short transcripts, where
	// legitimate repeats ("yes", "okay") are common.
	duplicateMinChars = 20
)

// DuplicateGuard catches a hallucination mode the pure gate cannot see:
// transcription models stuck in a repetition loop emit the previous segment's
// text again, near-verbatim, for fresh audio. The guard compares each
// accepted transcript against the previous one with Jaro-Winkler similarity
// and flags near-duplicates.
//
// One guard per session. Safe for concurrent use.
type DuplicateGuard struct {
	threshold float64

	mu   sync.Mutex
	prev string
}

// NewDuplicateGuard creates a guard. threshold ≤ 0 selects the default.
func NewDuplicateGuard(threshold float64) *DuplicateGuard {
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	return &DuplicateGuard{threshold: threshold}
}

// Check reports whether text near-duplicates the previously accepted
// transcript, along with the computed similarity. Accepted (non-duplicate)
// text becomes the new comparison baseline.
func (g *DuplicateGuard) Check(text string) (isDuplicate bool, similarity float64) {
	norm := strings.ToLower(strings.TrimSpace(text))

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(norm) >= duplicateMinChars && g.prev != "" {
		similarity = matchr.JaroWinkler(g.prev, norm, true)
		if similarity >= g.threshold {
			return true, similarity
		}
	}
	g.prev = norm
	return false, similarity
}

// Reset clears the comparison baseline, e.g. when a session restarts.
func (g *DuplicateGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev = ""
}

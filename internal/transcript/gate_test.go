package transcript_test

import (
	"strings"
	"testing"

	"github.com/voxnote/voxnote/internal/transcript"
)

func TestEvaluateCompressionRatio(t *testing.T) {
	t.Parallel()

	// 200 chars over 2 seconds: ratio 6.67, far past 2.4.
	text := strings.Repeat("abcdefghij", 20)
	v := transcript.Evaluate(text, nil, 2)

	if !v.IsHallucination {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(v.Reason, "compression ratio") {
		t.Fatalf("reason = %q, want compression-ratio reason", v.Reason)
	}
	if got := v.Metrics.CompressionRatio; got < 6.6 || got > 6.7 {
		t.Fatalf("CompressionRatio = %v, want ≈6.67", got)
	}
}

func TestEvaluateRepetitionRatio(t *testing.T) {
	t.Parallel()

	text := "Thank you thank you thank you thank you thank you thank you"
	v := transcript.Evaluate(text, nil, 5)

	if !v.IsHallucination {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(v.Reason, "repetition ratio") {
		t.Fatalf("reason = %q, want repetition reason", v.Reason)
	}
	if v.Metrics.UniqueWordCount != 2 {
		t.Fatalf("UniqueWordCount = %d, want 2 (thank, you)", v.Metrics.UniqueWordCount)
	}
}

func TestEvaluateRepetitionSkippedForShortText(t *testing.T) {
	t.Parallel()

	// 4 words, all identical: below the 5-word floor, so not evaluated.
	v := transcript.Evaluate("no no no no", nil, 2)
	if v.IsHallucination {
		t.Fatalf("short text rejected: %s", v.Reason)
	}
}

func TestEvaluateZeroDurationTimestamps(t *testing.T) {
	t.Parallel()

	words := []transcript.WordTimestamp{
		{Word: "one", Start: 0.0, End: 0.0},
		{Word: "two", Start: 0.5, End: 0.5},
		{Word: "three", Start: 1.0, End: 1.4},
		{Word: "four", Start: 1.5, End: 1.5},
	}
	v := transcript.Evaluate("one two three four", words, 2)

	if !v.IsHallucination {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(v.Reason, "zero-duration") {
		t.Fatalf("reason = %q, want zero-duration reason", v.Reason)
	}
	if v.Metrics.ZeroDurationRatio != 0.75 {
		t.Fatalf("ZeroDurationRatio = %v, want 0.75", v.Metrics.ZeroDurationRatio)
	}
}

func TestEvaluateNonSpeechMarkers(t *testing.T) {
	t.Parallel()

	cases := []string{
		"[Music]",
		"and then (applause) happened",
		"♪ la la la ♪",
		"[BLANK_AUDIO]",
	}
	for _, text := range cases {
		v := transcript.Evaluate(text, nil, 1)
		if !v.IsHallucination {
			t.Fatalf("%q not rejected", text)
		}
		if !strings.Contains(v.Reason, "non-speech marker") {
			t.Fatalf("%q reason = %q, want marker reason", text, v.Reason)
		}
	}
}

func TestEvaluateTooShortForDuration(t *testing.T) {
	t.Parallel()

	v := transcript.Evaluate("uh", nil, 8)
	if !v.IsHallucination {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(v.Reason, "misclassified") {
		t.Fatalf("reason = %q, want too-short reason", v.Reason)
	}
}

func TestEvaluateAcceptsNormalSpeech(t *testing.T) {
	t.Parallel()

	v := transcript.Evaluate("the camera pans left here", nil, 3)
	if v.IsHallucination {
		t.Fatalf("normal speech rejected: %s", v.Reason)
	}
	if v.Reason != "" {
		t.Fatalf("accepted verdict carries reason %q", v.Reason)
	}
}

func TestEvaluateCheckOrder(t *testing.T) {
	t.Parallel()

	// Dense AND repetitive: the compression check runs first and wins.
	text := strings.Repeat("go ", 100)
	v := transcript.Evaluate(text, nil, 2)
	if !strings.Contains(v.Reason, "compression ratio") {
		t.Fatalf("reason = %q, want compression (first matching check wins)", v.Reason)
	}
}

func TestDuplicateGuard(t *testing.T) {
	t.Parallel()

	g := transcript.NewDuplicateGuard(0)

	first := "remember to re-shoot the opening scene tomorrow morning"
	if dup, _ := g.Check(first); dup {
		t.Fatal("first transcript flagged as duplicate")
	}

	// Same text again, different case: a repetition-loop replay.
	if dup, sim := g.Check(strings.ToUpper(first)); !dup {
		t.Fatalf("replay not flagged (similarity %v)", sim)
	}

	// Genuinely different text passes and becomes the new baseline.
	if dup, _ := g.Check("add a caption to the second clip in the timeline"); dup {
		t.Fatal("distinct transcript flagged as duplicate")
	}
}

func TestDuplicateGuardSkipsShortText(t *testing.T) {
	t.Parallel()

	g := transcript.NewDuplicateGuard(0)
	g.Check("okay")
	if dup, _ := g.Check("okay"); dup {
		t.Fatal("short legitimate repeat flagged as duplicate")
	}
}

func TestDuplicateGuardReset(t *testing.T) {
	t.Parallel()

	g := transcript.NewDuplicateGuard(0)
	text := "this exact sentence shows up twice across a session restart"
	g.Check(text)
	g.Reset()
	if dup, _ := g.Check(text); dup {
		t.Fatal("baseline survived Reset")
	}
}

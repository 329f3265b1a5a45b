package vad_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxnote/voxnote/internal/vad"
	"github.com/voxnote/voxnote/pkg/audio"
	"github.com/voxnote/voxnote/pkg/provider/vadmodel/mock"
)

// testConfig keeps the state machine fast enough for unit tests:
// hop 10ms, min speech 50ms, min silence 100ms, gate 20ms.
func testConfig() vad.Config {
	return vad.Config{
		StartThreshold:            0.5,
		EndThreshold:              0.35,
		SmoothingWindow:           1,
		MinSpeechDuration:         50 * time.Millisecond,
		MinSilenceDuration:        100 * time.Millisecond,
		SilenceGate:               20 * time.Millisecond,
		MaxSpeechDuration:         10 * time.Second,
		StuckStateTimeout:         5 * time.Second,
		MiddleZoneRevertThreshold: 0.4,
		ExtendedSilenceMultiplier: 3,
		Hop:                       10 * time.Millisecond,
	}
}

// drive feeds the scripted confidences through the detector, one frame per
// hop, and returns all emitted events.
func drive(t *testing.T, d *vad.Detector, script []float64) []vad.Event {
	t.Helper()
	var events []vad.Event
	for i := range script {
		frame := audio.Frame{
			Samples:   make([]float32, audio.FrameSamples),
			Index:     uint64(i),
			Timestamp: time.Duration(i) * 10 * time.Millisecond,
		}
		evs, _, err := d.ProcessFrame(context.Background(), frame)
		if err != nil {
			t.Fatalf("ProcessFrame(%d): %v", i, err)
		}
		events = append(events, evs...)
	}
	return events
}

// repeat returns n copies of v.
func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newDetector(t *testing.T, script []float64, cfg vad.Config) *vad.Detector {
	t.Helper()
	d, err := vad.New(&mock.Model{Script: script}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDetectorNaturalEnd(t *testing.T) {
	t.Parallel()

	script := concat(repeat(0.9, 11), repeat(0.1, 20))
	d := newDetector(t, script, testConfig())
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events, want start+end: %+v", len(events), events)
	}
	if events[0].Type != vad.SpeechStart {
		t.Fatalf("first event = %+v, want SpeechStart", events[0])
	}
	if events[1].Type != vad.SpeechEnd || events[1].Reason != vad.EndNatural {
		t.Fatalf("second event = %+v, want natural SpeechEnd", events[1])
	}
	if events[1].Duration < 50*time.Millisecond {
		t.Fatalf("natural end emitted below min speech duration: %v", events[1].Duration)
	}
	if d.State() != vad.Silence {
		t.Fatalf("state = %v after end, want Silence", d.State())
	}
}

func TestDetectorTooShortSegmentDiscarded(t *testing.T) {
	t.Parallel()

	// Only ~30ms of speech before silence: below the 50ms minimum.
	script := concat(repeat(0.9, 2), repeat(0.1, 20))
	d := newDetector(t, script, testConfig())
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	end := events[1]
	if end.Reason != vad.EndTooShort {
		t.Fatalf("reason = %q, want too_short", end.Reason)
	}
	if end.Duration >= 50*time.Millisecond {
		t.Fatalf("too_short with duration %v", end.Duration)
	}
}

func TestDetectorMaxDurationForcedEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxSpeechDuration = 100 * time.Millisecond
	script := repeat(0.9, 11)
	d := newDetector(t, script, cfg)
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	end := events[1]
	if end.Reason != vad.EndMaxDuration {
		t.Fatalf("reason = %q, want max_duration", end.Reason)
	}
	// Fires at exactly the cap, ±1 hop.
	if end.Duration < 90*time.Millisecond || end.Duration > 110*time.Millisecond {
		t.Fatalf("forced end at %v, want 100ms ±1 hop", end.Duration)
	}
}

func TestDetectorStuckStateForcedEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StuckStateTimeout = 50 * time.Millisecond
	// One high-confidence frame, then the middle zone forever: no silence
	// gate (0.4 > end threshold) and no new high-confidence frames.
	script := concat(repeat(0.9, 1), repeat(0.4, 20))
	d := newDetector(t, script, cfg)
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[1].Reason != vad.EndStuckState {
		t.Fatalf("reason = %q, want stuck_state", events[1].Reason)
	}
}

func TestDetectorMiddleZoneRevertEarly(t *testing.T) {
	t.Parallel()

	// Silence accumulates 20ms (< 40ms revert window), then a middle-zone
	// frame: fully revert to Speech.
	script := concat(repeat(0.9, 6), repeat(0.1, 2), repeat(0.45, 1), repeat(0.9, 3))
	d := newDetector(t, script, testConfig())
	events := drive(t, d, script)

	if len(events) != 1 {
		t.Fatalf("got %d events, want only the start: %+v", len(events), events)
	}
	if d.State() != vad.Speech {
		t.Fatalf("state = %v, want Speech after revert", d.State())
	}
}

func TestDetectorMiddleZoneLateBlipDoesNotRevert(t *testing.T) {
	t.Parallel()

	// Silence reaches 50ms (past the 40ms revert window) before the blip:
	// the machine keeps accumulating silence and ends naturally.
	script := concat(
		repeat(0.9, 10),
		repeat(0.1, 5),  // gate at 20ms, then silence grows to 50ms
		repeat(0.45, 1), // late blip: ignored, still counts as silence
		repeat(0.1, 10),
	)
	d := newDetector(t, script, testConfig())
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[1].Reason != vad.EndNatural {
		t.Fatalf("reason = %q, want natural_end", events[1].Reason)
	}
}

func TestDetectorExtendedSilenceSafetyNet(t *testing.T) {
	t.Parallel()

	// A silence gate longer than the extended-silence bound keeps the machine
	// technically in Speech while silence races past the forced-end limit.
	cfg := testConfig()
	cfg.SilenceGate = 300 * time.Millisecond
	cfg.MinSilenceDuration = 100 * time.Millisecond
	cfg.ExtendedSilenceMultiplier = 2 // forced end at 200ms
	script := concat(repeat(0.9, 10), repeat(0.1, 25))
	d := newDetector(t, script, cfg)
	events := drive(t, d, script)

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[1].Reason != vad.EndForced {
		t.Fatalf("reason = %q, want forced_end", events[1].Reason)
	}
}

func TestDetectorSmoothingTriggersStart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SmoothingWindow = 2
	// Raw never reaches 0.5 alone after smoothing kicks in, but a single
	// high raw frame triggers via the raw-confidence clause.
	script := []float64{0.1, 0.1, 0.95}
	d := newDetector(t, script, cfg)
	events := drive(t, d, script)

	if len(events) != 1 || events[0].Type != vad.SpeechStart {
		t.Fatalf("events = %+v, want a single SpeechStart", events)
	}
}

func TestDetectorContextPersistsAcrossUtterances(t *testing.T) {
	t.Parallel()

	m := &mock.Model{Script: concat(repeat(0.9, 11), repeat(0.1, 20), repeat(0.9, 5))}
	d, err := vad.New(m, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drive(t, d, m.Script)

	// Every call after the first must have seen the threaded context.
	for i, call := range m.InferCalls {
		if i == 0 && call.HadContext {
			t.Fatal("first call had a context")
		}
		if i > 0 && !call.HadContext {
			t.Fatalf("call %d lost the recurrent context", i)
		}
	}
}

func TestDetectorResetDiscardsContext(t *testing.T) {
	t.Parallel()

	m := &mock.Model{Script: repeat(0.1, 10)}
	d, err := vad.New(m, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drive(t, d, repeat(0.1, 5))
	d.Reset()
	drive(t, d, repeat(0.1, 1))

	last := m.InferCalls[len(m.InferCalls)-1]
	if last.HadContext {
		t.Fatal("context survived Reset")
	}
}

func TestDetectorModelErrorIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("inference backend gone")
	d, err := vad.New(&mock.Model{InferErr: boom}, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = d.ProcessFrame(context.Background(), audio.Frame{Samples: make([]float32, audio.FrameSamples)})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped inference error", err)
	}
}

func TestDetectorMetricsEveryHop(t *testing.T) {
	t.Parallel()

	d := newDetector(t, repeat(0.9, 3), testConfig())
	for i := 0; i < 3; i++ {
		_, m, err := d.ProcessFrame(context.Background(), audio.Frame{
			Samples:   make([]float32, audio.FrameSamples),
			Timestamp: time.Duration(i) * 10 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if m.Raw != 0.9 {
			t.Fatalf("hop %d raw = %v, want 0.9", i, m.Raw)
		}
		if i > 0 && m.State != vad.Speech {
			t.Fatalf("hop %d state = %v, want Speech", i, m.State)
		}
	}
}

func TestDetectorRejectsInvertedThresholds(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StartThreshold = 0.3
	cfg.EndThreshold = 0.6
	if _, err := vad.New(&mock.Model{}, cfg); err == nil {
		t.Fatal("expected error for end threshold above start threshold")
	}
}

// The ingest bridge delivers 512-sample frames whose timestamps advance
// 32ms at a time, not the canonical 10ms hop. Duration guards must follow
// the timestamps, so continuous speech is force-ended at the configured
// maximum in real time.
func TestDetectorTracksBridgeFrameCadence(t *testing.T) {
	t.Parallel()

	d, err := vad.New(&mock.Model{Script: []float64{0.9}}, vad.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var ends []vad.Event
	bridge, err := audio.NewBridge(audio.BridgeConfig{
		SourceRate:  audio.DetectorSampleRate,
		TargetRate:  audio.DetectorSampleRate,
		Synchronous: true,
		Handler: func(f audio.Frame) {
			evs, _, err := d.ProcessFrame(context.Background(), f)
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
			for _, ev := range evs {
				if ev.Type == vad.SpeechEnd {
					ends = append(ends, ev)
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	defer bridge.Close()

	// 35 seconds of unbroken high-confidence audio in 100ms chunks.
	chunk := make([]float32, audio.DetectorSampleRate/10)
	for i := 0; i < 350; i++ {
		bridge.Push(chunk)
	}

	if len(ends) == 0 {
		t.Fatal("no speech end after 35s of continuous speech")
	}
	end := ends[0]
	if end.Reason != vad.EndMaxDuration {
		t.Errorf("reason = %q, want %q", end.Reason, vad.EndMaxDuration)
	}
	frameDur := time.Duration(audio.FrameSamples) * time.Second / audio.DetectorSampleRate
	if end.Duration < 30*time.Second || end.Duration > 30*time.Second+2*frameDur {
		t.Errorf("duration = %v, want 30s within one frame", end.Duration)
	}
	if end.Timestamp > 31*time.Second {
		t.Errorf("timestamp = %v, want max_duration to fire near 30s", end.Timestamp)
	}
}

// Package vad implements the hysteresis-based voice activity detector that
// turns per-frame speech confidences into speech-start/speech-end events.
//
// The detector is a three-state machine (Silence, Speech, MaybeSilence)
// advanced once per frame, with durations accrued from the spacing of the
// frame timestamps. Separate start and end thresholds plus a middle zone
// between them prevent flicker around a single threshold; a silence gate
// debounces transient confidence dips, and several safety guards (maximum
// speech duration, stuck-state timeout, extended silence) bound every state
// against wedging.
//
// The detector is a single sequential consumer: ProcessFrame must be called
// one frame at a time, in production order, from one goroutine.
package vad

import (
	"context"
	"fmt"
	"time"

	"github.com/voxnote/voxnote/pkg/audio"
	"github.com/voxnote/voxnote/pkg/provider/vadmodel"
)

// State is the detector's position in the hysteresis machine.
type State int

const (
	// Silence means no speech is in progress.
	Silence State = iota

	// Speech means an utterance is in progress.
	Speech

	// MaybeSilence means confidence has dropped during an utterance and the
	// detector is waiting out the minimum silence before declaring the end.
	MaybeSilence
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case Speech:
		return "speech"
	case MaybeSilence:
		return "maybe_silence"
	default:
		return "unknown"
	}
}

// EventType discriminates speech events.
type EventType int

const (
	// SpeechStart marks the beginning of an utterance.
	SpeechStart EventType = iota

	// SpeechEnd marks the end of an utterance.
	SpeechEnd
)

// EndReason explains why a SpeechEnd event fired.
type EndReason string

const (
	// EndNatural is a normal end: enough continuous silence after speech.
	EndNatural EndReason = "natural_end"

	// EndMaxDuration is the absolute safety guard on utterance length.
	EndMaxDuration EndReason = "max_duration"

	// EndStuckState fired because no high-confidence frame was seen for the
	// stuck-state timeout while in Speech.
	EndStuckState EndReason = "stuck_state"

	// EndForced is the extended-silence safety net.
	EndForced EndReason = "forced_end"

	// EndTooShort marks a segment below the minimum speech duration. The
	// event is delivered so the orchestrator can close its recording window,
	// but the segment itself must be discarded, never transcribed.
	EndTooShort EndReason = "too_short"
)

// Event is an immutable speech event emitted by the detector.
type Event struct {
	Type       EventType
	Confidence float64
	Timestamp  time.Duration
	Latency    time.Duration
	Reason     EndReason     // SpeechEnd only
	Duration   time.Duration // SpeechEnd only: accumulated speech
}

// Metrics is the per-hop observability record. One is produced for every
// processed frame; downstream emission may be rate-limited but the state
// machine itself evaluates every hop.
type Metrics struct {
	Smoothed         float64
	Raw              float64
	InferenceLatency time.Duration
	State            State
	SpeechDuration   time.Duration
	SilenceDuration  time.Duration
}

// Config holds the detector tunables. Zero fields take the documented default.
type Config struct {
	// StartThreshold triggers Silence → Speech when the smoothed or raw
	// confidence reaches it. Default 0.5.
	StartThreshold float64

	// EndThreshold is the level at or below which a frame counts as silence.
	// Confidences between EndThreshold and StartThreshold form the middle
	// zone. Default 0.35.
	EndThreshold float64

	// SmoothingWindow is the moving-average length over raw confidences.
	// 1 disables smoothing. Default 3.
	SmoothingWindow int

	// MinSpeechDuration is the shortest utterance worth emitting. Default 250ms.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is the continuous silence that ends an utterance.
	// Default 700ms.
	MinSilenceDuration time.Duration

	// SilenceGate debounces Speech → MaybeSilence: confidence must stay at or
	// below EndThreshold for this long continuously. Default 60ms.
	SilenceGate time.Duration

	// MaxSpeechDuration force-ends any utterance. Default 30s.
	MaxSpeechDuration time.Duration

	// StuckStateTimeout force-ends an utterance when no high-confidence frame
	// has been seen for this long, guarding against a detector wedged in
	// Speech by noisy input. Default 10s.
	StuckStateTimeout time.Duration

	// MiddleZoneRevertThreshold is the fraction of MinSilenceDuration below
	// which a middle-zone confidence blip reverts MaybeSilence fully back to
	// Speech. Past that fraction the blip is ignored and silence keeps
	// accumulating, so one noisy frame late in a pause cannot reset the
	// end-of-speech timer indefinitely. Default 0.4.
	MiddleZoneRevertThreshold float64

	// ExtendedSilenceMultiplier scales MinSilenceDuration for the forced-end
	// safety net. Default 3.
	ExtendedSilenceMultiplier float64

	// Hop is the assumed frame advance when timestamps give no better
	// answer. Duration accounting follows the spacing of consecutive frame
	// timestamps, so producers with a coarser cadence than the canonical
	// 10 ms hop are still measured in real time; Hop covers only the first
	// frame and non-advancing timestamps. Default [audio.HopInterval].
	Hop time.Duration
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.StartThreshold == 0 {
		c.StartThreshold = 0.5
	}
	if c.EndThreshold == 0 {
		c.EndThreshold = 0.35
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 3
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = 250 * time.Millisecond
	}
	if c.MinSilenceDuration == 0 {
		c.MinSilenceDuration = 700 * time.Millisecond
	}
	if c.SilenceGate == 0 {
		c.SilenceGate = 60 * time.Millisecond
	}
	if c.MaxSpeechDuration == 0 {
		c.MaxSpeechDuration = 30 * time.Second
	}
	if c.StuckStateTimeout == 0 {
		c.StuckStateTimeout = 10 * time.Second
	}
	if c.MiddleZoneRevertThreshold == 0 {
		c.MiddleZoneRevertThreshold = 0.4
	}
	if c.ExtendedSilenceMultiplier == 0 {
		c.ExtendedSilenceMultiplier = 3
	}
	if c.Hop == 0 {
		c.Hop = audio.HopInterval
	}
	return c
}

// Detector runs the hysteresis state machine over a speech-confidence model.
// Not safe for concurrent use; feed it frames from a single goroutine.
type Detector struct {
	cfg   Config
	model vadmodel.Model

	// rc is the model's opaque recurrent context. It persists across
	// utterances and ordinary state transitions; only Reset discards it.
	rc vadmodel.Context

	state       State
	speechDur   time.Duration
	silenceDur  time.Duration
	lowConfDur  time.Duration // continuous low confidence while in Speech
	speechStart time.Duration
	lastHigh    time.Duration // timestamp of last high-confidence frame
	lastTS      time.Duration // timestamp of the previous frame
	sawFrame    bool

	window []float64 // smoothing ring, most recent last
}

// New creates a detector over the given confidence model.
func New(model vadmodel.Model, cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if model == nil {
		return nil, fmt.Errorf("vad: model must not be nil")
	}
	if cfg.EndThreshold > cfg.StartThreshold {
		return nil, fmt.Errorf("vad: end threshold %.2f exceeds start threshold %.2f",
			cfg.EndThreshold, cfg.StartThreshold)
	}
	return &Detector{cfg: cfg, model: model}, nil
}

// State returns the current detector state.
func (d *Detector) State() State { return d.state }

// Reset fully reinitializes the state machine and the model's recurrent
// context. Use it for tab switches or full session restarts; it costs the
// model its accuracy continuity, so ordinary transitions never call it.
func (d *Detector) Reset() {
	d.rc = nil
	d.state = Silence
	d.speechDur = 0
	d.silenceDur = 0
	d.lowConfDur = 0
	d.speechStart = 0
	d.lastHigh = 0
	d.lastTS = 0
	d.sawFrame = false
	d.window = d.window[:0]
}

// ProcessFrame scores one frame and advances the state machine by one hop.
// It returns the speech events that fired on this hop (usually none, at most
// two) and the per-hop metrics record. A model failure is fatal: the detector
// must not be fed further frames and the session must transition to Error.
func (d *Detector) ProcessFrame(ctx context.Context, frame audio.Frame) ([]Event, Metrics, error) {
	began := time.Now()
	raw, rc, err := d.model.Infer(ctx, frame.Samples, d.rc)
	if err != nil {
		return nil, Metrics{State: d.state}, fmt.Errorf("vad: model inference: %w", err)
	}
	d.rc = rc
	latency := time.Since(began)
	smoothed := d.smooth(raw)

	ts := frame.Timestamp

	// Durations accrue by the real spacing between frames so producers
	// with wider frames than the canonical hop stay on the wall clock.
	hop := d.cfg.Hop
	if d.sawFrame && ts > d.lastTS {
		hop = ts - d.lastTS
	}
	d.sawFrame = true
	d.lastTS = ts

	var events []Event

	switch d.state {
	case Silence:
		if smoothed >= d.cfg.StartThreshold || raw >= d.cfg.StartThreshold {
			d.state = Speech
			d.speechDur = 0
			d.silenceDur = 0
			d.lowConfDur = 0
			d.speechStart = ts
			d.lastHigh = ts
			events = append(events, Event{
				Type:       SpeechStart,
				Confidence: smoothed,
				Timestamp:  ts,
				Latency:    latency,
			})
		}

	case Speech:
		d.speechDur += hop
		if raw >= d.cfg.StartThreshold {
			d.lastHigh = ts
		}
		if smoothed <= d.cfg.EndThreshold {
			d.lowConfDur += hop
		} else {
			d.lowConfDur = 0
		}

		switch {
		case d.speechDur >= d.cfg.MaxSpeechDuration:
			events = append(events, d.endSpeech(smoothed, ts, latency, EndMaxDuration))
		case ts-d.lastHigh >= d.cfg.StuckStateTimeout:
			events = append(events, d.endSpeech(smoothed, ts, latency, EndStuckState))
		case d.lowConfDur >= d.extendedSilence():
			// Counter-race safety net: low confidence persisted long past the
			// natural-end window without the MaybeSilence path firing.
			events = append(events, d.endSpeech(smoothed, ts, latency, EndForced))
		case d.lowConfDur >= d.cfg.SilenceGate:
			d.state = MaybeSilence
			d.silenceDur = d.lowConfDur
		}

	case MaybeSilence:
		// speechDur deliberately frozen here: the hops are silence until the
		// machine decides otherwise, and a revert resumes accumulation.
		switch {
		case smoothed >= d.cfg.StartThreshold || raw >= d.cfg.StartThreshold:
			// Confidence recovered fully: the pause was part of the utterance.
			d.state = Speech
			d.silenceDur = 0
			d.lowConfDur = 0
			d.lastHigh = ts

		case smoothed > d.cfg.EndThreshold:
			// Middle zone. Early in the pause this is noise — revert to
			// Speech. Late in the pause a single mid-confidence frame must
			// not keep resetting the end-of-speech timer, so keep counting.
			revertWindow := time.Duration(float64(d.cfg.MinSilenceDuration) * d.cfg.MiddleZoneRevertThreshold)
			if d.silenceDur < revertWindow {
				d.state = Speech
				d.silenceDur = 0
				d.lowConfDur = 0
			} else {
				d.silenceDur += hop
				events = d.checkSilenceEnd(events, smoothed, ts, latency)
			}

		default:
			d.silenceDur += hop
			events = d.checkSilenceEnd(events, smoothed, ts, latency)
		}
	}

	m := Metrics{
		Smoothed:         smoothed,
		Raw:              raw,
		InferenceLatency: latency,
		State:            d.state,
		SpeechDuration:   d.speechDur,
		SilenceDuration:  d.silenceDur,
	}
	return events, m, nil
}

// checkSilenceEnd applies the natural-end and extended-silence rules while in
// MaybeSilence, appending at most one end event.
func (d *Detector) checkSilenceEnd(events []Event, conf float64, ts time.Duration, latency time.Duration) []Event {
	switch {
	case d.silenceDur >= d.extendedSilence():
		return append(events, d.endSpeech(conf, ts, latency, EndForced))
	case d.silenceDur >= d.cfg.MinSilenceDuration:
		return append(events, d.endSpeech(conf, ts, latency, EndNatural))
	}
	return events
}

// endSpeech emits the end event and returns the machine to Silence. Segments
// below the minimum speech duration are downgraded to EndTooShort so the
// orchestrator can close its window without transcribing them. The recurrent
// context is left untouched.
func (d *Detector) endSpeech(conf float64, ts time.Duration, latency time.Duration, reason EndReason) Event {
	dur := d.speechDur
	if reason == EndNatural && dur < d.cfg.MinSpeechDuration {
		reason = EndTooShort
	}
	d.state = Silence
	d.speechDur = 0
	d.silenceDur = 0
	d.lowConfDur = 0
	return Event{
		Type:       SpeechEnd,
		Confidence: conf,
		Timestamp:  ts,
		Latency:    latency,
		Reason:     reason,
		Duration:   dur,
	}
}

// extendedSilence returns the forced-end silence bound.
func (d *Detector) extendedSilence() time.Duration {
	return time.Duration(float64(d.cfg.MinSilenceDuration) * d.cfg.ExtendedSilenceMultiplier)
}

// smooth appends raw to the moving-average window and returns the mean.
func (d *Detector) smooth(raw float64) float64 {
	if d.cfg.SmoothingWindow <= 1 {
		return raw
	}
	d.window = append(d.window, raw)
	if len(d.window) > d.cfg.SmoothingWindow {
		d.window = d.window[1:]
	}
	var sum float64
	for _, v := range d.window {
		sum += v
	}
	return sum / float64(len(d.window))
}

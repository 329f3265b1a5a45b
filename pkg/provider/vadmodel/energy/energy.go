// Package energy provides an energy-based speech-confidence model. It scores
// frames by RMS level against an adaptive noise floor, which makes it usable
// without model files or external inference, at the cost of confusing loud
// non-speech with speech. The hysteresis detector layered on top absorbs most
// of that noise.
package energy

import (
	"context"
	"errors"
	"math"

	"github.com/voxnote/voxnote/pkg/provider/vadmodel"
)

const (
	// defaultPivotDB is the level above the noise floor, in dB, that maps to
	// 0.5 confidence.
	defaultPivotDB = 9.0

	// defaultSlopeDB controls how sharply confidence rises around the pivot.
	defaultSlopeDB = 3.0

	// initialFloor seeds the noise floor for a fresh context, roughly the
	// RMS of quiet room tone in normalized samples.
	initialFloor = 0.003

	// floorMin keeps the floor from collapsing to zero on digital silence,
	// which would make any non-zero frame look like speech.
	floorMin = 1e-4

	// Floor adaptation rates: fast downward so the floor finds real silence
	// quickly, slow upward so speech does not drag the floor up after itself.
	adaptDown = 0.3
	adaptUp   = 0.002
)

// Option is a functional option for configuring a Model.
type Option func(*Model)

// WithPivot sets the dB-over-floor level that maps to 0.5 confidence.
func WithPivot(db float64) Option {
	return func(m *Model) {
		m.pivotDB = db
	}
}

// WithSlope sets the dB width of the confidence transition band.
func WithSlope(db float64) Option {
	return func(m *Model) {
		m.slopeDB = db
	}
}

// Model implements [vadmodel.Model] on frame energy. The adaptive noise floor
// lives in the recurrent context, so one Model instance can serve many
// sessions concurrently.
type Model struct {
	pivotDB float64
	slopeDB float64
}

// state is the per-session recurrent context: the tracked noise floor.
type state struct {
	floor float64
}

// New creates an energy model.
func New(opts ...Option) *Model {
	m := &Model{
		pivotDB: defaultPivotDB,
		slopeDB: defaultSlopeDB,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var _ vadmodel.Model = (*Model)(nil)

// Infer scores one frame and returns the updated noise-floor context.
func (m *Model) Infer(_ context.Context, frame []float32, rc vadmodel.Context) (float64, vadmodel.Context, error) {
	if len(frame) == 0 {
		return 0, rc, errors.New("energy: empty frame")
	}

	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	prev, ok := rc.(*state)
	if !ok {
		prev = &state{floor: initialFloor}
	}

	floor := prev.floor
	if rms < floor {
		floor += (rms - floor) * adaptDown
	} else {
		floor += (rms - floor) * adaptUp
	}
	floor = math.Max(floor, floorMin)

	snrDB := 20 * math.Log10((rms+floorMin)/floor)
	confidence := 1 / (1 + math.Exp(-(snrDB-m.pivotDB)/m.slopeDB))

	return confidence, &state{floor: floor}, nil
}

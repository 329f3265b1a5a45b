// Package resilience guards the transcription path against flaky backends.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops hammering a backend once it fails repeatedly. [Chain] composes
// transcription backends behind per-backend breakers so a failing primary is
// bypassed in favour of the next healthy fallback.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards every call. Normal operation.
	Closed State = iota

	// Open rejects every call with [ErrBreakerOpen] until the reset timeout
	// elapses.
	Open

	// HalfOpen admits a bounded number of probe calls to decide between
	// closing again and re-opening.
	HalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the breaker tunables. Zero fields take the documented
// default.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that trips the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default 30s.
	ResetTimeout time.Duration

	// ProbeBudget is how many half-open probe calls are admitted, and how
	// many of them must succeed for the breaker to close. Default 3.
	ProbeBudget int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = 3
	}
	return c
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	fails    int       // consecutive failures while closed
	openedAt time.Time // last trip or half-open failure
	probes   int       // probes admitted this half-open round
	probeOK  int       // probes that succeeded this half-open round
}

// NewBreaker creates a breaker named for log messages.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults()}
}

// Do runs fn unless the breaker rejects the call. A rejected call returns
// [ErrBreakerOpen] without invoking fn; otherwise fn's error is returned
// unchanged and folded into the breaker's accounting.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err != nil)
	return err
}

// admit decides whether a call may proceed, reporting whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrBreakerOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeOK = 0
		slog.Info("breaker half-open, probing backend", "backend", b.name)
	}
	if b.state == HalfOpen {
		if b.probes >= b.cfg.ProbeBudget {
			return false, ErrBreakerOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle folds one call outcome into the state machine.
func (b *Breaker) settle(probe, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case failed && probe:
		// One failed probe is enough: back to open for a full timeout.
		b.state = Open
		b.openedAt = time.Now()
		slog.Warn("breaker re-opened, probe failed", "backend", b.name)

	case failed:
		b.fails++
		b.openedAt = time.Now()
		if b.state == Closed && b.fails >= b.cfg.MaxFailures {
			b.state = Open
			slog.Warn("breaker opened",
				"backend", b.name, "consecutive_failures", b.fails)
		}

	case probe:
		b.probeOK++
		if b.probeOK >= b.cfg.ProbeBudget {
			b.state = Closed
			b.fails = 0
			slog.Info("breaker closed, backend recovered", "backend", b.name)
		}

	default:
		b.fails = 0
	}
}

// State reports the current mode. An open breaker whose reset timeout has
// elapsed reports HalfOpen; the internal transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.fails = 0
	b.probes = 0
	b.probeOK = 0
	slog.Info("breaker manually reset", "backend", b.name)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxnote/voxnote/pkg/provider/stt"
)

// ErrAllFailed is returned when every backend in a [Chain] either failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all transcription backends failed")

// Chain is an [stt.Provider] that fails over across transcription backends,
// e.g. a hosted OpenAI primary with a local whisper.cpp fallback. Each
// backend sits behind its own [Breaker]; a backend that keeps failing is
// skipped outright until its breaker lets probes through again.
//
// Build the chain fully before first use; Transcribe is safe for concurrent
// use, Add is not.
type Chain struct {
	entries []chainEntry
	breaker BreakerConfig
}

type chainEntry struct {
	name     string
	provider stt.Provider
	breaker  *Breaker
}

var _ stt.Provider = (*Chain)(nil)

// NewChain creates a failover chain with primary as the preferred backend.
// cfg configures the per-backend breakers.
func NewChain(primaryName string, primary stt.Provider, cfg BreakerConfig) *Chain {
	c := &Chain{breaker: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback backend. Backends are tried in registration order.
func (c *Chain) Add(name string, provider stt.Provider) {
	c.entries = append(c.entries, chainEntry{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(name, c.breaker),
	})
}

// Transcribe submits the segment to the first healthy backend. A failed or
// breaker-rejected backend is passed over for the next one; when none
// succeed the last error is wrapped in [ErrAllFailed].
func (c *Chain) Transcribe(ctx context.Context, seg stt.Segment) (stt.Result, error) {
	var lastErr error
	for i := range c.entries {
		e := &c.entries[i]
		var res stt.Result
		err := e.breaker.Do(func() error {
			var terr error
			res, terr = e.provider.Transcribe(ctx, seg)
			return terr
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("transcription backend skipped", "backend", e.name)
			continue
		}
		slog.Warn("transcription backend failed, trying next",
			"backend", e.name, "error", err)
	}
	return stt.Result{}, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

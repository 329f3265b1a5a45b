// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to feed controlled transcription Results and inspect which
// segments were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []stt.Result{{Text: "hello world"}},
//	}
//	res, _ := p.Transcribe(ctx, seg)
package mock

import (
	"context"
	"sync"

	"github.com/voxnote/voxnote/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Segment is the audio segment passed to Transcribe.
	Segment stt.Segment
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned from successive Transcribe calls. When exhausted,
	// the last Result is repeated. An empty slice yields zero Results.
	Results []stt.Result

	// TranscribeErr, if non-nil, is returned as the error from every
	// Transcribe call.
	TranscribeErr error

	// Delay, if set, is a function invoked before returning; tests use it to
	// simulate slow backends (e.g. blocking on a channel).
	Delay func(ctx context.Context) error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	next int
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted Result.
func (p *Provider) Transcribe(ctx context.Context, seg stt.Segment) (stt.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Segment: seg})
	var res stt.Result
	if len(p.Results) > 0 {
		i := p.next
		if i >= len(p.Results) {
			i = len(p.Results) - 1
		}
		res = p.Results[i]
		p.next++
	}
	err := p.TranscribeErr
	delay := p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return stt.Result{}, derr
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Calls returns a snapshot of recorded Transcribe calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Package mock provides a scriptable test double for the vadmodel package.
//
// Use Model to feed a predetermined confidence sequence to the detector and
// to verify that the recurrent context is threaded through calls unchanged
// by state transitions.
package mock

import (
	"context"
	"sync"

	"github.com/voxnote/voxnote/pkg/provider/vadmodel"
)

// InferCall records a single invocation of Model.Infer.
type InferCall struct {
	// FrameLen is the length of the frame passed to Infer.
	FrameLen int

	// HadContext reports whether a non-nil recurrent context was passed.
	HadContext bool
}

// Model is a mock implementation of vadmodel.Model. It returns confidences
// from Script in order, repeating the final value once the script is
// exhausted. The returned context is an internal counter value, so tests can
// observe context continuity.
type Model struct {
	mu sync.Mutex

	// Script is the sequence of confidences to return.
	Script []float64

	// InferErr, if non-nil, is returned by every Infer call.
	InferErr error

	// InferCalls records every call in order.
	InferCalls []InferCall

	pos int
}

// state is the opaque context value handed back to callers.
type state struct{ calls int }

// Infer returns the next scripted confidence and an updated context.
func (m *Model) Infer(_ context.Context, frame []float32, rc vadmodel.Context) (float64, vadmodel.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InferCalls = append(m.InferCalls, InferCall{
		FrameLen:   len(frame),
		HadContext: rc != nil,
	})
	if m.InferErr != nil {
		return 0, rc, m.InferErr
	}

	var conf float64
	if len(m.Script) > 0 {
		if m.pos < len(m.Script) {
			conf = m.Script[m.pos]
			m.pos++
		} else {
			conf = m.Script[len(m.Script)-1]
		}
	}

	prev, _ := rc.(*state)
	next := &state{calls: 1}
	if prev != nil {
		next.calls = prev.calls + 1
	}
	return conf, next, nil
}

// ContextCalls returns how many Infer calls the given context value has seen,
// or 0 for nil/foreign contexts.
func ContextCalls(rc vadmodel.Context) int {
	if s, ok := rc.(*state); ok {
		return s.calls
	}
	return 0
}

// Calls returns a snapshot of recorded Infer calls.
func (m *Model) Calls() []InferCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferCall(nil), m.InferCalls...)
}

// Reset clears recorded calls and rewinds the script.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InferCalls = nil
	m.pos = 0
}

// Ensure Model implements vadmodel.Model at compile time.
var _ vadmodel.Model = (*Model)(nil)

// Package audio provides the capture-side audio primitives for the voxnote
// real-time pipeline: the lookback [Ring] that retains recent microphone
// samples for pre-roll extraction, the [Bridge] that decouples the real-time
// producer from the detector, and PCM format conversion helpers for the
// WebSocket ingest path.
//
// Sample positions are absolute: every sample ever written has a monotonic
// position starting at 0, and readers address the ring by position rather
// than by offset. This is what lets a recording window be described as a
// stable (start, end) pair even while the ring keeps overwriting old data.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sentinel errors returned by [Ring] operations.
var (
	// ErrFutureRead is returned by Read when the requested end position lies
	// beyond the current write head. This is a programming error in the
	// caller — unwritten data can be awaited with WaitForSamples, never read.
	ErrFutureRead = errors.New("audio: read beyond write head")

	// ErrWaitTimeout is returned by WaitForSamples when the target position
	// was not reached within the timeout.
	ErrWaitTimeout = errors.New("audio: wait for samples timed out")

	// ErrBufferReset is returned to waiters whose wait was cancelled by Reset.
	ErrBufferReset = errors.New("audio: buffer reset")
)

// Ring is a bounded circular store of mono float32 samples, continuously
// written by the capture path. It retains the most recent Capacity samples so
// that a detected speech start can reach back in time for pre-roll audio.
//
// Capacity should be sized as maxSpeech + preRoll + postPad + slack so that
// no unread speech is overwritten mid-utterance; [RingCapacity] computes this.
//
// All methods are safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	buf     []float32
	written uint64 // total samples ever written; write index is written % cap
	waiters []*waiter
}

// waiter is one suspended WaitForSamples call.
type waiter struct {
	target uint64
	done   chan error // buffered(1); receives nil on satisfaction
}

// RingCapacity returns the sample capacity needed to guarantee that a speech
// segment of at most maxSpeech, padded by preRoll and postPad, is still fully
// retained at the moment it is read out. slack absorbs scheduling delay
// between speech end and segment extraction.
func RingCapacity(sampleRate int, maxSpeech, preRoll, postPad, slack time.Duration) int {
	total := maxSpeech + preRoll + postPad + slack
	return int(total.Milliseconds()) * sampleRate / 1000
}

// NewRing creates a ring buffer holding capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("audio: ring capacity must be positive, got %d", capacity))
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Capacity returns the number of samples the ring retains.
func (r *Ring) Capacity() int { return len(r.buf) }

// TotalWritten returns the monotonic count of samples ever written.
func (r *Ring) TotalWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// EarliestRetained returns the absolute position of the oldest sample still
// held in the ring: max(0, TotalWritten − Capacity).
func (r *Ring) EarliestRetained() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.earliestLocked()
}

func (r *Ring) earliestLocked() uint64 {
	if r.written <= uint64(len(r.buf)) {
		return 0
	}
	return r.written - uint64(len(r.buf))
}

// Write appends samples to the ring, wrapping at capacity, and wakes any
// waiters whose target position has now been written. Write never blocks;
// it is safe to call from the real-time capture path.
func (r *Ring) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()

	// A write larger than the ring only keeps its tail.
	src := samples
	if len(src) > len(r.buf) {
		src = src[len(src)-len(r.buf):]
		r.written += uint64(len(samples) - len(src))
	}

	idx := int(r.written % uint64(len(r.buf)))
	n := copy(r.buf[idx:], src)
	copy(r.buf, src[n:])
	r.written += uint64(len(src))

	// Wake satisfied waiters. The slice is compacted in place.
	kept := r.waiters[:0]
	for _, w := range r.waiters {
		if r.written >= w.target {
			w.done <- nil
		} else {
			kept = append(kept, w)
		}
	}
	r.waiters = kept
	r.mu.Unlock()
}

// Read returns the samples at absolute positions [start, end). If start is
// older than the earliest retained sample it is clamped upward and a warning
// is logged — the caller asked for data that was already evicted. If end
// exceeds the current write head, Read fails with [ErrFutureRead].
//
// The returned slice is a copy and safe to retain.
func (r *Ring) Read(start, end uint64) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if end > r.written {
		return nil, fmt.Errorf("%w: end %d, write head %d", ErrFutureRead, end, r.written)
	}
	if start > end {
		return nil, fmt.Errorf("audio: invalid read range [%d, %d)", start, end)
	}

	if earliest := r.earliestLocked(); start < earliest {
		slog.Warn("audio: read start clamped to earliest retained sample",
			"requested", start,
			"earliest", earliest,
			"evicted", earliest-start,
		)
		start = earliest
		if end < start {
			end = start
		}
	}

	out := make([]float32, end-start)
	for i := range out {
		out[i] = r.buf[(start+uint64(i))%uint64(len(r.buf))]
	}
	return out, nil
}

// WaitForSamples suspends the caller until TotalWritten ≥ target, the timeout
// elapses, the context is cancelled, or the ring is reset — whichever comes
// first. On timeout it returns [ErrWaitTimeout]; on reset [ErrBufferReset].
// It never leaves the caller hanging.
func (r *Ring) WaitForSamples(ctx context.Context, target uint64, timeout time.Duration) error {
	r.mu.Lock()
	if r.written >= target {
		r.mu.Unlock()
		return nil
	}
	w := &waiter{target: target, done: make(chan error, 1)}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.done:
		return err
	case <-timer.C:
		r.removeWaiter(w)
		// A wake may have raced the timeout; prefer success.
		select {
		case err := <-w.done:
			return err
		default:
		}
		return fmt.Errorf("%w: target %d after %v", ErrWaitTimeout, target, timeout)
	case <-ctx.Done():
		r.removeWaiter(w)
		select {
		case err := <-w.done:
			return err
		default:
		}
		return ctx.Err()
	}
}

// removeWaiter unregisters w if it is still pending.
func (r *Ring) removeWaiter(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cand := range r.waiters {
		if cand == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// Reset clears all samples and the write position, and fails every pending
// waiter with [ErrBufferReset].
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.written = 0
	for _, w := range r.waiters {
		w.done <- ErrBufferReset
	}
	r.waiters = nil
}

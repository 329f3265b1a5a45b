package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultQueueDepth is the buffered-channel depth for asynchronous delivery.
// At a 10 ms hop this absorbs roughly 1.3 s of consumer stall.
const defaultQueueDepth = 128

// FrameHandler consumes detection frames in production order. It is invoked
// from a single goroutine at a time; implementations need no internal locking
// for per-frame state.
type FrameHandler func(Frame)

// BridgeConfig configures a [Bridge].
type BridgeConfig struct {
	// SourceRate is the sample rate of pushed audio in Hz.
	SourceRate int

	// TargetRate is the detector's required sample rate in Hz. Must divide
	// SourceRate exactly; the bridge downsamples by local averaging and never
	// upsamples.
	TargetRate int

	// FrameSamples is the fixed frame length delivered to the handler,
	// in target-rate samples. Defaults to [FrameSamples].
	FrameSamples int

	// Handler receives assembled frames. Must not be nil.
	Handler FrameHandler

	// Synchronous forces the direct delivery path: Push invokes Handler
	// inline instead of handing frames to the dispatch goroutine. Higher
	// producer latency, same ordering guarantee. This is also the path the
	// bridge falls back to when the asynchronous queue cannot be set up.
	Synchronous bool

	// QueueDepth overrides the asynchronous queue depth. Ignored when
	// Synchronous is set.
	QueueDepth int
}

// Bridge decouples the real-time capture path from detection logic. The
// producer calls [Bridge.Push] with arbitrarily sized sample chunks and never
// blocks; the bridge performs integer-ratio downsampling, assembles fixed-size
// frames, and delivers them to the handler strictly in production order with
// no duplication.
//
// Push must be called from a single producer goroutine. All other methods are
// safe for concurrent use.
type Bridge struct {
	handler   FrameHandler
	frameSize int
	ratio     int
	targetRate int
	sync      bool

	// Producer-side assembly state; touched only from Push.
	pending  []float32
	accSum   float32
	accCount int
	next     uint64

	queue   chan Frame
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewBridge creates a bridge and, unless cfg.Synchronous is set, starts its
// dispatch goroutine. Call [Bridge.Close] to stop it.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("audio: bridge handler must not be nil")
	}
	if cfg.SourceRate <= 0 || cfg.TargetRate <= 0 {
		return nil, fmt.Errorf("audio: bridge rates must be positive (source %d, target %d)",
			cfg.SourceRate, cfg.TargetRate)
	}
	if cfg.SourceRate < cfg.TargetRate {
		return nil, fmt.Errorf("audio: bridge never upsamples (source %d < target %d)",
			cfg.SourceRate, cfg.TargetRate)
	}
	if cfg.SourceRate%cfg.TargetRate != 0 {
		return nil, fmt.Errorf("audio: source rate %d is not an integer multiple of target rate %d",
			cfg.SourceRate, cfg.TargetRate)
	}
	frameSize := cfg.FrameSamples
	if frameSize <= 0 {
		frameSize = FrameSamples
	}

	b := &Bridge{
		handler:    cfg.Handler,
		frameSize:  frameSize,
		ratio:      cfg.SourceRate / cfg.TargetRate,
		targetRate: cfg.TargetRate,
		sync:       cfg.Synchronous,
		pending:    make([]float32, 0, frameSize),
		done:       make(chan struct{}),
	}

	if !b.sync {
		depth := cfg.QueueDepth
		if depth <= 0 {
			depth = defaultQueueDepth
		}
		b.queue = make(chan Frame, depth)
		b.wg.Add(1)
		go b.dispatch()
	}
	return b, nil
}

// Push feeds raw samples at the source rate into the bridge. It never blocks:
// in asynchronous mode a full queue drops the frame (counted and logged, never
// silent), which only happens when the consumer has stalled well beyond the
// queue depth. Push after Close is a no-op.
func (b *Bridge) Push(samples []float32) {
	if b.closed.Load() {
		return
	}

	for _, s := range samples {
		b.accSum += s
		b.accCount++
		if b.accCount < b.ratio {
			continue
		}
		b.pending = append(b.pending, b.accSum/float32(b.ratio))
		b.accSum, b.accCount = 0, 0

		if len(b.pending) == b.frameSize {
			b.deliver(Frame{
				Samples:   b.pending,
				Index:     b.next,
				Timestamp: time.Duration(b.next*uint64(b.frameSize)) * time.Second / time.Duration(b.targetRate),
			})
			b.next++
			b.pending = make([]float32, 0, b.frameSize)
		}
	}
}

// deliver hands one assembled frame to the consumer path.
func (b *Bridge) deliver(f Frame) {
	if b.sync {
		b.handler(f)
		return
	}
	select {
	case b.queue <- f:
	default:
		n := b.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			slog.Warn("audio: bridge queue full, dropping frame",
				"frame_index", f.Index,
				"dropped_total", n,
			)
		}
	}
}

// dispatch is the single sequential consumer loop for asynchronous delivery.
func (b *Bridge) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case f := <-b.queue:
			b.handler(f)
		case <-b.done:
			// Drain whatever was queued before Close so ordering-sensitive
			// consumers see a clean tail.
			for {
				select {
				case f := <-b.queue:
					b.handler(f)
				default:
					return
				}
			}
		}
	}
}

// Dropped returns the number of frames discarded due to queue overflow.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Close stops the dispatch goroutine after draining queued frames. Pending
// partial-frame samples are discarded. Safe to call more than once.
func (b *Bridge) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
		b.wg.Wait()
	}
}

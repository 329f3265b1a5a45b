package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxnote/voxnote/internal/config"
	"github.com/voxnote/voxnote/internal/gateway"
	"github.com/voxnote/voxnote/internal/notes"
	"github.com/voxnote/voxnote/internal/observe"
	"github.com/voxnote/voxnote/internal/session"
	"github.com/voxnote/voxnote/internal/transcript"
	"github.com/voxnote/voxnote/internal/vad"
	"github.com/voxnote/voxnote/pkg/audio"
	"github.com/voxnote/voxnote/pkg/provider/stt"
	"github.com/voxnote/voxnote/pkg/provider/vadmodel"
)

// Ring sizing fallbacks, aligned with the detector and orchestrator defaults.
// The slack absorbs scheduling delay between speech end and segment read-out.
const (
	defaultMaxSpeech = 30 * time.Second
	defaultPreRoll   = 300 * time.Millisecond
	defaultPostPad   = 200 * time.Millisecond
	ringSlack        = 2 * time.Second
)

// closeWait bounds how long Session.close waits for the orchestrator
// goroutine to drain its segment pipelines.
const closeWait = 10 * time.Second

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Config supplies the VAD and session tunables applied to every session.
	Config *config.Config

	// Model scores frames for speech confidence. Shared across sessions;
	// each session threads its own recurrent context. Required.
	Model vadmodel.Model

	// Transcriber turns recorded segments into text. Required.
	Transcriber stt.Provider

	// ProviderName labels transcription metrics and notes.
	ProviderName string

	// Sink persists accepted notes. Required.
	Sink notes.Sink

	// Metrics records telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// SessionManager owns the lifecycle of every voice session: the lookback
// ring, the detector, the orchestrator goroutine, and the audio ingest
// bridge. It implements [gateway.SessionStore]. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	cfg          *config.Config
	model        vadmodel.Model
	transcriber  stt.Provider
	providerName string
	sink         notes.Sink
	metrics      *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	counter  atomic.Int64
	closed   bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Config == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if cfg.Model == nil {
		return nil, errors.New("app: speech-confidence model must not be nil")
	}
	if cfg.Transcriber == nil {
		return nil, errors.New("app: transcriber must not be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("app: note sink must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:          cfg.Config,
		model:        cfg.Model,
		transcriber:  cfg.Transcriber,
		providerName: cfg.ProviderName,
		sink:         cfg.Sink,
		metrics:      cfg.Metrics,
		sessions:     make(map[string]*Session),
	}, nil
}

// Create builds and starts a new session.
func (sm *SessionManager) Create(ctx context.Context) (gateway.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, errors.New("app: session manager is shut down")
	}

	id := fmt.Sprintf("session-%s-%04d",
		time.Now().UTC().Format("20060102T150405"),
		sm.counter.Add(1),
	)

	s, err := sm.newSession(id)
	if err != nil {
		return nil, err
	}
	sm.sessions[id] = s
	sm.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session created", "session_id", id)
	return s, nil
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Get returns the session with the given ID.
func (sm *SessionManager) Get(id string) (gateway.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// Remove stops the session and releases its resources.
func (sm *SessionManager) Remove(ctx context.Context, id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: unknown session %q", id)
	}

	s.close()
	sm.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session removed", "session_id", id)
	return nil
}

// Notes returns the most recent notes recorded in the session, newest first.
func (sm *SessionManager) Notes(ctx context.Context, id string, limit int) ([]notes.Note, error) {
	sm.mu.Lock()
	_, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("app: unknown session %q", id)
	}
	return sm.sink.ListRecent(ctx, id, limit)
}

// Shutdown stops every active session. The manager accepts no new sessions
// afterwards.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sm.closed = true
	active := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		active = append(active, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range active {
		s.close()
		sm.metrics.ActiveSessions.Add(ctx, -1)
	}
	if len(active) > 0 {
		slog.Info("all sessions stopped", "count", len(active))
	}
}

// newSession assembles the per-session pipeline. Caller holds sm.mu.
func (sm *SessionManager) newSession(id string) (*Session, error) {
	detector, err := vad.New(sm.model, sm.cfg.VAD.Detector())
	if err != nil {
		return nil, fmt.Errorf("app: create detector: %w", err)
	}

	ring := audio.NewRing(audio.RingCapacity(
		audio.DetectorSampleRate,
		sm.maxSpeech(), sm.preRoll(), sm.postPad(), ringSlack,
	))

	s := &Session{
		id:      id,
		ring:    ring,
		det:     detector,
		metrics: sm.metrics,
	}
	s.capture = audio.NewCapture(nil, s.closeBridge)

	guard := transcript.NewDuplicateGuard(sm.cfg.Transcript.DuplicateSimilarity)
	orch, err := session.New(sm.cfg.Session.Orchestrator(id), session.Deps{
		Ring:         ring,
		Transcriber:  sm.transcriber,
		ProviderName: sm.providerName,
		Guard:        guard,
		Sink:         sm.sink,
		Metrics:      sm.metrics,
		Subscriber:   s.forward,
		Capture:      s.capture,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create orchestrator: %w", err)
	}
	s.orch = orch

	runCtx, cancel := context.WithCancel(context.Background())
	s.ctx = runCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := orch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("orchestrator exited", "session_id", id, "err", err)
		}
	}()

	return s, nil
}

func (sm *SessionManager) maxSpeech() time.Duration {
	if ms := sm.cfg.VAD.MaxSpeechMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultMaxSpeech
}

func (sm *SessionManager) preRoll() time.Duration {
	if ms := sm.cfg.Session.PreRollMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPreRoll
}

func (sm *SessionManager) postPad() time.Duration {
	if ms := sm.cfg.Session.PostPadMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPostPad
}

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is one live voice session: the ring, detector, and orchestrator
// persist across client reconnects; the audio bridge is bound to whichever
// connection is currently attached. It implements [gateway.Session].
type Session struct {
	id      string
	ring    *audio.Ring
	det     *vad.Detector
	orch    *session.Orchestrator
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	subscriber atomic.Pointer[func(session.SequencedEvent)]

	// capture reference-counts the ingest path: the attached connection
	// holds one reference, each open recording window another. The bridge
	// is torn down only when both are gone, so post-pad samples already in
	// flight still land in the ring after a client detach.
	capture *audio.Capture
	bridge  atomic.Pointer[audio.Bridge]

	attachMu sync.Mutex
	attached bool

	// lastHopReport rate-limits gauge emission from handleFrame. Touched
	// only from the bridge handler, which is sequential across bridges.
	lastHopReport time.Time
}

// hopReportInterval spaces out per-hop detector gauge reports.
const hopReportInterval = 100 * time.Millisecond

var _ gateway.Session = (*Session)(nil)

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Deliver submits a sequenced client control event.
func (s *Session) Deliver(ev session.ClientEvent) error {
	return s.orch.Deliver(ev)
}

// Reconcile compares the client's last seen sequence number against the
// server's.
func (s *Session) Reconcile(ctx context.Context, clientLast int64) (session.Reconciliation, error) {
	return s.orch.Reconcile(ctx, clientLast)
}

// Stats returns a snapshot of the orchestrator counters.
func (s *Session) Stats(ctx context.Context) (session.Stats, error) {
	return s.orch.Stats(ctx)
}

// SetSubscriber installs the outbound event receiver, replacing any previous
// one. Pass nil to detach.
func (s *Session) SetSubscriber(fn func(session.SequencedEvent)) {
	if fn == nil {
		s.subscriber.Store(nil)
		return
	}
	s.subscriber.Store(&fn)
}

// forward relays an orchestrator event to the attached subscriber, if any.
func (s *Session) forward(ev session.SequencedEvent) {
	if fn := s.subscriber.Load(); fn != nil {
		(*fn)(ev)
	}
}

// AttachAudio opens the ingest path for a producer at sourceRate, replacing
// any previous bridge. The ring and detector carry over, so a reconnecting
// client resumes against the same lookback history.
func (s *Session) AttachAudio(sourceRate int) (*audio.Bridge, error) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	bridge, err := audio.NewBridge(audio.BridgeConfig{
		SourceRate: sourceRate,
		TargetRate: audio.DetectorSampleRate,
		Handler:    s.handleFrame,
	})
	if err != nil {
		return nil, fmt.Errorf("app: attach audio: %w", err)
	}
	// A replacement closes the old bridge before the new one is installed,
	// so the detector is never fed from two dispatch goroutines at once.
	// The capture reference carries over since live audio never stops
	// being wanted.
	if old := s.bridge.Swap(nil); old != nil {
		s.reapBridge(old)
	}
	s.bridge.Store(bridge)
	if !s.attached {
		if err := s.capture.Acquire(); err != nil {
			s.bridge.Store(nil)
			bridge.Close()
			return nil, fmt.Errorf("app: attach audio: %w", err)
		}
		s.attached = true
	}
	return bridge, nil
}

// DetachAudio drops the connection's reference on the ingest path. The
// bridge itself closes once any in-flight recording window releases its
// reference too.
func (s *Session) DetachAudio() {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	if !s.attached {
		return
	}
	s.attached = false
	if err := s.capture.Release(); err != nil {
		slog.Warn("capture release failed", "session_id", s.id, "err", err)
	}
}

// closeBridge is the capture's zero-reference callback. Reaping runs on its
// own goroutine because Bridge.Close waits for the dispatch goroutine, which
// may itself be blocked posting into the orchestrator mailbox.
func (s *Session) closeBridge() error {
	if b := s.bridge.Swap(nil); b != nil {
		go s.reapBridge(b)
	}
	return nil
}

func (s *Session) reapBridge(b *audio.Bridge) {
	b.Close()
	if n := b.Dropped(); n > 0 {
		s.metrics.FramesDropped.Add(context.Background(), int64(n))
		slog.Warn("bridge dropped frames", "session_id", s.id, "count", n)
	}
}

// handleFrame is the bridge's frame handler: it extends the lookback ring,
// runs the detector, and feeds resulting speech events to the orchestrator.
// Invoked from the bridge dispatch goroutine, one frame at a time.
func (s *Session) handleFrame(f audio.Frame) {
	s.ring.Write(f.Samples)

	events, m, err := s.det.ProcessFrame(s.ctx, f)
	if err != nil {
		// Model failure is fatal to the session.
		if ferr := s.orch.Fail(err); ferr != nil && !errors.Is(ferr, session.ErrStopped) {
			slog.Warn("fail signal not delivered", "session_id", s.id, "err", ferr)
		}
		return
	}
	s.metrics.VADInferenceDuration.Record(s.ctx, m.InferenceLatency.Seconds())

	// Gauges carry only the latest value, so one report per interval is
	// enough; the state machine still evaluates every hop.
	if now := time.Now(); now.Sub(s.lastHopReport) >= hopReportInterval {
		s.lastHopReport = now
		s.metrics.RecordVADHop(s.ctx, m.Smoothed, m.Raw, int64(m.State),
			m.SpeechDuration.Seconds(), m.SilenceDuration.Seconds())
	}

	for _, ev := range events {
		if err := s.orch.HandleSpeech(ev); err != nil {
			if !errors.Is(err, session.ErrStopped) {
				slog.Warn("speech event not delivered", "session_id", s.id, "err", err)
			}
			return
		}
	}
}

// close tears the session down: ingest first, then the orchestrator. The
// bridge is reaped unconditionally; a recording window's capture reference
// does not outlive its session.
func (s *Session) close() {
	s.DetachAudio()
	if b := s.bridge.Swap(nil); b != nil {
		s.reapBridge(b)
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(closeWait):
		slog.Warn("orchestrator did not stop in time", "session_id", s.id)
	}
}

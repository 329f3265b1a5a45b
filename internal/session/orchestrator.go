// Package session contains the per-session orchestrator: a single-goroutine
// actor that owns all session state and serializes every event — speech
// starts and ends from the detector, sequenced control events from the
// client, timer fires, reconciliation calls — through one mailbox.
//
// The orchestrator never mutates state outside its event loop. Collaborators
// post messages and, for queries, wait on a reply channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxnote/voxnote/internal/notes"
	"github.com/voxnote/voxnote/internal/observe"
	"github.com/voxnote/voxnote/internal/transcript"
	"github.com/voxnote/voxnote/internal/vad"
	"github.com/voxnote/voxnote/pkg/audio"
	"github.com/voxnote/voxnote/pkg/provider/stt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrStopped is returned when a message is posted to an orchestrator whose
// event loop has exited.
var ErrStopped = errors.New("session: orchestrator stopped")

// Default orchestration parameters.
const (
	defaultCooldown           = 2 * time.Second
	defaultFirstSpeechTimeout = 30 * time.Second
	defaultHeartbeatTimeout   = 15 * time.Second
	defaultMaxReconnects      = 10
	defaultReconnectBackoff   = 1 * time.Second
	defaultMaxBackoff         = 30 * time.Second
	defaultReplayLimit        = 100
	defaultPreRoll            = 300 * time.Millisecond
	defaultPostPad            = 200 * time.Millisecond
	defaultWindowWaitTimeout  = 1 * time.Second
	defaultMailboxDepth       = 64
)

// Config holds the orchestrator tunables. Zero values take defaults.
type Config struct {
	// SessionID identifies the session in logs, events, and notes.
	SessionID string

	// SampleRate of the audio in the lookback buffer. Defaults to 16 kHz.
	SampleRate int

	// Cooldown is the quiet period after a segment before re-listening.
	Cooldown time.Duration

	// FirstSpeechTimeout auto-stops the session if no speech is detected
	// after it starts observing.
	FirstSpeechTimeout time.Duration

	// HeartbeatTimeout is the maximum silence from the client's liveness
	// signal before declaring disconnection.
	HeartbeatTimeout time.Duration

	// MaxReconnectAttempts bounds how long a disconnected session waits for
	// the client to come back before entering the terminal error state.
	MaxReconnectAttempts int

	// ReconnectBackoff is the initial wait between reconnect checks; it
	// doubles each attempt up to MaxReconnectBackoff.
	ReconnectBackoff time.Duration

	// MaxReconnectBackoff caps the reconnect backoff.
	MaxReconnectBackoff time.Duration

	// ReplayLimit bounds both the outbound replay buffer and the largest
	// sequence gap a reconciliation may bridge without a reset.
	ReplayLimit int

	// PreRoll is the audio kept before the detected speech start, clamped to
	// what the buffer still retains.
	PreRoll time.Duration

	// PostPad is the audio appended after the detected speech end.
	PostPad time.Duration

	// WindowWaitTimeout bounds the wait for post-pad samples; on timeout the
	// segment is truncated at the write head instead of failing.
	WindowWaitTimeout time.Duration

	// MailboxDepth is the event queue capacity.
	MailboxDepth int
}

// withDefaults returns a copy of cfg with zero values replaced.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DetectorSampleRate
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.FirstSpeechTimeout <= 0 {
		c.FirstSpeechTimeout = defaultFirstSpeechTimeout
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = defaultMaxBackoff
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = defaultReplayLimit
	}
	if c.PreRoll <= 0 {
		c.PreRoll = defaultPreRoll
	}
	if c.PostPad <= 0 {
		c.PostPad = defaultPostPad
	}
	if c.WindowWaitTimeout <= 0 {
		c.WindowWaitTimeout = defaultWindowWaitTimeout
	}
	if c.MailboxDepth <= 0 {
		c.MailboxDepth = defaultMailboxDepth
	}
	return c
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	// Ring is the session's lookback buffer. Required.
	Ring *audio.Ring

	// Transcriber handles closed recording windows. Required.
	Transcriber stt.Provider

	// ProviderName labels transcription metrics and notes.
	ProviderName string

	// Guard drops near-duplicate consecutive transcripts. May be nil.
	Guard *transcript.DuplicateGuard

	// Sink persists accepted notes. Required.
	Sink notes.Sink

	// Metrics records orchestration telemetry. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Subscriber receives outbound sequenced events. Called from the
	// orchestrator goroutine, so it must not block. May be nil.
	Subscriber func(SequencedEvent)

	// Capture is the session's shared live-audio handle. The orchestrator
	// holds a reference for the span of each recording window so the ingest
	// path is not torn down while post-pad samples are still wanted. May be
	// nil.
	Capture *audio.Capture
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	State            State
	LastSeq          int64
	LastEmitted      int64
	SegmentsRecorded int64
	IgnoredCooldown  int64
	SequenceGaps     int64
	ReconnectAttempt int
}

// recordingWindow marks an open capture span in the lookback buffer.
type recordingWindow struct {
	startSample uint64
	startedAt   time.Time
}

type msgKind int

const (
	msgClient msgKind = iota
	msgSpeech
	msgTimer
	msgFatal
	msgReconcile
	msgStats
)

type reconcileReq struct {
	clientLast int64
	reply      chan Reconciliation
}

type message struct {
	kind      msgKind
	client    ClientEvent
	speech    vad.Event
	purpose   timerPurpose
	gen       uint64
	fatal     error
	reconcile *reconcileReq
	statsCh   chan Stats
}

// Orchestrator is the per-session state machine actor.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mailbox  chan message
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Everything below is owned by the Run goroutine.
	state           State
	tracker         Tracker
	timers          timerSet
	window          *recordingWindow
	replay          []SequencedEvent
	attempt         int
	backoff         time.Duration
	segments        int64
	ignoredCooldown int64
	sequenceGaps    int64
}

// New creates an orchestrator in the Idle state. Call [Orchestrator.Run] to
// start its event loop.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Ring == nil {
		return nil, errors.New("session: Deps.Ring is required")
	}
	if deps.Transcriber == nil {
		return nil, errors.New("session: Deps.Transcriber is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("session: Deps.Sink is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     slog.With("session_id", cfg.SessionID),
		mailbox: make(chan message, cfg.MailboxDepth),
		done:    make(chan struct{}),
		state:   Idle,
	}, nil
}

// Run drives the event loop until ctx is cancelled. It tears down all timers
// and waits for in-flight segment pipelines before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.stopOnce.Do(func() { close(o.done) })
		o.timers.cancelAll()
		o.deps.Ring.Reset()
		o.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-o.mailbox:
			o.handle(ctx, m)
		}
	}
}

// post delivers a message to the event loop, failing if the loop has exited.
func (o *Orchestrator) post(m message) error {
	select {
	case o.mailbox <- m:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

// Deliver submits a sequenced client control event.
func (o *Orchestrator) Deliver(ev ClientEvent) error {
	return o.post(message{kind: msgClient, client: ev})
}

// HandleSpeech submits a detector speech event.
func (o *Orchestrator) HandleSpeech(ev vad.Event) error {
	return o.post(message{kind: msgSpeech, speech: ev})
}

// Fail moves the session to the terminal error state. Used for fatal
// collaborator failures such as a speech-confidence model error.
func (o *Orchestrator) Fail(err error) error {
	return o.post(message{kind: msgFatal, fatal: err})
}

// Reconcile compares the server's last applied sequence number against the
// client-reported one and returns the resync verdict. When the session is
// Disconnected, a reconcile also reattaches the client and resumes
// observing.
func (o *Orchestrator) Reconcile(ctx context.Context, clientLast int64) (Reconciliation, error) {
	req := &reconcileReq{clientLast: clientLast, reply: make(chan Reconciliation, 1)}
	if err := o.post(message{kind: msgReconcile, reconcile: req}); err != nil {
		return Reconciliation{}, err
	}
	select {
	case rec := <-req.reply:
		return rec, nil
	case <-ctx.Done():
		return Reconciliation{}, ctx.Err()
	case <-o.done:
		return Reconciliation{}, ErrStopped
	}
}

// Stats returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if err := o.post(message{kind: msgStats, statsCh: ch}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-o.done:
		return Stats{}, ErrStopped
	}
}

// handle dispatches one mailbox message. Runs on the Run goroutine.
func (o *Orchestrator) handle(ctx context.Context, m message) {
	switch m.kind {
	case msgClient:
		o.handleClient(ctx, m.client)
	case msgSpeech:
		o.handleSpeech(ctx, m.speech)
	case msgTimer:
		if !o.timers.live(m.purpose, m.gen) {
			return
		}
		o.timers.expire(m.purpose)
		o.handleTimer(m.purpose)
	case msgFatal:
		o.toError(m.fatal)
	case msgReconcile:
		m.reconcile.reply <- o.handleReconcile(m.reconcile.clientLast)
	case msgStats:
		m.statsCh <- Stats{
			State:            o.state,
			LastSeq:          o.tracker.Last(),
			LastEmitted:      o.tracker.Emitted(),
			SegmentsRecorded: o.segments,
			IgnoredCooldown:  o.ignoredCooldown,
			SequenceGaps:     o.sequenceGaps,
			ReconnectAttempt: o.attempt,
		}
	}
}

// handleClient validates the event's sequence number, then applies it.
func (o *Orchestrator) handleClient(ctx context.Context, ev ClientEvent) {
	outcome, gap := o.tracker.Observe(ev.Seq)
	switch outcome {
	case Duplicate:
		o.log.Debug("discarding replayed client event", "seq", ev.Seq, "kind", ev.Kind)
		return
	case GapApplied:
		o.sequenceGaps += gap
		o.deps.Metrics.RecordSequenceGap(ctx, gap)
		o.log.Warn("sequence gap in client events",
			"seq", ev.Seq, "gap", gap, "kind", ev.Kind)
		o.emit(Event{Type: EventSequenceGap, Gap: gap})
	}

	switch ev.Kind {
	case ClientStartObserving:
		o.startObserving()
	case ClientStop:
		o.stop()
	case ClientHeartbeat:
		o.heartbeat()
	default:
		o.log.Warn("unknown client event kind", "kind", ev.Kind, "seq", ev.Seq)
	}
}

func (o *Orchestrator) startObserving() {
	if o.state != Idle {
		o.log.Debug("start_observing ignored", "state", o.state)
		return
	}
	o.setState(Observing)
	o.scheduleTimer(timerFirstSpeechGuard, o.cfg.FirstSpeechTimeout)
	o.scheduleTimer(timerHeartbeat, o.cfg.HeartbeatTimeout)
	o.emit(Event{Type: EventStatusChanged, State: o.state.String()})
}

func (o *Orchestrator) stop() {
	if o.state == Idle {
		return
	}
	o.timers.cancelAll()
	o.discardWindow("stopped")
	o.setState(Idle)
	o.emit(Event{Type: EventStatusChanged, State: o.state.String()})
}

func (o *Orchestrator) heartbeat() {
	switch o.state {
	case Observing, Recording, Cooldown:
		o.scheduleTimer(timerHeartbeat, o.cfg.HeartbeatTimeout)
	default:
		o.log.Debug("heartbeat ignored", "state", o.state)
	}
}

// handleSpeech applies a detector event to the state machine.
func (o *Orchestrator) handleSpeech(ctx context.Context, ev vad.Event) {
	switch ev.Type {
	case vad.SpeechStart:
		switch o.state {
		case Observing:
			o.openWindow(ctx, ev)
		case Recording:
			// Already recording; the window simply extends.
		case Cooldown:
			o.ignoredCooldown++
			o.deps.Metrics.IgnoredCooldown.Add(ctx, 1)
			o.log.Debug("speech start during cooldown ignored",
				"timestamp", ev.Timestamp)
		default:
			o.log.Debug("speech start ignored", "state", o.state)
		}
	case vad.SpeechEnd:
		if o.state != Recording {
			o.log.Debug("speech end ignored", "state", o.state, "reason", ev.Reason)
			return
		}
		o.closeWindow(ctx, ev)
	}
}

// openWindow enters Recording: the window start is the current write head
// minus the pre-roll, clamped to what the buffer still retains.
func (o *Orchestrator) openWindow(ctx context.Context, ev vad.Event) {
	head := o.deps.Ring.TotalWritten()
	pre := o.samplesFor(o.cfg.PreRoll)
	start := uint64(0)
	if head > pre {
		start = head - pre
	}
	if earliest := o.deps.Ring.EarliestRetained(); start < earliest {
		start = earliest
	}
	o.window = &recordingWindow{startSample: start, startedAt: time.Now()}
	if o.deps.Capture != nil {
		if err := o.deps.Capture.Acquire(); err != nil {
			o.log.Warn("capture acquire failed", "error", err)
		}
	}

	o.timers.cancel(timerFirstSpeechGuard)
	o.setState(Recording)
	o.deps.Metrics.ActiveRecordings.Add(ctx, 1)
	o.emit(Event{
		Type:       EventSpeechStarted,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp,
	})
}

// closeWindow leaves Recording for Cooldown. The segment pipeline runs on its
// own goroutine so transcription never stalls the event loop.
func (o *Orchestrator) closeWindow(ctx context.Context, ev vad.Event) {
	win := o.window
	o.window = nil
	o.deps.Metrics.ActiveRecordings.Add(ctx, -1)

	if ev.Reason == vad.EndTooShort {
		// Blips below the minimum speech duration vanish silently: no
		// event, no cooldown, straight back to listening.
		o.log.Debug("segment below minimum speech duration, discarding",
			"duration", ev.Duration)
		o.releaseCapture()
		o.setState(Observing)
		return
	}

	o.setState(Cooldown)
	o.scheduleTimer(timerCooldown, o.cfg.Cooldown)
	o.emit(Event{
		Type:       EventSpeechEnded,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp,
		Reason:     string(ev.Reason),
		Duration:   ev.Duration,
	})

	end := o.deps.Ring.TotalWritten() + o.samplesFor(o.cfg.PostPad)
	o.segments++
	o.deps.Metrics.SegmentsRecorded.Add(ctx, 1)
	o.deps.Metrics.SegmentDuration.Record(ctx, ev.Duration.Seconds())

	o.wg.Add(1)
	go o.captureSegment(ctx, win, end)
}

// captureSegment waits out the post-pad, reads the window from the lookback
// buffer, and runs the transcription pipeline. Runs on its own goroutine.
func (o *Orchestrator) captureSegment(ctx context.Context, win *recordingWindow, end uint64) {
	defer o.wg.Done()
	defer o.releaseCapture()

	err := o.deps.Ring.WaitForSamples(ctx, end, o.cfg.WindowWaitTimeout)
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrWaitTimeout):
		// Best effort: take what was written and move on.
		truncated := o.deps.Ring.TotalWritten()
		o.log.Warn("post-pad wait timed out, truncating segment",
			"wanted", end, "got", truncated)
		end = truncated
	default:
		o.log.Error("recording window wait failed", "error", err)
		return
	}
	if end <= win.startSample {
		o.log.Warn("recording window is empty", "start", win.startSample, "end", end)
		return
	}

	samples, err := o.deps.Ring.Read(win.startSample, end)
	if err != nil {
		o.log.Error("recording window read failed", "error", err)
		return
	}

	o.transcribeSegment(ctx, win, stt.Segment{Samples: samples, SampleRate: o.cfg.SampleRate})
}

// transcribeSegment runs segment audio through transcription, the quality
// gate, the duplicate guard, and finally the note sink. Every rejection along
// the way is a soft failure: log, count, discard.
func (o *Orchestrator) transcribeSegment(ctx context.Context, win *recordingWindow, seg stt.Segment) {
	ctx, span := observe.StartSpan(ctx, "voxnote.segment.transcribe",
		trace.WithAttributes(
			attribute.String("session_id", o.cfg.SessionID),
			attribute.String("provider", o.deps.ProviderName),
			attribute.Float64("audio_seconds", seg.DurationSeconds()),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := o.deps.Transcriber.Transcribe(ctx, seg)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.deps.Metrics.RecordTranscription(ctx, o.deps.ProviderName, status, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		o.deps.Metrics.RecordProviderError(ctx, o.deps.ProviderName, "stt")
		o.log.Error("transcription failed", "provider", o.deps.ProviderName, "error", err)
		return
	}

	words := make([]transcript.WordTimestamp, len(res.Words))
	for i, w := range res.Words {
		words[i] = transcript.WordTimestamp{Word: w.Word, Start: w.Start, End: w.End}
	}
	verdict := transcript.Evaluate(res.Text, words, res.DurationSeconds)
	if verdict.IsHallucination {
		o.deps.Metrics.RecordHallucinationReject(ctx, verdict.Check)
		o.log.Info("transcript rejected by quality gate",
			"reason", verdict.Reason,
			"compression_ratio", verdict.Metrics.CompressionRatio,
			"repetition_ratio", verdict.Metrics.RepetitionRatio,
		)
		return
	}

	if o.deps.Guard != nil {
		if dup, similarity := o.deps.Guard.Check(res.Text); dup {
			o.deps.Metrics.RecordHallucinationReject(ctx, "duplicate")
			o.log.Info("near-duplicate transcript discarded", "similarity", similarity)
			return
		}
	}

	note := notes.Note{
		SessionID:     o.cfg.SessionID,
		Text:          res.Text,
		Provider:      o.deps.ProviderName,
		RecordedAt:    win.startedAt,
		AudioDuration: time.Duration(seg.DurationSeconds() * float64(time.Second)),
	}
	if err := o.deps.Sink.CreateNote(ctx, note); err != nil {
		o.log.Error("note creation failed", "error", err)
		return
	}
	o.deps.Metrics.NotesCreated.Add(ctx, 1)
	o.log.Info("note created", "chars", len(res.Text), "audio_duration", note.AudioDuration)
}

// handleTimer applies an accepted timer fire.
func (o *Orchestrator) handleTimer(p timerPurpose) {
	switch p {
	case timerCooldown:
		if o.state != Cooldown {
			return
		}
		o.setState(Observing)
		o.emit(Event{Type: EventStatusChanged, State: o.state.String()})

	case timerFirstSpeechGuard:
		if o.state != Observing {
			return
		}
		o.timers.cancelAll()
		o.setState(Idle)
		o.log.Info("no speech detected, auto-stopping")
		o.emit(Event{Type: EventAutoStop, State: o.state.String()})

	case timerHeartbeat:
		switch o.state {
		case Observing, Recording, Cooldown:
			o.toDisconnected()
		}

	case timerReconnect:
		if o.state != Disconnected {
			return
		}
		o.attempt++
		if o.attempt >= o.cfg.MaxReconnectAttempts {
			o.toError(fmt.Errorf(
				"session: client did not reattach after %d attempts", o.attempt))
			return
		}
		o.log.Info("waiting for client to reattach",
			"attempt", o.attempt,
			"max_attempts", o.cfg.MaxReconnectAttempts,
			"backoff", o.backoff,
		)
		o.backoff *= 2
		if o.backoff > o.cfg.MaxReconnectBackoff {
			o.backoff = o.cfg.MaxReconnectBackoff
		}
		o.scheduleTimer(timerReconnect, o.backoff)
	}
}

// toDisconnected reacts to a heartbeat lapse: all timers are cancelled, any
// open window is abandoned, and the session waits for the client with
// exponential backoff between attempts.
func (o *Orchestrator) toDisconnected() {
	o.timers.cancelAll()
	o.discardWindow("heartbeat lapsed")
	o.setState(Disconnected)
	o.attempt = 0
	o.backoff = o.cfg.ReconnectBackoff
	o.scheduleTimer(timerReconnect, o.backoff)
	o.log.Warn("client heartbeat lapsed", "timeout", o.cfg.HeartbeatTimeout)
	o.emit(Event{Type: EventDisconnected, State: o.state.String()})
}

// handleReconcile resolves a reconciliation request. A disconnected session
// additionally reattaches and resumes observing; the server-side state stays
// authoritative either way.
func (o *Orchestrator) handleReconcile(clientLast int64) Reconciliation {
	rec := o.tracker.Reconcile(clientLast, o.cfg.ReplayLimit)
	if rec.Status == Replay {
		for _, se := range o.replay {
			if se.Seq > clientLast {
				rec.Events = append(rec.Events, se)
			}
		}
	}

	o.log.Info("sequence reconciliation",
		"server_seq", o.tracker.Emitted(),
		"client_seq", clientLast,
		"gap", rec.Gap,
		"status", rec.Status,
	)

	switch {
	case o.state == Disconnected:
		o.setState(Reconnecting)
		o.timers.cancel(timerReconnect)
		o.attempt = 0
		o.setState(Observing)
		o.scheduleTimer(timerHeartbeat, o.cfg.HeartbeatTimeout)
		o.emit(Event{
			Type:   EventStatusChanged,
			State:  o.state.String(),
			Reason: string(rec.Status),
		})
	case rec.Status == ResetRequired && o.state == Recording:
		// The client's notion of the open window cannot be trusted across an
		// unrecoverable gap. Abort the window and re-derive client state from
		// the server snapshot instead of guessing.
		o.discardWindow("unrecoverable sequence gap")
		o.timers.cancel(timerCooldown)
		o.setState(Observing)
		o.emit(Event{
			Type:   EventStatusChanged,
			State:  o.state.String(),
			Reason: string(rec.Status),
		})
	}
	return rec
}

// toError is the terminal transition; only an external restart leaves it.
func (o *Orchestrator) toError(cause error) {
	o.timers.cancelAll()
	o.discardWindow("fatal error")
	o.setState(ErrorState)
	o.log.Error("session entered terminal error state", "error", cause)
	o.emit(Event{Type: EventError, State: o.state.String(), Reason: cause.Error()})
}

// discardWindow abandons an open recording window without transcribing it.
func (o *Orchestrator) discardWindow(why string) {
	if o.window == nil {
		return
	}
	o.log.Info("abandoning open recording window", "cause", why)
	o.window = nil
	o.deps.Metrics.ActiveRecordings.Add(context.Background(), -1)
	o.releaseCapture()
}

// releaseCapture drops the recording window's live-audio reference.
func (o *Orchestrator) releaseCapture() {
	if o.deps.Capture == nil {
		return
	}
	if err := o.deps.Capture.Release(); err != nil {
		o.log.Warn("capture release failed", "error", err)
	}
}

// setState records a state transition.
func (o *Orchestrator) setState(next State) {
	if o.state == next {
		return
	}
	o.log.Debug("state transition", "from", o.state, "to", next)
	o.state = next
}

// scheduleTimer replaces the purpose's live timer with a new one that posts
// back into the mailbox on expiry.
func (o *Orchestrator) scheduleTimer(p timerPurpose, d time.Duration) {
	o.timers.schedule(p, d, func(purpose timerPurpose, gen uint64) {
		_ = o.post(message{kind: msgTimer, purpose: purpose, gen: gen})
	})
}

// emit stamps the event with the next outbound sequence number, buffers it
// for replay, and hands it to the subscriber.
func (o *Orchestrator) emit(ev Event) {
	se := SequencedEvent{Seq: o.tracker.NextEmit(), Event: ev}
	o.replay = append(o.replay, se)
	if excess := len(o.replay) - o.cfg.ReplayLimit; excess > 0 {
		o.replay = o.replay[excess:]
	}
	if o.deps.Subscriber != nil {
		o.deps.Subscriber(se)
	}
}

// samplesFor converts a duration to a sample count at the session rate.
func (o *Orchestrator) samplesFor(d time.Duration) uint64 {
	return uint64(int64(d) * int64(o.cfg.SampleRate) / int64(time.Second))
}

// Package gateway exposes the voxnote session API over HTTP and WebSocket.
//
// Clients create a session with POST /v1/sessions, then attach to it via
// GET /v1/sessions/{id}/ws. On the socket, binary messages carry audio
// (raw little-endian 16 kHz mono PCM by default, or 48 kHz stereo Opus when
// ?codec=opus) and text messages carry JSON control events. Outbound session
// events are JSON text messages stamped with the session sequence number.
//
// A reconnecting client passes ?last_seq=N; the gateway reconciles the
// sequence state before resuming and sends the verdict (synced, replay with
// the missed events, or reset_required) as the first message.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"layeh.com/gopus"

	"github.com/voxnote/voxnote/internal/notes"
	"github.com/voxnote/voxnote/internal/session"
	"github.com/voxnote/voxnote/pkg/audio"
)

// Opus input is fixed at the WebRTC capture format: 48 kHz stereo, 20 ms
// packets.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate * 20 / 1000 // samples per channel per packet
)

// outboundQueueDepth bounds the per-connection event queue. A client that
// cannot drain its socket loses events rather than stalling the orchestrator;
// the sequence protocol lets it detect and recover the loss.
const outboundQueueDepth = 256

// Codec identifies the binary audio format on the socket.
type Codec string

const (
	// CodecPCM16 is raw little-endian int16 mono at 16 kHz.
	CodecPCM16 Codec = "pcm16"

	// CodecOpus is Opus-compressed 48 kHz stereo.
	CodecOpus Codec = "opus"
)

// Session is the per-session surface the gateway drives. Implemented by the
// application's session manager.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Deliver submits a sequenced client control event.
	Deliver(ev session.ClientEvent) error

	// Reconcile compares the client's last seen sequence number against the
	// server's and returns the catch-up verdict.
	Reconcile(ctx context.Context, clientLast int64) (session.Reconciliation, error)

	// SetSubscriber installs the outbound event receiver. Pass nil to detach.
	// The function is called from the orchestrator goroutine and must not block.
	SetSubscriber(fn func(session.SequencedEvent))

	// AttachAudio opens the audio ingest path for a producer at sourceRate,
	// replacing any previous one.
	AttachAudio(sourceRate int) (*audio.Bridge, error)

	// DetachAudio closes the current audio ingest path.
	DetachAudio()
}

// SessionStore manages session lifecycles for the gateway.
type SessionStore interface {
	Create(ctx context.Context) (Session, error)
	Get(id string) (Session, bool)
	Remove(ctx context.Context, id string) error
	Notes(ctx context.Context, id string, limit int) ([]notes.Note, error)
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithOriginPatterns sets the host patterns allowed to open WebSocket
// connections cross-origin. Without it, only same-origin requests pass the
// browser origin check.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// Handler serves the session HTTP and WebSocket endpoints.
type Handler struct {
	store          SessionStore
	originPatterns []string
}

// New creates a Handler backed by store.
func New(store SessionStore, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("gateway: session store must not be nil")
	}
	h := &Handler{store: store}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Register adds the session routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.deleteSession)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", h.serveSocket)
	mux.HandleFunc("GET /v1/sessions/{id}/notes", h.listNotes)
}

// ─── REST endpoints ──────────────────────────────────────────────────────────

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Create(r.Context())
	if err != nil {
		slog.Error("create session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.store.Notes(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": list})
}

// ─── WebSocket endpoint ──────────────────────────────────────────────────────

// clientMessage is the inbound JSON control frame.
type clientMessage struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
}

// reconcileMessage is the first outbound frame after a reconnect attach.
type reconcileMessage struct {
	Type string `json:"type"`
	session.Reconciliation
}

func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	codec := Codec(r.URL.Query().Get("codec"))
	if codec == "" {
		codec = CodecPCM16
	}
	if codec != CodecPCM16 && codec != CodecOpus {
		writeError(w, http.StatusBadRequest, "unknown codec")
		return
	}

	var lastSeq int64 = -1
	if s := r.URL.Query().Get("last_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "last_seq must be a non-negative integer")
			return
		}
		lastSeq = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	log := slog.With("session_id", id, "codec", codec)
	ctx := r.Context()

	// Reconnecting client: settle the sequence state before any new events.
	if lastSeq >= 0 {
		rec, err := sess.Reconcile(ctx, lastSeq)
		if err != nil {
			log.Warn("reconcile failed", "err", err)
			conn.Close(websocket.StatusInternalError, "reconcile failed")
			return
		}
		msg := reconcileMessage{Type: "reconcile", Reconciliation: rec}
		if err := writeWS(ctx, conn, msg); err != nil {
			return
		}
		log.Info("client reconciled", "status", rec.Status, "gap", rec.Gap, "replayed", len(rec.Events))
	}

	sourceRate := audio.DetectorSampleRate
	var decoder *gopus.Decoder
	if codec == CodecOpus {
		decoder, err = gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			log.Error("opus decoder init failed", "err", err)
			conn.Close(websocket.StatusInternalError, "decoder init failed")
			return
		}
		sourceRate = opusSampleRate
	}

	bridge, err := sess.AttachAudio(sourceRate)
	if err != nil {
		log.Error("audio attach failed", "err", err)
		conn.Close(websocket.StatusInternalError, "audio attach failed")
		return
	}
	defer sess.DetachAudio()

	// Outbound events flow through a bounded queue so a slow socket never
	// blocks the orchestrator.
	events := make(chan session.SequencedEvent, outboundQueueDepth)
	sess.SetSubscriber(func(ev session.SequencedEvent) {
		select {
		case events <- ev:
		default:
			log.Warn("outbound event queue full, dropping", "seq", ev.Seq, "type", ev.Event.Type)
		}
	})
	defer sess.SetSubscriber(nil)

	log.Info("client attached")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.readLoop(gctx, conn, sess, bridge, decoder, log)
	})
	g.Go(func() error {
		return writeLoop(gctx, conn, events)
	})

	err = g.Wait()
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		log.Info("client detached")
	default:
		log.Warn("client connection failed", "err", err)
	}
}

// readLoop pumps inbound frames: binary audio into the bridge, JSON control
// events into the session.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess Session, bridge *audio.Bridge, decoder *gopus.Decoder, log *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			samples, err := decodeAudio(data, decoder)
			if err != nil {
				log.Warn("bad audio frame, dropping", "err", err)
				continue
			}
			bridge.Push(samples)

		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn("bad control frame, dropping", "err", err)
				continue
			}
			kind := session.ClientKind(msg.Type)
			switch kind {
			case session.ClientStartObserving, session.ClientStop, session.ClientHeartbeat:
			default:
				log.Warn("unknown control event, dropping", "type", msg.Type)
				continue
			}
			if err := sess.Deliver(session.ClientEvent{Seq: msg.Seq, Kind: kind}); err != nil {
				return fmt.Errorf("gateway: deliver %s: %w", kind, err)
			}
		}
	}
}

// writeLoop forwards outbound session events as JSON text frames.
func writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan session.SequencedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := writeWS(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

// decodeAudio converts one binary message into normalized mono samples at the
// connection's source rate.
func decodeAudio(data []byte, decoder *gopus.Decoder) ([]float32, error) {
	if decoder == nil {
		if len(data)%2 != 0 {
			return nil, errors.New("gateway: pcm16 payload has odd length")
		}
		return audio.Int16ToFloat32(audio.BytesToInt16(data)), nil
	}
	pcm, err := decoder.Decode(data, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("gateway: opus decode: %w", err)
	}
	return audio.Int16ToFloat32(audio.StereoToMonoInt16(pcm)), nil
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

func writeWS(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal outbound frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

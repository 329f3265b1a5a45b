package session

// Outcome classifies how an inbound sequence number relates to the last one
// applied.
type Outcome int

const (
	// Applied means the number was the expected successor and the event
	// should be applied.
	Applied Outcome = iota

	// Duplicate means the number was already seen; discard the event without
	// error. Replaying a sequence number never double-applies its event.
	Duplicate

	// GapApplied means one or more numbers were skipped. The event is still
	// applied (best effort): UI-visible events were lost in transit but
	// session state is not corrupted.
	GapApplied
)

// ReconcileStatus is the verdict of an explicit reconciliation call.
type ReconcileStatus string

const (
	// Synced means client and server agree on the last sequence number.
	Synced ReconcileStatus = "synced"

	// Replay means the client is behind by a recoverable amount; the
	// reconciliation carries the buffered events to catch it up.
	Replay ReconcileStatus = "replay"

	// ResetRequired means the gap is unrecoverable (too large, or the client
	// claims to be ahead of the server). The client must discard local state
	// and resynchronize from the server's session snapshot.
	ResetRequired ReconcileStatus = "reset_required"
)

// Reconciliation is the result of comparing the server's last applied
// sequence number against a client-reported one.
type Reconciliation struct {
	Status ReconcileStatus `json:"status"`

	// Gap is server minus client. Negative means the client claims to be
	// ahead, which should never happen.
	Gap int64 `json:"gap"`

	// Events holds the buffered outbound events the client missed, oldest
	// first. Populated only when Status is Replay.
	Events []SequencedEvent `json:"events,omitempty"`
}

// Tracker follows the per-session event sequence in both directions.
// Inbound client events are numbered monotonically by the client starting
// at 1; the tracker records the last number applied and classifies each new
// arrival. Outbound server events carry their own counter, also starting at
// 1, advanced by NextEmit; reconciliation compares the client's last
// received number against it.
//
// Tracker is not safe for concurrent use; the orchestrator owns it and calls
// it only from its event loop.
type Tracker struct {
	last    int64
	emitted int64
}

// Last returns the last inbound sequence number applied.
func (t *Tracker) Last() int64 { return t.last }

// Emitted returns the sequence number of the last outbound event.
func (t *Tracker) Emitted() int64 { return t.emitted }

// NextEmit allocates the sequence number for the next outbound event.
func (t *Tracker) NextEmit() int64 {
	t.emitted++
	return t.emitted
}

// Observe classifies sequence number n and advances the tracker for Applied
// and GapApplied outcomes. The returned gap is the number of skipped events
// (zero unless the outcome is GapApplied).
func (t *Tracker) Observe(n int64) (Outcome, int64) {
	switch {
	case n <= t.last:
		return Duplicate, 0
	case n == t.last+1:
		t.last = n
		return Applied, 0
	default:
		gap := n - t.last - 1
		t.last = n
		return GapApplied, gap
	}
}

// Reconcile compares the outbound counter against the last outbound
// sequence number the client reports having received. bufferLimit bounds
// the recoverable gap; anything larger, or a client ahead of the server,
// demands a reset.
func (t *Tracker) Reconcile(clientLast int64, bufferLimit int) Reconciliation {
	gap := t.emitted - clientLast
	switch {
	case gap == 0:
		return Reconciliation{Status: Synced}
	case gap > 0 && gap <= int64(bufferLimit):
		return Reconciliation{Status: Replay, Gap: gap}
	default:
		return Reconciliation{Status: ResetRequired, Gap: gap}
	}
}

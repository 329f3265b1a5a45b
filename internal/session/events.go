package session

import "time"

// State is the orchestrator's lifecycle state. It is owned exclusively by the
// orchestrator goroutine and mutated only through its event loop.
type State int

const (
	// Idle means voice mode is armed but not listening.
	Idle State = iota

	// Observing means the detector is running and the session is waiting for
	// speech.
	Observing

	// Recording means a recording window is open.
	Recording

	// Cooldown is the quiet period after a segment before re-listening.
	Cooldown

	// Disconnected means the client's heartbeat lapsed; the session is
	// waiting for the client to come back.
	Disconnected

	// Reconnecting means a client reattached and sequence reconciliation is
	// in progress.
	Reconnecting

	// ErrorState is terminal until the session is externally restarted.
	ErrorState
)

// String returns the lowercase state name used in logs and status events.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Observing:
		return "observing"
	case Recording:
		return "recording"
	case Cooldown:
		return "cooldown"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// EventType discriminates outbound session events.
type EventType string

const (
	EventSpeechStarted EventType = "speech_started"
	EventSpeechEnded   EventType = "speech_ended"
	EventStatusChanged EventType = "status_changed"
	EventAutoStop      EventType = "auto_stop"
	EventSequenceGap   EventType = "sequence_gap"
	EventError         EventType = "error"
	EventDisconnected  EventType = "disconnected"
)

// Event is one outbound session event. Fields beyond Type are populated per
// event kind; zero values mean "not applicable".
type Event struct {
	Type EventType `json:"type"`

	// State is the session state after the transition (status_changed,
	// auto_stop, disconnected, error).
	State string `json:"state,omitempty"`

	// Confidence and Timestamp carry detector data on speech events.
	Confidence float64       `json:"confidence,omitempty"`
	Timestamp  time.Duration `json:"timestamp,omitempty"`

	// Reason explains speech_ended (natural_end, max_duration, ...) and
	// error events.
	Reason string `json:"reason,omitempty"`

	// Duration is the accumulated speech length on speech_ended.
	Duration time.Duration `json:"duration,omitempty"`

	// Gap is the missing-event count on sequence_gap.
	Gap int64 `json:"gap,omitempty"`
}

// SequencedEvent pairs an outbound event with its server-assigned sequence
// number, monotonically increasing from 1 per session. Delivery to
// subscribers is at-least-once; duplicates after a reconnect are
// discriminated by Seq.
type SequencedEvent struct {
	Seq   int64 `json:"seq"`
	Event Event `json:"event"`
}

// ClientKind discriminates inbound client control events.
type ClientKind string

const (
	// ClientStartObserving arms the session and starts listening.
	ClientStartObserving ClientKind = "start_observing"

	// ClientStop stops listening and returns the session to Idle.
	ClientStop ClientKind = "stop"

	// ClientHeartbeat is the periodic liveness signal.
	ClientHeartbeat ClientKind = "heartbeat"
)

// ClientEvent is one sequenced inbound control event from the client.
type ClientEvent struct {
	Seq  int64      `json:"seq"`
	Kind ClientKind `json:"kind"`
}

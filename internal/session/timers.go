package session

import "time"

// timerPurpose names the orchestrator's timers. Each purpose has at most one
// live handle per session.
type timerPurpose int

const (
	timerCooldown timerPurpose = iota
	timerFirstSpeechGuard
	timerHeartbeat
	timerReconnect
	timerPurposeCount
)

// String returns the timer name used in logs.
func (p timerPurpose) String() string {
	switch p {
	case timerCooldown:
		return "cooldown"
	case timerFirstSpeechGuard:
		return "first_speech_guard"
	case timerHeartbeat:
		return "heartbeat"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// timerSet tracks one live timer handle per purpose. All scheduling goes
// through schedule, which cancels any existing handle of the same purpose
// first: a duplicate uncancelled timer can fire a stale transition after the
// session has moved on, so cancel-before-reschedule is a hard invariant here,
// not ad hoc at call sites.
//
// Expired or cancelled handles are discriminated by generation: each schedule
// bumps the purpose's generation, and a firing callback carries the
// generation it was scheduled under. The orchestrator drops fires whose
// generation is stale.
//
// timerSet is not safe for concurrent use; the orchestrator owns it and calls
// it only from its event loop. The fire callback itself runs on the timer
// goroutine and must only post a message back to the loop.
type timerSet struct {
	timers [timerPurposeCount]*time.Timer
	gens   [timerPurposeCount]uint64
}

// schedule replaces any live timer of the given purpose with a new one firing
// after d. fire receives the purpose and the generation of this handle.
func (s *timerSet) schedule(p timerPurpose, d time.Duration, fire func(timerPurpose, uint64)) {
	s.cancel(p)
	gen := s.gens[p]
	s.timers[p] = time.AfterFunc(d, func() { fire(p, gen) })
}

// cancel stops the live timer of the given purpose, if any, and invalidates
// its generation so an already in-flight fire is dropped.
func (s *timerSet) cancel(p timerPurpose) {
	if t := s.timers[p]; t != nil {
		t.Stop()
		s.timers[p] = nil
	}
	s.gens[p]++
}

// cancelAll cancels every live timer.
func (s *timerSet) cancelAll() {
	for p := timerPurpose(0); p < timerPurposeCount; p++ {
		s.cancel(p)
	}
}

// live reports whether a fire with the given generation is still current.
func (s *timerSet) live(p timerPurpose, gen uint64) bool {
	return s.gens[p] == gen && s.timers[p] != nil
}

// expire marks the purpose's handle as fired so a later cancel has nothing to
// stop. Called by the orchestrator when it accepts a live fire.
func (s *timerSet) expire(p timerPurpose) {
	s.timers[p] = nil
	s.gens[p]++
}

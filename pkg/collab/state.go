package collab

import (
	"sync"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateJoining
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// roomState is the mutable state shared by the stream pump, local change
// notifications and StartSession callers. Holding mu is the equivalent of
// running on the event loop: everything that reads or writes these fields
// does so in one critical section and never across network I/O.
type roomState struct {
	mu sync.Mutex
	// applyMu serializes remote snapshot applies. It is taken before mu and
	// held while the scene runs its listeners, which may take mu themselves.
	applyMu sync.Mutex

	status    SessionState
	sessionID string
	cache     *VersionCache
	// generation bumps on every cache replacement so a caller that released
	// mu around I/O can tell whether the cache moved underneath it.
	generation uint64
}

func newRoomState() *roomState {
	return &roomState{cache: NewVersionCache()}
}

func (s *roomState) replaceCacheLocked(mapping map[string]int64) {
	s.cache.SetAll(mapping)
	s.generation++
}

func (s *roomState) activeSessionLocked() (string, bool) {
	if s.status != StateActive || s.sessionID == "" {
		return "", false
	}
	return s.sessionID, true
}

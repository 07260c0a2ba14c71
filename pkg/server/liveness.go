package server

import "github.com/NicolasHaas/chatrelay/pkg/model"

// DefaultStaleThreshold is how far the global sequence may move past a
// session's last message before that session is treated as gone.
const DefaultStaleThreshold = 3

// Liveness infers silent participants from the global sequence counter.
//
// The counter is shared by all sessions, so a quiet session can be evicted
// only because others were chatty. This is a coarse stand-in for a heartbeat.
type Liveness struct {
	Threshold uint64
}

// NewLiveness returns a tracker; thresholds below 1 use DefaultStaleThreshold.
func NewLiveness(threshold int) Liveness {
	if threshold < 1 {
		threshold = DefaultStaleThreshold
	}
	return Liveness{Threshold: uint64(threshold)}
}

// Stale reports whether s has fallen Threshold or more messages behind the
// current (not yet advanced) global sequence.
func (l Liveness) Stale(st *State, s *model.Session) bool {
	if s.LastSeenSequence > st.Sequence {
		return false
	}
	return st.Sequence-s.LastSeenSequence >= l.Threshold
}

// Advance moves the global sequence forward by one accepted message.
func (l Liveness) Advance(st *State) {
	st.Sequence++
}

// Touch records that s produced the message that last advanced the sequence.
func (l Liveness) Touch(st *State, s *model.Session) {
	s.LastSeenSequence = st.Sequence
}

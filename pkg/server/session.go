package server

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// ErrNicknameTaken is returned when a join names an active nickname.
var ErrNicknameTaken = errors.New("server: nickname already taken")

// Registry maps nicknames to active sessions. At most one session exists per
// nickname; removing it is the only way to free the name.
type Registry struct {
	sessions map[string]*model.Session // nickname -> session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Register creates a session for nickname bound to endpoint, with its last
// seen sequence set to seq. It fails with ErrNicknameTaken if the nickname is
// already active.
func (r *Registry) Register(nickname string, endpoint net.Addr, seq uint64) (*model.Session, error) {
	if _, exists := r.sessions[nickname]; exists {
		return nil, ErrNicknameTaken
	}
	sess := &model.Session{
		ID:               uuid.NewString(),
		Nickname:         nickname,
		Endpoint:         endpoint,
		LastSeenSequence: seq,
		JoinedAt:         r.now(),
	}
	r.sessions[nickname] = sess
	return sess, nil
}

// Lookup retrieves a session by nickname.
func (r *Registry) Lookup(nickname string) (*model.Session, bool) {
	sess, ok := r.sessions[nickname]
	return sess, ok
}

// Remove deletes a session. Removing an absent nickname is a no-op; the
// result reports whether a session was removed.
func (r *Registry) Remove(nickname string) bool {
	if _, ok := r.sessions[nickname]; !ok {
		return false
	}
	delete(r.sessions, nickname)
	return true
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// All returns all active sessions (snapshot). Order is unspecified.
func (r *Registry) All() []*model.Session {
	result := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

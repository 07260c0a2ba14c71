package model

import (
	"net"
	"time"
)

// Session represents one active participant (in-memory only).
type Session struct {
	ID               string // random UUID, correlates logs, transcript rows and events
	Nickname         string
	Endpoint         net.Addr
	LastSeenSequence uint64
	JoinedAt         time.Time
}

// EndpointString returns the endpoint as text, or "" when unset.
func (s *Session) EndpointString() string {
	if s.Endpoint == nil {
		return ""
	}
	return s.Endpoint.String()
}

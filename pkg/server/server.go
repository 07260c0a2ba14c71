// Package server implements the chat relay: a single loop that reads UDP
// datagrams, tracks nickname sessions and fans chat lines out to everyone.
package server

import (
	"context"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/events"
	"github.com/NicolasHaas/chatrelay/pkg/store"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of both and will Close() them when Run returns.
// Nil values disable the feature.
type Dependencies struct {
	Transcript store.Transcript
	Events     events.Publisher
}

// Server is the chat relay.
type Server struct {
	cfg        Config
	state      *State
	liveness   Liveness
	dispatcher *Dispatcher
	metrics    *Metrics
	transcript store.Transcript
	events     events.Publisher
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		state:      NewState(),
		liveness:   NewLiveness(cfg.StaleThreshold),
		metrics:    NewMetrics(),
		transcript: deps.Transcript,
		events:     deps.Events,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
	if s.transcript == nil {
		s.transcript = store.Discard{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	return s
}

// State returns the relay state. Only safe to read while the loop is stopped.
func (s *Server) State() *State {
	return s.state
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

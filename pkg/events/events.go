// Package events mirrors relay membership changes and chat lines onto a
// message bus so other services can follow the room without joining it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// DefaultSubjectPrefix prefixes every subject, e.g. "chatrelay.joined".
const DefaultSubjectPrefix = "chatrelay"

// Publisher sends relay events somewhere. Publish must not block the relay
// loop for long; failures are reported, never retried.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) error { return nil }
func (Nop) Close() error                               { return nil }

// Subject maps an event kind to its subject suffix.
func Subject(prefix string, kind model.EntryKind) string {
	var suffix string
	switch kind {
	case model.EntryJoin:
		suffix = "joined"
	case model.EntryLeave:
		suffix = "left"
	case model.EntryEvict:
		suffix = "evicted"
	case model.EntryChat:
		suffix = "chat"
	case model.EventRejected:
		suffix = "rejected"
	default:
		suffix = "other"
	}
	return prefix + "." + suffix
}

// Encode returns the wire body for an event.
func Encode(ev model.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: marshal: %w", err)
	}
	return data, nil
}

// conn is the subset of *nats.Conn used by NATS, so tests can swap it.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	nc     conn
	prefix string
}

// DialNATS connects to url and returns a publisher using prefix for subjects.
func DialNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("chatrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	slog.Info("event mirror connected", "url", nc.ConnectedUrl(), "prefix", prefix)
	return newNATS(nc, prefix), nil
}

func newNATS(nc conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{nc: nc, prefix: prefix}
}

// Publish encodes ev and publishes it. The NATS client buffers the write, so
// this does not wait for the server.
func (n *NATS) Publish(_ context.Context, ev model.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(Subject(n.prefix, ev.Kind), data); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}

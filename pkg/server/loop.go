package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Serve runs the relay loop on conn until ctx is cancelled, conn is closed,
// the registry empties with ExitWhenEmpty set, or a read fails for good.
// Each datagram is fully handled, broadcasts included, before the next read.
// Serve closes conn when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, conn PacketConn) error {
	s.dispatcher = NewDispatcher(conn, s.metrics)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				slog.Warn("relay read timeout", "err", err)
				continue
			}
			return fmt.Errorf("server: read: %w", err)
		}

		if done := s.handleDatagram(ctx, buf[:n], addr); done {
			slog.Info("last participant left, relay stopping")
			return nil
		}
	}
}

// handleDatagram processes one datagram and reports whether the loop should
// stop.
func (s *Server) handleDatagram(ctx context.Context, data []byte, addr net.Addr) bool {
	s.metrics.DatagramsIn.Add(1)
	s.metrics.BytesIn.Add(int64(len(data)))

	if !protocol.ValidText(data) {
		s.metrics.DatagramsMalformed.Add(1)
		slog.Debug("dropping datagram with invalid utf-8", "addr", addr)
		return false
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		s.metrics.DatagramsMalformed.Add(1)
		slog.Debug("dropping malformed datagram", "addr", addr, "err", err)
		return false
	}

	switch protocol.Classify(frame.Payload) {
	case protocol.KindJoin:
		s.handleJoin(ctx, frame.Sender, addr)
	case protocol.KindLeave:
		return s.handleLeave(ctx, frame.Sender, addr)
	default:
		s.handleChat(ctx, frame.Sender, frame.Payload, addr)
	}
	return false
}

func (s *Server) handleJoin(ctx context.Context, nickname string, addr net.Addr) {
	if nickname == "" {
		s.metrics.DatagramsDropped.Add(1)
		slog.Debug("join without nickname, dropping", "addr", addr)
		return
	}
	sess, err := s.state.Registry.Register(nickname, addr, s.state.Sequence)
	if errors.Is(err, ErrNicknameTaken) {
		s.metrics.JoinsRejected.Add(1)
		slog.Info("nickname taken", "nickname", nickname, "addr", addr)
		if err := s.dispatcher.SendTo([]byte(protocol.MarkerNicknameTaken), addr); err != nil {
			slog.Debug("reject send error", "addr", addr, "err", err)
		}
		s.publish(ctx, model.Event{
			Kind:      model.EventRejected,
			Nickname:  nickname,
			Endpoint:  addr.String(),
			Sequence:  s.state.Sequence,
			Timestamp: s.now(),
		})
		return
	}

	s.metrics.JoinsAccepted.Add(1)
	s.syncGauges()
	slog.Info("client connected", "nickname", nickname, "addr", addr, "session", sess.ID)

	s.dispatcher.BroadcastExcept([]byte(protocol.JoinAnnouncement(nickname)), s.state.Registry.All(), nickname)
	if err := s.dispatcher.SendTo([]byte(protocol.WelcomeNotice(nickname)), addr); err != nil {
		slog.Debug("welcome send error", "nickname", nickname, "err", err)
	}
	s.record(ctx, sess, model.EntryJoin, "")
}

func (s *Server) handleLeave(ctx context.Context, nickname string, addr net.Addr) bool {
	sess, ok := s.admit(ctx, nickname, addr)
	if !ok {
		return false
	}
	s.liveness.Advance(s.state)
	s.state.Registry.Remove(nickname)
	s.metrics.Leaves.Add(1)
	s.syncGauges()
	slog.Info("client disconnected", "nickname", nickname, "addr", addr, "session", sess.ID)
	s.record(ctx, sess, model.EntryLeave, "")

	return s.cfg.ExitWhenEmpty && s.state.Registry.Len() == 0
}

func (s *Server) handleChat(ctx context.Context, nickname, payload string, addr net.Addr) {
	sess, ok := s.admit(ctx, nickname, addr)
	if !ok {
		return
	}
	s.liveness.Advance(s.state)
	sess.Endpoint = addr

	line := protocol.ChatLine(nickname, payload)
	d := s.dispatcher.Broadcast([]byte(line), s.state.Registry.All())
	s.liveness.Touch(s.state, sess)
	s.metrics.ChatMessages.Add(1)
	s.syncGauges()
	slog.Debug("relayed chat", "nickname", nickname, "sent", d.Sent, "failed", d.Failed)
	s.record(ctx, sess, model.EntryChat, payload)
}

// admit resolves the session behind a non-registration message and applies
// the liveness rule. Stale sessions are evicted silently.
func (s *Server) admit(ctx context.Context, nickname string, addr net.Addr) (*model.Session, bool) {
	sess, ok := s.state.Registry.Lookup(nickname)
	if !ok {
		s.metrics.DatagramsDropped.Add(1)
		slog.Debug("message from unknown nickname", "nickname", nickname, "addr", addr)
		return nil, false
	}
	if s.cfg.PinEndpoints && sess.EndpointString() != addr.String() {
		s.metrics.DatagramsDropped.Add(1)
		slog.Debug("source mismatch, dropping", "nickname", nickname, "addr", addr, "endpoint", sess.Endpoint)
		return nil, false
	}
	if s.liveness.Stale(s.state, sess) {
		s.state.Registry.Remove(nickname)
		s.metrics.Evictions.Add(1)
		s.syncGauges()
		slog.Info("client timed out", "nickname", nickname, "addr", addr,
			"sequence", s.state.Sequence, "last_seen", sess.LastSeenSequence)
		s.record(ctx, sess, model.EntryEvict, "")
		return nil, false
	}
	return sess, true
}

func (s *Server) syncGauges() {
	s.metrics.ActiveSessions.Store(int64(s.state.Registry.Len()))
	s.metrics.Sequence.Store(int64(s.state.Sequence)) //nolint:gosec // counter stays far below 1<<63
}

// record archives an entry and mirrors it as an event. Failures are logged
// and counted; they never affect the relay.
func (s *Server) record(ctx context.Context, sess *model.Session, kind model.EntryKind, body string) {
	e := model.Entry{
		SessionID: sess.ID,
		Nickname:  sess.Nickname,
		Kind:      kind,
		Body:      body,
		Endpoint:  sess.EndpointString(),
		Sequence:  s.state.Sequence,
		CreatedAt: s.now(),
	}
	if err := s.transcript.Record(ctx, &e); err != nil {
		s.metrics.TranscriptErrors.Add(1)
		slog.Warn("transcript write failed", "kind", kind, "nickname", sess.Nickname, "err", err)
	}
	s.publish(ctx, model.EntryEvent(e))
}

func (s *Server) publish(ctx context.Context, ev model.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.metrics.EventErrors.Add(1)
		slog.Warn("event publish failed", "kind", ev.Kind, "nickname", ev.Nickname, "err", err)
	}
}

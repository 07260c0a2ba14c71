package server

import (
	"log/slog"
	"net"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// PacketConn is the part of net.PacketConn the relay needs.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Delivery counts the outcome of one fan-out.
type Delivery struct {
	Sent   int
	Failed int
}

// Dispatcher writes payloads to session endpoints. Delivery is best-effort:
// a failed write is logged and skipped, never returned to the relay loop.
type Dispatcher struct {
	conn    PacketConn
	metrics *Metrics
}

// NewDispatcher creates a dispatcher writing through conn.
func NewDispatcher(conn PacketConn, metrics *Metrics) *Dispatcher {
	return &Dispatcher{conn: conn, metrics: metrics}
}

// SendTo writes payload to a single endpoint.
func (d *Dispatcher) SendTo(payload []byte, addr net.Addr) error {
	if _, err := d.conn.WriteTo(payload, addr); err != nil {
		d.metrics.DeliveriesFailed.Add(1)
		return err
	}
	d.metrics.DeliveriesSent.Add(1)
	d.metrics.BytesOut.Add(int64(len(payload)))
	return nil
}

// Broadcast sends payload to every session, the sender of a chat line included.
func (d *Dispatcher) Broadcast(payload []byte, sessions []*model.Session) Delivery {
	return d.BroadcastExcept(payload, sessions, "")
}

// BroadcastExcept sends payload to every session except the one named skip.
// An empty skip excludes nobody.
func (d *Dispatcher) BroadcastExcept(payload []byte, sessions []*model.Session, skip string) Delivery {
	var res Delivery
	for _, sess := range sessions {
		if skip != "" && sess.Nickname == skip {
			continue
		}
		if sess.Endpoint == nil {
			continue
		}
		if err := d.SendTo(payload, sess.Endpoint); err != nil {
			slog.Debug("broadcast send error", "nickname", sess.Nickname, "addr", sess.Endpoint, "err", err)
			res.Failed++
			continue
		}
		res.Sent++
	}
	return res
}

// Package client implements a chat participant: it joins the relay under a
// nickname, then runs a send task and a receive task over one UDP socket.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

var (
	// ErrNicknameTaken is returned by Join when the relay already has a
	// participant with the requested nickname.
	ErrNicknameTaken = errors.New("client: nickname already taken")

	// ErrNotJoined is returned by Send and Run before a successful Join.
	ErrNotJoined = errors.New("client: not joined")
)

// Participant is one chat client bound to a relay.
type Participant struct {
	conn     *net.UDPConn
	relay    *net.UDPAddr
	nickname string
	pending  string // nickname of a join that timed out before its reply

	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial opens a UDP socket towards the relay at addr.
func Dial(addr string) (*Participant, error) {
	relay, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve relay addr: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, relay)
	if err != nil {
		return nil, fmt.Errorf("client: dial relay: %w", err)
	}

	// Increase buffer sizes
	_ = conn.SetReadBuffer(256 * 1024)
	_ = conn.SetWriteBuffer(256 * 1024)

	return &Participant{conn: conn, relay: relay}, nil
}

// Nickname returns the nickname accepted by the relay, or "" before Join.
func (p *Participant) Nickname() string {
	return p.nickname
}

// LocalAddr returns the participant's UDP endpoint.
func (p *Participant) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Join asks the relay to register nickname and waits for its answer.
// It returns the welcome notice, or ErrNicknameTaken if the relay refused.
// A deadline on ctx bounds the wait; without one Join blocks until a reply
// arrives or ctx is cancelled.
//
// A join that timed out may still have succeeded on the relay. The relay
// answers joins in order, so the next Join reads that late answer first:
// a late welcome for the same nickname is taken as success, one for another
// nickname is released with a quit, and a late rejection is skipped.
func (p *Participant) Join(ctx context.Context, nickname string) (string, error) {
	data, err := protocol.EncodeChecked(nickname, protocol.MarkerJoin)
	if err != nil {
		return "", fmt.Errorf("client: join: %w", err)
	}
	if _, err := p.conn.Write(data); err != nil {
		return "", fmt.Errorf("client: send join: %w", err)
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = p.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetReadDeadline(time.Now()) })
	defer func() {
		stop()
		_ = p.conn.SetReadDeadline(time.Time{})
	}()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			var ne net.Error
			switch {
			case ctx.Err() != nil:
				p.pending = nickname
				return "", fmt.Errorf("client: join: %w", ctx.Err())
			case hasDeadline && errors.As(err, &ne) && ne.Timeout():
				p.pending = nickname
				return "", fmt.Errorf("client: join: %w", context.DeadlineExceeded)
			default:
				return "", fmt.Errorf("client: read join reply: %w", err)
			}
		}

		reply := string(buf[:n])
		pending := p.pending
		switch {
		case reply == protocol.WelcomeNotice(nickname):
			p.pending = ""
			p.nickname = nickname
			slog.Info("joined chat", "nickname", nickname, "relay", p.relay.String())
			return reply, nil
		case pending != "" && reply == protocol.WelcomeNotice(pending):
			p.pending = ""
			p.release(pending)
		case protocol.IsNicknameTaken(reply):
			if pending != "" {
				p.pending = ""
				continue
			}
			slog.Debug("nickname rejected", "nickname", nickname)
			return "", ErrNicknameTaken
		default:
			slog.Debug("ignoring datagram while joining", "reply", reply)
		}
	}
}

// release quits a session registered by an abandoned join.
func (p *Participant) release(nickname string) {
	slog.Info("releasing nickname from timed out join", "nickname", nickname)
	if _, err := p.conn.Write(protocol.Encode(nickname, protocol.MarkerQuit)); err != nil {
		slog.Debug("release send error", "nickname", nickname, "err", err)
	}
}

// Send frames text under the participant's nickname and writes it.
func (p *Participant) Send(text string) error {
	if p.nickname == "" {
		return ErrNotJoined
	}
	data, err := protocol.EncodeChecked(p.nickname, text)
	if err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	if _, err := p.conn.Write(data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Leave tells the relay the participant is quitting.
func (p *Participant) Leave() error {
	return p.Send(protocol.MarkerQuit)
}

// Run starts the send and receive tasks and blocks until one of them ends.
//
// The send task writes each non-blank line of in as a chat message; a quit
// line is sent and ends the session, and so does the end of in, after
// sending a quit. The receive task copies every relayed line except the
// nickname marker to out. Whichever task finishes first closes the socket,
// which unblocks the other. Cancelling ctx sends a quit and returns nil.
func (p *Participant) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if p.nickname == "" {
		return ErrNotJoined
	}

	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)
	go func() { sendDone <- p.sendLines(in) }()
	go func() { recvDone <- p.receive(out) }()

	var err error
	select {
	case err = <-sendDone:
		_ = p.Close()
		<-recvDone
	case err = <-recvDone:
		_ = p.Close()
	case <-ctx.Done():
		if lerr := p.Leave(); lerr != nil {
			slog.Debug("leave on cancel", "err", lerr)
		}
		_ = p.Close()
		<-recvDone
	}
	return err
}

func (p *Participant) sendLines(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := p.Send(line); err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				slog.Warn("message too long, not sent", "bytes", len(line), "max", protocol.MaxDatagramSize)
				continue
			}
			if p.closed.Load() {
				return nil
			}
			return err
		}
		if protocol.IsQuit(line) {
			slog.Info("left chat", "nickname", p.nickname)
			return nil
		}
	}
	if p.closed.Load() {
		return nil
	}

	// Input ended without an explicit quit.
	leaveErr := p.Leave()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("client: read input: %w", err)
	}
	return leaveErr
}

func (p *Participant) receive(out io.Writer) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			if p.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("client: receive: %w", err)
		}

		line := string(buf[:n])
		if protocol.IsNicknameTaken(line) {
			continue
		}
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			return fmt.Errorf("client: write output: %w", err)
		}
	}
}

// Close closes the socket. It is safe to call more than once.
func (p *Participant) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.conn.Close()
	})
	return err
}

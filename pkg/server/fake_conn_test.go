package server

import (
	"errors"
	"net"
	"sync"
)

type datagram struct {
	data []byte
	addr net.Addr
}

// fakeConn is an in-memory PacketConn. Reads come from inbox; writes are
// recorded per destination address.
type fakeConn struct {
	inbox chan datagram

	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan datagram, 64),
		sent:   make(map[string][]string),
		fail:   make(map[string]bool),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d, ok := <-c.inbox:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		return copy(p, d.data), d.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[addr.String()] {
		return 0, errors.New("fake: unreachable")
	}
	c.sent[addr.String()] = append(c.sent[addr.String()], string(p))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) received(addr net.Addr) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent[addr.String()]...)
}

func (c *fakeConn) last(addr net.Addr) string {
	got := c.received(addr)
	if len(got) == 0 {
		return ""
	}
	return got[len(got)-1]
}

func (c *fakeConn) failTo(addr net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[addr.String()] = true
}

func (c *fakeConn) push(addr net.Addr, data []byte) {
	c.inbox <- datagram{data: data, addr: addr}
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

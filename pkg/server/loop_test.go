package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
	"github.com/NicolasHaas/chatrelay/pkg/store"
)

type recordingPublisher struct {
	events []model.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type relayHarness struct {
	srv  *Server
	conn *fakeConn
	ts   *store.MemoryStore
	pub  *recordingPublisher
}

func newTestServer(t *testing.T, cfg Config) *relayHarness {
	t.Helper()
	h := &relayHarness{
		conn: newFakeConn(),
		ts:   store.NewMemory(),
		pub:  &recordingPublisher{},
	}
	h.srv = New(cfg, Dependencies{Transcript: h.ts, Events: h.pub})
	h.srv.dispatcher = NewDispatcher(h.conn, h.srv.metrics)
	return h
}

// send feeds one framed datagram to the relay and reports whether it stopped.
func (h *relayHarness) send(addr net.Addr, nickname, payload string) bool {
	return h.srv.handleDatagram(context.Background(), protocol.Encode(nickname, payload), addr)
}

func (h *relayHarness) join(t *testing.T, addr net.Addr, nickname string) {
	t.Helper()
	h.send(addr, nickname, protocol.MarkerJoin)
	if _, ok := h.srv.state.Registry.Lookup(nickname); !ok {
		t.Fatalf("join %q: not registered", nickname)
	}
}

func (h *relayHarness) kinds() []model.EntryKind {
	entries, _ := h.ts.List(context.Background(), model.EntryFilter{})
	var out []model.EntryKind
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

var (
	aliceAddr = udpAddr(5001)
	bobAddr   = udpAddr(5002)
	otherAddr = udpAddr(5003)
)

func TestJoinAloneGetsWelcomeOnly(t *testing.T) {
	h := newTestServer(t, DefaultConfig())

	h.join(t, aliceAddr, "alice")

	want := []string{protocol.WelcomeNotice("alice")}
	if diff := cmp.Diff(want, h.conn.received(aliceAddr)); diff != "" {
		t.Errorf("alice received mismatch (-want +got):\n%s", diff)
	}
	sess, _ := h.srv.state.Registry.Lookup("alice")
	if sess.LastSeenSequence != 0 {
		t.Errorf("LastSeenSequence = %d, want 0", sess.LastSeenSequence)
	}
	if h.srv.metrics.JoinsAccepted.Load() != 1 || h.srv.metrics.ActiveSessions.Load() != 1 {
		t.Errorf("metrics joins=%d active=%d", h.srv.metrics.JoinsAccepted.Load(), h.srv.metrics.ActiveSessions.Load())
	}
}

func TestJoinAnnouncedToOthers(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")

	if got := h.conn.last(aliceAddr); got != protocol.JoinAnnouncement("bob") {
		t.Errorf("alice last = %q", got)
	}
	want := []string{protocol.WelcomeNotice("bob")}
	if diff := cmp.Diff(want, h.conn.received(bobAddr)); diff != "" {
		t.Errorf("bob received mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateNicknameRejected(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	h.send(otherAddr, "alice", protocol.MarkerJoin)

	if diff := cmp.Diff([]string{protocol.MarkerNicknameTaken}, h.conn.received(otherAddr)); diff != "" {
		t.Errorf("rejected endpoint received mismatch (-want +got):\n%s", diff)
	}
	if h.srv.state.Registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", h.srv.state.Registry.Len())
	}
	sess, _ := h.srv.state.Registry.Lookup("alice")
	if sess.EndpointString() != aliceAddr.String() {
		t.Errorf("alice endpoint = %s, want %s", sess.EndpointString(), aliceAddr)
	}
	if h.srv.metrics.JoinsRejected.Load() != 1 {
		t.Errorf("JoinsRejected = %d", h.srv.metrics.JoinsRejected.Load())
	}
	last := h.pub.events[len(h.pub.events)-1]
	if last.Kind != model.EventRejected || last.Nickname != "alice" || last.Endpoint != otherAddr.String() {
		t.Errorf("last event = %+v", last)
	}
}

func TestJoinMarkerCaseInsensitive(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.send(aliceAddr, "alice", "{new client request}")
	if _, ok := h.srv.state.Registry.Lookup("alice"); !ok {
		t.Fatal("lower-case join marker not recognised")
	}
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")

	h.send(aliceAddr, "alice", "hi")

	for _, addr := range []net.Addr{aliceAddr, bobAddr} {
		if got := h.conn.last(addr); got != "alice > hi" {
			t.Errorf("%s last = %q, want %q", addr, got, "alice > hi")
		}
	}
	if h.srv.state.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", h.srv.state.Sequence)
	}
	sess, _ := h.srv.state.Registry.Lookup("alice")
	if sess.LastSeenSequence != 1 {
		t.Errorf("alice LastSeenSequence = %d, want 1", sess.LastSeenSequence)
	}
}

func TestChatPayloadWithCommas(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	h.send(aliceAddr, "alice", "one, two, three")

	if got := h.conn.last(aliceAddr); got != "alice > one, two, three" {
		t.Errorf("last = %q", got)
	}
}

func TestLeaveKeepsRelayRunning(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")
	before := len(h.conn.received(bobAddr))

	if stop := h.send(aliceAddr, "alice", protocol.MarkerQuit); stop {
		t.Fatal("relay stopped with bob still present")
	}
	if _, ok := h.srv.state.Registry.Lookup("alice"); ok {
		t.Fatal("alice still registered after quit")
	}
	if got := len(h.conn.received(bobAddr)); got != before {
		t.Errorf("leave content was broadcast to bob")
	}
	if h.srv.state.Sequence != 1 {
		t.Errorf("leave did not advance sequence: %d", h.srv.state.Sequence)
	}
}

func TestLeaveLastParticipant(t *testing.T) {
	t.Run("default keeps listening", func(t *testing.T) {
		h := newTestServer(t, DefaultConfig())
		h.join(t, aliceAddr, "alice")
		if stop := h.send(aliceAddr, "alice", "{quit}"); stop {
			t.Fatal("relay stopped although ExitWhenEmpty is off")
		}
		if h.srv.state.Registry.Len() != 0 {
			t.Fatal("registry not empty")
		}
	})

	t.Run("exit when empty", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ExitWhenEmpty = true
		h := newTestServer(t, cfg)
		h.join(t, aliceAddr, "alice")
		if stop := h.send(aliceAddr, "alice", protocol.MarkerQuit); !stop {
			t.Fatal("relay kept running after last participant left")
		}
	})
}

func TestReuseAfterLeave(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.send(aliceAddr, "alice", protocol.MarkerQuit)

	h.send(otherAddr, "alice", protocol.MarkerJoin)

	sess, ok := h.srv.state.Registry.Lookup("alice")
	if !ok || sess.EndpointString() != otherAddr.String() {
		t.Fatalf("rejoin failed: %+v ok=%t", sess, ok)
	}
	if got := h.conn.last(otherAddr); got != protocol.WelcomeNotice("alice") {
		t.Errorf("rejoin reply = %q", got)
	}
}

func TestStaleSessionEvicted(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")

	h.send(aliceAddr, "alice", "first")
	for i := 0; i < 3; i++ {
		h.send(bobAddr, "bob", "chatter")
	}
	bobBefore := len(h.conn.received(bobAddr))
	seqBefore := h.srv.state.Sequence

	h.send(aliceAddr, "alice", "anyone there?")

	if _, ok := h.srv.state.Registry.Lookup("alice"); ok {
		t.Fatal("alice not evicted")
	}
	if got := len(h.conn.received(bobAddr)); got != bobBefore {
		t.Errorf("stale message was relayed to bob")
	}
	if h.srv.state.Sequence != seqBefore {
		t.Errorf("eviction advanced sequence %d -> %d", seqBefore, h.srv.state.Sequence)
	}
	if h.srv.metrics.Evictions.Load() != 1 {
		t.Errorf("Evictions = %d", h.srv.metrics.Evictions.Load())
	}

	// the nickname is free again
	h.send(otherAddr, "alice", protocol.MarkerJoin)
	if _, ok := h.srv.state.Registry.Lookup("alice"); !ok {
		t.Fatal("rejoin after eviction failed")
	}
}

func TestTwoBehindIsNotStale(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")

	h.send(aliceAddr, "alice", "first")
	h.send(bobAddr, "bob", "one")
	h.send(bobAddr, "bob", "two")
	h.send(aliceAddr, "alice", "still here")

	if got := h.conn.last(bobAddr); got != "alice > still here" {
		t.Errorf("bob last = %q", got)
	}
}

func TestStaleThresholdConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleThreshold = 1
	h := newTestServer(t, cfg)
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")

	h.send(bobAddr, "bob", "one")
	h.send(aliceAddr, "alice", "hello")

	if _, ok := h.srv.state.Registry.Lookup("alice"); ok {
		t.Fatal("alice should be stale with threshold 1")
	}
}

func TestStaleLeaveIsEviction(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")
	for i := 0; i < 3; i++ {
		h.send(bobAddr, "bob", "chatter")
	}

	h.send(aliceAddr, "alice", protocol.MarkerQuit)

	if h.srv.metrics.Evictions.Load() != 1 || h.srv.metrics.Leaves.Load() != 0 {
		t.Errorf("evictions=%d leaves=%d", h.srv.metrics.Evictions.Load(), h.srv.metrics.Leaves.Load())
	}
}

func TestMalformedDatagramDropped(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	for _, raw := range []string{"no separator here", "", "al\xffice,hi"} {
		if stop := h.srv.handleDatagram(context.Background(), []byte(raw), otherAddr); stop {
			t.Fatalf("malformed %q stopped the relay", raw)
		}
	}

	if h.srv.metrics.DatagramsMalformed.Load() != 3 {
		t.Errorf("DatagramsMalformed = %d", h.srv.metrics.DatagramsMalformed.Load())
	}
	if len(h.conn.received(otherAddr)) != 0 {
		t.Error("malformed sender got a reply")
	}
	if h.srv.state.Sequence != 0 {
		t.Error("malformed datagram advanced sequence")
	}
}

func TestEmptyNicknameNeverRegistered(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	h.send(otherAddr, "", protocol.MarkerJoin)
	h.send(otherAddr, "", "hello")
	h.send(otherAddr, "", protocol.MarkerQuit)

	if _, ok := h.srv.state.Registry.Lookup(""); ok {
		t.Fatal("empty nickname was registered")
	}
	if h.srv.state.Registry.Len() != 1 {
		t.Errorf("registry len = %d, want 1", h.srv.state.Registry.Len())
	}
	if h.srv.metrics.DatagramsDropped.Load() != 3 || h.srv.metrics.DatagramsMalformed.Load() != 0 {
		t.Errorf("dropped=%d malformed=%d", h.srv.metrics.DatagramsDropped.Load(), h.srv.metrics.DatagramsMalformed.Load())
	}
	if len(h.conn.received(otherAddr)) != 0 {
		t.Error("empty nickname got a reply")
	}
	if got := h.conn.last(aliceAddr); got != protocol.WelcomeNotice("alice") {
		t.Errorf("alice received %q", got)
	}
}

func TestUnknownNicknameDropped(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	h.send(otherAddr, "mallory", "hi")
	h.send(otherAddr, "mallory", protocol.MarkerQuit)

	if h.srv.metrics.DatagramsDropped.Load() != 2 {
		t.Errorf("DatagramsDropped = %d", h.srv.metrics.DatagramsDropped.Load())
	}
	if h.srv.state.Sequence != 0 {
		t.Error("unknown sender advanced sequence")
	}
	if got := h.conn.last(aliceAddr); got != protocol.WelcomeNotice("alice") {
		t.Errorf("alice received %q", got)
	}
}

func TestBroadcastSurvivesSendFailure(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")
	h.conn.failTo(bobAddr)

	h.send(aliceAddr, "alice", "hi")

	if got := h.conn.last(aliceAddr); got != "alice > hi" {
		t.Errorf("alice last = %q", got)
	}
	if h.srv.metrics.DeliveriesFailed.Load() != 1 {
		t.Errorf("DeliveriesFailed = %d", h.srv.metrics.DeliveriesFailed.Load())
	}
}

func TestEndpointFollowsSender(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")

	h.send(otherAddr, "alice", "moved")

	sess, _ := h.srv.state.Registry.Lookup("alice")
	if sess.EndpointString() != otherAddr.String() {
		t.Errorf("endpoint = %s, want %s", sess.EndpointString(), otherAddr)
	}
	if got := h.conn.last(otherAddr); got != "alice > moved" {
		t.Errorf("new endpoint last = %q", got)
	}
}

func TestPinEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PinEndpoints = true
	h := newTestServer(t, cfg)
	h.join(t, aliceAddr, "alice")

	h.send(otherAddr, "alice", "spoofed")
	h.send(otherAddr, "alice", protocol.MarkerQuit)

	if _, ok := h.srv.state.Registry.Lookup("alice"); !ok {
		t.Fatal("spoofed quit removed alice")
	}
	if got := h.conn.last(aliceAddr); got != protocol.WelcomeNotice("alice") {
		t.Errorf("spoofed chat relayed: %q", got)
	}

	h.send(aliceAddr, "alice", "real")
	if got := h.conn.last(aliceAddr); got != "alice > real" {
		t.Errorf("pinned chat not relayed: %q", got)
	}
}

func TestTranscriptAndEvents(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.join(t, aliceAddr, "alice")
	h.join(t, bobAddr, "bob")
	h.send(aliceAddr, "alice", "hi, bob")
	for i := 0; i < 3; i++ {
		h.send(bobAddr, "bob", "x")
	}
	h.send(aliceAddr, "alice", "late")
	h.send(bobAddr, "bob", protocol.MarkerQuit)

	want := []model.EntryKind{
		model.EntryJoin, model.EntryJoin, model.EntryChat,
		model.EntryChat, model.EntryChat, model.EntryChat,
		model.EntryEvict, model.EntryLeave,
	}
	if diff := cmp.Diff(want, h.kinds()); diff != "" {
		t.Errorf("transcript kinds mismatch (-want +got):\n%s", diff)
	}

	chat := model.EntryChat
	entries, err := h.ts.List(context.Background(), model.EntryFilter{Kind: &chat})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries[0].Body != "hi, bob" || entries[0].Sequence != 1 {
		t.Errorf("first chat entry = %+v", entries[0])
	}
	if len(h.pub.events) != len(want) {
		t.Errorf("published %d events, want %d", len(h.pub.events), len(want))
	}
}

func TestSideChannelFailuresAreNonFatal(t *testing.T) {
	h := newTestServer(t, DefaultConfig())
	h.pub.err = errors.New("bus down")
	h.join(t, aliceAddr, "alice")
	h.send(aliceAddr, "alice", "hi")

	if got := h.conn.last(aliceAddr); got != "alice > hi" {
		t.Errorf("alice last = %q", got)
	}
	if h.srv.metrics.EventErrors.Load() != 2 {
		t.Errorf("EventErrors = %d", h.srv.metrics.EventErrors.Load())
	}
}

func TestServeProcessesUntilClosed(t *testing.T) {
	conn := newFakeConn()
	srv := New(DefaultConfig(), Dependencies{})

	conn.push(aliceAddr, protocol.Encode("alice", protocol.MarkerJoin))
	conn.push(bobAddr, protocol.Encode("bob", protocol.MarkerJoin))
	conn.push(otherAddr, []byte("garbage"))
	conn.push(bobAddr, protocol.Encode("bob", "hello"))
	close(conn.inbox)

	if err := srv.Serve(context.Background(), conn); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if srv.State().Registry.Len() != 2 {
		t.Errorf("registry len = %d", srv.State().Registry.Len())
	}
	if got := conn.last(aliceAddr); got != "bob > hello" {
		t.Errorf("alice last = %q", got)
	}
	if srv.Metrics().DatagramsIn.Load() != 4 || srv.Metrics().DatagramsMalformed.Load() != 1 {
		t.Errorf("metrics: %s", srv.Metrics().JSON())
	}
}

func TestServeExitsWhenEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExitWhenEmpty = true
	conn := newFakeConn()
	srv := New(cfg, Dependencies{})

	conn.push(aliceAddr, protocol.Encode("alice", protocol.MarkerJoin))
	conn.push(aliceAddr, protocol.Encode("alice", protocol.MarkerQuit))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), conn) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after the last participant left")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	conn := newFakeConn()
	srv := New(DefaultConfig(), Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, conn) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

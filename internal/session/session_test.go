package session_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pranavahvarun/p2p-chat-system/internal/crypto"
	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
	"github.com/pranavahvarun/p2p-chat-system/internal/session"
	"github.com/pranavahvarun/p2p-chat-system/internal/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*mockTransport)(nil)

// sendAction tells the mock what to do with one outgoing frame.
type sendAction int

const (
	actDeliver sendAction = iota
	actDrop
	actDuplicate
)

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }

type datagram struct {
	frame []byte
	from  net.Addr
}

// mockTransport implements transport.Transport for in-process testing.
// Two linked instances simulate a bidirectional datagram link: frames sent
// by one side appear on the other side's Recv. An onSend hook lets a test
// drop or duplicate individual frames to simulate a lossy network.
type mockTransport struct {
	addr  mockAddr
	peer  *mockTransport
	inbox chan datagram
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	onSend func(frame []byte) sendAction
}

// linkedTransports creates a connected pair of mock transports.
func linkedTransports() (a, b *mockTransport) {
	a = &mockTransport{addr: "peer-a", inbox: make(chan datagram, 256), done: make(chan struct{})}
	b = &mockTransport{addr: "peer-b", inbox: make(chan datagram, 256), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// setOnSend installs the loss-injection hook. Thread-safe.
func (m *mockTransport) setOnSend(fn func(frame []byte) sendAction) {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
}

func (m *mockTransport) Send(frame []byte, _ net.Addr) error {
	select {
	case <-m.done:
		return net.ErrClosed
	default:
	}

	m.mu.Lock()
	fn := m.onSend
	m.mu.Unlock()

	action := actDeliver
	if fn != nil {
		action = fn(frame)
	}
	if action == actDrop {
		return nil
	}

	m.deliver(frame)
	if action == actDuplicate {
		m.deliver(frame)
	}
	return nil
}

// deliver copies the frame into the peer's inbox. Frames for a closed or
// saturated peer vanish, like datagrams on a real network.
func (m *mockTransport) deliver(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	select {
	case <-m.peer.done:
	case m.peer.inbox <- datagram{frame: cp, from: m.addr}:
	default:
	}
}

func (m *mockTransport) Recv() ([]byte, net.Addr, error) {
	select {
	case d := <-m.inbox:
		return d.frame, d.from, nil
	case <-m.done:
		return nil, nil, net.ErrClosed
	}
}

func (m *mockTransport) LocalAddr() net.Addr { return m.addr }

func (m *mockTransport) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testPeer bundles one session with its observation channels.
type testPeer struct {
	tr        *mockTransport
	sess      *session.Session
	delivered chan string
	ended     atomic.Int32
	runErr    chan error
}

// startPeer builds and runs a session over tr. peerAddr pre-seeds the peer
// registry (nil = learn from first contact). Fast retry timings keep the
// retransmission tests short.
func startPeer(t *testing.T, tr *mockTransport, peerAddr net.Addr) *testPeer {
	t.Helper()

	p := &testPeer{
		tr:        tr,
		delivered: make(chan string, 64),
		runErr:    make(chan error, 1),
	}
	p.sess = session.New(tr, crypto.New("test-password"), session.Config{
		PeerAddr:      peerAddr,
		RetryTimeout:  200 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		OnDelivered:   func(plaintext []byte) { p.delivered <- string(plaintext) },
		OnSessionEnded: func() {
			p.ended.Add(1)
		},
	})
	go func() { p.runErr <- p.sess.Run(context.Background()) }()

	t.Cleanup(func() {
		p.sess.Close()
		select {
		case <-p.runErr:
		case <-time.After(5 * time.Second):
			t.Error("session.Run did not return within 5s")
		}
	})
	return p
}

// waitRun blocks until the session's Run returns.
func (p *testPeer) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.runErr:
		p.runErr <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session.Run did not return within 5s")
		return nil
	}
}

// nextDelivered waits for the next delivered message.
func (p *testPeer) nextDelivered(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case msg := <-p.delivered:
		return msg
	case <-time.After(timeout):
		t.Fatal("no message delivered within timeout")
		return ""
	}
}

// expectNoDelivery asserts that nothing is delivered within the window.
func (p *testPeer) expectNoDelivery(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case msg := <-p.delivered:
		t.Fatalf("unexpected delivery: %q", msg)
	case <-time.After(window):
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", timeout, what)
}

// decodeFrame is a test-side decode for Send hooks, which run on session
// goroutines and therefore cannot fail the test directly. Frames our own
// sessions produce always decode; a nil result means "leave it alone".
func decodeFrame(frame []byte) *protocol.Packet {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		return nil
	}
	return pkt
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestInOrderDelivery covers the basic two-peer exchange: A (peer known up
// front) submits "hi" and "there" with no loss; B (peer learned from first
// contact) delivers them in order; A's in-flight table drains to empty.
func TestInOrderDelivery(t *testing.T) {
	trA, trB := linkedTransports()
	a := startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	seq0, err := a.sess.Submit([]byte("hi"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	seq1, err := a.sess.Submit([]byte("there"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if seq0 != 0 || seq1 != 1 {
		t.Errorf("sequence numbers: got %d, %d, want 0, 1", seq0, seq1)
	}

	if got := b.nextDelivered(t, 2*time.Second); got != "hi" {
		t.Errorf("first delivery: got %q, want %q", got, "hi")
	}
	if got := b.nextDelivered(t, 2*time.Second); got != "there" {
		t.Errorf("second delivery: got %q, want %q", got, "there")
	}

	waitFor(t, 2*time.Second, "A's in-flight table drained", func() bool {
		return a.sess.InFlight() == 0
	})
}

// TestMonotonicSequencing verifies that consecutive Submit calls receive
// strictly increasing sequence numbers.
func TestMonotonicSequencing(t *testing.T) {
	trA, trB := linkedTransports()
	a := startPeer(t, trA, trB.LocalAddr())
	startPeer(t, trB, nil)

	var prev uint32
	for i := 0; i < 5; i++ {
		seq, err := a.sess.Submit([]byte("msg"))
		if err != nil {
			t.Fatalf("Submit #%d failed: %v", i, err)
		}
		if i > 0 && seq <= prev {
			t.Errorf("sequence not strictly increasing: %d after %d", seq, prev)
		}
		prev = seq
	}
}

// TestLostAckRetransmit covers the lost-ACK scenario: B's ACK for seq 0 is
// dropped, A retransmits the identical MSG after the timeout, B re-delivers
// nothing (seq 0 already consumed) but emits a fresh ACK, and A's table
// finally drains.
func TestLostAckRetransmit(t *testing.T) {
	trA, trB := linkedTransports()

	var ackDropped atomic.Bool
	trB.setOnSend(func(frame []byte) sendAction {
		pkt := decodeFrame(frame)
		if pkt != nil && pkt.Type == protocol.TypeAck && pkt.SeqNum == 0 && ackDropped.CompareAndSwap(false, true) {
			return actDrop
		}
		return actDeliver
	})

	a := startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	if _, err := a.sess.Submit([]byte("hi")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if got := b.nextDelivered(t, 2*time.Second); got != "hi" {
		t.Errorf("delivery: got %q, want %q", got, "hi")
	}

	// The first ACK vanished, so the entry survives until the retransmitted
	// MSG provokes a second ACK.
	waitFor(t, 3*time.Second, "retransmission drained A's table", func() bool {
		return a.sess.InFlight() == 0
	})

	// The retransmitted MSG must not surface again.
	b.expectNoDelivery(t, 400*time.Millisecond)
}

// TestRetryConvergence verifies delivery through a transport that eats the
// first N copies of a message: with the first 3 sends of seq 0 dropped, the
// 4th attempt still delivers exactly once.
func TestRetryConvergence(t *testing.T) {
	trA, trB := linkedTransports()

	var drops atomic.Int32
	trA.setOnSend(func(frame []byte) sendAction {
		pkt := decodeFrame(frame)
		if pkt != nil && pkt.Type == protocol.TypeMsg && pkt.SeqNum == 0 && drops.Add(1) <= 3 {
			return actDrop
		}
		return actDeliver
	})

	a := startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	if _, err := a.sess.Submit([]byte("persistent")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// 3 drops × 200 ms retry timeout ≈ 600 ms before the surviving copy.
	if got := b.nextDelivered(t, 5*time.Second); got != "persistent" {
		t.Errorf("delivery: got %q, want %q", got, "persistent")
	}
	b.expectNoDelivery(t, 400*time.Millisecond)

	waitFor(t, 3*time.Second, "A's in-flight table drained", func() bool {
		return a.sess.InFlight() == 0
	})
}

// TestDuplicateDelivery verifies at-most-once delivery when the network
// duplicates every frame: B still delivers each message exactly once.
func TestDuplicateDelivery(t *testing.T) {
	trA, trB := linkedTransports()
	trA.setOnSend(func([]byte) sendAction { return actDuplicate })

	a := startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := a.sess.Submit([]byte(text)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		if got := b.nextDelivered(t, 2*time.Second); got != want {
			t.Errorf("delivery: got %q, want %q", got, want)
		}
	}
	b.expectNoDelivery(t, 400*time.Millisecond)
}

// TestOutOfOrderDropped verifies the discard-on-mismatch policy at the
// receiver: a future-sequence MSG is neither delivered nor acknowledged,
// while a replay of an already-consumed MSG is re-acknowledged without
// re-delivery.
func TestOutOfOrderDropped(t *testing.T) {
	trA, trB := linkedTransports()

	// Record every ACK B emits.
	var ackMu sync.Mutex
	var acks []uint32
	trB.setOnSend(func(frame []byte) sendAction {
		pkt := decodeFrame(frame)
		if pkt != nil && pkt.Type == protocol.TypeAck {
			ackMu.Lock()
			acks = append(acks, pkt.SeqNum)
			ackMu.Unlock()
		}
		return actDeliver
	})

	startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	cipher := crypto.New("test-password")
	sealed, err := cipher.Seal([]byte("from the future"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	// Inject a MSG far ahead of B's cursor, bypassing A's session.
	future := protocol.Encode(&protocol.Packet{Type: protocol.TypeMsg, SeqNum: 5, Payload: sealed})
	if err := trA.Send(future, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	b.expectNoDelivery(t, 300*time.Millisecond)
	ackMu.Lock()
	if len(acks) != 0 {
		t.Errorf("future MSG was acknowledged: %v", acks)
	}
	ackMu.Unlock()

	// The expected MSG goes through normally.
	sealed0, err := cipher.Seal([]byte("now"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	first := protocol.Encode(&protocol.Packet{Type: protocol.TypeMsg, SeqNum: 0, Payload: sealed0})
	if err := trA.Send(first, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := b.nextDelivered(t, 2*time.Second); got != "now" {
		t.Errorf("delivery: got %q, want %q", got, "now")
	}

	// A replay of seq 0 is re-acked but not re-delivered.
	if err := trA.Send(first, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	b.expectNoDelivery(t, 300*time.Millisecond)

	waitFor(t, 2*time.Second, "replayed MSG re-acked", func() bool {
		ackMu.Lock()
		defer ackMu.Unlock()
		count := 0
		for _, seq := range acks {
			if seq == 0 {
				count++
			}
		}
		return count == 2
	})
}

// TestSubmitRejections covers the synchronous rejection paths: peer not
// yet known, and the in-flight table at capacity.
func TestSubmitRejections(t *testing.T) {
	t.Run("peer unknown", func(t *testing.T) {
		trA, _ := linkedTransports()
		a := startPeer(t, trA, nil) // nothing inbound, peer never learned

		if _, err := a.sess.Submit([]byte("hello?")); !errors.Is(err, session.ErrPeerUnknown) {
			t.Fatalf("expected ErrPeerUnknown, got %v", err)
		}
	})

	t.Run("table full", func(t *testing.T) {
		trA, trB := linkedTransports()
		// Black-hole everything A sends so no ACK ever returns.
		trA.setOnSend(func([]byte) sendAction { return actDrop })

		const capacity = 4
		a := &testPeer{tr: trA, delivered: make(chan string, 64), runErr: make(chan error, 1)}
		a.sess = session.New(trA, crypto.New("test-password"), session.Config{
			PeerAddr:      trB.LocalAddr(),
			RetryTimeout:  200 * time.Millisecond,
			RetryInterval: 20 * time.Millisecond,
			MaxInFlight:   capacity,
		})
		go func() { a.runErr <- a.sess.Run(context.Background()) }()
		defer func() {
			a.sess.Close()
			<-a.runErr
		}()

		for i := 0; i < capacity; i++ {
			if _, err := a.sess.Submit([]byte("stuck")); err != nil {
				t.Fatalf("Submit #%d failed: %v", i, err)
			}
		}
		if _, err := a.sess.Submit([]byte("one too many")); !errors.Is(err, session.ErrTooManyInFlight) {
			t.Fatalf("expected ErrTooManyInFlight, got %v", err)
		}
	})
}

// TestFinTeardown verifies the teardown handshake: closing A sends a FIN
// that ends B's session too, and OnSessionEnded fires exactly once per side.
func TestFinTeardown(t *testing.T) {
	trA, trB := linkedTransports()
	a := startPeer(t, trA, trB.LocalAddr())
	b := startPeer(t, trB, nil)

	// Traffic in both directions so each side knows its peer.
	if _, err := a.sess.Submit([]byte("hello")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	b.nextDelivered(t, 2*time.Second)

	a.sess.Close()
	a.sess.Close() // idempotent

	if err := a.waitRun(t); err != nil {
		t.Errorf("A's Run returned error: %v", err)
	}
	if err := b.waitRun(t); err != nil {
		t.Errorf("B's Run returned error: %v", err)
	}

	if got := a.ended.Load(); got != 1 {
		t.Errorf("A OnSessionEnded fired %d times, want 1", got)
	}
	if got := b.ended.Load(); got != 1 {
		t.Errorf("B OnSessionEnded fired %d times, want 1", got)
	}
}

// TestFatalTransportError verifies that a transport closed underneath a
// running session terminates it with an error.
func TestFatalTransportError(t *testing.T) {
	trA, trB := linkedTransports()
	a := startPeer(t, trA, trB.LocalAddr())
	startPeer(t, trB, nil)

	trA.Close() // yanked, not a session-initiated shutdown

	if err := a.waitRun(t); err == nil {
		t.Error("expected an error from Run after transport failure, got nil")
	}
}

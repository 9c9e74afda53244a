// Package session implements the reliable-delivery protocol for a single
// two-party chat connection: sequence assignment, the in-flight table,
// acknowledgment processing, timeout retransmission, peer discovery, and
// FIN teardown. The datagram transport and the payload cipher are
// collaborators injected at construction; the session never inspects
// plaintext beyond handing it to the cipher.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
	"github.com/pranavahvarun/p2p-chat-system/internal/transport"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// Protocol timing and capacity defaults, matching the original tool.
const (
	DefaultRetryTimeout  = 2000 * time.Millisecond // age after which an unacked MSG is resent
	DefaultRetryInterval = 100 * time.Millisecond  // retransmit loop polling period
	DefaultMaxInFlight   = 64                      // in-flight table capacity
)

// User-facing rejections reported synchronously by Submit.
var (
	ErrPeerUnknown     = errors.New("peer address not known yet")
	ErrTooManyInFlight = errors.New("too many unacknowledged messages")
	ErrSessionClosed   = errors.New("session is closed")
)

// Cipher seals outgoing payloads and opens incoming ones. Failures are
// surfaced to the user but never perturb sequence or ACK bookkeeping.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Config carries the collaborators and tuning knobs for one Session.
// Zero durations and counts fall back to the protocol defaults.
type Config struct {
	// PeerAddr pre-seeds the peer registry (client mode, where the remote
	// address is known up front). Nil means the peer is learned from the
	// first inbound packet (server mode).
	PeerAddr net.Addr

	// OnDelivered is invoked by the receiver for each in-order message,
	// with the decrypted payload. Delivery is strictly increasing and
	// gap-free by sequence number.
	OnDelivered func(plaintext []byte)

	// OnPeerDiscovered is invoked once, when the peer's address is learned
	// from the first inbound packet. Not invoked for a pre-seeded peer.
	OnPeerDiscovered func(addr net.Addr)

	// OnSessionEnded is invoked exactly once, after the FIN has been sent
	// and both loops have exited.
	OnSessionEnded func()

	RetryTimeout  time.Duration
	RetryInterval time.Duration
	MaxInFlight   int
}

// Session is the protocol state machine for one connection. All former
// per-process protocol state lives here, so independent sessions can
// coexist and be tested in isolation.
type Session struct {
	tr     transport.Transport
	cipher Cipher
	cfg    Config

	flight *flightTable
	peer   *peerRegistry

	// expectedSeq is the strict-order delivery cursor. It is owned
	// exclusively by the receiver goroutine.
	expectedSeq uint32

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu  sync.Mutex
	runErr error
}

// New creates a Session over the given transport. The session assumes
// responsibility for closing the transport at teardown — closing the
// socket is what unblocks a receiver stuck in Recv, so shutdown never
// depends on the peer sending one more packet.
func New(tr transport.Transport, cipher Cipher, cfg Config) *Session {
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	s := &Session{
		tr:     tr,
		cipher: cipher,
		cfg:    cfg,
		flight: newFlightTable(cfg.MaxInFlight),
		peer:   &peerRegistry{},
		done:   make(chan struct{}),
	}
	if cfg.PeerAddr != nil {
		s.peer.observe(cfg.PeerAddr)
	}
	return s
}

// Run starts the receiver and retransmit loops and blocks until the
// session ends: the peer sends FIN, the transport fails, Close is called,
// or ctx is cancelled. On the way out it sends one best-effort FIN, closes
// the transport, joins both loops, and fires OnSessionEnded.
func (s *Session) Run(ctx context.Context) error {
	s.wg.Add(2)
	go s.recvLoop()
	go s.retransmitLoop()

	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}

	s.sendFin()
	s.tr.Close()
	s.wg.Wait()

	if s.cfg.OnSessionEnded != nil {
		s.cfg.OnSessionEnded()
	}
	return s.err()
}

// Close clears the session-alive flag. Both loops observe it at their next
// suspension point. Safe to call multiple times and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done returns a channel closed once the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// InFlight returns the number of messages sent but not yet acknowledged.
func (s *Session) InFlight() int {
	return s.flight.size()
}

// Submit seals plaintext, admits it into the in-flight table, and
// transmits the MSG packet once. The returned sequence number identifies
// the message for the rest of the session. Rejections (ErrPeerUnknown,
// ErrTooManyInFlight, ErrSessionClosed, oversized message) are synchronous
// and have no network effect; the caller decides whether to retry.
func (s *Session) Submit(plaintext []byte) (uint32, error) {
	select {
	case <-s.done:
		return 0, ErrSessionClosed
	default:
	}

	addr, ok := s.peer.get()
	if !ok {
		return 0, ErrPeerUnknown
	}

	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt message: %w", err)
	}
	if len(sealed) > protocol.MaxPayloadSize {
		return 0, fmt.Errorf("message too large: %d bytes sealed (max %d)", len(sealed), protocol.MaxPayloadSize)
	}

	pkt, err := s.flight.admit(sealed, time.Now())
	if err != nil {
		return 0, err
	}
	util.Stats.AddMsgSent()

	// Send once immediately; a failed first send is left to the
	// retransmit loop rather than escalated.
	frame := protocol.Encode(pkt)
	if err := s.tr.Send(frame, addr); err != nil {
		util.LogWarning("initial send of MSG #%d failed: %v (retransmit loop will retry)", pkt.SeqNum, err)
	} else {
		util.Stats.AddSent(len(frame))
	}
	return pkt.SeqNum, nil
}

// sendFin emits the teardown packet once, best-effort: no retry, no ACK
// expected, skipped entirely when the peer was never learned.
func (s *Session) sendFin() {
	addr, ok := s.peer.get()
	if !ok {
		return
	}
	frame := protocol.Encode(&protocol.Packet{Type: protocol.TypeFin, SeqNum: s.flight.finSeq()})
	if err := s.tr.Send(frame, addr); err != nil {
		util.LogDebug("best-effort FIN not sent: %v", err)
		return
	}
	util.Stats.AddSent(len(frame))
}

// fail records the first fatal error and begins shutdown.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.runErr == nil {
		s.runErr = err
	}
	s.errMu.Unlock()
	s.Close()
}

func (s *Session) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}

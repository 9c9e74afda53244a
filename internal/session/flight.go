package session

import (
	"sync"
	"time"

	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
)

// flightEntry tracks one MSG packet that has been sent at least once but
// not yet acknowledged. The packet is kept whole so a retransmission is
// byte-identical to the original send.
type flightEntry struct {
	packet        *protocol.Packet
	sentAt        time.Time
	retransmitted bool
}

// flightTable is the shared table of in-flight messages. The submit path
// and the retransmit loop write to it; the receiver prunes it when ACKs
// arrive. All access is serialized by one mutex; critical sections cover a
// single map operation or scan and never span a network call.
//
// A flat map keyed by sequence (rather than a queue) because ACKs arrive in
// any order relative to admission and removal must be cheap regardless of
// position.
type flightTable struct {
	mu       sync.Mutex
	capacity int
	nextSeq  uint32
	entries  map[uint32]*flightEntry
}

func newFlightTable(capacity int) *flightTable {
	return &flightTable{
		capacity: capacity,
		entries:  make(map[uint32]*flightEntry),
	}
}

// admit allocates the next sequence number, builds the MSG packet, and
// records it as in-flight. Fails with ErrTooManyInFlight when the table is
// at capacity; the caller must not block — the message is dropped and the
// user told to retry later.
func (t *flightTable) admit(payload []byte, now time.Time) (*protocol.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.capacity {
		return nil, ErrTooManyInFlight
	}

	pkt := &protocol.Packet{
		Type:    protocol.TypeMsg,
		SeqNum:  t.nextSeq,
		Payload: payload,
	}
	t.nextSeq++
	t.entries[pkt.SeqNum] = &flightEntry{packet: pkt, sentAt: now}
	return pkt, nil
}

// acknowledge removes the entry for seq if present. A missing entry is a
// duplicate or late ACK and is not an error. Returns the time since the
// last (re)send and whether the entry was acknowledged on its first
// transmission — only such round-trips are valid latency samples.
func (t *flightTable) acknowledge(seq uint32, now time.Time) (rtt time.Duration, firstTry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[seq]
	if !ok {
		return 0, false, false
	}
	delete(t.entries, seq)
	return now.Sub(e.sentAt), !e.retransmitted, true
}

// overdue returns the packets whose last send is older than timeout,
// refreshing each entry's sentAt and marking it retransmitted. The caller
// performs the actual resends after the lock is released.
func (t *flightTable) overdue(timeout time.Duration, now time.Time) []*protocol.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []*protocol.Packet
	for _, e := range t.entries {
		if now.Sub(e.sentAt) > timeout {
			e.sentAt = now
			e.retransmitted = true
			due = append(due, e.packet)
		}
	}
	return due
}

// size returns the current number of in-flight entries.
func (t *flightTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// finSeq returns the next unused sequence number, carried by the FIN packet.
func (t *flightTable) finSeq() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextSeq
}

package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// recvLoop consumes inbound datagrams for the life of the session. It is
// the only goroutine that advances expectedSeq. Malformed datagrams and
// transient receive errors are ignored; a closed transport ends the loop —
// expected during shutdown (Run closes the socket to unblock us), fatal at
// any other time.
func (s *Session) recvLoop() {
	defer s.wg.Done()

	for {
		frame, from, err := s.tr.Recv()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-s.done:
					// Shutdown in progress; the close was ours.
				default:
					s.fail(fmt.Errorf("transport closed underneath the session: %w", err))
				}
				return
			}
			util.LogDebug("transient receive error: %v", err)
			continue
		}
		if len(frame) == 0 {
			continue
		}
		util.Stats.AddRecv(len(frame))

		pkt, err := protocol.Decode(frame)
		if err != nil {
			util.LogDebug("discarding malformed datagram from %s: %v", from, err)
			continue
		}

		// Any kind of packet reveals the peer's address on first contact.
		if s.peer.observe(from) {
			util.LogSuccess("connected: peer is at %s", from)
			if s.cfg.OnPeerDiscovered != nil {
				s.cfg.OnPeerDiscovered(from)
			}
		}

		switch pkt.Type {
		case protocol.TypeMsg:
			s.handleMsg(pkt)
		case protocol.TypeAck:
			s.handleAck(pkt)
		case protocol.TypeFin:
			util.Logf("peer has disconnected, shutting down")
			s.Close()
			return
		default:
			util.LogDebug("discarding packet with unknown type 0x%02x", pkt.Type)
		}
	}
}

// handleMsg enforces strict-order delivery:
//
//   - seq == expected: advance the cursor, ACK, decrypt, deliver. The ACK
//     and cursor advance happen regardless of the decrypt outcome — a
//     cipher failure is the user's problem, not the protocol's.
//   - seq <  expected: already consumed; our earlier ACK was evidently
//     lost, so repeat it. Nothing is re-delivered.
//   - seq >  expected: a gap. No reorder buffer and no ACK — the peer's
//     retransmission timer closes the gap with a fresh copy in order.
func (s *Session) handleMsg(pkt *protocol.Packet) {
	switch {
	case pkt.SeqNum == s.expectedSeq:
		s.expectedSeq++
		s.sendAck(pkt.SeqNum)
		util.Stats.AddMsgRecv()

		plaintext, err := s.cipher.Open(pkt.Payload)
		if err != nil {
			util.LogWarning("failed to decrypt MSG #%d: %v", pkt.SeqNum, err)
			return
		}
		if s.cfg.OnDelivered != nil {
			s.cfg.OnDelivered(plaintext)
		}

	case pkt.SeqNum < s.expectedSeq:
		util.LogDebug("duplicate MSG #%d (expecting #%d), re-acking", pkt.SeqNum, s.expectedSeq)
		util.Stats.AddDupDropped()
		s.sendAck(pkt.SeqNum)

	default:
		util.LogDebug("out-of-order MSG #%d (expecting #%d), dropped", pkt.SeqNum, s.expectedSeq)
		util.Stats.AddDupDropped()
	}
}

// handleAck prunes the in-flight table. An ACK for an unknown sequence is
// a duplicate or a late arrival and is silently ignored.
func (s *Session) handleAck(pkt *protocol.Packet) {
	rtt, firstTry, ok := s.flight.acknowledge(pkt.SeqNum, time.Now())
	if !ok {
		return
	}
	util.LogDebug("ACK #%d received", pkt.SeqNum)
	if firstTry {
		util.Stats.ObserveRTT(rtt)
	}
}

// sendAck emits an acknowledgment for seq to the known peer.
func (s *Session) sendAck(seq uint32) {
	addr, ok := s.peer.get()
	if !ok {
		return
	}
	frame := protocol.Encode(&protocol.Packet{Type: protocol.TypeAck, SeqNum: seq})
	if err := s.tr.Send(frame, addr); err != nil {
		util.LogDebug("failed to send ACK #%d: %v", seq, err)
		return
	}
	util.Stats.AddSent(len(frame))
}

package session

import (
	"time"

	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// retransmitLoop periodically rescans the in-flight table and resends every
// entry older than the retry timeout, byte-identical to the original send.
// Retries are unbounded with no backoff — an entry lives until its ACK
// arrives or the session ends. The overdue scan refreshes sentAt under the
// table lock; the sends below happen outside it.
func (s *Session) retransmitLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			addr, ok := s.peer.get()
			if !ok {
				continue
			}
			for _, pkt := range s.flight.overdue(s.cfg.RetryTimeout, time.Now()) {
				util.Logf("timeout: retrying MSG #%d...", pkt.SeqNum)
				frame := protocol.Encode(pkt)
				if err := s.tr.Send(frame, addr); err != nil {
					util.LogDebug("retransmit of MSG #%d failed: %v", pkt.SeqNum, err)
					continue
				}
				util.Stats.AddSent(len(frame))
				util.Stats.AddRetransmit()
			}

		case <-s.done:
			return
		}
	}
}

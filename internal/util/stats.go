package util

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide message/latency counter.
var Stats = &stats{minRTT: time.Duration(1<<63 - 1)}

type stats struct {
	MsgsSent    atomic.Int64 // cumulative MSG packets admitted for sending
	MsgsRecv    atomic.Int64 // cumulative in-order MSG packets delivered
	BytesSent   atomic.Int64 // cumulative bytes written to the transport
	BytesRecv   atomic.Int64 // cumulative bytes read  from the transport
	Retransmits atomic.Int64 // cumulative timeout-driven resends
	DupsDropped atomic.Int64 // duplicate or out-of-order MSG packets discarded

	// RTT samples are taken only from packets acknowledged on their first
	// transmission; a retransmitted packet's ACK cannot be attributed to a
	// single send.
	mu       sync.Mutex
	rttCount int64
	rttTotal time.Duration
	minRTT   time.Duration
	maxRTT   time.Duration
}

func (s *stats) AddMsgSent()    { s.MsgsSent.Add(1) }
func (s *stats) AddMsgRecv()    { s.MsgsRecv.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }
func (s *stats) AddDupDropped() { s.DupsDropped.Add(1) }

// ObserveRTT records one ACK round-trip sample.
func (s *stats) ObserveRTT(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rttCount++
	s.rttTotal += d
	if d < s.minRTT {
		s.minRTT = d
	}
	if d > s.maxRTT {
		s.maxRTT = d
	}
}

// RTT returns the (min, avg, max) round-trip time over all samples so far.
// All zero when no sample has been recorded yet.
func (s *stats) RTT() (min, avg, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rttCount == 0 {
		return 0, 0, 0
	}
	return s.minRTT, s.rttTotal / time.Duration(s.rttCount), s.maxRTT
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds. Quiet intervals produce no output. It stops when ctx
// is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevRetry int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MsgsSent.Load()
				recv := Stats.MsgsRecv.Load()
				retry := Stats.Retransmits.Load()

				if sent != prevSent || recv != prevRecv || retry != prevRetry {
					min, avg, max := Stats.RTT()
					pterm.DefaultLogger.Info(formatStats(sent, recv, retry, min, avg, max))
				}

				prevSent = sent
				prevRecv = recv
				prevRetry = retry

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(sent, recv, retry int64, min, avg, max time.Duration) string {
	if avg == 0 {
		return fmt.Sprintf("Sent: %d | Recv: %d | Retry: %d | RTT: n/a", sent, recv, retry)
	}
	return fmt.Sprintf("Sent: %d | Recv: %d | Retry: %d | RTT: %s/%s/%s (min/avg/max)",
		sent, recv, retry,
		min.Round(time.Millisecond),
		avg.Round(time.Millisecond),
		max.Round(time.Millisecond),
	)
}

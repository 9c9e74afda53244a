package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN — the tool is designed
// for direct P2P connectivity with zero infrastructure cost.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
	queueSize     = 64         // outgoing and incoming frame channel capacity
)

// Addr is the synthetic peer address of a DataChannel transport. The channel
// has exactly one remote end, so a fixed placeholder satisfies the Transport
// contract and the session's first-contact discovery.
type Addr struct{}

func (Addr) Network() string { return "webrtc" }
func (Addr) String() string  { return "datachannel" }

// WebRTC carries the chat protocol over a pion DataChannel configured
// unordered with zero retransmits — the SCTP layer is deliberately left
// unreliable so the session's own acknowledgment and retransmission
// machinery does the work, same as over UDP.
//
// The lifecycle is governed by the DataChannel state and the context
// passed at construction time.
type WebRTC struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	outbox      chan []byte
	inbox       chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebRTC creates a transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs signaling via the exposed
// SDP/ICE methods; Send and Recv become usable once Ready() fires.
func NewWebRTC(ctx context.Context) (*WebRTC, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}

	// Negotiated mode (ID 0) lets both sides create the channel independently
	// without relying on OnDataChannel. Unordered + maxRetransmits 0 makes the
	// channel a plain lossy datagram pipe.
	ordered := false
	maxRetransmits := uint16(0)
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("chat", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &WebRTC{
		pc:          pc,
		dc:          dc,
		outbox:      make(chan []byte, queueSize),
		inbox:       make(chan []byte, queueSize),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		ctx:         tCtx,
		cancel:      tCancel,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel transport context, which unblocks Recv.
	dc.OnClose(func() {
		util.Logf("DataChannel closed")
		tCancel()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.Logf("PeerConnection state: %s", state.String())
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case t.inbox <- msg.Data:
		default:
			util.Logf("inbound frame queue full, dropping datagram")
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case t.drainSignal <- struct{}{}:
		default:
		}
	})

	go t.sendLoop()

	return t, nil
}

// sendLoop is the single-writer goroutine. It waits for the DataChannel to
// open, then drains the outbox with backpressure awareness.
func (t *WebRTC) sendLoop() {
	select {
	case <-t.openSignal:
	case <-t.ctx.Done():
		return
	}

	for {
		select {
		case frame := <-t.outbox:
			if t.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-t.drainSignal:
				case <-t.ctx.Done():
					return
				}
			}
			if err := t.dc.Send(frame); err != nil {
				util.LogError("failed to send frame over DataChannel: %v", err)
				t.cancel()
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Transport interface
// ---------------------------------------------------------------------------

// Send enqueues one frame for transmission. The destination is ignored —
// a DataChannel has a single remote end. Returns net.ErrClosed once the
// transport is shut down.
func (t *WebRTC) Send(frame []byte, _ net.Addr) error {
	select {
	case t.outbox <- frame:
		return nil
	case <-t.ctx.Done():
		return net.ErrClosed
	}
}

// Recv blocks until one frame arrives or the transport shuts down.
func (t *WebRTC) Recv() ([]byte, net.Addr, error) {
	select {
	case frame := <-t.inbox:
		return frame, Addr{}, nil
	case <-t.ctx.Done():
		return nil, nil, net.ErrClosed
	}
}

// LocalAddr returns the synthetic channel address.
func (t *WebRTC) LocalAddr() net.Addr { return Addr{} }

// Remote returns the peer's synthetic address, usable to pre-seed the
// session's peer registry: once the channel is open the remote end is known.
func (t *WebRTC) Remote() net.Addr { return Addr{} }

// Close shuts down the DataChannel and PeerConnection.
func (t *WebRTC) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ---------------------------------------------------------------------------
// Lifecycle & signaling surface (used by the signaling package)
// ---------------------------------------------------------------------------

// Ready returns a channel closed when the DataChannel is open.
func (t *WebRTC) Ready() <-chan struct{} { return t.openSignal }

// Done returns a channel closed when the transport is shut down.
func (t *WebRTC) Done() <-chan struct{} { return t.ctx.Done() }

// CreateOffer generates an SDP offer.
func (t *WebRTC) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *WebRTC) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *WebRTC) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *WebRTC) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *WebRTC) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *WebRTC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

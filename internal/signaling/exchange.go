package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/pranavahvarun/p2p-chat-system/internal/transport"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// exchange runs the SDP/ICE handshake over an established WebSocket until
// the DataChannel opens. The host creates and sends the offer; the peer
// answers. Both sides trickle ICE candidates as they are gathered.
func exchange(wsConn *websocket.Conn, tr *transport.WebRTC, host bool) error {
	var wsMu sync.Mutex
	wsSend := func(msg message) {
		wsMu.Lock()
		defer wsMu.Unlock()
		if err := wsConn.WriteJSON(msg); err != nil {
			// A write on a WS we already closed after tr.Ready() is not a problem.
			select {
			case <-tr.Ready():
			default:
				util.Logf("signaling send failed: %v", err)
			}
		}
	}

	// Trickle ICE candidates.
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		wsSend(message{Type: msgTypeCandidate, Candidate: string(data)})
	})

	if host {
		offer, err := tr.CreateOffer()
		if err != nil {
			return fmt.Errorf("CreateOffer: %w", err)
		}
		if err := tr.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		wsSend(message{Type: msgTypeOffer, SDP: offer.SDP})
	}

	// Read loop: remote description + ICE candidates.
	errCh := make(chan error, 1)
	go func() {
		errCh <- readLoop(wsConn, tr, wsSend)
	}()

	// Wait for the DataChannel to open, then close the WS.
	select {
	case <-tr.Ready():
		wsConn.Close()
		return nil
	case err := <-errCh:
		// A WS read error after tr.Ready() fired just means we closed it.
		select {
		case <-tr.Ready():
			return nil
		default:
			return fmt.Errorf("signaling read failed: %w", err)
		}
	}
}

// readLoop consumes signaling messages until the WebSocket closes.
func readLoop(wsConn *websocket.Conn, tr *transport.WebRTC, wsSend func(message)) error {
	for {
		var msg message
		if err := wsConn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				util.Logf("SetRemoteDescription failed: %v", err)
				continue
			}
			answer, err := tr.CreateAnswer()
			if err != nil {
				util.Logf("CreateAnswer failed: %v", err)
				continue
			}
			if err := tr.SetLocalDescription(answer); err != nil {
				util.Logf("SetLocalDescription failed: %v", err)
				continue
			}
			wsSend(message{Type: msgTypeAnswer, SDP: answer.SDP})

		case msgTypeAnswer:
			if err := tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				util.Logf("SetRemoteDescription failed: %v", err)
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				util.Logf("failed to parse ICE candidate: %v", err)
				continue
			}
			if err := tr.AddICECandidate(init); err != nil {
				util.Logf("AddICECandidate failed: %v", err)
			}
		}
	}
}

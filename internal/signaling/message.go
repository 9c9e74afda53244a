// Package signaling establishes the WebRTC transport for NAT-traversal
// mode: a short-lived WebSocket rendezvous carries the SDP offer/answer and
// trickle ICE candidates, then closes once the DataChannel is open. Callers
// receive a ready-to-use transport; no WS or SDP detail leaks out.
package signaling

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

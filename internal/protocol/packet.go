// Package protocol defines the packet format and types for the reliable
// chat protocol carried over an unreliable datagram transport.
package protocol

// Packet type constants. Each occupies the full 4-byte kind tag on the wire.
const (
	TypeMsg uint32 = 0x01 // chat message carrying an encrypted payload
	TypeAck uint32 = 0x02 // acknowledgment of a received MSG
	TypeFin uint32 = 0x03 // voluntary session teardown
)

// HeaderSize is the fixed header size: Type(4) + SeqNum(4) + PayloadLen(4).
const HeaderSize = 12

// MaxPayloadSize bounds the payload of a single MSG packet. One datagram
// carries exactly one packet; there is no fragmentation.
const MaxPayloadSize = 1024

// Packet represents a single protocol frame. SeqNum is assigned by the
// sending side at admission time, increases monotonically from 0, and is
// never reused within a session. Payload is only present for TypeMsg and
// is opaque to the protocol (the cipher layer owns its contents).
type Packet struct {
	Type    uint32
	SeqNum  uint32
	Payload []byte
}

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into a datagram-sized byte slice.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	binary.BigEndian.PutUint32(buf[0:4], pkt.Type)
	binary.BigEndian.PutUint32(buf[4:8], pkt.SeqNum)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(pkt.Payload)))
	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a received datagram into a Packet. It fails when the
// frame is shorter than the header, when the declared payload length does
// not match the remaining bytes, or when the payload exceeds MaxPayloadSize.
// Callers treat a decode failure as a malformed datagram and discard it.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	payloadLen := binary.BigEndian.Uint32(data[8:12])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d", payloadLen, MaxPayloadSize)
	}
	if int(payloadLen) != len(data)-HeaderSize {
		return nil, fmt.Errorf("payload length mismatch: header says %d, frame carries %d", payloadLen, len(data)-HeaderSize)
	}
	pkt := &Packet{
		Type:   binary.BigEndian.Uint32(data[0:4]),
		SeqNum: binary.BigEndian.Uint32(data[4:8]),
	}
	if payloadLen > 0 {
		pkt.Payload = make([]byte, payloadLen)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

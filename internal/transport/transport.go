// Package transport provides the blocking datagram primitives the chat
// session runs on. Implementations preserve datagram boundaries: one Send
// produces at most one Recv on the peer, with no delivery or ordering
// guarantee — the reliability layer above owns both.
package transport

import "net"

// Transport is a connectionless, unreliable datagram channel.
//
// Recv blocks until a datagram arrives or the transport is closed; after
// Close it returns an error wrapping net.ErrClosed, which is the session's
// cue that the channel is gone (the cancellation wake-up for a blocked
// receiver). Send and Recv may be called from different goroutines; Send
// itself needs no external serialization.
type Transport interface {
	Send(frame []byte, to net.Addr) error
	Recv() (frame []byte, from net.Addr, err error)
	LocalAddr() net.Addr
	Close() error
}

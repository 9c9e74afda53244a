package transport

import (
	"fmt"
	"net"

	"github.com/pranavahvarun/p2p-chat-system/internal/protocol"
)

// recvBufSize leaves headroom above the maximum frame so an oversized
// datagram is read in full (and then rejected by the codec) rather than
// silently truncated into a plausible-looking frame.
const recvBufSize = protocol.HeaderSize + protocol.MaxPayloadSize + 256

// UDP is the primary transport: a single unconnected UDP socket used for
// both directions. The same implementation serves server mode (bind a
// well-known port, peer unknown until first contact) and client mode
// (bind an ephemeral port, peer address known up front).
type UDP struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket on the given address ("" or ":0" for an
// ephemeral port) and returns it as a Transport.
func ListenUDP(addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket: %w", err)
	}
	return &UDP{conn: conn}, nil
}

// Send writes one datagram to the given peer address.
func (u *UDP) Send(frame []byte, to net.Addr) error {
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("expected *net.UDPAddr, got %T", to)
	}
	_, err := u.conn.WriteToUDP(frame, udpAddr)
	return err
}

// Recv blocks until one datagram arrives and returns its bytes and the
// sender's address. After Close it returns an error wrapping net.ErrClosed.
func (u *UDP) Recv() ([]byte, net.Addr, error) {
	buf := make([]byte, recvBufSize)
	n, from, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], from, nil
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close shuts the socket down, unblocking any pending Recv.
func (u *UDP) Close() error {
	return u.conn.Close()
}

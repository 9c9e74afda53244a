package session

import (
	"net"
	"sync"
)

// peerRegistry holds the remote party's address. It is unset until the
// first inbound packet of any kind, then fixed for the whole session —
// there is no re-learning and no multi-peer support. Client mode seeds it
// up front via Config.PeerAddr.
type peerRegistry struct {
	mu   sync.Mutex
	addr net.Addr
}

// observe records addr as the peer on first contact. Returns true only when
// the address was newly learned; every later call is a no-op.
func (p *peerRegistry) observe(addr net.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addr != nil {
		return false
	}
	p.addr = addr
	return true
}

// get returns the stored peer address, or false while it is still unknown.
func (p *peerRegistry) get() (net.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr, p.addr != nil
}

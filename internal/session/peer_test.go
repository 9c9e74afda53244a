package session

import (
	"net"
	"testing"
)

// TestPeerRegistrySetOnce verifies the one-time discovery contract: the
// first observed address wins and every later observation is a no-op.
func TestPeerRegistrySetOnce(t *testing.T) {
	reg := &peerRegistry{}

	if _, ok := reg.get(); ok {
		t.Fatal("fresh registry reported a known peer")
	}

	first := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	second := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 6000}

	if !reg.observe(first) {
		t.Error("first observe should report a newly learned peer")
	}
	if reg.observe(second) {
		t.Error("second observe should be a no-op")
	}

	got, ok := reg.get()
	if !ok {
		t.Fatal("registry lost the peer address")
	}
	if got.String() != first.String() {
		t.Errorf("stored address: got %s, want %s", got, first)
	}
}

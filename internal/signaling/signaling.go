package signaling

import (
	"context"
	"fmt"

	"github.com/pranavahvarun/p2p-chat-system/internal/transport"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

// EstablishAsHost executes the full host-side signaling flow:
//  1. Start a WS server on wsAddr (":0" for a random port) with a fresh PIN
//  2. Print the port and PIN for the peer
//  3. Wait for the peer to connect
//  4. Perform the SDP/ICE exchange
//  5. Close the WS server once the DataChannel is ready
//  6. Return the ready transport
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.WebRTC, error) {
	pin := generatePIN(4)
	srv := newServer(pin)
	wsPort, err := srv.start(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        WebSocket Signaling Server        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", wsPort)
	fmt.Printf("║  PIN  : %-32s ║\n", pin)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Waiting for the peer to connect...")

	wsConn, err := srv.waitForPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for peer: %w", err)
	}
	defer wsConn.Close()
	util.Logf("peer connected to signaling server")

	tr, err := transport.NewWebRTC(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC transport: %w", err)
	}

	if err := exchange(wsConn, tr, true); err != nil {
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)
	}

	util.Logf("WebRTC DataChannel established, closing WS")
	return tr, nil
}

// EstablishAsClient executes the full client-side signaling flow: connect
// to the host's WS server, answer its offer, and return the ready
// transport once the DataChannel opens.
func EstablishAsClient(ctx context.Context, wsURL string) (*transport.WebRTC, error) {
	fmt.Println("Connecting to host...")
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.Logf("WS connected: %s", wsURL)

	tr, err := transport.NewWebRTC(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC transport: %w", err)
	}

	if err := exchange(wsConn, tr, false); err != nil {
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)
	}

	util.Logf("WebRTC DataChannel established, closing WS")
	return tr, nil
}

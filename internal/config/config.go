// Package config holds the CLI configuration types.
package config

// Role represents which side of the connection this process is.
type Role string

const (
	// RoleServer waits for the peer: bind a UDP port (or host the WebRTC
	// signaling server) and learn the peer from its first contact.
	RoleServer Role = "server"
	// RoleClient initiates: the peer's address (or signaling URL) is
	// known up front.
	RoleClient Role = "client"
)

// TransportKind selects the datagram channel the chat runs over.
type TransportKind string

const (
	TransportUDP    TransportKind = "udp"    // direct UDP datagrams
	TransportWebRTC TransportKind = "webrtc" // unreliable DataChannel through NAT
)

// Config stores all parameters gathered from flags or interactive prompts.
type Config struct {
	Role      Role
	Transport TransportKind
	Password  string // shared secret for payload encryption

	// UDP mode
	Port   int    // server: port to bind; client: peer's port
	PeerIP string // client only

	// WebRTC mode
	WSAddr string // server: signaling listen address (":0" = random port)
	WSURL  string // client: signaling URL to connect to

	HistoryPath string // chat transcript file; empty disables persistence
}

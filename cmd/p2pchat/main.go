// P2P Chat — CLI entry point.
//
// Two-party encrypted chat over an unreliable datagram channel, with the
// reliability layer (sequence numbers, ACKs, timeout retransmission)
// implemented in the application. The channel is either plain UDP or an
// unordered, no-retransmit WebRTC DataChannel set up through a short
// WebSocket signaling phase.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -transport, -port, -peer, -wsUrl, ...).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/pranavahvarun/p2p-chat-system/internal/config"
	"github.com/pranavahvarun/p2p-chat-system/internal/crypto"
	"github.com/pranavahvarun/p2p-chat-system/internal/history"
	"github.com/pranavahvarun/p2p-chat-system/internal/session"
	"github.com/pranavahvarun/p2p-chat-system/internal/signaling"
	"github.com/pranavahvarun/p2p-chat-system/internal/transport"
	"github.com/pranavahvarun/p2p-chat-system/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: server (wait for peer) or client (connect to peer)")
	transportFlag := flag.String("transport", "udp", "Transport: udp or webrtc")
	port := flag.Int("port", 0, "UDP port to bind (server) or peer's port (client), 1~65535")
	peerIP := flag.String("peer", "", "Peer IP address (UDP client only)")
	wsURLFlag := flag.String("wsUrl", "", "WebSocket signaling URL (webrtc client only)")
	wsPortFlag := flag.Int("wsPort", 0, "WebSocket signaling port (webrtc server only)")
	wsListenFlag := flag.Bool("wsListen", false, "Listen on all interfaces for signaling (webrtc server only)")
	password := flag.String("password", "", "Shared chat password (prompted if omitted)")
	historyPath := flag.String("history", "logs/history.log", "Chat history file (empty to disable)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("P2P Chat — v%s", version))
	pterm.Println()

	cfg := config.Config{
		Role:        config.Role(*role),
		Transport:   config.TransportKind(*transportFlag),
		Port:        *port,
		PeerIP:      *peerIP,
		WSURL:       *wsURLFlag,
		Password:    *password,
		HistoryPath: *historyPath,
	}

	switch {
	case *wsListenFlag:
		cfg.WSAddr = fmt.Sprintf(":%d", *wsPortFlag)
	case *wsPortFlag > 0:
		cfg.WSAddr = fmt.Sprintf("127.0.0.1:%d", *wsPortFlag)
	default:
		cfg.WSAddr = ":0"
	}

	switch cfg.Role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg)

	case config.RoleServer, config.RoleClient:
		if err := validate(&cfg); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		if cfg.Password == "" {
			cfg.Password = askPassword()
		}
		runChat(ctx, cfg)

	default:
		util.LogError("invalid -role: must be 'server' or 'client'")
		os.Exit(1)
	}

	util.LogInfo("chat session closed")
}

// validate checks the flag combination for non-interactive mode.
func validate(cfg *config.Config) error {
	switch cfg.Transport {
	case config.TransportUDP:
		if cfg.Port < 1 || cfg.Port > 65535 {
			return fmt.Errorf("invalid or missing -port (must be 1~65535)")
		}
		if cfg.Role == config.RoleClient && net.ParseIP(cfg.PeerIP) == nil {
			return fmt.Errorf("invalid or missing -peer for UDP client role")
		}
	case config.TransportWebRTC:
		if cfg.Role == config.RoleClient {
			wsURL, err := normalizeWSURL(cfg.WSURL)
			if err != nil {
				return err
			}
			cfg.WSURL = wsURL
		}
	default:
		return fmt.Errorf("invalid -transport: must be 'udp' or 'webrtc'")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Wait for a peer to contact you", "Client — Connect to a waiting peer"}).
		WithDefaultText("Select your role").
		Show()

	tr, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"UDP    — Direct datagrams (LAN or open networks)", "WebRTC — DataChannel with NAT traversal"}).
		WithDefaultText("Select the transport").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
	} else {
		cfg.Role = config.RoleClient
	}

	if strings.HasPrefix(tr, "UDP") {
		cfg.Transport = config.TransportUDP
		if cfg.Role == config.RoleServer {
			cfg.Port = askPort("Port to listen on (1 ~ 65535)")
		} else {
			cfg.PeerIP = askIP()
			cfg.Port = askPort("Peer's port (1 ~ 65535)")
		}
	} else {
		cfg.Transport = config.TransportWebRTC
		if cfg.Role == config.RoleClient {
			cfg.WSURL = askURL()
		}
	}

	cfg.Password = askPassword()
	runChat(ctx, cfg)
}

// runChat wires transport, cipher, history, and session together, then
// pumps stdin lines into the session until EOF, /quit, or shutdown.
func runChat(ctx context.Context, cfg config.Config) {
	tr, peerAddr, err := openTransport(ctx, cfg)
	if err != nil {
		util.LogError("failed to open transport: %v", err)
		os.Exit(1)
	}

	rec := history.New(cfg.HistoryPath)
	defer rec.Close()

	sess := session.New(tr, crypto.New(cfg.Password), session.Config{
		PeerAddr: peerAddr,
		OnDelivered: func(plaintext []byte) {
			text := string(plaintext)
			pterm.FgCyan.Printf("\rPeer: %s\n", text)
			fmt.Print("You: ")
			rec.Received(text)
		},
		OnPeerDiscovered: func(addr net.Addr) {
			rec.PeerConnected(addr.String())
			fmt.Print("You: ")
		},
		OnSessionEnded: func() {
			rec.SessionEnded()
		},
	})

	util.StartStatsReporter(ctx)

	if cfg.Role == config.RoleServer && cfg.Transport == config.TransportUDP {
		util.Logf("listening on %s, waiting for the peer's first message...", tr.LocalAddr())
	} else {
		util.LogSuccess("ready — type a message to begin")
	}

	// Input pump: the user's lines are the session's production stream.
	go readInput(sess, rec)

	if err := sess.Run(ctx); err != nil {
		util.LogError("session failed: %v", err)
		os.Exit(1)
	}
}

// openTransport builds the configured transport and, where the peer is
// known up front, its address for pre-seeding the session.
func openTransport(ctx context.Context, cfg config.Config) (transport.Transport, net.Addr, error) {
	switch cfg.Transport {
	case config.TransportUDP:
		if cfg.Role == config.RoleServer {
			tr, err := transport.ListenUDP(fmt.Sprintf(":%d", cfg.Port))
			return tr, nil, err
		}
		peerAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.PeerIP, strconv.Itoa(cfg.Port)))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid peer address: %w", err)
		}
		tr, err := transport.ListenUDP(":0")
		return tr, peerAddr, err

	case config.TransportWebRTC:
		if cfg.Role == config.RoleServer {
			tr, err := signaling.EstablishAsHost(ctx, cfg.WSAddr)
			if err != nil {
				return nil, nil, err
			}
			return tr, tr.Remote(), nil
		}
		tr, err := signaling.EstablishAsClient(ctx, cfg.WSURL)
		if err != nil {
			return nil, nil, err
		}
		return tr, tr.Remote(), nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// readInput forwards stdin lines to the session until EOF or /quit, then
// closes the session.
func readInput(sess *session.Session, rec *history.Recorder) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("You: ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("You: ")
			continue
		}
		if line == "/quit" {
			break
		}

		seq, err := sess.Submit([]byte(line))
		switch {
		case err == nil:
			util.LogDebug("sending MSG #%d...", seq)
			rec.Sent(seq, line)
		case errors.Is(err, session.ErrPeerUnknown):
			util.LogWarning("peer address not known yet — message not sent")
		case errors.Is(err, session.ErrTooManyInFlight):
			util.LogWarning("too many unacknowledged messages — please wait and retry")
		case errors.Is(err, session.ErrSessionClosed):
			return
		default:
			util.LogError("failed to send message: %v", err)
		}
		fmt.Print("You: ")
	}
	sess.Close()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	query := ""
	if u.RawQuery != "" {
		query = "?" + u.RawQuery
	}
	return fmt.Sprintf("%s://%s/ws%s", scheme, u.Host, query), nil
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askIP prompts the user for a valid IP address until one is entered.
func askIP() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Peer IP address (e.g. 192.168.1.10)").
			Show()

		ip := strings.TrimSpace(raw)
		if net.ParseIP(ip) != nil {
			pterm.Println()
			return ip
		}

		util.LogWarning("invalid input: please enter a valid IP address")
		pterm.Println()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.devtunnels.ms/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askPassword prompts for the shared chat password without echoing it.
func askPassword() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Shared chat password").
			WithMask("*").
			Show()

		if strings.TrimSpace(raw) != "" {
			pterm.Println()
			return raw
		}

		util.LogWarning("password must not be empty")
		pterm.Println()
	}
}

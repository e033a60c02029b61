package relay

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	kcp "github.com/xtaci/kcp-go/v5"
)

// maxFrameSize bounds a single relayed frame; generous for game-packet
// payloads while still catching a corrupt length prefix quickly.
const maxFrameSize = 1 << 20

// KCPTransport is the production Transport adapter over
// github.com/xtaci/kcp-go/v5 (grounded on portal/relay_server_v2.go and
// cmd/test-server-v2/main.go's use of kcp.ListenWithOptions /
// kcp.DialWithOptions). kcp-go sessions are ARQ byte streams, not
// datagram sockets, so each relay envelope is framed with a 4-byte
// big-endian length prefix to preserve message boundaries.
type KCPTransport struct {
	mu        sync.Mutex
	listeners map[uint16]*kcp.Listener
	sessions  map[Address]*kcpPeer

	events chan Event
}

type kcpPeer struct {
	conn *kcp.UDPSession
	port uint16 // local port this peer is associated with
}

// NewKCPTransport creates an adapter with no open listeners or sessions.
func NewKCPTransport() *KCPTransport {
	return &KCPTransport{
		listeners: make(map[uint16]*kcp.Listener),
		sessions:  make(map[Address]*kcpPeer),
		events:    make(chan Event, 1024),
	}
}

func (t *KCPTransport) Events() <-chan Event { return t.events }

// Listen opens a kcp.Listener on port and spawns an accept loop that
// emits EventNewIncomingConnection for each inbound session and
// EventDataPacket for each frame subsequently read from it.
func (t *KCPTransport) Listen(ctx context.Context, port uint16) error {
	ln, err := kcp.ListenWithOptions(udpAddrString(port), nil, 0, 0)
	if err != nil {
		return wrapProtocol(err, "kcp listen on port %d", port)
	}

	t.mu.Lock()
	t.listeners[port] = ln
	t.mu.Unlock()

	go t.acceptLoop(ctx, ln, port)
	return nil
}

func (t *KCPTransport) acceptLoop(ctx context.Context, ln *kcp.Listener, port uint16) {
	for {
		conn, err := ln.AcceptKCP()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn().Err(err).Uint16("port", port).Msg("[KCPTransport] accept error")
			return
		}

		addr, err := addressFromNetAddr(conn.RemoteAddr())
		if err != nil {
			log.Warn().Err(err).Msg("[KCPTransport] non-IPv4 peer rejected")
			conn.Close()
			continue
		}

		t.mu.Lock()
		t.sessions[addr] = &kcpPeer{conn: conn, port: port}
		t.mu.Unlock()

		t.events <- Event{Kind: EventNewIncomingConnection, Sender: addr, ReceivePort: port}
		go t.readLoop(conn, addr, port)
	}
}

func (t *KCPTransport) readLoop(conn *kcp.UDPSession, addr Address, port uint16) {
	for {
		payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("addr", addr.String()).Msg("[KCPTransport] read error")
			}
			t.mu.Lock()
			delete(t.sessions, addr)
			t.mu.Unlock()
			t.events <- Event{Kind: EventConnectionLost, Sender: addr, ReceivePort: port}
			return
		}
		t.events <- Event{Kind: EventDataPacket, Sender: addr, ReceivePort: port, Payload: payload}
	}
}

// Dial opens an outbound kcp session to addr. password and useNAT are
// accepted for interface parity with the engine's client-init flow;
// kcp-go has no native notion of either, so password is sent as the
// first frame over the new session once established (the peer
// application protocol is expected to consume or ignore it) and useNAT
// is a no-op until a punch-through transport is wired in.
func (t *KCPTransport) Dial(ctx context.Context, addr Address, password string, useNAT bool) error {
	go func() {
		conn, err := kcp.DialWithOptions(addr.String(), nil, 0, 0)
		if err != nil {
			t.events <- Event{Kind: EventConnectionAttemptFailed, Sender: addr}
			return
		}

		t.mu.Lock()
		t.sessions[addr] = &kcpPeer{conn: conn}
		t.mu.Unlock()

		if password != "" {
			if err := writeFrame(conn, []byte(password)); err != nil {
				log.Warn().Err(err).Str("addr", addr.String()).Msg("[KCPTransport] failed to send password frame")
			}
		}

		t.events <- Event{Kind: EventConnectionRequestAccepted, Sender: addr}
		go t.readLoop(conn, addr, 0)
	}()
	return nil
}

func (t *KCPTransport) Send(addr Address, payload []byte) error {
	return t.SendFrom(0, addr, payload)
}

// SendFrom ignores the port argument: the adapter keeps one session per
// address, and payload is written to addr's session whichever port it
// was opened on.
func (t *KCPTransport) SendFrom(_ uint16, addr Address, payload []byte) error {
	t.mu.Lock()
	peer, ok := t.sessions[addr]
	t.mu.Unlock()
	if !ok {
		return errProtocolf("no kcp session to %s", addr.String())
	}
	return writeFrame(peer.conn, payload)
}

func (t *KCPTransport) IsConnected(addr Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[addr]
	return ok
}

func (t *KCPTransport) Close(addr Address) error {
	t.mu.Lock()
	peer, ok := t.sessions[addr]
	delete(t.sessions, addr)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return peer.conn.Close()
}

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, errProtocolf("frame length %d exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func udpAddrString(port uint16) string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port)))
}

func addressFromNetAddr(a net.Addr) (Address, error) {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", a.String())
		if err != nil {
			return Address{}, err
		}
		udpAddr = resolved
	}
	return AddressFromUDP(udpAddr)
}

package relay

import (
	"context"
	"testing"
)

func newTestRelay(t *testing.T, start, end uint16) (*Relay, *PipeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PortRangeStart = start
	cfg.PortRangeEnd = end
	transport := NewPipeTransport()
	r, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, transport
}

func TestHandleServerInitAssignsPort(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50102)
	server := addrN(1)

	r.handleServerInit(server, EncodeServerInitRequest(1))

	port, ok := r.maps.PortByServer(server)
	if !ok {
		t.Fatal("expected server to be registered in serverMap")
	}
	if port < 50100 || port > 50102 {
		t.Fatalf("port %d outside configured range", port)
	}
	if _, listening := transport.listening[port]; !listening {
		t.Fatal("expected transport to be listening on the assigned port")
	}

	responses := transport.SentTo(server)
	if len(responses) != 1 {
		t.Fatalf("expected exactly one response to server, got %d", len(responses))
	}
	_, assignedPort, err := DecodeServerInitResponse(responses[0])
	if err != nil {
		t.Fatalf("DecodeServerInitResponse: %v", err)
	}
	if assignedPort != port {
		t.Fatalf("response port = %d, want %d", assignedPort, port)
	}
}

func TestHandleServerInitPoolExhaustion(t *testing.T) {
	r, transport := newTestRelay(t, 50200, 50200)
	first := addrN(1)
	second := addrN(2)

	r.handleServerInit(first, EncodeServerInitRequest(1))
	r.handleServerInit(second, EncodeServerInitRequest(1))

	responses := transport.SentTo(second)
	if len(responses) != 1 {
		t.Fatalf("expected one response to the rejected server, got %d", len(responses))
	}
	_, assignedPort, err := DecodeServerInitResponse(responses[0])
	if err != nil {
		t.Fatalf("DecodeServerInitResponse: %v", err)
	}
	if assignedPort != 0 {
		t.Fatalf("assignedPort = %d, want 0 on exhaustion", assignedPort)
	}
	if _, ok := r.maps.PortByServer(second); ok {
		t.Fatal("rejected server should not hold a port")
	}
}

func TestClientInitImmediateSendWhenConnected(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	client := addrN(2)
	transport.SetConnected(server, true)

	init := ClientInit{ProtoVer: 1, Target: server, ClientVer: 1}
	r.handleClientInit(context.Background(), client, EncodeClientInit(init))

	sent := transport.SentTo(server)
	if len(sent) != 1 {
		t.Fatalf("expected immediate send to connected server, got %d sends", len(sent))
	}
	if r.queue.HasTarget(server) {
		t.Fatal("expected no queued entry when target already connected")
	}
	got, ok := r.maps.ServerOf(client)
	if !ok || got != server {
		t.Fatalf("ServerOf(client) = %v, %v, want %v, true", got, ok, server)
	}
}

func TestClientInitQueuesThenFlushesOnConnectAccepted(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	client := addrN(2)

	init := ClientInit{ProtoVer: 1, Target: server, ClientVer: 1}
	r.handleClientInit(context.Background(), client, EncodeClientInit(init))

	if len(transport.SentTo(server)) != 0 {
		t.Fatal("expected no immediate send while target is unconnected")
	}
	if !r.queue.HasTarget(server) {
		t.Fatal("expected notification to be queued")
	}
	dialed := transport.DialedAddrs()
	if len(dialed) != 1 || dialed[0] != server {
		t.Fatalf("dialed = %v, want [%v]", dialed, server)
	}

	r.dispatch(context.Background(), Event{Kind: EventConnectionRequestAccepted, Sender: server})

	if r.queue.HasTarget(server) {
		t.Fatal("expected queue to be flushed once the target connects")
	}
	if len(transport.SentTo(server)) != 1 {
		t.Fatalf("expected the queued notification to be sent, got %d sends", len(transport.SentTo(server)))
	}
}

func TestClientMessageRelayedWhenConnected(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	client := addrN(2)
	r.maps.SetRelay(client, server)
	transport.SetConnected(server, true)

	clientHeader := make([]byte, clientMessagePrefixLen)
	clientHeader[0] = MsgProxyClientMessage
	raw := append(clientHeader, []byte("payload")...)

	r.handleClientMessage(context.Background(), client, raw)

	sent := transport.SentTo(server)
	if len(sent) != 1 {
		t.Fatalf("expected one relayed message, got %d", len(sent))
	}
	originator, payload, err := DecodeProxyMessage(sent[0])
	if err != nil {
		t.Fatalf("DecodeProxyMessage: %v", err)
	}
	if originator != client {
		t.Fatalf("originator = %v, want %v", originator, client)
	}
	if string(payload) != "payload" {
		t.Fatalf("payload = %q, want %q", payload, "payload")
	}
}

func TestCascadingCleanupOnServerDisconnect(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	clientA := addrN(2)
	clientB := addrN(3)

	r.handleServerInit(server, EncodeServerInitRequest(1))
	port, _ := r.maps.PortByServer(server)
	r.maps.SetRelay(clientA, server)
	r.maps.SetRelay(clientB, server)
	r.maps.AddPortUser(clientA, port)
	r.maps.AddPortUser(clientB, port)

	r.onConnectionLost(server)

	if _, ok := r.maps.PortByServer(server); ok {
		t.Fatal("expected server to be removed from serverMap")
	}
	if r.pool.InUse(port) {
		t.Fatal("expected port to be released back to the pool")
	}
	if _, ok := r.maps.ServerOf(clientA); ok {
		t.Fatal("expected clientA's relayMap entry to be removed")
	}
	if _, ok := r.maps.ServerOf(clientB); ok {
		t.Fatal("expected clientB's relayMap entry to be removed")
	}
	if len(r.maps.UsersOfPort(port)) != 0 {
		t.Fatal("expected all port users to be cleared")
	}
	closed := transport.ClosedAddrs()
	if len(closed) != 2 {
		t.Fatalf("expected both clients closed, got %v", closed)
	}
}

func TestCascadingCleanupOnClientDisconnectLeavesServerRegistered(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	client := addrN(2)
	r.handleServerInit(server, EncodeServerInitRequest(1))
	r.maps.SetRelay(client, server)

	r.onConnectionLost(client)

	if _, ok := r.maps.ServerOf(client); ok {
		t.Fatal("expected client's relayMap entry to be removed")
	}
	if _, ok := r.maps.PortByServer(server); !ok {
		t.Fatal("server's port lease should remain registered after only a client disconnects")
	}
	closed := transport.ClosedAddrs()
	if len(closed) != 1 || closed[0] != server {
		t.Fatalf("closed = %v, want the server's transport connection closed since client was its last client", closed)
	}
}

func TestIsFacilitatorIgnoredByCleanup(t *testing.T) {
	r, _ := newTestRelay(t, 50100, 50110)
	facilitator := addrN(9)
	r.SetFacilitator(facilitator)
	r.maps.SetRelay(facilitator, addrN(1))

	r.onConnectionLost(facilitator)

	if _, ok := r.maps.ServerOf(facilitator); !ok {
		t.Fatal("facilitator disconnection should be ignored, leaving its relayMap entry untouched")
	}
}

func TestInvalidPasswordForwardedToClient(t *testing.T) {
	r, transport := newTestRelay(t, 50100, 50110)
	server := addrN(1)
	client := addrN(2)
	r.maps.SetRelay(client, server)

	notice := []byte{MsgInvalidPassword}
	r.handleInvalidPassword(server, notice)

	sent := transport.SentTo(client)
	if len(sent) != 1 {
		t.Fatalf("expected invalid password notice forwarded, got %d sends", len(sent))
	}
}

package relay

import "testing"

func addrN(n byte) Address {
	return Address{IP: [4]byte{10, 0, 0, n}, Port: 1000 + uint16(n)}
}

func TestAddressMapsServerLifecycle(t *testing.T) {
	m := NewAddressMaps()
	server := addrN(1)

	m.AddServer(50100, server)
	got, ok := m.ServerByPort(50100)
	if !ok || got != server {
		t.Fatalf("ServerByPort = %v, %v, want %v, true", got, ok, server)
	}
	port, ok := m.PortByServer(server)
	if !ok || port != 50100 {
		t.Fatalf("PortByServer = %d, %v, want 50100, true", port, ok)
	}

	m.RemoveServerPort(50100)
	if _, ok := m.ServerByPort(50100); ok {
		t.Fatal("expected ServerByPort to miss after removal")
	}
}

func TestAddressMapsRelayAndClients(t *testing.T) {
	m := NewAddressMaps()
	server := addrN(1)
	clientA := addrN(2)
	clientB := addrN(3)

	m.SetRelay(clientA, server)
	m.SetRelay(clientB, server)

	got, ok := m.ServerOf(clientA)
	if !ok || got != server {
		t.Fatalf("ServerOf(clientA) = %v, %v", got, ok)
	}

	clients := m.ClientsOf(server)
	if len(clients) != 2 {
		t.Fatalf("ClientsOf = %v, want 2 entries", clients)
	}

	if !m.HasOtherClientFor(server, clientA) {
		t.Fatal("expected clientB to still route through server")
	}

	m.RemoveClient(clientB)
	if m.HasOtherClientFor(server, clientA) {
		t.Fatal("expected no other client after removing clientB")
	}
}

func TestAddressMapsPortUsersMultiset(t *testing.T) {
	m := NewAddressMaps()
	addr := addrN(9)

	m.AddPortUser(addr, 50100)
	m.AddPortUser(addr, 50100)
	users := m.UsersOfPort(50100)
	if len(users) != 1 {
		t.Fatalf("UsersOfPort = %v, want exactly one distinct address", users)
	}

	m.RemovePortUser(addr, 50100)
	if len(m.UsersOfPort(50100)) != 1 {
		t.Fatal("expected one reference to remain after removing one of two")
	}
	m.RemovePortUser(addr, 50100)
	if len(m.UsersOfPort(50100)) != 0 {
		t.Fatal("expected port user entry gone after removing both references")
	}
}

func TestRemoveAllPortUsersForPort(t *testing.T) {
	m := NewAddressMaps()
	a, b := addrN(1), addrN(2)
	m.AddPortUser(a, 50100)
	m.AddPortUser(b, 50100)
	m.AddPortUser(a, 50101)

	removed := m.RemoveAllPortUsersForPort(50100)
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want 2 entries", removed)
	}
	if len(m.UsersOfPort(50101)) != 1 {
		t.Fatal("unrelated port's users should be untouched")
	}
}

func TestRemoveAllPortUsersForAddr(t *testing.T) {
	m := NewAddressMaps()
	a := addrN(1)
	m.AddPortUser(a, 50100)
	m.AddPortUser(a, 50101)

	m.RemoveAllPortUsersForAddr(a)
	if len(m.UsersOfPort(50100)) != 0 || len(m.UsersOfPort(50101)) != 0 {
		t.Fatal("expected every port-user entry for addr to be removed")
	}
}

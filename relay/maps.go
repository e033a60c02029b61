package relay

import "sync"

// portUser identifies a peer connected to a particular server-relay port.
type portUser struct {
	addr Address
	port uint16
}

// AddressMaps holds the three associative structures that must stay
// coherent under asynchronous connection events: serverMap (port →
// server address), relayMap (client address → server address), and
// portUsers (a multiset of peers attached to each server-relay port).
//
// All mutation happens from the event loop goroutine; the mutex exists
// so read-only accessors (metrics, tests) can safely observe state from
// other goroutines.
type AddressMaps struct {
	mu sync.Mutex

	serverMap map[uint16]Address
	relayMap  map[Address]Address
	portUsers map[portUser]int // count, since a peer may be recorded more than once
}

// NewAddressMaps creates an empty set of address maps.
func NewAddressMaps() *AddressMaps {
	return &AddressMaps{
		serverMap: make(map[uint16]Address),
		relayMap:  make(map[Address]Address),
		portUsers: make(map[portUser]int),
	}
}

// AddServer records that server listens on port.
func (m *AddressMaps) AddServer(port uint16, server Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverMap[port] = server
}

// ServerByPort resolves the server address bound to a server-relay port.
func (m *AddressMaps) ServerByPort(port uint16) (Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.serverMap[port]
	return s, ok
}

// PortByServer performs the reverse lookup used by cascading cleanup: the
// port a server address currently owns, if any.
func (m *AddressMaps) PortByServer(server Address) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for port, addr := range m.serverMap {
		if addr == server {
			return port, true
		}
	}
	return 0, false
}

// RemoveServerPort deletes the serverMap entry for port.
func (m *AddressMaps) RemoveServerPort(port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.serverMap, port)
}

// SetRelay records that client routes to server.
func (m *AddressMaps) SetRelay(client, server Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayMap[client] = server
}

// ServerOf resolves the server a client's relayMap entry points to.
func (m *AddressMaps) ServerOf(client Address) (Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.relayMap[client]
	return s, ok
}

// RemoveClient deletes client's relayMap entry.
func (m *AddressMaps) RemoveClient(client Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relayMap, client)
}

// ClientsOf returns every client currently routed to server — used when a
// server dies and its clients must be closed.
func (m *AddressMaps) ClientsOf(server Address) []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	var clients []Address
	for client, srv := range m.relayMap {
		if srv == server {
			clients = append(clients, client)
		}
	}
	return clients
}

// HasOtherClientFor reports whether any client other than except still
// routes to server — used to decide whether a server connection should be
// closed when a single client disconnects.
func (m *AddressMaps) HasOtherClientFor(server, except Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client, srv := range m.relayMap {
		if srv == server && client != except {
			return true
		}
	}
	return false
}

// AddPortUser records that addr is connected to a server-relay port.
func (m *AddressMaps) AddPortUser(addr Address, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portUsers[portUser{addr, port}]++
}

// UsersOfPort returns every address recorded against port.
func (m *AddressMaps) UsersOfPort(port uint16) []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Address
	for pu := range m.portUsers {
		if pu.port == port {
			out = append(out, pu.addr)
		}
	}
	return out
}

// RemovePortUser deletes one (addr, port) entry.
func (m *AddressMaps) RemovePortUser(addr Address, port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := portUser{addr, port}
	if n := m.portUsers[key]; n <= 1 {
		delete(m.portUsers, key)
	} else {
		m.portUsers[key] = n - 1
	}
}

// RemoveAllPortUsersForPort deletes every portUsers entry tied to port,
// returning the addresses removed.
func (m *AddressMaps) RemoveAllPortUsersForPort(port uint16) []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Address
	for pu := range m.portUsers {
		if pu.port == port {
			out = append(out, pu.addr)
			delete(m.portUsers, pu)
		}
	}
	return out
}

// RemoveAllPortUsersForAddr deletes every portUsers entry tied to addr
// (used when addr itself disconnects on a server-relay port).
func (m *AddressMaps) RemoveAllPortUsersForAddr(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pu := range m.portUsers {
		if pu.addr == addr {
			delete(m.portUsers, pu)
		}
	}
}

// ServerMapSize, RelayMapSize and PortUsersSize back the metrics surface
// and invariant checks.
func (m *AddressMaps) ServerMapSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.serverMap)
}

func (m *AddressMaps) RelayMapSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.relayMap)
}

func (m *AddressMaps) PortUsersSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.portUsers)
}

// ServerMapPorts returns a snapshot of serverMap's keys, each of which
// must also exist in the port pool's used set.
func (m *AddressMaps) ServerMapPorts() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.serverMap))
	for port := range m.serverMap {
		out = append(out, port)
	}
	return out
}

// PortUsersPorts returns a snapshot of every port referenced in
// portUsers, each of which must also be a currently-leased server port.
func (m *AddressMaps) PortUsersPorts() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uint16]struct{})
	for pu := range m.portUsers {
		seen[pu.port] = struct{}{}
	}
	out := make([]uint16, 0, len(seen))
	for port := range seen {
		out = append(out, port)
	}
	return out
}

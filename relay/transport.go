package relay

import "context"

// EventKind enumerates the transport events the relay's event loop reacts
// to. The relay never branches on transport-specific types — every
// adapter (kcp-go, the in-memory pipe used by tests) normalizes its own
// notifications into this vocabulary.
type EventKind int

const (
	// EventDataPacket carries an ordinary payload delivered on the listen
	// port or a server-relay port — not a transport-lifecycle event.
	EventDataPacket EventKind = iota
	EventNewIncomingConnection
	EventConnectionRequestAccepted
	EventConnectionLost
	EventDisconnectionNotification
	EventConnectionAttemptFailed
	EventNATTargetNotConnected
	EventNATConnectionToTargetLost
)

// Event is a single notification drained from a Transport by the event
// loop. ReceivePort is the local port the event arrived on; it is 0 for
// outbound-connection results, whose Sender identifies the dial target
// rather than a receive port.
type Event struct {
	Kind        EventKind
	Sender      Address
	ReceivePort uint16
	Payload     []byte
}

// Transport is the reliable-datagram collaborator the relay core never
// implements itself: it owns connection establishment, reliable ordered
// delivery, and connection teardown. The relay core depends only on this
// interface — transport_kcp.go is the production adapter over
// github.com/xtaci/kcp-go/v5; transport_pipe.go is an in-memory fake used
// by tests.
type Transport interface {
	// Listen binds port as a receive port (the shared listen port, or one
	// server-relay port). Events arriving on port surface with
	// Event.ReceivePort == port.
	Listen(ctx context.Context, port uint16) error

	// Dial begins an outbound connection to addr. Completion surfaces
	// asynchronously as EventConnectionRequestAccepted or
	// EventConnectionAttemptFailed on Events(). password is passed to the
	// transport's own connect handshake when non-empty; useNAT requests
	// NAT punch-through bootstrap when the underlying transport supports it.
	Dial(ctx context.Context, addr Address, password string, useNAT bool) error

	// Send transmits payload to addr reliably and in order relative to
	// other sends to the same addr. The sending port is whichever port
	// Send was most naturally reached through (the listen port for
	// control traffic, a server-relay port for proxied traffic); callers
	// that need a specific send port use SendFrom.
	Send(addr Address, payload []byte) error

	// SendFrom transmits payload to addr over the connection associated
	// with the given local port, for server-relay ports distinct from the
	// shared listen port.
	SendFrom(port uint16, addr Address, payload []byte) error

	// Close tears down any connection to addr.
	Close(addr Address) error

	// IsConnected reports whether the transport currently holds an
	// established session to addr. The engine uses this to decide between
	// sending immediately and queuing behind a fresh dial.
	IsConnected(addr Address) bool

	// Events returns the channel the event loop drains. It is closed when
	// the transport shuts down.
	Events() <-chan Event
}

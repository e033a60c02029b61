package relay

import (
	"context"
	"sync"
)

// PipeTransport is an in-memory Transport fake for tests, in the spirit
// of portal/transport_pipe.go's PipeSession: it lets tests drive the
// event loop with controlled, instantaneous events instead of real UDP
// sockets. Connections are simulated by the test itself pushing events
// via Deliver*; PipeTransport only records what the engine asked it to do
// so assertions can inspect Sent/Dialed/Closed afterward.
type PipeTransport struct {
	mu sync.Mutex

	events chan Event

	listening map[uint16]struct{}
	dialed    []DialCall
	sent      []SendCall
	closed    []Address
	connected map[Address]bool
}

// DialCall records one Dial invocation observed by the fake.
type DialCall struct {
	Addr     Address
	Password string
	UseNAT   bool
}

// SendCall records one Send/SendFrom invocation observed by the fake.
type SendCall struct {
	Port    uint16 // 0 for Send (unspecified send port)
	Addr    Address
	Payload []byte
}

// NewPipeTransport creates an empty fake transport with a buffered event
// channel large enough for bursty test scenarios.
func NewPipeTransport() *PipeTransport {
	return &PipeTransport{
		events:    make(chan Event, 256),
		listening: make(map[uint16]struct{}),
		connected: make(map[Address]bool),
	}
}

// SetConnected lets a test force the fake's connected-state bookkeeping
// directly, without pushing a synthetic event through the channel.
func (p *PipeTransport) SetConnected(addr Address, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[addr] = connected
}

func (p *PipeTransport) IsConnected(addr Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[addr]
}

func (p *PipeTransport) Listen(_ context.Context, port uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listening[port] = struct{}{}
	return nil
}

func (p *PipeTransport) Dial(_ context.Context, addr Address, password string, useNAT bool) error {
	p.mu.Lock()
	p.dialed = append(p.dialed, DialCall{Addr: addr, Password: password, UseNAT: useNAT})
	p.mu.Unlock()
	return nil
}

func (p *PipeTransport) Send(addr Address, payload []byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, SendCall{Addr: addr, Payload: append([]byte(nil), payload...)})
	p.mu.Unlock()
	return nil
}

func (p *PipeTransport) SendFrom(port uint16, addr Address, payload []byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, SendCall{Port: port, Addr: addr, Payload: append([]byte(nil), payload...)})
	p.mu.Unlock()
	return nil
}

func (p *PipeTransport) Close(addr Address) error {
	p.mu.Lock()
	p.closed = append(p.closed, addr)
	p.mu.Unlock()
	return nil
}

func (p *PipeTransport) Events() <-chan Event {
	return p.events
}

// Deliver pushes an event into the loop's drain channel, simulating an
// async notification from the underlying transport. Connection-lifecycle
// events update the fake's own IsConnected bookkeeping immediately, just
// as a real transport's internal state changes independently of when the
// engine gets around to draining the channel.
func (p *PipeTransport) Deliver(ev Event) {
	switch ev.Kind {
	case EventConnectionRequestAccepted, EventNewIncomingConnection:
		p.SetConnected(ev.Sender, true)
	case EventConnectionLost, EventDisconnectionNotification, EventConnectionAttemptFailed:
		p.SetConnected(ev.Sender, false)
	}
	p.events <- ev
}

// DialedAddrs returns a snapshot of addresses passed to Dial, in order.
func (p *PipeTransport) DialedAddrs() []Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Address, 0, len(p.dialed))
	for _, d := range p.dialed {
		out = append(out, d.Addr)
	}
	return out
}

// SentTo returns every payload sent to addr, in send order.
func (p *PipeTransport) SentTo(addr Address) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, s := range p.sent {
		if s.Addr == addr {
			out = append(out, s.Payload)
		}
	}
	return out
}

// ClosedAddrs returns a snapshot of addresses passed to Close, in order.
func (p *PipeTransport) ClosedAddrs() []Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Address(nil), p.closed...)
}

package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// PortPool manages the pool of server-relay ports: a FIFO free list and a
// used set. Assignment pops the front of free and pushes to used; release
// removes from used and pushes to the back of free, delaying reuse so
// in-flight packets addressed to the prior occupant of a port do not land
// in the next server's session.
type PortPool struct {
	mu   sync.Mutex
	free []uint16
	used map[uint16]struct{}
}

// NewPortPool creates a pool covering the inclusive range [start, end].
// It is a fatal configuration error (returned, not logged) for start to
// exceed end.
func NewPortPool(start, end uint16) (*PortPool, error) {
	if start > end {
		return nil, errConfigf("port range start %d exceeds end %d", start, end)
	}
	p := &PortPool{
		used: make(map[uint16]struct{}),
	}
	for port := start; ; port++ {
		p.free = append(p.free, port)
		if port == end {
			break
		}
	}
	return p, nil
}

// Acquire pops the front of the free list, appends it to used, and
// returns it. The second return value is false if the pool is exhausted.
func (p *PortPool) Acquire() (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, false
	}
	port := p.free[0]
	p.free = p.free[1:]
	p.used[port] = struct{}{}
	return port, true
}

// Release removes port from used and appends it to the back of the free
// list. Releasing a port not currently in used is logged and otherwise a
// no-op — an invariant-drift condition, not a fatal error.
func (p *PortPool) Release(port uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.used[port]; !ok {
		log.Warn().Uint16("port", port).Msg("[PortPool] release of port not in used set")
		return
	}
	delete(p.used, port)
	p.free = append(p.free, port)
}

// InUse reports whether port is currently assigned.
func (p *PortPool) InUse(port uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.used[port]
	return ok
}

// FreeCount returns the number of currently unassigned ports.
func (p *PortPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// UsedCount returns the number of currently assigned ports.
func (p *PortPool) UsedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// UsedPorts returns a snapshot of the currently assigned ports. Used by
// invariant checks in tests and by the metrics surface.
func (p *PortPool) UsedPorts() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint16, 0, len(p.used))
	for port := range p.used {
		out = append(out, port)
	}
	return out
}

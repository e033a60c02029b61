package relay

import "sync"

// pendingEntry is one message awaiting delivery to a target that has not
// finished connecting.
type pendingEntry struct {
	payload []byte
	target  Address
}

// PendingQueue holds messages destined for targets that are not yet
// connected. Entries sharing a target are delivered in submission order;
// interleaving with other targets is unconstrained.
type PendingQueue struct {
	mu      sync.Mutex
	entries []pendingEntry
}

// NewPendingQueue creates an empty pending queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Enqueue appends a message targeted at target.
func (q *PendingQueue) Enqueue(payload []byte, target Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, pendingEntry{payload: payload, target: target})
}

// DrainTarget removes and returns, in order, every entry targeting
// target. Call on a connect-accepted event to flush queued sends.
func (q *PendingQueue) DrainTarget(target Address) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained [][]byte
	kept := q.entries[:0:0]
	for _, e := range q.entries {
		if e.target == target {
			drained = append(drained, e.payload)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return drained
}

// DropTarget removes every entry targeting target without returning them,
// for connect-attempt-failed or disconnect of the target.
func (q *PendingQueue) DropTarget(target Address) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0:0]
	dropped := 0
	for _, e := range q.entries {
		if e.target == target {
			dropped++
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return dropped
}

// HasTarget reports whether any entry currently targets target. A
// relayMap entry with an unconnected server should always have at least
// one pending entry targeting it.
func (q *PendingQueue) HasTarget(target Address) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.target == target {
			return true
		}
	}
	return false
}

// Len returns the number of queued entries, for the metrics surface.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Targets returns a snapshot of every target currently present in the
// queue, for invariant checks in tests.
func (q *PendingQueue) Targets() []Address {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Address, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.target)
	}
	return out
}

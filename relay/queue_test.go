package relay

import (
	"bytes"
	"testing"
)

func TestPendingQueueDrainTargetOrderAndIsolation(t *testing.T) {
	q := NewPendingQueue()
	target := addrN(1)
	other := addrN(2)

	q.Enqueue([]byte("first"), target)
	q.Enqueue([]byte("for-other"), other)
	q.Enqueue([]byte("second"), target)

	drained := q.DrainTarget(target)
	if len(drained) != 2 {
		t.Fatalf("drained = %v, want 2 entries", drained)
	}
	if !bytes.Equal(drained[0], []byte("first")) || !bytes.Equal(drained[1], []byte("second")) {
		t.Fatalf("drained out of order: %v", drained)
	}
	if q.HasTarget(target) {
		t.Fatal("expected no remaining entries for target")
	}
	if !q.HasTarget(other) {
		t.Fatal("expected other's entry to remain untouched")
	}
}

func TestPendingQueueDropTarget(t *testing.T) {
	q := NewPendingQueue()
	target := addrN(1)
	q.Enqueue([]byte("a"), target)
	q.Enqueue([]byte("b"), target)

	dropped := q.DropTarget(target)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestPendingQueueTargetsSnapshot(t *testing.T) {
	q := NewPendingQueue()
	a, b := addrN(1), addrN(2)
	q.Enqueue([]byte("x"), a)
	q.Enqueue([]byte("y"), b)

	targets := q.Targets()
	if len(targets) != 2 {
		t.Fatalf("Targets = %v, want 2 entries", targets)
	}
}

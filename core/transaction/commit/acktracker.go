package commit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ackTracker is a timeout-bounded wait on responses from a set of nodes.
// It is the engine's only suspension point: no lock is held while a
// caller waits. Duplicate deliveries for the same node are no-ops, and
// the expected set can shrink when a node is removed mid-wait.
type ackTracker struct {
	mu        sync.Mutex
	pending   map[NodeID]struct{}
	threshold int // responses needed; 0 means all initially expected
	responded int
	failed    bool
	reason    string
	done      chan struct{}
	closed    bool
}

// newAckTracker expects a positive response from every node in nodes.
// With threshold > 0 it completes once that many nodes responded, the
// quorum mode Paxos rounds use.
func newAckTracker(nodes []NodeID, threshold int) *ackTracker {
	t := &ackTracker{
		pending:   make(map[NodeID]struct{}, len(nodes)),
		threshold: threshold,
		done:      make(chan struct{}),
	}
	for _, n := range nodes {
		t.pending[n] = struct{}{}
	}
	if t.threshold <= 0 {
		t.threshold = len(nodes)
	}
	if t.threshold == 0 {
		t.complete()
	}
	return t
}

// deliver records one node's response. ok=false fails the whole wait.
func (t *ackTracker) deliver(node NodeID, ok bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, expected := t.pending[node]; !expected {
		return // duplicate or stray
	}
	delete(t.pending, node)

	if !ok {
		t.failed = true
		t.reason = reason
		t.complete()
		return
	}

	t.responded++
	if t.responded >= t.threshold {
		t.complete()
	}
}

// fail aborts the wait with the given reason.
func (t *ackTracker) fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.failed = true
	t.reason = reason
	t.complete()
}

// dropNode removes a node from the expected set, e.g. after the node is
// declared failed. In all-responses mode losing a node fails the wait;
// in quorum mode the wait continues as long as the quorum stays
// reachable.
func (t *ackTracker) dropNode(node NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, expected := t.pending[node]; !expected {
		return
	}
	delete(t.pending, node)

	if t.threshold > t.responded+len(t.pending) {
		// Quorum can no longer be reached.
		t.failed = true
		t.reason = fmt.Sprintf("participant %s lost", node)
		t.complete()
		return
	}
	if t.responded >= t.threshold {
		t.complete()
	}
}

// complete closes done. Callers must hold t.mu.
func (t *ackTracker) complete() {
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// outstanding returns the nodes that have not responded yet.
func (t *ackTracker) outstanding() []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeID, 0, len(t.pending))
	for n := range t.pending {
		out = append(out, n)
	}
	return out
}

// wait blocks until the tracker completes, the timeout elapses, or ctx
// is canceled. It returns nil only when the required responses arrived
// and none was negative.
func (t *ackTracker) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
	case <-timer.C:
		t.fail("timed out waiting for responses")
		return context.DeadlineExceeded
	case <-ctx.Done():
		t.fail("canceled")
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return fmt.Errorf("%w: %s", errNegativeResponse, t.reason)
	}
	return nil
}

package transport

import (
	"fmt"
	"sync"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

// Fabric is an in-process transport connecting multiple engines through
// Go channels. It exists for tests and single-binary clusters; messages
// still round-trip through the wire codec so envelope bugs surface.
type Fabric struct {
	mu    sync.RWMutex
	nodes map[commit.NodeID]Handler

	// dropped, when set, swallows messages addressed to these nodes to
	// simulate partitions.
	dropped map[commit.NodeID]struct{}
}

// NewFabric creates an empty in-process fabric.
func NewFabric() *Fabric {
	return &Fabric{
		nodes:   make(map[commit.NodeID]Handler),
		dropped: make(map[commit.NodeID]struct{}),
	}
}

// Attach registers a node's handler and returns its endpoint.
func (f *Fabric) Attach(id commit.NodeID, handler Handler) *Endpoint {
	f.mu.Lock()
	f.nodes[id] = handler
	f.mu.Unlock()
	return &Endpoint{fabric: f, localID: id}
}

// Drop makes the fabric silently discard messages to a node.
func (f *Fabric) Drop(id commit.NodeID) {
	f.mu.Lock()
	f.dropped[id] = struct{}{}
	f.mu.Unlock()
}

// Restore undoes Drop.
func (f *Fabric) Restore(id commit.NodeID) {
	f.mu.Lock()
	delete(f.dropped, id)
	f.mu.Unlock()
}

func (f *Fabric) deliver(to commit.NodeID, msg commit.Message) error {
	// Round-trip the codec so the in-process path exercises the same
	// envelope as TCP.
	frame, err := commit.EncodeMessage(msg)
	if err != nil {
		return err
	}
	decoded, err := commit.DecodeMessage(frame)
	if err != nil {
		return err
	}

	f.mu.RLock()
	_, gone := f.dropped[to]
	handler := f.nodes[to]
	f.mu.RUnlock()

	if gone {
		return fmt.Errorf("node %s unreachable", to)
	}
	if handler == nil {
		return fmt.Errorf("unknown node %s", to)
	}
	return handler(decoded)
}

// Endpoint is one node's view of the fabric, satisfying the engine's
// Transport interface.
type Endpoint struct {
	fabric  *Fabric
	localID commit.NodeID
}

// Send delivers one message synchronously.
func (e *Endpoint) Send(node commit.NodeID, msg commit.Message) error {
	return e.fabric.deliver(node, msg)
}

// Broadcast delivers to every attached node except the sender.
func (e *Endpoint) Broadcast(msg commit.Message) error {
	e.fabric.mu.RLock()
	ids := make([]commit.NodeID, 0, len(e.fabric.nodes))
	for id := range e.fabric.nodes {
		if id != e.localID {
			ids = append(ids, id)
		}
	}
	e.fabric.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := e.fabric.deliver(id, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

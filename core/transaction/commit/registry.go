package commit

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// TotalHashSlots is the fixed number of hash slots data items map onto.
const TotalHashSlots = 1024

// Registry tracks cluster membership and which node owns which data
// items. Ownership is by hash slot: a key hashes to one of
// TotalHashSlots slots and slots are spread across the member list in
// sorted order, so every member computes the same assignment.
type Registry struct {
	mu    sync.RWMutex
	nodes map[NodeID]string // node ID -> transport address
}

// NewRegistry creates a Registry seeded with the given members.
func NewRegistry(nodes map[NodeID]string) *Registry {
	r := &Registry{nodes: make(map[NodeID]string, len(nodes))}
	for id, addr := range nodes {
		r.nodes[id] = addr
	}
	return r
}

// AddNode registers a member.
func (r *Registry) AddNode(id NodeID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = addr
}

// RemoveNode deregisters a member.
func (r *Registry) RemoveNode(id NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Address returns the transport address of a member.
func (r *Registry) Address(id NodeID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.nodes[id]
	return addr, ok
}

// Nodes returns the member IDs in sorted order.
func (r *Registry) Nodes() []NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Len returns the known cluster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Slot maps a data item to its hash slot.
func Slot(key string) uint64 {
	return xxhash.Sum64String(key) % TotalHashSlots
}

// OwnerOf returns the member owning a data item's slot.
func (r *Registry) OwnerOf(key string) (NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.sortedLocked()
	if len(ids) == 0 {
		return "", false
	}
	return ids[Slot(key)%uint64(len(ids))], true
}

// Distribute groups data items by owning member.
func (r *Registry) Distribute(keys []string) map[NodeID][]string {
	out := make(map[NodeID][]string)
	for _, key := range keys {
		owner, ok := r.OwnerOf(key)
		if !ok {
			continue
		}
		out[owner] = append(out[owner], key)
	}
	return out
}

func (r *Registry) sortedLocked() []NodeID {
	ids := make([]NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

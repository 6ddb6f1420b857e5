package commit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(map[NodeID]string{
		"node-1": "127.0.0.1:7411",
		"node-2": "127.0.0.1:7412",
		"node-3": "127.0.0.1:7413",
	})
}

func TestRegistry_Membership(t *testing.T) {
	r := testRegistry()
	require.Equal(t, 3, r.Len())
	require.Equal(t, []NodeID{"node-1", "node-2", "node-3"}, r.Nodes())

	addr, ok := r.Address("node-2")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:7412", addr)

	r.RemoveNode("node-2")
	_, ok = r.Address("node-2")
	require.False(t, ok)
	require.Equal(t, 2, r.Len())
}

func TestSlot_Deterministic(t *testing.T) {
	for _, key := range []string{"user:1", "order:42", ""} {
		slot := Slot(key)
		require.Less(t, slot, uint64(TotalHashSlots))
		require.Equal(t, slot, Slot(key), "same key must always hash to the same slot")
	}
}

func TestRegistry_OwnerConsistentAcrossMembers(t *testing.T) {
	// Two registries with the same membership must agree on ownership,
	// regardless of insertion order.
	a := NewRegistry(map[NodeID]string{"n1": "x", "n2": "y", "n3": "z"})
	b := NewRegistry(map[NodeID]string{"n3": "z", "n1": "x", "n2": "y"})

	for _, key := range []string{"alpha", "beta", "gamma", "delta"} {
		ownerA, okA := a.OwnerOf(key)
		ownerB, okB := b.OwnerOf(key)
		require.True(t, okA)
		require.True(t, okB)
		require.Equal(t, ownerA, ownerB)
	}
}

func TestRegistry_DistributeCoversAllKeys(t *testing.T) {
	r := testRegistry()
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	byOwner := r.Distribute(keys)

	total := 0
	for owner, owned := range byOwner {
		_, known := r.Address(owner)
		require.True(t, known)
		total += len(owned)
	}
	require.Equal(t, len(keys), total)
}

func TestRegistry_OwnerOfEmptyCluster(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.OwnerOf("anything")
	require.False(t, ok)
}

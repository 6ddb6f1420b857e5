package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

func TestFabric_DeliversThroughWireCodec(t *testing.T) {
	fabric := NewFabric()

	var received []commit.Message
	fabric.Attach("n1", func(msg commit.Message) error {
		received = append(received, msg)
		return nil
	})
	sender := fabric.Attach("n2", func(commit.Message) error { return nil })

	original := commit.Prepare{
		Txn:          "t1",
		Coordinator:  "n2",
		Participants: []commit.NodeID{"n1", "n2"},
		Items:        []string{"k"},
	}
	require.NoError(t, sender.Send("n1", original))

	require.Len(t, received, 1)
	// The codec round trip must hand back the value form, identical to
	// what was sent.
	require.Equal(t, original, received[0])
}

func TestFabric_UnknownNode(t *testing.T) {
	fabric := NewFabric()
	sender := fabric.Attach("n1", func(commit.Message) error { return nil })

	err := sender.Send("ghost", commit.Heartbeat{Coordinator: "n1", Term: 1})
	require.Error(t, err)
}

func TestFabric_DropAndRestore(t *testing.T) {
	fabric := NewFabric()

	delivered := 0
	fabric.Attach("n1", func(commit.Message) error {
		delivered++
		return nil
	})
	sender := fabric.Attach("n2", func(commit.Message) error { return nil })

	fabric.Drop("n1")
	require.Error(t, sender.Send("n1", commit.Heartbeat{Coordinator: "n2", Term: 1}))
	require.Zero(t, delivered)

	fabric.Restore("n1")
	require.NoError(t, sender.Send("n1", commit.Heartbeat{Coordinator: "n2", Term: 1}))
	require.Equal(t, 1, delivered)
}

func TestFabric_BroadcastSkipsSender(t *testing.T) {
	fabric := NewFabric()

	counts := make(map[commit.NodeID]int)
	for _, id := range []commit.NodeID{"n1", "n2", "n3"} {
		id := id
		fabric.Attach(id, func(commit.Message) error {
			counts[id]++
			return nil
		})
	}

	sender := fabric.Attach("n1", func(commit.Message) error {
		counts["n1"]++
		return nil
	})

	require.NoError(t, sender.Broadcast(commit.Heartbeat{Coordinator: "n1", Term: 1}))
	require.Zero(t, counts["n1"])
	require.Equal(t, 1, counts["n2"])
	require.Equal(t, 1, counts["n3"])
}

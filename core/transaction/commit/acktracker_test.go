package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAckTracker_AllPositiveCompletes(t *testing.T) {
	nodes := []NodeID{"a", "b", "c"}
	tracker := newAckTracker(nodes, 0)

	for _, n := range nodes {
		tracker.deliver(n, true, "")
	}

	err := tracker.wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Empty(t, tracker.outstanding())
}

func TestAckTracker_NegativeResponseFailsWait(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a", "b"}, 0)

	tracker.deliver("a", true, "")
	tracker.deliver("b", false, "lock conflict")

	err := tracker.wait(context.Background(), time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "lock conflict")
}

func TestAckTracker_DuplicateDeliveryIsNoop(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a", "b"}, 0)

	tracker.deliver("a", true, "")
	// Redelivery of the same response, and a late contradictory one,
	// must not complete or fail the wait.
	tracker.deliver("a", true, "")
	tracker.deliver("a", false, "late duplicate")

	done := make(chan error, 1)
	go func() {
		done <- tracker.wait(context.Background(), 100*time.Millisecond)
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}
}

func TestAckTracker_TimeoutWithMissingResponse(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a", "b"}, 0)
	tracker.deliver("a", true, "")

	err := tracker.wait(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []NodeID{"b"}, tracker.outstanding())
}

func TestAckTracker_DropNodeFailsAllResponsesMode(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a", "b", "c"}, 0)
	tracker.deliver("a", true, "")
	tracker.dropNode("b")

	err := tracker.wait(context.Background(), time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "participant b lost")
}

func TestAckTracker_QuorumModeToleratesMinorityLoss(t *testing.T) {
	// Quorum of 2 out of 3: one lost node must not block.
	tracker := newAckTracker([]NodeID{"a", "b", "c"}, 2)

	tracker.dropNode("c")
	tracker.deliver("a", true, "")
	tracker.deliver("b", true, "")

	require.NoError(t, tracker.wait(context.Background(), time.Second))
}

func TestAckTracker_QuorumModeFailsWhenUnreachable(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a", "b", "c"}, 2)

	tracker.dropNode("b")
	tracker.dropNode("c")

	err := tracker.wait(context.Background(), time.Second)
	require.Error(t, err)
	require.True(t, errors.Is(err, errNegativeResponse))
}

func TestAckTracker_ContextCancellation(t *testing.T) {
	tracker := newAckTracker([]NodeID{"a"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

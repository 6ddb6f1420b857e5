package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

// fakeEngine satisfies the monitor's Engine slice without a cluster.
type fakeEngine struct {
	localID     commit.NodeID
	coordinator commit.NodeID
	known       bool
	inProgress  bool
	elections   int
	electionErr error
}

func (f *fakeEngine) LocalID() commit.NodeID { return f.localID }
func (f *fakeEngine) CurrentCoordinator() (commit.NodeID, bool) {
	return f.coordinator, f.known
}
func (f *fakeEngine) ElectionInProgress() bool { return f.inProgress }
func (f *fakeEngine) InitiateElection() error {
	f.elections++
	return f.electionErr
}

func setupMonitor(t *testing.T, engine Engine, timeout time.Duration) *Monitor {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewMonitor(engine, timeout, logger)
}

func TestMonitor_SilenceTriggersElection(t *testing.T) {
	engine := &fakeEngine{localID: "n1", coordinator: "n2", known: true}
	m := setupMonitor(t, engine, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.check()

	require.Equal(t, 1, engine.elections)
}

func TestMonitor_HeartbeatResetsSilence(t *testing.T) {
	engine := &fakeEngine{localID: "n1", coordinator: "n2", known: true}
	m := setupMonitor(t, engine, 50*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	m.Observe(commit.Heartbeat{Coordinator: "n2", Term: 1})
	time.Sleep(30 * time.Millisecond)
	m.check()

	require.Zero(t, engine.elections, "a fresh heartbeat must postpone the election")
}

func TestMonitor_OwnCoordinatorshipNeedsNoElection(t *testing.T) {
	engine := &fakeEngine{localID: "n1", coordinator: "n1", known: true}
	m := setupMonitor(t, engine, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.check()

	require.Zero(t, engine.elections)
}

func TestMonitor_WaitsOutRunningElection(t *testing.T) {
	engine := &fakeEngine{localID: "n1", known: false, inProgress: true}
	m := setupMonitor(t, engine, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.check()

	require.Zero(t, engine.elections)
}

func TestMonitor_ElectionTrafficCountsAsLiveness(t *testing.T) {
	engine := &fakeEngine{localID: "n1", known: false}
	m := setupMonitor(t, engine, 50*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	m.Observe(commit.Election{Candidate: "n3", Term: 2})
	time.Sleep(30 * time.Millisecond)
	m.check()

	require.Zero(t, engine.elections)
}

func TestMonitor_ThrottledElectionIsQuiet(t *testing.T) {
	engine := &fakeEngine{localID: "n1", known: false, electionErr: commit.ErrElectionThrottled}
	m := setupMonitor(t, engine, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.check()

	require.Equal(t, 1, engine.elections)
}

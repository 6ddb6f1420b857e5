package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStore(t *testing.T) *MemStore {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewMemStore(logger)
}

func TestMemStore_StagePrepareCommit(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Stage("t1", Operation{Command: CommandPut, Key: "a", Value: "1"}))
	require.NoError(t, s.Stage("t1", Operation{Command: CommandPut, Key: "b", Value: "2"}))

	// Nothing visible before commit.
	_, found := s.Get("a")
	require.False(t, found)

	require.NoError(t, s.Prepare("t1", []string{"a", "b"}))
	_, found = s.Get("a")
	require.False(t, found, "prepared writes must stay invisible")

	require.NoError(t, s.Commit("t1"))
	v, found := s.Get("a")
	require.True(t, found)
	require.Equal(t, "1", v)
	require.Equal(t, 2, s.Len())
}

func TestMemStore_AbortRollsBack(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Stage("t1", Operation{Command: CommandPut, Key: "a", Value: "1"}))
	require.NoError(t, s.Prepare("t1", []string{"a"}))
	require.NoError(t, s.Abort("t1"))

	_, found := s.Get("a")
	require.False(t, found)

	// The lock is released, a later transaction can take the key.
	require.NoError(t, s.Prepare("t2", []string{"a"}))
}

func TestMemStore_PrepareConflictVotesNo(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Prepare("t1", []string{"shared"}))

	err := s.Prepare("t2", []string{"shared"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "locked by transaction t1")

	// The conflicting transaction holds nothing afterwards; t1's lock
	// survives.
	require.NoError(t, s.Abort("t2"))
	err = s.Prepare("t3", []string{"shared"})
	require.Error(t, err)
}

func TestMemStore_DecisionsAreIdempotent(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Stage("t1", Operation{Command: CommandPut, Key: "a", Value: "1"}))
	require.NoError(t, s.Prepare("t1", nil))
	// Duplicate prepare for an already-prepared transaction succeeds.
	require.NoError(t, s.Prepare("t1", nil))

	require.NoError(t, s.Commit("t1"))
	require.NoError(t, s.Commit("t1"))
	require.NoError(t, s.Abort("t1"))

	v, found := s.Get("a")
	require.True(t, found, "a late abort must not undo a committed transaction")
	require.Equal(t, "1", v)
}

func TestMemStore_DeleteCommand(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Stage("t1", Operation{Command: CommandPut, Key: "a", Value: "1"}))
	require.NoError(t, s.Prepare("t1", nil))
	require.NoError(t, s.Commit("t1"))

	require.NoError(t, s.Stage("t2", Operation{Command: CommandDelete, Key: "a"}))
	require.NoError(t, s.Prepare("t2", nil))
	require.NoError(t, s.Commit("t2"))

	_, found := s.Get("a")
	require.False(t, found)
}

func TestMemStore_RejectsUnknownCommand(t *testing.T) {
	s := setupStore(t)
	err := s.Stage("t1", Operation{Command: "INCR", Key: "a"})
	require.Error(t, err)
}

func TestMemStore_NoStagingAfterPrepare(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Prepare("t1", []string{"a"}))
	err := s.Stage("t1", Operation{Command: CommandPut, Key: "b", Value: "2"})
	require.Error(t, err)
}

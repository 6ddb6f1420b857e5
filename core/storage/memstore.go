// Package storage holds the node-local participant store the commit
// engine drives. Writes are staged per transaction, locked at prepare
// time and applied only on commit.
package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Operation is a single staged mutation within a transaction.
type Operation struct {
	Command string `json:"command"` // PUT or DELETE
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
}

const (
	CommandPut    = "PUT"
	CommandDelete = "DELETE"
)

// txnStaging is the in-memory record of one in-flight transaction on
// this participant.
type txnStaging struct {
	ops      []Operation
	held     map[string]struct{} // keys locked at prepare
	prepared bool
}

// MemStore is an in-memory key-value store with per-key write locks.
// Prepare acquires the locks and votes; Commit and Abort are idempotent
// so duplicate decisions from a coordinator are harmless.
type MemStore struct {
	mu     sync.Mutex
	data   map[string]string
	locks  map[string]string // key -> holding transaction
	staged map[string]*txnStaging
	logger *zap.Logger
}

// NewMemStore creates an empty store.
func NewMemStore(logger *zap.Logger) *MemStore {
	return &MemStore{
		data:   make(map[string]string),
		locks:  make(map[string]string),
		staged: make(map[string]*txnStaging),
		logger: logger.Named("storage"),
	}
}

// Stage buffers an operation for a transaction. Nothing is visible or
// locked until Prepare.
func (s *MemStore) Stage(txnID string, op Operation) error {
	if op.Command != CommandPut && op.Command != CommandDelete {
		return fmt.Errorf("unknown command %q", op.Command)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.staged[txnID]
	if st == nil {
		st = &txnStaging{held: make(map[string]struct{})}
		s.staged[txnID] = st
	}
	if st.prepared {
		return fmt.Errorf("transaction %s already prepared", txnID)
	}
	st.ops = append(st.ops, op)
	return nil
}

// Prepare locks the transaction's items and votes. A key already locked
// by another transaction is a conflict and the vote is no. Calling
// Prepare again for a prepared transaction succeeds without side
// effects.
func (s *MemStore) Prepare(txnID string, items []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.staged[txnID]
	if st == nil {
		st = &txnStaging{held: make(map[string]struct{})}
		s.staged[txnID] = st
	}
	if st.prepared {
		return nil
	}

	keys := make(map[string]struct{}, len(items))
	for _, key := range items {
		keys[key] = struct{}{}
	}
	for _, op := range st.ops {
		keys[op.Key] = struct{}{}
	}

	for key := range keys {
		if holder, locked := s.locks[key]; locked && holder != txnID {
			s.releaseLocked(txnID, st)
			return fmt.Errorf("key %q locked by transaction %s", key, holder)
		}
	}
	for key := range keys {
		s.locks[key] = txnID
		st.held[key] = struct{}{}
	}
	st.prepared = true

	s.logger.Debug("Prepared local transaction",
		zap.String("txn", txnID), zap.Int("keys", len(keys)))
	return nil
}

// Commit applies the staged operations and releases the locks.
// Committing a transaction the store does not know is a no-op.
func (s *MemStore) Commit(txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.staged[txnID]
	if st == nil {
		return nil
	}
	for _, op := range st.ops {
		switch op.Command {
		case CommandPut:
			s.data[op.Key] = op.Value
		case CommandDelete:
			delete(s.data, op.Key)
		}
	}
	s.releaseLocked(txnID, st)
	delete(s.staged, txnID)

	s.logger.Debug("Committed local transaction",
		zap.String("txn", txnID), zap.Int("ops", len(st.ops)))
	return nil
}

// Abort discards the staged operations and releases the locks. Unknown
// transactions are a no-op.
func (s *MemStore) Abort(txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.staged[txnID]
	if st == nil {
		return nil
	}
	s.releaseLocked(txnID, st)
	delete(s.staged, txnID)

	s.logger.Debug("Aborted local transaction", zap.String("txn", txnID))
	return nil
}

// Get reads a committed value.
func (s *MemStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Len returns the number of committed keys.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *MemStore) releaseLocked(txnID string, st *txnStaging) {
	for key := range st.held {
		if s.locks[key] == txnID {
			delete(s.locks, key)
		}
	}
	st.held = make(map[string]struct{})
}

package commit

import (
	"time"

	"github.com/google/uuid"
)

// TransactionID is the globally unique identifier of a distributed
// transaction.
type TransactionID string

// NodeID is the cluster-unique identifier of a node.
type NodeID string

// NewTransactionID generates a fresh globally unique transaction ID.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// TxnState is the protocol state of a distributed transaction. States
// only advance forward or branch to the abort/failed path, never
// backward.
type TxnState int

const (
	StatePreparing TxnState = iota
	StatePrepared
	StateCommitting
	StateCommitted
	StateAborting
	StateAborted
	StateFailed
)

func (s TxnState) String() string {
	switch s {
	case StatePreparing:
		return "Preparing"
	case StatePrepared:
		return "Prepared"
	case StateCommitting:
		return "Committing"
	case StateCommitted:
		return "Committed"
	case StateAborting:
		return "Aborting"
	case StateAborted:
		return "Aborted"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s TxnState) Terminal() bool {
	return s == StateCommitted || s == StateAborted || s == StateFailed
}

// canTransition encodes the forward-only state machine.
func canTransition(from, to TxnState) bool {
	if from.Terminal() {
		return false
	}
	// Any live state may fail unrecoverably.
	if to == StateFailed {
		return true
	}
	switch from {
	case StatePreparing:
		return to == StatePrepared || to == StateAborting
	case StatePrepared:
		return to == StateCommitting || to == StateAborting
	case StateCommitting:
		return to == StateCommitted
	case StateAborting:
		return to == StateAborted
	default:
		return false
	}
}

// Participant is per-node bookkeeping inside one transaction record,
// stored by value in the record's participant map.
type Participant struct {
	NodeID NodeID
	// DataItems are the keys this node owns for the transaction.
	DataItems map[string]struct{}
	// Prepared means the node durably voted yes; it must not abort
	// unilaterally afterwards.
	Prepared     bool
	Acknowledged bool
	LastContact  time.Time
}

// txnRecord is the coordinator's record of one distributed transaction.
// It lives in the engine's arena keyed by TransactionID and is mutated
// only by the coordinator.
type txnRecord struct {
	GlobalID     TransactionID
	Coordinator  NodeID
	Participants map[NodeID]Participant
	State        TxnState
	StartTime    time.Time
	Timeout      time.Duration
	Protocol     Protocol
}

// participantIDs returns the current participant set.
func (r *txnRecord) participantIDs() []NodeID {
	ids := make([]NodeID, 0, len(r.Participants))
	for id := range r.Participants {
		ids = append(ids, id)
	}
	return ids
}

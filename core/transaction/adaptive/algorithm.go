// Package adaptive implements workload-driven selection of the local
// concurrency-control algorithm. It observes rolling workload statistics,
// extrapolates a near-future trend, scores the candidate algorithms and
// hot-swaps the active one when the expected gain justifies it.
package adaptive

// Algorithm identifies one of the local concurrency-control algorithms a
// node can run. The set is closed: scoring and switching iterate over
// Algorithms and a new entry is a compile-time change.
type Algorithm int

const (
	TwoPhaseLocking Algorithm = iota
	OptimisticConcurrencyControl
	MVCC
	TimestampOrdering
)

// Algorithms lists every candidate algorithm in scoring order.
func Algorithms() []Algorithm {
	return []Algorithm{TwoPhaseLocking, OptimisticConcurrencyControl, MVCC, TimestampOrdering}
}

func (a Algorithm) String() string {
	switch a {
	case TwoPhaseLocking:
		return "2PL"
	case OptimisticConcurrencyControl:
		return "OCC"
	case MVCC:
		return "MVCC"
	case TimestampOrdering:
		return "TO"
	default:
		return "unknown"
	}
}

package commit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Paxos commit decides a transaction's outcome by single-decree Paxos
// over the participant set as acceptors. The voting phase matches 2PC
// prepare; the decision rounds then only need a strict majority, so a
// minority of participants can fail without blocking the transaction.

// paxosAcceptor is one participant's acceptor state for one transaction.
type paxosAcceptor struct {
	promisedN       uint64
	acceptedN       uint64
	acceptedOutcome Outcome
}

// promiseCollector gathers PaxosPromise replies until a quorum is
// promised or the wait times out.
type promiseCollector struct {
	mu       sync.Mutex
	quorum   int
	promises map[NodeID]PaxosPromise
	done     chan struct{}
	closed   bool
}

func newPromiseCollector(quorum int) *promiseCollector {
	return &promiseCollector{
		quorum:   quorum,
		promises: make(map[NodeID]PaxosPromise),
		done:     make(chan struct{}),
	}
}

// add records one promise; duplicates and rejections are ignored.
func (c *promiseCollector) add(p PaxosPromise) {
	if !p.Promised {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.promises[p.Node] = p
	if len(c.promises) >= c.quorum {
		c.closed = true
		close(c.done)
	}
}

// wait blocks for a promised quorum.
func (c *promiseCollector) wait(ctx context.Context, timeout time.Duration) ([]PaxosPromise, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		return nil, fmt.Errorf("%w: promise quorum not reached", ErrNoQuorum)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PaxosPromise, 0, len(c.promises))
	for _, p := range c.promises {
		out = append(out, p)
	}
	return out, nil
}

// nextProposal returns a proposal number unique across proposers:
// a per-engine sequence in the high bits, a node fingerprint in the low
// 16, so competing proposers never collide.
func (e *Engine) nextProposal() uint64 {
	e.paxosMu.Lock()
	defer e.paxosMu.Unlock()
	e.proposalSeq++
	return e.proposalSeq<<16 | (xxhash.Sum64String(string(e.localID)) & 0xffff)
}

func (e *Engine) acceptorFor(id TransactionID) *paxosAcceptor {
	e.paxosMu.Lock()
	defer e.paxosMu.Unlock()
	a, ok := e.acceptors[id]
	if !ok {
		a = &paxosAcceptor{}
		e.acceptors[id] = a
	}
	return a
}

// runPaxosCommit votes like 2PC, then drives consensus on the outcome.
func (e *Engine) runPaxosCommit(ctx context.Context, rec *txnRecord) error {
	id := rec.GlobalID
	participants := e.liveParticipants(rec)
	participantIDs := rec.participantIDs()

	// Voting phase: every live participant must vote yes for a commit
	// outcome. A no vote or timeout makes the proposed outcome Abort;
	// the decision itself still goes through consensus so every
	// participant learns the same outcome.
	outcome := OutcomeCommit
	voteReason := ""
	tracker := e.registerWaiter(id, waitPrepare, participants, 0)
	e.fanOut(participants, func(node NodeID) Message {
		return Prepare{
			Txn:          id,
			Coordinator:  e.localID,
			Participants: participantIDs,
			Items:        e.itemsFor(rec, node),
		}
	}, tracker)
	if err := tracker.wait(ctx, e.cfg.prepareTimeout()); err != nil {
		outcome = OutcomeAbort
		voteReason = err.Error()
	}
	e.clearWaiters(id)

	if outcome == OutcomeCommit {
		e.setState(rec, StatePrepared)
	}

	chosen, err := e.proposeOutcome(ctx, rec, outcome)
	if err != nil {
		e.setState(rec, StateFailed)
		e.archiveRecord(rec)
		e.stats.incFailed()
		e.metrics.TxnsFailed.Add(ctx, 1)
		return fmt.Errorf("%w: consensus failed: %v", ErrCommitFailed, err)
	}

	// Spread the decision; acceptors apply it locally and idempotently.
	learners := e.liveParticipants(rec)
	e.fanOutLearn(id, chosen, learners)

	if chosen == OutcomeAbort {
		e.setState(rec, StateAborting)
		e.setState(rec, StateAborted)
		e.archiveRecord(rec)
		e.stats.incAborted()
		e.metrics.TxnsAborted.Add(ctx, 1)
		if voteReason != "" {
			return fmt.Errorf("%w: %s", ErrTxnAborted, voteReason)
		}
		return ErrTxnAborted
	}

	// The chosen outcome can come from an earlier proposer's round, in
	// which case a record whose own vote failed is still Preparing.
	e.setState(rec, StatePrepared)
	e.setState(rec, StateCommitting)
	e.setState(rec, StateCommitted)
	e.archiveRecord(rec)
	e.logger.Info("Committed distributed transaction via paxos", zap.String("txn", string(id)))
	return nil
}

// proposeOutcome runs prepare/accept rounds until an outcome is chosen
// by a strict majority of participants, retrying with higher proposal
// numbers when a round is preempted.
func (e *Engine) proposeOutcome(ctx context.Context, rec *txnRecord, outcome Outcome) (Outcome, error) {
	id := rec.GlobalID

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		participants := e.liveParticipants(rec)
		if len(participants) == 0 {
			return "", fmt.Errorf("%w: no participants left", ErrNoQuorum)
		}
		quorum := len(participants)/2 + 1
		n := e.nextProposal()

		// Phase 1: collect a promised quorum.
		collector := newPromiseCollector(quorum)
		e.paxosMu.Lock()
		e.promiseWaits[id] = collector
		e.paxosMu.Unlock()

		e.fanOutPaxos(participants, PaxosPrepare{Txn: id, Proposer: e.localID, N: n})
		promises, err := collector.wait(ctx, e.cfg.prepareTimeout())
		e.paxosMu.Lock()
		delete(e.promiseWaits, id)
		e.paxosMu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}

		// Quorum intersection: adopt the highest already-accepted
		// outcome, or propose our own when the slot is free.
		proposal := outcome
		var highest uint64
		for _, p := range promises {
			if p.AcceptedN > highest {
				highest = p.AcceptedN
				proposal = p.AcceptedOutcome
			}
		}

		// Phase 2: a quorum must accept.
		accepted := e.registerWaiter(id, acceptPhase(n), participants, quorum)
		e.fanOutPaxos(participants, PaxosAccept{Txn: id, Proposer: e.localID, N: n, Outcome: proposal})
		err = accepted.wait(ctx, e.cfg.commitTimeout())
		e.mu.Lock()
		if w, ok := e.waiters[id]; ok {
			delete(w, acceptPhase(n))
		}
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}

		return proposal, nil
	}

	return "", fmt.Errorf("paxos rounds exhausted after %d retries: %w", e.cfg.MaxRetries, lastErr)
}

func acceptPhase(n uint64) string {
	return fmt.Sprintf("paxos_accept_%d", n)
}

// fanOutPaxos sends one round message to every participant; send
// failures only cost that acceptor's reply, the quorum absorbs them.
func (e *Engine) fanOutPaxos(participants []NodeID, msg Message) {
	for _, node := range participants {
		if err := e.send(node, msg); err != nil {
			e.logger.Warn("Paxos round send failed",
				zap.String("node", string(node)), zap.Error(err))
		}
	}
}

// fanOutLearn spreads the chosen outcome, best-effort.
func (e *Engine) fanOutLearn(id TransactionID, outcome Outcome, participants []NodeID) {
	for _, node := range participants {
		if err := e.send(node, PaxosLearn{Txn: id, Outcome: outcome}); err != nil {
			e.logger.Warn("Learn send failed",
				zap.String("node", string(node)), zap.Error(err))
		}
	}
}

// --- acceptor-side handlers ---

// handlePaxosPrepare promises not to accept lower-numbered proposals.
func (e *Engine) handlePaxosPrepare(m PaxosPrepare) error {
	a := e.acceptorFor(m.Txn)

	e.paxosMu.Lock()
	promised := m.N >= a.promisedN
	if promised {
		a.promisedN = m.N
	}
	reply := PaxosPromise{
		Txn:             m.Txn,
		Node:            e.localID,
		N:               m.N,
		Promised:        promised,
		AcceptedN:       a.acceptedN,
		AcceptedOutcome: a.acceptedOutcome,
	}
	e.paxosMu.Unlock()

	return e.send(m.Proposer, reply)
}

// handlePaxosPromise feeds the proposer's promise collection.
func (e *Engine) handlePaxosPromise(m PaxosPromise) error {
	e.paxosMu.Lock()
	collector := e.promiseWaits[m.Txn]
	e.paxosMu.Unlock()
	if collector != nil {
		collector.add(m)
	}
	return nil
}

// handlePaxosAccept accepts the proposal unless a higher prepare was
// promised since.
func (e *Engine) handlePaxosAccept(m PaxosAccept) error {
	a := e.acceptorFor(m.Txn)

	e.paxosMu.Lock()
	ok := m.N >= a.promisedN
	if ok {
		a.promisedN = m.N
		a.acceptedN = m.N
		a.acceptedOutcome = m.Outcome
	}
	e.paxosMu.Unlock()

	return e.send(m.Proposer, PaxosAccepted{Txn: m.Txn, Node: e.localID, N: m.N, Ok: ok})
}

// handlePaxosAccepted feeds the proposer's accept quorum.
func (e *Engine) handlePaxosAccepted(m PaxosAccepted) error {
	if tracker := e.waiter(m.Txn, acceptPhase(m.N)); tracker != nil {
		tracker.deliver(m.Node, m.Ok, "proposal preempted")
	}
	return nil
}

// handlePaxosLearn applies the chosen outcome locally. Learning the same
// outcome twice is a no-op because the store's commit and abort are
// idempotent.
func (e *Engine) handlePaxosLearn(m PaxosLearn) error {
	e.paxosMu.Lock()
	delete(e.acceptors, m.Txn)
	e.paxosMu.Unlock()

	if m.Outcome == OutcomeCommit {
		return e.store.Commit(string(m.Txn))
	}
	return e.store.Abort(string(m.Txn))
}

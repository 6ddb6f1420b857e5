package commit

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Participant-side handlers. These run on whichever node a coordinator
// addressed; replies go straight back to the coordinator. All handlers
// are idempotent under duplicate delivery.

// handlePrepare attempts the local prepare and votes.
func (e *Engine) handlePrepare(m Prepare) error {
	err := e.store.Prepare(string(m.Txn), m.Items)
	reply := Prepared{
		Txn:     m.Txn,
		Node:    e.localID,
		Success: err == nil,
	}
	if err != nil {
		reply.Reason = err.Error()
		e.logger.Warn("Local prepare rejected",
			zap.String("txn", string(m.Txn)), zap.Error(err))
	}
	return e.send(m.Coordinator, reply)
}

// handlePreCommit acknowledges the pre-commit round (3PC). Once a
// participant holds a PreCommit it knows everyone voted yes, so with
// fault tolerance enabled it arms a timer to commit unilaterally if the
// coordinator goes silent.
func (e *Engine) handlePreCommit(m PreCommit) error {
	if e.cfg.EnableFaultTolerance {
		e.armUnilateralCommit(m.Txn)
	}
	return e.send(m.Coordinator, Acknowledged{Txn: m.Txn, Node: e.localID, Phase: PhasePreCommit})
}

// handleCommit commits locally and acknowledges. Committing a
// transaction the store no longer knows is a no-op, which makes
// duplicate Commit delivery safe.
func (e *Engine) handleCommit(m Commit) error {
	e.disarmUnilateralCommit(m.Txn)
	if err := e.store.Commit(string(m.Txn)); err != nil {
		return fmt.Errorf("local commit of %s failed: %w", m.Txn, err)
	}
	return e.send(m.Coordinator, Acknowledged{Txn: m.Txn, Node: e.localID, Phase: PhaseCommit})
}

// handleAbort rolls back locally and acknowledges.
func (e *Engine) handleAbort(m Abort) error {
	e.disarmUnilateralCommit(m.Txn)
	if err := e.store.Abort(string(m.Txn)); err != nil {
		return fmt.Errorf("local abort of %s failed: %w", m.Txn, err)
	}
	return e.send(m.Coordinator, Acknowledged{Txn: m.Txn, Node: e.localID, Phase: PhaseAbort})
}

// Coordinator-side response handlers.

// handlePrepared records a participant's vote and feeds the prepare
// wait. Re-delivery of the same vote is a no-op.
func (e *Engine) handlePrepared(m Prepared) error {
	known := e.touchParticipant(m.Txn, m.Node, func(p *Participant) {
		p.Prepared = m.Success
	})
	if !known {
		return fmt.Errorf("%w: %s", ErrTxnNotFound, m.Txn)
	}

	if tracker := e.waiter(m.Txn, waitPrepare); tracker != nil {
		tracker.deliver(m.Node, m.Success, m.Reason)
	}
	return nil
}

// handleAcknowledged records an acknowledgment and feeds the wait for
// its phase.
func (e *Engine) handleAcknowledged(m Acknowledged) error {
	known := e.touchParticipant(m.Txn, m.Node, func(p *Participant) {
		p.Acknowledged = true
	})
	if !known {
		return fmt.Errorf("%w: %s", ErrTxnNotFound, m.Txn)
	}

	if tracker := e.waiter(m.Txn, string(m.Phase)); tracker != nil {
		tracker.deliver(m.Node, true, "")
	}
	return nil
}

// touchParticipant applies an update to one participant of a live
// transaction, refreshing its last contact time. It reports true for
// live and archived transactions; archived ones absorb late messages
// silently. Only an entirely unknown transaction reports false.
func (e *Engine) touchParticipant(id TransactionID, node NodeID, update func(*Participant)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.txns[id]
	if !ok {
		_, archived := e.archive[id]
		return archived
	}
	p, ok := rec.Participants[node]
	if !ok {
		return true // participant already removed, stale response
	}
	update(&p)
	p.LastContact = time.Now()
	rec.Participants[node] = p
	return true
}

// armUnilateralCommit schedules a local commit should the coordinator
// stay silent for a full commit timeout after pre-commit.
func (e *Engine) armUnilateralCommit(id TransactionID) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if _, armed := e.precommitTimers[id]; armed {
		return
	}
	e.precommitTimers[id] = time.AfterFunc(e.cfg.commitTimeout(), func() {
		e.timerMu.Lock()
		delete(e.precommitTimers, id)
		e.timerMu.Unlock()

		e.logger.Warn("Coordinator silent after pre-commit, committing unilaterally",
			zap.String("txn", string(id)))
		if err := e.store.Commit(string(id)); err != nil {
			e.logger.Error("Unilateral commit failed",
				zap.String("txn", string(id)), zap.Error(err))
		}
	})
}

func (e *Engine) disarmUnilateralCommit(id TransactionID) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if timer, armed := e.precommitTimers[id]; armed {
		timer.Stop()
		delete(e.precommitTimers, id)
	}
}

package commit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sushant-115/gojotx/pkg/telemetry"
)

// LocalStore is the local storage engine collaborator. Prepare must
// durably persist commit intent for the transaction's items before
// returning success.
type LocalStore interface {
	Prepare(txnID string, items []string) error
	Commit(txnID string) error
	Abort(txnID string) error
}

// Transport is the messaging collaborator: at-least-once, unordered
// delivery is acceptable, the engine's handlers are idempotent.
type Transport interface {
	Send(node NodeID, msg Message) error
	Broadcast(msg Message) error
}

// Engine drives atomic commitment of transactions spanning multiple
// nodes and answers peer coordination messages. One Engine is
// constructed per node and handed to callers by reference.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	metrics   *telemetry.EngineMetrics
	localID   NodeID
	transport Transport
	store     LocalStore
	registry  *Registry

	// mu protects the transaction arena and waiter table. It is never
	// held across a network wait.
	mu      sync.Mutex
	txns    map[TransactionID]*txnRecord
	archive map[TransactionID]TxnState
	waiters map[TransactionID]map[string]*ackTracker

	// Participant-side timers for unilateral 3PC advancement.
	timerMu         sync.Mutex
	precommitTimers map[TransactionID]*time.Timer

	election        *electionState
	electionLimiter *rate.Limiter

	paxosMu      sync.Mutex
	acceptors    map[TransactionID]*paxosAcceptor
	promiseWaits map[TransactionID]*promiseCollector
	proposalSeq  uint64

	stats engineStats
}

// Waiter phase keys for the non-Paxos protocols.
const (
	waitPrepare   = "prepare"
	waitPreCommit = string(PhasePreCommit)
	waitCommit    = string(PhaseCommit)
	waitAbort     = string(PhaseAbort)
)

// NewEngine constructs the commit engine for one node.
func NewEngine(cfg Config, localID NodeID, registry *Registry, transport Transport, store LocalStore, logger *zap.Logger, metrics *telemetry.EngineMetrics) *Engine {
	if metrics == nil {
		metrics = telemetry.NoopEngineMetrics()
	}
	return &Engine{
		cfg:             cfg,
		logger:          logger.Named("commit"),
		metrics:         metrics,
		localID:         localID,
		transport:       transport,
		store:           store,
		registry:        registry,
		txns:            make(map[TransactionID]*txnRecord),
		archive:         make(map[TransactionID]TxnState),
		waiters:         make(map[TransactionID]map[string]*ackTracker),
		precommitTimers: make(map[TransactionID]*time.Timer),
		election:        newElectionState(),
		// One election per timeout window, with a small burst for tests.
		electionLimiter: rate.NewLimiter(rate.Every(time.Duration(cfg.ElectionTimeoutMs)*time.Millisecond), 2),
		acceptors:       make(map[TransactionID]*paxosAcceptor),
		promiseWaits:    make(map[TransactionID]*promiseCollector),
	}
}

// LocalID returns this node's identifier.
func (e *Engine) LocalID() NodeID { return e.localID }

// HeartbeatInterval returns the configured coordinator heartbeat period.
func (e *Engine) HeartbeatInterval() time.Duration { return e.cfg.heartbeatInterval() }

// Begin creates the coordinator-side record for a distributed
// transaction spanning the given participants. dataDistribution maps
// each participant to the data items it owns for this transaction.
func (e *Engine) Begin(id TransactionID, participants []NodeID, dataDistribution map[NodeID][]string) error {
	if len(participants) == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, ErrNoParticipants)
	}

	now := time.Now()
	participantMap := make(map[NodeID]Participant, len(participants))
	for _, node := range participants {
		items := make(map[string]struct{})
		for _, key := range dataDistribution[node] {
			items[key] = struct{}{}
		}
		participantMap[node] = Participant{
			NodeID:      node,
			DataItems:   items,
			LastContact: now,
		}
	}

	rec := &txnRecord{
		GlobalID:     id,
		Coordinator:  e.localID,
		Participants: participantMap,
		State:        StatePreparing,
		StartTime:    now,
		Timeout:      e.cfg.prepareTimeout() + e.cfg.commitTimeout(),
		Protocol:     e.cfg.CommitProtocol,
	}

	e.mu.Lock()
	if _, exists := e.txns[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTxnAlreadyExists, id)
	}
	e.txns[id] = rec
	e.mu.Unlock()

	e.stats.incTotal()
	e.metrics.TxnsBegun.Add(context.Background(), 1)
	e.logger.Debug("Began distributed transaction",
		zap.String("txn", string(id)),
		zap.Int("participants", len(participants)),
		zap.String("protocol", string(rec.Protocol)))
	return nil
}

// Commit drives the configured commit protocol for the transaction to a
// terminal state. It blocks until Committed, Aborted or Failed.
func (e *Engine) Commit(ctx context.Context, id TransactionID) error {
	start := time.Now()

	rec, err := e.lookup(id)
	if err != nil {
		return err
	}

	switch rec.Protocol {
	case ThreePhaseCommit:
		err = e.runThreePhase(ctx, rec)
	case PaxosCommit:
		err = e.runPaxosCommit(ctx, rec)
	default:
		err = e.runTwoPhase(ctx, rec)
	}
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	e.stats.recordCommit(elapsed)
	e.metrics.TxnsCommitted.Add(ctx, 1)
	e.metrics.CommitLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond))
	return nil
}

// Abort rolls the transaction back on every known participant. Waiting
// for acknowledgments is best-effort: unresponsive participants are
// logged, not retried forever.
func (e *Engine) Abort(ctx context.Context, id TransactionID, reason string) error {
	rec, err := e.lookup(id)
	if err != nil {
		return err
	}

	participants := e.liveParticipants(rec)
	e.setState(rec, StateAborting)
	e.metrics.TxnsAborted.Add(ctx, 1)

	tracker := e.registerWaiter(id, waitAbort, participants, 0)
	e.fanOut(participants, func(node NodeID) Message {
		return Abort{Txn: id, Coordinator: e.localID, Reason: reason}
	}, tracker)

	if waitErr := tracker.wait(ctx, e.cfg.commitTimeout()); waitErr != nil {
		e.logger.Warn("Abort acknowledgments incomplete",
			zap.String("txn", string(id)),
			zap.Any("unresponsive", tracker.outstanding()))
	}
	e.clearWaiters(id)

	e.setState(rec, StateAborted)
	e.archiveRecord(rec)
	e.stats.incAborted()
	e.logger.Info("Aborted distributed transaction",
		zap.String("txn", string(id)), zap.String("reason", reason))
	return nil
}

// runTwoPhase is classic 2PC: unanimous prepare, then commit. A commit
// phase that does not fully acknowledge leaves the transaction Failed
// rather than retried, because participants may already have committed.
func (e *Engine) runTwoPhase(ctx context.Context, rec *txnRecord) error {
	if err := e.preparePhase(ctx, rec); err != nil {
		return err
	}
	return e.commitPhase(ctx, rec)
}

// runThreePhase inserts a pre-commit round between prepare and commit so
// participants that saw "all prepared" can advance without the
// coordinator.
func (e *Engine) runThreePhase(ctx context.Context, rec *txnRecord) error {
	if err := e.preparePhase(ctx, rec); err != nil {
		return err
	}

	id := rec.GlobalID
	participants := e.liveParticipants(rec)
	tracker := e.registerWaiter(id, waitPreCommit, participants, 0)
	e.fanOut(participants, func(node NodeID) Message {
		return PreCommit{Txn: id, Coordinator: e.localID}
	}, tracker)

	// Nobody has committed yet, so a pre-commit timeout can still abort.
	if err := tracker.wait(ctx, e.cfg.commitTimeout()/2); err != nil {
		e.clearWaiters(id)
		if abortErr := e.Abort(ctx, id, "pre-commit phase failed"); abortErr != nil {
			e.logger.Error("Abort after pre-commit failure errored", zap.Error(abortErr))
		}
		return fmt.Errorf("%w: %v", ErrPreCommitFailed, err)
	}

	return e.commitPhase(ctx, rec)
}

// preparePhase fans out Prepare and waits for unanimous yes votes.
// Any rejection, loss or timeout aborts everyone: abort dominates,
// never a partial commit.
func (e *Engine) preparePhase(ctx context.Context, rec *txnRecord) error {
	id := rec.GlobalID
	participants := e.liveParticipants(rec)
	participantIDs := rec.participantIDs()

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
		e.clearWaiters(id)
		if abortErr := e.Abort(ctx, id, "prepare phase failed"); abortErr != nil {
			e.logger.Error("Abort after prepare failure errored", zap.Error(abortErr))
		}
		return fmt.Errorf("%w: %v", ErrPrepareFailed, err)
	}

	e.setState(rec, StatePrepared)
	return nil
}

// commitPhase fans out Commit and waits for all acknowledgments.
func (e *Engine) commitPhase(ctx context.Context, rec *txnRecord) error {
	id := rec.GlobalID
	e.setState(rec, StateCommitting)

	participants := e.liveParticipants(rec)
	tracker := e.registerWaiter(id, waitCommit, participants, 0)
	e.fanOut(participants, func(node NodeID) Message {
		return Commit{Txn: id, Coordinator: e.localID}
	}, tracker)

	if err := tracker.wait(ctx, e.cfg.commitTimeout()); err != nil {
		e.clearWaiters(id)
		// Some participants may already have committed; retrying could
		// double-commit. Fail and leave reconciliation to the operator.
		e.setState(rec, StateFailed)
		e.archiveRecord(rec)
		e.stats.incFailed()
		e.metrics.TxnsFailed.Add(ctx, 1)
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	e.clearWaiters(id)

	e.setState(rec, StateCommitted)
	e.archiveRecord(rec)
	e.logger.Info("Committed distributed transaction", zap.String("txn", string(id)))
	return nil
}

// fanOut sends one message per participant concurrently. A send failure
// counts as that participant's negative response.
func (e *Engine) fanOut(participants []NodeID, build func(NodeID) Message, tracker *ackTracker) {
	var g errgroup.Group
	for _, node := range participants {
		node := node
		g.Go(func() error {
			if err := e.send(node, build(node)); err != nil {
				e.logger.Warn("Send failed", zap.String("node", string(node)), zap.Error(err))
				tracker.deliver(node, false, fmt.Sprintf("send to %s failed: %v", node, err))
			}
			return nil
		})
	}
	// Sends never return errors through the group; failures flow
	// through the tracker.
	_ = g.Wait()
}

// send delivers one message, looping back locally for self-addressed
// messages so a coordinator can participate in its own transactions.
func (e *Engine) send(node NodeID, msg Message) error {
	e.stats.incSent(1)
	e.metrics.MessagesSent.Add(context.Background(), 1)
	if node == e.localID {
		return e.HandleMessage(msg)
	}
	if err := e.transport.Send(node, msg); err != nil {
		return fmt.Errorf("%w: to %s: %v", ErrNetwork, node, err)
	}
	return nil
}

// broadcast delivers one message to every known peer plus the local node.
func (e *Engine) broadcast(msg Message) error {
	peers := e.registry.Nodes()
	sent := uint64(0)
	var firstErr error
	for _, node := range peers {
		if node == e.localID {
			continue
		}
		sent++
		if err := e.transport.Send(node, msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: broadcast to %s: %v", ErrNetwork, node, err)
		}
	}
	e.stats.incSent(sent)
	e.metrics.MessagesSent.Add(context.Background(), int64(sent))
	return firstErr
}

// HandleMessage dispatches one incoming coordination message. The type
// switch is exhaustive over the closed message set.
func (e *Engine) HandleMessage(msg Message) error {
	e.stats.incReceived()
	e.metrics.MessagesReceived.Add(context.Background(), 1)

	switch m := msg.(type) {
	case Prepare:
		return e.handlePrepare(m)
	case Prepared:
		return e.handlePrepared(m)
	case PreCommit:
		return e.handlePreCommit(m)
	case Commit:
		return e.handleCommit(m)
	case Abort:
		return e.handleAbort(m)
	case Acknowledged:
		return e.handleAcknowledged(m)
	case Election:
		return e.handleElection(m)
	case Vote:
		return e.handleVote(m)
	case Heartbeat:
		return e.handleHeartbeat(m)
	case PaxosPrepare:
		return e.handlePaxosPrepare(m)
	case PaxosPromise:
		return e.handlePaxosPromise(m)
	case PaxosAccept:
		return e.handlePaxosAccept(m)
	case PaxosAccepted:
		return e.handlePaxosAccepted(m)
	case PaxosLearn:
		return e.handlePaxosLearn(m)
	default:
		return fmt.Errorf("%w: unhandled message kind %q", ErrInvalidArgument, msg.Kind())
	}
}

// RemoveNode purges a failed node from the cluster and from every
// in-flight transaction. A transaction losing a required participant
// aborts through its waiter unless the protocol tolerates reduced
// quorum (Paxos).
func (e *Engine) RemoveNode(node NodeID) {
	e.registry.RemoveNode(node)

	e.mu.Lock()
	affected := make([]TransactionID, 0)
	for id, rec := range e.txns {
		if _, ok := rec.Participants[node]; !ok {
			continue
		}
		delete(rec.Participants, node)
		affected = append(affected, id)
	}
	trackers := make([]*ackTracker, 0)
	for _, id := range affected {
		for _, tracker := range e.waiters[id] {
			trackers = append(trackers, tracker)
		}
	}
	e.mu.Unlock()

	for range affected {
		e.stats.incParticipantFailures()
	}
	for _, tracker := range trackers {
		tracker.dropNode(node)
	}

	if len(affected) > 0 {
		e.logger.Warn("Removed failed node from in-flight transactions",
			zap.String("node", string(node)), zap.Int("transactions", len(affected)))
	}
}

// Run drives the engine's background duties: coordinator heartbeats and
// the stale-participant sweep. It blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.maybeHeartbeat()
			if e.cfg.EnableFaultTolerance {
				e.sweepStaleParticipants()
			}
		}
	}
}

// sweepStaleParticipants declares participants failed once they have
// been silent past the transaction timeout, counting them against the
// transaction's quorum.
func (e *Engine) sweepStaleParticipants() {
	now := time.Now()

	e.mu.Lock()
	type stale struct {
		txn  TransactionID
		node NodeID
	}
	var found []stale
	for id, rec := range e.txns {
		for node, p := range rec.Participants {
			if node == e.localID {
				continue
			}
			if now.Sub(p.LastContact) > rec.Timeout {
				delete(rec.Participants, node)
				found = append(found, stale{txn: id, node: node})
			}
		}
	}
	trackers := make(map[stale][]*ackTracker)
	for _, f := range found {
		for _, tracker := range e.waiters[f.txn] {
			trackers[f] = append(trackers[f], tracker)
		}
	}
	e.mu.Unlock()

	for _, f := range found {
		e.stats.incParticipantFailures()
		e.logger.Warn("Participant silent past timeout, treating as failed",
			zap.String("txn", string(f.txn)), zap.String("node", string(f.node)))
		for _, tracker := range trackers[f] {
			tracker.dropNode(f.node)
		}
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// TxnState reports the current (or archived terminal) state of a
// transaction.
func (e *Engine) TxnState(id TransactionID) (TxnState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.txns[id]; ok {
		return rec.State, true
	}
	state, ok := e.archive[id]
	return state, ok
}

// --- internal bookkeeping ---

func (e *Engine) lookup(id TransactionID) (*txnRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxnNotFound, id)
	}
	return rec, nil
}

// setState advances a record's protocol state, enforcing the
// forward-only transition rules.
func (e *Engine) setState(rec *txnRecord, to TxnState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.State == to {
		return
	}
	if !canTransition(rec.State, to) {
		e.logger.Error("Rejected backward state transition",
			zap.String("txn", string(rec.GlobalID)),
			zap.Stringer("from", rec.State), zap.Stringer("to", to))
		return
	}
	rec.State = to
}

// archiveRecord moves a terminal record out of the live arena, keeping
// only its final state for late acknowledgments and introspection.
func (e *Engine) archiveRecord(rec *txnRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !rec.State.Terminal() {
		return
	}
	e.archive[rec.GlobalID] = rec.State
	delete(e.txns, rec.GlobalID)
	delete(e.waiters, rec.GlobalID)
}

func (e *Engine) liveParticipants(rec *txnRecord) []NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rec.participantIDs()
}

func (e *Engine) itemsFor(rec *txnRecord, node NodeID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := rec.Participants[node]
	if !ok {
		return nil
	}
	items := make([]string, 0, len(p.DataItems))
	for item := range p.DataItems {
		items = append(items, item)
	}
	return items
}

// registerWaiter installs the acknowledgment tracker for one phase of a
// transaction. threshold 0 means every listed node must respond.
func (e *Engine) registerWaiter(id TransactionID, phase string, nodes []NodeID, threshold int) *ackTracker {
	tracker := newAckTracker(nodes, threshold)
	e.mu.Lock()
	if e.waiters[id] == nil {
		e.waiters[id] = make(map[string]*ackTracker)
	}
	e.waiters[id][phase] = tracker
	e.mu.Unlock()
	return tracker
}

func (e *Engine) waiter(id TransactionID, phase string) *ackTracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiters[id][phase]
}

func (e *Engine) clearWaiters(id TransactionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, id)
}

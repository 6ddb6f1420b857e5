package commit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// electionState is one node's view of coordinator elections. It is
// mutated only by the election handlers.
type electionState struct {
	mu sync.Mutex
	// currentCoordinator is nil while no coordinator is known.
	currentCoordinator *NodeID
	coordinatorTerm    uint64
	// highestTerm is the highest term this node has ever seen; terms are
	// never reused.
	highestTerm uint64
	// votedFor records this node's single vote per term.
	votedFor map[uint64]NodeID
	// candidates and votes track the term this node is tallying for
	// (as a candidate or observer).
	tallyTerm  uint64
	candidates map[NodeID]struct{}
	votes      map[NodeID]map[NodeID]struct{} // candidate -> distinct voters
	inProgress bool
}

func newElectionState() *electionState {
	return &electionState{
		votedFor:   make(map[uint64]NodeID),
		candidates: make(map[NodeID]struct{}),
		votes:      make(map[NodeID]map[NodeID]struct{}),
	}
}

// CurrentCoordinator returns the known coordinator, if any.
func (e *Engine) CurrentCoordinator() (NodeID, bool) {
	e.election.mu.Lock()
	defer e.election.mu.Unlock()
	if e.election.currentCoordinator == nil {
		return "", false
	}
	return *e.election.currentCoordinator, true
}

// ElectionInProgress reports whether this node is tallying an open
// election.
func (e *Engine) ElectionInProgress() bool {
	e.election.mu.Lock()
	defer e.election.mu.Unlock()
	return e.election.inProgress
}

// InitiateElection makes this node a candidate for a fresh term and
// broadcasts its candidacy. The liveness monitor decides when to call
// this; a rate limiter prevents election storms. The election closes
// when a candidate reaches a strict majority, or is reported failed
// after the election timeout.
func (e *Engine) InitiateElection() error {
	if !e.electionLimiter.Allow() {
		return ErrElectionThrottled
	}

	st := e.election
	st.mu.Lock()
	st.highestTerm++
	term := st.highestTerm
	st.tallyTerm = term
	st.inProgress = true
	st.candidates = map[NodeID]struct{}{e.localID: {}}
	st.votes = make(map[NodeID]map[NodeID]struct{})
	// A candidate votes for itself, consuming its vote for this term.
	st.votedFor[term] = e.localID
	st.votes[e.localID] = map[NodeID]struct{}{e.localID: {}}
	st.mu.Unlock()

	e.stats.incElections()
	e.metrics.Elections.Add(context.Background(), 1)
	e.logger.Info("Initiating coordinator election",
		zap.Uint64("term", term), zap.String("candidate", string(e.localID)))

	// A single-node cluster elects itself immediately.
	e.tallyVotes(term, e.localID)

	err := e.broadcast(Election{Candidate: e.localID, Term: term})

	// Close out a stalled election: no majority leaves the coordinator
	// unset, reported rather than retried.
	time.AfterFunc(e.cfg.electionTimeout(), func() {
		st.mu.Lock()
		stalled := st.inProgress && st.tallyTerm == term
		if stalled {
			st.inProgress = false
		}
		st.mu.Unlock()
		if stalled {
			e.stats.incFailedElections()
			e.logger.Warn("Election reached no majority", zap.Uint64("term", term))
		}
	})

	return err
}

// handleElection votes for the first candidate seen in each term.
func (e *Engine) handleElection(m Election) error {
	st := e.election
	st.mu.Lock()
	if m.Term > st.highestTerm {
		st.highestTerm = m.Term
	}
	st.candidates[m.Candidate] = struct{}{}
	if _, voted := st.votedFor[m.Term]; voted {
		st.mu.Unlock()
		return nil // one vote per term, already cast
	}
	st.votedFor[m.Term] = m.Candidate
	st.mu.Unlock()

	return e.send(m.Candidate, Vote{Voter: e.localID, Candidate: m.Candidate, Term: m.Term})
}

// handleVote tallies a ballot; duplicate ballots from the same voter
// are no-ops. A strict majority of the known cluster elects.
func (e *Engine) handleVote(m Vote) error {
	st := e.election
	st.mu.Lock()
	if m.Term < st.tallyTerm {
		st.mu.Unlock()
		return nil // stale term
	}
	if m.Term > st.tallyTerm {
		st.tallyTerm = m.Term
		st.votes = make(map[NodeID]map[NodeID]struct{})
	}
	if st.votes[m.Candidate] == nil {
		st.votes[m.Candidate] = make(map[NodeID]struct{})
	}
	st.votes[m.Candidate][m.Voter] = struct{}{}
	st.mu.Unlock()

	e.tallyVotes(m.Term, m.Candidate)
	return nil
}

// tallyVotes promotes the candidate if it holds a strict majority of the
// known cluster.
func (e *Engine) tallyVotes(term uint64, candidate NodeID) {
	majority := e.registry.Len()/2 + 1

	st := e.election
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tallyTerm != term {
		return
	}
	if len(st.votes[candidate]) < majority {
		return
	}
	c := candidate
	st.currentCoordinator = &c
	st.coordinatorTerm = term
	st.inProgress = false

	e.logger.Info("Coordinator elected",
		zap.String("coordinator", string(candidate)),
		zap.Uint64("term", term),
		zap.Int("votes", len(st.votes[candidate])))
}

// handleHeartbeat refreshes the known coordinator. Stale terms are
// ignored so an old coordinator cannot reclaim the cluster.
func (e *Engine) handleHeartbeat(m Heartbeat) error {
	st := e.election
	st.mu.Lock()
	defer st.mu.Unlock()
	if m.Term < st.coordinatorTerm {
		return nil
	}
	c := m.Coordinator
	st.currentCoordinator = &c
	st.coordinatorTerm = m.Term
	if m.Term > st.highestTerm {
		st.highestTerm = m.Term
	}
	st.inProgress = false
	return nil
}

// maybeHeartbeat broadcasts a heartbeat when this node is the
// coordinator.
func (e *Engine) maybeHeartbeat() {
	st := e.election
	st.mu.Lock()
	isCoordinator := st.currentCoordinator != nil && *st.currentCoordinator == e.localID
	term := st.coordinatorTerm
	st.mu.Unlock()

	if !isCoordinator {
		return
	}
	if err := e.broadcast(Heartbeat{Coordinator: e.localID, Term: term}); err != nil {
		e.logger.Warn("Heartbeat broadcast incomplete", zap.Error(err))
	}
}

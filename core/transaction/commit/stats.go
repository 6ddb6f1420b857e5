package commit

import (
	"sync"
	"time"
)

// Stats is a read-only snapshot of the engine's counters.
type Stats struct {
	TotalTransactions    uint64
	SuccessfulCommits    uint64
	FailedCommits        uint64
	AbortedTransactions  uint64
	CoordinatorElections uint64
	FailedElections      uint64
	MessagesSent         uint64
	MessagesReceived     uint64
	AverageCommitTime    time.Duration
	ParticipantFailures  uint64
}

// engineStats is the mutable counter set behind Stats.
type engineStats struct {
	mu sync.Mutex
	s  Stats
}

func (e *engineStats) snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s
}

func (e *engineStats) incTotal()               { e.mu.Lock(); e.s.TotalTransactions++; e.mu.Unlock() }
func (e *engineStats) incFailed()              { e.mu.Lock(); e.s.FailedCommits++; e.mu.Unlock() }
func (e *engineStats) incAborted()             { e.mu.Lock(); e.s.AbortedTransactions++; e.mu.Unlock() }
func (e *engineStats) incElections()           { e.mu.Lock(); e.s.CoordinatorElections++; e.mu.Unlock() }
func (e *engineStats) incFailedElections()     { e.mu.Lock(); e.s.FailedElections++; e.mu.Unlock() }
func (e *engineStats) incSent(n uint64)        { e.mu.Lock(); e.s.MessagesSent += n; e.mu.Unlock() }
func (e *engineStats) incReceived()            { e.mu.Lock(); e.s.MessagesReceived++; e.mu.Unlock() }
func (e *engineStats) incParticipantFailures() { e.mu.Lock(); e.s.ParticipantFailures++; e.mu.Unlock() }

// recordCommit folds one successful commit into the running average.
func (e *engineStats) recordCommit(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.SuccessfulCommits++
	n := float64(e.s.SuccessfulCommits)
	prev := float64(e.s.AverageCommitTime)
	e.s.AverageCommitTime = time.Duration((prev*(n-1) + float64(elapsed)) / n)
}

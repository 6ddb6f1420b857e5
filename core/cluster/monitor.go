// Package cluster watches coordinator liveness and starts elections
// when the coordinator goes silent.
package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

// Engine is the slice of the commit engine the monitor drives.
type Engine interface {
	LocalID() commit.NodeID
	CurrentCoordinator() (commit.NodeID, bool)
	ElectionInProgress() bool
	InitiateElection() error
}

// Monitor tracks heartbeats from the current coordinator and calls for
// an election once it has been silent past the timeout. Wire Observe
// into the node's inbound message path, ahead of the engine handler.
type Monitor struct {
	engine  Engine
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	lastSeen time.Time
}

// NewMonitor builds a monitor; timeout is how long coordinator silence
// is tolerated before a new election.
func NewMonitor(engine Engine, timeout time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		engine:  engine,
		logger:  logger.Named("cluster"),
		timeout: timeout,
		// Grace period at startup so a fresh node does not call an
		// election before hearing from an existing coordinator.
		lastSeen: time.Now(),
	}
}

// Observe inspects one inbound message for liveness signals. Heartbeats
// and election traffic both reset the silence clock.
func (m *Monitor) Observe(msg commit.Message) {
	switch msg.(type) {
	case commit.Heartbeat, commit.Election, commit.Vote:
		m.mu.Lock()
		m.lastSeen = time.Now()
		m.mu.Unlock()
	}
}

// Run checks liveness until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	coordinator, known := m.engine.CurrentCoordinator()
	if known && coordinator == m.engine.LocalID() {
		return // we are the coordinator, our own heartbeats do not loop back
	}
	if m.engine.ElectionInProgress() {
		return
	}

	m.mu.Lock()
	silence := time.Since(m.lastSeen)
	m.mu.Unlock()
	if silence < m.timeout {
		return
	}

	if known {
		m.logger.Warn("Coordinator silent, starting election",
			zap.String("coordinator", string(coordinator)),
			zap.Duration("silence", silence))
	} else {
		m.logger.Info("No coordinator known, starting election")
	}

	if err := m.engine.InitiateElection(); err != nil {
		if errors.Is(err, commit.ErrElectionThrottled) {
			return
		}
		m.logger.Warn("Election initiation failed", zap.Error(err))
	}

	m.mu.Lock()
	m.lastSeen = time.Now()
	m.mu.Unlock()
}

package commit

import "time"

// Protocol selects the atomic-commitment protocol the engine drives.
type Protocol string

const (
	TwoPhaseCommit   Protocol = "TwoPhaseCommit"
	ThreePhaseCommit Protocol = "ThreePhaseCommit"
	PaxosCommit      Protocol = "PaxosCommit"
)

// Config holds the commit engine's tunables.
type Config struct {
	// CommitProtocol is one of TwoPhaseCommit, ThreePhaseCommit, PaxosCommit.
	CommitProtocol Protocol `yaml:"commit_protocol"`
	// PrepareTimeoutMs bounds the wait for prepare votes.
	PrepareTimeoutMs uint64 `yaml:"prepare_timeout_ms"`
	// CommitTimeoutMs bounds the wait for commit acknowledgments.
	CommitTimeoutMs uint64 `yaml:"commit_timeout_ms"`
	// ElectionTimeoutMs is how long an election may stay open before it
	// is reported as failed.
	ElectionTimeoutMs uint64 `yaml:"election_timeout_ms"`
	// HeartbeatIntervalMs is the coordinator's heartbeat period.
	HeartbeatIntervalMs uint64 `yaml:"heartbeat_interval_ms"`
	// MaxRetries bounds transport-level resends performed by callers.
	MaxRetries int `yaml:"max_retries"`
	// EnableFaultTolerance enables participant-loss handling and
	// unilateral 3PC advancement.
	EnableFaultTolerance bool `yaml:"enable_fault_tolerance"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CommitProtocol:       TwoPhaseCommit,
		PrepareTimeoutMs:     5000,
		CommitTimeoutMs:      10000,
		ElectionTimeoutMs:    3000,
		HeartbeatIntervalMs:  1000,
		MaxRetries:           3,
		EnableFaultTolerance: true,
	}
}

func (c Config) prepareTimeout() time.Duration {
	return time.Duration(c.PrepareTimeoutMs) * time.Millisecond
}

func (c Config) commitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutMs) * time.Millisecond
}

func (c Config) electionTimeout() time.Duration {
	return time.Duration(c.ElectionTimeoutMs) * time.Millisecond
}

func (c Config) heartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

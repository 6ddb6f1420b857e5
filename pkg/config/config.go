// Package config loads the node's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojotx/core/transaction/adaptive"
	"github.com/sushant-115/gojotx/core/transaction/commit"
	"github.com/sushant-115/gojotx/pkg/logger"
	"github.com/sushant-115/gojotx/pkg/telemetry"
)

// Node identifies this process and its cluster peers.
type Node struct {
	ID         string            `yaml:"id"`
	ListenAddr string            `yaml:"listen_addr"`
	Peers      map[string]string `yaml:"peers"` // node ID -> address
}

// Config is the full node configuration.
type Config struct {
	Node      Node             `yaml:"node"`
	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Commit    commit.Config    `yaml:"commit"`
	Adaptive  adaptive.Config  `yaml:"adaptive"`
}

// Default returns a single-node configuration with standard timeouts.
func Default() Config {
	return Config{
		Node: Node{
			ID:         "node-1",
			ListenAddr: "127.0.0.1:7411",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "gojotx",
			PrometheusPort: 9464,
		},
		Commit:   commit.DefaultConfig(),
		Adaptive: adaptive.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.ListenAddr == "" {
		return fmt.Errorf("node.listen_addr is required")
	}
	switch c.Commit.CommitProtocol {
	case commit.TwoPhaseCommit, commit.ThreePhaseCommit, commit.PaxosCommit:
	default:
		return fmt.Errorf("unknown commit protocol %q", c.Commit.CommitProtocol)
	}
	if c.Commit.PrepareTimeoutMs <= 0 || c.Commit.CommitTimeoutMs <= 0 {
		return fmt.Errorf("commit timeouts must be positive")
	}
	// Zero periods would panic the heartbeat and monitor tickers.
	if c.Commit.ElectionTimeoutMs <= 0 || c.Commit.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("election timeout and heartbeat interval must be positive")
	}
	if c.Adaptive.AdaptationIntervalMs <= 0 {
		return fmt.Errorf("adaptive.adaptation_interval_ms must be positive")
	}
	return nil
}

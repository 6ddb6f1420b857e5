package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojotx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, commit.TwoPhaseCommit, cfg.Commit.CommitProtocol)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-7
  listen_addr: 127.0.0.1:9000
  peers:
    node-8: 127.0.0.1:9001
logging:
  level: debug
  format: console
commit:
  commit_protocol: PaxosCommit
  prepare_timeout_ms: 2500
adaptive:
  algorithm_switch_threshold: 0.25
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-7", cfg.Node.ID)
	require.Equal(t, "127.0.0.1:9001", cfg.Node.Peers["node-8"])
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, commit.PaxosCommit, cfg.Commit.CommitProtocol)
	require.Equal(t, uint64(2500), cfg.Commit.PrepareTimeoutMs)
	// Untouched keys keep their defaults.
	require.Equal(t, uint64(10000), cfg.Commit.CommitTimeoutMs)
	require.Equal(t, 0.25, cfg.Adaptive.AlgorithmSwitchThreshold)
}

func TestLoad_RejectsUnknownProtocol(t *testing.T) {
	path := writeConfig(t, `
commit:
  commit_protocol: FourPhaseCommit
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown commit protocol")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestValidate_RequiresNodeIdentity(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Node.ListenAddr = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RequiresPositivePeriods(t *testing.T) {
	// Zero periods would feed time.NewTicker(0), which panics.
	cfg := Default()
	cfg.Commit.HeartbeatIntervalMs = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Commit.ElectionTimeoutMs = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Commit.CommitTimeoutMs = 0
	require.Error(t, cfg.Validate())
}

// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ava-labs/simbft"
	"github.com/ava-labs/simbft/config"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, simbft.DefaultConfig(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain_id: testnet
num_nodes: 7
network:
  drop_rate: 0.5
  min_delay: 2
  max_delay: 6
simulation:
  seed: 1234
  duration: 50
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.ChainID)
	require.Equal(t, 7, cfg.NumNodes)
	require.Equal(t, 0.5, cfg.Network.DropRate)
	require.Equal(t, uint64(2), cfg.Network.MinDelay)
	require.Equal(t, uint64(6), cfg.Network.MaxDelay)
	require.Equal(t, uint64(1234), cfg.Simulation.Seed)
	require.Equal(t, uint64(50), cfg.Simulation.Duration)

	// Fields the file does not mention keep their defaults.
	require.Equal(t, simbft.DefaultConfig().Consensus, cfg.Consensus)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SIMBFT_SEED", "777")
	t.Setenv("SIMBFT_CHAIN_ID", "envnet")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, uint64(777), cfg.Simulation.Seed)
	require.Equal(t, "envnet", cfg.ChainID)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network:\n  drop_rate: 2.0\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

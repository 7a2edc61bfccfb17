// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"errors"
	"fmt"
)

// NetworkConfig controls the simulated network impairment.
type NetworkConfig struct {
	// DropRate is the probability a message is discarded in transit.
	DropRate float64 `yaml:"drop_rate"`
	// MinDelay and MaxDelay bound the delivery delay in ticks.
	MinDelay uint64 `yaml:"min_delay"`
	MaxDelay uint64 `yaml:"max_delay"`
	// DuplicateRate is the probability a message is delivered twice.
	DuplicateRate float64 `yaml:"duplicate_rate"`
	// RateLimit caps messages accepted per sender per tick. Zero disables
	// the limit.
	RateLimit int `yaml:"rate_limit"`
}

// ConsensusConfig controls the per-node protocol timing.
type ConsensusConfig struct {
	// BlockTime is the minimum number of ticks between proposal attempts.
	BlockTime uint64 `yaml:"block_time"`
	// TimeoutTicks is the number of ticks a round may last before the node
	// gives up and moves to the next round.
	TimeoutTicks uint64 `yaml:"timeout_ticks"`
	// MaxBlockTxs caps the number of transactions selected into a block.
	MaxBlockTxs int `yaml:"max_block_txs"`
}

// SimulationConfig controls the run itself.
type SimulationConfig struct {
	Seed     uint64 `yaml:"seed" env:"SIMBFT_SEED"`
	Duration uint64 `yaml:"duration" env:"SIMBFT_DURATION"`
	// Transactions is the number of client transactions injected on a
	// deterministic schedule.
	Transactions int `yaml:"transactions"`
}

// Config is the fully-resolved configuration consumed by the core. The core
// performs no file or environment access itself; see the config package for
// loading.
type Config struct {
	ChainID  string `yaml:"chain_id" env:"SIMBFT_CHAIN_ID"`
	NumNodes int    `yaml:"num_nodes" env:"SIMBFT_NUM_NODES"`
	// InitialBalance funds every validator account at genesis.
	InitialBalance uint64 `yaml:"initial_balance"`

	Network    NetworkConfig    `yaml:"network"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Simulation SimulationConfig `yaml:"simulation"`
}

func DefaultConfig() Config {
	return Config{
		ChainID:        "simbft-local",
		NumNodes:       4,
		InitialBalance: 1_000,
		Network: NetworkConfig{
			DropRate:      0.05,
			MinDelay:      1,
			MaxDelay:      3,
			DuplicateRate: 0.05,
			RateLimit:     0,
		},
		Consensus: ConsensusConfig{
			BlockTime:    5,
			TimeoutTicks: 20,
			MaxBlockTxs:  10,
		},
		Simulation: SimulationConfig{
			Seed:         1,
			Duration:     200,
			Transactions: 10,
		},
	}
}

func (c Config) Validate() error {
	if c.ChainID == "" {
		return errors.New("chain_id must not be empty")
	}
	if c.NumNodes <= 0 {
		return fmt.Errorf("num_nodes must be positive, got %d", c.NumNodes)
	}
	if c.Network.DropRate < 0 || c.Network.DropRate > 1 {
		return fmt.Errorf("network.drop_rate must be in [0,1], got %f", c.Network.DropRate)
	}
	if c.Network.DuplicateRate < 0 || c.Network.DuplicateRate > 1 {
		return fmt.Errorf("network.duplicate_rate must be in [0,1], got %f", c.Network.DuplicateRate)
	}
	if c.Network.MaxDelay < c.Network.MinDelay {
		return fmt.Errorf("network.max_delay %d below network.min_delay %d", c.Network.MaxDelay, c.Network.MinDelay)
	}
	if c.Network.RateLimit < 0 {
		return fmt.Errorf("network.rate_limit must not be negative, got %d", c.Network.RateLimit)
	}
	if c.Consensus.TimeoutTicks == 0 {
		return errors.New("consensus.timeout_ticks must be positive")
	}
	if c.Consensus.MaxBlockTxs <= 0 {
		return fmt.Errorf("consensus.max_block_txs must be positive, got %d", c.Consensus.MaxBlockTxs)
	}
	if c.Simulation.Duration == 0 {
		return errors.New("simulation.duration must be positive")
	}
	return nil
}

// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

type scheduledTx struct {
	tick uint64
	tx   Transaction
}

// Simulation wires a full multi-node run: deterministic keys and validator
// set from the seed, one node per validator, a shared network simulator, and
// a deterministic client transaction schedule. Everything a run produces is
// a pure function of the configuration.
type Simulation struct {
	cfg Config
	log Logger

	Net       *NetworkSimulator
	Nodes     []*Node
	Recorders []*MemRecorder

	validators *ValidatorSet
	schedule   []scheduledTx
}

func NewSimulation(cfg Config, log Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// All key material is drawn from the run's seed so that two runs with
	// the same configuration build identical validator sets.
	rng := rand.New(rand.NewSource(int64(cfg.Simulation.Seed)))

	vals := make([]Validator, cfg.NumNodes)
	signers := make([]*Ed25519Signer, cfg.NumNodes)
	for i := 0; i < cfg.NumNodes; i++ {
		pub, priv, err := ed25519.GenerateKey(rng)
		if err != nil {
			return nil, fmt.Errorf("failed generating key for node %d: %w", i, err)
		}
		id := make(NodeID, 2)
		binary.BigEndian.PutUint16(id, uint16(i+1))
		vals[i] = Validator{ID: id, PublicKey: pub, Power: 1}
		signers[i] = NewEd25519Signer(cfg.ChainID, priv)
	}

	validators, err := NewValidatorSet(vals)
	if err != nil {
		return nil, err
	}
	verifier := NewEd25519Verifier(cfg.ChainID, validators)

	genesis := NewLedger()
	for _, v := range vals {
		genesis.Fund(v.ID, cfg.InitialBalance)
	}

	net := NewNetworkSimulator(log, cfg.Network, cfg.Simulation.Seed)
	execution := NewExecutionEngine(log, verifier)

	sim := &Simulation{
		cfg:        cfg,
		log:        log,
		Net:        net,
		validators: validators,
	}

	for i, v := range vals {
		recorder := NewMemRecorder()
		node, err := NewNode(NodeConfig{
			Logger:     log,
			Recorder:   recorder,
			ID:         v.ID,
			Signer:     signers[i],
			Verifier:   verifier,
			Validators: validators,
			Net:        net,
			Execution:  execution,
			Consensus:  cfg.Consensus,
			Genesis:    genesis,
		})
		if err != nil {
			return nil, err
		}
		sim.Nodes = append(sim.Nodes, node)
		sim.Recorders = append(sim.Recorders, recorder)
	}

	sim.schedule = buildSchedule(cfg, vals, signers)
	return sim, nil
}

// buildSchedule derives the client transaction workload: transaction j goes
// from validator j mod n to its successor, with per-sender nonces counted
// up, injected at tick j+1.
func buildSchedule(cfg Config, vals []Validator, signers []*Ed25519Signer) []scheduledTx {
	nonces := make([]uint64, len(vals))
	schedule := make([]scheduledTx, 0, cfg.Simulation.Transactions)
	for j := 0; j < cfg.Simulation.Transactions; j++ {
		sender := j % len(vals)
		recipient := (j + 1) % len(vals)
		tx := Transaction{
			Sender:    vals[sender].ID,
			Recipient: vals[recipient].ID,
			Nonce:     nonces[sender],
			Amount:    1 + uint64(j%10),
		}
		nonces[sender]++
		if err := tx.Sign(signers[sender]); err != nil {
			// ed25519 signing over a valid key cannot fail.
			continue
		}
		schedule = append(schedule, scheduledTx{tick: uint64(j + 1), tx: tx})
	}
	return schedule
}

// Run drives the discrete-event loop for the configured duration. Each tick
// injects scheduled transactions, delivers due messages in the network's
// total order, then steps every node in roster order.
func (s *Simulation) Run() {
	next := 0
	for tick := uint64(1); tick <= s.cfg.Simulation.Duration; tick++ {
		for next < len(s.schedule) && s.schedule[next].tick <= tick {
			for _, node := range s.Nodes {
				node.SubmitTransaction(s.schedule[next].tx)
			}
			next++
		}

		s.Net.Advance(tick)

		for _, node := range s.Nodes {
			node.Tick(tick)
		}
	}

	stats := s.Net.Stats()
	s.log.Info("Simulation finished",
		zap.Uint64("duration", s.cfg.Simulation.Duration),
		zap.Uint64("sent", stats.Sent),
		zap.Uint64("delivered", stats.Delivered),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("duplicated", stats.Duplicated),
		zap.Uint64("rateLimited", stats.RateLimited))
}

// Roots returns every node's final state root in roster order.
func (s *Simulation) Roots() []Digest {
	roots := make([]Digest, len(s.Nodes))
	for i, node := range s.Nodes {
		roots[i] = node.StateRoot()
	}
	return roots
}

// Logs returns every node's rendered canonical event stream in roster
// order.
func (s *Simulation) Logs() [][]byte {
	logs := make([][]byte, len(s.Recorders))
	for i, recorder := range s.Recorders {
		logs[i] = recorder.Bytes()
	}
	return logs
}

func (s *Simulation) Validators() *ValidatorSet {
	return s.validators
}

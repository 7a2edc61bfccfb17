// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"go.uber.org/zap"
)

type NodeConfig struct {
	Logger     Logger
	Recorder   Recorder
	ID         NodeID
	Signer     Signer
	Verifier   SignatureVerifier
	Validators *ValidatorSet
	Net        *NetworkSimulator
	Execution  *ExecutionEngine
	Consensus  ConsensusConfig
	Genesis    *Ledger
}

// FinalizedEntry is one height of a node's canonical history.
type FinalizedEntry struct {
	Height uint64
	Digest Digest
	Root   Digest
	QC     *QuorumCertificate
}

// Node owns a mempool and a ledger, proposes blocks when it is the round's
// proposer, and wires its consensus engine to the network simulator and the
// execution engine. All cross-node interaction goes through the simulator.
type Node struct {
	NodeConfig

	engine *Engine
	ledger *Ledger

	lastDigest     Digest
	lastCommitTick uint64

	mempool []Transaction
	seenTxs map[Digest]struct{}

	history []FinalizedEntry

	proposedHeight uint64
	proposedRound  uint64
	hasProposed    bool
}

func NewNode(conf NodeConfig) (*Node, error) {
	engine, err := NewEngine(EngineConfig{
		Logger:       conf.Logger,
		ID:           conf.ID,
		Signer:       conf.Signer,
		Verifier:     conf.Verifier,
		Validators:   conf.Validators,
		TimeoutTicks: conf.Consensus.TimeoutTicks,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		NodeConfig: conf,
		engine:     engine,
		ledger:     conf.Genesis.Clone(),
		seenTxs:    make(map[Digest]struct{}),
	}
	conf.Net.Register(conf.ID, n)
	return n, nil
}

func (n *Node) Height() uint64 {
	return n.engine.Height()
}

func (n *Node) Round() uint64 {
	return n.engine.Round()
}

// StateRoot returns the digest of the node's current ledger.
func (n *Node) StateRoot() Digest {
	return n.ledger.Root()
}

func (n *Node) Ledger() *Ledger {
	return n.ledger.Clone()
}

// History returns the finalized heights in commit order.
func (n *Node) History() []FinalizedEntry {
	out := make([]FinalizedEntry, len(n.history))
	copy(out, n.history)
	return out
}

// SubmitTransaction admits a client transaction into the mempool. Only the
// signature is checked here; ledger validity is re-checked at selection and
// execution time.
func (n *Node) SubmitTransaction(tx Transaction) bool {
	digest := tx.Digest()
	if _, seen := n.seenTxs[digest]; seen {
		return false
	}
	if err := tx.Verify(n.Verifier); err != nil {
		n.Logger.Debug("Rejected transaction with invalid signature",
			zap.Stringer("sender", tx.Sender),
			zap.Error(err))
		return false
	}
	n.seenTxs[digest] = struct{}{}
	n.mempool = append(n.mempool, tx)
	n.Logger.Debug("Admitted transaction to mempool",
		zap.Stringer("sender", tx.Sender),
		zap.Uint64("nonce", tx.Nonce),
		zap.Int("mempool", len(n.mempool)))
	return true
}

// HandleMessage is the network simulator's inbound path.
func (n *Node) HandleMessage(msg *Message, from NodeID) {
	tick := n.Net.CurrentTick()

	switch {
	case msg.Proposal != nil:
		n.handleProposal(tick, msg.Proposal, from)
	case msg.Vote != nil:
		n.handleVote(tick, msg.Vote)
	default:
		n.Logger.Warn("Received an empty message", zap.Stringer("from", from))
	}
}

func (n *Node) handleProposal(tick uint64, block *Block, from NodeID) {
	// The engine does not track the chain; the parent link is checked here.
	if block.Height == n.engine.Height() && block.ParentDigest != n.lastDigest {
		n.Logger.Warn("Proposal does not extend our chain",
			zap.Uint64("height", block.Height),
			zap.Stringer("parent", block.ParentDigest),
			zap.Stringer("lastDigest", n.lastDigest))
		return
	}
	out := n.engine.HandleProposal(tick, block, from)
	n.apply(tick, out)
}

func (n *Node) handleVote(tick uint64, vote *Vote) {
	out := n.engine.HandleVote(tick, vote)
	if out.Tallied {
		n.Recorder.Record(Event{
			Tick:     tick,
			Node:     n.ID,
			Kind:     EventVoteReceived,
			Height:   vote.Height,
			Round:    vote.Round,
			Digest:   vote.Digest,
			Voter:    vote.Signature.Signer,
			VoteKind: vote.Kind,
		})
	}
	n.apply(tick, out)
}

// Tick drives the node's local clock: propose if it is our turn, then check
// the round deadline.
func (n *Node) Tick(tick uint64) {
	n.maybePropose(tick)

	height, round := n.engine.Height(), n.engine.Round()
	out := n.engine.HandleTimeout(tick)
	if out.TimedOut {
		n.Recorder.Record(Event{
			Tick:   tick,
			Node:   n.ID,
			Kind:   EventTimeout,
			Height: height,
			Round:  round,
		})
	}
	n.apply(tick, out)
}

func (n *Node) maybePropose(tick uint64) {
	height, round := n.engine.Height(), n.engine.Round()
	if n.engine.Phase() != PhasePropose {
		return
	}
	if n.hasProposed && n.proposedHeight == height && n.proposedRound == round {
		return
	}
	if !n.Validators.ProposerFor(height, round).ID.Equals(n.ID) {
		return
	}
	// Round zero proposals are paced by the block time; later rounds fire
	// immediately, the timeout already spaced them.
	if round == 0 && tick < n.lastCommitTick+n.Consensus.BlockTime {
		return
	}

	block, err := n.buildBlock(height, round)
	if err != nil {
		n.Logger.Error("Failed building block", zap.Error(err))
		return
	}

	n.hasProposed = true
	n.proposedHeight = height
	n.proposedRound = round

	n.Recorder.Record(Event{
		Tick:   tick,
		Node:   n.ID,
		Kind:   EventPropose,
		Height: height,
		Round:  round,
		Digest: block.Digest(),
	})
	n.Logger.Info("Proposing block",
		zap.Uint64("height", height),
		zap.Uint64("round", round),
		zap.Int("txs", len(block.Transactions)),
		zap.Stringer("digest", block.Digest()))

	n.Net.Broadcast(n.ID, &Message{Proposal: block})
	out := n.engine.HandleProposal(tick, block, n.ID)
	n.apply(tick, out)
}

// buildBlock selects up to MaxBlockTxs valid transactions from the mempool
// in arrival order, validating each against a working copy of the ledger so
// that nonces chain within the block.
func (n *Node) buildBlock(height, round uint64) (*Block, error) {
	working := n.ledger.Clone()
	var selected []Transaction
	for i := range n.mempool {
		if len(selected) >= n.Consensus.MaxBlockTxs {
			break
		}
		tx := n.mempool[i]
		if !n.Execution.Validate(working, &tx) {
			continue
		}
		working, _ = n.Execution.Apply(working, []Transaction{tx})
		selected = append(selected, tx)
	}

	block := &Block{
		Height:       height,
		Round:        round,
		ParentDigest: n.lastDigest,
		Proposer:     n.ID,
		Transactions: selected,
	}
	if err := block.Sign(n.Signer); err != nil {
		return nil, err
	}
	return block, nil
}

func (n *Node) apply(tick uint64, out *Output) {
	for _, msg := range out.Broadcast {
		if msg.Vote != nil {
			n.Recorder.Record(Event{
				Tick:     tick,
				Node:     n.ID,
				Kind:     EventVoteCast,
				Height:   msg.Vote.Height,
				Round:    msg.Vote.Round,
				Digest:   msg.Vote.Digest,
				Voter:    n.ID,
				VoteKind: msg.Vote.Kind,
			})
		}
		n.Net.Broadcast(n.ID, msg)
	}
	for _, commit := range out.Commits {
		n.finalize(tick, commit)
	}
}

// finalize executes the committed block and records the canonical commit
// event carrying the resulting state root.
func (n *Node) finalize(tick uint64, commit *Commit) {
	block := commit.Block

	ledger, root := n.Execution.Apply(n.ledger, block.Transactions)
	n.ledger = ledger
	n.lastDigest = block.Digest()
	n.lastCommitTick = tick

	// Drop included transactions from the mempool.
	included := make(map[Digest]struct{}, len(block.Transactions))
	for i := range block.Transactions {
		included[block.Transactions[i].Digest()] = struct{}{}
	}
	kept := n.mempool[:0]
	for _, tx := range n.mempool {
		if _, ok := included[tx.Digest()]; ok {
			continue
		}
		kept = append(kept, tx)
	}
	n.mempool = kept

	n.history = append(n.history, FinalizedEntry{
		Height: block.Height,
		Digest: block.Digest(),
		Root:   root,
		QC:     commit.QC,
	})

	n.Recorder.Record(Event{
		Tick:   tick,
		Node:   n.ID,
		Kind:   EventCommit,
		Height: block.Height,
		Round:  commit.QC.Round,
		Digest: block.Digest(),
		Root:   root,
	})
	n.Logger.Info("Committed block",
		zap.Uint64("height", block.Height),
		zap.Uint64("round", commit.QC.Round),
		zap.Stringer("digest", block.Digest()),
		zap.Stringer("root", root))
}

// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const (
	// defaultMaxRoundWindow bounds how far ahead of the current round votes
	// are buffered.
	defaultMaxRoundWindow = 10
	// defaultMaxHeightWindow bounds how far ahead of the current height
	// votes and proposals are buffered.
	defaultMaxHeightWindow = 10
)

// Phase is the closed set of consensus states. Every transition handles each
// variant explicitly.
type Phase uint8

const (
	PhaseNewRound Phase = iota
	PhasePropose
	PhasePrevote
	PhasePrecommit
	PhaseCommit
)

func (p Phase) String() string {
	switch p {
	case PhaseNewRound:
		return "new_round"
	case PhasePropose:
		return "propose"
	case PhasePrevote:
		return "prevote"
	case PhasePrecommit:
		return "precommit"
	case PhaseCommit:
		return "commit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Commit couples a finalized block with its quorum certificate.
type Commit struct {
	Block *Block
	QC    *QuorumCertificate
}

// Output carries the outbound intents of one engine step. The owning node
// broadcasts the messages, executes the commits in order, and records the
// flags, so the engine never holds a reference back into the node.
type Output struct {
	Broadcast []*Message
	Commits   []*Commit
	// TimedOut is set when the round gave up and moved on.
	TimedOut bool
	// Tallied is set when an incoming vote passed validation and was
	// counted.
	Tallied bool
}

func (o *Output) broadcast(msg *Message) {
	o.Broadcast = append(o.Broadcast, msg)
}

type EngineConfig struct {
	Logger       Logger
	ID           NodeID
	Signer       Signer
	Verifier     SignatureVerifier
	Validators   *ValidatorSet
	TimeoutTicks uint64
}

// Engine is the per-node BFT state machine. It consumes proposals, votes and
// local timeouts, and produces votes and quorum certificates. It cycles
// NewRound, Propose, Prevote, Precommit, Commit per height for the duration
// of the simulation.
type Engine struct {
	EngineConfig

	height     uint64
	round      uint64
	phase      Phase
	roundStart uint64 // tick at which the current round began

	// lockedDigest is the block digest this node locked on after seeing a
	// prevote quorum. Zero means unlocked. Cleared on height change.
	lockedDigest Digest
	prevoted     bool
	precommitted bool

	blocks map[Digest]*Block
	votes  map[uint64]*heightVotes
	// parked holds a certificate formed before its block arrived.
	parked *QuorumCertificate
}

func NewEngine(conf EngineConfig) (*Engine, error) {
	if conf.Validators == nil || conf.Validators.Len() == 0 {
		return nil, fmt.Errorf("%w: no validators configured", ErrValidatorSetMismatch)
	}
	if !conf.Validators.Contains(conf.ID) {
		return nil, fmt.Errorf("%w: node %s not in validator set", ErrValidatorSetMismatch, conf.ID)
	}
	e := &Engine{
		EngineConfig: conf,
		blocks:       make(map[Digest]*Block),
		votes:        make(map[uint64]*heightVotes),
	}
	e.startRound(0, 0)
	return e, nil
}

func (e *Engine) Height() uint64 {
	return e.height
}

func (e *Engine) Round() uint64 {
	return e.round
}

func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) startRound(round, tick uint64) {
	e.round = round
	e.phase = PhaseNewRound
	e.roundStart = tick
	e.prevoted = false
	e.precommitted = false
	e.phase = PhasePropose
	e.Logger.Debug("Entering round",
		zap.Uint64("height", e.height),
		zap.Uint64("round", e.round),
		zap.Uint64("tick", tick))
}

func (e *Engine) votesAt(height uint64) *heightVotes {
	hv, ok := e.votes[height]
	if !ok {
		hv = newHeightVotes(e.Validators)
		e.votes[height] = hv
	}
	return hv
}

// HandleProposal validates an incoming block proposal. A proposal for the
// current height and round triggers this node's prevote; proposals ahead of
// the current height are buffered.
func (e *Engine) HandleProposal(tick uint64, block *Block, from NodeID) *Output {
	out := &Output{}

	if !block.Proposer.Equals(from) {
		e.Logger.Debug("Received a proposal relayed by a different party than its proposer",
			zap.Stringer("proposer", block.Proposer),
			zap.Stringer("sender", from))
		return out
	}

	if block.Height < e.height {
		e.Logger.Debug("Received a proposal for a stale height",
			zap.Uint64("height", block.Height),
			zap.Uint64("myHeight", e.height))
		return out
	}

	if block.Height > e.height+defaultMaxHeightWindow {
		e.Logger.Debug("Received a proposal for a too advanced height",
			zap.Uint64("height", block.Height),
			zap.Uint64("myHeight", e.height))
		return out
	}

	expected := e.Validators.ProposerFor(block.Height, block.Round)
	if !expected.ID.Equals(block.Proposer) {
		e.Logger.Debug("Received a proposal from the wrong proposer",
			zap.Stringer("proposer", block.Proposer),
			zap.Stringer("expected", expected.ID),
			zap.Uint64("height", block.Height),
			zap.Uint64("round", block.Round))
		return out
	}

	if err := block.Verify(e.Verifier); err != nil {
		e.Logger.Debug("Proposal signature verification failed",
			zap.Stringer("proposer", block.Proposer),
			zap.Error(err))
		return out
	}

	digest := block.Digest()
	e.blocks[digest] = block

	// A certificate may have formed from votes that outran the proposal.
	if e.parked != nil && e.parked.Digest == digest {
		e.commit(tick, out, e.parked)
		return out
	}

	if block.Height != e.height || block.Round != e.round {
		e.Logger.Debug("Buffered proposal for a future round",
			zap.Uint64("height", block.Height),
			zap.Uint64("round", block.Round))
		return out
	}

	if e.prevoted {
		return out
	}

	switch e.phase {
	case PhaseNewRound, PhasePropose:
	case PhasePrevote, PhasePrecommit, PhaseCommit:
		return out
	}

	// Prevote the locked digest if we hold one, otherwise the proposal.
	voteDigest := digest
	if !e.lockedDigest.Zero() {
		voteDigest = e.lockedDigest
	}
	e.castVote(out, Prevote, voteDigest)
	e.prevoted = true
	e.phase = PhasePrevote

	e.checkQuorums(tick, out)
	return out
}

// HandleVote runs the validation pipeline over an incoming vote and tallies
// it: signature, membership, staleness, duplication. Stale and duplicate
// votes are ignored, not errors.
func (e *Engine) HandleVote(tick uint64, vote *Vote) *Output {
	out := &Output{}

	if vote.Kind != Prevote && vote.Kind != Precommit {
		e.Logger.Debug("Received a vote of unknown kind", zap.Uint8("kind", uint8(vote.Kind)))
		return out
	}

	voter := vote.Signature.Signer
	if !e.Validators.Contains(voter) {
		e.Logger.Debug("Received a vote from an unknown voter", zap.Stringer("voter", voter))
		return out
	}

	if vote.Height < e.height || (vote.Height == e.height && vote.Round < e.round) {
		e.Logger.Debug("Received a stale vote",
			zap.Uint64("height", vote.Height),
			zap.Uint64("round", vote.Round),
			zap.Uint64("myHeight", e.height),
			zap.Uint64("myRound", e.round))
		return out
	}

	if vote.Height > e.height+defaultMaxHeightWindow {
		e.Logger.Debug("Received a vote for a too advanced height",
			zap.Uint64("height", vote.Height),
			zap.Uint64("myHeight", e.height))
		return out
	}

	if vote.Height == e.height && vote.Round > e.round+defaultMaxRoundWindow {
		e.Logger.Debug("Received a vote for a too advanced round",
			zap.Uint64("round", vote.Round),
			zap.Uint64("myRound", e.round))
		return out
	}

	set := e.votesAt(vote.Height).round(vote.Round).set(vote.Kind)

	// Only verify the vote if we haven't recorded this voter already.
	if _, seen := set.votes[string(voter)]; seen {
		e.Logger.Debug("Ignoring duplicate vote",
			zap.Stringer("voter", voter),
			zap.Uint64("height", vote.Height),
			zap.Uint64("round", vote.Round),
			zap.Stringer("kind", vote.Kind))
		return out
	}

	if err := vote.Verify(e.Verifier); err != nil {
		e.Logger.Debug("Vote signature verification failed",
			zap.Stringer("voter", voter),
			zap.Error(err))
		return out
	}

	if !set.add(vote) {
		return out
	}
	out.Tallied = true

	e.checkQuorums(tick, out)
	return out
}

// HandleTimeout fires the round-change if the current round has outlived its
// deadline without committing. A node that has not yet precommitted casts a
// nil precommit on the way out.
func (e *Engine) HandleTimeout(tick uint64) *Output {
	out := &Output{}

	if e.phase == PhaseCommit {
		// A certificate exists and only the block is missing. Changing
		// rounds cannot help.
		return out
	}

	if tick < e.roundStart+e.TimeoutTicks {
		return out
	}

	e.Logger.Debug("Round timed out",
		zap.Uint64("height", e.height),
		zap.Uint64("round", e.round),
		zap.Uint64("tick", tick))

	if !e.precommitted {
		e.castVote(out, Precommit, Digest{})
		e.precommitted = true
	}

	out.TimedOut = true
	e.startRound(e.round+1, tick)
	e.checkQuorums(tick, out)
	return out
}

// castVote signs a vote for the current height and round, counts it in this
// node's own tally, and queues it for broadcast.
func (e *Engine) castVote(out *Output, kind VoteKind, digest Digest) {
	vote := &Vote{
		Kind:   kind,
		Height: e.height,
		Round:  e.round,
		Digest: digest,
	}
	if err := vote.Sign(e.ID, e.Signer); err != nil {
		e.Logger.Error("Failed signing vote", zap.Error(err))
		return
	}
	e.votesAt(e.height).round(e.round).set(kind).add(vote)
	out.broadcast(&Message{Vote: vote})
}

// checkQuorums inspects the tallies of the current height and acts on any
// quorum: a prevote quorum locks and precommits, a precommit quorum forms a
// certificate and commits.
func (e *Engine) checkQuorums(tick uint64, out *Output) {
	rv := e.votesAt(e.height).round(e.round)

	if !e.precommitted && e.phase != PhaseCommit {
		if digest, ok := rv.prevotes.quorumDigest(); ok {
			// Lock the digest. At most one non-nil digest can reach quorum
			// in a round, so a conflicting lock cannot arise here.
			e.lockedDigest = digest
			e.castVote(out, Precommit, digest)
			e.precommitted = true
			e.phase = PhasePrecommit
		} else if rv.prevotes.hasQuorum(Digest{}) && e.phase == PhasePrevote {
			e.castVote(out, Precommit, Digest{})
			e.precommitted = true
			e.phase = PhasePrecommit
		}
	}

	// Scan rounds from the current one upward so that a quorum assembled
	// from buffered votes is found in deterministic order.
	hv := e.votesAt(e.height)
	rounds := make([]uint64, 0, len(hv.rounds))
	for round := range hv.rounds {
		if round >= e.round {
			rounds = append(rounds, round)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

	for _, round := range rounds {
		precommits := hv.round(round).precommits
		digest, ok := precommits.quorumDigest()
		if !ok {
			continue
		}
		qc := e.assembleCertificate(round, digest, precommits)
		e.commit(tick, out, qc)
		return
	}
}

func (e *Engine) assembleCertificate(round uint64, digest Digest, set *voteSet) *QuorumCertificate {
	votes := set.votesFor(digest)
	signatures := make([]Signature, 0, len(votes))
	for _, vote := range votes {
		signatures = append(signatures, vote.Signature)
	}
	e.Logger.Info("Collected quorum of precommits",
		zap.Uint64("height", e.height),
		zap.Uint64("round", round),
		zap.Stringer("digest", digest),
		zap.Int("votes", len(votes)))
	return &QuorumCertificate{
		Height:     e.height,
		Round:      round,
		Digest:     digest,
		Signatures: signatures,
	}
}

// commit hands the certificate and block to the node if the block is known,
// then advances to the next height. A certificate without its block is
// parked until the proposal arrives.
func (e *Engine) commit(tick uint64, out *Output, qc *QuorumCertificate) {
	block, ok := e.blocks[qc.Digest]
	if !ok {
		e.Logger.Debug("Certificate formed before its block arrived",
			zap.Uint64("height", qc.Height),
			zap.Stringer("digest", qc.Digest))
		e.parked = qc
		e.phase = PhaseCommit
		return
	}

	e.phase = PhaseCommit
	out.Commits = append(out.Commits, &Commit{Block: block, QC: qc})

	// Advance to the next height.
	delete(e.votes, e.height)
	for digest, b := range e.blocks {
		if b.Height <= e.height {
			delete(e.blocks, digest)
		}
	}
	e.parked = nil
	e.height++
	e.lockedDigest = Digest{}
	e.startRound(0, tick)

	// Buffered votes for the new height may already hold a quorum.
	e.checkQuorums(tick, out)
}

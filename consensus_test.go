// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft_test

import (
	"testing"

	"github.com/ava-labs/simbft"
	"github.com/ava-labs/simbft/testutil"

	"github.com/stretchr/testify/require"
)

const testTimeoutTicks = 20

type engineFixture struct {
	engine   *simbft.Engine
	vals     *simbft.ValidatorSet
	signers  []*simbft.Ed25519Signer
	verifier *simbft.Ed25519Verifier
	ids      []simbft.NodeID
}

// newEngineFixture builds an engine owned by the validator at index idx.
func newEngineFixture(t *testing.T, idx int) *engineFixture {
	vals, signers := testutil.NewTestValidators(t, "test-chain", 4)
	verifier := simbft.NewEd25519Verifier("test-chain", vals)

	ids := make([]simbft.NodeID, vals.Len())
	for i, v := range vals.Validators() {
		ids[i] = v.ID
	}

	engine, err := simbft.NewEngine(simbft.EngineConfig{
		Logger:       testutil.MakeLogger(t, idx),
		ID:           ids[idx],
		Signer:       signers[idx],
		Verifier:     verifier,
		Validators:   vals,
		TimeoutTicks: testTimeoutTicks,
	})
	require.NoError(t, err)

	return &engineFixture{
		engine:   engine,
		vals:     vals,
		signers:  signers,
		verifier: verifier,
		ids:      ids,
	}
}

func (f *engineFixture) block(t *testing.T, height, round uint64, parent simbft.Digest) *simbft.Block {
	return testutil.NewTestBlock(t, f.vals, f.signers, height, round, parent)
}

func (f *engineFixture) vote(t *testing.T, voter int, kind simbft.VoteKind, height, round uint64, digest simbft.Digest) *simbft.Vote {
	return testutil.NewTestVote(t, f.signers[voter], f.ids[voter], kind, height, round, digest)
}

func requireSingleVote(t *testing.T, out *simbft.Output, kind simbft.VoteKind, digest simbft.Digest) {
	require.Len(t, out.Broadcast, 1)
	vote := out.Broadcast[0].Vote
	require.NotNil(t, vote)
	require.Equal(t, kind, vote.Kind)
	require.Equal(t, digest, vote.Digest)
}

func TestEngineRejectsNonMember(t *testing.T) {
	vals, signers := testutil.NewTestValidators(t, "test-chain", 4)
	_, err := simbft.NewEngine(simbft.EngineConfig{
		Logger:       testutil.MakeLogger(t),
		ID:           simbft.NodeID{0xff},
		Signer:       signers[0],
		Verifier:     simbft.NewEd25519Verifier("test-chain", vals),
		Validators:   vals,
		TimeoutTicks: testTimeoutTicks,
	})
	require.ErrorIs(t, err, simbft.ErrValidatorSetMismatch)
}

func TestEnginePrevotesOnValidProposal(t *testing.T) {
	f := newEngineFixture(t, 1)
	block := f.block(t, 0, 0, simbft.Digest{})

	out := f.engine.HandleProposal(1, block, f.ids[0])
	requireSingleVote(t, out, simbft.Prevote, block.Digest())
	require.Equal(t, simbft.PhasePrevote, f.engine.Phase())

	// A second copy of the proposal does not prevote again.
	out = f.engine.HandleProposal(2, block, f.ids[0])
	require.Empty(t, out.Broadcast)
}

func TestEngineRejectsBadProposals(t *testing.T) {
	f := newEngineFixture(t, 1)
	block := f.block(t, 0, 0, simbft.Digest{})

	// Relayed by a party other than its proposer.
	out := f.engine.HandleProposal(1, block, f.ids[2])
	require.Empty(t, out.Broadcast)

	// Signed by a validator that is not the proposer of (0, 0).
	wrong := &simbft.Block{Height: 0, Round: 0, Proposer: f.ids[2]}
	require.NoError(t, wrong.Sign(f.signers[2]))
	out = f.engine.HandleProposal(1, wrong, f.ids[2])
	require.Empty(t, out.Broadcast)

	// Tampered signature.
	tampered := f.block(t, 0, 0, simbft.Digest{})
	tampered.Signature[0] ^= 0x01
	out = f.engine.HandleProposal(1, tampered, f.ids[0])
	require.Empty(t, out.Broadcast)

	// Too far ahead of the current height.
	future := f.block(t, 50, 0, simbft.Digest{})
	out = f.engine.HandleProposal(1, future, future.Proposer)
	require.Empty(t, out.Broadcast)

	require.Equal(t, simbft.PhasePropose, f.engine.Phase())
}

func TestEngineVoteValidation(t *testing.T) {
	f := newEngineFixture(t, 1)
	digest := simbft.Digest{7}

	// Unknown voter.
	outsider := testutil.NewTestVote(t, f.signers[0], simbft.NodeID{0xff}, simbft.Prevote, 0, 0, digest)
	require.False(t, f.engine.HandleVote(1, outsider).Tallied)

	// Invalid signature.
	forged := f.vote(t, 0, simbft.Prevote, 0, 0, digest)
	forged.Signature.Value[0] ^= 0x01
	require.False(t, f.engine.HandleVote(1, forged).Tallied)

	// Too far ahead.
	require.False(t, f.engine.HandleVote(1, f.vote(t, 0, simbft.Prevote, 11, 0, digest)).Tallied)
	require.False(t, f.engine.HandleVote(1, f.vote(t, 0, simbft.Prevote, 0, 11, digest)).Tallied)

	// First valid vote counts, its duplicate does not.
	vote := f.vote(t, 0, simbft.Prevote, 0, 0, digest)
	require.True(t, f.engine.HandleVote(1, vote).Tallied)
	require.False(t, f.engine.HandleVote(1, vote).Tallied)

	// A conflicting second vote from the same voter is ignored too.
	conflicting := f.vote(t, 0, simbft.Prevote, 0, 0, simbft.Digest{8})
	require.False(t, f.engine.HandleVote(1, conflicting).Tallied)
}

func TestEngineStaleVotesIgnored(t *testing.T) {
	f := newEngineFixture(t, 1)

	// Time out round 0 so that round-0 votes become stale.
	out := f.engine.HandleTimeout(testTimeoutTicks)
	require.True(t, out.TimedOut)
	require.Equal(t, uint64(1), f.engine.Round())

	stale := f.vote(t, 0, simbft.Prevote, 0, 0, simbft.Digest{7})
	require.False(t, f.engine.HandleVote(testTimeoutTicks+1, stale).Tallied)
}

// Happy path: proposal, prevote quorum, precommit quorum, commit.
func TestEngineCommitsOnPrecommitQuorum(t *testing.T) {
	f := newEngineFixture(t, 1)
	block := f.block(t, 0, 0, simbft.Digest{})
	digest := block.Digest()

	out := f.engine.HandleProposal(1, block, f.ids[0])
	requireSingleVote(t, out, simbft.Prevote, digest)

	// One more prevote is not a quorum of 3 yet.
	out = f.engine.HandleVote(2, f.vote(t, 0, simbft.Prevote, 0, 0, digest))
	require.True(t, out.Tallied)
	require.Empty(t, out.Broadcast)

	// Third prevote completes the quorum: the engine locks and precommits.
	out = f.engine.HandleVote(2, f.vote(t, 2, simbft.Prevote, 0, 0, digest))
	require.True(t, out.Tallied)
	requireSingleVote(t, out, simbft.Precommit, digest)
	require.Equal(t, simbft.PhasePrecommit, f.engine.Phase())

	// Two precommits from peers plus our own form the certificate.
	out = f.engine.HandleVote(3, f.vote(t, 0, simbft.Precommit, 0, 0, digest))
	require.Empty(t, out.Commits)

	out = f.engine.HandleVote(3, f.vote(t, 2, simbft.Precommit, 0, 0, digest))
	require.Len(t, out.Commits, 1)

	commit := out.Commits[0]
	require.Equal(t, digest, commit.Block.Digest())
	require.Equal(t, uint64(0), commit.QC.Height)
	require.Equal(t, digest, commit.QC.Digest)
	require.Len(t, commit.QC.Signatures, 3)

	// Certificate signers are sorted by id, not by arrival.
	signers := commit.QC.Signers()
	for i := 1; i < len(signers); i++ {
		require.Less(t, string(signers[i-1]), string(signers[i]))
	}

	require.Equal(t, uint64(1), f.engine.Height())
	require.Equal(t, uint64(0), f.engine.Round())
	require.Equal(t, simbft.PhasePropose, f.engine.Phase())
}

func TestEngineTimeoutCastsNilPrecommit(t *testing.T) {
	f := newEngineFixture(t, 1)

	// Before the deadline nothing happens.
	out := f.engine.HandleTimeout(testTimeoutTicks - 1)
	require.False(t, out.TimedOut)
	require.Equal(t, uint64(0), f.engine.Round())

	out = f.engine.HandleTimeout(testTimeoutTicks)
	require.True(t, out.TimedOut)
	requireSingleVote(t, out, simbft.Precommit, simbft.Digest{})
	require.Equal(t, uint64(0), f.engine.Height())
	require.Equal(t, uint64(1), f.engine.Round())
}

// A quorum of nil prevotes makes a prevoted node give up on the round with a
// nil precommit.
func TestEngineNilPrevoteQuorum(t *testing.T) {
	f := newEngineFixture(t, 1)
	block := f.block(t, 0, 0, simbft.Digest{})

	out := f.engine.HandleProposal(1, block, f.ids[0])
	requireSingleVote(t, out, simbft.Prevote, block.Digest())

	f.engine.HandleVote(2, f.vote(t, 0, simbft.Prevote, 0, 0, simbft.Digest{}))
	f.engine.HandleVote(2, f.vote(t, 2, simbft.Prevote, 0, 0, simbft.Digest{}))
	out = f.engine.HandleVote(2, f.vote(t, 3, simbft.Prevote, 0, 0, simbft.Digest{}))

	requireSingleVote(t, out, simbft.Precommit, simbft.Digest{})
	require.Equal(t, simbft.PhasePrecommit, f.engine.Phase())
}

// Once locked on a digest, the node keeps prevoting it in later rounds even
// when the new proposer offers a different block.
func TestEngineLockSurvivesRoundChange(t *testing.T) {
	f := newEngineFixture(t, 3)
	blockX := f.block(t, 0, 0, simbft.Digest{})
	digestX := blockX.Digest()

	out := f.engine.HandleProposal(1, blockX, f.ids[0])
	requireSingleVote(t, out, simbft.Prevote, digestX)

	// Prevote quorum for X locks the engine on X.
	f.engine.HandleVote(2, f.vote(t, 0, simbft.Prevote, 0, 0, digestX))
	out = f.engine.HandleVote(2, f.vote(t, 1, simbft.Prevote, 0, 0, digestX))
	requireSingleVote(t, out, simbft.Precommit, digestX)

	// No precommit quorum arrives; the round times out.
	out = f.engine.HandleTimeout(testTimeoutTicks)
	require.True(t, out.TimedOut)
	require.Empty(t, out.Broadcast) // already precommitted this round
	require.Equal(t, uint64(1), f.engine.Round())

	// Round 1 proposer offers a different block; the lock wins.
	blockY := f.block(t, 0, 1, simbft.Digest{0xaa})
	out = f.engine.HandleProposal(testTimeoutTicks+1, blockY, f.ids[1])
	requireSingleVote(t, out, simbft.Prevote, digestX)
}

// A certificate assembled before the proposal arrived is parked and commits
// as soon as the block shows up. Timeouts do not fire while parked.
func TestEngineParkedCertificate(t *testing.T) {
	f := newEngineFixture(t, 1)
	block := f.block(t, 0, 0, simbft.Digest{})
	digest := block.Digest()

	for _, voter := range []int{0, 2, 3} {
		f.engine.HandleVote(1, f.vote(t, voter, simbft.Prevote, 0, 0, digest))
	}
	out := f.engine.HandleVote(1, f.vote(t, 0, simbft.Precommit, 0, 0, digest))
	require.Empty(t, out.Commits)
	out = f.engine.HandleVote(1, f.vote(t, 2, simbft.Precommit, 0, 0, digest))
	require.Empty(t, out.Commits)
	out = f.engine.HandleVote(1, f.vote(t, 3, simbft.Precommit, 0, 0, digest))

	// Quorum reached but the block is unknown: no commit yet.
	require.Empty(t, out.Commits)
	require.Equal(t, simbft.PhaseCommit, f.engine.Phase())
	require.Equal(t, uint64(0), f.engine.Height())

	out = f.engine.HandleTimeout(100)
	require.False(t, out.TimedOut)

	// The late proposal completes the parked certificate.
	out = f.engine.HandleProposal(101, block, f.ids[0])
	require.Len(t, out.Commits, 1)
	require.Equal(t, digest, out.Commits[0].QC.Digest)
	require.Equal(t, uint64(1), f.engine.Height())
}

// Buffered votes and proposals for the next height commit in cascade as soon
// as the current height commits.
func TestEngineCommitCascade(t *testing.T) {
	f := newEngineFixture(t, 2)

	block0 := f.block(t, 0, 0, simbft.Digest{})
	block1 := f.block(t, 1, 0, block0.Digest())

	out := f.engine.HandleProposal(1, block0, f.ids[0])
	requireSingleVote(t, out, simbft.Prevote, block0.Digest())

	// The height-1 proposal and its precommit quorum outrun height 0.
	out = f.engine.HandleProposal(1, block1, f.ids[1])
	require.Empty(t, out.Broadcast)
	for _, voter := range []int{0, 1, 3} {
		out = f.engine.HandleVote(1, f.vote(t, voter, simbft.Precommit, 1, 0, block1.Digest()))
		require.True(t, out.Tallied)
		require.Empty(t, out.Commits)
	}

	// Height 0 completes; the buffered height-1 quorum commits in the same
	// step.
	f.engine.HandleVote(2, f.vote(t, 0, simbft.Precommit, 0, 0, block0.Digest()))
	f.engine.HandleVote(2, f.vote(t, 1, simbft.Precommit, 0, 0, block0.Digest()))
	out = f.engine.HandleVote(2, f.vote(t, 3, simbft.Precommit, 0, 0, block0.Digest()))

	require.Len(t, out.Commits, 2)
	require.Equal(t, uint64(0), out.Commits[0].Block.Height)
	require.Equal(t, uint64(1), out.Commits[1].Block.Height)
	require.Equal(t, uint64(2), f.engine.Height())
}

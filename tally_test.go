// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tallyValidators(t *testing.T, n int) *ValidatorSet {
	vals := make([]Validator, n)
	for i := 0; i < n; i++ {
		vals[i] = Validator{ID: NodeID{byte(i + 1)}, Power: 1}
	}
	vs, err := NewValidatorSet(vals)
	require.NoError(t, err)
	return vs
}

func tallyVote(voter NodeID, digest Digest) *Vote {
	return &Vote{
		Kind:      Prevote,
		Digest:    digest,
		Signature: Signature{Signer: voter},
	}
}

func TestVoteSetFirstSeenWins(t *testing.T) {
	vals := tallyValidators(t, 4)
	vs := newVoteSet(vals)
	x, y := Digest{1}, Digest{2}

	require.True(t, vs.add(tallyVote(NodeID{1}, x)))

	// Same voter again, identical then conflicting: both rejected, no tally
	// moves.
	require.False(t, vs.add(tallyVote(NodeID{1}, x)))
	require.False(t, vs.add(tallyVote(NodeID{1}, y)))
	require.Equal(t, uint64(1), vs.powerByDigest[x])
	require.Zero(t, vs.powerByDigest[y])
	require.Equal(t, uint64(1), vs.totalPower)
}

func TestVoteSetRejectsNonMembers(t *testing.T) {
	vals := tallyValidators(t, 4)
	vs := newVoteSet(vals)

	require.False(t, vs.add(tallyVote(NodeID{0xff}, Digest{1})))
	require.Zero(t, vs.totalPower)
}

func TestVoteSetQuorum(t *testing.T) {
	vals := tallyValidators(t, 4)
	vs := newVoteSet(vals)
	x := Digest{1}

	vs.add(tallyVote(NodeID{1}, x))
	vs.add(tallyVote(NodeID{2}, x))
	require.False(t, vs.hasQuorum(x))
	_, ok := vs.quorumDigest()
	require.False(t, ok)

	vs.add(tallyVote(NodeID{3}, x))
	require.True(t, vs.hasQuorum(x))
	digest, ok := vs.quorumDigest()
	require.True(t, ok)
	require.Equal(t, x, digest)
}

// Nil votes count toward their own quorum but never surface from
// quorumDigest.
func TestVoteSetNilQuorum(t *testing.T) {
	vals := tallyValidators(t, 4)
	vs := newVoteSet(vals)
	nilDigest := Digest{}

	vs.add(tallyVote(NodeID{1}, nilDigest))
	vs.add(tallyVote(NodeID{2}, nilDigest))
	vs.add(tallyVote(NodeID{3}, nilDigest))

	require.True(t, vs.hasQuorum(nilDigest))
	_, ok := vs.quorumDigest()
	require.False(t, ok)
}

func TestVotesForSortedByVoter(t *testing.T) {
	vals := tallyValidators(t, 4)
	vs := newVoteSet(vals)
	x := Digest{1}

	vs.add(tallyVote(NodeID{3}, x))
	vs.add(tallyVote(NodeID{1}, x))
	vs.add(tallyVote(NodeID{4}, Digest{2}))
	vs.add(tallyVote(NodeID{2}, x))

	votes := vs.votesFor(x)
	require.Len(t, votes, 3)
	for i, want := range []NodeID{{1}, {2}, {3}} {
		require.True(t, want.Equals(votes[i].Signature.Signer))
	}
}

func TestHeightVotesLazyRounds(t *testing.T) {
	hv := newHeightVotes(tallyValidators(t, 4))

	rv := hv.round(3)
	require.Same(t, rv, hv.round(3))
	require.NotSame(t, rv, hv.round(4))

	require.Same(t, rv.prevotes, rv.set(Prevote))
	require.Same(t, rv.precommits, rv.set(Precommit))
}

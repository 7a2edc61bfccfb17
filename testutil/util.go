package testutil

import (
	"crypto/ed25519"
	"math/rand"
	"testing"

	"github.com/ava-labs/simbft"
	"github.com/stretchr/testify/require"
)

// NewTestValidators builds a deterministic validator set of n nodes with
// equal power 1, returning the set and one signer per validator in roster
// order.
func NewTestValidators(t *testing.T, chainID string, n int) (*simbft.ValidatorSet, []*simbft.Ed25519Signer) {
	rng := rand.New(rand.NewSource(42))

	vals := make([]simbft.Validator, n)
	signers := make([]*simbft.Ed25519Signer, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(rng)
		require.NoError(t, err)
		vals[i] = simbft.Validator{
			ID:        simbft.NodeID{byte(i + 1)},
			PublicKey: pub,
			Power:     1,
		}
		signers[i] = simbft.NewEd25519Signer(chainID, priv)
	}

	set, err := simbft.NewValidatorSet(vals)
	require.NoError(t, err)
	return set, signers
}

// NewTestVote creates a signed vote.
func NewTestVote(t *testing.T, signer simbft.Signer, voter simbft.NodeID, kind simbft.VoteKind, height, round uint64, digest simbft.Digest) *simbft.Vote {
	vote := &simbft.Vote{
		Kind:   kind,
		Height: height,
		Round:  round,
		Digest: digest,
	}
	require.NoError(t, vote.Sign(voter, signer))
	return vote
}

// NewTestBlock creates a signed empty block for the given height and round,
// proposed by the round's proposer.
func NewTestBlock(t *testing.T, vals *simbft.ValidatorSet, signers []*simbft.Ed25519Signer, height, round uint64, parent simbft.Digest) *simbft.Block {
	proposer := vals.ProposerFor(height, round)
	block := &simbft.Block{
		Height:       height,
		Round:        round,
		ParentDigest: parent,
		Proposer:     proposer.ID,
	}
	idx := -1
	for i, v := range vals.Validators() {
		if v.ID.Equals(proposer.ID) {
			idx = i
			break
		}
	}
	require.NotEqual(t, -1, idx)
	require.NoError(t, block.Sign(signers[idx]))
	return block
}

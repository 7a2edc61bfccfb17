// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"bytes"
	"sort"
)

// voteSet tallies votes of one kind for a single (height, round). Votes are
// first-seen per voter: a second vote from the same voter, identical or
// conflicting, never alters any total.
type voteSet struct {
	vals *ValidatorSet

	votes         map[string]*Vote // voter -> first vote seen
	powerByDigest map[Digest]uint64
	totalPower    uint64
}

func newVoteSet(vals *ValidatorSet) *voteSet {
	return &voteSet{
		vals:          vals,
		votes:         make(map[string]*Vote),
		powerByDigest: make(map[Digest]uint64),
	}
}

// add records the vote and returns true, or returns false if this voter has
// already been counted.
func (vs *voteSet) add(vote *Vote) bool {
	voter := string(vote.Signature.Signer)
	if _, seen := vs.votes[voter]; seen {
		return false
	}
	power, ok := vs.vals.Power(vote.Signature.Signer)
	if !ok {
		return false
	}
	vs.votes[voter] = vote
	vs.powerByDigest[vote.Digest] += power
	vs.totalPower += power
	return true
}

// hasQuorum reports whether the digest's recorded power meets the quorum
// threshold.
func (vs *voteSet) hasQuorum(digest Digest) bool {
	return vs.powerByDigest[digest] >= vs.vals.QuorumThreshold()
}

// quorumDigest returns the non-nil digest that reached quorum, if any. Under
// the fault bound at most one digest can.
func (vs *voteSet) quorumDigest() (Digest, bool) {
	for digest, power := range vs.powerByDigest {
		if digest.Zero() {
			continue
		}
		if power >= vs.vals.QuorumThreshold() {
			return digest, true
		}
	}
	return Digest{}, false
}

// votesFor returns the recorded votes for a digest, sorted by voter id so
// certificate contents do not depend on arrival order.
func (vs *voteSet) votesFor(digest Digest) []*Vote {
	var out []*Vote
	for _, vote := range vs.votes {
		if vote.Digest == digest {
			out = append(out, vote)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Signature.Signer, out[j].Signature.Signer) < 0
	})
	return out
}

// roundVotes holds both tallies of one (height, round).
type roundVotes struct {
	prevotes   *voteSet
	precommits *voteSet
}

func newRoundVotes(vals *ValidatorSet) *roundVotes {
	return &roundVotes{
		prevotes:   newVoteSet(vals),
		precommits: newVoteSet(vals),
	}
}

func (rv *roundVotes) set(kind VoteKind) *voteSet {
	if kind == Precommit {
		return rv.precommits
	}
	return rv.prevotes
}

// heightVotes lazily allocates tallies per round of one height.
type heightVotes struct {
	vals   *ValidatorSet
	rounds map[uint64]*roundVotes
}

func newHeightVotes(vals *ValidatorSet) *heightVotes {
	return &heightVotes{
		vals:   vals,
		rounds: make(map[uint64]*roundVotes),
	}
}

func (hv *heightVotes) round(round uint64) *roundVotes {
	rv, ok := hv.rounds[round]
	if !ok {
		rv = newRoundVotes(hv.vals)
		hv.rounds[round] = rv
	}
	return rv
}

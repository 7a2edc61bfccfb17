// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"crypto/ed25519"
	"fmt"
	"math"
)

// Validator is one member of the fixed roster for a simulation run.
type Validator struct {
	ID        NodeID
	PublicKey ed25519.PublicKey
	Power     uint64
}

// ValidatorSet is the ordered, immutable roster of validators. Total power
// and the quorum threshold are derived once at construction.
type ValidatorSet struct {
	vals      []Validator
	byID      map[string]*Validator
	total     uint64
	threshold uint64
}

func NewValidatorSet(vals []Validator) (*ValidatorSet, error) {
	if len(vals) == 0 {
		return nil, ErrEmptyValidatorSet
	}

	vs := &ValidatorSet{
		vals: make([]Validator, len(vals)),
		byID: make(map[string]*Validator, len(vals)),
	}

	for i, v := range vals {
		if v.Power == 0 {
			return nil, fmt.Errorf("%w: validator %s has zero power", ErrInvalidVotingPower, v.ID)
		}
		if _, exists := vs.byID[string(v.ID)]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateValidator, v.ID)
		}
		if vs.total > math.MaxUint64-v.Power {
			return nil, ErrTotalPowerOverflow
		}
		vs.vals[i] = v
		vs.byID[string(v.ID)] = &vs.vals[i]
		vs.total += v.Power
	}

	vs.threshold = 2*vs.total/3 + 1
	return vs, nil
}

func (vs *ValidatorSet) Len() int {
	return len(vs.vals)
}

// Validators returns the roster in its fixed order.
func (vs *ValidatorSet) Validators() []Validator {
	out := make([]Validator, len(vs.vals))
	copy(out, vs.vals)
	return out
}

func (vs *ValidatorSet) Contains(id NodeID) bool {
	_, ok := vs.byID[string(id)]
	return ok
}

// Power returns the voting power of the given validator, or false if it is
// not a member.
func (vs *ValidatorSet) Power(id NodeID) (uint64, bool) {
	v, ok := vs.byID[string(id)]
	if !ok {
		return 0, false
	}
	return v.Power, true
}

func (vs *ValidatorSet) PublicKey(id NodeID) (ed25519.PublicKey, bool) {
	v, ok := vs.byID[string(id)]
	if !ok {
		return nil, false
	}
	return v.PublicKey, true
}

func (vs *ValidatorSet) TotalPower() uint64 {
	return vs.total
}

// QuorumThreshold is the minimum combined power that strictly exceeds two
// thirds of the total.
func (vs *ValidatorSet) QuorumThreshold() uint64 {
	return vs.threshold
}

// ProposerFor selects the proposer for the given height and round by
// round-robin rotation over the roster order.
func (vs *ValidatorSet) ProposerFor(height, round uint64) Validator {
	return vs.vals[(height+round)%uint64(len(vs.vals))]
}

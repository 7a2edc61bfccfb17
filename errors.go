// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import "errors"

var (
	// ErrInvalidSignature is returned when a signature does not verify
	// against the claimed signer's public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownVoter is returned when a vote's signer is not a member of
	// the validator set.
	ErrUnknownVoter = errors.New("unknown voter")

	ErrEmptyValidatorSet  = errors.New("empty validator set")
	ErrDuplicateValidator = errors.New("duplicate validator")
	ErrInvalidVotingPower = errors.New("invalid voting power")
	ErrTotalPowerOverflow = errors.New("total voting power overflow")

	// ErrValidatorSetMismatch aborts construction when a node's expectation
	// of the shared validator set diverges from the configuration. This is
	// the only fatal condition of the protocol.
	ErrValidatorSetMismatch = errors.New("validator set mismatch")
)

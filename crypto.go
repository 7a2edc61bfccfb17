// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// chainPayload scopes a message to a chain so that a signature produced for
// one chain id never verifies on another.
func chainPayload(chainID string, message []byte) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, []byte(chainID))
	buf.Write(message)
	return buf.Bytes()
}

// Ed25519Signer signs on behalf of one node, scoped to a chain id.
type Ed25519Signer struct {
	chainID string
	priv    ed25519.PrivateKey
}

func NewEd25519Signer(chainID string, priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{chainID: chainID, priv: priv}
}

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, chainPayload(s.chainID, message)), nil
}

// Ed25519Verifier verifies signatures against the public keys of the
// validator set.
type Ed25519Verifier struct {
	chainID string
	vals    *ValidatorSet
}

func NewEd25519Verifier(chainID string, vals *ValidatorSet) *Ed25519Verifier {
	return &Ed25519Verifier{chainID: chainID, vals: vals}
}

func (v *Ed25519Verifier) Verify(message []byte, signature []byte, signer NodeID) error {
	pub, ok := v.vals.PublicKey(signer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVoter, signer)
	}
	if !ed25519.Verify(pub, chainPayload(v.chainID, message), signature) {
		return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer)
	}
	return nil
}

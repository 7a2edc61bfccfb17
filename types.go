// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	digestLen        = 32
	digestFormatSize = 10

	// Domain separation contexts. A signature produced under one context
	// never verifies under another, which prevents replaying a prevote as a
	// precommit or a vote as a proposal.
	ProposalContext  = "proposal"
	PrevoteContext   = "prevote"
	PrecommitContext = "precommit"
	TxContext        = "tx"
)

type Digest [digestLen]byte

func (d Digest) String() string {
	return fmt.Sprintf("%x", (d)[:digestFormatSize])
}

// Zero reports whether this is the nil digest, used by votes to express
// "no block".
func (d Digest) Zero() bool {
	return d == Digest{}
}

type NodeID []byte

func (n NodeID) String() string {
	if len(n) == 0 {
		return "-"
	}
	return hex.EncodeToString(n)
}

func (n NodeID) Equals(o NodeID) bool {
	return bytes.Equal(n, o)
}

type VoteKind uint8

const (
	VoteKindNone VoteKind = iota
	Prevote
	Precommit
)

func (k VoteKind) String() string {
	switch k {
	case Prevote:
		return "prevote"
	case Precommit:
		return "precommit"
	default:
		return "none"
	}
}

// Context returns the domain separation context for signatures of this kind.
func (k VoteKind) Context() string {
	if k == Precommit {
		return PrecommitContext
	}
	return PrevoteContext
}

// Signature encodes a signature and the node that created it, without the
// message it was signed on.
type Signature struct {
	// Signer is the NodeID of the creator of the signature.
	Signer NodeID
	// Value is the byte representation of the signature.
	Value []byte
}

// Transaction is a signed transfer. It is immutable once created.
type Transaction struct {
	Sender    NodeID
	Recipient NodeID
	Nonce     uint64
	Amount    uint64
	Signature []byte
}

// SignBytes returns the canonical byte encoding signed by the sender.
func (t *Transaction) SignBytes() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, t.Sender)
	writeBytes(&buf, t.Recipient)
	writeUint64(&buf, t.Nonce)
	writeUint64(&buf, t.Amount)
	return buf.Bytes()
}

// Digest identifies the transaction by content, excluding the signature.
func (t *Transaction) Digest() Digest {
	return sha256.Sum256(t.SignBytes())
}

func (t *Transaction) Sign(signer Signer) error {
	sig, err := signContext(signer, t.SignBytes(), TxContext)
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

func (t *Transaction) Verify(verifier SignatureVerifier) error {
	return verifyContext(t.Signature, verifier, t.SignBytes(), TxContext, t.Sender)
}

// Block is a proposed batch of transactions. Identity is the content digest.
type Block struct {
	Height       uint64
	Round        uint64
	ParentDigest Digest
	Proposer     NodeID
	Transactions []Transaction
	Signature    []byte
}

// TransactionsDigest chains the digests of all transactions in block order.
func (b *Block) TransactionsDigest() Digest {
	h := sha256.New()
	for i := range b.Transactions {
		d := b.Transactions[i].Digest()
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// SignBytes returns the canonical header encoding signed by the proposer.
func (b *Block) SignBytes() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, b.Height)
	writeUint64(&buf, b.Round)
	buf.Write(b.ParentDigest[:])
	txs := b.TransactionsDigest()
	buf.Write(txs[:])
	writeBytes(&buf, b.Proposer)
	return buf.Bytes()
}

func (b *Block) Digest() Digest {
	return sha256.Sum256(b.SignBytes())
}

func (b *Block) Sign(signer Signer) error {
	sig, err := signContext(signer, b.SignBytes(), ProposalContext)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

func (b *Block) Verify(verifier SignatureVerifier) error {
	return verifyContext(b.Signature, verifier, b.SignBytes(), ProposalContext, b.Proposer)
}

// Vote is a prevote or precommit for a block digest at a height and round.
// A zero digest votes for "no block".
type Vote struct {
	Kind      VoteKind
	Height    uint64
	Round     uint64
	Digest    Digest
	Signature Signature
}

// SignBytes returns the canonical encoding signed by the voter. The vote
// kind is part of the payload in addition to selecting the context.
func (v *Vote) SignBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.Kind))
	writeUint64(&buf, v.Height)
	writeUint64(&buf, v.Round)
	buf.Write(v.Digest[:])
	return buf.Bytes()
}

func (v *Vote) Sign(nodeID NodeID, signer Signer) error {
	sig, err := signContext(signer, v.SignBytes(), v.Kind.Context())
	if err != nil {
		return err
	}
	v.Signature = Signature{
		Signer: nodeID,
		Value:  sig,
	}
	return nil
}

func (v *Vote) Verify(verifier SignatureVerifier) error {
	return verifyContext(v.Signature.Value, verifier, v.SignBytes(), v.Kind.Context(), v.Signature.Signer)
}

// QuorumCertificate aggregates precommits whose combined voting power
// exceeds two thirds of the total. It is the canonical finalization proof
// for its height.
type QuorumCertificate struct {
	Height     uint64
	Round      uint64
	Digest     Digest
	Signatures []Signature
}

// Signers returns the voter set of the certificate.
func (qc *QuorumCertificate) Signers() []NodeID {
	signers := make([]NodeID, 0, len(qc.Signatures))
	for _, sig := range qc.Signatures {
		signers = append(signers, sig.Signer)
	}
	return signers
}

// Message is the closed union exchanged between nodes. Exactly one field is
// set.
type Message struct {
	Proposal *Block
	Vote     *Vote
}

// Envelope wraps a message in transit through the network simulator.
type Envelope struct {
	From     NodeID
	To       NodeID
	Message  *Message
	Origin   uint64 // tick at which Send was called
	Delivery uint64 // tick at which the message is handed to the receiver
	Seq      uint64 // insertion sequence, the delivery tie-break
}

// signedPayload prefixes the message with its domain separation context so
// that signatures from different protocol message kinds cannot be confused.
func signedPayload(msg []byte, context string) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, []byte(context))
	buf.Write(msg)
	return buf.Bytes()
}

func signContext(signer Signer, msg []byte, context string) ([]byte, error) {
	return signer.Sign(signedPayload(msg, context))
}

func verifyContext(signature []byte, verifier SignatureVerifier, msg []byte, context string, signer NodeID) error {
	return verifier.Verify(signedPayload(msg, context), signature, signer)
}

func writeUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint64(buf, uint64(len(b)))
	buf.Write(b)
}

// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"go.uber.org/zap"
)

// Account holds the balance and next expected nonce of one ledger entry.
type Account struct {
	Balance uint64
	Nonce   uint64
}

// Ledger is the full account state. It is only ever mutated through
// ExecutionEngine.Apply, which works on a copy.
type Ledger struct {
	accounts map[string]Account
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]Account)}
}

// Fund credits an account at genesis time.
func (l *Ledger) Fund(id NodeID, amount uint64) {
	acct := l.accounts[string(id)]
	acct.Balance += amount
	l.accounts[string(id)] = acct
}

func (l *Ledger) Account(id NodeID) Account {
	return l.accounts[string(id)]
}

func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	for k, v := range l.accounts {
		clone.accounts[k] = v
	}
	return clone
}

// Root is a deterministic digest of the full ledger: accounts sorted by id,
// each entry contributing id, balance and nonce. It never depends on map
// iteration order or insertion history.
func (l *Ledger) Root() Digest {
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		acct := l.accounts[id]
		writeBytes(&buf, []byte(id))
		writeUint64(&buf, acct.Balance)
		writeUint64(&buf, acct.Nonce)
	}
	return sha256.Sum256(buf.Bytes())
}

// ExecutionEngine applies finalized block content to the ledger. Apply is a
// pure function of its inputs: every honest node re-executing the same block
// over the same ledger reaches a bit-identical state and root.
type ExecutionEngine struct {
	log      Logger
	verifier SignatureVerifier
}

func NewExecutionEngine(log Logger, verifier SignatureVerifier) *ExecutionEngine {
	return &ExecutionEngine{log: log, verifier: verifier}
}

// Validate reports whether the transaction can apply to the given ledger
// right now: the signature verifies, the nonce matches the sender's current
// nonce, and the balance covers the amount.
func (e *ExecutionEngine) Validate(ledger *Ledger, tx *Transaction) bool {
	if err := tx.Verify(e.verifier); err != nil {
		e.log.Debug("Transaction signature rejected",
			zap.Stringer("sender", tx.Sender),
			zap.Uint64("nonce", tx.Nonce),
			zap.Error(err))
		return false
	}
	acct := ledger.Account(tx.Sender)
	if tx.Nonce != acct.Nonce {
		e.log.Debug("Transaction nonce mismatch",
			zap.Stringer("sender", tx.Sender),
			zap.Uint64("nonce", tx.Nonce),
			zap.Uint64("expected", acct.Nonce))
		return false
	}
	if tx.Amount > acct.Balance {
		e.log.Debug("Transaction exceeds balance",
			zap.Stringer("sender", tx.Sender),
			zap.Uint64("amount", tx.Amount),
			zap.Uint64("balance", acct.Balance))
		return false
	}
	return true
}

// Apply executes the transactions strictly in block order over a copy of the
// ledger. Invalid transactions are skipped, not errors. Returns the new
// ledger and its state root.
func (e *ExecutionEngine) Apply(ledger *Ledger, txs []Transaction) (*Ledger, Digest) {
	next := ledger.Clone()
	for i := range txs {
		tx := &txs[i]
		if !e.Validate(next, tx) {
			continue
		}
		sender := next.accounts[string(tx.Sender)]
		sender.Balance -= tx.Amount
		sender.Nonce++
		next.accounts[string(tx.Sender)] = sender

		recipient := next.accounts[string(tx.Recipient)]
		recipient.Balance += tx.Amount
		next.accounts[string(tx.Recipient)] = recipient
	}
	return next, next.Root()
}

// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"bytes"
	"fmt"
)

type EventKind uint8

const (
	EventPropose EventKind = iota + 1
	EventVoteCast
	EventVoteReceived
	EventTimeout
	EventCommit
)

func (k EventKind) String() string {
	switch k {
	case EventPropose:
		return "propose"
	case EventVoteCast:
		return "vote_cast"
	case EventVoteReceived:
		return "vote_received"
	case EventTimeout:
		return "timeout"
	case EventCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Event is one canonical record of a node's protocol activity. It carries
// logical fields only: ticks, ids, heights, rounds and digests. Never
// wall-clock time, so two runs with identical seed and configuration render
// byte-identical streams.
type Event struct {
	Tick   uint64
	Node   NodeID
	Kind   EventKind
	Height uint64
	Round  uint64

	// Digest is the block digest the event refers to, zero when none.
	Digest Digest
	// Voter and VoteKind are set for vote_cast and vote_received events.
	Voter    NodeID
	VoteKind VoteKind
	// Root is the post-execution state root, set for commit events.
	Root Digest
}

// String renders the event with every field in a fixed order.
func (e Event) String() string {
	return fmt.Sprintf("tick=%d node=%s event=%s height=%d round=%d digest=%s vote=%s voter=%s root=%s",
		e.Tick, e.Node, e.Kind, e.Height, e.Round, e.Digest, e.VoteKind, e.Voter, e.Root)
}

// MemRecorder accumulates canonical events in memory and renders them as one
// line per event for byte-for-byte comparison between runs.
type MemRecorder struct {
	events []Event
}

func NewMemRecorder() *MemRecorder {
	return &MemRecorder{}
}

func (r *MemRecorder) Record(event Event) {
	r.events = append(r.events, event)
}

func (r *MemRecorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Bytes renders the full stream, one event per line.
func (r *MemRecorder) Bytes() []byte {
	var buf bytes.Buffer
	for _, e := range r.events {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

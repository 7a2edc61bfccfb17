// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simbft

import (
	"container/heap"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"go.uber.org/zap"
)

// NetworkStats counts simulated network behavior. Drops and duplicates are
// expected behavior, not faults.
type NetworkStats struct {
	Sent        uint64
	Delivered   uint64
	Dropped     uint64
	RateLimited uint64
	Duplicated  uint64
}

// NetworkSimulator is a deterministic scheduler of message delivery between
// nodes under configurable loss, delay, duplication and rate limiting.
//
// Determinism contract: the outcome of every Send is drawn from a
// pseudo-random stream keyed by (seed, tick, sender, receiver, per-pair
// sequence number), never from shared mutable randomness, so it does not
// depend on the order in which unrelated nodes call Send. Delivery follows
// the total order (delivery tick, insertion sequence).
type NetworkSimulator struct {
	log  Logger
	cfg  NetworkConfig
	seed uint64

	tick    uint64
	seq     uint64
	pending envelopeHeap

	// pairSeq counts messages per (sender, receiver) pair for stream keying.
	pairSeq map[string]uint64
	// sentThisTick counts per-sender admissions for rate limiting. Reset on
	// every Advance.
	sentThisTick map[string]int

	handlers map[string]MessageHandler
	order    []NodeID

	stats NetworkStats
}

func NewNetworkSimulator(log Logger, cfg NetworkConfig, seed uint64) *NetworkSimulator {
	return &NetworkSimulator{
		log:          log,
		cfg:          cfg,
		seed:         seed,
		pairSeq:      make(map[string]uint64),
		sentThisTick: make(map[string]int),
		handlers:     make(map[string]MessageHandler),
	}
}

// Register attaches a node's inbound handler. Registration order fixes the
// broadcast fan-out order.
func (n *NetworkSimulator) Register(id NodeID, handler MessageHandler) {
	if _, ok := n.handlers[string(id)]; ok {
		return
	}
	n.handlers[string(id)] = handler
	n.order = append(n.order, id)
}

// Nodes returns all registered node ids in registration order.
func (n *NetworkSimulator) Nodes() []NodeID {
	out := make([]NodeID, len(n.order))
	copy(out, n.order)
	return out
}

func (n *NetworkSimulator) Stats() NetworkStats {
	return n.stats
}

// CurrentTick returns the tick the simulator last advanced to.
func (n *NetworkSimulator) CurrentTick() uint64 {
	return n.tick
}

// Broadcast sends the message to every registered node except the sender.
func (n *NetworkSimulator) Broadcast(from NodeID, msg *Message) {
	for _, to := range n.order {
		if to.Equals(from) {
			continue
		}
		n.Send(from, to, msg)
	}
}

// Send decides the fate of one message: rate-limit rejection, drop, or
// acceptance with a delay drawn from [MinDelay, MaxDelay], plus an optional
// duplicate with an independent delay draw.
func (n *NetworkSimulator) Send(from, to NodeID, msg *Message) {
	n.stats.Sent++

	if n.cfg.RateLimit > 0 {
		if n.sentThisTick[string(from)] >= n.cfg.RateLimit {
			n.stats.RateLimited++
			n.log.Debug("Message rejected by rate limit",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
				zap.Uint64("tick", n.tick))
			return
		}
		n.sentThisTick[string(from)]++
	}

	pairKey := string(from) + "|" + string(to)
	pairSeq := n.pairSeq[pairKey]
	n.pairSeq[pairKey] = pairSeq + 1

	rng := n.stream(n.tick, from, to, pairSeq)

	// Draw order is fixed: drop, delay, duplicate, duplicate delay.
	if rng.Float64() < n.cfg.DropRate {
		n.stats.Dropped++
		n.log.Debug("Message dropped",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Uint64("tick", n.tick))
		return
	}

	n.enqueue(from, to, msg, n.delay(rng))

	if rng.Float64() < n.cfg.DuplicateRate {
		n.stats.Duplicated++
		n.log.Debug("Message duplicated",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Uint64("tick", n.tick))
		n.enqueue(from, to, msg, n.delay(rng))
	}
}

// Advance moves simulated time to the given tick and delivers every pending
// message whose delivery tick is due, in (delivery tick, insertion sequence)
// order, invoking each receiver's handler synchronously. This total order is
// the sole source of truth for what each node saw and in what order.
func (n *NetworkSimulator) Advance(tick uint64) {
	n.tick = tick
	clear(n.sentThisTick)

	for n.pending.Len() > 0 {
		next := n.pending[0]
		if next.Delivery > tick {
			break
		}
		heap.Pop(&n.pending)
		handler, ok := n.handlers[string(next.To)]
		if !ok {
			n.log.Warn("No handler registered for receiver", zap.Stringer("to", next.To))
			continue
		}
		n.stats.Delivered++
		handler.HandleMessage(next.Message, next.From)
	}
}

func (n *NetworkSimulator) delay(rng *rand.Rand) uint64 {
	span := n.cfg.MaxDelay - n.cfg.MinDelay
	if span == 0 {
		return n.cfg.MinDelay
	}
	return n.cfg.MinDelay + uint64(rng.Int63n(int64(span)+1))
}

func (n *NetworkSimulator) enqueue(from, to NodeID, msg *Message, delay uint64) {
	env := &Envelope{
		From:     from,
		To:       to,
		Message:  msg,
		Origin:   n.tick,
		Delivery: n.tick + delay,
		Seq:      n.seq,
	}
	n.seq++
	heap.Push(&n.pending, env)
}

// stream derives an independent pseudo-random stream for one send decision.
// The key binds the seed, current tick, both endpoints and the per-pair
// sequence number, so the outcome is reproducible regardless of the order in
// which other nodes send.
func (n *NetworkSimulator) stream(tick uint64, from, to NodeID, pairSeq uint64) *rand.Rand {
	h := sha256.New()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n.seed)
	h.Write(b[:])
	binary.BigEndian.PutUint64(b[:], tick)
	h.Write(b[:])
	h.Write(from)
	h.Write(to)
	binary.BigEndian.PutUint64(b[:], pairSeq)
	h.Write(b[:])
	sum := h.Sum(nil)
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}

// envelopeHeap orders pending deliveries by (delivery tick, insertion
// sequence). Never by receiver identity or payload content.
type envelopeHeap []*Envelope

func (h *envelopeHeap) Len() int { return len(*h) }

func (h *envelopeHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if a.Delivery != b.Delivery {
		return a.Delivery < b.Delivery
	}
	return a.Seq < b.Seq
}

func (h *envelopeHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *envelopeHeap) Push(x any) {
	*h = append(*h, x.(*Envelope))
}

func (h *envelopeHeap) Pop() any {
	old := *h
	l := len(old)
	env := old[l-1]
	old[l-1] = nil
	*h = old[:l-1]
	return env
}

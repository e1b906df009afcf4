// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bus is the in-process event fan-out between CommandExecutor and
// its subscribers (in this module, only the Replicator subscribes): the
// executor never calls subscriber code directly, only posts to a bounded
// channel, which is what keeps a re-entrant executor/replicator call cycle
// from ever existing in the call graph.
package bus

import (
	"sync/atomic"

	"github.com/merklekv/merklekv/kv"
)

// Event is the in-process record of one applied mutation, posted exactly
// once per local apply (never for a replicated-mode apply). It carries
// everything Replicator needs to build a wire MutationEvent.
type Event struct {
	Op     kv.Op
	Key    []byte
	Value  []byte // nil for DEL and TRUNCATE
	Amount int64  // meaningful for INC/DEC only
	Tag    kv.LamportTag
}

// DefaultCapacity is the bounded channel depth each subscriber gets,
// matching the outbound replication channel's default.
const DefaultCapacity = 1024

// Bus fans out Events to any number of subscribers. Publish never blocks:
// a subscriber that falls behind drops the event and its Dropped counter
// increments, which is acceptable because the cold anti-entropy path, not
// this bus, is the authoritative fallback for anything lost here.
type Bus struct {
	subs []*subscription
}

type subscription struct {
	ch      chan Event
	dropped *uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscription is a subscriber's read handle plus its drop counter.
type Subscription struct {
	C       <-chan Event
	dropped *uint64
}

// Dropped reports how many Events this subscriber has missed because its
// channel was full at Publish time.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(s.dropped)
}

// Subscribe registers a new subscriber with the given channel capacity
// (use DefaultCapacity unless a component has a specific reason not to).
func (b *Bus) Subscribe(capacity int) *Subscription {
	sub := &subscription{ch: make(chan Event, capacity), dropped: new(uint64)}
	b.subs = append(b.subs, sub)
	return &Subscription{C: sub.ch, dropped: sub.dropped}
}

// Publish fans out ev to every subscriber, dropping (and counting) for any
// subscriber whose channel is currently full.
func (b *Bus) Publish(ev Event) {
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(sub.dropped, 1)
		}
	}
}

// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor applies parsed commands to the store, assigns Lamport
// tags for local writes, and posts exactly one bus.Event per applied local
// mutation. It is the single arbiter between the hot replication path and
// the cold anti-entropy path: both funnel repairs through
// Execute/ApplyReplicated rather than touching store.Store directly.
package executor

import (
	"time"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/store"
)

// Executor is the sole entry point for applying commands, whether they
// originate from a client connection, a remote replication delivery, or an
// anti-entropy repair.
type Executor struct {
	store *store.Store
	seq   *identity.Sequencer
	bus   *bus.Bus

	startedAt time.Time
	version   string

	statsSrc StatsSources
}

// StatsSources supplies the counters STATS surfaces from components the
// executor doesn't own. Either field may be nil, in which case that
// counter renders as 0.
type StatsSources struct {
	ReplicationOverflow func() uint64
	AntiEntropySessions func() (run, failed uint64)
}

// New returns an Executor over s, minting local Lamport tags from seq and
// posting mutation events to b.
func New(s *store.Store, seq *identity.Sequencer, b *bus.Bus, version string) *Executor {
	return &Executor{store: s, seq: seq, bus: b, startedAt: time.Now(), version: version}
}

// Execute applies a locally-originated command: store mutation, Lamport
// tag assignment, and — for mutating commands — exactly one bus.Event.
// Keys are not validated here; the server's parser does that.
func (e *Executor) Execute(cmd kv.Command) kv.Result {
	switch cmd.Kind {
	case kv.KindGet:
		return e.get(cmd)
	case kv.KindSet:
		return e.set(cmd)
	case kv.KindDel:
		return e.del(cmd)
	case kv.KindInc:
		return e.numeric(cmd, kv.OpInc)
	case kv.KindDec:
		return e.numeric(cmd, kv.OpDec)
	case kv.KindAppend:
		return e.concat(cmd, store.SideAppend)
	case kv.KindPrepend:
		return e.concat(cmd, store.SidePrepend)
	case kv.KindMGet:
		return e.mget(cmd)
	case kv.KindMSet:
		return e.mset(cmd)
	case kv.KindTruncate:
		return e.truncate(cmd)
	case kv.KindPing:
		return kv.Result{Kind: cmd.Kind, Text: "PONG"}
	case kv.KindHealth:
		return kv.Result{Kind: cmd.Kind, Text: "OK"}
	case kv.KindVersion:
		return kv.Result{Kind: cmd.Kind, Text: e.version}
	case kv.KindStats:
		return e.stats(cmd)
	case kv.KindInfo:
		return e.info(cmd)
	case kv.KindFlush:
		// The server handles FLUSH itself by calling the replicator's Flush
		// with its own timeout, without going through Execute; from the
		// executor's point of view FLUSH touches no state.
		return kv.Result{Kind: cmd.Kind, Text: "OK"}
	case kv.KindShutdown:
		return kv.Result{Kind: cmd.Kind, Text: "OK"}
	default:
		return kv.Result{Kind: cmd.Kind, Err: kv.ErrInvalidKey}
	}
}

func (e *Executor) get(cmd kv.Command) kv.Result {
	v, ok := e.store.Get(cmd.Key)
	return kv.Result{Kind: cmd.Kind, Found: ok, Value: v}
}

func (e *Executor) set(cmd kv.Command) kv.Result {
	tag := e.seq.Next()
	_, _, applied := e.store.ApplySet(cmd.Key, cmd.Value, tag, false)
	if applied {
		e.publish(bus.Event{Op: kv.OpSet, Key: cmd.Key, Value: cmd.Value, Tag: tag})
	}
	return kv.Result{Kind: cmd.Kind}
}

func (e *Executor) del(cmd kv.Command) kv.Result {
	tag := e.seq.Next()
	existed, applied := e.store.ApplyDelete(cmd.Key, tag, false)
	if applied && existed {
		e.publish(bus.Event{Op: kv.OpDel, Key: cmd.Key, Tag: tag})
	}
	return kv.Result{Kind: cmd.Kind, Deleted: existed}
}

func (e *Executor) numeric(cmd kv.Command, op kv.Op) kv.Result {
	amount := int64(1)
	if cmd.HasAmount {
		amount = cmd.Amount
	}
	tag := e.seq.Next()
	n, applied, err := e.store.ApplyNumeric(cmd.Key, op, amount, tag, false)
	if err != nil {
		return kv.Result{Kind: cmd.Kind, Err: err}
	}
	if applied {
		e.publish(bus.Event{Op: op, Key: cmd.Key, Amount: amount, Tag: tag})
	}
	return kv.Result{Kind: cmd.Kind, Number: n}
}

func (e *Executor) concat(cmd kv.Command, side store.Side) kv.Result {
	tag := e.seq.Next()
	v, applied := e.store.ApplyConcat(cmd.Key, cmd.Value, side, tag, false)
	if applied {
		op := kv.OpAppend
		if side == store.SidePrepend {
			op = kv.OpPrepend
		}
		e.publish(bus.Event{Op: op, Key: cmd.Key, Value: cmd.Value, Tag: tag})
	}
	return kv.Result{Kind: cmd.Kind, Value: v}
}

func (e *Executor) mget(cmd kv.Command) kv.Result {
	values, found := e.store.MGet(cmd.Keys)
	out := make(map[string][]byte, len(cmd.Keys))
	for i, k := range cmd.Keys {
		if found[i] {
			out[string(k)] = values[i]
		}
	}
	return kv.Result{Kind: cmd.Kind, Values: out, Order: cmd.Keys}
}

// mset applies every pair under a single Lamport tag. It is all-or-nothing
// at the executor level: since no per-key precondition can fail once the
// command has parsed, every pair always applies.
func (e *Executor) mset(cmd kv.Command) kv.Result {
	tag := e.seq.Next()
	for _, p := range cmd.Pairs {
		e.store.ApplySet(p.Key, p.Value, tag, false)
	}
	for _, p := range cmd.Pairs {
		e.publish(bus.Event{Op: kv.OpSet, Key: p.Key, Value: p.Value, Tag: tag})
	}
	return kv.Result{Kind: cmd.Kind}
}

// truncate removes every key under one Lamport tag and posts exactly one
// event, regardless of how many keys existed beforehand.
func (e *Executor) truncate(cmd kv.Command) kv.Result {
	tag := e.seq.Next()
	count := e.store.ApplyTruncate(tag)
	e.publish(bus.Event{Op: kv.OpTruncate, Tag: tag})
	return kv.Result{Kind: cmd.Kind, Count: count}
}

// SetStatsSources wires the replication and anti-entropy counters into
// STATS. Call during node assembly, before serving traffic.
func (e *Executor) SetStatsSources(src StatsSources) {
	e.statsSrc = src
}

func (e *Executor) stats(cmd kv.Command) kv.Result {
	var overflow uint64
	if e.statsSrc.ReplicationOverflow != nil {
		overflow = e.statsSrc.ReplicationOverflow()
	}
	var run, failed uint64
	if e.statsSrc.AntiEntropySessions != nil {
		run, failed = e.statsSrc.AntiEntropySessions()
	}
	root := e.store.Root()
	return kv.Result{Kind: cmd.Kind, Text: renderStats(e.store.Len(), root, time.Since(e.startedAt), overflow, run, failed)}
}

func (e *Executor) info(cmd kv.Command) kv.Result {
	return kv.Result{Kind: cmd.Kind, Text: "merklekv " + e.version}
}

func (e *Executor) publish(ev bus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// ApplyReplicated applies an inbound event in replicated mode: Store and
// MerkleIndex are updated under the last-writer-wins dominance rule, the
// sequencer observes the remote counter so the local clock never falls
// behind, and no event is re-posted — this is what keeps replication from
// looping a mutation endlessly around the cluster.
func (e *Executor) ApplyReplicated(ev bus.Event) {
	e.seq.Observe(ev.Tag.Counter)
	switch ev.Op {
	case kv.OpSet:
		e.store.ApplySet(ev.Key, ev.Value, ev.Tag, true)
	case kv.OpDel:
		e.store.ApplyDelete(ev.Key, ev.Tag, true)
	case kv.OpInc:
		e.store.ApplyNumeric(ev.Key, kv.OpInc, ev.Amount, ev.Tag, true)
	case kv.OpDec:
		e.store.ApplyNumeric(ev.Key, kv.OpDec, ev.Amount, ev.Tag, true)
	case kv.OpAppend:
		e.store.ApplyConcat(ev.Key, ev.Value, store.SideAppend, ev.Tag, true)
	case kv.OpPrepend:
		e.store.ApplyConcat(ev.Key, ev.Value, store.SidePrepend, ev.Tag, true)
	case kv.OpTruncate:
		e.store.ApplyTruncate(ev.Tag)
	}
}

// Store exposes the underlying store for components (antientropy) that
// need direct read access without going through Execute.
func (e *Executor) Store() *store.Store {
	return e.store
}

// Sequencer exposes the Lamport sequencer that mints this executor's
// local tags and is advanced by ApplyReplicated.
func (e *Executor) Sequencer() *identity.Sequencer {
	return e.seq
}

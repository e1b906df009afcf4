// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kv defines the data model shared by the store, the command
// executor, and the replication and anti-entropy paths: entries, Lamport
// tags, commands, and the error taxonomy every other package returns.
package kv

import "strings"

// Op identifies a mutating operation. Its encoding is shared between the
// executor's internal dispatch and the replication wire format, so values
// here are part of the cluster-wide protocol and must never be renumbered.
type Op uint8

const (
	OpSet Op = iota
	OpDel
	OpInc
	OpDec
	OpAppend
	OpPrepend
	OpTruncate
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpInc:
		return "INC"
	case OpDec:
		return "DEC"
	case OpAppend:
		return "APPEND"
	case OpPrepend:
		return "PREPEND"
	case OpTruncate:
		return "TRUNCATE"
	default:
		return "UNKNOWN"
	}
}

// LamportTag totally orders writes across the cluster without a shared
// clock: (Counter, NodeID), ties on Counter broken by comparing NodeID.
type LamportTag struct {
	Counter uint64
	NodeID  string
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after other.
func (t LamportTag) Compare(other LamportTag) int {
	switch {
	case t.Counter < other.Counter:
		return -1
	case t.Counter > other.Counter:
		return 1
	default:
		return strings.Compare(t.NodeID, other.NodeID)
	}
}

// Dominates reports whether t must win a last-writer-wins comparison against
// other, i.e. t is strictly greater. Used both by replicated-mode apply and
// by anti-entropy leaf repair.
func (t LamportTag) Dominates(other LamportTag) bool {
	return t.Compare(other) > 0
}

// Zero reports whether this is the unset tag (no entry has ever been
// written locally with it).
func (t LamportTag) Zero() bool {
	return t.Counter == 0 && t.NodeID == ""
}

// Entry is a single stored key with its last-writer-wins metadata. Value is
// nil to represent deletion when Entry is used as a replication payload;
// within Store, absence is represented by the key simply not existing in
// the map (see store.Store).
type Entry struct {
	Key   []byte
	Value []byte
	Tag   LamportTag
}

// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store holds the authoritative in-memory key/value map together
// with its Merkle index, kept consistent under a single lock the way
// etcd's mvcc store pairs its treeIndex with its backing
// revision store: one mutex guards both the value and the digest that
// describes it, so a reader never observes one without the other.
package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/merkle"
)

// Side selects which end of a string value APPEND/PREPEND extends.
type Side int

const (
	SideAppend Side = iota
	SidePrepend
)

// record is what Store keeps per live key: the value plus the Lamport tag
// that produced it, needed both to answer GetWithTag and to decide whether
// a replicated or anti-entropy-repaired write dominates the current one.
type record struct {
	value []byte
	tag   kv.LamportTag
}

// cloneBytes copies b, yielding a non-nil zero-length slice for empty
// input. The anti-entropy repair wire encodes a nil value as a tombstone,
// so a live empty value must stay non-nil through every store copy or a
// repair push would turn a SET of "" into a DELETE on the peer.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Store is the authoritative map plus its Merkle index. Every mutating
// method takes the write's Lamport tag and a replicated flag: local writes
// (replicated=false) always apply and the caller is expected to have
// already minted a fresh, dominant tag via identity.Sequencer; replicated
// and anti-entropy-repaired writes (replicated=true) apply only if tag
// dominates the key's current tag (the last-writer-wins rule), making
// Apply* safe to call directly from inbound replication or repair
// without a separate compare-then-apply race window — the dominance check
// and the mutation happen under the same lock acquisition.
type Store struct {
	mu      sync.RWMutex
	entries map[string]record
	// tombstones holds the Lamport tag of the most recent DELETE applied to
	// a key no longer live, so a later replicated or anti-entropy-repaired
	// SET for that key is still subject to last-writer-wins instead of
	// unconditionally resurrecting it (see ApplySet/ApplyDelete). An entry
	// is removed only when a later write to its key supersedes it or
	// TRUNCATE clears the store; there is no compaction pass to age them
	// out.
	tombstones map[string]kv.LamportTag
	index      *merkle.Index
	backend    Backend
}

// New returns an empty, in-memory-only Store.
func New() *Store {
	return &Store{entries: make(map[string]record), tombstones: make(map[string]kv.LamportTag), index: merkle.New()}
}

// NewDurable returns a Store backed by backend: every accepted write is
// mirrored to it, and Load repopulates the in-memory map and index from it
// at startup. Reads never touch backend; it exists purely for restart
// durability.
func NewDurable(backend Backend) *Store {
	return &Store{entries: make(map[string]record), tombstones: make(map[string]kv.LamportTag), index: merkle.New(), backend: backend}
}

// Load repopulates the in-memory map and Merkle index from the configured
// backend. Call once at startup before serving traffic.
func (s *Store) Load() error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Iterate(func(key, value []byte) error {
		v := cloneBytes(value)
		s.entries[string(key)] = record{value: v}
		s.index.Set(key, v)
		return nil
	})
}

func (s *Store) writeThrough(key, value []byte, deleted bool) error {
	if s.backend == nil {
		return nil
	}
	if deleted {
		return s.backend.Delete(key)
	}
	return s.backend.Put(key, value)
}

// Get returns the current value for key.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[string(key)]
	if !ok {
		return nil, false
	}
	return cloneBytes(r.value), true
}

// GetWithTag returns the current value and its Lamport tag, used by
// anti-entropy to compare a local leaf against a peer's before repairing.
func (s *Store) GetWithTag(key []byte) (value []byte, tag kv.LamportTag, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[string(key)]
	if !ok {
		return nil, kv.LamportTag{}, false
	}
	return cloneBytes(r.value), r.tag, true
}

// TombstoneTag reports the Lamport tag of key's most recent DELETE, if it
// is not live and no later write has superseded the tombstone. Anti-entropy
// uses this to avoid resurrecting a key from a peer's stale copy: a peer
// offering a SET for key is only applied locally if its tag dominates the
// tombstone.
func (s *Store) TombstoneTag(key []byte) (kv.LamportTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.tombstones[string(key)]
	return tag, ok
}

// effectiveTag returns the tag a replicated write must dominate to apply to
// k: the live record's tag if k is live, else its tombstone's tag, if any.
// Must be called with s.mu held.
func (s *Store) effectiveTag(k string, cur record, live bool) (tag kv.LamportTag, known bool) {
	if live {
		return cur.tag, true
	}
	tag, known = s.tombstones[k]
	return tag, known
}

// MGet returns the current values for keys, in the same order, using Found
// to distinguish a present empty value from an absent key.
func (s *Store) MGet(keys [][]byte) (values [][]byte, found []bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values = make([][]byte, len(keys))
	found = make([]bool, len(keys))
	for i, k := range keys {
		if r, ok := s.entries[string(k)]; ok {
			values[i] = cloneBytes(r.value)
			found[i] = true
		}
	}
	return values, found
}

// ApplySet installs value for key under tag. existed/prev report the value
// it replaced, for the caller to build a Result.
func (s *Store) ApplySet(key, value []byte, tag kv.LamportTag, replicated bool) (prev []byte, existed bool, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	cur, ok := s.entries[k]
	if ok {
		prev, existed = cloneBytes(cur.value), true
	}
	if replicated {
		if curTag, known := s.effectiveTag(k, cur, ok); known && !tag.Dominates(curTag) {
			return prev, existed, false
		}
	}
	s.entries[k] = record{value: cloneBytes(value), tag: tag}
	delete(s.tombstones, k)
	s.index.Set(key, value)
	_ = s.writeThrough(key, value, false)
	return prev, existed, true
}

// ApplyDelete removes key under tag, last-writer-wins gated the same way
// as ApplySet, and leaves a tombstone at tag so a later replicated or
// anti-entropy-repaired SET for key must dominate it to apply.
func (s *Store) ApplyDelete(key []byte, tag kv.LamportTag, replicated bool) (existed, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	cur, ok := s.entries[k]
	existed = ok
	if replicated {
		if curTag, known := s.effectiveTag(k, cur, ok); known && !tag.Dominates(curTag) {
			return existed, false
		}
	}
	if ok {
		delete(s.entries, k)
		s.index.Delete(key)
	}
	s.tombstones[k] = tag
	_ = s.writeThrough(key, nil, true)
	return existed, true
}

// ApplyNumeric applies INC/DEC to key, treating an absent key as 0 and
// rejecting a non-numeric current value or an overflowing result.
func (s *Store) ApplyNumeric(key []byte, op kv.Op, amount int64, tag kv.LamportTag, replicated bool) (newValue int64, applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	cur, ok := s.entries[k]
	if replicated {
		if curTag, known := s.effectiveTag(k, cur, ok); known && !tag.Dominates(curTag) {
			return 0, false, nil
		}
	}
	n, err := parseNumeric(cur.value, ok)
	if err != nil {
		return 0, false, err
	}
	var sum int64
	var valid bool
	if op == kv.OpInc {
		sum, valid = addSigned64(n, amount)
	} else {
		sum, valid = subSigned64(n, amount)
	}
	if !valid {
		return 0, false, kv.ErrOverflow
	}
	encoded := formatNumeric(sum)
	s.entries[k] = record{value: encoded, tag: tag}
	delete(s.tombstones, k)
	s.index.Set(key, encoded)
	_ = s.writeThrough(key, encoded, false)
	return sum, true, nil
}

// ApplyConcat applies APPEND/PREPEND to key, treating an absent key as an
// empty string.
func (s *Store) ApplyConcat(key, value []byte, side Side, tag kv.LamportTag, replicated bool) (newValue []byte, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	cur, ok := s.entries[k]
	if replicated {
		if curTag, known := s.effectiveTag(k, cur, ok); known && !tag.Dominates(curTag) {
			return nil, false
		}
	}
	combined := make([]byte, 0, len(cur.value)+len(value))
	if side == SideAppend {
		combined = append(combined, cur.value...)
		combined = append(combined, value...)
	} else {
		combined = append(combined, value...)
		combined = append(combined, cur.value...)
	}
	s.entries[k] = record{value: combined, tag: tag}
	delete(s.tombstones, k)
	s.index.Set(key, combined)
	_ = s.writeThrough(key, combined, false)
	return cloneBytes(combined), true
}

// ApplyTruncate removes every key under tag. Unlike the per-key
// operations, TRUNCATE has no prior per-key tag to dominate, so it is
// applied unconditionally whenever it is the command actually being
// executed (locally, or replicated — a replicated TRUNCATE always
// applies, since it represents a cluster-wide decision already accepted
// by its origin).
func (s *Store) ApplyTruncate(tag kv.LamportTag) (count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = len(s.entries)
	for k := range s.entries {
		_ = s.writeThrough([]byte(k), nil, true)
	}
	s.entries = make(map[string]record)
	s.tombstones = make(map[string]kv.LamportTag)
	s.index.Clear()
	return count
}

// SnapshotSorted returns every live entry in lexicographic key order.
func (s *Store) SnapshotSorted() []kv.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kv.Entry, 0, len(s.entries))
	for k, r := range s.entries {
		out = append(out, kv.Entry{Key: []byte(k), Value: cloneBytes(r.value), Tag: r.tag})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

// Len reports the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Root returns the Merkle root over the current keyspace.
func (s *Store) Root() merkle.Digest {
	return s.index.Root()
}

// RangeDigest returns the digest of the contiguous key range [lo, hi].
func (s *Store) RangeDigest(lo, hi []byte) merkle.Digest {
	return s.index.RangeDigest(lo, hi)
}

// Children exposes the Merkle index's recursive-descent primitive to
// antientropy.
func (s *Store) Children(lo, hi []byte) []merkle.ChildRange {
	return s.index.Children(lo, hi)
}

// RangeEntries returns every live (key, value, tag) in [lo, hi], in sorted
// order, for anti-entropy's leaf-level exchange.
func (s *Store) RangeEntries(lo, hi []byte) []kv.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leaves := s.index.Leaves(lo, hi)
	out := make([]kv.Entry, len(leaves))
	for i, l := range leaves {
		r := s.entries[string(l.Key)]
		out[i] = kv.Entry{Key: l.Key, Value: l.Value, Tag: r.tag}
	}
	return out
}

// Close releases the backend, if any.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

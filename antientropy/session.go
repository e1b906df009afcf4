// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package antientropy

import (
	"context"
	"time"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/merkle"
)

// leafThreshold is the key count at or below which a divergent range is resolved
// by exchanging full leaf records instead of recursing further.
const leafThreshold = 16

// session runs one anti-entropy exchange with a single peer, starting from
// the whole-keyspace root and narrowing down to individual divergent keys.
type session struct {
	exec *executor.Executor
	peer PeerClient
}

// run performs one reconciliation session: compare roots, and if they
// differ, recursively narrow to the diverging ranges, repairing every key
// that needs it in both directions along the way.
func (s *session) run(ctx context.Context) error {
	localRoot := s.exec.Store().Root()
	peerRoot, err := s.peer.SyncRoot(ctx)
	if err != nil {
		return err
	}
	if localRoot == peerRoot {
		return nil
	}
	return s.reconcile(ctx, nil, nil)
}

// reconcile narrows [lo, hi] until both sides' key counts fit under
// leafThreshold, then exchanges and repairs leaves directly. At each level
// the two sides exchange their subdivision of the range and recursion
// follows the denser side's children, so a range where this side is sparse
// but the peer holds many keys is still narrowed level by level instead of
// being fetched wholesale. Each recursive subrange is widened to the gap
// left of it (and the last to hi itself) so the subranges jointly cover
// all of [lo, hi]: a key either side holds between the other's subtrees,
// or past its largest key, still falls inside exactly one subrange and is
// found. A subdivision is a pure function of its side's current content
// (see merkle.Index.Children), and every level strictly shrinks the denser
// side's count, so recursion terminates.
func (s *session) reconcile(ctx context.Context, lo, hi []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	localDigest := s.exec.Store().RangeDigest(lo, hi)
	peerDigest, err := s.peer.RangeDigest(ctx, lo, hi)
	if err != nil {
		return err
	}
	if localDigest == peerDigest {
		return nil
	}

	localChildren := s.exec.Store().Children(lo, hi)
	peerChildren, err := s.peer.Children(ctx, lo, hi)
	if err != nil {
		return err
	}
	localTotal, peerTotal := countKeys(localChildren), countKeys(peerChildren)
	if localTotal <= leafThreshold && peerTotal <= leafThreshold {
		return s.exchangeLeaves(ctx, lo, hi)
	}
	children := localChildren
	if peerTotal > localTotal {
		children = peerChildren
	}
	for i, c := range children {
		clo := lo
		if i > 0 {
			clo = keySuccessor(children[i-1].Hi)
		}
		chi := c.Hi
		if i == len(children)-1 {
			chi = hi
		}
		if err := s.reconcile(ctx, clo, chi); err != nil {
			return err
		}
	}
	return nil
}

func countKeys(children []merkle.ChildRange) int {
	total := 0
	for _, c := range children {
		total += c.Count
	}
	return total
}

// keySuccessor returns the smallest key strictly greater than k in byte
// order: k with a zero byte appended.
func keySuccessor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}

// exchangeLeaves fetches both sides' live entries in [lo, hi] and repairs
// whichever side has the stale value for each diverging key, per entry,
// via last-writer-wins dominance. A key present on only one side is
// treated as the other side being behind and is pushed/pulled accordingly
// — except when this side holds a tombstone for it (see store.Store.
// TombstoneTag): a peer still offering a stale SET for a key this side
// already deleted with a dominating tag must not resurrect it, and is
// instead told to delete it too.
func (s *session) exchangeLeaves(ctx context.Context, lo, hi []byte) error {
	localEntries := s.exec.Store().RangeEntries(lo, hi)
	peerEntries, err := s.peer.Leaves(ctx, lo, hi)
	if err != nil {
		return err
	}

	localByKey := make(map[string]kv.Entry, len(localEntries))
	for _, e := range localEntries {
		localByKey[string(e.Key)] = e
	}
	peerByKey := make(map[string]kv.Entry, len(peerEntries))
	for _, e := range peerEntries {
		peerByKey[string(e.Key)] = e
	}

	var toApplyLocally, toPushToPeer []kv.Entry
	for k, le := range localByKey {
		if pe, ok := peerByKey[k]; ok {
			switch {
			case pe.Tag.Dominates(le.Tag):
				toApplyLocally = append(toApplyLocally, pe)
			case le.Tag.Dominates(pe.Tag):
				toPushToPeer = append(toPushToPeer, le)
			}
		} else {
			toPushToPeer = append(toPushToPeer, le)
		}
	}
	for k, pe := range peerByKey {
		if _, ok := localByKey[k]; ok {
			continue
		}
		if tomb, tombstoned := s.exec.Store().TombstoneTag([]byte(k)); tombstoned && tomb.Dominates(pe.Tag) {
			toPushToPeer = append(toPushToPeer, kv.Entry{Key: []byte(k), Value: nil, Tag: tomb})
			continue
		}
		toApplyLocally = append(toApplyLocally, pe)
	}

	for _, e := range toApplyLocally {
		// Mirror the push side's encoding (see Server.applyRepair): a nil
		// value is a tombstone, a non-nil empty value is a live SET of "".
		op := kv.OpSet
		if e.Value == nil {
			op = kv.OpDel
		}
		s.exec.ApplyReplicated(bus.Event{Op: op, Key: e.Key, Value: e.Value, Tag: e.Tag})
	}
	if len(toPushToPeer) > 0 {
		if err := s.peer.Repair(ctx, toPushToPeer); err != nil {
			return err
		}
	}
	return nil
}

// runSession is the entry point wired from AntiEntropy's periodic loop.
func runSession(ctx context.Context, exec *executor.Executor, peer PeerClient, deadline time.Duration) error {
	sessCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	s := &session{exec: exec, peer: peer}
	return s.run(sessCtx)
}

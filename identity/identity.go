// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity holds a node's cluster identity and its Lamport
// sequencer, the two pieces of state needed for last-writer-wins ordering
// without a shared clock.
package identity

import (
	"sync"

	"github.com/merklekv/merklekv/kv"
)

// NodeIdentity is a node's cluster-unique, config-assigned string id. It is
// an arbitrary operator-chosen string rather than a fixed-width or
// crypto-derived identifier, since node_id is just a config value.
type NodeIdentity struct {
	NodeID string
}

// Sequencer mints monotonically increasing Lamport counters for a single
// node, and folds in counters observed from remote peers so the local
// clock never falls behind the rest of the cluster: observing a remote
// counter raises local to max(local, remote), so the next tag minted is
// max(local, remote) + 1. One Sequencer is shared by every local write path
// (executor) and every inbound path that needs to catch the clock up
// (replication, anti-entropy).
type Sequencer struct {
	mu      sync.Mutex
	node    string
	counter uint64
}

// NewSequencer returns a Sequencer for node, starting at counter 0 so the
// first Next() call yields counter 1.
func NewSequencer(node string) *Sequencer {
	return &Sequencer{node: node}
}

// Next mints the next Lamport tag for a local write.
func (s *Sequencer) Next() kv.LamportTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return kv.LamportTag{Counter: s.counter, NodeID: s.node}
}

// Observe folds a remotely-seen counter into the local clock, per the
// Lamport update rule, without minting a new tag itself. Replication and
// anti-entropy call this for every inbound tag so the local node's next
// Next() call is guaranteed to dominate anything already seen.
func (s *Sequencer) Observe(remoteCounter uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remoteCounter > s.counter {
		s.counter = remoteCounter
	}
}

// NodeID reports the identity this sequencer mints tags for.
func (s *Sequencer) NodeID() string {
	return s.node
}

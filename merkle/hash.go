// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the hash algebra and a treap-shaped hash tree: a
// digest over the sorted keyspace that can be recomputed incrementally and
// compared against a peer's digest in O(log n) exchanges during
// anti-entropy.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
)

// Digest is a 32-byte SHA-256 output: a leaf hash, an internal node hash,
// or the tree root.
type Digest [32]byte

// Zero is the root over an empty keyspace and the placeholder used
// wherever "no digest" needs a concrete, comparable value.
var Zero = Digest{}

// LeafHash computes L(k,v) = SHA256(len(k) || k || len(v) || v) with
// 8-byte big-endian lengths.
func LeafHash(key, value []byte) Digest {
	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(key)))
	h.Write(lenBuf[:])
	h.Write(key)
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
	h.Write(lenBuf[:])
	h.Write(value)
	var d Digest
	h.Sum(d[:0])
	return d
}

// nodePair computes N(a,b) = SHA256(0x01 || a || b) for two sibling
// digests.
func nodePair(a, b Digest) Digest {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(a[:])
	h.Write(b[:])
	var d Digest
	h.Sum(d[:0])
	return d
}

// nodeOrphan computes N(a) = SHA256(0x02 || a) for a lone right-orphan at a
// reduction level with no sibling to pair against.
func nodeOrphan(a Digest) Digest {
	h := sha256.New()
	h.Write([]byte{0x02})
	h.Write(a[:])
	var d Digest
	h.Sum(d[:0])
	return d
}

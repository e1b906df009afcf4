// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package antientropy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/merkle"
	"github.com/merklekv/merklekv/replication"
)

// msgType tags each frame on the sync connection. A session is a sequence
// of request/response frame pairs over one long-lived TCP connection
// rather than one connection per RPC, so the recursive descent in
// session.go stays cheap.
type msgType byte

const (
	msgSyncRootReq msgType = iota
	msgSyncRootResp
	msgRangeDigestReq
	msgRangeDigestResp
	msgChildrenReq
	msgChildrenResp
	msgLeavesReq
	msgLeavesResp
	msgRepairReq
	msgRepairResp
	msgErrorResp
)

var errShortFrame = errors.New("antientropy: short frame")

// writeFrame writes a 1-byte type tag, a 4-byte big-endian length, and
// payload, mirroring the length-prefix convention replication/wire.go uses
// for the pub/sub path.
func writeFrame(w io.Writer, t msgType, payload []byte) error {
	var header [5]byte
	header[0] = byte(t)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) (msgType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n == 0 {
		return msgType(header[0]), nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errShortFrame
	}
	return msgType(header[0]), payload, nil
}

// encodeRange packs an optional [lo, hi] bound: a presence byte per side
// followed by its bytes, since nil has meaning here ("open on this side")
// distinct from an empty key.
func encodeRange(p *replication.Packer, lo, hi []byte) {
	if lo == nil {
		p.PackByte(0)
	} else {
		p.PackByte(1)
		p.PackBytes(lo)
	}
	if hi == nil {
		p.PackByte(0)
	} else {
		p.PackByte(1)
		p.PackBytes(hi)
	}
}

func decodeRange(u *replication.Unpacker) (lo, hi []byte) {
	if u.UnpackByte() == 1 {
		lo = u.UnpackBytes()
	}
	if u.UnpackByte() == 1 {
		hi = u.UnpackBytes()
	}
	return lo, hi
}

func encodeRangeDigestReq(lo, hi []byte) []byte {
	p := replication.NewPacker(16 + len(lo) + len(hi))
	encodeRange(p, lo, hi)
	return p.Bytes
}

func decodeRangeDigestReq(b []byte) (lo, hi []byte, err error) {
	u := replication.NewUnpacker(b)
	lo, hi = decodeRange(u)
	return lo, hi, u.Err
}

func encodeDigestResp(d merkle.Digest) []byte {
	out := make([]byte, len(d))
	copy(out, d[:])
	return out
}

func decodeDigestResp(b []byte) (merkle.Digest, error) {
	var d merkle.Digest
	if len(b) != len(d) {
		return merkle.Zero, fmt.Errorf("antientropy: bad digest length %d", len(b))
	}
	copy(d[:], b)
	return d, nil
}

func encodeChildrenResp(children []merkle.ChildRange) []byte {
	p := replication.NewPacker(64 * (len(children) + 1))
	p.PackLong(uint64(len(children)))
	for _, c := range children {
		p.PackBytes(c.Lo)
		p.PackBytes(c.Hi)
		p.PackBytes(c.Digest[:])
		p.PackLong(uint64(c.Count))
	}
	return p.Bytes
}

func decodeChildrenResp(b []byte) ([]merkle.ChildRange, error) {
	u := replication.NewUnpacker(b)
	n := u.UnpackLong()
	out := make([]merkle.ChildRange, 0, n)
	for i := uint64(0); i < n; i++ {
		lo := u.UnpackBytes()
		hi := u.UnpackBytes()
		digestBytes := u.UnpackBytes()
		count := u.UnpackLong()
		if u.Err != nil {
			return nil, u.Err
		}
		var d merkle.Digest
		copy(d[:], digestBytes)
		out = append(out, merkle.ChildRange{Lo: lo, Hi: hi, Digest: d, Count: int(count)})
	}
	return out, u.Err
}

// encodeEntries packs each entry's key, an explicit presence byte plus
// bytes for its value, and its tag. The presence byte (mirroring
// encodeRange's lo/hi presence convention above) is what lets a repair push
// distinguish a tombstone (Value nil, see kv.Entry) from a live, legitimately
// empty value: both would otherwise pack to the same zero-length field.
func encodeEntries(p *replication.Packer, entries []kv.Entry) {
	p.PackLong(uint64(len(entries)))
	for _, e := range entries {
		p.PackBytes(e.Key)
		if e.Value == nil {
			p.PackByte(0)
		} else {
			p.PackByte(1)
			p.PackBytes(e.Value)
		}
		p.PackLong(e.Tag.Counter)
		p.PackString(e.Tag.NodeID)
	}
}

func decodeEntries(u *replication.Unpacker) []kv.Entry {
	n := u.UnpackLong()
	out := make([]kv.Entry, 0, n)
	for i := uint64(0); i < n; i++ {
		key := u.UnpackBytes()
		var value []byte
		if u.UnpackByte() == 1 {
			value = u.UnpackBytes()
			if value == nil {
				value = []byte{}
			}
		}
		counter := u.UnpackLong()
		nodeID := u.UnpackString()
		out = append(out, kv.Entry{Key: key, Value: value, Tag: kv.LamportTag{Counter: counter, NodeID: nodeID}})
	}
	return out
}

func encodeLeavesResp(entries []kv.Entry) []byte {
	p := replication.NewPacker(64 * (len(entries) + 1))
	encodeEntries(p, entries)
	return p.Bytes
}

func decodeLeavesResp(b []byte) ([]kv.Entry, error) {
	u := replication.NewUnpacker(b)
	out := decodeEntries(u)
	return out, u.Err
}

func encodeRepairReq(entries []kv.Entry) []byte {
	return encodeLeavesResp(entries)
}

func decodeRepairReq(b []byte) ([]kv.Entry, error) {
	return decodeLeavesResp(b)
}

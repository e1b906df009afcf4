// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replication is the hot path: it serializes locally-posted
// bus.Events onto a pub/sub transport and applies inbound ones through
// the executor in replicated mode.
package replication

import (
	"encoding/binary"
	"errors"

	"github.com/merklekv/merklekv/kv"
)

// SchemaVersion is the current wire format version. A MutationEvent
// carrying any other value is dropped by the inbound pipeline with a
// warning.
const SchemaVersion uint8 = 1

// ErrUnknownSchemaVersion is returned by Decode when the leading version
// byte doesn't match a version this build understands.
var ErrUnknownSchemaVersion = errors.New("replication: unknown schema version")

// MutationEvent is the wire record for one mutation.
type MutationEvent struct {
	SchemaVersion uint8
	OriginNodeID  string
	LamportTag    uint64
	Operation     kv.Op
	Key           []byte
	Value         []byte
	HasValue      bool
	Amount        int64
}

// Packer builds a length-prefixed binary record field by field, with a
// sticky Err: once set, further Pack calls are no-ops so callers can check
// Err once at the end instead of after every field.
type Packer struct {
	Bytes []byte
	Err   error
}

// NewPacker returns a Packer with size bytes of initial capacity.
func NewPacker(size int) *Packer {
	return &Packer{Bytes: make([]byte, 0, size)}
}

func (p *Packer) PackByte(b byte) {
	if p.Err != nil {
		return
	}
	p.Bytes = append(p.Bytes, b)
}

func (p *Packer) PackLong(l uint64) {
	if p.Err != nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l)
	p.Bytes = append(p.Bytes, buf[:]...)
}

// PackBytes writes a 4-byte big-endian length prefix followed by b.
func (p *Packer) PackBytes(b []byte) {
	if p.Err != nil {
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(b)))
	p.Bytes = append(p.Bytes, buf[:]...)
	p.Bytes = append(p.Bytes, b...)
}

func (p *Packer) PackString(s string) {
	p.PackBytes([]byte(s))
}

// Unpacker is Packer's read-side counterpart, for decoding a
// MutationEvent this node did not produce.
type Unpacker struct {
	Bytes  []byte
	Offset int
	Err    error
}

// NewUnpacker wraps b for sequential field reads.
func NewUnpacker(b []byte) *Unpacker {
	return &Unpacker{Bytes: b}
}

func (u *Unpacker) need(n int) bool {
	if u.Err != nil {
		return false
	}
	if u.Offset+n > len(u.Bytes) {
		u.Err = errors.New("replication: truncated record")
		return false
	}
	return true
}

func (u *Unpacker) UnpackByte() byte {
	if !u.need(1) {
		return 0
	}
	b := u.Bytes[u.Offset]
	u.Offset++
	return b
}

func (u *Unpacker) UnpackLong() uint64 {
	if !u.need(8) {
		return 0
	}
	l := binary.BigEndian.Uint64(u.Bytes[u.Offset : u.Offset+8])
	u.Offset += 8
	return l
}

func (u *Unpacker) UnpackBytes() []byte {
	if !u.need(4) {
		return nil
	}
	n := int(binary.BigEndian.Uint32(u.Bytes[u.Offset : u.Offset+4]))
	u.Offset += 4
	if !u.need(n) {
		return nil
	}
	b := u.Bytes[u.Offset : u.Offset+n]
	u.Offset += n
	return append([]byte(nil), b...)
}

func (u *Unpacker) UnpackString() string {
	return string(u.UnpackBytes())
}

// Encode serializes a MutationEvent into the cluster wire format.
func Encode(ev MutationEvent) ([]byte, error) {
	p := NewPacker(64 + len(ev.Key) + len(ev.Value))
	p.PackByte(SchemaVersion)
	p.PackString(ev.OriginNodeID)
	p.PackLong(ev.LamportTag)
	p.PackByte(byte(ev.Operation))
	p.PackBytes(ev.Key)
	if ev.HasValue {
		p.PackByte(1)
		p.PackBytes(ev.Value)
	} else {
		p.PackByte(0)
	}
	p.PackLong(uint64(ev.Amount))
	return p.Bytes, p.Err
}

// Decode parses a MutationEvent from the cluster wire format. It rejects
// any record whose schema_version it doesn't understand.
func Decode(b []byte) (MutationEvent, error) {
	u := NewUnpacker(b)
	version := u.UnpackByte()
	if u.Err != nil {
		return MutationEvent{}, u.Err
	}
	if version != SchemaVersion {
		return MutationEvent{}, ErrUnknownSchemaVersion
	}
	ev := MutationEvent{SchemaVersion: version}
	ev.OriginNodeID = u.UnpackString()
	ev.LamportTag = u.UnpackLong()
	ev.Operation = kv.Op(u.UnpackByte())
	ev.Key = u.UnpackBytes()
	hasValue := u.UnpackByte()
	if hasValue == 1 {
		ev.Value = u.UnpackBytes()
		ev.HasValue = true
	}
	ev.Amount = int64(u.UnpackLong())
	if u.Err != nil {
		return MutationEvent{}, u.Err
	}
	return ev, nil
}

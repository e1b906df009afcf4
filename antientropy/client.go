// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package antientropy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/merkle"
)

// PeerClient is everything one side of an anti-entropy session needs from
// the other: root comparison, recursive child-digest exchange, leaf-level
// exchange, and the repair push that lets the initiator hand
// its own winning entries to the peer (the peer applies them through its
// own executor, so a session converges both directions in a single pass).
type PeerClient interface {
	SyncRoot(ctx context.Context) (merkle.Digest, error)
	RangeDigest(ctx context.Context, lo, hi []byte) (merkle.Digest, error)
	Children(ctx context.Context, lo, hi []byte) ([]merkle.ChildRange, error)
	Leaves(ctx context.Context, lo, hi []byte) ([]kv.Entry, error)
	Repair(ctx context.Context, entries []kv.Entry) error
	Close() error
}

// TCPPeerClient is the real PeerClient: one TCP connection to a peer's
// dedicated sync port, carrying a sequence of request/response frames for
// the lifetime of a single session. A dedicated sync endpoint keeps the
// sync wire format independent of the client text protocol.
type TCPPeerClient struct {
	conn    net.Conn
	timeout time.Duration
}

// DialPeer opens a sync session connection to addr. timeout bounds every
// individual request/response round trip.
func DialPeer(ctx context.Context, addr string, timeout time.Duration) (*TCPPeerClient, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("antientropy: dial %s: %w", addr, err)
	}
	return &TCPPeerClient{conn: conn, timeout: timeout}, nil
}

func (c *TCPPeerClient) roundTrip(ctx context.Context, reqType msgType, payload []byte) (msgType, []byte, error) {
	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return 0, nil, err
	}
	if err := writeFrame(c.conn, reqType, payload); err != nil {
		return 0, nil, err
	}
	respType, respPayload, err := readFrame(c.conn)
	if err != nil {
		return 0, nil, err
	}
	if respType == msgErrorResp {
		return 0, nil, fmt.Errorf("antientropy: peer error: %s", string(respPayload))
	}
	return respType, respPayload, nil
}

// SyncRoot fetches the peer's current Merkle root.
func (c *TCPPeerClient) SyncRoot(ctx context.Context) (merkle.Digest, error) {
	_, payload, err := c.roundTrip(ctx, msgSyncRootReq, nil)
	if err != nil {
		return merkle.Zero, err
	}
	return decodeDigestResp(payload)
}

// RangeDigest fetches the peer's digest over the key range [lo, hi].
func (c *TCPPeerClient) RangeDigest(ctx context.Context, lo, hi []byte) (merkle.Digest, error) {
	_, payload, err := c.roundTrip(ctx, msgRangeDigestReq, encodeRangeDigestReq(lo, hi))
	if err != nil {
		return merkle.Zero, err
	}
	return decodeDigestResp(payload)
}

// Children fetches the peer's fan-out subdivision of [lo, hi].
func (c *TCPPeerClient) Children(ctx context.Context, lo, hi []byte) ([]merkle.ChildRange, error) {
	_, payload, err := c.roundTrip(ctx, msgChildrenReq, encodeRangeDigestReq(lo, hi))
	if err != nil {
		return nil, err
	}
	return decodeChildrenResp(payload)
}

// Leaves fetches every (key, value, tag) the peer currently holds in
// [lo, hi].
func (c *TCPPeerClient) Leaves(ctx context.Context, lo, hi []byte) ([]kv.Entry, error) {
	_, payload, err := c.roundTrip(ctx, msgLeavesReq, encodeRangeDigestReq(lo, hi))
	if err != nil {
		return nil, err
	}
	return decodeLeavesResp(payload)
}

// Repair pushes entries this side determined dominate the peer's, for the
// peer to apply through its own executor in replicated mode.
func (c *TCPPeerClient) Repair(ctx context.Context, entries []kv.Entry) error {
	_, _, err := c.roundTrip(ctx, msgRepairReq, encodeRepairReq(entries))
	return err
}

// Close ends the session connection.
func (c *TCPPeerClient) Close() error {
	return c.conn.Close()
}

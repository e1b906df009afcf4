// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package antientropy

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/store"
)

// DefaultMaxInboundSessions is the default cap on concurrent inbound
// anti-entropy sessions a single node will answer at once.
const DefaultMaxInboundSessions = 3

// Server accepts sync connections from peers and answers the read-only
// digest/leaf RPCs plus the repair push, applying repairs through the same
// executor the client protocol and replication path use.
type Server struct {
	store      *store.Store
	exec       *executor.Executor
	maxInbound int
	inboundSem chan struct{}
	log        *zap.Logger
}

// NewServer returns a Server bounded to maxInbound concurrent sessions (0
// uses DefaultMaxInboundSessions).
func NewServer(s *store.Store, exec *executor.Executor, maxInbound int) *Server {
	if maxInbound <= 0 {
		maxInbound = DefaultMaxInboundSessions
	}
	return &Server{store: s, exec: exec, maxInbound: maxInbound, inboundSem: make(chan struct{}, maxInbound), log: zap.NewNop()}
}

// SetLogger attaches l as this Server's structured logger. nil is ignored.
func (srv *Server) SetLogger(l *zap.Logger) {
	if l != nil {
		srv.log = l
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed during shutdown).
func (srv *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		select {
		case srv.inboundSem <- struct{}{}:
			go func() {
				defer func() { <-srv.inboundSem }()
				srv.handleConn(conn)
			}()
		default:
			// At the concurrency cap: refuse rather than queue, the peer's
			// own periodic loop will retry on its next tick.
			conn.Close()
		}
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
		t, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		respType, resp, err := srv.dispatch(t, payload)
		if err != nil {
			writeFrame(conn, msgErrorResp, []byte(err.Error()))
			return
		}
		if err := writeFrame(conn, respType, resp); err != nil {
			return
		}
	}
}

func (srv *Server) dispatch(t msgType, payload []byte) (msgType, []byte, error) {
	switch t {
	case msgSyncRootReq:
		return msgSyncRootResp, encodeDigestResp(srv.store.Root()), nil
	case msgRangeDigestReq:
		lo, hi, err := decodeRangeDigestReq(payload)
		if err != nil {
			return 0, nil, err
		}
		return msgRangeDigestResp, encodeDigestResp(srv.store.RangeDigest(lo, hi)), nil
	case msgChildrenReq:
		lo, hi, err := decodeRangeDigestReq(payload)
		if err != nil {
			return 0, nil, err
		}
		return msgChildrenResp, encodeChildrenResp(srv.store.Children(lo, hi)), nil
	case msgLeavesReq:
		lo, hi, err := decodeRangeDigestReq(payload)
		if err != nil {
			return 0, nil, err
		}
		return msgLeavesResp, encodeLeavesResp(srv.store.RangeEntries(lo, hi)), nil
	case msgRepairReq:
		entries, err := decodeRepairReq(payload)
		if err != nil {
			return 0, nil, err
		}
		srv.applyRepair(entries)
		return msgRepairResp, nil, nil
	default:
		srv.log.Warn("unknown frame type", zap.Uint8("type", uint8(t)))
		return 0, nil, errShortFrame
	}
}

func (srv *Server) applyRepair(entries []kv.Entry) {
	for _, e := range entries {
		op := kv.OpSet
		if e.Value == nil {
			op = kv.OpDel
		}
		srv.exec.ApplyReplicated(bus.Event{Op: op, Key: e.Key, Value: e.Value, Tag: e.Tag})
	}
}

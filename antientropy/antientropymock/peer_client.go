// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package antientropymock provides a gomock-based mock of
// antientropy.PeerClient, in the shape mockgen would generate for it, for
// tests that need to script a peer's session responses without standing
// up a real TCPPeerClient/Server pair.
package antientropymock

import (
	"context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/merkle"
)

// PeerClient is a mock of antientropy.PeerClient.
type PeerClient struct {
	ctrl     *gomock.Controller
	recorder *PeerClientMockRecorder
}

// PeerClientMockRecorder is the mock recorder for PeerClient.
type PeerClientMockRecorder struct {
	mock *PeerClient
}

// NewPeerClient creates a new mock instance.
func NewPeerClient(ctrl *gomock.Controller) *PeerClient {
	mock := &PeerClient{ctrl: ctrl}
	mock.recorder = &PeerClientMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *PeerClient) EXPECT() *PeerClientMockRecorder {
	return m.recorder
}

// SyncRoot mocks base method.
func (m *PeerClient) SyncRoot(ctx context.Context) (merkle.Digest, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SyncRoot", ctx)
	ret0, _ := ret[0].(merkle.Digest)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// SyncRoot indicates an expected call of SyncRoot.
func (mr *PeerClientMockRecorder) SyncRoot(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SyncRoot", reflect.TypeOf((*PeerClient)(nil).SyncRoot), ctx)
}

// RangeDigest mocks base method.
func (m *PeerClient) RangeDigest(ctx context.Context, lo, hi []byte) (merkle.Digest, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RangeDigest", ctx, lo, hi)
	ret0, _ := ret[0].(merkle.Digest)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// RangeDigest indicates an expected call of RangeDigest.
func (mr *PeerClientMockRecorder) RangeDigest(ctx, lo, hi interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RangeDigest", reflect.TypeOf((*PeerClient)(nil).RangeDigest), ctx, lo, hi)
}

// Children mocks base method.
func (m *PeerClient) Children(ctx context.Context, lo, hi []byte) ([]merkle.ChildRange, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Children", ctx, lo, hi)
	ret0, _ := ret[0].([]merkle.ChildRange)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Children indicates an expected call of Children.
func (mr *PeerClientMockRecorder) Children(ctx, lo, hi interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Children", reflect.TypeOf((*PeerClient)(nil).Children), ctx, lo, hi)
}

// Leaves mocks base method.
func (m *PeerClient) Leaves(ctx context.Context, lo, hi []byte) ([]kv.Entry, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Leaves", ctx, lo, hi)
	ret0, _ := ret[0].([]kv.Entry)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Leaves indicates an expected call of Leaves.
func (mr *PeerClientMockRecorder) Leaves(ctx, lo, hi interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Leaves", reflect.TypeOf((*PeerClient)(nil).Leaves), ctx, lo, hi)
}

// Repair mocks base method.
func (m *PeerClient) Repair(ctx context.Context, entries []kv.Entry) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Repair", ctx, entries)
	ret0, _ := ret[0].(error)
	return ret0
}

// Repair indicates an expected call of Repair.
func (mr *PeerClientMockRecorder) Repair(ctx, entries interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Repair", reflect.TypeOf((*PeerClient)(nil).Repair), ctx, entries)
}

// Close mocks base method.
func (m *PeerClient) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *PeerClientMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*PeerClient)(nil).Close))
}

var _ interface {
	SyncRoot(context.Context) (merkle.Digest, error)
	RangeDigest(context.Context, []byte, []byte) (merkle.Digest, error)
	Children(context.Context, []byte, []byte) ([]merkle.ChildRange, error)
	Leaves(context.Context, []byte, []byte) ([]kv.Entry, error)
	Repair(context.Context, []kv.Entry) error
	Close() error
} = (*PeerClient)(nil)

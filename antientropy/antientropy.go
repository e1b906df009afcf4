// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package antientropy is the cold reconciliation path: a periodic,
// randomly-sampled peer sync that closes any gap the hot replication path
// left behind. Its peer-tracking shape guards against starting a second
// session with a peer that already has one in flight.
package antientropy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merklekv/merklekv/executor"
)

// DefaultInterval is the default anti-entropy tick period.
const DefaultInterval = 300 * time.Second

// DefaultJitter is the +/-10% randomization applied to each tick so a
// cluster's nodes don't all sync in lockstep.
const DefaultJitter = 0.10

// DefaultSessionDeadline bounds a single peer session end to end.
const DefaultSessionDeadline = 30 * time.Second

// AntiEntropy owns the periodic loop: each tick it samples one peer
// uniformly at random and runs a session against it, provided that peer
// doesn't already have a session outstanding.
type AntiEntropy struct {
	exec     *executor.Executor
	peers    []string
	interval time.Duration
	deadline time.Duration
	dial     func(ctx context.Context, addr string) (PeerClient, error)

	sampler *uniformSampler
	tracker *outboundTracker

	sessionsRun    uint64
	sessionsFailed uint64
	mu             sync.Mutex

	log *zap.Logger
}

// New returns an AntiEntropy looping over peers, dialing each session with
// dial (normally a thin wrapper around DialPeer). interval and deadline
// fall back to DefaultInterval/DefaultSessionDeadline when zero.
func New(exec *executor.Executor, peers []string, interval, deadline time.Duration, dial func(ctx context.Context, addr string) (PeerClient, error)) *AntiEntropy {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if deadline <= 0 {
		deadline = DefaultSessionDeadline
	}
	return &AntiEntropy{
		exec:     exec,
		peers:    peers,
		interval: interval,
		deadline: deadline,
		dial:     dial,
		sampler:  newUniformSampler(),
		tracker:  newOutboundTracker(),
		log:      zap.NewNop(),
	}
}

// SetLogger attaches l as this AntiEntropy's structured logger. nil is
// ignored.
func (a *AntiEntropy) SetLogger(l *zap.Logger) {
	if l != nil {
		a.log = l
	}
}

// Run blocks, firing one sync tick at roughly AntiEntropy.interval
// (jittered +/-10%) until ctx is canceled.
func (a *AntiEntropy) Run(ctx context.Context) {
	for {
		wait := jittered(a.interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		a.tick(ctx)
	}
}

func (a *AntiEntropy) tick(ctx context.Context) {
	if len(a.peers) == 0 {
		return
	}
	peer := a.peers[a.sampler.Pick(len(a.peers))]
	if !a.tracker.start(peer) {
		// At most one outbound session per peer at a time.
		return
	}
	defer a.tracker.finish(peer)

	client, err := a.dial(ctx, peer)
	if err != nil {
		a.log.Warn("dial failed", zap.String("peer", peer), zap.Error(err))
		a.recordFailure()
		return
	}
	defer client.Close()

	if err := runSession(ctx, a.exec, client, a.deadline); err != nil {
		a.log.Warn("session failed", zap.String("peer", peer), zap.Error(err))
		a.recordFailure()
		return
	}
	a.recordSuccess()
}

func (a *AntiEntropy) recordSuccess() {
	a.mu.Lock()
	a.sessionsRun++
	a.mu.Unlock()
}

func (a *AntiEntropy) recordFailure() {
	a.mu.Lock()
	a.sessionsRun++
	a.sessionsFailed++
	a.mu.Unlock()
}

// Stats reports how many sessions have run and how many of those failed,
// for STATS/metrics surfacing.
func (a *AntiEntropy) Stats() (run, failed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionsRun, a.sessionsFailed
}

func jittered(base time.Duration) time.Duration {
	delta := float64(base) * DefaultJitter
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

// outboundTracker enforces "at most one outbound session per peer".
type outboundTracker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newOutboundTracker() *outboundTracker {
	return &outboundTracker{inFlight: make(map[string]struct{})}
}

// start reports whether a session for peer was not already running, and if
// so marks it running.
func (t *outboundTracker) start(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inFlight[peer]; ok {
		return false
	}
	t.inFlight[peer] = struct{}{}
	return true
}

func (t *outboundTracker) finish(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, peer)
}

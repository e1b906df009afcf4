// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/kv"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 30 * time.Second

	// backpressureWindow is how long PostLocal blocks trying to enqueue
	// before giving up and counting an overflow drop.
	backpressureWindow = 50 * time.Millisecond
)

// Replicator is the hot replication path: it owns one outbound worker
// publishing local mutations and one inbound applier consuming remote
// ones.
type Replicator struct {
	transport   Transport
	topicPrefix string
	nodeID      string
	exec        *executor.Executor

	outbound chan bus.Event
	inbound  chan MutationEvent

	overflowDropped   uint64
	selfEchoDropped   uint64
	unknownSchemaDrop uint64

	stop context.CancelFunc
	wg   sync.WaitGroup

	log *zap.Logger
}

// New returns a Replicator. outboundCapacity defaults to bus.DefaultCapacity
// (1024) when 0 is passed.
func New(transport Transport, topicPrefix, nodeID string, exec *executor.Executor, outboundCapacity int) *Replicator {
	if outboundCapacity <= 0 {
		outboundCapacity = bus.DefaultCapacity
	}
	return &Replicator{
		transport:   transport,
		topicPrefix: topicPrefix,
		nodeID:      nodeID,
		exec:        exec,
		outbound:    make(chan bus.Event, outboundCapacity),
		inbound:     make(chan MutationEvent, outboundCapacity),
		log:         zap.NewNop(),
	}
}

// SetLogger attaches l as this Replicator's structured logger. Safe to call
// before or after Start; nil is ignored.
func (r *Replicator) SetLogger(l *zap.Logger) {
	if l != nil {
		r.log = l
	}
}

// Start connects the transport, subscribes to every peer endpoint, and
// launches the outbound publisher and inbound applier goroutines.
func (r *Replicator) Start(ctx context.Context, peerEndpoints []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel

	if err := r.transport.Connect(runCtx); err != nil {
		cancel()
		return err
	}
	for _, peer := range peerEndpoints {
		if err := r.transport.Subscribe(peer, r.onMessage); err != nil {
			r.log.Warn("subscribe failed", zap.String("peer", peer), zap.Error(err))
		}
	}

	r.wg.Add(2)
	go r.runOutbound(runCtx)
	go r.runInbound(runCtx)
	return nil
}

// Stop tears down both pipelines and the transport.
func (r *Replicator) Stop() error {
	if r.stop != nil {
		r.stop()
	}
	r.wg.Wait()
	return r.transport.Disconnect()
}

// PostLocal is called once per locally-applied mutation (wired from the
// bus subscription the caller set up for this Replicator). It applies a
// backpressure policy: block up to backpressureWindow trying to enqueue,
// then drop to the overflow counter and return — the mutation itself
// already applied to Store; only its propagation is best-effort.
func (r *Replicator) PostLocal(ev bus.Event) {
	select {
	case r.outbound <- ev:
		return
	default:
	}
	timer := time.NewTimer(backpressureWindow)
	defer timer.Stop()
	select {
	case r.outbound <- ev:
	case <-timer.C:
		atomic.AddUint64(&r.overflowDropped, 1)
	}
}

func (r *Replicator) topic() string {
	return r.topicPrefix + "/events"
}

func (r *Replicator) runOutbound(ctx context.Context) {
	defer r.wg.Done()
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbound:
			payload, err := Encode(toWire(ev, r.nodeID))
			if err != nil {
				r.log.Error("encode failed", zap.Error(err))
				continue
			}
			for {
				if err := r.transport.Publish(r.topic(), payload, AtLeastOnce); err != nil {
					r.log.Warn("publish failed, retrying",
						zap.Duration("backoff", backoff), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					continue
				}
				backoff = minBackoff
				break
			}
		}
	}
}

func (r *Replicator) onMessage(payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		atomic.AddUint64(&r.unknownSchemaDrop, 1)
		r.log.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	if ev.OriginNodeID == r.nodeID {
		// Loop suppression: the broker/peer echoed our own publish back
		// to us. Never applied, never re-published.
		atomic.AddUint64(&r.selfEchoDropped, 1)
		return
	}
	r.inbound <- ev
}

func (r *Replicator) runInbound(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.inbound:
			r.exec.ApplyReplicated(fromWire(ev))
		}
	}
}

// Flush waits until the outbound channel drains, or times out.
func (r *Replicator) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(r.outbound) > 0 {
		if time.Now().After(deadline) {
			return kv.ErrFlushTimeout
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// OverflowDropped reports how many outbound events were dropped for
// backpressure — a surfaced metric, not a client error.
func (r *Replicator) OverflowDropped() uint64 { return atomic.LoadUint64(&r.overflowDropped) }

// SelfEchoDropped reports how many inbound messages were dropped because
// they originated from this node.
func (r *Replicator) SelfEchoDropped() uint64 { return atomic.LoadUint64(&r.selfEchoDropped) }

// UnknownSchemaDropped reports inbound messages dropped because they could
// not be decoded: an unrecognized schema_version or a malformed record.
func (r *Replicator) UnknownSchemaDropped() uint64 {
	return atomic.LoadUint64(&r.unknownSchemaDrop)
}

func toWire(ev bus.Event, origin string) MutationEvent {
	w := MutationEvent{
		OriginNodeID: origin,
		LamportTag:   ev.Tag.Counter,
		Operation:    ev.Op,
		Key:          ev.Key,
		Amount:       ev.Amount,
	}
	if ev.Op == kv.OpSet || ev.Op == kv.OpAppend || ev.Op == kv.OpPrepend {
		w.Value = ev.Value
		w.HasValue = true
	}
	return w
}

func fromWire(w MutationEvent) bus.Event {
	return bus.Event{
		Op:     w.Operation,
		Key:    w.Key,
		Value:  w.Value,
		Amount: w.Amount,
		Tag:    kv.LamportTag{Counter: w.LamportTag, NodeID: w.OriginNodeID},
	}
}

// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package replication

import (
	"context"
	"fmt"
	"sync"

	zmq4 "github.com/go-zeromq/zmq4"
)

// ZMQTransport implements Transport over ZeroMQ PUB/SUB sockets: this
// module only ever needs fan-out pub/sub, no ROUTER/DEALER point-to-point
// messaging.
type ZMQTransport struct {
	endpoint string

	mu      sync.Mutex
	pub     zmq4.Socket
	sub     zmq4.Socket
	handler Handler

	recvOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewZMQTransport returns a transport that will publish on endpoint (a PUB
// socket bound there) and can subscribe to any number of peer endpoints.
func NewZMQTransport(endpoint string) *ZMQTransport {
	return &ZMQTransport{endpoint: endpoint}
}

// Connect binds the local PUB socket and opens a SUB socket ready to dial
// peers via Subscribe.
func (t *ZMQTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ctx, t.cancel = context.WithCancel(ctx)

	pub := zmq4.NewPub(t.ctx)
	if err := pub.Listen(t.endpoint); err != nil {
		t.cancel()
		return fmt.Errorf("replication: bind pub socket %s: %w", t.endpoint, err)
	}
	t.pub = pub
	t.sub = zmq4.NewSub(t.ctx)
	return nil
}

// Publish sends payload on topic. QoS is accepted for Transport interface
// symmetry but ZeroMQ PUB/SUB has no ack; at-least-once delivery is
// achieved by the caller's retry/backoff, not by this call.
func (t *ZMQTransport) Publish(topic string, payload []byte, _ QoS) error {
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("replication: not connected")
	}
	msg := zmq4.NewMsgFrom([]byte(topic), payload)
	return pub.Send(msg)
}

// Subscribe dials the SUB socket to pattern (a peer's PUB endpoint,
// "tcp://host:port"). Pattern is a connection endpoint rather than a topic
// filter because ZeroMQ's SUB side filters by message prefix, not by a
// broker-side topic tree; MerkleKV subscribes to everything a connected
// peer publishes and relies on Decode to validate the payload. Every peer
// shares the one SUB socket, one receive goroutine (started on the first
// Subscribe), and the first handler registered: a SUB socket is not safe
// for concurrent Recv, and the Replicator passes the same callback for
// every peer anyway.
func (t *ZMQTransport) Subscribe(pattern string, h Handler) error {
	t.mu.Lock()
	sub := t.sub
	if t.handler == nil {
		t.handler = h
	}
	t.mu.Unlock()
	if sub == nil {
		return fmt.Errorf("replication: not connected")
	}
	if err := sub.Dial(pattern); err != nil {
		return fmt.Errorf("replication: dial sub socket %s: %w", pattern, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("replication: subscribe option: %w", err)
	}

	t.recvOnce.Do(func() {
		t.wg.Add(1)
		go t.recvLoop(sub)
	})
	return nil
}

func (t *ZMQTransport) recvLoop(sub zmq4.Socket) {
	defer t.wg.Done()
	for {
		msg, err := sub.Recv()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg.Frames[1])
		}
	}
}

// Disconnect tears down both sockets and waits for the receive goroutine
// to exit.
func (t *ZMQTransport) Disconnect() error {
	t.mu.Lock()
	pub, sub, cancel := t.pub, t.sub, t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	var firstErr error
	if pub != nil {
		if err := pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sub != nil {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

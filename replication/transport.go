// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package replication

import "context"

// QoS is the delivery guarantee requested for a Publish call. MerkleKV only
// ever asks for AtLeastOnce today, but the parameter is kept so a future
// transport (e.g. a real broker) has somewhere to plug a different
// guarantee in.
type QoS int

const (
	AtLeastOnce QoS = iota
)

// Handler processes one inbound payload delivered on a subscription.
type Handler func(payload []byte)

// Transport is the pub/sub abstraction the hot path runs over: connect,
// publish, subscribe, disconnect.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, qos QoS) error
	Subscribe(pattern string, h Handler) error
	Disconnect() error
}

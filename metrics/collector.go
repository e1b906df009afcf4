// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"context"
	"time"
)

// Collector periodically mirrors the components' cumulative drop/session
// counters into prometheus.Counters. *replication.Replicator and
// *antientropy.AntiEntropy expose the source values via their own accessor
// methods; Collector takes plain functions instead of importing those
// packages, which have no reason to depend on metrics.
type Collector struct {
	m *Metrics

	replicationCounters func() (overflow, selfEcho, unknownSchema uint64)
	antiEntropyCounters func() (run, failed uint64)
	storeLen            func() int

	lastOverflow, lastSelfEcho, lastUnknownSchema uint64
	lastRun, lastFailed                           uint64
}

// NewCollector returns a Collector that periodically adds the delta of
// each cumulative counter into m (prometheus.Counter only ever
// increases, so Collector tracks the last-seen value itself rather than
// trying to Set one).
func NewCollector(
	m *Metrics,
	replicationCounters func() (overflow, selfEcho, unknownSchema uint64),
	antiEntropyCounters func() (run, failed uint64),
	storeLen func() int,
) *Collector {
	return &Collector{
		m:                   m,
		replicationCounters: replicationCounters,
		antiEntropyCounters: antiEntropyCounters,
		storeLen:            storeLen,
	}
}

// Run polls every interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Collector) poll() {
	if c.replicationCounters != nil {
		overflow, selfEcho, unknownSchema := c.replicationCounters()
		c.m.ReplicationOverflowDropped.Add(float64(overflow - c.lastOverflow))
		c.m.ReplicationSelfEchoDropped.Add(float64(selfEcho - c.lastSelfEcho))
		c.m.ReplicationUnknownSchemaDrop.Add(float64(unknownSchema - c.lastUnknownSchema))
		c.lastOverflow, c.lastSelfEcho, c.lastUnknownSchema = overflow, selfEcho, unknownSchema
	}
	if c.antiEntropyCounters != nil {
		run, failed := c.antiEntropyCounters()
		c.m.AntiEntropySessionsRun.Add(float64(run - c.lastRun))
		c.m.AntiEntropySessionsFailed.Add(float64(failed - c.lastFailed))
		c.lastRun, c.lastFailed = run, failed
	}
	if c.storeLen != nil {
		c.m.StoreKeyCount.Set(float64(c.storeLen()))
	}
}

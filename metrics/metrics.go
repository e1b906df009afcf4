// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wraps github.com/prometheus/client_golang: a thin
// Registry interface over prometheus.Registerer/Gatherer, and one Metrics
// struct exposing the counters this module actually increments, for
// MerkleKV's replication and anti-entropy drop/session counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry is a prometheus registry capable of both registering
// collectors and being gathered into an HTTP /metrics response.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry returns an empty Registry.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer combines several named gatherers into one; this module
// uses it to combine the node's own Registry with Go runtime metrics
// exposed by prometheus's default collectors.
type MultiGatherer interface {
	prometheus.Gatherer
	Register(name string, g prometheus.Gatherer) error
}

type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer returns an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, g prometheus.Gatherer) error {
	mg.gatherers[name] = g
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var out []*dto.MetricFamily
	for _, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		out = append(out, families...)
	}
	return out, nil
}

// Metrics is the set of counters/gauges this node exposes: the
// replication path's drop counters, the anti-entropy loop's session
// counters, and a live key-count gauge for STATS parity.
type Metrics struct {
	ReplicationOverflowDropped   prometheus.Counter
	ReplicationSelfEchoDropped   prometheus.Counter
	ReplicationUnknownSchemaDrop prometheus.Counter

	AntiEntropySessionsRun    prometheus.Counter
	AntiEntropySessionsFailed prometheus.Counter

	StoreKeyCount prometheus.Gauge
}

// New creates and registers every metric under namespace against
// registerer.
func New(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ReplicationOverflowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "overflow_dropped_total",
			Help:      "Locally-applied mutations dropped before publish because the outbound queue was full.",
		}),
		ReplicationSelfEchoDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "self_echo_dropped_total",
			Help:      "Inbound messages dropped because they originated from this node.",
		}),
		ReplicationUnknownSchemaDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "unknown_schema_dropped_total",
			Help:      "Inbound messages dropped as undecodable (unrecognized wire schema_version or malformed record).",
		}),
		AntiEntropySessionsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anti_entropy",
			Name:      "sessions_total",
			Help:      "Anti-entropy sessions attempted.",
		}),
		AntiEntropySessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anti_entropy",
			Name:      "sessions_failed_total",
			Help:      "Anti-entropy sessions that errored before completing.",
		}),
		StoreKeyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_key_count",
			Help:      "Number of live keys currently held by this node.",
		}),
	}

	collectors := []prometheus.Collector{
		m.ReplicationOverflowDropped,
		m.ReplicationSelfEchoDropped,
		m.ReplicationUnknownSchemaDrop,
		m.AntiEntropySessionsRun,
		m.AntiEntropySessionsFailed,
		m.StoreKeyCount,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

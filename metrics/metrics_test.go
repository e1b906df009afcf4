package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := NewRegistry()
	m, err := New("merklekv", reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMultiGathererCombinesSources(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	_, err := New("a", regA)
	require.NoError(t, err)
	_, err = New("b", regB)
	require.NoError(t, err)

	mg := NewMultiGatherer()
	require.NoError(t, mg.Register("a", regA))
	require.NoError(t, mg.Register("b", regB))

	families, err := mg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 12) // 6 metrics registered per namespace, x2
}

func TestCollectorPollAddsDeltas(t *testing.T) {
	reg := NewRegistry()
	m, err := New("merklekv", reg)
	require.NoError(t, err)

	var overflow, selfEcho, unknownSchema uint64 = 2, 1, 0
	var run, failed uint64 = 5, 1
	keyCount := 7

	c := NewCollector(m,
		func() (uint64, uint64, uint64) { return overflow, selfEcho, unknownSchema },
		func() (uint64, uint64) { return run, failed },
		func() int { return keyCount },
	)
	c.poll()

	assert.Equal(t, float64(2), readCounter(t, m.ReplicationOverflowDropped))
	assert.Equal(t, float64(5), readCounter(t, m.AntiEntropySessionsRun))
	assert.Equal(t, float64(7), readGauge(t, m.StoreKeyCount))

	overflow = 5
	c.poll()
	assert.Equal(t, float64(5), readCounter(t, m.ReplicationOverflowDropped))
}

func TestCollectorRunStopsOnContextCancel(t *testing.T) {
	reg := NewRegistry()
	m, err := New("merklekv", reg)
	require.NoError(t, err)
	c := NewCollector(m, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.(prometheus.Metric).Write(&m))
	return m.GetCounter().GetValue()
}

func readGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.(prometheus.Metric).Write(&m))
	return m.GetGauge().GetValue()
}

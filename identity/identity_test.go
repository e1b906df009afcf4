package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerMonotonic(t *testing.T) {
	seq := NewSequencer("n1")
	t1 := seq.Next()
	t2 := seq.Next()
	assert.Equal(t, uint64(1), t1.Counter)
	assert.Equal(t, uint64(2), t2.Counter)
	assert.Equal(t, "n1", t1.NodeID)
	assert.True(t, t2.Dominates(t1))
}

func TestSequencerObserveAdvancesPastRemote(t *testing.T) {
	seq := NewSequencer("n1")
	seq.Next() // counter=1
	seq.Observe(100)
	next := seq.Next()
	assert.Equal(t, uint64(101), next.Counter)
}

func TestSequencerObserveNeverGoesBackwards(t *testing.T) {
	seq := NewSequencer("n1")
	for i := 0; i < 10; i++ {
		seq.Next()
	}
	seq.Observe(3) // smaller than current counter, must be a no-op
	next := seq.Next()
	assert.Equal(t, uint64(11), next.Counter)
}

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/store"
)

func newTestExecutor() (*Executor, *bus.Subscription) {
	b := bus.New()
	sub := b.Subscribe(16)
	e := New(store.New(), identity.NewSequencer("n1"), b, "test")
	return e, sub
}

func TestSetGetDelete(t *testing.T) {
	e, _ := newTestExecutor()

	r := e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("user:100"), Value: []byte("jane")})
	require.NoError(t, r.Err)

	r = e.Execute(kv.Command{Kind: kv.KindGet, Key: []byte("user:100")})
	assert.True(t, r.Found)
	assert.Equal(t, []byte("jane"), r.Value)

	r = e.Execute(kv.Command{Kind: kv.KindDel, Key: []byte("user:100")})
	assert.True(t, r.Deleted)

	r = e.Execute(kv.Command{Kind: kv.KindDel, Key: []byte("user:100")})
	assert.False(t, r.Deleted)
}

func TestEmptyValueAndTabsRoundTrip(t *testing.T) {
	e, _ := newTestExecutor()

	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k1"), Value: []byte("")})
	r := e.Execute(kv.Command{Kind: kv.KindGet, Key: []byte("k1")})
	assert.True(t, r.Found)
	assert.Equal(t, []byte(""), r.Value)

	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k2"), Value: []byte("a\tb\tc")})
	r = e.Execute(kv.Command{Kind: kv.KindGet, Key: []byte("k2")})
	assert.Equal(t, []byte("a\tb\tc"), r.Value)
}

func TestNumericSequence(t *testing.T) {
	e, _ := newTestExecutor()

	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("n"), Value: []byte("10")})

	r := e.Execute(kv.Command{Kind: kv.KindInc, Key: []byte("n")})
	assert.Equal(t, int64(11), r.Number)

	r = e.Execute(kv.Command{Kind: kv.KindInc, Key: []byte("n"), Amount: 5, HasAmount: true})
	assert.Equal(t, int64(16), r.Number)

	r = e.Execute(kv.Command{Kind: kv.KindDec, Key: []byte("n"), Amount: 20, HasAmount: true})
	assert.Equal(t, int64(-4), r.Number)

	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("n"), Value: []byte("foo")})
	r = e.Execute(kv.Command{Kind: kv.KindInc, Key: []byte("n")})
	assert.ErrorIs(t, r.Err, kv.ErrNotNumeric)
}

func TestMutationEmitsExactlyOneEvent(t *testing.T) {
	e, sub := newTestExecutor()

	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k"), Value: []byte("v")})
	require.Len(t, sub.C, 1)
	<-sub.C
	assert.Len(t, sub.C, 0)
}

func TestGetDoesNotEmitAnEvent(t *testing.T) {
	e, sub := newTestExecutor()
	e.Execute(kv.Command{Kind: kv.KindGet, Key: []byte("missing")})
	assert.Len(t, sub.C, 0)
}

func TestReplicatedApplyNeverPublishes(t *testing.T) {
	e, sub := newTestExecutor()

	e.ApplyReplicated(bus.Event{Op: kv.OpSet, Key: []byte("k"), Value: []byte("v"), Tag: kv.LamportTag{Counter: 1, NodeID: "peer"}})

	v, ok := e.Store().Get([]byte("k"))
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Len(t, sub.C, 0, "replicated-mode apply must never re-emit")
}

func TestReplicatedApplyAdvancesSequencerPastRemoteTag(t *testing.T) {
	e, _ := newTestExecutor()
	e.ApplyReplicated(bus.Event{Op: kv.OpSet, Key: []byte("k"), Value: []byte("v"), Tag: kv.LamportTag{Counter: 100, NodeID: "peer"}})

	local := e.Sequencer().Next()
	assert.Equal(t, uint64(101), local.Counter)
}

func TestDuplicateReplicatedDeliveryIsIdempotent(t *testing.T) {
	e, _ := newTestExecutor()
	ev := bus.Event{Op: kv.OpInc, Key: []byte("n"), Amount: 3, Tag: kv.LamportTag{Counter: 5, NodeID: "peer"}}

	e.ApplyReplicated(ev)
	v1, _ := e.Store().Get([]byte("n"))

	e.ApplyReplicated(ev) // same tag, delivered twice
	v2, _ := e.Store().Get([]byte("n"))

	assert.Equal(t, v1, v2, "applying the same tagged mutation twice must be a no-op the second time")
}

func TestMSetIsAllOrNothing(t *testing.T) {
	e, _ := newTestExecutor()
	r := e.Execute(kv.Command{Kind: kv.KindMSet, Pairs: []kv.Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}})
	require.NoError(t, r.Err)

	ra, _ := e.Store().Get([]byte("a"))
	rb, _ := e.Store().Get([]byte("b"))
	assert.Equal(t, []byte("1"), ra)
	assert.Equal(t, []byte("2"), rb)
}

func TestTruncateEmitsExactlyOneEvent(t *testing.T) {
	e, sub := newTestExecutor()
	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("a"), Value: []byte("1")})
	<-sub.C
	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("b"), Value: []byte("2")})
	<-sub.C

	r := e.Execute(kv.Command{Kind: kv.KindTruncate})
	assert.Equal(t, 2, r.Count)
	require.Len(t, sub.C, 1)
	ev := <-sub.C
	assert.Equal(t, kv.OpTruncate, ev.Op)
}

func TestStatsIncludesComponentCounters(t *testing.T) {
	e, _ := newTestExecutor()
	e.SetStatsSources(StatsSources{
		ReplicationOverflow: func() uint64 { return 3 },
		AntiEntropySessions: func() (uint64, uint64) { return 7, 2 },
	})

	r := e.Execute(kv.Command{Kind: kv.KindStats})
	assert.Contains(t, r.Text, "repl_overflow=3")
	assert.Contains(t, r.Text, "ae_sessions=7")
	assert.Contains(t, r.Text, "ae_failed=2")
}

func TestRootMatchesFromScratchRecomputationAfterQuiescence(t *testing.T) {
	e, _ := newTestExecutor()
	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("a"), Value: []byte("1")})
	e.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("b"), Value: []byte("2")})
	e.Execute(kv.Command{Kind: kv.KindDel, Key: []byte("a")})

	fresh := store.New()
	fresh.ApplySet([]byte("b"), []byte("2"), kv.LamportTag{Counter: 1, NodeID: "x"}, false)

	assert.Equal(t, fresh.Root(), e.Store().Root())
}

package antientropy

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/kv"
	"github.com/merklekv/merklekv/store"
)

func newTestNode(t *testing.T, nodeID string) (*executor.Executor, net.Listener) {
	t.Helper()
	exec := executor.New(store.New(), identity.NewSequencer(nodeID), bus.New(), "test")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(exec.Store(), exec, DefaultMaxInboundSessions)
	go srv.Serve(ln)
	return exec, ln
}

func dialTCP(ctx context.Context, addr string) (PeerClient, error) {
	return DialPeer(ctx, addr, 2*time.Second)
}

// TestSessionConvergesDivergentNodes drives a full session between two
// independently-populated nodes and asserts both sides end with identical
// roots.
func TestSessionConvergesDivergentNodes(t *testing.T) {
	execA, lnA := newTestNode(t, "A")
	defer lnA.Close()
	execB, lnB := newTestNode(t, "B")
	defer lnB.Close()

	execA.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("only-a"), Value: []byte("1")})
	execA.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("shared"), Value: []byte("from-a")})
	execB.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("only-b"), Value: []byte("2")})
	// Give B's write the later Lamport tag so it should win the shared key.
	execB.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("shared"), Value: []byte("from-b")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := dialTCP(ctx, lnB.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, runSession(ctx, execA, client, DefaultSessionDeadline))

	vA, _ := execA.Store().Get([]byte("only-b"))
	assert.Equal(t, []byte("2"), vA, "A should have pulled B's unique key")

	vShared, _ := execA.Store().Get([]byte("shared"))
	assert.Equal(t, []byte("from-b"), vShared, "the dominating tag should win on A")

	assert.Eventually(t, func() bool {
		vB, _ := execB.Store().Get([]byte("only-a"))
		return string(vB) == "1"
	}, time.Second, 10*time.Millisecond, "B should have received A's pushed key via Repair")

	assert.Equal(t, execA.Store().Root(), execB.Store().Root(), "roots must converge after a completed session")
}

// TestSessionConvergesInterleavedKeyspaces populates both nodes with
// enough keys that the session must recurse below the root instead of
// exchanging one flat leaf list, interleaving each side's unique keys so
// that peer-only keys fall between this side's subtrees and past its
// largest key.
func TestSessionConvergesInterleavedKeyspaces(t *testing.T) {
	execA, lnA := newTestNode(t, "A")
	defer lnA.Close()
	execB, lnB := newTestNode(t, "B")
	defer lnB.Close()

	for i := 0; i < 120; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		val := []byte(fmt.Sprintf("v%d", i))
		switch i % 3 {
		case 0:
			execA.Execute(kv.Command{Kind: kv.KindSet, Key: key, Value: val})
		case 1:
			execB.Execute(kv.Command{Kind: kv.KindSet, Key: key, Value: val})
		default:
			execA.Execute(kv.Command{Kind: kv.KindSet, Key: key, Value: val})
			execB.Execute(kv.Command{Kind: kv.KindSet, Key: key, Value: val})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := dialTCP(ctx, lnB.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, runSession(ctx, execA, client, DefaultSessionDeadline))

	assert.Eventually(t, func() bool {
		return execA.Store().Root() == execB.Store().Root()
	}, 2*time.Second, 10*time.Millisecond, "both sides must hold every key after one session")
	assert.Equal(t, 120, execA.Store().Len())
	assert.Equal(t, 120, execB.Store().Len())
}

// TestRepairPreservesEmptyValueOverStalePeerValue covers the case where a
// winning entry's value is legitimately empty: the repair push must land
// on the peer as a SET of "", present and empty, never as a delete.
func TestRepairPreservesEmptyValueOverStalePeerValue(t *testing.T) {
	execA, lnA := newTestNode(t, "A")
	defer lnA.Close()
	execB, lnB := newTestNode(t, "B")
	defer lnB.Close()

	execB.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k"), Value: []byte("stale")})
	// Two writes on A so its tag for k is (2, "A"), dominating B's (1, "B").
	execA.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("pad"), Value: []byte("p")})
	execA.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k"), Value: []byte("")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := dialTCP(ctx, lnB.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, runSession(ctx, execA, client, DefaultSessionDeadline))

	assert.Eventually(t, func() bool {
		v, ok := execB.Store().Get([]byte("k"))
		return ok && len(v) == 0
	}, time.Second, 10*time.Millisecond, "B must hold k as present-and-empty, not deleted")
	assert.Equal(t, execA.Store().Root(), execB.Store().Root())
}

func TestSessionNoopWhenRootsAlreadyMatch(t *testing.T) {
	execA, lnA := newTestNode(t, "A")
	defer lnA.Close()
	execB, lnB := newTestNode(t, "B")
	defer lnB.Close()

	execA.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k"), Value: []byte("v")})
	execB.Execute(kv.Command{Kind: kv.KindSet, Key: []byte("k"), Value: []byte("v")})
	// Same content but different tags: roots are a pure function of
	// content, not history, so they already match and the session should
	// do nothing.
	require.Equal(t, execA.Store().Root(), execB.Store().Root())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := dialTCP(ctx, lnB.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, runSession(ctx, execA, client, DefaultSessionDeadline))
}

func TestOutboundTrackerRefusesDuplicateInFlight(t *testing.T) {
	tr := newOutboundTracker()
	assert.True(t, tr.start("peer-1"))
	assert.False(t, tr.start("peer-1"), "a second session for the same peer must be refused while one is in flight")
	tr.finish("peer-1")
	assert.True(t, tr.start("peer-1"), "once finished, the peer can be picked again")
}

func TestTickSkipsPeerWithSessionAlreadyInFlight(t *testing.T) {
	execA, lnA := newTestNode(t, "A")
	defer lnA.Close()
	a := New(execA, []string{lnA.Addr().String()}, time.Hour, time.Second, dialTCP)

	a.tracker.start(lnA.Addr().String())
	a.tick(context.Background())

	run, failed := a.Stats()
	assert.Equal(t, uint64(0), run)
	assert.Equal(t, uint64(0), failed)
}

func TestJitteredStaysWithinTenPercent(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := jittered(base)
		assert.InDelta(t, base, got, float64(base)*DefaultJitter+1)
	}
}

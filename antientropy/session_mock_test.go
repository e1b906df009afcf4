package antientropy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/merklekv/merklekv/antientropy/antientropymock"
	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/store"
)

// TestRunSessionEqualRootsSkipsExchange uses a scripted gomock PeerClient
// to assert that when the peer reports the same root as this side, the
// session ends without ever asking for range digests or leaves.
func TestRunSessionEqualRootsSkipsExchange(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := store.New()
	exec := executor.New(s, identity.NewSequencer("A"), bus.New(), "test")
	tag := identity.NewSequencer("A").Next()
	s.ApplySet([]byte("k"), []byte("v"), tag, false)

	peer := antientropymock.NewPeerClient(ctrl)
	peer.EXPECT().SyncRoot(gomock.Any()).Return(s.Root(), nil)
	// No RangeDigest/Children/Leaves/Repair call is expected: gomock's
	// controller fails the test if one happens anyway.

	err := runSession(context.Background(), exec, peer, time.Second)
	require.NoError(t, err)
}

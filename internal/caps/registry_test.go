package caps

import (
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestNeverGreetedPeerIsLegacyForever(t *testing.T) {
	r := NewRegistry()
	p := peer.ID("silent")
	require.False(t, r.IsUpgraded(p))
	r.RecordGreetingSent(p)
	// Sending our greeting does not make them upgraded.
	require.False(t, r.IsUpgraded(p))
	require.True(t, r.HasSent(p))
}

func TestReceivedIsMonotonic(t *testing.T) {
	r := NewRegistry()
	p := peer.ID("talker")
	r.RecordGreetingReceived(p, "1.2.0")
	require.True(t, r.IsUpgraded(p))
	require.Equal(t, "1.2.0", r.Version(p))

	// Later traffic, malformed or otherwise, never flips it back; only a
	// full disconnect does.
	r.RecordGreetingSent(p)
	require.True(t, r.IsUpgraded(p))

	r.Forget(p)
	require.False(t, r.IsUpgraded(p))
}

func TestResetDropsEverything(t *testing.T) {
	r := NewRegistry()
	a, b := peer.ID("a"), peer.ID("b")
	r.RecordGreetingReceived(a, "1.0.0")
	r.RecordGreetingSent(b)
	r.Reset()
	require.False(t, r.IsUpgraded(a))
	require.False(t, r.HasSent(b))
}

func TestConcurrentGreetingsDoNotLoseUpdates(t *testing.T) {
	r := NewRegistry()
	p := peer.ID("busy")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RecordGreetingReceived(p, "1.2.0")
		}()
		go func() {
			defer wg.Done()
			r.RecordGreetingSent(p)
		}()
	}
	wg.Wait()
	require.True(t, r.IsUpgraded(p))
	require.True(t, r.HasSent(p))
}

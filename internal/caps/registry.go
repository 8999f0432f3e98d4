// Package caps tracks, per connected peer, whether the extended chat
// protocol has been exchanged in each direction. A peer that never greets
// stays legacy for the whole session; absence of the message is the signal,
// so there are no timeouts or retries.
package caps

import (
	"log"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// State is one peer's greeting record. Received is monotonic: once true it
// is never cleared short of a full disconnect.
type State struct {
	Version  string
	Received bool
	Sent     bool
}

// Registry is a guarded map keyed by peer handle. Mutations go through an
// atomic upsert so concurrent greetings from many peers never lose updates.
type Registry struct {
	mu    sync.RWMutex
	peers map[peer.ID]State
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[peer.ID]State)}
}

// upsert applies fn to the peer's current state (zero value if absent) and
// stores the result, all under the lock.
func (r *Registry) upsert(p peer.ID, fn func(State) State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = fn(r.peers[p])
}

func (r *Registry) RecordGreetingSent(p peer.ID) {
	r.upsert(p, func(s State) State {
		s.Sent = true
		return s
	})
}

func (r *Registry) RecordGreetingReceived(p peer.ID, version string) {
	r.upsert(p, func(s State) State {
		if !s.Received {
			log.Printf("[CAPS] Peer %s greeted, version %s", p, version)
		}
		s.Received = true
		s.Version = version
		return s
	})
}

// IsUpgraded reports whether the peer has completed the handshake toward us.
func (r *Registry) IsUpgraded(p peer.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[p].Received
}

// HasSent reports whether we already greeted the peer.
func (r *Registry) HasSent(p peer.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[p].Sent
}

// Version returns the peer's reported plugin version, "" if never greeted.
func (r *Registry) Version(p peer.ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[p].Version
}

// Forget drops one peer's record on disconnect.
func (r *Registry) Forget(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
}

// Reset discards every record. Only called on session teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) > 0 {
		log.Printf("[CAPS] Resetting registry, dropping %d peers", len(r.peers))
	}
	r.peers = make(map[peer.ID]State)
}

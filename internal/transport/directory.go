package transport

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/rpc"
	"skald/internal/wire"
)

// Directory is an in-process session directory fed by the node's lifecycle
// hooks. Stable identities default to a digest of the peer ID so they
// survive reconnects of the same key; real hosts may override them.
type Directory struct {
	mu     sync.RWMutex
	peers  map[peer.ID]rpc.PeerInfo
	admins map[uint64]struct{}
	server peer.ID
}

func NewDirectory(admins []uint64) *Directory {
	d := &Directory{
		peers:  make(map[peer.ID]rpc.PeerInfo),
		admins: make(map[uint64]struct{}, len(admins)),
	}
	for _, id := range admins {
		d.admins[id] = struct{}{}
	}
	return d
}

// IdentityFor derives a stable uint64 identity from a peer ID.
func IdentityFor(p peer.ID) uint64 {
	sum := sha256.Sum256([]byte(p))
	return binary.LittleEndian.Uint64(sum[:8])
}

func (d *Directory) SetServerPeer(p peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.server = p
}

// Add inserts or refreshes a peer row.
func (d *Directory) Add(p peer.ID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := d.peers[p]
	info.ID = p
	info.Identity = IdentityFor(p)
	if name != "" {
		info.Name = name
	}
	d.peers[p] = info
}

// SetReady flips the ready flag once the peer has finished joining.
func (d *Directory) SetReady(p peer.ID, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.peers[p]; ok {
		info.Ready = ready
		d.peers[p] = info
	}
}

// SetPosition records the peer's last known position.
func (d *Directory) SetPosition(p peer.ID, pos wire.Vec3) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.peers[p]; ok {
		info.Position = pos
		d.peers[p] = info
	}
}

func (d *Directory) Remove(p peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, p)
}

// ConnectedPeers implements rpc.Directory.
func (d *Directory) ConnectedPeers() []rpc.PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]rpc.PeerInfo, 0, len(d.peers))
	for _, info := range d.peers {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PeerByIdentity implements rpc.Directory.
func (d *Directory) PeerByIdentity(identity uint64) (rpc.PeerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, info := range d.peers {
		if info.Identity == identity {
			return info, true
		}
	}
	return rpc.PeerInfo{}, false
}

// IsAdmin implements rpc.Directory.
func (d *Directory) IsAdmin(identity uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.admins[identity]
	return ok
}

// ServerPeer implements rpc.Directory.
func (d *Directory) ServerPeer() peer.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.server
}

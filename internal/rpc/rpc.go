// Package rpc holds the narrow seams through which the chat layer consumes
// the message-routing substrate and the host's peer directory. The core never
// implements these; internal/transport provides the libp2p-backed versions
// and tests supply fakes.
package rpc

import (
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/wire"
)

var ErrTransportUnavailable = errors.New("rpc: transport unavailable")

// Handler receives one inbound message of a registered kind.
type Handler func(sender peer.ID, payload []byte)

// Substrate delivers named binary messages between peers. Sends are
// fire-and-forget; a failed send surfaces to the caller and is not retried.
type Substrate interface {
	Register(kind string, h Handler)
	Send(target peer.ID, kind string, payload []byte) error
}

// PeerInfo is one row of the host's session directory.
type PeerInfo struct {
	ID       peer.ID
	Identity uint64 // stable external identity, survives reconnects
	Name     string
	Position wire.Vec3
	Ready    bool
}

// Directory resolves connected peers and their stable identities.
type Directory interface {
	ConnectedPeers() []PeerInfo
	PeerByIdentity(identity uint64) (PeerInfo, bool)
	IsAdmin(identity uint64) bool
	ServerPeer() peer.ID
}

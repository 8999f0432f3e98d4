// Package transport implements the routing substrate over libp2p: one
// stream protocol per message kind, length-prefixed payload frames, and
// connection notifications driving the chat layer's lifecycle hooks.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"skald/internal/proto"
	"skald/internal/router"
	"skald/internal/rpc"
)

const maxFrameSize = 256 * 1024

func protocolID(kind string) protocol.ID {
	return protocol.ID("/skald/" + kind + "/1.0.0")
}

// Inspector examines an inbound legacy say before the node relays it.
type Inspector func(sender peer.ID, payload []byte) router.Verdict

// Node is a libp2p-backed Substrate. When relaying is enabled (hosting), an
// inbound legacy say is inspected first; a suppressed say has its kind
// rewritten to the no-op kind, which skips both relay and delivery.
type Node struct {
	Ctx  context.Context
	Host host.Host

	relay bool

	mu           sync.RWMutex
	handlers     map[string]rpc.Handler
	inspector    Inspector
	onConnect    func(peer.ID)
	onDisconnect func(peer.ID)
}

func NewNode(ctx context.Context, listenAddr string, relay bool) (*Node, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	log.Printf("[NODE] Host up with ID %s", h.ID())

	n := &Node{
		Ctx:      ctx,
		Host:     h,
		relay:    relay,
		handlers: make(map[string]rpc.Handler),
	}
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			log.Printf("[NODE] CONNECT: %s from %s", c.RemotePeer(), c.RemoteMultiaddr())
			n.mu.RLock()
			cb := n.onConnect
			n.mu.RUnlock()
			if cb != nil {
				cb(c.RemotePeer())
			}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			log.Printf("[NODE] DISCONNECT: %s", c.RemotePeer())
			n.mu.RLock()
			cb := n.onDisconnect
			n.mu.RUnlock()
			if cb != nil {
				cb(c.RemotePeer())
			}
		},
	})
	return n, nil
}

// OnPeer installs the connect/disconnect lifecycle hooks.
func (n *Node) OnPeer(connect, disconnect func(peer.ID)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnect = connect
	n.onDisconnect = disconnect
}

// SetInspector installs the legacy-broadcast inspection seam.
func (n *Node) SetInspector(i Inspector) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inspector = i
}

// Register implements rpc.Substrate.
func (n *Node) Register(kind string, h rpc.Handler) {
	n.mu.Lock()
	n.handlers[kind] = h
	n.mu.Unlock()
	n.Host.SetStreamHandler(protocolID(kind), func(s network.Stream) {
		n.handleStream(kind, s)
	})
}

func (n *Node) handler(kind string) rpc.Handler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.handlers[kind]
}

func (n *Node) handleStream(kind string, s network.Stream) {
	defer s.Close()
	sender := s.Conn().RemotePeer()
	payload, err := readFrame(bufio.NewReader(s))
	if err != nil {
		log.Printf("[NODE] Bad frame on %s from %s: %v", kind, sender, err)
		return
	}

	if kind == proto.KindLegacySay && n.relay {
		n.mu.RLock()
		insp := n.inspector
		n.mu.RUnlock()
		if insp != nil && insp(sender, payload) == router.Suppress {
			// Default handling skipped entirely.
			kind = proto.KindNop
		} else {
			n.relayToOthers(sender, proto.KindLegacySay, payload)
		}
	}

	if h := n.handler(kind); h != nil {
		h(sender, payload)
	}
}

func (n *Node) relayToOthers(from peer.ID, kind string, payload []byte) {
	for _, p := range n.Host.Network().Peers() {
		if p == from {
			continue
		}
		if err := n.Send(p, kind, payload); err != nil {
			log.Printf("[NODE] Relay of %s to %s failed: %v", kind, p, err)
		}
	}
}

// Send implements rpc.Substrate. Fire-and-forget: the frame is written and
// the stream closed; failures surface to the caller and are never retried.
func (n *Node) Send(target peer.ID, kind string, payload []byte) error {
	ctx, cancel := context.WithTimeout(n.Ctx, 10*time.Second)
	defer cancel()
	s, err := n.Host.NewStream(ctx, target, protocolID(kind))
	if err != nil {
		return fmt.Errorf("%w: open stream %s to %s: %v", rpc.ErrTransportUnavailable, kind, target, err)
	}
	defer s.Close()
	if err := writeFrame(s, payload); err != nil {
		return fmt.Errorf("%w: write %s to %s: %v", rpc.ErrTransportUnavailable, kind, target, err)
	}
	return nil
}

// Dial connects to a peer given its full multiaddr (including the /p2p/
// component) and returns its ID.
func (n *Node) Dial(addr string) (peer.ID, error) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", fmt.Errorf("parse peer address: %w", err)
	}
	if err := n.Host.Connect(n.Ctx, *pi); err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", rpc.ErrTransportUnavailable, pi.ID, err)
	}
	return pi.ID, nil
}

func (n *Node) Close() error { return n.Host.Close() }

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	k := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:k]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

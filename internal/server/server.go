// Package server wires the chat layer together on the hosting side: it
// registers handlers for every message kind, executes channel operations,
// pushes channel syncs, intercepts legacy broadcasts, and runs the periodic
// persistence job.
package server

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/caps"
	"skald/internal/channel"
	"skald/internal/command"
	"skald/internal/persist"
	"skald/internal/proto"
	"skald/internal/router"
	"skald/internal/rpc"
)

// Config is the hosting-side configuration.
type Config struct {
	World             string
	CommandPrefix     string
	CreatePolicy      channel.CreatePolicy
	GlobalChannelName string
	SaveInterval      time.Duration
}

func (c *Config) withDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/"
	}
	if c.GlobalChannelName == "" {
		c.GlobalChannelName = "Global"
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 2 * time.Minute
	}
	if c.World == "" {
		c.World = "default"
	}
}

// Server is the authoritative chat host.
type Server struct {
	cfg Config

	caps   *caps.Registry
	store  *channel.Store
	sub    rpc.Substrate
	dir    rpc.Directory
	router *router.Router

	globalCmds *command.Registry
	serverCmds *command.Registry

	persist *persist.Store // nil when running without durable storage

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func New(cfg Config, sub rpc.Substrate, dir rpc.Directory, ps *persist.Store) *Server {
	cfg.withDefaults()
	s := &Server{
		cfg:        cfg,
		caps:       caps.NewRegistry(),
		sub:        sub,
		dir:        dir,
		persist:    ps,
		globalCmds: command.NewRegistry(cfg.CommandPrefix),
		serverCmds: command.NewRegistry(cfg.CommandPrefix),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.store = channel.NewStore(cfg.CreatePolicy, dir.IsAdmin)
	s.router = router.New(s.caps, sub, dir, s.globalCmds, s.serverCmds)

	if err := s.store.CreateSystem(cfg.GlobalChannelName, channel.DefaultColor, "g"); err != nil {
		log.Printf("[SERVER] System channel %q: %v", cfg.GlobalChannelName, err)
	}
	s.loadState()
	s.rebuildCommands()
	s.registerHandlers()
	return s
}

// Store exposes the channel store for glue code and tests.
func (s *Server) Store() *channel.Store { return s.store }

// Caps exposes the capability registry for the transport's lifecycle hooks.
func (s *Server) Caps() *caps.Registry { return s.caps }

// Router exposes the message router.
func (s *Server) Router() *router.Router { return s.router }

func (s *Server) registerHandlers() {
	s.sub.Register(proto.KindGreeting, s.handleGreeting)
	s.sub.Register(proto.KindGlobalChat, s.handleGlobalChat)
	s.sub.Register(proto.KindChannelChat, s.handleChannelChat)
	s.sub.Register(proto.KindChannelCreate, s.handleChannelCreate)
	s.sub.Register(proto.KindChannelInvite, s.handleChannelInvite)
	s.sub.Register(proto.KindChannelEdit, s.handleChannelEdit)
	s.sub.Register(proto.KindChannelDisband, s.handleChannelDisband)
	s.sub.Register(proto.KindChannelLeave, s.handleChannelLeave)
	s.sub.Register(proto.KindChannelKick, s.handleChannelKick)
}

// PeerConnected greets a newly connected peer and, once they greet back,
// they will receive channel syncs. Called by the transport's notify hook.
func (s *Server) PeerConnected(p peer.ID) {
	if s.caps.HasSent(p) {
		return
	}
	g := proto.Greeting{PluginVersion: proto.PluginVersion}
	if err := s.sub.Send(p, proto.KindGreeting, g.Encode()); err != nil {
		log.Printf("[SERVER] Greeting to %s failed: %v", p, err)
		return
	}
	s.caps.RecordGreetingSent(p)
}

// PeerDisconnected drops the peer's capability record.
func (s *Server) PeerDisconnected(p peer.ID) {
	s.caps.Forget(p)
}

// Inspect is the seam the transport calls for every inbound legacy say
// before relaying it. On Suppress the transport rewrites the message kind
// to the no-op kind instead of relaying.
func (s *Server) Inspect(sender peer.ID, payload []byte) router.Verdict {
	return s.router.InspectLegacySay(sender, payload)
}

func (s *Server) handleGreeting(sender peer.ID, payload []byte) {
	g, err := proto.DecodeGreeting(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed greeting from %s: %v", sender, err)
		return
	}
	s.caps.RecordGreetingReceived(sender, g.PluginVersion)
	// The peer can parse syncs now; give them their channel view.
	if p, ok := s.peerByID(sender); ok {
		s.syncPeer(p)
	}
}

func (s *Server) handleGlobalChat(sender peer.ID, payload []byte) {
	m, err := proto.DecodeGlobalChat(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed global chat from %s: %v", sender, err)
		return
	}
	s.router.FanOutGlobal(sender, router.ChatEvent{
		Channel:    proto.Local(),
		SenderName: m.SenderName,
		Pos:        m.Pos,
		Text:       m.Text,
	})
}

func (s *Server) handleChannelChat(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelChat(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel chat from %s: %v", sender, err)
		return
	}
	from, ok := s.peerByID(sender)
	if !ok {
		return
	}
	ch, ok := s.store.Get(m.Channel)
	if !ok {
		s.router.Feedback(from, "No such channel: "+m.Channel)
		return
	}
	if !ch.IsMember(from.Identity) {
		s.router.Feedback(from, "You are not a member of "+ch.Name)
		return
	}
	s.fanOutChannel(sender, ch, router.ChatEvent{
		Channel:    proto.Named(ch.Name),
		SenderName: from.Name,
		Pos:        from.Position,
		Text:       m.Text,
	})
}

// fanOutChannel delivers a channel event to every other connected, ready
// member. Same at-most-once semantics as the global fan-out.
func (s *Server) fanOutChannel(from peer.ID, ch channel.Channel, ev router.ChatEvent) {
	for _, p := range s.dir.ConnectedPeers() {
		if p.ID == from || !p.Ready || !ch.IsMember(p.Identity) {
			continue
		}
		if err := s.router.SendChat(p, ev); err != nil {
			log.Printf("[SERVER] Channel fan-out to %s failed: %v", p.ID, err)
		}
	}
}

func (s *Server) handleChannelCreate(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelCreate(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel create from %s: %v", sender, err)
		return
	}
	if from, ok := s.peerByID(sender); ok {
		s.createChannel(from, m.Name, m.Public)
	}
}

func (s *Server) handleChannelInvite(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelInvite(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel invite from %s: %v", sender, err)
		return
	}
	if from, ok := s.peerByID(sender); ok {
		s.inviteToChannel(from, m.TargetName, m.Channel)
	}
}

func (s *Server) handleChannelEdit(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelEdit(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel edit from %s: %v", sender, err)
		return
	}
	from, ok := s.peerByID(sender)
	if !ok {
		return
	}
	color := channel.DefaultColor
	if m.ColorHTML != "" {
		if c, err := channel.ParseHTMLColor(m.ColorHTML); err == nil {
			color = c
		}
	}
	err = s.store.Edit(from.Identity, m.Channel, m.Public, color, m.Alias)
	s.finishMutation(from, err, "Channel "+m.Channel+" updated")
	if err == nil {
		s.rebuildCommands()
	}
}

func (s *Server) handleChannelDisband(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelDisband(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel disband from %s: %v", sender, err)
		return
	}
	if from, ok := s.peerByID(sender); ok {
		s.disbandChannel(from, m.Name)
	}
}

func (s *Server) handleChannelLeave(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelLeave(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel leave from %s: %v", sender, err)
		return
	}
	if from, ok := s.peerByID(sender); ok {
		err := s.store.Leave(from.Identity, m.Name)
		s.finishMutation(from, err, "Left "+m.Name)
	}
}

func (s *Server) handleChannelKick(sender peer.ID, payload []byte) {
	m, err := proto.DecodeChannelKick(payload)
	if err != nil {
		log.Printf("[SERVER] Dropping malformed channel kick from %s: %v", sender, err)
		return
	}
	if from, ok := s.peerByID(sender); ok {
		s.kickFromChannel(from, m.TargetName, m.Channel)
	}
}

// finishMutation sends feedback for a store operation and, on success,
// pushes fresh channel views to every upgraded peer.
func (s *Server) finishMutation(from rpc.PeerInfo, err error, okText string) {
	if err != nil {
		s.router.Feedback(from, errText(err))
		return
	}
	s.router.Feedback(from, okText)
	s.syncAll()
}

func errText(err error) string {
	switch {
	case errors.Is(err, channel.ErrAlreadyExists):
		return "A channel with that name already exists"
	case errors.Is(err, channel.ErrNotFound):
		return "No such channel"
	case errors.Is(err, channel.ErrNoPermission):
		return "You do not have permission to do that"
	case errors.Is(err, channel.ErrNoInvite):
		return "You have no pending invite for that channel"
	case errors.Is(err, channel.ErrPlayerNotFound):
		return "No such player"
	case errors.Is(err, channel.ErrAlreadyMember):
		return "They are already a member"
	case errors.Is(err, channel.ErrInvalidName):
		return "That channel name is not allowed"
	default:
		return "Something went wrong: " + err.Error()
	}
}

func (s *Server) peerByID(id peer.ID) (rpc.PeerInfo, bool) {
	for _, p := range s.dir.ConnectedPeers() {
		if p.ID == id {
			return p, true
		}
	}
	return rpc.PeerInfo{}, false
}

func (s *Server) peerByName(name string) (rpc.PeerInfo, bool) {
	for _, p := range s.dir.ConnectedPeers() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return rpc.PeerInfo{}, false
}

// syncPeer pushes the peer's visible channel set. Only upgraded peers can
// parse the sync kind; legacy peers are skipped.
func (s *Server) syncPeer(p rpc.PeerInfo) {
	if !s.caps.IsUpgraded(p.ID) {
		return
	}
	visible := s.store.VisibleTo(p.Identity)
	sync := proto.ChannelInfoSync{Channels: make([]proto.ChannelView, 0, len(visible))}
	for _, c := range visible {
		sync.Channels = append(sync.Channels, proto.ChannelView{
			Name:      c.Name,
			Owner:     c.OwnerID,
			Public:    c.Public,
			ColorHTML: c.Color.HTML(),
			Alias:     c.Alias,
			Invitees:  c.InviteeList(),
		})
	}
	if err := s.sub.Send(p.ID, proto.KindChannelInfoSync, sync.Encode()); err != nil {
		log.Printf("[SERVER] Channel sync to %s failed: %v", p.ID, err)
	}
}

func (s *Server) syncAll() {
	for _, p := range s.dir.ConnectedPeers() {
		if p.Ready {
			s.syncPeer(p)
		}
	}
}

func (s *Server) loadState() {
	if s.persist == nil {
		return
	}
	blob, err := s.persist.LoadWorld(s.cfg.World)
	if err != nil {
		if !errors.Is(err, persist.ErrNoData) {
			log.Printf("[SERVER] Loading world %q failed, starting empty: %v", s.cfg.World, err)
		}
		return
	}
	channels, err := persist.Decode(blob)
	if err != nil {
		log.Printf("[SERVER] Decoding world %q failed, starting empty: %v", s.cfg.World, err)
		return
	}
	s.store.Load(channels)
}

// Save serializes the current channel state. Invoked from the periodic job
// and once on shutdown, never from message handlers.
func (s *Server) Save() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.SaveWorld(s.cfg.World, persist.Encode(s.store.All()))
}

// Start runs the periodic persistence job until Stop.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.cfg.SaveInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := s.Save(); err != nil {
					log.Printf("[SERVER] Periodic save failed: %v", err)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop tears the session down: final save, command registries cleared,
// capability registry reset.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stop)
	if started {
		<-s.done
	}
	if err := s.Save(); err != nil {
		log.Printf("[SERVER] Final save failed: %v", err)
	}
	s.globalCmds.Clear()
	s.serverCmds.Clear()
	s.caps.Reset()
}

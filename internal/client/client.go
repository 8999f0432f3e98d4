// Package client is the joining-side glue: it greets the server, trusts
// extended messages only from it once greeted, mirrors the channel views the
// server pushes, and turns typed input into either local commands, chat
// sends, or legacy broadcasts the server can intercept.
package client

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/caps"
	"skald/internal/command"
	"skald/internal/proto"
	"skald/internal/router"
	"skald/internal/rpc"
	"skald/internal/wire"
)

type Client struct {
	caps      *caps.Registry
	sub       rpc.Substrate
	dir       rpc.Directory
	router    *router.Router
	localCmds *command.Registry
	history   *History

	name string

	mu       sync.RWMutex
	channels []proto.ChannelView
	onLine   func(ChatLine)
}

func New(name, commandPrefix string, sub rpc.Substrate, dir rpc.Directory) *Client {
	c := &Client{
		caps:      caps.NewRegistry(),
		sub:       sub,
		dir:       dir,
		localCmds: command.NewRegistry(commandPrefix),
		history:   NewHistory(256),
		name:      name,
	}
	// Clients never intercept broadcasts, so the router gets empty
	// interception registries.
	c.router = router.New(c.caps, sub, dir,
		command.NewRegistry(commandPrefix), command.NewRegistry(commandPrefix))

	c.registerLocalCommands()
	sub.Register(proto.KindGreeting, c.handleGreeting)
	sub.Register(proto.KindGlobalChat, c.handleGlobalChat)
	sub.Register(proto.KindChannelChat, c.handleChannelChat)
	sub.Register(proto.KindChannelInfoSync, c.handleChannelInfoSync)
	return c
}

func (c *Client) History() *History { return c.history }

// SetOnLine installs a hook called for every line appended to the history.
func (c *Client) SetOnLine(fn func(ChatLine)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = fn
}

// Channels returns the last channel view pushed by the server.
func (c *Client) Channels() []proto.ChannelView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]proto.ChannelView, len(c.channels))
	copy(out, c.channels)
	return out
}

// Connected greets the server. Called once the transport reports the
// session is up.
func (c *Client) Connected() {
	c.greetServer()
}

// Disconnected resets per-session state.
func (c *Client) Disconnected() {
	c.caps.Reset()
	c.mu.Lock()
	c.channels = nil
	c.mu.Unlock()
}

func (c *Client) greetServer() {
	server := c.dir.ServerPeer()
	if server == "" || c.caps.HasSent(server) {
		return
	}
	g := proto.Greeting{PluginVersion: proto.PluginVersion}
	if err := c.sub.Send(server, proto.KindGreeting, g.Encode()); err != nil {
		log.Printf("[CLIENT] Greeting server failed: %v", err)
		return
	}
	c.caps.RecordGreetingSent(server)
}

func (c *Client) handleGreeting(sender peer.ID, payload []byte) {
	g, err := proto.DecodeGreeting(payload)
	if err != nil {
		log.Printf("[CLIENT] Dropping malformed greeting from %s: %v", sender, err)
		return
	}
	c.caps.RecordGreetingReceived(sender, g.PluginVersion)
	// Reciprocate the first server greeting so both sides converge within
	// one round trip.
	if sender == c.dir.ServerPeer() {
		c.greetServer()
	}
}

func (c *Client) handleGlobalChat(sender peer.ID, payload []byte) {
	if !c.router.AcceptInbound(sender) {
		log.Printf("[CLIENT] Ignoring global chat from untrusted peer %s", sender)
		return
	}
	m, err := proto.DecodeGlobalChat(payload)
	if err != nil {
		log.Printf("[CLIENT] Dropping malformed global chat: %v", err)
		return
	}
	c.append("Global", m.SenderName, m.Text)
}

func (c *Client) handleChannelChat(sender peer.ID, payload []byte) {
	if !c.router.AcceptInbound(sender) {
		log.Printf("[CLIENT] Ignoring channel chat from untrusted peer %s", sender)
		return
	}
	m, err := proto.DecodeChannelChat(payload)
	if err != nil {
		log.Printf("[CLIENT] Dropping malformed channel chat: %v", err)
		return
	}
	c.append(m.Channel, m.SenderName, m.Text)
}

func (c *Client) handleChannelInfoSync(sender peer.ID, payload []byte) {
	if !c.router.AcceptInbound(sender) {
		log.Printf("[CLIENT] Ignoring channel sync from untrusted peer %s", sender)
		return
	}
	m, err := proto.DecodeChannelInfoSync(payload)
	if err != nil {
		log.Printf("[CLIENT] Dropping malformed channel sync: %v", err)
		return
	}
	c.mu.Lock()
	c.channels = m.Channels
	c.mu.Unlock()
	log.Printf("[CLIENT] Channel view updated, %d channels visible", len(m.Channels))
}

func (c *Client) append(channelName, sender, text string) {
	line := ChatLine{Channel: channelName, Sender: sender, Text: text, When: time.Now()}
	c.history.Append(line)
	c.mu.RLock()
	fn := c.onLine
	c.mu.RUnlock()
	if fn != nil {
		fn(line)
	}
}

// serverUpgraded reports whether the server runs the extension.
func (c *Client) serverUpgraded() bool {
	return c.caps.IsUpgraded(c.dir.ServerPeer())
}

// self finds our own directory row, when the glue layer registered one.
func (c *Client) self() (rpc.PeerInfo, bool) {
	for _, p := range c.dir.ConnectedPeers() {
		if p.Name == c.name {
			return p, true
		}
	}
	return rpc.PeerInfo{}, false
}

func (c *Client) position() wire.Vec3 {
	if p, ok := c.self(); ok {
		return p.Position
	}
	return wire.Vec3{}
}

// SendGlobal sends a server-wide chat line. Against a legacy server there is
// no global relay to talk to, so it degrades to a local-chat broadcast.
func (c *Client) SendGlobal(text string) error {
	if c.serverUpgraded() {
		m := proto.GlobalChat{SenderName: c.name, Pos: c.position(), Text: text}
		return c.sub.Send(c.dir.ServerPeer(), proto.KindGlobalChat, m.Encode())
	}
	return c.broadcastSay(fmt.Sprintf("[Global] %s", router.StripMarkup(text)))
}

// SendChannel sends a line into a named channel, degrading like SendGlobal.
func (c *Client) SendChannel(channelName, text string) error {
	if c.serverUpgraded() {
		m := proto.ChannelChat{
			Channel:    channelName,
			SenderName: c.name,
			Pos:        c.position(),
			Text:       text,
		}
		return c.sub.Send(c.dir.ServerPeer(), proto.KindChannelChat, m.Encode())
	}
	return c.broadcastSay(fmt.Sprintf("[%s] %s", channelName, router.StripMarkup(text)))
}

// broadcastSay emits a legacy local-chat line to every other connected peer.
// Our own directory row is skipped: a host cannot open a stream to itself.
func (c *Client) broadcastSay(text string) error {
	self, _ := c.self()
	say := proto.LegacySay{
		Pos:  self.Position,
		Tag:  proto.Local().TalkerTag(),
		Name: c.name,
		Text: text,
	}
	payload := say.Encode()
	var firstErr error
	for _, p := range c.dir.ConnectedPeers() {
		if p.ID == self.ID {
			continue
		}
		if err := c.sub.Send(p.ID, proto.KindLegacySay, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Input handles one typed line: a local command runs here; anything else
// goes out as a legacy broadcast, which the server may intercept as a
// server-side command.
func (c *Client) Input(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if cmd, args, ok := c.localCmds.Parse(raw); ok {
		cmd.Handler(args, command.Context{Name: c.name, Pos: c.position()})
		return nil
	}
	return c.broadcastSay(raw)
}

func (c *Client) registerLocalCommands() {
	reg := func(names []string, h command.Handler) {
		if err := c.localCmds.Register(names, h); err != nil {
			log.Printf("[CLIENT] Command registration error: %v", err)
		}
	}
	reg([]string{"channels"}, func(_ string, _ command.Context) {
		for _, ch := range c.Channels() {
			vis := "private"
			if ch.Public {
				vis = "public"
			}
			c.append("System", "", fmt.Sprintf("%s (%s, %d invited)", ch.Name, vis, len(ch.Invitees)))
		}
	})
	reg([]string{"clearchat"}, func(_ string, _ command.Context) {
		c.history.Clear()
	})
}

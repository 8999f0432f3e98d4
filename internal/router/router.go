// Package router decides, per target peer, whether a chat event travels over
// the extended protocol or degrades to the legacy say broadcast, and
// inspects inbound legacy broadcasts so chat commands typed by non-upgraded
// peers still work.
package router

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/caps"
	"skald/internal/command"
	"skald/internal/proto"
	"skald/internal/rpc"
	"skald/internal/wire"
)

// ChatEvent is one logical chat line before transport selection.
type ChatEvent struct {
	Channel    proto.ChatChannel
	SenderName string
	Pos        wire.Vec3
	Text       string
}

// Verdict is the outcome of inspecting a legacy broadcast.
type Verdict int

const (
	// Pass lets the substrate relay the broadcast unmodified.
	Pass Verdict = iota
	// Suppress rewrites the broadcast to the no-op kind so the substrate's
	// default handling skips it; the router has already re-dispatched or
	// executed whatever the message asked for.
	Suppress
)

// FeedbackName labels server replies in the legacy chat window.
const FeedbackName = "[Skald]"

// richMarkup matches the rich-text tokens legacy clients cannot render.
var richMarkup = regexp.MustCompile(`</?(?:b|i|u|s|color|size)(?:=[^>]*)?>`)

// StripMarkup removes rich-text tokens for legacy display.
func StripMarkup(text string) string {
	return richMarkup.ReplaceAllString(text, "")
}

// Router owns transport selection and legacy interception. The global and
// server command registries are injected by the glue layer; their handlers
// carry the actual behavior (fan-out, channel ops).
type Router struct {
	caps       *caps.Registry
	sub        rpc.Substrate
	dir        rpc.Directory
	globalCmds *command.Registry
	serverCmds *command.Registry
}

func New(capsReg *caps.Registry, sub rpc.Substrate, dir rpc.Directory,
	globalCmds, serverCmds *command.Registry) *Router {
	return &Router{
		caps:       capsReg,
		sub:        sub,
		dir:        dir,
		globalCmds: globalCmds,
		serverCmds: serverCmds,
	}
}

// SendChat delivers one chat event to one peer, picking the transport by the
// target's capability. Legacy targets get stripped markup, a bracketed scope
// prefix, and the event positioned at the *target's* location: legacy local
// chat is range-limited, so the position must match the receiver or the line
// would be dropped as out of earshot.
func (r *Router) SendChat(target rpc.PeerInfo, ev ChatEvent) error {
	if r.caps.IsUpgraded(target.ID) {
		switch ev.Channel.Kind {
		case proto.ChannelNamed:
			return r.sub.Send(target.ID, proto.KindChannelChat, proto.ChannelChat{
				Channel:    ev.Channel.Name,
				SenderName: ev.SenderName,
				Pos:        ev.Pos,
				Text:       ev.Text,
			}.Encode())
		default:
			return r.sub.Send(target.ID, proto.KindGlobalChat, proto.GlobalChat{
				SenderName: ev.SenderName,
				Pos:        ev.Pos,
				Text:       ev.Text,
			}.Encode())
		}
	}

	scope := "Global"
	if ev.Channel.Kind == proto.ChannelNamed {
		scope = ev.Channel.Name
	}
	say := proto.LegacySay{
		Pos:  target.Position,
		Tag:  ev.Channel.TalkerTag(),
		Name: ev.SenderName,
		Text: fmt.Sprintf("[%s] %s", scope, StripMarkup(ev.Text)),
	}
	return r.sub.Send(target.ID, proto.KindLegacySay, say.Encode())
}

// Feedback sends a one-line reply to a requester through the legacy display
// path, which both upgraded and non-upgraded clients render.
func (r *Router) Feedback(target rpc.PeerInfo, text string) {
	say := proto.LegacySay{
		Pos:  target.Position,
		Tag:  proto.Local().TalkerTag(),
		Name: FeedbackName,
		Text: text,
	}
	if err := r.sub.Send(target.ID, proto.KindLegacySay, say.Encode()); err != nil {
		log.Printf("[ROUTER] Feedback to %s failed: %v", target.ID, err)
	}
}

// FanOutGlobal re-broadcasts a global chat event to every other connected,
// ready peer. The sender's reported name and position are replaced with the
// directory's authoritative record when one exists. Each send is independent
// and at-most-once; partial delivery is acceptable and never retried.
func (r *Router) FanOutGlobal(from peer.ID, ev ChatEvent) {
	peers := r.dir.ConnectedPeers()
	for _, p := range peers {
		if p.ID == from {
			ev.SenderName = p.Name
			ev.Pos = p.Position
			break
		}
	}
	sent := 0
	for _, p := range peers {
		if p.ID == from || !p.Ready {
			continue
		}
		if err := r.SendChat(p, ev); err != nil {
			log.Printf("[ROUTER] Global fan-out to %s failed: %v", p.ID, err)
			continue
		}
		sent++
	}
	log.Printf("[ROUTER] Global message from %q fanned out to %d peers", ev.SenderName, sent)
}

// InspectLegacySay examines one legacy say broadcast before the substrate
// relays it. A registered global-chat command re-dispatches the text as a
// true global message; a registered server-side command executes. Both
// suppress the original broadcast. Anything going wrong here fails open:
// legacy chat must keep working even if inspection is buggy.
func (r *Router) InspectLegacySay(sender peer.ID, payload []byte) (v Verdict) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ROUTER] Panic inspecting legacy say from %s: %v", sender, p)
			v = Pass
		}
	}()

	say, err := proto.DecodeLegacySay(payload)
	if err != nil {
		log.Printf("[ROUTER] Dropping inspection of malformed say from %s: %v", sender, err)
		return Pass
	}
	text := strings.TrimSpace(say.Text)
	ctx := r.callerContext(sender, say)

	if cmd, args, ok := r.globalCmds.Parse(text); ok {
		cmd.Handler(args, ctx)
		return Suppress
	}
	if cmd, args, ok := r.serverCmds.Parse(text); ok {
		cmd.Handler(args, ctx)
		return Suppress
	}
	return Pass
}

// AcceptInbound is the client-side trust filter for extended messages:
// accept from anyone until the server has greeted us, then only from the
// server peer itself.
func (r *Router) AcceptInbound(sender peer.ID) bool {
	server := r.dir.ServerPeer()
	if !r.caps.IsUpgraded(server) {
		return true
	}
	return sender == server
}

func (r *Router) callerContext(sender peer.ID, say proto.LegacySay) command.Context {
	ctx := command.Context{Peer: sender, Name: say.Name, Pos: say.Pos}
	for _, p := range r.dir.ConnectedPeers() {
		if p.ID == sender {
			ctx.Identity = p.Identity
			ctx.Name = p.Name
			ctx.Pos = p.Position
			break
		}
	}
	return ctx
}

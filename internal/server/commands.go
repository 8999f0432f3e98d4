package server

import (
	"fmt"
	"log"
	"strings"

	"skald/internal/channel"
	"skald/internal/command"
	"skald/internal/proto"
	"skald/internal/router"
	"skald/internal/rpc"
)

// rebuildCommands replaces the server command set in one atomic swap per
// registry, so legacy-say inspection racing a rebuild never parses against a
// half-built set. Called when hosting starts and whenever the channel list
// (and thus the alias set) changes. A duplicate name rejects that one
// registration; the rest of the set still loads.
func (s *Server) rebuildCommands() {
	logged := func(add func([]string, command.Handler) error) func([]string, command.Handler) {
		return func(names []string, h command.Handler) {
			if err := add(names, h); err != nil {
				log.Printf("[SERVER] Command registration error: %v", err)
			}
		}
	}

	s.globalCmds.Rebuild(func(add func([]string, command.Handler) error) {
		logged(add)([]string{"g", "global"}, s.cmdGlobal)
	})

	s.serverCmds.Rebuild(func(add func([]string, command.Handler) error) {
		reg := logged(add)
		reg([]string{"addchannel"}, s.cmdAddChannel)
		reg([]string{"removechannel", "disband"}, s.cmdRemoveChannel)
		reg([]string{"invite"}, s.cmdInvite)
		reg([]string{"accept"}, s.cmdAccept)
		reg([]string{"decline"}, s.cmdDecline)
		reg([]string{"kick"}, s.cmdKick)
		reg([]string{"leavechannel"}, s.cmdLeave)
		reg([]string{"editchannel"}, s.cmdEdit)

		// Per-channel alias commands: "/<alias> text" talks in that channel.
		for _, c := range s.store.All() {
			if c.Alias == "" || c.System {
				continue
			}
			name := c.Name
			reg([]string{c.Alias}, func(args string, ctx command.Context) {
				s.cmdChannelTalk(name, args, ctx)
			})
		}
	})
}

func (s *Server) callerInfo(ctx command.Context) rpc.PeerInfo {
	if p, ok := s.dir.PeerByIdentity(ctx.Identity); ok {
		return p
	}
	return rpc.PeerInfo{ID: ctx.Peer, Identity: ctx.Identity, Name: ctx.Name, Position: ctx.Pos}
}

func (s *Server) cmdGlobal(args string, ctx command.Context) {
	if strings.TrimSpace(args) == "" {
		return
	}
	s.router.FanOutGlobal(ctx.Peer, router.ChatEvent{
		Channel:    proto.Local(),
		SenderName: ctx.Name,
		Pos:        ctx.Pos,
		Text:       args,
	})
}

func (s *Server) cmdChannelTalk(channelName, args string, ctx command.Context) {
	if strings.TrimSpace(args) == "" {
		return
	}
	from := s.callerInfo(ctx)
	ch, ok := s.store.Get(channelName)
	if !ok {
		s.router.Feedback(from, "No such channel: "+channelName)
		return
	}
	if !ch.IsMember(from.Identity) {
		s.router.Feedback(from, "You are not a member of "+ch.Name)
		return
	}
	s.fanOutChannel(ctx.Peer, ch, router.ChatEvent{
		Channel:    proto.Named(ch.Name),
		SenderName: from.Name,
		Pos:        from.Position,
		Text:       args,
	})
}

func (s *Server) cmdAddChannel(args string, ctx command.Context) {
	fields := strings.Fields(args)
	from := s.callerInfo(ctx)
	if len(fields) == 0 {
		s.router.Feedback(from, "Usage: addchannel <name> [public|private]")
		return
	}
	public := len(fields) > 1 && strings.EqualFold(fields[1], "public")
	s.createChannel(from, fields[0], public)
}

func (s *Server) createChannel(from rpc.PeerInfo, name string, public bool) {
	err := s.store.Create(name, from.Identity, public)
	s.finishMutation(from, err, fmt.Sprintf("Channel %s created", name))
	if err == nil {
		s.rebuildCommands()
	}
}

func (s *Server) cmdRemoveChannel(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	name := strings.TrimSpace(args)
	if name == "" {
		s.router.Feedback(from, "Usage: removechannel <name>")
		return
	}
	s.disbandChannel(from, name)
}

func (s *Server) disbandChannel(from rpc.PeerInfo, name string) {
	err := s.store.Disband(from.Identity, name)
	s.finishMutation(from, err, fmt.Sprintf("Channel %s disbanded", name))
	if err == nil {
		s.rebuildCommands()
	}
}

func (s *Server) cmdInvite(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	fields := strings.Fields(args)
	if len(fields) < 2 {
		s.router.Feedback(from, "Usage: invite <player> <channel>")
		return
	}
	s.inviteToChannel(from, fields[0], fields[1])
}

func (s *Server) inviteToChannel(from rpc.PeerInfo, targetName, channelName string) {
	target, ok := s.peerByName(targetName)
	if !ok {
		s.router.Feedback(from, errText(channel.ErrPlayerNotFound))
		return
	}
	err := s.store.Invite(from.Identity, target.Identity, channelName)
	s.finishMutation(from, err, fmt.Sprintf("Invited %s to %s", target.Name, channelName))
	if err == nil {
		s.router.Feedback(target, fmt.Sprintf(
			"%s invited you to %s. Type %saccept %s or %sdecline %s",
			from.Name, channelName,
			s.serverCmds.Prefix(), channelName,
			s.serverCmds.Prefix(), channelName))
	}
}

func (s *Server) cmdAccept(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	name := strings.TrimSpace(args)
	if name == "" {
		s.router.Feedback(from, "Usage: accept <channel>")
		return
	}
	err := s.store.AcceptInvite(from.Identity, name)
	s.finishMutation(from, err, "Joined "+name)
}

func (s *Server) cmdDecline(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	name := strings.TrimSpace(args)
	if name == "" {
		s.router.Feedback(from, "Usage: decline <channel>")
		return
	}
	err := s.store.DeclineInvite(from.Identity, name)
	s.finishMutation(from, err, "Declined invite to "+name)
}

func (s *Server) cmdKick(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	fields := strings.Fields(args)
	if len(fields) < 2 {
		s.router.Feedback(from, "Usage: kick <player> <channel>")
		return
	}
	s.kickFromChannel(from, fields[0], fields[1])
}

func (s *Server) kickFromChannel(from rpc.PeerInfo, targetName, channelName string) {
	target, ok := s.peerByName(targetName)
	if !ok {
		s.router.Feedback(from, errText(channel.ErrPlayerNotFound))
		return
	}
	err := s.store.Kick(from.Identity, target.Identity, channelName)
	s.finishMutation(from, err, fmt.Sprintf("Kicked %s from %s", target.Name, channelName))
	if err == nil {
		s.router.Feedback(target, fmt.Sprintf("You were removed from %s", channelName))
	}
}

func (s *Server) cmdLeave(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	name := strings.TrimSpace(args)
	if name == "" {
		s.router.Feedback(from, "Usage: leavechannel <channel>")
		return
	}
	err := s.store.Leave(from.Identity, name)
	s.finishMutation(from, err, "Left "+name)
}

func (s *Server) cmdEdit(args string, ctx command.Context) {
	from := s.callerInfo(ctx)
	fields := strings.Fields(args)
	if len(fields) < 2 {
		s.router.Feedback(from, "Usage: editchannel <channel> <public|private> [#color] [alias]")
		return
	}
	name := fields[0]
	public := strings.EqualFold(fields[1], "public")
	color := channel.DefaultColor
	alias := ""
	if cur, ok := s.store.Get(name); ok {
		color = cur.Color
		alias = cur.Alias
	}
	if len(fields) > 2 {
		c, err := channel.ParseHTMLColor(fields[2])
		if err != nil {
			s.router.Feedback(from, "Bad color, expected #RRGGBB")
			return
		}
		color = c
	}
	if len(fields) > 3 {
		alias = fields[3]
	}
	err := s.store.Edit(from.Identity, name, public, color, alias)
	s.finishMutation(from, err, "Channel "+name+" updated")
	if err == nil {
		s.rebuildCommands()
	}
}

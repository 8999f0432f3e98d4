package server

import (
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"skald/internal/channel"
	"skald/internal/persist"
	"skald/internal/proto"
	"skald/internal/router"
	"skald/internal/rpc"
	"skald/internal/wire"
)

type sentMsg struct {
	Target  peer.ID
	Kind    string
	Payload []byte
}

type fakeSub struct {
	handlers map[string]rpc.Handler
	sent     []sentMsg
}

func newFakeSub() *fakeSub {
	return &fakeSub{handlers: make(map[string]rpc.Handler)}
}

func (f *fakeSub) Register(kind string, h rpc.Handler) { f.handlers[kind] = h }

func (f *fakeSub) Send(target peer.ID, kind string, payload []byte) error {
	f.sent = append(f.sent, sentMsg{Target: target, Kind: kind, Payload: payload})
	return nil
}

// deliver simulates an inbound message hitting the registered handler.
func (f *fakeSub) deliver(kind string, sender peer.ID, payload []byte) {
	if h, ok := f.handlers[kind]; ok {
		h(sender, payload)
	}
}

func (f *fakeSub) sentTo(target peer.ID, kind string) []sentMsg {
	var out []sentMsg
	for _, m := range f.sent {
		if m.Target == target && m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSub) reset() { f.sent = nil }

type fakeDir struct {
	peers  []rpc.PeerInfo
	admins map[uint64]bool
	server peer.ID
}

func (f *fakeDir) ConnectedPeers() []rpc.PeerInfo { return f.peers }

func (f *fakeDir) PeerByIdentity(identity uint64) (rpc.PeerInfo, bool) {
	for _, p := range f.peers {
		if p.Identity == identity {
			return p, true
		}
	}
	return rpc.PeerInfo{}, false
}

func (f *fakeDir) IsAdmin(identity uint64) bool { return f.admins[identity] }
func (f *fakeDir) ServerPeer() peer.ID          { return f.server }

func testServer(t *testing.T, ps *persist.Store) (*Server, *fakeSub, *fakeDir) {
	t.Helper()
	sub := newFakeSub()
	dir := &fakeDir{
		server: "host",
		admins: map[uint64]bool{1: true},
		peers: []rpc.PeerInfo{
			{ID: "alice", Identity: 100, Name: "Alice", Position: wire.Vec3{X: 1}, Ready: true},
			{ID: "bob", Identity: 200, Name: "Bob", Position: wire.Vec3{X: 2}, Ready: true},
			{ID: "cara", Identity: 300, Name: "Cara", Position: wire.Vec3{X: 3}, Ready: true},
		},
	}
	srv := New(Config{World: "testworld"}, sub, dir, ps)
	return srv, sub, dir
}

func greet(sub *fakeSub, p peer.ID) {
	sub.deliver(proto.KindGreeting, p, proto.Greeting{PluginVersion: proto.PluginVersion}.Encode())
}

func TestGreetingHandshakeTriggersSync(t *testing.T) {
	srv, sub, _ := testServer(t, nil)

	srv.PeerConnected("alice")
	greetings := sub.sentTo("alice", proto.KindGreeting)
	require.Len(t, greetings, 1)
	// A second connect notification does not greet again.
	srv.PeerConnected("alice")
	require.Len(t, sub.sentTo("alice", proto.KindGreeting), 1)

	greet(sub, "alice")
	require.True(t, srv.Caps().IsUpgraded("alice"))

	syncs := sub.sentTo("alice", proto.KindChannelInfoSync)
	require.Len(t, syncs, 1)
	m, err := proto.DecodeChannelInfoSync(syncs[0].Payload)
	require.NoError(t, err)
	// The system global channel is visible out of the box.
	require.Len(t, m.Channels, 1)
	require.Equal(t, "Global", m.Channels[0].Name)
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	// None of these may panic or mutate state.
	sub.deliver(proto.KindGreeting, "alice", []byte{1})
	sub.deliver(proto.KindChannelCreate, "alice", []byte{})
	sub.deliver(proto.KindGlobalChat, "alice", []byte{0xFF})
	require.False(t, srv.Caps().IsUpgraded("alice"))
	require.Len(t, srv.Store().All(), 1) // just the system channel
}

func TestChannelCreateOverWire(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	greet(sub, "alice")
	sub.reset()

	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild", Public: false}.Encode())

	ch, ok := srv.Store().Get("guild")
	require.True(t, ok)
	require.Equal(t, uint64(100), ch.OwnerID)

	// Feedback goes back through the legacy display path.
	fb := sub.sentTo("alice", proto.KindLegacySay)
	require.NotEmpty(t, fb)
	say, err := proto.DecodeLegacySay(fb[0].Payload)
	require.NoError(t, err)
	require.Equal(t, router.FeedbackName, say.Name)

	// And the mutation pushed a fresh sync to the upgraded peer.
	require.NotEmpty(t, sub.sentTo("alice", proto.KindChannelInfoSync))

	// Duplicate create reports the collision.
	sub.reset()
	sub.deliver(proto.KindChannelCreate, "bob", proto.ChannelCreate{Name: "GUILD", Public: true}.Encode())
	_, ok = srv.Store().Get("guild")
	require.True(t, ok)
	fb = sub.sentTo("bob", proto.KindLegacySay)
	require.NotEmpty(t, fb)
	say, err = proto.DecodeLegacySay(fb[0].Payload)
	require.NoError(t, err)
	require.Contains(t, say.Text, "already exists")
}

// The legacy interception scenario: a peer that never greeted types the
// global chat command into normal local chat. The server re-dispatches it as
// a true global message, each receiver in its own dialect, and the original
// broadcast is suppressed.
func TestLegacyGlobalInterception(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	greet(sub, "alice") // Alice runs the extension
	sub.reset()

	say := proto.LegacySay{
		Pos:  wire.Vec3{X: 50}, // reported position, stale
		Tag:  proto.Local().TalkerTag(),
		Name: "bob-typed",
		Text: "/g hello everyone",
	}
	verdict := srv.Inspect("bob", say.Encode())
	require.Equal(t, router.Suppress, verdict)

	// Upgraded Alice got a real global message with authoritative sender info.
	ext := sub.sentTo("alice", proto.KindGlobalChat)
	require.Len(t, ext, 1)
	m, err := proto.DecodeGlobalChat(ext[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "Bob", m.SenderName)
	require.Equal(t, wire.Vec3{X: 2}, m.Pos)
	require.Equal(t, "hello everyone", m.Text)

	// Legacy Cara got the degraded form at her own position.
	leg := sub.sentTo("cara", proto.KindLegacySay)
	require.Len(t, leg, 1)
	degraded, err := proto.DecodeLegacySay(leg[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "[Global] hello everyone", degraded.Text)
	require.Equal(t, wire.Vec3{X: 3}, degraded.Pos)

	// Bob, the sender, got nothing extra.
	require.Empty(t, sub.sentTo("bob", proto.KindGlobalChat))

	// Plain chatter passes through untouched.
	plain := proto.LegacySay{Tag: proto.Local().TalkerTag(), Name: "bob", Text: "nice weather"}
	require.Equal(t, router.Pass, srv.Inspect("bob", plain.Encode()))
}

func TestInviteAcceptOverLegacyCommands(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	greet(sub, "alice")
	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild", Public: false}.Encode())
	sub.reset()

	say := func(from peer.ID, text string) router.Verdict {
		return srv.Inspect(from, proto.LegacySay{Tag: proto.Local().TalkerTag(), Text: text}.Encode())
	}

	require.Equal(t, router.Suppress, say("alice", "/invite Bob guild"))
	// The invitee is told how to respond.
	notices := sub.sentTo("bob", proto.KindLegacySay)
	require.NotEmpty(t, notices)

	require.Equal(t, router.Suppress, say("bob", "/accept guild"))
	ch, _ := srv.Store().Get("guild")
	require.True(t, ch.IsMember(200))

	// Channel chat now reaches Bob but not Cara.
	sub.reset()
	sub.deliver(proto.KindChannelChat, "alice", proto.ChannelChat{
		Channel: "guild", SenderName: "Alice", Text: "welcome",
	}.Encode())
	require.NotEmpty(t, sub.sentTo("bob", proto.KindLegacySay)) // Bob is legacy
	require.Empty(t, sub.sentTo("cara", proto.KindLegacySay))
	require.Empty(t, sub.sentTo("cara", proto.KindChannelChat))
}

func TestNonMemberChannelChatRejected(t *testing.T) {
	_, sub, _ := testServer(t, nil)
	greet(sub, "alice")
	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild", Public: false}.Encode())
	sub.reset()

	sub.deliver(proto.KindChannelChat, "cara", proto.ChannelChat{Channel: "guild", Text: "let me in"}.Encode())
	fb := sub.sentTo("cara", proto.KindLegacySay)
	require.NotEmpty(t, fb)
	say, err := proto.DecodeLegacySay(fb[0].Payload)
	require.NoError(t, err)
	require.Contains(t, say.Text, "not a member")
	require.Empty(t, sub.sentTo("alice", proto.KindChannelChat))
}

func TestAdminCommandPermissions(t *testing.T) {
	srv, sub, dir := testServer(t, nil)
	dir.peers = append(dir.peers, rpc.PeerInfo{ID: "root", Identity: 1, Name: "Root", Ready: true})
	greet(sub, "alice")
	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild"}.Encode())

	// A non-owner cannot disband; the admin can.
	say := func(from peer.ID, text string) {
		srv.Inspect(from, proto.LegacySay{Tag: proto.Local().TalkerTag(), Text: text}.Encode())
	}
	say("bob", "/removechannel guild")
	_, ok := srv.Store().Get("guild")
	require.True(t, ok)

	say("root", "/removechannel guild")
	_, ok = srv.Store().Get("guild")
	require.False(t, ok)
}

func TestChannelAliasCommand(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	greet(sub, "alice")
	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild"}.Encode())
	srv.Inspect("alice", proto.LegacySay{
		Tag: proto.Local().TalkerTag(), Text: "/editchannel guild private #FF8800 gu",
	}.Encode())
	srv.Inspect("alice", proto.LegacySay{
		Tag: proto.Local().TalkerTag(), Text: "/invite Bob guild",
	}.Encode())
	srv.Inspect("bob", proto.LegacySay{
		Tag: proto.Local().TalkerTag(), Text: "/accept guild",
	}.Encode())
	sub.reset()

	// "/gu" now talks into the channel.
	verdict := srv.Inspect("bob", proto.LegacySay{
		Tag: proto.Local().TalkerTag(), Text: "/gu hello guildmates",
	}.Encode())
	require.Equal(t, router.Suppress, verdict)

	ext := sub.sentTo("alice", proto.KindChannelChat)
	require.Len(t, ext, 1)
	m, err := proto.DecodeChannelChat(ext[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "guild", m.Channel)
	require.Equal(t, "hello guildmates", m.Text)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skald.db")
	ps, err := persist.Open(path)
	require.NoError(t, err)
	defer ps.Close()

	srv, sub, _ := testServer(t, ps)
	greet(sub, "alice")
	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "guild", Public: false}.Encode())
	srv.Inspect("alice", proto.LegacySay{Tag: proto.Local().TalkerTag(), Text: "/invite Bob guild"}.Encode())
	srv.Inspect("bob", proto.LegacySay{Tag: proto.Local().TalkerTag(), Text: "/accept guild"}.Encode())
	require.NoError(t, srv.Save())

	// A new server over the same store sees the channel, minus the system one.
	srv2, _, _ := testServer(t, ps)
	ch, ok := srv2.Store().Get("guild")
	require.True(t, ok)
	require.Equal(t, uint64(100), ch.OwnerID)
	require.True(t, ch.IsMember(200))
	require.False(t, ch.System)

	// The system channel was recreated, not restored.
	all := srv2.Store().All()
	require.Len(t, all, 2)
}

func TestStopIsIdempotentAndResets(t *testing.T) {
	srv, sub, _ := testServer(t, nil)
	greet(sub, "alice")
	require.True(t, srv.Caps().IsUpgraded("alice"))

	srv.Start()
	srv.Stop()
	srv.Stop()
	require.False(t, srv.Caps().IsUpgraded("alice"))
}

func TestCreatePolicyAdminsOnlyOverWire(t *testing.T) {
	sub := newFakeSub()
	dir := &fakeDir{
		server: "host",
		admins: map[uint64]bool{1: true},
		peers: []rpc.PeerInfo{
			{ID: "alice", Identity: 100, Name: "Alice", Ready: true},
			{ID: "root", Identity: 1, Name: "Root", Ready: true},
		},
	}
	srv := New(Config{World: "w", CreatePolicy: channel.CreateAdminsOnly}, sub, dir, nil)

	sub.deliver(proto.KindChannelCreate, "alice", proto.ChannelCreate{Name: "nope"}.Encode())
	_, ok := srv.Store().Get("nope")
	require.False(t, ok)

	sub.deliver(proto.KindChannelCreate, "root", proto.ChannelCreate{Name: "ops"}.Encode())
	_, ok = srv.Store().Get("ops")
	require.True(t, ok)
}

package router

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"skald/internal/caps"
	"skald/internal/command"
	"skald/internal/proto"
	"skald/internal/rpc"
	"skald/internal/wire"
)

type sentMsg struct {
	Target  peer.ID
	Kind    string
	Payload []byte
}

type fakeSub struct {
	sent []sentMsg
	fail map[peer.ID]bool
}

func (f *fakeSub) Register(string, rpc.Handler) {}

func (f *fakeSub) Send(target peer.ID, kind string, payload []byte) error {
	if f.fail[target] {
		return rpc.ErrTransportUnavailable
	}
	f.sent = append(f.sent, sentMsg{Target: target, Kind: kind, Payload: payload})
	return nil
}

func (f *fakeSub) sentTo(target peer.ID) []sentMsg {
	var out []sentMsg
	for _, m := range f.sent {
		if m.Target == target {
			out = append(out, m)
		}
	}
	return out
}

type fakeDir struct {
	peers  []rpc.PeerInfo
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

func (f *fakeDir) IsAdmin(uint64) bool { return false }
func (f *fakeDir) ServerPeer() peer.ID { return f.server }

func testSetup() (*Router, *fakeSub, *fakeDir, *caps.Registry, *command.Registry, *command.Registry) {
	sub := &fakeSub{fail: map[peer.ID]bool{}}
	dir := &fakeDir{
		server: "server",
		peers: []rpc.PeerInfo{
			{ID: "upgraded", Identity: 100, Name: "Astrid", Position: wire.Vec3{X: 10}, Ready: true},
			{ID: "legacy", Identity: 200, Name: "Bjorn", Position: wire.Vec3{X: 20}, Ready: true},
			{ID: "joining", Identity: 300, Name: "Calder", Position: wire.Vec3{X: 30}, Ready: false},
		},
	}
	capsReg := caps.NewRegistry()
	capsReg.RecordGreetingReceived("upgraded", "1.2.0")
	global := command.NewRegistry("/")
	serverCmds := command.NewRegistry("/")
	r := New(capsReg, sub, dir, global, serverCmds)
	return r, sub, dir, capsReg, global, serverCmds
}

func TestStripMarkup(t *testing.T) {
	in := `<b>bold</b> and <color=#FF8800>orange</color> and <i>slanted</i>`
	require.Equal(t, "bold and orange and slanted", StripMarkup(in))
	require.Equal(t, "2 < 3 > 1", StripMarkup("2 < 3 > 1"))
}

func TestSendChatExtendedTarget(t *testing.T) {
	r, sub, dir, _, _, _ := testSetup()
	target, _ := dir.PeerByIdentity(100)

	ev := ChatEvent{Channel: proto.Named("guild"), SenderName: "Bjorn", Pos: wire.Vec3{X: 20}, Text: "<b>hi</b>"}
	require.NoError(t, r.SendChat(target, ev))

	msgs := sub.sentTo("upgraded")
	require.Len(t, msgs, 1)
	require.Equal(t, proto.KindChannelChat, msgs[0].Kind)
	m, err := proto.DecodeChannelChat(msgs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "guild", m.Channel)
	// Rich markup travels intact to upgraded clients.
	require.Equal(t, "<b>hi</b>", m.Text)
}

func TestSendChatDegradesForLegacyTarget(t *testing.T) {
	r, sub, dir, _, _, _ := testSetup()
	target, _ := dir.PeerByIdentity(200)

	ev := ChatEvent{Channel: proto.Named("guild"), SenderName: "Astrid", Pos: wire.Vec3{X: 10}, Text: "<b>hi</b>"}
	require.NoError(t, r.SendChat(target, ev))

	msgs := sub.sentTo("legacy")
	require.Len(t, msgs, 1)
	require.Equal(t, proto.KindLegacySay, msgs[0].Kind)
	say, err := proto.DecodeLegacySay(msgs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "[guild] hi", say.Text)
	require.Equal(t, "Astrid", say.Name)
	// Positioned at the target, not the sender: legacy local chat is
	// range-limited and must land within the receiver's earshot.
	require.Equal(t, wire.Vec3{X: 20}, say.Pos)
}

func TestSendChatGlobalToUpgraded(t *testing.T) {
	r, sub, dir, _, _, _ := testSetup()
	target, _ := dir.PeerByIdentity(100)

	require.NoError(t, r.SendChat(target, ChatEvent{Channel: proto.Local(), SenderName: "B", Text: "x"}))
	msgs := sub.sentTo("upgraded")
	require.Len(t, msgs, 1)
	require.Equal(t, proto.KindGlobalChat, msgs[0].Kind)
}

func TestFanOutGlobal(t *testing.T) {
	r, sub, _, _, _, _ := testSetup()

	ev := ChatEvent{Channel: proto.Local(), SenderName: "reported", Pos: wire.Vec3{}, Text: "hello all"}
	r.FanOutGlobal("legacy", ev)

	// Sender excluded, not-ready peer excluded.
	require.Empty(t, sub.sentTo("legacy"))
	require.Empty(t, sub.sentTo("joining"))

	msgs := sub.sentTo("upgraded")
	require.Len(t, msgs, 1)
	m, err := proto.DecodeGlobalChat(msgs[0].Payload)
	require.NoError(t, err)
	// Authoritative name and position replace the reported ones.
	require.Equal(t, "Bjorn", m.SenderName)
	require.Equal(t, wire.Vec3{X: 20}, m.Pos)
}

func TestFanOutPartialDeliveryIsAcceptable(t *testing.T) {
	r, sub, _, capsReg, _, _ := testSetup()
	capsReg.RecordGreetingReceived("legacy", "1.2.0")
	sub.fail["upgraded"] = true

	r.FanOutGlobal("server", ChatEvent{Channel: proto.Local(), SenderName: "S", Text: "x"})

	// The failing peer is skipped, the rest still got theirs, no retries.
	require.Empty(t, sub.sentTo("upgraded"))
	require.Len(t, sub.sentTo("legacy"), 1)
}

func TestInspectLegacySayGlobalCommand(t *testing.T) {
	r, _, _, _, global, _ := testSetup()
	var gotArgs string
	var gotCtx command.Context
	require.NoError(t, global.Register([]string{"g"}, func(args string, ctx command.Context) {
		gotArgs = args
		gotCtx = ctx
	}))

	say := proto.LegacySay{Pos: wire.Vec3{X: 99}, Tag: proto.Local().TalkerTag(), Name: "typed", Text: "/g hello world"}
	require.Equal(t, Suppress, r.InspectLegacySay("legacy", say.Encode()))
	require.Equal(t, "hello world", gotArgs)
	// Caller context resolved from the directory, not the reported fields.
	require.Equal(t, uint64(200), gotCtx.Identity)
	require.Equal(t, "Bjorn", gotCtx.Name)
	require.Equal(t, wire.Vec3{X: 20}, gotCtx.Pos)
}

func TestInspectLegacySayServerCommand(t *testing.T) {
	r, _, _, _, _, serverCmds := testSetup()
	ran := false
	require.NoError(t, serverCmds.Register([]string{"accept"}, func(string, command.Context) { ran = true }))

	say := proto.LegacySay{Tag: proto.Local().TalkerTag(), Name: "Bjorn", Text: "/accept guild"}
	require.Equal(t, Suppress, r.InspectLegacySay("legacy", say.Encode()))
	require.True(t, ran)
}

func TestInspectLegacySayPassThrough(t *testing.T) {
	r, _, _, _, global, _ := testSetup()
	require.NoError(t, global.Register([]string{"g"}, func(string, command.Context) {
		t.Fatal("must not run")
	}))

	say := proto.LegacySay{Tag: proto.Local().TalkerTag(), Name: "Bjorn", Text: "just chatting"}
	require.Equal(t, Pass, r.InspectLegacySay("legacy", say.Encode()))
}

func TestInspectFailsOpen(t *testing.T) {
	r, _, _, _, global, _ := testSetup()

	// Malformed payload: inspection declines to touch it.
	require.Equal(t, Pass, r.InspectLegacySay("legacy", []byte{1, 2, 3}))

	// A panicking handler must not suppress the original broadcast.
	require.NoError(t, global.Register([]string{"g"}, func(string, command.Context) {
		panic("inspection bug")
	}))
	say := proto.LegacySay{Tag: proto.Local().TalkerTag(), Name: "Bjorn", Text: "/g boom"}
	require.Equal(t, Pass, r.InspectLegacySay("legacy", say.Encode()))
}

func TestAcceptInbound(t *testing.T) {
	r, _, _, capsReg, _, _ := testSetup()

	// No greeting from our server yet: trust anyone.
	require.True(t, r.AcceptInbound("random"))
	require.True(t, r.AcceptInbound("server"))

	// Once the server has greeted us, only the server is trusted.
	capsReg.RecordGreetingReceived("server", "1.2.0")
	require.True(t, r.AcceptInbound("server"))
	require.False(t, r.AcceptInbound("random"))
}

func TestFeedbackUsesLegacyPath(t *testing.T) {
	r, sub, dir, _, _, _ := testSetup()
	target, _ := dir.PeerByIdentity(100)

	r.Feedback(target, "Channel guild created")
	msgs := sub.sentTo("upgraded")
	require.Len(t, msgs, 1)
	// Even upgraded requesters get feedback via the legacy display path.
	require.Equal(t, proto.KindLegacySay, msgs[0].Kind)
	say, err := proto.DecodeLegacySay(msgs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, FeedbackName, say.Name)
}

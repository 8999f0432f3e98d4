// Package proto defines the named message kinds the chat layer registers with
// the routing substrate, the payload of each kind, and the legacy broadcast
// format it intercepts. Every extended payload starts with an int32 protocol
// version so future revisions can append fields.
package proto

// PluginVersion is the version string exchanged in greetings.
const PluginVersion = "1.2.0"

// Registration keys on the substrate. These are interop-stable: both ends
// must use the exact same string per kind.
const (
	KindGreeting        = "Skald.Greeting"
	KindGlobalChat      = "Skald.GlobalChat"
	KindChannelChat     = "Skald.ChannelChat"
	KindChannelCreate   = "Skald.ChannelCreate"
	KindChannelInvite   = "Skald.ChannelInvite"
	KindChannelEdit     = "Skald.ChannelEdit"
	KindChannelDisband  = "Skald.ChannelDisband"
	KindChannelLeave    = "Skald.ChannelLeave"
	KindChannelKick     = "Skald.ChannelKick"
	KindChannelInfoSync = "Skald.ChannelInfoSync"

	// KindLegacySay is the substrate's built-in chat broadcast. It predates
	// the extension and carries no version field.
	KindLegacySay = "ChatMessage"

	// KindNop is the no-op kind a suppressed legacy broadcast is rewritten
	// to, so the substrate's default relay handling skips it.
	KindNop = "Skald.Nop"
)

// Payload versions, one per extended kind. All currently 1; decoders accept
// any version >= the one they know and ignore trailing additive fields.
const (
	GreetingVersion        int32 = 1
	GlobalChatVersion      int32 = 1
	ChannelChatVersion     int32 = 1
	ChannelCreateVersion   int32 = 1
	ChannelInviteVersion   int32 = 1
	ChannelEditVersion     int32 = 1
	ChannelDisbandVersion  int32 = 1
	ChannelLeaveVersion    int32 = 1
	ChannelKickVersion     int32 = 1
	ChannelInfoSyncVersion int32 = 1
)

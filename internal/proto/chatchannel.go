package proto

import "fmt"

// ChannelKind discriminates the ChatChannel variant.
type ChannelKind int

const (
	ChannelLocal ChannelKind = iota
	ChannelShout
	ChannelWhisper
	ChannelPing
	ChannelNamed  // a named chat channel, carries Name
	ChannelCustom // an unrecognized legacy tag, carries Tag
)

// ChatChannel is the destination scope of a chat event: one of the
// substrate's built-in broadcast types, a named channel, or an unknown
// custom tag carried through untouched.
type ChatChannel struct {
	Kind ChannelKind
	Name string // set when Kind == ChannelNamed
	Tag  int32  // set when Kind == ChannelCustom
}

func Local() ChatChannel   { return ChatChannel{Kind: ChannelLocal} }
func Shout() ChatChannel   { return ChatChannel{Kind: ChannelShout} }
func Whisper() ChatChannel { return ChatChannel{Kind: ChannelWhisper} }
func Ping() ChatChannel    { return ChatChannel{Kind: ChannelPing} }

func Named(name string) ChatChannel {
	return ChatChannel{Kind: ChannelNamed, Name: name}
}

// Legacy talker tags used by the built-in say broadcast.
const (
	talkerWhisper int32 = 0
	talkerLocal   int32 = 1
	talkerShout   int32 = 2
	talkerPing    int32 = 3
)

// TalkerTag maps the channel to the tag the legacy say format uses. Named
// channels degrade to local chat; the caller is responsible for prefixing
// the channel name into the text.
func (c ChatChannel) TalkerTag() int32 {
	switch c.Kind {
	case ChannelLocal, ChannelNamed:
		return talkerLocal
	case ChannelShout:
		return talkerShout
	case ChannelWhisper:
		return talkerWhisper
	case ChannelPing:
		return talkerPing
	case ChannelCustom:
		return c.Tag
	default:
		panic(fmt.Sprintf("proto: unknown channel kind %d", c.Kind))
	}
}

// ChannelFromTalkerTag classifies a legacy tag. Unknown tags come back as
// ChannelCustom so they survive a round trip unmodified.
func ChannelFromTalkerTag(tag int32) ChatChannel {
	switch tag {
	case talkerWhisper:
		return Whisper()
	case talkerLocal:
		return Local()
	case talkerShout:
		return Shout()
	case talkerPing:
		return Ping()
	default:
		return ChatChannel{Kind: ChannelCustom, Tag: tag}
	}
}

func (c ChatChannel) String() string {
	switch c.Kind {
	case ChannelLocal:
		return "local"
	case ChannelShout:
		return "shout"
	case ChannelWhisper:
		return "whisper"
	case ChannelPing:
		return "ping"
	case ChannelNamed:
		return c.Name
	case ChannelCustom:
		return fmt.Sprintf("custom(%d)", c.Tag)
	default:
		return "unknown"
	}
}

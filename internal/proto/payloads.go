package proto

import (
	"errors"

	"skald/internal/wire"
)

var ErrVersion = errors.New("proto: unsupported payload version")

func readVersion(r *wire.Reader, min int32) error {
	v, err := r.Int32()
	if err != nil {
		return err
	}
	if v < min {
		return &wire.DecodeError{Field: "version", Err: ErrVersion}
	}
	return nil
}

// Greeting announces that the sender speaks the extended protocol.
type Greeting struct {
	PluginVersion string
}

func (g Greeting) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(GreetingVersion)
	w.WriteString(g.PluginVersion)
	return w.Bytes()
}

func DecodeGreeting(b []byte) (Greeting, error) {
	var g Greeting
	r := wire.NewReader(b)
	if err := readVersion(r, GreetingVersion); err != nil {
		return g, err
	}
	var err error
	g.PluginVersion, err = r.String()
	return g, err
}

// GlobalChat is a server-wide chat line in the extended protocol.
type GlobalChat struct {
	SenderName string
	Pos        wire.Vec3
	Text       string
}

func (m GlobalChat) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(GlobalChatVersion)
	w.WriteString(m.SenderName)
	w.WriteVec3(m.Pos)
	w.WriteString(m.Text)
	return w.Bytes()
}

func DecodeGlobalChat(b []byte) (GlobalChat, error) {
	var m GlobalChat
	r := wire.NewReader(b)
	if err := readVersion(r, GlobalChatVersion); err != nil {
		return m, err
	}
	var err error
	if m.SenderName, err = r.String(); err != nil {
		return m, err
	}
	if m.Pos, err = r.Vec3(); err != nil {
		return m, err
	}
	m.Text, err = r.String()
	return m, err
}

// ChannelChat is a chat line scoped to a named channel.
type ChannelChat struct {
	Channel    string
	SenderName string
	Pos        wire.Vec3
	Text       string
}

func (m ChannelChat) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelChatVersion)
	w.WriteString(m.Channel)
	w.WriteString(m.SenderName)
	w.WriteVec3(m.Pos)
	w.WriteString(m.Text)
	return w.Bytes()
}

func DecodeChannelChat(b []byte) (ChannelChat, error) {
	var m ChannelChat
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelChatVersion); err != nil {
		return m, err
	}
	var err error
	if m.Channel, err = r.String(); err != nil {
		return m, err
	}
	if m.SenderName, err = r.String(); err != nil {
		return m, err
	}
	if m.Pos, err = r.Vec3(); err != nil {
		return m, err
	}
	m.Text, err = r.String()
	return m, err
}

// ChannelCreate asks the server to create a channel owned by the sender.
type ChannelCreate struct {
	Name   string
	Public bool
}

func (m ChannelCreate) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelCreateVersion)
	w.WriteString(m.Name)
	w.WriteBool(m.Public)
	return w.Bytes()
}

func DecodeChannelCreate(b []byte) (ChannelCreate, error) {
	var m ChannelCreate
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelCreateVersion); err != nil {
		return m, err
	}
	var err error
	if m.Name, err = r.String(); err != nil {
		return m, err
	}
	m.Public, err = r.Bool()
	return m, err
}

// ChannelInvite invites a connected player, by display name, into a channel.
// The server resolves the name to a stable identity.
type ChannelInvite struct {
	Channel    string
	TargetName string
}

func (m ChannelInvite) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelInviteVersion)
	w.WriteString(m.Channel)
	w.WriteString(m.TargetName)
	return w.Bytes()
}

func DecodeChannelInvite(b []byte) (ChannelInvite, error) {
	var m ChannelInvite
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelInviteVersion); err != nil {
		return m, err
	}
	var err error
	if m.Channel, err = r.String(); err != nil {
		return m, err
	}
	m.TargetName, err = r.String()
	return m, err
}

// ChannelEdit adjusts channel settings (owner or admin only).
type ChannelEdit struct {
	Channel   string
	Public    bool
	ColorHTML string
	Alias     string
}

func (m ChannelEdit) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelEditVersion)
	w.WriteString(m.Channel)
	w.WriteBool(m.Public)
	w.WriteString(m.ColorHTML)
	w.WriteString(m.Alias)
	return w.Bytes()
}

func DecodeChannelEdit(b []byte) (ChannelEdit, error) {
	var m ChannelEdit
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelEditVersion); err != nil {
		return m, err
	}
	var err error
	if m.Channel, err = r.String(); err != nil {
		return m, err
	}
	if m.Public, err = r.Bool(); err != nil {
		return m, err
	}
	if m.ColorHTML, err = r.String(); err != nil {
		return m, err
	}
	m.Alias, err = r.String()
	return m, err
}

// ChannelDisband, ChannelLeave and invite replies carry just a channel name.
type ChannelName struct {
	Name string
}

func encodeName(version int32, name string) []byte {
	w := wire.NewWriter()
	w.WriteInt32(version)
	w.WriteString(name)
	return w.Bytes()
}

func decodeName(b []byte, version int32) (ChannelName, error) {
	var m ChannelName
	r := wire.NewReader(b)
	if err := readVersion(r, version); err != nil {
		return m, err
	}
	var err error
	m.Name, err = r.String()
	return m, err
}

func EncodeChannelDisband(name string) []byte { return encodeName(ChannelDisbandVersion, name) }
func EncodeChannelLeave(name string) []byte   { return encodeName(ChannelLeaveVersion, name) }

func DecodeChannelDisband(b []byte) (ChannelName, error) {
	return decodeName(b, ChannelDisbandVersion)
}

func DecodeChannelLeave(b []byte) (ChannelName, error) {
	return decodeName(b, ChannelLeaveVersion)
}

// ChannelKick removes a player, by display name, from a channel.
type ChannelKick struct {
	Channel    string
	TargetName string
}

func (m ChannelKick) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelKickVersion)
	w.WriteString(m.Channel)
	w.WriteString(m.TargetName)
	return w.Bytes()
}

func DecodeChannelKick(b []byte) (ChannelKick, error) {
	var m ChannelKick
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelKickVersion); err != nil {
		return m, err
	}
	var err error
	if m.Channel, err = r.String(); err != nil {
		return m, err
	}
	m.TargetName, err = r.String()
	return m, err
}

// ChannelView is the read-only projection of a channel pushed to clients.
type ChannelView struct {
	Name      string
	Owner     uint64
	Public    bool
	ColorHTML string
	Alias     string
	Invitees  []uint64
}

// ChannelInfoSync replaces the client's whole view of its visible channels.
// Each channel rides in its own sub-block so future fields stay skippable.
type ChannelInfoSync struct {
	Channels []ChannelView
}

func (m ChannelInfoSync) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt32(ChannelInfoSyncVersion)
	w.WriteInt32(int32(len(m.Channels)))
	for _, ch := range m.Channels {
		cw := wire.NewWriter()
		cw.WriteString(ch.Name)
		cw.WriteUint64(ch.Owner)
		cw.WriteBool(ch.Public)
		cw.WriteString(ch.ColorHTML)
		cw.WriteString(ch.Alias)
		cw.WriteInt32(int32(len(ch.Invitees)))
		for _, id := range ch.Invitees {
			cw.WriteUint64(id)
		}
		w.WriteBlock(cw.Bytes())
	}
	return w.Bytes()
}

func DecodeChannelInfoSync(b []byte) (ChannelInfoSync, error) {
	var m ChannelInfoSync
	r := wire.NewReader(b)
	if err := readVersion(r, ChannelInfoSyncVersion); err != nil {
		return m, err
	}
	count, err := r.Int32()
	if err != nil {
		return m, err
	}
	for i := int32(0); i < count; i++ {
		cr, err := r.Block()
		if err != nil {
			return m, err
		}
		var ch ChannelView
		if ch.Name, err = cr.String(); err != nil {
			return m, err
		}
		if ch.Owner, err = cr.Uint64(); err != nil {
			return m, err
		}
		if ch.Public, err = cr.Bool(); err != nil {
			return m, err
		}
		if ch.ColorHTML, err = cr.String(); err != nil {
			return m, err
		}
		if ch.Alias, err = cr.String(); err != nil {
			return m, err
		}
		n, err := cr.Int32()
		if err != nil {
			return m, err
		}
		for j := int32(0); j < n; j++ {
			id, err := cr.Uint64()
			if err != nil {
				return m, err
			}
			ch.Invitees = append(ch.Invitees, id)
		}
		m.Channels = append(m.Channels, ch)
	}
	return m, nil
}

// LegacySay is the substrate's built-in chat broadcast. No version field.
type LegacySay struct {
	Pos  wire.Vec3
	Tag  int32
	Name string
	Text string
}

func (m LegacySay) Encode() []byte {
	w := wire.NewWriter()
	w.WriteVec3(m.Pos)
	w.WriteInt32(m.Tag)
	w.WriteString(m.Name)
	w.WriteString(m.Text)
	return w.Bytes()
}

func DecodeLegacySay(b []byte) (LegacySay, error) {
	var m LegacySay
	r := wire.NewReader(b)
	var err error
	if m.Pos, err = r.Vec3(); err != nil {
		return m, err
	}
	if m.Tag, err = r.Int32(); err != nil {
		return m, err
	}
	if m.Name, err = r.String(); err != nil {
		return m, err
	}
	m.Text, err = r.String()
	return m, err
}

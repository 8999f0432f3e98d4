// Package persist serializes the channel store to a durable byte blob keyed
// by world, and stores the blobs in a bbolt database. The blob layout is an
// interop contract: a root length-prefixed block wrapping one "server data"
// block of [version][channelCount][channel record]*.
package persist

import (
	"errors"
	"fmt"

	"skald/internal/channel"
	"skald/internal/wire"
)

// BlobVersion is the only server-data version this build reads or writes.
// Anything else is a hard decode failure, never silently ignored.
const BlobVersion int32 = 1

var ErrUnsupportedVersion = errors.New("persist: unsupported server data version")

// Encode writes the non-system channels. The command alias is deliberately
// absent from the record: it is session configuration, not world state.
func Encode(channels []channel.Channel) []byte {
	inner := wire.NewWriter()
	inner.WriteInt32(BlobVersion)

	persisted := make([]channel.Channel, 0, len(channels))
	for _, c := range channels {
		if !c.System {
			persisted = append(persisted, c)
		}
	}
	inner.WriteInt32(int32(len(persisted)))
	for _, c := range persisted {
		inner.WriteString(c.Name)
		inner.WriteUint64(c.OwnerID)
		inner.WriteBool(c.Public)
		inner.WriteString(c.Color.HTML())
		iw := wire.NewWriter()
		ids := c.InviteeList()
		iw.WriteInt32(int32(len(ids)))
		for _, id := range ids {
			iw.WriteUint64(id)
		}
		inner.WriteBlock(iw.Bytes())
	}

	root := wire.NewWriter()
	root.WriteBlock(inner.Bytes())
	return root.Bytes()
}

// Decode reconstructs the channel list. Every restored channel is tagged
// non-system. Callers treat any error as "no stored channels" and log it;
// a decode failure is never fatal to startup.
func Decode(b []byte) ([]channel.Channel, error) {
	root := wire.NewReader(b)
	r, err := root.Block()
	if err != nil {
		return nil, err
	}
	version, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if version != BlobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("persist: negative channel count %d", count)
	}
	out := make([]channel.Channel, 0, count)
	for i := int32(0); i < count; i++ {
		var c channel.Channel
		if c.Name, err = r.String(); err != nil {
			return nil, err
		}
		if c.OwnerID, err = r.Uint64(); err != nil {
			return nil, err
		}
		if c.Public, err = r.Bool(); err != nil {
			return nil, err
		}
		colorHTML, err := r.String()
		if err != nil {
			return nil, err
		}
		if c.Color, err = channel.ParseHTMLColor(colorHTML); err != nil {
			c.Color = channel.DefaultColor
		}
		ir, err := r.Block()
		if err != nil {
			return nil, err
		}
		n, err := ir.Int32()
		if err != nil {
			return nil, err
		}
		c.Invitees = make(map[uint64]struct{}, n)
		for j := int32(0); j < n; j++ {
			id, err := ir.Uint64()
			if err != nil {
				return nil, err
			}
			c.Invitees[id] = struct{}{}
		}
		out = append(out, c)
	}
	return out, nil
}

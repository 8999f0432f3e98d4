// Package channel holds the server-authoritative channel collection: names,
// owners, visibility, invitee sets and pending invites. The server is the
// sole writer; clients only ever see read-only projections pushed via sync
// messages.
package channel

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// Channel is one named chat scope. Name uniqueness is case-insensitive
// across the whole store. The invitee set never contains the owner.
type Channel struct {
	Name     string
	OwnerID  uint64
	Public   bool
	Invitees map[uint64]struct{}
	Color    RGBA
	Alias    string
	System   bool // created by the plugin itself, excluded from persistence
}

func (c *Channel) clone() Channel {
	out := *c
	out.Invitees = make(map[uint64]struct{}, len(c.Invitees))
	for id := range c.Invitees {
		out.Invitees[id] = struct{}{}
	}
	return out
}

// InviteeList returns the invitees in stable (ascending) order.
func (c *Channel) InviteeList() []uint64 {
	ids := make([]uint64, 0, len(c.Invitees))
	for id := range c.Invitees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsMember reports whether the identity may read and write the channel.
func (c *Channel) IsMember(identity uint64) bool {
	if c.Public || c.OwnerID == identity {
		return true
	}
	_, ok := c.Invitees[identity]
	return ok
}

// Invite is a pending membership offer. At most one exists per
// (invitee, channel) pair; re-inviting replaces it.
type Invite struct {
	InviterID uint64
	InviteeID uint64
	Channel   string
}

type inviteKey struct {
	invitee uint64
	channel string // lowercased
}

// CreatePolicy controls who may create channels.
type CreatePolicy int

const (
	CreateAnyone CreatePolicy = iota
	CreateAdminsOnly
)

// Store is the authoritative channel collection. All mutations run under one
// mutex; reads hand out snapshot copies.
type Store struct {
	mu       sync.RWMutex
	policy   CreatePolicy
	isAdmin  func(identity uint64) bool
	channels map[string]*Channel // key: lowercased name
	invites  map[inviteKey]Invite
}

func NewStore(policy CreatePolicy, isAdmin func(uint64) bool) *Store {
	if isAdmin == nil {
		isAdmin = func(uint64) bool { return false }
	}
	return &Store{
		policy:   policy,
		isAdmin:  isAdmin,
		channels: make(map[string]*Channel),
		invites:  make(map[inviteKey]Invite),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func validName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 32 {
		return false
	}
	return !strings.ContainsAny(name, "[]<>")
}

// canModerate: owner or server administrator.
func (s *Store) canModerate(identity uint64, c *Channel) bool {
	return c.OwnerID == identity || s.isAdmin(identity)
}

// Create inserts a new channel. The collision check and the insert happen
// under the same lock hold, so two simultaneous creates for the same name
// cannot both succeed.
func (s *Store) Create(name string, ownerID uint64, public bool) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if s.policy == CreateAdminsOnly && !s.isAdmin(ownerID) {
		return ErrNoPermission
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	if _, exists := s.channels[k]; exists {
		return ErrAlreadyExists
	}
	s.channels[k] = &Channel{
		Name:     strings.TrimSpace(name),
		OwnerID:  ownerID,
		Public:   public,
		Invitees: make(map[uint64]struct{}),
		Color:    DefaultColor,
	}
	log.Printf("[STORE] Channel %q created, owner %d, public %v", name, ownerID, public)
	return nil
}

// CreateSystem inserts a plugin-owned channel (e.g. the default global
// channel). System channels bypass the create policy and never persist.
func (s *Store) CreateSystem(name string, color RGBA, alias string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	if _, exists := s.channels[k]; exists {
		return ErrAlreadyExists
	}
	s.channels[k] = &Channel{
		Name:     strings.TrimSpace(name),
		Public:   true,
		Invitees: make(map[uint64]struct{}),
		Color:    color,
		Alias:    alias,
		System:   true,
	}
	return nil
}

// Disband removes a channel and every pending invite for it. Owner or
// administrator only.
func (s *Store) Disband(requesterID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	c, ok := s.channels[k]
	if !ok {
		return ErrNotFound
	}
	if !s.canModerate(requesterID, c) {
		return ErrNoPermission
	}
	delete(s.channels, k)
	for ik := range s.invites {
		if ik.channel == k {
			delete(s.invites, ik)
		}
	}
	log.Printf("[STORE] Channel %q disbanded by %d", c.Name, requesterID)
	return nil
}

// Invite upserts a pending invite. Owner or administrator only. Re-inviting
// the same identity replaces the previous invite rather than duplicating it.
func (s *Store) Invite(inviterID, inviteeID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[key(name)]
	if !ok {
		return ErrNotFound
	}
	if !s.canModerate(inviterID, c) {
		return ErrNoPermission
	}
	if inviteeID == c.OwnerID {
		return ErrAlreadyMember
	}
	if _, member := c.Invitees[inviteeID]; member {
		return ErrAlreadyMember
	}
	s.invites[inviteKey{invitee: inviteeID, channel: key(name)}] = Invite{
		InviterID: inviterID,
		InviteeID: inviteeID,
		Channel:   c.Name,
	}
	log.Printf("[STORE] %d invited %d to %q", inviterID, inviteeID, c.Name)
	return nil
}

// AcceptInvite consumes the pending invite and adds the invitee to the
// channel. The invite is gone either way once this returns successfully.
func (s *Store) AcceptInvite(inviteeID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ik := inviteKey{invitee: inviteeID, channel: key(name)}
	if _, ok := s.invites[ik]; !ok {
		return ErrNoInvite
	}
	delete(s.invites, ik)
	c, ok := s.channels[ik.channel]
	if !ok {
		// Channel vanished between invite and accept.
		return ErrNotFound
	}
	if inviteeID != c.OwnerID {
		c.Invitees[inviteeID] = struct{}{}
	}
	log.Printf("[STORE] %d joined %q", inviteeID, c.Name)
	return nil
}

// DeclineInvite consumes the pending invite without joining.
func (s *Store) DeclineInvite(inviteeID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ik := inviteKey{invitee: inviteeID, channel: key(name)}
	if _, ok := s.invites[ik]; !ok {
		return ErrNoInvite
	}
	delete(s.invites, ik)
	return nil
}

// Kick removes the target from the invitee set. The owner cannot be kicked
// from their own channel.
func (s *Store) Kick(requesterID, targetID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[key(name)]
	if !ok {
		return ErrNotFound
	}
	if !s.canModerate(requesterID, c) {
		return ErrNoPermission
	}
	if targetID == c.OwnerID {
		return ErrNoPermission
	}
	if _, member := c.Invitees[targetID]; !member {
		return ErrPlayerNotFound
	}
	delete(c.Invitees, targetID)
	log.Printf("[STORE] %d kicked %d from %q", requesterID, targetID, c.Name)
	return nil
}

// Leave is self-removal from the invitee set. Ownership is untouched; an
// owner leaving their own channel is a no-op success.
func (s *Store) Leave(requesterID uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[key(name)]
	if !ok {
		return ErrNotFound
	}
	delete(c.Invitees, requesterID)
	return nil
}

// Edit adjusts visibility, color and command alias. Owner or admin only.
func (s *Store) Edit(requesterID uint64, name string, public bool, color RGBA, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[key(name)]
	if !ok {
		return ErrNotFound
	}
	if !s.canModerate(requesterID, c) {
		return ErrNoPermission
	}
	c.Public = public
	c.Color = color
	c.Alias = strings.TrimSpace(alias)
	log.Printf("[STORE] Channel %q edited by %d", c.Name, requesterID)
	return nil
}

// CanModerate is the shared permission predicate: owner or administrator.
func (s *Store) CanModerate(identity uint64, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[key(name)]
	return ok && s.canModerate(identity, c)
}

// Get returns a snapshot of one channel.
func (s *Store) Get(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[key(name)]
	if !ok {
		return Channel{}, false
	}
	return c.clone(), true
}

// VisibleTo snapshots every channel the identity may see: public channels,
// channels it owns, and channels it has been invited into.
func (s *Store) VisibleTo(identity uint64) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Channel
	for _, c := range s.channels {
		if c.IsMember(identity) {
			out = append(out, c.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// All snapshots every channel, system channels included.
func (s *Store) All() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// PendingInvite returns the invite waiting for the identity on a channel.
func (s *Store) PendingInvite(inviteeID uint64, name string) (Invite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[inviteKey{invitee: inviteeID, channel: key(name)}]
	return inv, ok
}

// Load replaces the non-system contents of the store with restored
// channels. Existing system channels survive; name collisions with them are
// dropped with a log line.
func (s *Store) Load(channels []Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.channels {
		if !c.System {
			delete(s.channels, k)
		}
	}
	s.invites = make(map[inviteKey]Invite)
	for i := range channels {
		c := channels[i]
		c.System = false
		if c.Invitees == nil {
			c.Invitees = make(map[uint64]struct{})
		}
		delete(c.Invitees, c.OwnerID)
		k := key(c.Name)
		if _, exists := s.channels[k]; exists {
			log.Printf("[STORE] Dropping restored channel %q, name taken", c.Name)
			continue
		}
		cc := c
		s.channels[k] = &cc
	}
	log.Printf("[STORE] Loaded %d channels", len(channels))
}

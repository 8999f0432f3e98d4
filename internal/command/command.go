// Package command maps prefixed chat text ("/invite bob guild") to
// registered actions. Matching is case-insensitive and first-registered
// wins; the whole registry can be atomically cleared and rebuilt whenever
// command availability changes.
package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"skald/internal/wire"
)

var ErrDuplicateName = errors.New("command name already registered")

// Context identifies the caller of a command. Client-side commands only use
// the display name; server-side commands rely on the peer handle and the
// stable identity.
type Context struct {
	Peer     peer.ID
	Identity uint64 // stable identity of the requester
	Name     string // display name
	Pos      wire.Vec3
}

// Handler runs a command with the text that followed the matched name.
type Handler func(args string, ctx Context)

// Command is immutable once registered.
type Command struct {
	Names   []string // trimmed, lowercased, non-empty, de-duplicated
	Handler Handler
}

// Registry holds the live command set behind one mutex so a bulk rebuild is
// atomic with respect to concurrent Parse calls.
type Registry struct {
	mu       sync.RWMutex
	prefix   string
	commands []Command
	names    map[string]struct{}
}

func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = "/"
	}
	return &Registry{prefix: prefix, names: make(map[string]struct{})}
}

func (r *Registry) Prefix() string { return r.prefix }

// Register adds one command under the given names. Names are trimmed,
// empties dropped and duplicates within the call collapsed. A name that is
// already registered elsewhere rejects the whole registration: the caller
// logs the configuration error and keeps loading the rest.
func (r *Registry) Register(names []string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(names, h)
}

// Rebuild atomically replaces the whole command set. The registry lock is
// held across the entire swap, so a concurrent Parse sees either the old set
// or the complete new one, never a partially rebuilt one. The add callback
// rejects duplicates the same way Register does.
func (r *Registry) Rebuild(build func(add func(names []string, h Handler) error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
	r.names = make(map[string]struct{})
	build(r.add)
}

// add inserts one command. Caller holds r.mu.
func (r *Registry) add(names []string, h Handler) error {
	cleaned := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		cleaned = append(cleaned, n)
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("command: registration has no usable names")
	}
	for _, n := range cleaned {
		if _, taken := r.names[n]; taken {
			return fmt.Errorf("command %q: %w", n, ErrDuplicateName)
		}
	}
	for _, n := range cleaned {
		r.names[n] = struct{}{}
	}
	r.commands = append(r.commands, Command{Names: cleaned, Handler: h})
	return nil
}

// Parse matches raw input against the registered commands. The input must
// start with the prefix immediately followed by a registered name; the
// remainder is whatever follows, left-trimmed. First match in registration
// order wins.
func (r *Registry) Parse(raw string) (Command, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, strings.ToLower(r.prefix)) {
		return Command{}, "", false
	}
	body := lower[len(r.prefix):]
	for _, cmd := range r.commands {
		for _, name := range cmd.Names {
			if !strings.HasPrefix(body, name) {
				continue
			}
			rest := raw[len(r.prefix)+len(name):]
			// The name must end at a word boundary: "/inv" must not
			// swallow "/invite".
			if rest != "" && rest[0] != ' ' {
				continue
			}
			return cmd, strings.TrimLeft(rest, " "), true
		}
	}
	return Command{}, "", false
}

// Matches reports whether raw input would dispatch to any command.
func (r *Registry) Matches(raw string) bool {
	_, _, ok := r.Parse(raw)
	return ok
}

// Clear atomically drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
	r.names = make(map[string]struct{})
}

// Package member defines the channel member capability and its variants:
// live connected players, the console, and remote/bridge-sourced senders.
// Channel code handles all of them through the Member interface without
// knowing which variant it holds.
package member

import (
	"log"
	"strings"
)

// Member is the capability a channel needs from anything that can speak
// in or receive from a channel. Equality is by ID, never by display name.
type Member interface {
	// ID returns the stable identifier: "$<uuid>" for known players,
	// the plain name otherwise.
	ID() string
	Name() string
	DisplayName() string
	IsOnline() bool
	SendMessage(msg string)
	HasPermission(node string) bool
	WorldName() string
	ServerName() string
}

// Equals reports whether two members are the same identity.
func Equals(a, b Member) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}

// Host is the strategy a Player uses to reach its hosting surface.
// The server package implements it for live TCP connections.
type Host interface {
	IsOnline(name string) bool
	Send(name, msg string)
	DisplayName(name string) string
	HasPermission(name, node string) bool
	WorldName(name string) string
	ServerName() string
}

// Player is a member backed by a (possibly offline) player account.
type Player struct {
	id   string
	name string
	host Host
}

// NewPlayer builds a Player for the given name. If the cache knows a
// UUID for the name, the ID takes the "$uuid" form.
func NewPlayer(name string, cache *Cache, host Host) *Player {
	id := name
	if cache != nil {
		if u := cache.UUIDByName(name); u != "" {
			id = "$" + u
		}
	}
	return &Player{id: id, name: name, host: host}
}

// PlayerFromID rebuilds a Player from a stored identifier, resolving
// "$uuid" identifiers back to names through the cache.
func PlayerFromID(id string, cache *Cache, host Host) *Player {
	name := id
	if strings.HasPrefix(id, "$") && cache != nil {
		if n := cache.NameByUUID(id[1:]); n != "" {
			name = n
		} else {
			name = id[1:]
		}
	}
	return &Player{id: id, name: name, host: host}
}

func (p *Player) ID() string   { return p.id }
func (p *Player) Name() string { return p.name }

func (p *Player) DisplayName() string {
	if p.host != nil {
		if dn := p.host.DisplayName(p.name); dn != "" {
			return dn
		}
	}
	return p.name
}

func (p *Player) IsOnline() bool {
	return p.host != nil && p.host.IsOnline(p.name)
}

func (p *Player) SendMessage(msg string) {
	if p.host != nil {
		p.host.Send(p.name, msg)
	}
}

func (p *Player) HasPermission(node string) bool {
	return p.host != nil && p.host.HasPermission(p.name, node)
}

func (p *Player) WorldName() string {
	if p.host == nil {
		return ""
	}
	return p.host.WorldName(p.name)
}

func (p *Player) ServerName() string {
	if p.host == nil {
		return ""
	}
	return p.host.ServerName()
}

// Console is the administrative sender. It holds every permission and
// writes received messages to the process log.
type Console struct{}

func (Console) ID() string                  { return "CONSOLE" }
func (Console) Name() string                { return "CONSOLE" }
func (Console) DisplayName() string         { return "CONSOLE" }
func (Console) IsOnline() bool              { return true }
func (Console) SendMessage(msg string)      { log.Printf("console: %s", msg) }
func (Console) HasPermission(string) bool   { return true }
func (Console) WorldName() string           { return "" }
func (Console) ServerName() string          { return "" }

// Source identifies where a remote pseudo-member originated.
type Source string

const (
	SourceWeb     Source = "web"
	SourceDiscord Source = "discord"
	SourceOther   Source = "other"
)

// SourceByTag maps a free-form tag to a known Source, defaulting to other.
func SourceByTag(tag string) Source {
	switch Source(tag) {
	case SourceWeb, SourceDiscord:
		return Source(tag)
	}
	return SourceOther
}

// Remote is a pseudo-member for utterances arriving from a bridge or
// another server process. It cannot receive messages.
type Remote struct {
	name        string
	displayName string
	source      Source
}

// NewRemote builds a remote pseudo-member.
func NewRemote(name, displayName string, source Source) *Remote {
	if displayName == "" {
		displayName = name
	}
	return &Remote{name: name, displayName: displayName, source: source}
}

func (r *Remote) ID() string                { return r.name }
func (r *Remote) Name() string              { return r.name }
func (r *Remote) DisplayName() string       { return r.displayName }
func (r *Remote) IsOnline() bool            { return true }
func (r *Remote) SendMessage(string)        {}
func (r *Remote) HasPermission(string) bool { return true }
func (r *Remote) WorldName() string         { return "" }
func (r *Remote) ServerName() string        { return "" }

// ChatSource returns where the remote member originated.
func (r *Remote) ChatSource() Source { return r.source }

package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hikarimc/lanternchat/pkg/crypt"
	"github.com/hikarimc/lanternchat/pkg/japanize"
	"github.com/hikarimc/lanternchat/pkg/member"
)

// Channel is a named chat room with membership, moderation, and formatting
// state. All mutation goes through its methods; the registry owns creation
// and removal. The mutex guards the member/ban/mute lists against the
// expiry sweeper running concurrently with event-driven mutations.
type Channel struct {
	mu sync.Mutex

	name        string
	alias       string
	description string
	password    string // crypt hash, empty = no password
	visible     bool
	relay       bool // forward chat to same-named channels on other servers
	colorCode   string
	format      string
	broadcast   bool
	worldRange  bool
	chatRange   int
	allowCC     bool
	japanize    *japanize.Type // nil = follow server-wide setting
	pmTarget    string         // only set for personal (A>B) channels

	members     []member.Member
	moderators  []member.Member
	banned      []member.Member
	muted       []member.Member
	hidden      []member.Member
	banExpires  map[string]int64 // member ID -> epoch millis
	muteExpires map[string]int64

	reg *Registry
}

// newChannel builds a channel with defaults. Only the registry calls this.
func newChannel(name string, reg *Registry) *Channel {
	c := &Channel{
		name:        name,
		visible:     true,
		allowCC:     true,
		banExpires:  make(map[string]int64),
		muteExpires: make(map[string]int64),
		reg:         reg,
	}
	if c.IsPersonalChat() {
		c.format = reg.conf.DefaultFormatForPM
	} else {
		c.format = reg.conf.DefaultFormat
	}
	return c
}

// Name returns the channel name. Names never change after creation.
func (c *Channel) Name() string { return c.name }

// IsPersonalChat reports whether this is an ephemeral 1:1 channel. Personal
// channels are never persisted.
func (c *Channel) IsPersonalChat() bool { return strings.Contains(c.name, ">") }

// IsGlobal reports whether this is the configured global channel.
func (c *Channel) IsGlobal() bool {
	return c.reg != nil && c.reg.conf.GlobalChannel != "" &&
		strings.EqualFold(c.name, c.reg.conf.GlobalChannel)
}

// IsBroadcast reports whether the channel implicitly spans everyone online.
func (c *Channel) IsBroadcast() bool { return c.IsGlobal() || c.broadcast }

// IsForceJoin reports whether members are auto-added on connect.
func (c *Channel) IsForceJoin() bool {
	return c.reg != nil && c.reg.conf.IsForceJoinChannel(c.name)
}

func (c *Channel) Alias() string       { return c.alias }
func (c *Channel) Description() string { return c.description }
func (c *Channel) ColorCode() string   { return c.colorCode }
func (c *Channel) Format() string      { return c.format }
func (c *Channel) IsVisible() bool     { return c.visible }
func (c *Channel) IsRelay() bool       { return c.relay }
func (c *Channel) AllowCC() bool       { return c.allowCC }
func (c *Channel) ChatRange() int      { return c.chatRange }
func (c *Channel) IsWorldRange() bool  { return c.worldRange }
func (c *Channel) PMTarget() string    { return c.pmTarget }

func (c *Channel) SetAlias(alias string)      { c.alias = alias; c.save() }
func (c *Channel) SetDescription(desc string) { c.description = desc; c.save() }
func (c *Channel) SetColorCode(code string)   { c.colorCode = code; c.save() }
func (c *Channel) SetFormat(format string)    { c.format = format; c.save() }
func (c *Channel) SetVisible(v bool)          { c.visible = v; c.save() }
func (c *Channel) SetRelay(v bool)            { c.relay = v; c.save() }
func (c *Channel) SetAllowCC(v bool)          { c.allowCC = v; c.save() }
func (c *Channel) SetBroadcast(v bool)        { c.broadcast = v; c.save() }
func (c *Channel) SetWorldRange(v bool)       { c.worldRange = v; c.save() }
func (c *Channel) SetChatRange(r int)         { c.chatRange = r; c.save() }
func (c *Channel) SetPMTarget(name string)    { c.pmTarget = name }

// JapanizeType returns the per-channel override, or def when unset.
func (c *Channel) JapanizeType(def japanize.Type) japanize.Type {
	if c.japanize == nil {
		return def
	}
	return *c.japanize
}

// SetJapanizeType sets or clears (nil) the per-channel override.
func (c *Channel) SetJapanizeType(t *japanize.Type) {
	c.japanize = t
	c.save()
}

// HasPassword reports whether joining requires a password.
func (c *Channel) HasPassword() bool { return c.password != "" }

// SetPassword stores the crypt hash of the password; empty clears it.
func (c *Channel) SetPassword(password string) {
	if password == "" {
		c.password = ""
	} else {
		c.password = crypt.Hash(password)
	}
	c.save()
}

// CheckPassword verifies a join attempt against the stored hash. A channel
// without a password accepts anything.
func (c *Channel) CheckPassword(password string) bool {
	if c.password == "" {
		return true
	}
	return crypt.Check(password, c.password)
}

// Members returns the membership. For broadcast channels this is the
// server's full online population rather than the stored set.
func (c *Channel) Members() []member.Member {
	if c.IsBroadcast() && c.reg != nil && c.reg.presence != nil {
		return c.reg.presence.OnlineMembers()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.members))
	copy(out, c.members)
	return out
}

// StoredMembers returns the persisted member set regardless of broadcast.
func (c *Channel) StoredMembers() []member.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.members))
	copy(out, c.members)
	return out
}

// Moderators returns a snapshot of the moderator set.
func (c *Channel) Moderators() []member.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.moderators))
	copy(out, c.moderators)
	return out
}

// Banned returns a snapshot of the ban list.
func (c *Channel) Banned() []member.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.banned))
	copy(out, c.banned)
	return out
}

// Muted returns a snapshot of the mute list.
func (c *Channel) Muted() []member.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.muted))
	copy(out, c.muted)
	return out
}

// Hidden returns a snapshot of the hidden-from-broadcast set.
func (c *Channel) Hidden() []member.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]member.Member, len(c.hidden))
	copy(out, c.hidden)
	return out
}

// IsMember reports whether m is in the stored member set.
func (c *Channel) IsMember(m member.Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return containsMember(c.members, m)
}

// IsBanned reports whether m is banned.
func (c *Channel) IsBanned(m member.Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return containsMember(c.banned, m)
}

// IsMuted reports whether m is muted.
func (c *Channel) IsMuted(m member.Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return containsMember(c.muted, m)
}

// IsModerator reports whether m is in the moderator set.
func (c *Channel) IsModerator(m member.Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return containsMember(c.moderators, m)
}

// HasModeratorPermission reports whether sender may perform moderator
// actions: admin override or membership in the moderator set.
func (c *Channel) HasModeratorPermission(sender member.Member) bool {
	if sender.HasPermission("lanternchat-admin.mod-all-channels") {
		return true
	}
	return c.IsModerator(sender)
}

// AddMember adds p to the channel. No-op when already present. The change
// is offered to the member-change hooks first; the first member ever added
// becomes moderator automatically.
func (c *Channel) AddMember(p member.Member) {
	c.mu.Lock()
	if containsMember(c.members, p) {
		c.mu.Unlock()
		return
	}
	before := snapshotMembers(c.members)
	after := append(snapshotMembers(c.members), p)
	c.mu.Unlock()

	if !c.reg.hooks.fireMemberChange(c.name, before, after) {
		return
	}

	c.mu.Lock()
	if len(c.members) == 0 && len(c.moderators) == 0 {
		c.moderators = append(c.moderators, p)
	}
	c.members = append(c.members, p)
	c.mu.Unlock()

	c.sendNotice(msgJoin, p)
	c.save()
}

// ForceJoin adds p without consulting hooks or announcing, used for
// force-join channels on connect.
func (c *Channel) ForceJoin(p member.Member) {
	c.mu.Lock()
	if containsMember(c.members, p) {
		c.mu.Unlock()
		return
	}
	if len(c.members) == 0 && len(c.moderators) == 0 {
		c.moderators = append(c.moderators, p)
	}
	c.members = append(c.members, p)
	c.mu.Unlock()
	c.save()
}

// RemoveMember removes p from the channel. No-op when absent. On commit the
// member's default-channel pointer to this channel is cleared, and an empty
// channel is auto-deleted when the zero-member-remove policy is on.
func (c *Channel) RemoveMember(p member.Member) {
	c.mu.Lock()
	if !containsMember(c.members, p) {
		c.mu.Unlock()
		return
	}
	before := snapshotMembers(c.members)
	after := removeMemberFrom(snapshotMembers(c.members), p)
	c.mu.Unlock()

	if !c.reg.hooks.fireMemberChange(c.name, before, after) {
		return
	}

	// Clear a default-channel pointer that referenced this channel.
	if def := c.reg.DefaultChannelName(p); strings.EqualFold(def, c.name) {
		c.reg.RemoveDefaultChannel(p)
	}

	c.mu.Lock()
	c.members = removeMemberFrom(c.members, p)
	empty := len(c.members) == 0
	c.mu.Unlock()

	c.sendNotice(msgQuit, p)

	if c.reg.conf.ZeroMemberRemove && empty {
		c.reg.RemoveChannel(c.name, nil)
		return
	}

	c.mu.Lock()
	c.hidden = removeMemberFrom(c.hidden, p)
	c.moderators = removeMemberFrom(c.moderators, p)
	c.mu.Unlock()

	c.save()
}

// AddModerator promotes p. Idempotent.
func (c *Channel) AddModerator(p member.Member) {
	c.mu.Lock()
	if containsMember(c.moderators, p) {
		c.mu.Unlock()
		return
	}
	c.moderators = append(c.moderators, p)
	c.mu.Unlock()
	c.sendNotice(msgAddModerator, p)
	c.save()
}

// RemoveModerator demotes p. Idempotent.
func (c *Channel) RemoveModerator(p member.Member) {
	c.mu.Lock()
	if !containsMember(c.moderators, p) {
		c.mu.Unlock()
		return
	}
	c.moderators = removeMemberFrom(c.moderators, p)
	c.mu.Unlock()
	c.sendNotice(msgRemoveModerator, p)
	c.save()
}

// Ban adds p to the ban list, optionally with an expiry (zero = no expiry).
func (c *Channel) Ban(p member.Member, expireAt time.Time) {
	c.mu.Lock()
	if !containsMember(c.banned, p) {
		c.banned = append(c.banned, p)
	}
	if !expireAt.IsZero() {
		c.banExpires[p.ID()] = expireAt.UnixMilli()
	}
	c.mu.Unlock()
	c.save()
}

// Pardon removes p from the ban list and its expiry entry.
func (c *Channel) Pardon(p member.Member) {
	c.mu.Lock()
	c.banned = removeMemberFrom(c.banned, p)
	delete(c.banExpires, p.ID())
	c.mu.Unlock()
	c.save()
}

// Mute adds p to the mute list, optionally with an expiry.
func (c *Channel) Mute(p member.Member, expireAt time.Time) {
	c.mu.Lock()
	if !containsMember(c.muted, p) {
		c.muted = append(c.muted, p)
	}
	if !expireAt.IsZero() {
		c.muteExpires[p.ID()] = expireAt.UnixMilli()
	}
	c.mu.Unlock()
	c.save()
}

// Unmute removes p from the mute list and its expiry entry.
func (c *Channel) Unmute(p member.Member) {
	c.mu.Lock()
	c.muted = removeMemberFrom(c.muted, p)
	delete(c.muteExpires, p.ID())
	c.mu.Unlock()
	c.save()
}

// SetHidden toggles p's membership in the hidden-from-broadcast set.
func (c *Channel) SetHidden(p member.Member, hidden bool) {
	c.mu.Lock()
	if hidden {
		if !containsMember(c.hidden, p) {
			c.hidden = append(c.hidden, p)
		}
	} else {
		c.hidden = removeMemberFrom(c.hidden, p)
	}
	c.mu.Unlock()
	c.save()
}

// CheckExpires lifts bans and mutes whose expiry has passed. Safe to run
// concurrently with membership mutations.
func (c *Channel) CheckExpires(now time.Time) {
	nowMillis := now.UnixMilli()

	c.mu.Lock()
	var liftedBans, liftedMutes []member.Member
	for id, at := range c.banExpires {
		if at <= nowMillis {
			delete(c.banExpires, id)
			if m := findMemberByID(c.banned, id); m != nil {
				c.banned = removeMemberFrom(c.banned, m)
				liftedBans = append(liftedBans, m)
			}
		}
	}
	for id, at := range c.muteExpires {
		if at <= nowMillis {
			delete(c.muteExpires, id)
			if m := findMemberByID(c.muted, id); m != nil {
				c.muted = removeMemberFrom(c.muted, m)
				liftedMutes = append(liftedMutes, m)
			}
		}
	}
	c.mu.Unlock()

	for _, m := range liftedBans {
		c.sendNotice(msgBanExpired, m)
	}
	for _, m := range liftedMutes {
		c.sendNotice(msgMuteExpired, m)
	}
	if len(liftedBans) > 0 || len(liftedMutes) > 0 {
		c.save()
	}
}

// OnlineNum returns the online member count. Broadcast channels reflect the
// server's full online population.
func (c *Channel) OnlineNum() int {
	if c.IsBroadcast() && c.reg != nil && c.reg.presence != nil {
		return c.reg.presence.OnlineCount()
	}
	n := 0
	for _, m := range c.Members() {
		if m.IsOnline() {
			n++
		}
	}
	return n
}

// TotalNum returns the total member count. Broadcast channels reflect the
// server's full online population.
func (c *Channel) TotalNum() int {
	if c.IsBroadcast() && c.reg != nil && c.reg.presence != nil {
		return c.reg.presence.OnlineCount()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Info returns the channel information lines shown by the info command.
func (c *Channel) Info(forModerator bool) []string {
	lines := []string{
		fmt.Sprintf("-- channel %s --", c.name),
		fmt.Sprintf("name: %s%s", c.colorCode, c.name),
	}
	if c.alias != "" {
		lines = append(lines, fmt.Sprintf("alias: %s", c.alias))
	}
	if c.description != "" {
		lines = append(lines, fmt.Sprintf("description: %s", c.description))
	}
	lines = append(lines, fmt.Sprintf("online/total: %d/%d", c.OnlineNum(), c.TotalNum()))
	if forModerator {
		lines = append(lines,
			fmt.Sprintf("format: %s", c.format),
			fmt.Sprintf("banned: %s", joinNames(c.Banned())),
			fmt.Sprintf("muted: %s", joinNames(c.Muted())),
		)
	}
	return lines
}

// sendNotice broadcasts a member-related system message to the channel.
func (c *Channel) sendNotice(template string, p member.Member) {
	if template == "" {
		return
	}
	msg := strings.NewReplacer(
		"%ch", c.name,
		"%color", c.colorCode,
		"%username", p.DisplayName(),
		"%player", p.Name(),
	).Replace(template)
	msg = ReplaceColorCode(msg)
	for _, m := range c.Members() {
		m.SendMessage(msg)
	}
}

// save persists the channel record. Personal channels exist only in memory.
func (c *Channel) save() {
	if c.IsPersonalChat() || c.reg == nil {
		return
	}
	c.reg.saveChannel(c)
}

func containsMember(list []member.Member, m member.Member) bool {
	for _, e := range list {
		if member.Equals(e, m) {
			return true
		}
	}
	return false
}

func removeMemberFrom(list []member.Member, m member.Member) []member.Member {
	for i, e := range list {
		if member.Equals(e, m) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func findMemberByID(list []member.Member, id string) member.Member {
	for _, e := range list {
		if e.ID() == id {
			return e
		}
	}
	return nil
}

func snapshotMembers(list []member.Member) []member.Member {
	out := make([]member.Member, len(list))
	copy(out, list)
	return out
}

func joinNames(list []member.Member) string {
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.Name()
	}
	return strings.Join(names, ",")
}

package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hikarimc/lanternchat/pkg/channel"
	"github.com/hikarimc/lanternchat/pkg/japanize"
	"github.com/hikarimc/lanternchat/pkg/member"
)

// pendingInvite tracks an outstanding channel invitation per invitee.
type pendingInvite struct {
	channel string
	inviter string
}

// Commands that stay available when channel chat is disabled server-wide.
var alwaysAvailable = map[string]bool{
	"hide": true, "unhide": true, "dict": true, "reload": true,
	"tell": true, "reply": true, "japanize": true, "list": true,
}

// dispatchCommand routes one slash command line.
func (s *Server) dispatchCommand(d *Descriptor, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if !s.conf.EnableChannelChat && !alwaysAvailable[cmd] {
		d.Send("channel chat is disabled on this server")
		return
	}

	mem := s.memberFor(d)

	switch cmd {
	case "join":
		s.cmdJoin(d, mem, args)
	case "leave":
		s.cmdLeave(d, mem, args)
	case "list":
		for _, l := range s.channelList(mem) {
			d.Send(l)
		}
	case "create":
		s.cmdCreate(d, mem, args)
	case "remove":
		s.cmdRemove(d, mem, args)
	case "invite":
		s.cmdInvite(d, mem, args)
	case "accept":
		s.cmdAccept(d, mem)
	case "deny":
		s.cmdDeny(d)
	case "kick":
		s.cmdModerate(d, mem, args, "kick")
	case "ban":
		s.cmdModerate(d, mem, args, "ban")
	case "pardon":
		s.cmdModerate(d, mem, args, "pardon")
	case "mute":
		s.cmdModerate(d, mem, args, "mute")
	case "unmute":
		s.cmdModerate(d, mem, args, "unmute")
	case "moderator":
		s.cmdModerator(d, mem, args)
	case "info":
		s.cmdInfo(d, mem, args)
	case "log":
		s.cmdLog(d, mem, args)
	case "format":
		s.cmdFormat(d, mem, args)
	case "option":
		s.cmdOption(d, mem, args)
	case "template":
		s.cmdTemplate(d, mem, args)
	case "check":
		s.cmdCheck(d, mem)
	case "hide":
		s.cmdHide(d, mem, args, true)
	case "unhide":
		s.cmdHide(d, mem, args, false)
	case "dict":
		s.cmdDict(d, mem, args)
	case "reload":
		s.cmdReload(d, mem)
	case "tell", "m":
		s.cmdTell(d, mem, args)
	case "reply", "r":
		s.cmdReply(d, mem, args)
	case "japanize":
		s.cmdJapanize(d, mem, args)
	default:
		d.Send(fmt.Sprintf("unknown command: %s", cmd))
	}
}

// resolveTarget picks the channel a command acts on: explicit name first,
// then the sender's default channel.
func (s *Server) resolveTarget(mem member.Member, name string) *channel.Channel {
	if name != "" {
		return s.reg.GetChannel(name)
	}
	return s.reg.DefaultChannel(mem)
}

func (s *Server) cmdJoin(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /join <channel> [password]")
		return
	}
	name := args[0]
	c := s.reg.GetChannel(name)
	if c == nil {
		if !mem.HasPermission("lanternchat.create") {
			d.Send("no such channel")
			return
		}
		c = s.reg.CreateChannel(name, mem)
		if c == nil {
			d.Send("channel creation was cancelled")
			return
		}
	}
	if c.IsBanned(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgBanned))
		return
	}
	password := ""
	if len(args) > 1 {
		password = args[1]
	}
	if !c.CheckPassword(password) && !c.HasModeratorPermission(mem) {
		d.Send("wrong password")
		return
	}
	c.AddMember(mem)
	s.reg.SetDefaultChannel(mem, c.Name())
	d.Send(fmt.Sprintf("joined %s", c.Name()))
}

func (s *Server) cmdLeave(d *Descriptor, mem member.Member, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	c := s.resolveTarget(mem, name)
	if c == nil {
		d.Send("no channel to leave")
		return
	}
	if !c.IsMember(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNotMember))
		return
	}
	c.RemoveMember(mem)
	d.Send(fmt.Sprintf("left %s", c.Name()))
}

func (s *Server) cmdCreate(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /create <channel> [description...]")
		return
	}
	if !mem.HasPermission("lanternchat.create") {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if s.reg.GetChannel(args[0]) != nil {
		d.Send("channel already exists")
		return
	}
	c := s.reg.CreateChannel(args[0], mem)
	if c == nil {
		d.Send("channel creation was cancelled")
		return
	}
	if len(args) > 1 {
		c.SetDescription(strings.Join(args[1:], " "))
	}
	d.Send(fmt.Sprintf("created %s", c.Name()))
}

func (s *Server) cmdRemove(d *Descriptor, mem member.Member, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	c := s.resolveTarget(mem, name)
	if c == nil {
		d.Send("no such channel")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if !s.reg.RemoveChannel(c.Name(), mem) {
		d.Send("channel removal was cancelled")
		return
	}
	d.Send(fmt.Sprintf("removed %s", c.Name()))
}

func (s *Server) cmdInvite(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /invite <player>")
		return
	}
	c := s.reg.DefaultChannel(mem)
	if c == nil {
		d.Send("join a channel first")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	target := args[0]
	if !s.IsOnline(target) {
		d.Send(fmt.Sprintf("%s is not online", target))
		return
	}
	s.inviteMu.Lock()
	s.invites[strings.ToLower(target)] = pendingInvite{channel: c.Name(), inviter: mem.Name()}
	s.inviteMu.Unlock()
	s.Send(target, fmt.Sprintf("%s invites you to %s - /accept or /deny", mem.Name(), c.Name()))
	d.Send(fmt.Sprintf("invited %s to %s", target, c.Name()))
}

func (s *Server) cmdAccept(d *Descriptor, mem member.Member) {
	s.inviteMu.Lock()
	inv, ok := s.invites[strings.ToLower(d.Name)]
	delete(s.invites, strings.ToLower(d.Name))
	s.inviteMu.Unlock()
	if !ok {
		d.Send("no pending invitation")
		return
	}
	c := s.reg.GetChannel(inv.channel)
	if c == nil {
		d.Send("that channel no longer exists")
		return
	}
	if c.IsBanned(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgBanned))
		return
	}
	c.AddMember(mem)
	s.reg.SetDefaultChannel(mem, c.Name())
	d.Send(fmt.Sprintf("joined %s", c.Name()))
}

func (s *Server) cmdDeny(d *Descriptor) {
	s.inviteMu.Lock()
	inv, ok := s.invites[strings.ToLower(d.Name)]
	delete(s.invites, strings.ToLower(d.Name))
	s.inviteMu.Unlock()
	if !ok {
		d.Send("no pending invitation")
		return
	}
	d.Send("invitation declined")
	s.Send(inv.inviter, fmt.Sprintf("%s declined your invitation", d.Name))
}

// cmdModerate covers kick/ban/pardon/mute/unmute, which share their
// argument shape: target player, optional channel, optional expiry minutes
// for ban and mute.
func (s *Server) cmdModerate(d *Descriptor, mem member.Member, args []string, action string) {
	if len(args) < 1 {
		d.Send(fmt.Sprintf("usage: /%s <player> [channel] [minutes]", action))
		return
	}
	target := member.NewPlayer(args[0], s.cache, s)

	chName := ""
	minutes := 0
	for _, a := range args[1:] {
		if n, err := strconv.Atoi(a); err == nil {
			minutes = n
		} else {
			chName = a
		}
	}
	c := s.resolveTarget(mem, chName)
	if c == nil {
		d.Send("no such channel")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}

	expire := time.Time{}
	if minutes > 0 {
		expire = time.Now().Add(time.Duration(minutes) * time.Minute)
	}

	switch action {
	case "kick":
		if !c.IsMember(target) {
			d.Send(fmt.Sprintf("%s is not a member of %s", target.Name(), c.Name()))
			return
		}
		c.RemoveMember(target)
		s.Send(target.Name(), fmt.Sprintf("you were kicked from %s", c.Name()))
	case "ban":
		c.Ban(target, expire)
		c.RemoveMember(target)
		s.Send(target.Name(), fmt.Sprintf("you were banned from %s", c.Name()))
	case "pardon":
		c.Pardon(target)
	case "mute":
		c.Mute(target, expire)
		s.Send(target.Name(), fmt.Sprintf("you were muted in %s", c.Name()))
	case "unmute":
		c.Unmute(target)
	}
	d.Send(fmt.Sprintf("%s: %s %s", c.Name(), action, target.Name()))
}

func (s *Server) cmdModerator(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /moderator <player> [channel] [remove]")
		return
	}
	target := member.NewPlayer(args[0], s.cache, s)
	chName := ""
	remove := false
	for _, a := range args[1:] {
		if strings.EqualFold(a, "remove") {
			remove = true
		} else {
			chName = a
		}
	}
	c := s.resolveTarget(mem, chName)
	if c == nil {
		d.Send("no such channel")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if remove {
		c.RemoveModerator(target)
	} else {
		c.AddModerator(target)
	}
}

func (s *Server) cmdInfo(d *Descriptor, mem member.Member, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	c := s.resolveTarget(mem, name)
	if c == nil {
		d.Send("no such channel")
		return
	}
	for _, line := range c.Info(c.HasModeratorPermission(mem)) {
		d.Send(line)
	}
}

func (s *Server) cmdLog(d *Descriptor, mem member.Member, args []string) {
	name := ""
	speaker, filter, date := "", "", ""
	reverse := false
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "p="):
			speaker = a[2:]
		case strings.HasPrefix(a, "f="):
			filter = a[2:]
		case strings.HasPrefix(a, "d="):
			date = a[2:]
		case a == "reverse":
			reverse = true
		default:
			name = a
		}
	}
	c := s.resolveTarget(mem, name)
	if c == nil {
		d.Send("no such channel")
		return
	}
	entries, err := s.reg.LoggerFor(c.Name()).GetLog(speaker, filter, date, reverse)
	if err != nil {
		d.Send(fmt.Sprintf("log read failed: %v", err))
		return
	}
	if len(entries) == 0 {
		d.Send("no log entries")
		return
	}
	for _, e := range entries {
		d.Send(fmt.Sprintf("%s %s: %s", e.Time.Format("15:04:05"), e.Speaker, e.Message))
	}
}

func (s *Server) cmdFormat(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 2 {
		d.Send("usage: /format <channel> <format...|template-id>")
		return
	}
	c := s.reg.GetChannel(args[0])
	if c == nil {
		d.Send("no such channel")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	format := strings.Join(args[1:], " ")
	if t := s.reg.Template(format); t != "" {
		format = t
	}
	c.SetFormat(format)
	d.Send(fmt.Sprintf("%s format set", c.Name()))
}

// cmdOption sets channel options as key=value pairs.
func (s *Server) cmdOption(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 2 {
		d.Send("usage: /option <channel> <key=value>...")
		return
	}
	c := s.reg.GetChannel(args[0])
	if c == nil {
		d.Send("no such channel")
		return
	}
	if !c.HasModeratorPermission(mem) {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	for _, kv := range args[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			d.Send(fmt.Sprintf("bad option %q, want key=value", kv))
			continue
		}
		if err := applyOption(c, strings.ToLower(key), value); err != nil {
			d.Send(err.Error())
		}
	}
	d.Send(fmt.Sprintf("%s options updated", c.Name()))
}

func applyOption(c *channel.Channel, key, value string) error {
	boolVal := func() bool { return strings.EqualFold(value, "true") || value == "1" }
	switch key {
	case "description", "desc":
		c.SetDescription(value)
	case "alias":
		c.SetAlias(value)
	case "color":
		c.SetColorCode(value)
	case "visible":
		c.SetVisible(boolVal())
	case "allowcc":
		c.SetAllowCC(boolVal())
	case "bungee", "relay":
		c.SetRelay(boolVal())
	case "broadcast":
		c.SetBroadcast(boolVal())
	case "world":
		c.SetWorldRange(boolVal())
	case "range":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("range wants a number, got %q", value)
		}
		c.SetChatRange(n)
	case "password":
		c.SetPassword(value)
	case "japanize":
		if value == "" {
			c.SetJapanizeType(nil)
			return nil
		}
		t := japanize.TypeByID(value, japanize.None)
		c.SetJapanizeType(&t)
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

func (s *Server) cmdTemplate(d *Descriptor, mem member.Member, args []string) {
	if !mem.HasPermission("lanternchat-admin.template") {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if len(args) < 1 {
		d.Send("usage: /template <id> <format...|remove>")
		return
	}
	id := args[0]
	if len(args) == 2 && strings.EqualFold(args[1], "remove") {
		s.reg.RemoveTemplate(id)
		d.Send(fmt.Sprintf("template %s removed", id))
		return
	}
	if len(args) < 2 {
		if t := s.reg.Template(id); t != "" {
			d.Send(fmt.Sprintf("%s: %s", id, t))
		} else {
			d.Send("no such template")
		}
		return
	}
	s.reg.SetTemplate(id, strings.Join(args[1:], " "))
	d.Send(fmt.Sprintf("template %s set", id))
}

// cmdCheck removes channels with no members left, the manual counterpart
// to the zero-member-remove policy.
func (s *Server) cmdCheck(d *Descriptor, mem member.Member) {
	if !mem.HasPermission("lanternchat-admin.check") {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	removed := 0
	for _, c := range s.reg.Channels() {
		if c.IsPersonalChat() || c.IsBroadcast() || c.IsForceJoin() {
			continue
		}
		if c.TotalNum() == 0 {
			if s.reg.RemoveChannel(c.Name(), mem) {
				removed++
			}
		}
	}
	d.Send(fmt.Sprintf("removed %d empty channels", removed))
}

func (s *Server) cmdHide(d *Descriptor, mem member.Member, args []string, hide bool) {
	if len(args) < 1 {
		d.Send("usage: /hide <player> or /unhide <player>")
		return
	}
	target := member.NewPlayer(args[0], s.cache, s)
	if hide {
		s.reg.AddHide(mem, target)
		d.Send(fmt.Sprintf("now hiding %s", target.Name()))
	} else {
		s.reg.RemoveHide(mem, target)
		d.Send(fmt.Sprintf("no longer hiding %s", target.Name()))
	}
}

func (s *Server) cmdDict(d *Descriptor, mem member.Member, args []string) {
	if !mem.HasPermission("lanternchat-admin.dictionary") {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if len(args) < 2 {
		d.Send("usage: /dict add <key> <value> | /dict remove <key>")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 3 {
			d.Send("usage: /dict add <key> <value>")
			return
		}
		s.reg.SetDictionary(args[1], strings.Join(args[2:], " "))
		d.Send(fmt.Sprintf("dictionary: %s -> %s", args[1], strings.Join(args[2:], " ")))
	case "remove":
		s.reg.RemoveDictionary(args[1])
		d.Send(fmt.Sprintf("dictionary: %s removed", args[1]))
	default:
		d.Send("usage: /dict add <key> <value> | /dict remove <key>")
	}
}

func (s *Server) cmdReload(d *Descriptor, mem member.Member) {
	if !mem.HasPermission("lanternchat-admin.reload") {
		d.Send(channel.ReplaceColorCode(channel.ErrMsgNoPermission))
		return
	}
	if err := s.reg.ReloadAll(); err != nil {
		d.Send(fmt.Sprintf("reload failed: %v", err))
		return
	}
	d.Send("reloaded")
}

// cmdTell opens (or reuses) the personal channel toward a player. With a
// message it sends one line; without, it sets the sender's default channel
// so plain chat continues the conversation.
func (s *Server) cmdTell(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /tell <player> [message...]")
		return
	}
	targetName := args[0]
	if strings.EqualFold(targetName, d.Name) {
		d.Send("you cannot tell yourself")
		return
	}
	if !s.IsOnline(targetName) {
		d.Send(fmt.Sprintf("%s is not online", targetName))
		return
	}
	target := member.NewPlayer(targetName, s.cache, s)
	c := s.reg.GetOrCreatePersonal(mem, target)

	s.tellMu.Lock()
	s.lastTells[strings.ToLower(d.Name)] = target.Name()
	s.lastTells[strings.ToLower(target.Name())] = d.Name
	s.tellMu.Unlock()

	if len(args) == 1 {
		s.reg.SetDefaultChannel(mem, c.Name())
		d.Send(fmt.Sprintf("now talking to %s", target.Name()))
		return
	}
	c.Chat(mem, strings.Join(args[1:], " "))
}

func (s *Server) cmdReply(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		d.Send("usage: /reply <message...>")
		return
	}
	s.tellMu.Lock()
	partner := s.lastTells[strings.ToLower(d.Name)]
	s.tellMu.Unlock()
	if partner == "" {
		d.Send("nobody to reply to")
		return
	}
	s.cmdTell(d, mem, append([]string{partner}, args...))
}

func (s *Server) cmdJapanize(d *Descriptor, mem member.Member, args []string) {
	if len(args) < 1 {
		on := s.reg.IsMemberJapanize(mem)
		d.Send(fmt.Sprintf("japanize is %s for you", onOff(on)))
		return
	}
	on := strings.EqualFold(args[0], "on")
	s.reg.SetMemberJapanize(mem, on)
	d.Send(fmt.Sprintf("japanize turned %s", onOff(on)))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

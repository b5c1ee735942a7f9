package channel

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/hikarimc/lanternchat/pkg/japanize"
	"github.com/hikarimc/lanternchat/pkg/member"
)

// Dispatcher turns a raw utterance plus sender into a channel dispatch:
// marker detection, quick channel chat, default-channel resolution, and
// the fallback policy for members with no channel at all.
type Dispatcher struct {
	reg *Registry
}

// NewDispatcher builds a dispatcher over a registry.
func NewDispatcher(reg *Registry) *Dispatcher { return &Dispatcher{reg: reg} }

// ProcessChat routes one utterance. The error path is intentionally
// narrow: policy rejections are messaged to the sender directly and do not
// surface as errors.
func (d *Dispatcher) ProcessChat(sender member.Member, msg string) {
	conf := d.reg.conf

	// Force-global marker.
	if conf.GlobalMarker != "" && strings.HasPrefix(msg, conf.GlobalMarker) &&
		len(msg) > len(conf.GlobalMarker) {
		d.chatGlobal(sender, msg[len(conf.GlobalMarker):])
		return
	}

	// Quick channel chat: "name<sep>text" dispatches one-off to a named
	// channel. A resolvable channel the sender is not in is an error; an
	// unresolvable token falls through to the default channel.
	if conf.EnableQuickChannelChat && conf.QuickChannelChatSeparator != "" {
		if idx := strings.Index(msg, conf.QuickChannelChatSeparator); idx > 0 {
			name := msg[:idx]
			body := msg[idx+len(conf.QuickChannelChatSeparator):]
			if c := d.reg.GetChannel(name); c != nil && !c.IsPersonalChat() && body != "" {
				if !c.IsMember(sender) && !c.IsBroadcast() {
					sender.SendMessage(ReplaceColorCode(ErrMsgNotMember))
					return
				}
				d.chatToChannel(sender, c, body)
				return
			}
		}
	}

	if def := d.reg.DefaultChannel(sender); def != nil {
		d.chatToChannel(sender, def, msg)
		return
	}

	if conf.NoJoinAsGlobal {
		d.chatGlobal(sender, msg)
		return
	}

	// No default channel and no fallback policy: suppress silently.
	if d.reg.stats != nil {
		d.reg.stats.MessageDropped()
	}
}

// chatGlobal routes to the configured global channel, creating it on first
// use. With no global channel configured the message goes out unchanneled.
func (d *Dispatcher) chatGlobal(sender member.Member, msg string) {
	name := d.reg.conf.GlobalChannel
	if name == "" {
		d.chatUnchanneled(sender, msg)
		return
	}
	c := d.reg.GetChannel(name)
	if c == nil {
		c = d.reg.CreateChannel(name, sender)
		if c == nil {
			return
		}
	}
	if d.reg.DefaultChannelName(sender) == "" {
		d.reg.SetDefaultChannel(sender, name)
	}
	d.chatToChannel(sender, c, msg)
}

// chatToChannel offers the utterance to the pre-chat hooks, which may
// redirect it or rewrite it, then hands off to the channel.
func (d *Dispatcher) chatToChannel(sender member.Member, c *Channel, msg string) {
	name, msg, ok := d.reg.hooks.firePreChat(c.Name(), sender, msg)
	if !ok {
		return
	}
	if !strings.EqualFold(name, c.Name()) {
		if redirected := d.reg.GetChannel(name); redirected != nil {
			c = redirected
		}
	}
	c.Chat(sender, msg)
}

// chatUnchanneled formats and delivers to everyone online, honoring the
// hide-list. Used only when no global channel is configured.
func (d *Dispatcher) chatUnchanneled(sender member.Member, msg string) {
	conf := d.reg.conf
	msg = MaskNGWords(msg, conf.NGWordsCompiled())

	line := replaceKeywords(conf.DefaultFormat, formatContext{
		channelName: "",
		colorCode:   "",
		sender:      sender,
		prefixes:    d.reg.prefixes,
		now:         time.Now(),
	})
	line = strings.ReplaceAll(line, "%msg", RemoveColorCandidates(msg))

	hiders := memberIDSet(d.reg.ObserversHiding(sender))
	var recipients []member.Member
	if d.reg.presence != nil {
		for _, m := range d.reg.presence.OnlineMembers() {
			if _, hidden := hiders[m.ID()]; hidden {
				continue
			}
			recipients = append(recipients, m)
		}
	}
	for _, m := range recipients {
		m.SendMessage(line)
	}

	d.reg.LoggerFor("server").Log(msg, sender.Name())
	if d.reg.recorder != nil {
		d.reg.recorder.Record("", sender.Name(), StripColorCode(line))
	}
	if d.reg.stats != nil {
		d.reg.stats.MessageDispatched("_global")
	}
}

// ChatFromRemote injects a relayed line into the local channel of the same
// name. A missing channel makes the frame a no-op. Preformatted lines
// (non-empty lineFormat) are delivered as-is; raw lines re-run the local
// pipeline under a remote pseudo-member.
func (d *Dispatcher) ChatFromRemote(channelName, senderName, msg, lineFormat string) {
	c := d.reg.GetChannel(channelName)
	if c == nil {
		return
	}
	if lineFormat != "" {
		line := strings.ReplaceAll(lineFormat, "%msg", msg)
		c.SendPreformatted(ReplaceColorCode(line))
		return
	}
	c.chat(member.NewRemote(senderName, senderName, member.SourceOther), msg, false)
}

// Chat runs the in-channel stage of the pipeline: mute check, NG-word
// masking, color policy, formatting, recipient filtering, the Japanize
// decision, delivery, relay, and logging.
func (c *Channel) Chat(sender member.Member, msg string) {
	c.chat(sender, msg, true)
}

func (c *Channel) chat(sender member.Member, msg string, relayOut bool) {
	conf := c.reg.conf

	if c.IsMuted(sender) {
		sender.SendMessage(ReplaceColorCode(ErrMsgMuted))
		return
	}

	// Per-message Japanize opt-out marker, stripped before anything else.
	skipJapanize := false
	if conf.NoneJapanizeMarker != "" && strings.HasPrefix(msg, conf.NoneJapanizeMarker) {
		skipJapanize = true
		msg = msg[len(conf.NoneJapanizeMarker):]
	}

	msg = MaskNGWords(msg, conf.NGWordsCompiled())

	// Color codes in the body only pass for channels that allow them and
	// senders holding the permission.
	var body string
	if c.AllowCC() && sender.HasPermission("lanternchat.allowcc") {
		body = ReplaceColorCode(msg)
	} else {
		body = RemoveColorCandidates(msg)
	}

	line := replaceKeywords(c.Format(), formatContext{
		channelName: c.Name(),
		colorCode:   c.ColorCode(),
		sender:      sender,
		prefixes:    c.reg.prefixes,
		now:         time.Now(),
	})
	if c.PMTarget() != "" {
		line = strings.ReplaceAll(line, "%to", c.PMTarget())
	}

	japType := c.effectiveJapanizeType(sender, msg, skipJapanize)

	// Single-line display blocks the primary send on the remote stage; the
	// result is spliced into the line via the line-1 template.
	if japType != japanize.None && conf.JapanizeDisplayLine == 1 {
		converted, err := c.reg.converter.Convert(context.Background(), msg, japType, c.reg.Dictionary())
		if c.reg.stats != nil {
			c.reg.stats.JapanizeConverted()
		}
		if err != nil {
			log.Printf("channel: %s: japanize: %v", c.name, err)
			if c.reg.stats != nil {
				c.reg.stats.JapanizeFailed()
			}
		} else if converted != msg {
			merged := strings.ReplaceAll(conf.JapanizeLine1Format, "%msg", body)
			merged = strings.ReplaceAll(merged, "%japanize", converted)
			body = ReplaceColorCode(merged)
		}
		japType = japanize.None
	}

	line = strings.ReplaceAll(line, "%msg", body)

	recipients := c.chatRecipients(sender)
	for _, m := range recipients {
		m.SendMessage(line)
	}

	// Two-line display: the original line is already out; the converted
	// line follows after a configured delay, so it always appears after
	// the original in every recipient's view.
	if japType != japanize.None && conf.JapanizeDisplayLine == 2 {
		c.sendDelayedJapanize(sender, msg, japType, recipients, relayOut)
	}

	if relayOut && c.IsRelay() && c.reg.relay != nil {
		c.reg.relay.SendChannelChat(c.Name(), sender.Name(), msg, "")
		if c.reg.stats != nil {
			c.reg.stats.RelayFrameOut()
		}
	}

	c.reg.LoggerFor(c.Name()).Log(msg, sender.Name())
	if c.reg.recorder != nil {
		c.reg.recorder.Record(c.Name(), sender.Name(), StripColorCode(line))
	}
	if c.reg.stats != nil {
		c.reg.stats.MessageDispatched(c.Name())
	}
}

// effectiveJapanizeType resolves the per-channel override against the
// server default, then applies the skip conditions.
func (c *Channel) effectiveJapanizeType(sender member.Member, msg string, optOut bool) japanize.Type {
	if optOut || msg == "" {
		return japanize.None
	}
	typ := c.JapanizeType(japanize.TypeByID(c.reg.conf.Japanize, japanize.None))
	if typ == japanize.None {
		return japanize.None
	}
	if japanize.ShouldSkip(msg) {
		return japanize.None
	}
	if !c.reg.IsMemberJapanize(sender) {
		return japanize.None
	}
	return typ
}

// sendDelayedJapanize runs the remote stage off the dispatch path and
// delivers a second line to the original recipient set.
func (c *Channel) sendDelayedJapanize(sender member.Member, msg string, typ japanize.Type, recipients []member.Member, relayOut bool) {
	conf := c.reg.conf
	dict := c.reg.Dictionary()
	time.AfterFunc(conf.JapanizeWait, func() {
		converted, err := c.reg.converter.Convert(context.Background(), msg, typ, dict)
		if c.reg.stats != nil {
			c.reg.stats.JapanizeConverted()
		}
		if err != nil {
			log.Printf("channel: %s: japanize: %v", c.name, err)
			if c.reg.stats != nil {
				c.reg.stats.JapanizeFailed()
			}
			return
		}
		if converted == msg {
			return
		}
		line := strings.ReplaceAll(conf.JapanizeLine2Format, "%japanize", converted)
		line = strings.ReplaceAll(line, "%msg", msg)
		line = ReplaceColorCode(line)
		for _, m := range recipients {
			m.SendMessage(line)
		}
		if relayOut && c.IsRelay() && c.reg.relay != nil {
			c.reg.relay.SendChannelChat(c.Name(), sender.Name(), converted, conf.JapanizeLine2Format)
			if c.reg.stats != nil {
				c.reg.stats.RelayFrameOut()
			}
		}
		c.reg.LoggerFor(c.Name()).Log(converted, sender.Name())
	})
}

// chatRecipients filters the live member set: channel-level hidden members
// drop out, as does anyone hiding the sender; world-scoped channels only
// reach members in the sender's world.
func (c *Channel) chatRecipients(sender member.Member) []member.Member {
	hiders := memberIDSet(c.reg.ObserversHiding(sender))

	c.mu.Lock()
	hidden := memberIDSet(c.hidden)
	c.mu.Unlock()

	scopeWorld := ""
	if c.IsWorldRange() || c.ChatRange() > 0 {
		scopeWorld = sender.WorldName()
	}

	var out []member.Member
	for _, m := range c.Members() {
		if _, ok := hidden[m.ID()]; ok {
			continue
		}
		if _, ok := hiders[m.ID()]; ok {
			continue
		}
		if scopeWorld != "" && m.WorldName() != scopeWorld && !member.Equals(m, sender) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SendPreformatted delivers an already-formatted line to the channel's
// current members without re-entering the pipeline.
func (c *Channel) SendPreformatted(line string) {
	for _, m := range c.Members() {
		m.SendMessage(line)
	}
	c.reg.LoggerFor(c.Name()).Log(line, "")
}

func memberIDSet(list []member.Member) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, m := range list {
		out[m.ID()] = struct{}{}
	}
	return out
}

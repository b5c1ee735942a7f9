package channel

import "github.com/hikarimc/lanternchat/pkg/member"

// Result is the outcome of an extension-point call. A hook either lets the
// operation proceed, cancels it, or overrides the target channel and/or
// message text.
type Result struct {
	Cancelled bool
	Channel   string // non-empty: overridden target channel name
	Message   string // non-empty: overridden message text
}

// Proceed is the zero-value result letting the operation continue unchanged.
var Proceed = Result{}

// Cancel returns a cancelling result.
func Cancel() Result { return Result{Cancelled: true} }

// CreateHook is consulted before a channel is created. It may rename the
// channel via Result.Channel or cancel the creation.
type CreateHook func(name string, requester member.Member) Result

// RemoveHook is consulted before a channel is removed.
type RemoveHook func(name string, requester member.Member) Result

// MemberChangeHook is consulted before a membership mutation commits. It
// receives the membership snapshots before and after the change.
type MemberChangeHook func(channelName string, before, after []member.Member) Result

// PreChatHook is consulted before any delivery side effect of an utterance.
// It may redirect to another channel, rewrite the text, or cancel outright.
type PreChatHook func(channelName string, sender member.Member, message string) Result

// Hooks is the registration point for all extension hooks. The zero value
// is usable and lets everything proceed.
type Hooks struct {
	create       []CreateHook
	remove       []RemoveHook
	memberChange []MemberChangeHook
	preChat      []PreChatHook
}

// OnCreate registers a channel-creation hook.
func (h *Hooks) OnCreate(hook CreateHook) { h.create = append(h.create, hook) }

// OnRemove registers a channel-removal hook.
func (h *Hooks) OnRemove(hook RemoveHook) { h.remove = append(h.remove, hook) }

// OnMemberChange registers a membership-change hook.
func (h *Hooks) OnMemberChange(hook MemberChangeHook) {
	h.memberChange = append(h.memberChange, hook)
}

// OnPreChat registers a pre-chat hook.
func (h *Hooks) OnPreChat(hook PreChatHook) { h.preChat = append(h.preChat, hook) }

// fireCreate runs the creation hooks in order. The returned name reflects
// any rename; ok is false when a hook cancelled.
func (h *Hooks) fireCreate(name string, requester member.Member) (string, bool) {
	if h == nil {
		return name, true
	}
	for _, hook := range h.create {
		res := hook(name, requester)
		if res.Cancelled {
			return name, false
		}
		if res.Channel != "" {
			name = res.Channel
		}
	}
	return name, true
}

func (h *Hooks) fireRemove(name string, requester member.Member) bool {
	if h == nil {
		return true
	}
	for _, hook := range h.remove {
		if hook(name, requester).Cancelled {
			return false
		}
	}
	return true
}

func (h *Hooks) fireMemberChange(channelName string, before, after []member.Member) bool {
	if h == nil {
		return true
	}
	for _, hook := range h.memberChange {
		if hook(channelName, before, after).Cancelled {
			return false
		}
	}
	return true
}

// firePreChat runs the pre-chat hooks. The returned channel name and
// message reflect any overrides; ok is false when a hook cancelled.
func (h *Hooks) firePreChat(channelName string, sender member.Member, message string) (string, string, bool) {
	if h == nil {
		return channelName, message, true
	}
	for _, hook := range h.preChat {
		res := hook(channelName, sender, message)
		if res.Cancelled {
			return channelName, message, false
		}
		if res.Channel != "" {
			channelName = res.Channel
		}
		if res.Message != "" {
			message = res.Message
		}
	}
	return channelName, message, true
}

package channel

// System message templates. %ch, %color, %username, %player are substituted.
const (
	msgJoin            = "&7%username has joined %ch."
	msgQuit            = "&7%username has left %ch."
	msgAddModerator    = "&7%username is now a moderator of %ch."
	msgRemoveModerator = "&7%username is no longer a moderator of %ch."
	msgBanExpired      = "&7The ban on %username in %ch has expired."
	msgMuteExpired     = "&7The mute on %username in %ch has expired."
)

// Error messages surfaced to the acting member on policy rejections.
const (
	ErrMsgNotMember  = "&cYou are not a member of that channel."
	ErrMsgMuted      = "&cYou are muted in this channel."
	ErrMsgBanned     = "&cYou are banned from this channel."
	ErrMsgNoPermission = "&cYou do not have permission to do that."
)

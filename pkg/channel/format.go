package channel

import (
	"regexp"
	"strings"
	"time"

	"github.com/hikarimc/lanternchat/pkg/member"
)

// Color code handling. Chat text carries "&x" color candidates which are
// translated to the section-sign form the client renders.
var (
	colorCandidate = regexp.MustCompile(`&([0-9a-fk-or])`)
	colorCode      = regexp.MustCompile(`§[0-9a-fk-or]`)
)

// ReplaceColorCode turns &x color candidates into real color codes.
func ReplaceColorCode(s string) string {
	return colorCandidate.ReplaceAllString(s, "§$1")
}

// StripColorCode removes real color codes from a string.
func StripColorCode(s string) string {
	return colorCode.ReplaceAllString(s, "")
}

// RemoveColorCandidates deletes &x candidates without translating them,
// used when the speaker lacks the color permission.
func RemoveColorCandidates(s string) string {
	return colorCandidate.ReplaceAllString(s, "")
}

// Asterisks returns a run of n asterisks, used for NG-word masking.
func Asterisks(n int) string {
	return strings.Repeat("*", n)
}

// MaskNGWords replaces every match of each pattern with an asterisk run of
// identical length, preserving the message layout.
func MaskNGWords(msg string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		msg = re.ReplaceAllStringFunc(msg, func(m string) string {
			return Asterisks(len([]rune(m)))
		})
	}
	return msg
}

const (
	dateLayout = "2006/01/02"
	timeLayout = "15:04:05"
)

// PrefixProvider supplies the %prefix/%suffix decorations from an external
// identity-prefix source. A nil provider yields empty decorations.
type PrefixProvider interface {
	Prefix(m member.Member) string
	Suffix(m member.Member) string
}

// formatContext carries everything placeholder substitution needs.
type formatContext struct {
	channelName string
	colorCode   string
	sender      member.Member
	prefixes    PrefixProvider
	now         time.Time
}

// replaceKeywords substitutes the recognized placeholders in a format
// template. %msg is deliberately left for the caller so the message body is
// spliced in after color policy is applied. Unknown placeholders are left
// untouched.
func replaceKeywords(format string, fc formatContext) string {
	r := strings.NewReplacer(
		"%ch", fc.channelName,
		"%color", fc.colorCode,
		"%username", fc.sender.DisplayName(),
		"%player", fc.sender.Name(),
	)
	out := r.Replace(format)

	if strings.Contains(out, "%date") {
		out = strings.ReplaceAll(out, "%date", fc.now.Format(dateLayout))
	}
	if strings.Contains(out, "%time") {
		out = strings.ReplaceAll(out, "%time", fc.now.Format(timeLayout))
	}
	if strings.Contains(out, "%prefix") || strings.Contains(out, "%suffix") {
		prefix, suffix := "", ""
		if fc.prefixes != nil {
			prefix = fc.prefixes.Prefix(fc.sender)
			suffix = fc.prefixes.Suffix(fc.sender)
		}
		out = strings.ReplaceAll(out, "%prefix", prefix)
		out = strings.ReplaceAll(out, "%suffix", suffix)
	}
	if strings.Contains(out, "%world") {
		out = strings.ReplaceAll(out, "%world", fc.sender.WorldName())
	}
	if strings.Contains(out, "%server") {
		out = strings.ReplaceAll(out, "%server", fc.sender.ServerName())
	}

	return ReplaceColorCode(out)
}

// Package japanize converts romanized chat text toward a natural Japanese
// rendering. It runs a cheap local stage (romaji to hiragana plus dictionary
// substitution) and an optional remote IME stage that picks a kanji rendering
// for hiragana-only text.
package japanize

import (
	"regexp"
	"unicode/utf8"
)

// Type selects how far the conversion goes.
type Type int

const (
	// None disables conversion.
	None Type = iota
	// Kana runs only the local romaji-to-hiragana stage.
	Kana
	// GoogleIME additionally round-trips the kana through the remote IME.
	GoogleIME
)

// TypeByID maps a persisted type id to a Type. Unknown ids return def.
func TypeByID(id string, def Type) Type {
	switch id {
	case "none":
		return None
	case "kana":
		return Kana
	case "googleime":
		return GoogleIME
	}
	return def
}

// ID returns the persisted identifier for the type.
func (t Type) ID() string {
	switch t {
	case Kana:
		return "kana"
	case GoogleIME:
		return "googleime"
	}
	return "none"
}

var halfKanaOnly = regexp.MustCompile(`^[ \x{FF61}-\x{FF9F}]+$`)

// ShouldSkip reports whether a message must bypass conversion entirely:
// text that already contains a multi-byte character, or consists solely of
// half-width katakana, gains nothing from transliteration.
func ShouldSkip(msg string) bool {
	if utf8.RuneCountInString(msg) != len(msg) {
		return true
	}
	return halfKanaOnly.MatchString(msg)
}

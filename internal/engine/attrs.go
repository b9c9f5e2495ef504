package engine

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Attribute limits enforced at the boundary.
const (
	MaxNameLen     = 24  // runes
	MaxMessageLen  = 900 // runes
	MaxClientIDLen = 80  // bytes

	fallbackName = "NoName"
)

// Levels is the ordered set of accepted proficiency levels.
var Levels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// Genders is the set of accepted gender attributes.
var Genders = []string{"male", "female"}

// NormalizeLevel upper-cases and validates a proficiency level. The second
// return is false for anything outside the accepted set.
func NormalizeLevel(s string) (string, bool) {
	level := strings.ToUpper(strings.TrimSpace(s))
	for _, l := range Levels {
		if level == l {
			return level, true
		}
	}
	return "", false
}

// NormalizeGender lower-cases and validates a gender attribute.
func NormalizeGender(s string) (string, bool) {
	gender := strings.ToLower(strings.TrimSpace(s))
	for _, g := range Genders {
		if gender == g {
			return gender, true
		}
	}
	return "", false
}

// CompatKey builds the compatibility bucket for a normalized (level, gender)
// pair. Only connections with identical keys are ever paired.
func CompatKey(level, gender string) string {
	return level + "__" + gender
}

// SanitizeName trims, strips control characters, collapses repeated whitespace
// and clamps to MaxNameLen runes. Empty results fall back to a placeholder.
func SanitizeName(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteRune(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	name := strings.TrimSpace(b.String())
	if name == "" {
		return fallbackName
	}

	runes := []rune(name)
	if len(runes) > MaxNameLen {
		name = strings.TrimSpace(string(runes[:MaxNameLen]))
		if name == "" {
			return fallbackName
		}
	}
	return name
}

// SanitizeClientID validates a caller-supplied identity token. Tokens are
// clamped to MaxClientIDLen bytes and must be printable ASCII without spaces;
// anything else is replaced with a fresh generated identity.
func SanitizeClientID(s string) string {
	id := strings.TrimSpace(s)
	if id == "" {
		return uuid.NewString()
	}
	if len(id) > MaxClientIDLen {
		id = id[:MaxClientIDLen]
	}
	for _, r := range id {
		if r <= ' ' || r > '~' {
			return uuid.NewString()
		}
	}
	return id
}

// SanitizeMessage strips carriage returns and control characters (newline and
// tab survive), trims surrounding whitespace and clamps to MaxMessageLen
// runes. The empty string means the message should be silently dropped.
func SanitizeMessage(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	text := strings.TrimSpace(b.String())
	runes := []rune(text)
	if len(runes) > MaxMessageLen {
		text = string(runes[:MaxMessageLen])
	}
	return text
}

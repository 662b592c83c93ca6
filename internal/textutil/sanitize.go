package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugRunes = 64

// Slug converts a title to a lowercase, hyphen-separated ASCII token for file
// and directory names. Diacritics are dropped; anything else outside [a-z0-9]
// separates words. Returns "untitled" when nothing survives.
func Slug(title string) string {
	var b strings.Builder
	pendingDash := false
	runes := 0
	for _, r := range norm.NFD.String(title) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if runes >= maxSlugRunes {
				break
			}
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
				runes++
			}
			pendingDash = false
			b.WriteRune(r)
			runes++
			continue
		}
		pendingDash = true
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	return out
}

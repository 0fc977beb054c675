package memory

import "strings"

// DefaultSlug is the slug used when a character name is empty or contains no
// usable characters.
const DefaultSlug = "default"

// Slug derives the stable memory-document key from a character's display
// name: lowercase, runs of non-alphanumeric characters collapsed to a single
// '-', no leading or trailing separators.
//
// Renaming a character therefore re-scopes its memory deterministically:
// "Rin Ayanami" and "rin---ayanami!" share one document.
func Slug(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('-')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return DefaultSlug
	}
	return b.String()
}

// Package sanitize post-processes raw model output into a single in-character
// reply: truncating at leaked dialogue markers, stripping self-prefixes, and
// bounding length. The same package also derives the stop-sequence list sent
// to providers, so generation and cleanup agree on what a leak looks like.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SilentPlaceholder replaces output that sanitizes down to nothing. The turn
// still commits; the character just has nothing to say.
const SilentPlaceholder = "(the character is silent)"

// Output length bounds. Replies longer than maxOutputChars are cut to
// truncateTo characters plus an ellipsis.
const (
	maxOutputChars = 1200
	truncateTo     = 1180
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	// genericStops are appended after the name-derived stops for models that
	// fall back to generic speaker labels.
	genericStops = []string{"User:", "\nUser:", "Player:", "\nPlayer:", "Bot:", "\nBot:"}
)

// StopSequences builds the ordered stop list for a user/character pair:
// name-derived markers first, then the generic speaker labels, with
// duplicates removed while preserving order.
func StopSequences(userName, characterName string) []string {
	var raw []string
	for _, name := range []string{userName, characterName} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		raw = append(raw, name+":", "\n"+name+":")
	}
	raw = append(raw, genericStops...)

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Clean turns raw model output into the final reply text:
//
//  1. trim surrounding whitespace
//  2. strip a leading "CharacterName:" self-prefix
//  3. truncate at the earliest occurrence of any stop sequence
//  4. collapse runs of 3+ newlines to a paragraph break
//  5. bound the total length
//
// The self-prefix is stripped before stop truncation because the character
// name is itself a stop sequence; a reply opening with "Name:" would
// otherwise be cut to nothing.
//
// Output that ends up empty becomes [SilentPlaceholder].
func Clean(raw, userName, characterName string) string {
	text := strings.TrimSpace(raw)

	if name := strings.TrimSpace(characterName); name != "" {
		prefix := regexp.MustCompile(`^(?i)` + regexp.QuoteMeta(name) + `[:\s,-]*`)
		text = prefix.ReplaceAllString(text, "")
	}

	cut := len(text)
	for _, stop := range StopSequences(userName, characterName) {
		if idx := strings.Index(text, stop); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	text = strings.TrimSpace(text[:cut])

	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if len(text) > maxOutputChars {
		cut := truncateTo
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	if text == "" {
		return SilentPlaceholder
	}
	return text
}

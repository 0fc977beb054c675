package memory

import (
	"fmt"
	"strings"
)

// summaryWindow is how many of the newest entries each list contributes to
// the summary.
const summaryWindow = 6

// Summarize renders the active document into the fixed labeled-block format
// injected into prompts. This string is the only channel through which memory
// reaches the prompt compiler; nothing downstream reads the raw document.
//
// The rendering is deterministic: same document, same output.
func (e *Engine) Summarize() string {
	if e.doc == nil {
		return ""
	}
	doc := e.doc

	facts := lastTexts(doc.Facts, summaryWindow)
	world := lastTexts(doc.World, summaryWindow)

	var events []string
	for _, en := range lastEntries(doc.Events, summaryWindow) {
		events = append(events, fmt.Sprintf("%s: %s", en.Timestamp.Format("2006-01-02"), en.Text))
	}

	rel := "(no relationship data)"
	if len(doc.Relationships) > 0 {
		r := doc.Relationships[0]
		rel = fmt.Sprintf("%s (score=%.1f)", r.Text, r.Score)
	}

	lines := []string{
		"--- MEMORY SUMMARY ---",
		labelled("Facts", strings.Join(facts, "; ")),
		labelled("World", strings.Join(world, "; ")),
		labelled("Recent events", strings.Join(events, " | ")),
		"Relationship: " + rel,
		fmt.Sprintf("Emotion - trust:%.2f, affinity:%.2f, tension:%.2f, curiosity:%.2f",
			doc.Emotion.Trust, doc.Emotion.Affinity, doc.Emotion.Tension, doc.Emotion.Curiosity),
		"----------------------",
	}
	return strings.Join(lines, "\n")
}

func labelled(label, joined string) string {
	if joined == "" {
		return label + ": (none)"
	}
	return label + ": " + joined
}

func lastEntries(list []Entry, n int) []Entry {
	if len(list) > n {
		return list[len(list)-n:]
	}
	return list
}

func lastTexts(list []Entry, n int) []string {
	var out []string
	for _, en := range lastEntries(list, n) {
		out = append(out, en.Text)
	}
	return out
}

// Package prompt compiles persona templates into final prompt strings.
// Templates use {{variable}} placeholders; compilation is pure string
// substitution with no conditionals or loops, so the same template and
// variables always produce the same prompt.
package prompt

import (
	"regexp"
	"strings"
)

// placeholderRe matches {{variable}} placeholders. Variable names are
// restricted to word characters; anything else is left verbatim.
var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Compile substitutes every {{variable}} in template with its value from
// vars. Placeholders with no entry in vars are replaced with the empty
// string, never left as literal braces in the output.
func Compile(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[2 : len(m)-2]
		return vars[name]
	})
}

// Placeholder names used by [DefaultTemplate]. Callers populating vars for
// Compile should key on these.
const (
	VarCharName    = "char_name"
	VarUserName    = "user_name"
	VarPersona     = "persona"
	VarScenario    = "scenario"
	VarPlayerNotes = "player_notes"
	VarMemory      = "memory"
	VarDialogue    = "dialogue"
)

// DefaultTemplate is the standard prompt layout: an absolute system preamble
// followed by the character sheet, world rules, memory summary, player notes,
// the recent dialogue window, and response instructions, ending with the
// character's name as a completion cue.
const DefaultTemplate = `SYSTEM: You are a roleplay engine and MUST always stay in character.
- Never reveal you are an AI, program, or assistant.
- Always speak in first-person as the character.
- Never output any user lines (e.g., "Player:", "User:").
- Follow the Character Sheet, World Rules, and Player Notes. If conflicts arise, System and World Rules take precedence.
- Avoid explicit sexual content, hate, and instructions for real-world wrongdoing. Provide safe in-character refusals if needed.
END SYSTEM.

--- CHARACTER SHEET ---
Name: {{char_name}}
{{persona}}

--- WORLD RULES ---
{{scenario}}

--- MEMORY ---
{{memory}}

--- PLAYER NOTES (flavor only) ---
{{player_notes}}

--- RECENT DIALOGUE ---
{{dialogue}}

--- RESPONSE INSTRUCTIONS ---
Respond as {{char_name}} in first-person. Keep responses concise (roughly 1-6 sentences). Stay in-character. Do not output {{user_name}}: or any user lines. End with an action or emotional beat when appropriate.

{{char_name}}:`

// DialogueTurn is one line of the recent-dialogue window.
type DialogueTurn struct {
	// Role is "user" for player turns; anything else is attributed to the
	// character.
	Role string

	Content string
}

// FormatDialogue renders turns as speaker-prefixed lines for the
// {{dialogue}} section. An empty window renders as "(no recent dialogue)".
func FormatDialogue(turns []DialogueTurn, userName, charName string) string {
	if len(turns) == 0 {
		return "(no recent dialogue)"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := charName
		if t.Role == "user" {
			speaker = userName
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

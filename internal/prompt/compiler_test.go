package prompt_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/reverie/internal/prompt"
)

func TestCompileSubstitutesAndBlanksUnknowns(t *testing.T) {
	got := prompt.Compile("Hello {{name}}, {{missing}}!", map[string]string{"name": "Rin"})
	if got != "Hello Rin, !" {
		t.Errorf("Compile = %q, want %q", got, "Hello Rin, !")
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	vars := map[string]string{"a": "1", "b": "2"}
	tpl := "{{a}}-{{b}}-{{a}}"
	first := prompt.Compile(tpl, vars)
	if first != "1-2-1" {
		t.Fatalf("Compile = %q, want %q", first, "1-2-1")
	}
	if again := prompt.Compile(tpl, vars); again != first {
		t.Error("identical inputs produced different prompts")
	}
}

func TestCompileLeavesMalformedBracesAlone(t *testing.T) {
	got := prompt.Compile("{{not closed, {single}, {{bad name!}}", nil)
	if got != "{{not closed, {single}, {{bad name!}}" {
		t.Errorf("Compile mangled non-placeholder braces: %q", got)
	}
}

func TestDefaultTemplateSections(t *testing.T) {
	vars := map[string]string{
		prompt.VarCharName:    "Rin",
		prompt.VarUserName:    "Traveler",
		prompt.VarPersona:     "A stoic swordswoman.",
		prompt.VarScenario:    "Feudal-era fantasy.",
		prompt.VarPlayerNotes: "(none)",
		prompt.VarMemory:      "--- MEMORY SUMMARY ---",
		prompt.VarDialogue:    "Traveler: hello",
	}
	got := prompt.Compile(prompt.DefaultTemplate, vars)

	for _, want := range []string{
		"SYSTEM: You are a roleplay engine",
		"--- CHARACTER SHEET ---",
		"Name: Rin",
		"A stoic swordswoman.",
		"--- WORLD RULES ---",
		"--- MEMORY ---",
		"--- PLAYER NOTES (flavor only) ---",
		"--- RECENT DIALOGUE ---",
		"Traveler: hello",
		"--- RESPONSE INSTRUCTIONS ---",
		"Respond as Rin in first-person",
		"Do not output Traveler:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("compiled prompt missing %q", want)
		}
	}
	if !strings.HasSuffix(got, "Rin:") {
		t.Errorf("prompt should end with the completion cue, got tail %q", got[len(got)-20:])
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unsubstituted placeholder left in prompt:\n%s", got)
	}
}

func TestFormatDialogue(t *testing.T) {
	turns := []prompt.DialogueTurn{
		{Role: "user", Content: "Who goes there?"},
		{Role: "assistant", Content: "A friend."},
	}
	got := prompt.FormatDialogue(turns, "Traveler", "Rin")
	want := "Traveler: Who goes there?\nRin: A friend."
	if got != want {
		t.Errorf("FormatDialogue = %q, want %q", got, want)
	}
}

func TestFormatDialogueEmptyWindow(t *testing.T) {
	if got := prompt.FormatDialogue(nil, "Traveler", "Rin"); got != "(no recent dialogue)" {
		t.Errorf("FormatDialogue(nil) = %q", got)
	}
}

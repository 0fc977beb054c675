package memory

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule is one (pattern, mutation) pair of the heuristic extractor. Rules are
// evaluated independently per message: each match triggers its mutation
// immediately, several rules may fire on one message, and evaluation order
// does not affect the resulting document because all mutations are additive.
type Rule struct {
	// Name identifies the rule in logs, metrics, and tests.
	Name string

	// Pattern is matched case-insensitively against the whole message unless
	// the rule deliberately requires original casing (proper-noun cues).
	Pattern *regexp.Regexp

	// Apply performs the rule's mutation. match holds the submatches of
	// Pattern against the message (index 0 is the full match); text is the
	// whole trimmed message.
	Apply func(ctx context.Context, e *Engine, match []string, text string) error
}

// UserRules returns the rule table applied to user-authored messages.
// The returned slice is shared; callers must not modify it.
func UserRules() []Rule { return userRules }

// AssistantRules returns the rule table applied to character-authored
// messages. The returned slice is shared; callers must not modify it.
func AssistantRules() []Rule { return assistantRules }

// ExtractFromUserMessage scans a user message for the fixed linguistic cues —
// self-identification, location statements, shared experiences, trust
// expressions, emotional keywords — and records whatever it finds. A short
// message (at most fallbackMaxWords words, more than fallbackMinChars
// characters, containing a letter) that triggers no rule is itself recorded
// as a fact.
func (e *Engine) ExtractFromUserMessage(ctx context.Context, text string) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	matched, err := e.applyRules(ctx, userRules, text)
	if err != nil {
		return err
	}
	if !matched && isShortFactCandidate(text) {
		return e.RecordFact(ctx, sentenceCase(text))
	}
	return nil
}

// ExtractFromAssistantMessage scans a character reply for promises,
// declarations of affection or distrust, discoveries, and world statements.
func (e *Engine) ExtractFromAssistantMessage(ctx context.Context, text string) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := e.applyRules(ctx, assistantRules, text)
	return err
}

// applyRules runs every rule whose pattern matches text. Rule failures are
// collected rather than aborting the scan: one broken persist should not
// silence the remaining rules.
func (e *Engine) applyRules(ctx context.Context, rules []Rule, text string) (bool, error) {
	matched := false
	var errs []error
	for _, r := range rules {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		matched = true
		if e.ruleHook != nil {
			e.ruleHook(ctx, r.Name)
		}
		if err := r.Apply(ctx, e, m, text); err != nil {
			errs = append(errs, err)
		}
	}
	return matched, errors.Join(errs...)
}

const (
	fallbackMaxWords = 6
	fallbackMinChars = 8
)

func isShortFactCandidate(text string) bool {
	if len(text) <= fallbackMinChars {
		return false
	}
	if len(strings.Fields(text)) > fallbackMaxWords {
		return false
	}
	return strings.IndexFunc(text, unicode.IsLetter) >= 0
}

// sentenceCase upper-cases the first rune of s.
func sentenceCase(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Extraction deltas.
const (
	relationshipCueDelta = 0.6
	promiseDelta         = 0.8
	mildComplimentDelta  = 0.1
)

// recordFactRule builds a rule that records the sentence-cased full match as
// a fact.
func recordFactRule(name, pattern string) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Apply: func(ctx context.Context, e *Engine, m []string, _ string) error {
			return e.RecordFact(ctx, sentenceCase(m[0]))
		},
	}
}

// recordWorldRule builds a rule that records the sentence-cased first capture
// as world lore, bounded to 3–80 characters.
func recordWorldRule(name, pattern string) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Apply: func(ctx context.Context, e *Engine, m []string, _ string) error {
			capture := strings.TrimSpace(m[1])
			if len(capture) < 3 || len(capture) > 80 {
				return nil
			}
			return e.RecordWorld(ctx, sentenceCase(capture))
		},
	}
}

// recordEventRule builds a rule that records the sentence-cased full match as
// an event.
func recordEventRule(name, pattern string) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Apply: func(ctx context.Context, e *Engine, m []string, _ string) error {
			return e.RecordEvent(ctx, sentenceCase(m[0]))
		},
	}
}

// relationshipRule builds a rule that nudges the primary relationship and
// notes what was said.
func relationshipRule(name, pattern, notePrefix string, delta float64) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Apply: func(ctx context.Context, e *Engine, m []string, _ string) error {
			return e.UpdateRelationship(ctx, notePrefix+m[0], delta)
		},
	}
}

// emotionRule builds a rule that applies a fixed emotion delta.
func emotionRule(name, pattern string, delta EmotionDelta) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Apply: func(ctx context.Context, e *Engine, _ []string, _ string) error {
			return e.AdjustEmotion(ctx, delta)
		},
	}
}

var userRules = []Rule{
	// Self-identification and preferences.
	recordFactRule("fact.i-am", `(?i)\bi am ([a-z0-9 ,.'"-]+)`),
	recordFactRule("fact.im", `(?i)\bi'm ([a-z0-9 ,.'"-]+)`),
	recordFactRule("fact.my-name-is", `(?i)\bmy name is ([a-z0-9 ,.'"-]+)`),
	recordFactRule("fact.i-like", `(?i)\bi (?:like|love) ([a-z0-9 ,.'"-]+)`),
	recordFactRule("fact.i-dislike", `(?i)\bi (?:dislike|hate|don't like) ([a-z0-9 ,.'"-]+)`),
	recordFactRule("fact.occupation", `(?i)\bi (?:work|study) as ([a-z0-9 ,.'"-]+)`),

	// Location and world statements.
	recordWorldRule("world.in-the", `(?i)\bin the ([a-z0-9 ]{3,80})`),
	recordWorldRule("world.at-the", `(?i)\bat the ([a-z0-9 ]{3,80})`),
	recordWorldRule("world.on-the", `(?i)\bon the ([a-z0-9 ]{3,80})`),

	// Shared experiences.
	recordEventRule("event.we-did", `(?i)\bwe (?:met|discovered|found|saw|escaped|arrived|left|defeated) [a-z0-9 ,.'"-]+`),
	recordEventRule("event.when", `(?i)\b(?:yesterday|today|last night|this morning)[, ]+[a-z0-9 ,.'"-]+`),
	recordEventRule("event.remember", `(?i)\bremember that .+`),

	// Trust and affinity cues toward the character.
	relationshipRule("rel.positive", `(?i)\bi (?:trust|like|love) (?:you|her|him|them)\b`,
		"User expressed: ", relationshipCueDelta),
	relationshipRule("rel.negated", `(?i)\bi (?:don'?t|do not) (?:trust|like|love) (?:you|her|him|them)\b`,
		"User expressed: ", -relationshipCueDelta),
	relationshipRule("rel.hostile", `(?i)\bi (?:hate|dislike) (?:you|her|him|them)\b`,
		"User expressed: ", -relationshipCueDelta),
	relationshipRule("rel.judgement", `(?i)\byou (?:are|seem) (?:nice|kind|mean|cruel|rude)\b`,
		"User said: ", mildComplimentDelta),

	// Lexical emotion nudges.
	emotionRule("emo.thanks", `(?i)thank`, EmotionDelta{Trust: 0.2, Affinity: 0.2}),
	emotionRule("emo.sorry", `(?i)sorry`, EmotionDelta{Trust: -0.1, Affinity: -0.1, Tension: -0.1}),
	emotionRule("emo.hostility", `(?i)\b(?:kill|hate|die)\b`, EmotionDelta{Tension: 0.5}),
}

var assistantRules = []Rule{
	// Promises bind the character: remembered as an event and a strong
	// relationship signal.
	{
		Name:    "promise",
		Pattern: regexp.MustCompile(`(?i)\bi (?:will (?:never|always)\b|promise\b|swear\b)`),
		Apply: func(ctx context.Context, e *Engine, _ []string, text string) error {
			if err := e.RecordEvent(ctx, "Promise: "+text); err != nil {
				return err
			}
			return e.UpdateRelationship(ctx, "Character promised: "+text, promiseDelta)
		},
	},

	// World statements mirror the user-side location cues, plus proper-noun
	// "the X" phrasing which keeps its original casing.
	recordWorldRule("world.in-the", `(?i)\bin the ([a-z0-9 ]{3,80})`),
	recordWorldRule("world.at-the", `(?i)\bat the ([a-z0-9 ]{3,80})`),
	recordWorldRule("world.proper-noun", `\bthe ([A-Z][a-zA-Z0-9]+(?: [A-Z][a-zA-Z0-9]+)*)`),

	// Shared discoveries.
	recordEventRule("event.discovery", `(?i)\bwe (?:discovered|found|escaped|defeated|arrived)\b.*`),

	// Declarations of affection / distrust shift the emotional state.
	emotionRule("emo.affection", `(?i)\bi (?:like|love) you\b`,
		EmotionDelta{Affinity: 0.6, Trust: 0.3}),
	emotionRule("emo.distrust", `(?i)\bi (?:distrust|don'?t trust|do not trust)\b`,
		EmotionDelta{Trust: -0.8, Tension: 0.6}),
}

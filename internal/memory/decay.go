package memory

import (
	"regexp"
	"strings"
)

// Key fragments that force a decay class regardless of text. Checked as
// substrings of the lowercased key, first matching rule wins.
var (
	permanentKeyParts = []string{
		"birthday", "born", "email", "phone", "name", "real_name",
		"full_name", "api_key", "architecture", "language", "location",
		"stack",
	}
	sessionKeyParts = []string{
		"current_file", "temp", "debug", "working_on_right_now",
	}
	activeKeyParts = []string{
		"current_task", "active_branch", "sprint", "milestone", "task",
		"todo", "wip", "branch", "blocker",
	}
)

// Text patterns per class. The English permanence rule matches bare
// "always"/"never" anywhere in the text; that breadth is intentional here
// and pinned by tests (the French extractor narrows its equivalents).
var (
	permanentIdentityRe = regexp.MustCompile(`(?i)born on|birthday is|email is|phone number`)
	permanentDecisionRe = regexp.MustCompile(`(?i)decided|architecture|always use|never use|always\b|never\b`)
	sessionTextRe       = regexp.MustCompile(`(?i)currently debugging|right now|this session`)
	activeTextRe        = regexp.MustCompile(`(?i)working on|need to fix|todo:?|wip`)
)

// ClassifyDecay maps a candidate record to its decay class. Rule precedence
// is fixed: permanent key fragments, identity text, decision text, decision
// entities, session, active, checkpoint, then stable.
func ClassifyDecay(entity, key, value, text string) DecayClass {
	lkey := strings.ToLower(strings.TrimSpace(key))
	lentity := strings.ToLower(strings.TrimSpace(entity))

	for _, part := range permanentKeyParts {
		if lkey != "" && strings.Contains(lkey, part) {
			return DecayPermanent
		}
	}
	if permanentIdentityRe.MatchString(text) {
		return DecayPermanent
	}
	if permanentDecisionRe.MatchString(text) {
		return DecayPermanent
	}
	if lentity == "decision" || lentity == "convention" {
		return DecayPermanent
	}

	for _, part := range sessionKeyParts {
		if lkey != "" && strings.Contains(lkey, part) {
			return DecaySession
		}
	}
	if sessionTextRe.MatchString(text) {
		return DecaySession
	}

	for _, part := range activeKeyParts {
		if lkey != "" && strings.Contains(lkey, part) {
			return DecayActive
		}
	}
	if lentity == "project" || lentity == "sprint" {
		return DecayActive
	}
	if activeTextRe.MatchString(text) {
		return DecayActive
	}

	if strings.HasPrefix(lkey, "checkpoint:") || strings.Contains(lkey, "preflight") {
		return DecayCheckpoint
	}

	return DecayStable
}

// CalculateExpiry returns the absolute expiry second for a class, or
// ExpiresNever for permanent records.
func CalculateExpiry(class DecayClass, now int64) int64 {
	if class == DecayPermanent {
		return ExpiresNever
	}
	return now + TTL(class)
}

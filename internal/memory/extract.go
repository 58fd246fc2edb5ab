package memory

import (
	"regexp"
	"strings"
)

// Triple is the structured identity extracted from a statement.
type Triple struct {
	Entity string
	Key    string
	Value  string
}

// maxKeyLen bounds extracted keys; longer keys are truncated, not rejected.
const maxKeyLen = 100

// A matcher recognizes one statement shape. Matchers run in declared order
// and the first non-empty triple wins.
type matcher struct {
	name string
	fn   func(text string) (Triple, bool)
}

const (
	noRationaleEN = "no rationale recorded"
	noRationaleFR = "aucune justification enregistrée"
)

var (
	decisionENRe = regexp.MustCompile(`(?i)\b(?:decided(?:\s+(?:to|on))?|chose|picked|went\s+with|selected)\s+(.+?)(?:\s+because\s+(.+?))?[.!]?\s*$`)
	decisionFRRe = regexp.MustCompile(`(?i)\b(?:décidé(?:\s+(?:de|d'))?|choisi(?:\s+de)?|opté\s+pour)\s+(.+?)(?:\s+parce\s+qu(?:e|')\s*(.+?))?[.!]?\s*$`)

	choiceENRe = regexp.MustCompile(`(?i)\buse\s+(.+?)\s+over\s+(.+?)[.!]?\s*$`)
	choiceFRRe = regexp.MustCompile(`(?i)\butiliser\s+(.+?)\s+plutôt\s+que\s+(.+?)[.!]?\s*$`)

	ruleENRe = regexp.MustCompile(`(?i)\b(?:always|never)\s+(.+?)[.!]?\s*$`)
	// The French rule is narrowed to concrete verbs, unlike its English
	// counterpart which matches any trailing clause.
	ruleFRRe = regexp.MustCompile(`(?i)\b(?:toujours|jamais)\s+((?:utiliser|faire|mettre)\s+.+?)[.!]?\s*$`)
	neverRe  = regexp.MustCompile(`(?i)\bnever\b|\bjamais\b`)

	possessiveENRe = regexp.MustCompile(`^([A-ZÀ-Þ][\w-]*)['’]s\s+([\w\s-]+?)\s+is\s+(.+?)[.!]?\s*$`)
	myENRe         = regexp.MustCompile(`(?i)^my\s+([\w\s-]+?)\s+is\s+(.+?)[.!]?\s*$`)
	possessiveFRRe = regexp.MustCompile(`(?i)^l[ea]\s+([\w\s-]+?)\s+de\s+([A-ZÀ-Þ][\w-]*)\s+est\s+(.+?)[.!]?\s*$`)
	monFRRe        = regexp.MustCompile(`(?i)^m(?:on|a)\s+([\w\s-]+?)\s+est\s+(.+?)[.!]?\s*$`)

	preferenceENRe = regexp.MustCompile(`(?i)\bi\s+(prefer|like|love|hate|want|need|use)\s+(.+?)[.!]?\s*$`)
	preferenceFRRe = regexp.MustCompile(`(?i)\b(?:je\s+(préfère|déteste|veux|utilise)|j['’](aime|adore|utilise))\s+(.+?)[.!]?\s*$`)

	emailRe = regexp.MustCompile(`([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`)
	phoneRe = regexp.MustCompile(`(\+?[0-9][0-9 ().-]{6,}[0-9])`)

	capitalizedWordRe = regexp.MustCompile(`\b([A-ZÀ-Þ][\w-]+)`)
)

// extractors is the ordered grammar. Declared order is the contract:
// decisions, choices, rules, possessives, preferences, then bare contact
// extraction with email taking precedence over phone.
var extractors = []matcher{
	{"decision_en", matchDecisionEN},
	{"decision_fr", matchDecisionFR},
	{"choice_en", matchChoiceEN},
	{"choice_fr", matchChoiceFR},
	{"rule_en", matchRuleEN},
	{"rule_fr", matchRuleFR},
	{"possessive_en", matchPossessiveEN},
	{"possessive_my_en", matchMyEN},
	{"possessive_fr", matchPossessiveFR},
	{"possessive_mon_fr", matchMonFR},
	{"preference_en", matchPreferenceEN},
	{"preference_fr", matchPreferenceFR},
	{"email", matchEmail},
	{"phone", matchPhone},
}

// Extract parses a statement into an (entity, key, value) triple. Matchers
// run first-match-wins; when the detected category is entity and no matcher
// fired, the first capitalized word becomes the entity with empty key/value.
func Extract(text string, category Category) (Triple, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Triple{}, false
	}

	for _, m := range extractors {
		if t, ok := m.fn(trimmed); ok {
			t.Key = cleanKey(t.Key)
			t.Entity = strings.TrimSpace(t.Entity)
			t.Value = strings.TrimSpace(t.Value)
			return t, true
		}
	}

	if category == CategoryEntity {
		if m := capitalizedWordRe.FindStringSubmatch(trimmed); m != nil {
			return Triple{Entity: m[1]}, true
		}
	}

	return Triple{}, false
}

func cleanKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) > maxKeyLen {
		key = key[:maxKeyLen]
	}
	return key
}

func matchDecisionEN(text string) (Triple, bool) {
	m := decisionENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	value := strings.TrimSpace(m[2])
	if value == "" {
		value = noRationaleEN
	}
	return Triple{Entity: "decision", Key: m[1], Value: value}, true
}

func matchDecisionFR(text string) (Triple, bool) {
	m := decisionFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	value := strings.TrimSpace(m[2])
	if value == "" {
		value = noRationaleFR
	}
	return Triple{Entity: "decision", Key: m[1], Value: value}, true
}

func matchChoiceEN(text string) (Triple, bool) {
	m := choiceENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "decision", Key: m[1], Value: "over " + strings.TrimSpace(m[2])}, true
}

func matchChoiceFR(text string) (Triple, bool) {
	m := choiceFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "decision", Key: m[1], Value: "plutôt que " + strings.TrimSpace(m[2])}, true
}

func ruleValue(text string) string {
	if neverRe.MatchString(text) {
		return "never"
	}
	return "always"
}

func matchRuleEN(text string) (Triple, bool) {
	m := ruleENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "convention", Key: m[1], Value: ruleValue(text)}, true
}

func matchRuleFR(text string) (Triple, bool) {
	m := ruleFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "convention", Key: m[1], Value: ruleValue(text)}, true
}

func matchPossessiveEN(text string) (Triple, bool) {
	m := possessiveENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: m[1], Key: strings.ToLower(m[2]), Value: m[3]}, true
}

func matchMyEN(text string) (Triple, bool) {
	m := myENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "user", Key: strings.ToLower(m[1]), Value: m[2]}, true
}

func matchPossessiveFR(text string) (Triple, bool) {
	m := possessiveFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: m[2], Key: strings.ToLower(m[1]), Value: m[3]}, true
}

func matchMonFR(text string) (Triple, bool) {
	m := monFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "user", Key: strings.ToLower(m[1]), Value: m[2]}, true
}

// preferenceKey normalizes a preference verb into a stable upsert key so
// "I like X" and "I love Y" land on distinct values of the same shape.
func preferenceKey(verb string) string {
	switch strings.ToLower(verb) {
	case "prefer", "like", "love", "préfère", "aime", "adore":
		return "prefers"
	case "hate", "déteste":
		return "dislikes"
	case "want", "need", "veux":
		return "needs"
	case "use", "utilise":
		return "uses"
	}
	return "prefers"
}

func matchPreferenceEN(text string) (Triple, bool) {
	m := preferenceENRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "user", Key: preferenceKey(m[1]), Value: m[2]}, true
}

func matchPreferenceFR(text string) (Triple, bool) {
	m := preferenceFRRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	verb := m[1]
	if verb == "" {
		verb = m[2]
	}
	return Triple{Entity: "user", Key: preferenceKey(verb), Value: m[3]}, true
}

func matchEmail(text string) (Triple, bool) {
	m := emailRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "user", Key: "email", Value: m[1]}, true
}

func matchPhone(text string) (Triple, bool) {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return Triple{}, false
	}
	return Triple{Entity: "user", Key: "phone", Value: strings.TrimSpace(m[1])}, true
}

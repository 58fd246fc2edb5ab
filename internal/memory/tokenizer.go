package memory

import (
	"strings"
	"unicode"
)

// Bilingual stopword set (English + French). Tokens in this set never reach
// the full-text index as query terms.
var stopwords = map[string]bool{
	// English
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "about": true, "than": true, "too": true, "very": true,
	"and": true, "but": true, "or": true, "nor": true, "so": true,
	"if": true, "then": true, "else": true, "when": true, "where": true,
	"why": true, "how": true, "what": true, "which": true, "who": true,
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "i": true, "you": true, "he": true,
	"she": true, "we": true, "they": true, "my": true, "your": true,
	"his": true, "her": true, "our": true, "their": true, "me": true,
	"him": true, "us": true, "them": true, "not": true, "no": true,
	"just": true, "also": true, "there": true, "here": true, "all": true,
	"some": true, "any": true, "each": true, "more": true, "most": true,
	// French
	"le": true, "la": true, "les": true, "un": true, "une": true,
	"des": true, "de": true, "du": true, "au": true, "aux": true,
	"et": true, "ou": true, "mais": true, "donc": true, "car": true,
	"ne": true, "pas": true, "plus": true, "moins": true, "tres": true,
	"très": true, "je": true, "tu": true, "il": true, "elle": true,
	"nous": true, "vous": true, "ils": true, "elles": true,
	"mon": true, "ma": true, "mes": true, "ton": true, "ta": true,
	"tes": true, "son": true, "sa": true, "ses": true, "notre": true,
	"nos": true, "votre": true, "vos": true, "leur": true, "leurs": true,
	"ce": true, "cet": true, "cette": true, "ces": true, "que": true,
	"qui": true, "quoi": true, "dont": true, "est": true, "sont": true,
	"etait": true, "était": true, "etre": true, "être": true, "avoir": true,
	"fait": true, "faire": true, "comme": true, "pour": true, "dans": true,
	"sur": true, "sous": true, "avec": true, "sans": true, "chez": true,
	"entre": true, "vers": true, "par": true, "si": true, "quand": true,
	"comment": true, "pourquoi": true, "aussi": true, "bien": true,
	"encore": true, "alors": true,
}

// keepRune reports whether a rune survives token cleaning: ASCII word
// characters, dash, and the Latin-1 accented range.
func keepRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
		return true
	}
	if r == '_' || r == '-' {
		return true
	}
	// Latin-1 accented letters (excludes × and ÷).
	if r >= 0x00C0 && r <= 0x00FF && r != 0x00D7 && r != 0x00F7 {
		return true
	}
	return false
}

// Tokenize splits a query into cleaned, lowercased tokens with stopwords and
// single-character tokens dropped.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(query, unicode.IsSpace)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if keepRune(r) {
				b.WriteRune(r)
			}
		}
		tok := strings.ToLower(b.String())
		if len([]rune(tok)) <= 1 {
			continue
		}
		if stopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// CompileQuery turns free text into an FTS5 match disjunction. Tokens of
// three or more characters become prefix terms; shorter tokens become exact
// phrases. Returns "" when nothing searchable remains, in which case the
// caller must not touch storage.
func CompileQuery(query string) string {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		// Tokens are already restricted to the safe alphabet, so quoting is
		// enough to keep FTS5 syntax out of the match string.
		if len([]rune(tok)) >= 3 {
			terms = append(terms, `"`+tok+`"*`)
		} else {
			terms = append(terms, `"`+tok+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}

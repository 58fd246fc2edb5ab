package memory

import (
	"sort"
	"strings"
)

// synonymTable maps a trigger term to the tags indexed alongside it. Matching
// is substring-based over the lowercased concatenation of text, entity, key
// and value, so "TypeScript" in text triggers the "typescript" row.
var synonymTable = map[string][]string{
	"typescript": {"ts", "javascript", "node", "frontend"},
	"javascript": {"js", "node", "ecmascript", "frontend"},
	"python":     {"py", "python3", "script", "backend"},
	"golang":     {"go", "backend", "server"},
	"rust":       {"cargo", "systems", "backend"},
	"database":   {"db", "sql", "storage", "persistence"},
	"postgres":   {"postgresql", "db", "sql", "database"},
	"sqlite":     {"db", "sql", "database", "embedded"},
	"redis":      {"cache", "kv", "store"},
	"docker":     {"container", "image", "deploy"},
	"kubernetes": {"k8s", "cluster", "deploy", "orchestration"},
	"api":        {"endpoint", "rest", "http", "service"},
	"frontend":   {"ui", "client", "web", "browser"},
	"backend":    {"server", "api", "service"},
	"auth":       {"authentication", "login", "oauth", "security"},
	"test":       {"testing", "spec", "unit", "coverage"},
	"bug":        {"defect", "issue", "error", "fix"},
	"deploy":     {"deployment", "release", "ship", "production"},
	"config":     {"configuration", "settings", "options"},
	"editor":     {"ide", "vscode", "vim", "tooling"},
	"git":        {"vcs", "repo", "branch", "commit"},
	"email":      {"mail", "address", "contact"},
	"phone":      {"telephone", "mobile", "number", "contact"},
	"birthday":   {"birthdate", "born", "anniversary"},
	"meeting":    {"call", "sync", "standup", "calendar"},
	"deadline":   {"due", "milestone", "date"},
	"budget":     {"cost", "price", "money"},
	"performance": {"perf", "latency", "speed", "optimization"},
	"security":   {"secure", "vulnerability", "crypto"},
	"memory":     {"recall", "remember", "storage"},
	"preference": {"prefers", "likes", "favorite", "choice"},
	"decision":   {"decided", "chose", "rationale"},
}

// ExpandSynonyms returns the space-joined tag set for a record. Deterministic
// (sorted), idempotent and safe on empty input.
func ExpandSynonyms(text, entity, key, value string) string {
	haystack := strings.ToLower(text + "|" + entity + "|" + key + "|" + value)
	if haystack == "|||" {
		return ""
	}

	set := make(map[string]bool)
	for term, syns := range synonymTable {
		if strings.Contains(haystack, term) {
			for _, s := range syns {
				set[s] = true
			}
		}
	}
	if len(set) == 0 {
		return ""
	}

	tags := make([]string, 0, len(set))
	for s := range set {
		tags = append(tags, s)
	}
	sort.Strings(tags)
	return strings.Join(tags, " ")
}

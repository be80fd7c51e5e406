package retrieval

import (
	"strings"

	"sage/pkg/types"
)

// MaxVariants caps query expansion. More variants widen recall but each one
// is a potential store round trip.
const MaxVariants = 5

// stopwords is the fixed list removed before key-term extraction. Kept short
// on purpose; aggressive lists strip domain terms.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "with": {},
}

// ExpandQuery derives up to MaxVariants deterministic variants from a raw
// query: the literal query plus a key-terms form with stopwords removed.
func ExpandQuery(query string) []string {
	var out []string
	out = appendVariant(out, query)
	out = appendVariant(out, keyTerms(query))
	return out
}

// ExpandTask derives variants from a task and its optional detail: literal
// title, tag-seeded, key-terms, objective-seeded and subtask-seeded. Order is
// fixed so the expansion is reproducible.
func ExpandTask(task *types.Task, detail *types.TaskDetail) []string {
	var out []string
	out = appendVariant(out, task.Title)

	if len(task.Tags) > 0 {
		out = appendVariant(out, task.Title+" "+strings.Join(task.Tags, " "))
	}

	seed := task.Title
	if task.Description != "" {
		seed += " " + task.Description
	}
	out = appendVariant(out, keyTerms(seed))

	if detail != nil {
		out = appendVariant(out, detail.Objective)
		out = appendVariant(out, strings.Join(detail.Tasks, " "))
	}
	return out
}

// appendVariant adds a non-empty, not-yet-seen variant while respecting the
// cap. Comparison is on the whitespace-normalized lowercase form.
func appendVariant(variants []string, candidate string) []string {
	candidate = strings.Join(strings.Fields(candidate), " ")
	if candidate == "" || len(variants) >= MaxVariants {
		return variants
	}
	for _, v := range variants {
		if strings.EqualFold(v, candidate) {
			return variants
		}
	}
	return append(variants, candidate)
}

// keyTerms strips stopwords and punctuation fringes from the query.
func keyTerms(query string) string {
	var kept []string
	for _, word := range strings.Fields(query) {
		trimmed := strings.Trim(word, ".,;:!?\"'()[]")
		if trimmed == "" {
			continue
		}
		if _, stop := stopwords[strings.ToLower(trimmed)]; stop {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, " ")
}

package search

import (
	"sort"
	"strings"
)

// intentLexicon maps a search intent to the keywords that signal it and the
// expansion terms used to enhance the query.
var intentLexicon = map[string][]string{
	"authentication": {"auth", "authentication", "login", "logout", "token", "session", "oauth", "password", "credential"},
	"database":       {"database", "db", "sql", "query", "migration", "schema", "index", "transaction", "postgres"},
	"api":            {"api", "endpoint", "rest", "http", "handler", "route", "request", "response", "grpc"},
	"security":       {"security", "vulnerability", "cve", "encryption", "injection", "xss", "csrf", "exploit", "sanitize"},
	"performance":    {"performance", "latency", "slow", "optimize", "cache", "profiling", "throughput", "memory"},
	"error_handling": {"error", "exception", "panic", "crash", "retry", "timeout", "failure", "recover"},
	"testing":        {"test", "testing", "mock", "coverage", "fixture", "assert", "regression", "flaky"},
	"ui":             {"ui", "frontend", "css", "render", "component", "layout", "button", "styling"},
}

// detectIntents scores the query against the lexicon and returns matched
// intents, strongest first.
func detectIntents(query string) []string {
	terms := queryTerms(query)
	type scored struct {
		intent string
		hits   int
	}
	var matches []scored
	for intent, keywords := range intentLexicon {
		hits := 0
		for _, kw := range keywords {
			if terms[kw] {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{intent, hits})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}
		return matches[i].intent < matches[j].intent
	})
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.intent
	}
	return out
}

// enhanceQuery appends up to three expansion keywords from the strongest
// intent that the query does not already contain.
func enhanceQuery(query string, intents []string) string {
	if len(intents) == 0 {
		return query
	}
	terms := queryTerms(query)
	var extra []string
	for _, kw := range intentLexicon[intents[0]] {
		if !terms[kw] {
			extra = append(extra, kw)
		}
		if len(extra) == 3 {
			break
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

// intentMatch scores how much of a text matches the detected intents' vocab.
func intentMatch(text string, intents []string) float64 {
	if len(intents) == 0 {
		return 0
	}
	terms := queryTerms(text)
	hits, total := 0, 0
	for _, intent := range intents {
		for _, kw := range intentLexicon[intent] {
			total++
			if terms[kw] {
				hits++
			}
		}
	}
	if total == 0 {
		return 0
	}
	score := 4 * float64(hits) / float64(total)
	if score > 1 {
		score = 1
	}
	return score
}

// termOverlap is the fraction of query terms present in the text.
func termOverlap(query, text string) float64 {
	queryWords := queryTerms(query)
	if len(queryWords) == 0 {
		return 0
	}
	textWords := queryTerms(text)
	hits := 0
	for w := range queryWords {
		if textWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryWords))
}

func queryTerms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'`")
		if w != "" {
			out[w] = true
		}
	}
	return out
}

// Package search provides human-facing rule search: Meilisearch when
// configured and healthy, a store substring scan otherwise. Identifier
// resolution is not done here; that is the resolve package's job.
package search

import (
	"strings"

	"lawbook/api/internal/store"
)

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ShortID  string `json:"shortId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	MaxFines int    `json:"maxFines"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// RuleRecord is the data we index for a rule.
type RuleRecord struct {
	ShortID     string `json:"shortId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MaxFines    int    `json:"maxFines"`
}

// ResponseFromRules converts store rows into the search envelope. Used by the
// fallback path and by callers that search the store directly.
func ResponseFromRules(query string, rules []store.Rule) Response {
	results := make([]Result, 0, len(rules))
	for _, rule := range rules {
		results = append(results, Result{
			ShortID:  rule.ShortID,
			Title:    rule.Title,
			Snippet:  snippet(rule.Description),
			MaxFines: rule.MaxFines,
		})
	}
	return Response{Results: results, Total: len(results), Query: query}
}

func snippet(value string) string {
	const maxLen = 140
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return strings.TrimSpace(trimmed[:maxLen]) + "…"
}

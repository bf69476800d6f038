package search

import (
	"context"
	"log"

	"lawbook/api/internal/store"
)

// Fallback is the store-side search used when Meilisearch is unavailable.
type Fallback interface {
	SearchRules(ctx context.Context, query string, limit int) ([]store.Rule, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// store scan.
type Service struct {
	meili    *Meili
	fallback Fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	rules, err := s.fallback.SearchRules(ctx, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: store fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return ResponseFromRules(q.Text, rules)
}

// IndexRule indexes a rule (fire-and-forget to Meilisearch).
func (s *Service) IndexRule(record RuleRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRule(record); err != nil {
			log.Printf("search: index rule %s: %v", record.ShortID, err)
		}
	}()
}

// DeleteRule removes a rule from the search index (fire-and-forget).
func (s *Service) DeleteRule(shortID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRule(shortID); err != nil {
			log.Printf("search: delete rule %s: %v", shortID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}

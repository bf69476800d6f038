package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"lawbook/api/internal/store"
)

// memStore is a mutex-guarded in-memory dataStore with the same uniqueness
// guarantees as the Postgres schema. It backs the end-to-end and concurrency
// tests where the function-field fake would be too rigid.
type memStore struct {
	mu         sync.Mutex
	rules      map[string]store.Rule
	violations map[string]store.Violation
}

func newMemStore() *memStore {
	return &memStore{
		rules:      map[string]store.Rule{},
		violations: map[string]store.Violation{},
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) ListRules(context.Context) ([]store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := make([]store.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ShortID < rules[j].ShortID })
	return rules, nil
}

func (m *memStore) GetRule(_ context.Context, shortID string) (store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[shortID]
	if !ok {
		return store.Rule{}, sql.ErrNoRows
	}
	return rule, nil
}

func (m *memStore) RuleShortIDExists(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[shortID]
	return ok, nil
}

func (m *memStore) InsertRule(_ context.Context, rule store.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.rules[rule.ShortID]; taken {
		return store.ErrConflict
	}
	m.rules[rule.ShortID] = rule
	return nil
}

func (m *memStore) UpdateRule(_ context.Context, shortID string, patch store.RulePatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[shortID]
	if !ok {
		return false, nil
	}
	if patch.Title != nil {
		rule.Title = *patch.Title
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.MaxFines != nil {
		rule.MaxFines = *patch.MaxFines
	}
	m.rules[shortID] = rule
	return true, nil
}

func (m *memStore) DeleteRule(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[shortID]; !ok {
		return false, nil
	}
	delete(m.rules, shortID)
	return true, nil
}

func (m *memStore) SearchRules(_ context.Context, query string, limit int) ([]store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	var matched []store.Rule
	for _, rule := range m.rules {
		if strings.Contains(strings.ToLower(rule.Title), needle) ||
			strings.Contains(strings.ToLower(rule.Description), needle) {
			matched = append(matched, rule)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ShortID < matched[j].ShortID })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memStore) InsertViolation(_ context.Context, violation store.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.violations[violation.ShortID]; taken {
		return store.ErrConflict
	}
	m.violations[violation.ShortID] = violation
	return nil
}

func (m *memStore) GetViolation(_ context.Context, shortID string) (store.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	violation, ok := m.violations[shortID]
	if !ok {
		return store.Violation{}, sql.ErrNoRows
	}
	return violation, nil
}

func (m *memStore) DeleteViolation(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.violations[shortID]; !ok {
		return false, nil
	}
	delete(m.violations, shortID)
	return true, nil
}

func (m *memStore) ListViolationsForOffender(_ context.Context, offenderID string) ([]store.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Violation
	for _, violation := range m.violations {
		if violation.OffenderID == offenderID {
			items = append(items, violation)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ShortID < items[j].ShortID
	})
	return items, nil
}

func (m *memStore) SumCountsForOffender(_ context.Context, offenderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, violation := range m.violations {
		if violation.OffenderID == offenderID {
			total += violation.Count
		}
	}
	return total, nil
}

func (m *memStore) ViolationShortIDExists(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.violations[shortID]
	return ok, nil
}

func (m *memStore) ViolationShortIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.violations))
	for id := range m.violations {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) SetViolationApproved(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	violation, ok := m.violations[shortID]
	if !ok {
		return false, nil
	}
	violation.Approved = true
	m.violations[shortID] = violation
	return true, nil
}

func (m *memStore) SetViolationReimbursed(_ context.Context, shortID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	violation, ok := m.violations[shortID]
	if !ok {
		return false, nil
	}
	violation.Reimbursed = true
	m.violations[shortID] = violation
	return true, nil
}

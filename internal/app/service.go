package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"lawbook/api/internal/allocator"
	"lawbook/api/internal/authz"
	"lawbook/api/internal/resolve"
	"lawbook/api/internal/search"
	"lawbook/api/internal/store"
)

// Actor is the identity snapshot the gateway forwards with every command.
type Actor struct {
	ID      string
	Display string
}

type CreateRuleInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	MaxFines    int    `json:"maxFines"`
}

type UpdateRuleInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	MaxFines    *int    `json:"maxFines"`
}

type CreateViolationInput struct {
	RuleIdentifier  string `json:"ruleIdentifier"`
	Description     string `json:"description"`
	Count           int    `json:"count"`
	OffenderID      string `json:"offenderId"`
	OffenderDisplay string `json:"offenderDisplay"`
	EvidenceURL     string `json:"evidenceUrl"`
}

// ViolationList is the ListViolations payload: the records newest-first plus
// the summed count across them.
type ViolationList struct {
	Items []store.Violation
	Total int
}

type dataStore interface {
	Ping(context.Context) error
	ListRules(context.Context) ([]store.Rule, error)
	GetRule(context.Context, string) (store.Rule, error)
	RuleShortIDExists(context.Context, string) (bool, error)
	InsertRule(context.Context, store.Rule) error
	UpdateRule(context.Context, string, store.RulePatch) (bool, error)
	DeleteRule(context.Context, string) (bool, error)
	SearchRules(context.Context, string, int) ([]store.Rule, error)
	InsertViolation(context.Context, store.Violation) error
	GetViolation(context.Context, string) (store.Violation, error)
	DeleteViolation(context.Context, string) (bool, error)
	ListViolationsForOffender(context.Context, string) ([]store.Violation, error)
	SumCountsForOffender(context.Context, string) (int, error)
	ViolationShortIDExists(context.Context, string) (bool, error)
	ViolationShortIDs(context.Context) ([]string, error)
	SetViolationApproved(context.Context, string) (bool, error)
	SetViolationReimbursed(context.Context, string) (bool, error)
}

// tallyCache caches per-offender count totals. Implementations must treat a
// miss as (0, false, nil).
type tallyCache interface {
	Get(ctx context.Context, offenderID string) (int, bool, error)
	Set(ctx context.Context, offenderID string, total int) error
	Invalidate(ctx context.Context, offenderID string) error
}

type Service struct {
	store          dataStore
	gate           authz.Gate
	ruleAlloc      *allocator.Allocator
	violationAlloc *allocator.Allocator
	tally          tallyCache      // nil when Redis is not configured
	search         *search.Service // nil when search is not configured
	insertAttempts int
}

func New(dataStore *store.PostgresStore, gate authz.Gate, violationPolicy allocator.Policy, maxAttempts int) *Service {
	s := &Service{
		store:          dataStore,
		gate:           gate,
		insertAttempts: maxAttempts,
	}
	s.initAllocators(violationPolicy, maxAttempts)
	return s
}

func (s *Service) initAllocators(violationPolicy allocator.Policy, maxAttempts int) {
	if s.insertAttempts <= 0 {
		s.insertAttempts = 32
	}
	s.ruleAlloc = allocator.New(allocator.PolicyRandom, s.store.RuleShortIDExists, nil, maxAttempts)
	s.violationAlloc = allocator.New(violationPolicy, s.store.ViolationShortIDExists, s.store.ViolationShortIDs, maxAttempts)
}

// WithTally attaches the optional offender-total cache.
func (s *Service) WithTally(cache tallyCache) *Service {
	s.tally = cache
	return s
}

// WithSearch attaches the optional rule search facade.
func (s *Service) WithSearch(searchService *search.Service) *Service {
	s.search = searchService
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateRule(ctx context.Context, actor Actor, input CreateRuleInput) (store.Rule, error) {
	if !s.gate.IsMaster(actor.ID) {
		return store.Rule{}, errForbidden()
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Rule{}, errValidation("title is required")
	}
	if input.MaxFines < 0 {
		return store.Rule{}, errValidation("maxFines must not be negative")
	}

	rule := store.Rule{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		MaxFines:    input.MaxFines,
	}
	for attempt := 0; attempt < s.insertAttempts; attempt++ {
		shortID, err := s.ruleAlloc.Allocate(ctx)
		if err != nil {
			if errors.Is(err, allocator.ErrExhausted) {
				return store.Rule{}, errAllocationExhausted()
			}
			return store.Rule{}, err
		}
		rule.ShortID = shortID
		err = s.store.InsertRule(ctx, rule)
		if errors.Is(err, store.ErrConflict) {
			// Lost the allocate-then-insert race; draw again.
			continue
		}
		if err != nil {
			return store.Rule{}, err
		}
		s.indexRule(rule)
		return rule, nil
	}
	return store.Rule{}, errAllocationExhausted()
}

func (s *Service) ListRules(ctx context.Context) ([]store.Rule, error) {
	return s.store.ListRules(ctx)
}

func (s *Service) UpdateRule(ctx context.Context, actor Actor, identifier string, input UpdateRuleInput) (store.Rule, error) {
	if !s.gate.IsMaster(actor.ID) {
		return store.Rule{}, errForbidden()
	}
	patch := store.RulePatch{
		Title:       input.Title,
		Description: input.Description,
		MaxFines:    input.MaxFines,
	}
	if patch.Empty() {
		return store.Rule{}, errNoChanges()
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return store.Rule{}, errValidation("title must not be blank")
	}
	if patch.MaxFines != nil && *patch.MaxFines < 0 {
		return store.Rule{}, errValidation("maxFines must not be negative")
	}

	rule, err := s.resolveExact(ctx, identifier)
	if err != nil {
		return store.Rule{}, err
	}
	changed, err := s.store.UpdateRule(ctx, rule.ShortID, patch)
	if err != nil {
		return store.Rule{}, err
	}
	if !changed {
		return store.Rule{}, errNotFound("rule", identifier)
	}
	updated, err := s.store.GetRule(ctx, rule.ShortID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Rule{}, errNotFound("rule", identifier)
		}
		return store.Rule{}, err
	}
	s.indexRule(updated)
	return updated, nil
}

func (s *Service) RemoveRule(ctx context.Context, actor Actor, identifier string) error {
	if !s.gate.IsMaster(actor.ID) {
		return errForbidden()
	}
	rule, err := s.resolveExact(ctx, identifier)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteRule(ctx, rule.ShortID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("rule", identifier)
	}
	if s.search != nil {
		s.search.DeleteRule(rule.ShortID)
	}
	return nil
}

func (s *Service) SearchRules(ctx context.Context, query string, limit int) (search.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return search.Response{}, errValidation("query is required")
	}
	if s.search != nil {
		return s.search.Search(ctx, search.Query{Text: query, Limit: limit}), nil
	}
	rules, err := s.store.SearchRules(ctx, query, limit)
	if err != nil {
		return search.Response{}, err
	}
	return search.ResponseFromRules(query, rules), nil
}

func (s *Service) CreateViolation(ctx context.Context, issuer Actor, input CreateViolationInput) (store.Violation, error) {
	if input.OffenderID == issuer.ID {
		return store.Violation{}, errSelfTarget()
	}
	if strings.TrimSpace(input.OffenderID) == "" {
		return store.Violation{}, errValidation("offenderId is required")
	}
	if input.Count <= 0 {
		return store.Violation{}, errValidation("count must be a positive integer")
	}

	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return store.Violation{}, err
	}
	rule, ok := resolve.Prefix(rules, strings.TrimSpace(input.RuleIdentifier))
	if !ok {
		return store.Violation{}, errRuleNotFound(input.RuleIdentifier)
	}

	violation := store.Violation{
		Rule:            store.RuleRef{Title: rule.Title, ShortID: rule.ShortID},
		Description:     strings.TrimSpace(input.Description),
		Count:           input.Count,
		EvidenceURL:     strings.TrimSpace(input.EvidenceURL),
		OffenderID:      input.OffenderID,
		OffenderDisplay: input.OffenderDisplay,
		IssuerID:        issuer.ID,
		IssuerDisplay:   issuer.Display,
		CreatedAt:       time.Now().UTC(),
	}
	for attempt := 0; attempt < s.insertAttempts; attempt++ {
		shortID, err := s.violationAlloc.Allocate(ctx)
		if err != nil {
			if errors.Is(err, allocator.ErrExhausted) {
				return store.Violation{}, errAllocationExhausted()
			}
			return store.Violation{}, err
		}
		violation.ShortID = shortID
		err = s.store.InsertViolation(ctx, violation)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return store.Violation{}, err
		}
		s.invalidateTally(ctx, violation.OffenderID)
		return violation, nil
	}
	return store.Violation{}, errAllocationExhausted()
}

func (s *Service) GetViolation(ctx context.Context, shortID string) (store.Violation, error) {
	violation, err := s.store.GetViolation(ctx, shortID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Violation{}, errNotFound("violation", shortID)
	}
	if err != nil {
		return store.Violation{}, err
	}
	return violation, nil
}

func (s *Service) RemoveViolation(ctx context.Context, actor Actor, shortID string) error {
	if !s.gate.IsMaster(actor.ID) {
		return errForbidden()
	}
	violation, err := s.store.GetViolation(ctx, shortID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("violation", shortID)
	}
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteViolation(ctx, shortID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("violation", shortID)
	}
	s.invalidateTally(ctx, violation.OffenderID)
	return nil
}

func (s *Service) ListViolations(ctx context.Context, offenderID string) (ViolationList, error) {
	items, err := s.store.ListViolationsForOffender(ctx, offenderID)
	if err != nil {
		return ViolationList{}, err
	}
	total := 0
	for _, item := range items {
		total += item.Count
	}
	return ViolationList{Items: items, Total: total}, nil
}

// OffenderTotal returns the summed violation count for an offender, served
// from the tally cache when one is attached.
func (s *Service) OffenderTotal(ctx context.Context, offenderID string) (int, error) {
	if s.tally != nil {
		total, hit, err := s.tally.Get(ctx, offenderID)
		if err != nil {
			log.Printf("tally: read %s: %v", offenderID, err)
		} else if hit {
			return total, nil
		}
	}
	total, err := s.store.SumCountsForOffender(ctx, offenderID)
	if err != nil {
		return 0, err
	}
	if s.tally != nil {
		if err := s.tally.Set(ctx, offenderID, total); err != nil {
			log.Printf("tally: write %s: %v", offenderID, err)
		}
	}
	return total, nil
}

func (s *Service) resolveExact(ctx context.Context, identifier string) (store.Rule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return store.Rule{}, err
	}
	rule, ok := resolve.Exact(rules, identifier)
	if !ok {
		return store.Rule{}, errNotFound("rule", identifier)
	}
	return rule, nil
}

func (s *Service) indexRule(rule store.Rule) {
	if s.search != nil {
		s.search.IndexRule(search.RuleRecord{
			ShortID:     rule.ShortID,
			Title:       rule.Title,
			Description: rule.Description,
			MaxFines:    rule.MaxFines,
		})
	}
}

func (s *Service) invalidateTally(ctx context.Context, offenderID string) {
	if s.tally == nil {
		return
	}
	if err := s.tally.Invalidate(ctx, offenderID); err != nil {
		log.Printf("tally: invalidate %s: %v", offenderID, err)
	}
}

package store

import "time"

// Rule is a lawbook paragraph that violations reference. ShortID is a
// 6-hex-character token, unique among rules and immutable once assigned.
type Rule struct {
	ShortID     string
	Title       string
	Description string
	// Advisory cap on fines per rule. Stored and surfaced, never enforced.
	MaxFines int
}

// RuleRef is the denormalized snapshot of the rule a violation was issued
// under. Later rule edits do not propagate here.
type RuleRef struct {
	Title   string
	ShortID string
}

// Violation is a fine issued against an offender. ShortID is unique among
// violations; depending on the configured policy it is either a 6-hex token
// or the decimal form of a small positive integer.
type Violation struct {
	ShortID         string
	Rule            RuleRef
	Description     string
	Count           int
	EvidenceURL     string
	Approved        bool
	Reimbursed      bool
	OffenderID      string
	OffenderDisplay string
	IssuerID        string
	IssuerDisplay   string
	CreatedAt       time.Time
}

// RulePatch carries the fields of an update request. Nil means "leave as is".
type RulePatch struct {
	Title       *string
	Description *string
	MaxFines    *int
}

// Empty reports whether the patch requests no changes at all.
func (p RulePatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.MaxFines == nil
}

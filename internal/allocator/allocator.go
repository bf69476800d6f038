// Package allocator produces unique short identifiers for new records.
//
// Two policies exist, both observed in the system's history: PolicyRandom
// draws 6-hex-character tokens from a cryptographically strong source until
// one is free, and PolicySequential returns the smallest positive integer not
// currently in use. The allocator only guarantees the identifier was free at
// the instant of its existence check; the store's unique constraint plus the
// caller's insert-retry loop close the remaining race.
package allocator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

type Policy string

const (
	PolicyRandom     Policy = "random"
	PolicySequential Policy = "sequential"
)

// ErrExhausted is returned when the random policy cannot find a free token
// within the retry budget. It maps to AllocationExhausted at the API surface.
var ErrExhausted = errors.New("allocator: retry budget exhausted")

// ParsePolicy validates a configured policy name.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyRandom, PolicySequential:
		return Policy(name), nil
	default:
		return "", fmt.Errorf("unknown allocation policy %q", name)
	}
}

// ExistsFunc reports whether an identifier is already taken in the target
// collection.
type ExistsFunc func(ctx context.Context, shortID string) (bool, error)

// UsedIDsFunc returns every identifier currently in the target collection.
// Only the sequential policy needs it.
type UsedIDsFunc func(ctx context.Context) ([]string, error)

type Allocator struct {
	policy      Policy
	exists      ExistsFunc
	usedIDs     UsedIDsFunc
	maxAttempts int

	// Serializes the sequential scan-then-pick window within this process.
	mu sync.Mutex
}

func New(policy Policy, exists ExistsFunc, usedIDs UsedIDsFunc, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 32
	}
	return &Allocator{
		policy:      policy,
		exists:      exists,
		usedIDs:     usedIDs,
		maxAttempts: maxAttempts,
	}
}

func (a *Allocator) Policy() Policy {
	return a.policy
}

// Allocate returns an identifier that was absent from the collection at the
// moment it was checked.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	switch a.policy {
	case PolicySequential:
		return a.allocateSequential(ctx)
	default:
		return a.allocateRandom(ctx)
	}
}

func (a *Allocator) allocateRandom(ctx context.Context) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		token, err := RandomToken()
		if err != nil {
			return "", err
		}
		taken, err := a.exists(ctx, token)
		if err != nil {
			return "", fmt.Errorf("check token: %w", err)
		}
		if !taken {
			return token, nil
		}
	}
	return "", ErrExhausted
}

func (a *Allocator) allocateSequential(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids, err := a.usedIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("scan used ids: %w", err)
	}
	return strconv.Itoa(SmallestGap(ids)), nil
}

// RandomToken draws a 6-character lowercase hex token.
func RandomToken() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SmallestGap returns the smallest positive integer absent from ids. Values
// that do not parse as integers are skipped, matching how historic records
// with token ids coexist with sequential ones.
func SmallestGap(ids []string) int {
	taken := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil || n <= 0 {
			continue
		}
		taken[n] = struct{}{}
	}
	next := 1
	for {
		if _, ok := taken[next]; !ok {
			return next
		}
		next++
	}
}

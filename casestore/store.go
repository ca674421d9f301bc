// Package casestore persists accumulated technique matches per forensic
// case.
//
// Case IDs are the natural partition key: every operation is scoped to one
// case, and implementations must keep cases isolated so concurrent mapping
// of different cases never interferes. Three backends are provided:
// Memory for tests and single-shot runs, File for a local JSONL audit
// trail, and Redis for shared deployments.
package casestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/caseforge/attackmap/mapper"
)

// Common errors returned by case store operations.
var (
	// ErrInvalidCaseID is returned when a case id is empty or contains
	// characters unsafe for key and filename use.
	ErrInvalidCaseID = errors.New("casestore: invalid case id")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("casestore: store closed")
)

// caseIDRe bounds case ids to key- and filename-safe names.
var caseIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateCaseID checks that a case id is usable as a storage key and
// filename component.
func ValidateCaseID(caseID string) error {
	if !caseIDRe.MatchString(caseID) {
		return fmt.Errorf("%w: %q", ErrInvalidCaseID, caseID)
	}
	return nil
}

// Store accumulates technique matches per case. Matches are append-only
// until the caller explicitly clears the case.
type Store interface {
	// Append adds matches to the case's accumulated set.
	Append(ctx context.Context, caseID string, matches []mapper.TechniqueMatch) error

	// Matches returns the case's accumulated matches in append order.
	// Unknown case ids yield an empty slice, not an error.
	Matches(ctx context.Context, caseID string) ([]mapper.TechniqueMatch, error)

	// Clear removes all matches for the case. Clearing an unknown case
	// is a no-op.
	Clear(ctx context.Context, caseID string) error

	// Cases returns the ids of all cases holding matches, ascending.
	Cases(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// entry is the persisted record for one appended match. The id and
// timestamp preserve the audit trail; only the match itself flows back to
// callers.
type entry struct {
	ID         string                `json:"id"`
	RecordedAt time.Time             `json:"recorded_at"`
	Match      mapper.TechniqueMatch `json:"match"`
}

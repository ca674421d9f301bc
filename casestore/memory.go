package casestore

import (
	"context"
	"sort"
	"sync"

	"github.com/caseforge/attackmap/mapper"
)

// Memory is an in-process Store keyed by case id. Matches are copied on
// both append and read so callers can never alias the stored slices.
type Memory struct {
	mu     sync.RWMutex
	cases  map[string][]mapper.TechniqueMatch
	closed bool
}

// NewMemory creates an empty in-memory case store.
func NewMemory() *Memory {
	return &Memory{cases: make(map[string][]mapper.TechniqueMatch)}
}

// Append implements Store.
func (s *Memory) Append(ctx context.Context, caseID string, matches []mapper.TechniqueMatch) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cases[caseID] = append(s.cases[caseID], matches...)
	return nil
}

// Matches implements Store.
func (s *Memory) Matches(ctx context.Context, caseID string) ([]mapper.TechniqueMatch, error) {
	if err := ValidateCaseID(caseID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]mapper.TechniqueMatch, len(s.cases[caseID]))
	copy(out, s.cases[caseID])
	return out, nil
}

// Clear implements Store.
func (s *Memory) Clear(ctx context.Context, caseID string) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.cases, caseID)
	return nil
}

// Cases implements Store.
func (s *Memory) Cases(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.cases))
	for id := range s.cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store. Stored matches are released.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cases = nil
	return nil
}

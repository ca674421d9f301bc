package casestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Append(ctx, "case-1", sampleMatches()))

	first, err := s.Matches(ctx, "case-1")
	require.NoError(t, err)
	first[0].TechniqueID = "tampered"

	second, err := s.Matches(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "T1059.001", second[0].TechniqueID)
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Close())

	err := s.Append(ctx, "case-1", sampleMatches())
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = s.Matches(ctx, "case-1")
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = s.Cases(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestMemoryConcurrentCases(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		caseID := "case-a"
		if i%2 == 1 {
			caseID = "case-b"
		}
		go func(id string) {
			done <- s.Append(ctx, id, sampleMatches()[:1])
		}(caseID)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}

	a, err := s.Matches(ctx, "case-a")
	require.NoError(t, err)
	b, err := s.Matches(ctx, "case-b")
	require.NoError(t, err)
	assert.Len(t, a, 10)
	assert.Len(t, b, 10)
}

package casestore

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	first, err := NewFile(fs, "/cases")
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "case-1", sampleMatches()))
	require.NoError(t, first.Close())

	second, err := NewFile(fs, "/cases")
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Matches(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, sampleMatches(), got)
}

func TestFileLayout(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := NewFile(fs, "/cases")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(ctx, "case-1", sampleMatches()))

	exists, err := afero.Exists(fs, "/cases/case-1.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := afero.ReadFile(fs, "/cases/case-1.jsonl")
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestFileSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := NewFile(fs, "/cases")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(ctx, "case-1", sampleMatches()[:1]))

	// Simulate a crash mid-write: a truncated trailing line.
	f, err := fs.OpenFile("/cases/case-1.jsonl", os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte(`{"id":"truncat`))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.Matches(ctx, "case-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "T1059.001", got[0].TechniqueID)
}

func TestFileEmptyDirRejected(t *testing.T) {
	_, err := NewFile(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}

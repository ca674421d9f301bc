package casestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/caseforge/attackmap/mapper"
)

const fileExt = ".jsonl"

// File is a Store writing one JSONL file per case under a base directory.
// Each appended match becomes one line, so the files double as a plain
// audit trail readable with standard line tools.
type File struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFile creates a file-backed case store rooted at dir. The directory is
// created if missing. Pass afero.NewOsFs() outside tests.
func NewFile(fsys afero.Fs, dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("casestore: base directory must not be empty")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create case store directory %s: %w", dir, err)
	}
	return &File{fs: fsys, dir: dir}, nil
}

func (s *File) path(caseID string) string {
	return filepath.Join(s.dir, caseID+fileExt)
}

// Append implements Store.
func (s *File) Append(ctx context.Context, caseID string, matches []mapper.TechniqueMatch) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	for _, m := range matches {
		line, err := json.Marshal(entry{ID: uuid.NewString(), RecordedAt: now, Match: m})
		if err != nil {
			return fmt.Errorf("failed to marshal match for case %s: %w", caseID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.OpenFile(s.path(caseID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open case file %s: %w", s.path(caseID), err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append matches for case %s: %w", caseID, err)
	}
	return nil
}

// Matches implements Store. Lines that fail to parse (a crash mid-write
// can truncate the last one) are skipped rather than failing the read.
func (s *File) Matches(ctx context.Context, caseID string) ([]mapper.TechniqueMatch, error) {
	if err := ValidateCaseID(caseID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.Open(s.path(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return []mapper.TechniqueMatch{}, nil
		}
		return nil, fmt.Errorf("failed to open case file %s: %w", s.path(caseID), err)
	}
	defer f.Close()

	matches := []mapper.TechniqueMatch{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		matches = append(matches, e.Match)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read case file %s: %w", s.path(caseID), err)
	}
	return matches, nil
}

// Clear implements Store.
func (s *File) Clear(ctx context.Context, caseID string) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path(caseID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear case %s: %w", caseID, err)
	}
	return nil
}

// Cases implements Store.
func (s *File) Cases(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list case store directory %s: %w", s.dir, err)
	}

	var ids []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(info.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store. File handles are opened per call, so there is
// nothing to release.
func (s *File) Close() error {
	return nil
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrUnavailable is returned by Refresh when a fresh snapshot cannot be
// produced. The previously cached snapshot, if any, stays in effect.
var ErrUnavailable = errors.New("attack catalog unavailable")

// DefaultTTL is how long a cached snapshot is considered fresh.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultRefreshInterval is how often the background refresher re-checks
// snapshot freshness.
const DefaultRefreshInterval = 12 * time.Hour

// Store caches catalog snapshots in a single JSON document on disk and
// refreshes them from a Fetcher.
//
// Load never fails: a missing or corrupt cache degrades to the empty
// snapshot. Refresh is strict and reports fetch failures wrapped around
// ErrUnavailable. At most one refresh runs at a time; concurrent callers
// coalesce onto the in-flight attempt's outcome indirectly by observing the
// refreshed snapshot.
//
// Example:
//
//	store := catalog.NewStore("/var/lib/attackmap/attack_cache.json",
//	    catalog.WithFetcher(catalog.NewHTTPFetcher("")),
//	)
//	defer store.Close()
//
//	if err := store.Refresh(ctx, false); err != nil {
//	    log.Printf("refresh failed, serving cached data: %v", err)
//	}
//	cat := store.Load()
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	path    string
	ttl     time.Duration
	fetcher Fetcher
	logger  *slog.Logger
	fs      afero.Fs
	now     func() time.Time

	mu        sync.RWMutex
	current   *Catalog
	diskRead  bool
	refreshMu sync.Mutex

	wg         sync.WaitGroup
	closeOnce  sync.Once
	closedChan chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the freshness window for cached snapshots. Non-positive
// values fall back to DefaultTTL.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithFetcher sets the snapshot source used by Refresh.
func WithFetcher(f Fetcher) StoreOption {
	return func(s *Store) {
		s.fetcher = f
	}
}

// WithLogger sets the logger for cache and refresh events.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFilesystem sets the filesystem the cache document lives on. Defaults
// to the OS filesystem; tests use afero.NewMemMapFs.
func WithFilesystem(fs afero.Fs) StoreOption {
	return func(s *Store) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithClock overrides the store's notion of now. Test hook.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a catalog store backed by the cache document at path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:       path,
		ttl:        DefaultTTL,
		fetcher:    NewHTTPFetcher(""),
		logger:     slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		fs:         afero.NewOsFs(),
		now:        time.Now,
		closedChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the most recently cached snapshot, reading the cache document
// on first use. When nothing usable is cached it returns the empty snapshot,
// never nil and never an error; mapping against an empty snapshot degrades
// to unresolved results rather than failures.
func (s *Store) Load() *Catalog {
	s.mu.RLock()
	if s.current != nil {
		c := s.current
		s.mu.RUnlock()
		return c
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current
	}
	if s.diskRead {
		return Empty()
	}
	s.diskRead = true

	c, err := s.ReadCache()
	if err != nil {
		s.logger.Warn("catalog cache unusable, serving empty catalog",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return Empty()
	}
	s.current = c
	return c
}

// ReadCache reads and validates the cache document from disk without
// touching the in-memory snapshot.
func (s *Store) ReadCache() (*Catalog, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog cache: %w", err)
	}

	flaws, err := validateCacheDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to validate catalog cache: %w", err)
	}
	for _, flaw := range flaws {
		s.logger.Warn("catalog cache flaw", slog.String("flaw", flaw), slog.String("path", s.path))
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog cache: %w", err)
	}
	if c.Techniques == nil {
		c.Techniques = map[string]Technique{}
	}
	return &c, nil
}

// Refresh fetches a fresh snapshot, persists it, and swaps it in.
//
// Within the TTL this is a no-op unless force is true. On fetch or persist
// failure the cached snapshot stays in effect and the error wraps
// ErrUnavailable.
func (s *Store) Refresh(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if !force && !s.Stale() {
		return nil
	}

	start := s.now()
	fresh, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.logger.Error("catalog refresh failed",
			slog.String("error", err.Error()),
			slog.Bool("force", force),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.writeCache(fresh); err != nil {
		s.logger.Error("catalog cache write failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.current = fresh
	s.diskRead = true
	s.mu.Unlock()

	s.logger.Info("catalog refreshed",
		slog.String("version", fresh.Version),
		slog.Int("techniques", fresh.Len()),
		slog.Duration("took", s.now().Sub(start)),
	)
	return nil
}

// Stale reports whether the current snapshot is missing or older than the
// TTL. Load is invoked to pick up an on-disk cache on first call.
func (s *Store) Stale() bool {
	c := s.Load()
	if c.IsEmpty() {
		return true
	}
	return s.now().Sub(c.LastUpdated) > s.ttl
}

// Age returns how long ago the current snapshot was built. The second
// return is false when no snapshot is cached.
func (s *Store) Age() (time.Duration, bool) {
	c := s.Load()
	if c.IsEmpty() {
		return 0, false
	}
	return s.now().Sub(c.LastUpdated), true
}

// Health reports the store's operational state: healthy within TTL,
// degraded when serving a stale snapshot, unhealthy when nothing is cached.
func (s *Store) Health() HealthStatus {
	c := s.Load()
	if c.IsEmpty() {
		return NewUnhealthyStatus("no catalog snapshot cached", map[string]any{
			"path": s.path,
		})
	}

	age := s.now().Sub(c.LastUpdated)
	details := map[string]any{
		"version":    c.Version,
		"techniques": c.Len(),
		"age":        age.String(),
		"ttl":        s.ttl.String(),
	}
	if age > s.ttl {
		return NewDegradedStatus("catalog snapshot is stale", details)
	}
	return NewHealthyStatus(fmt.Sprintf("catalog %s loaded", c.Version))
}

// StartAutoRefresh launches a background goroutine that keeps the snapshot
// fresh, checking every interval (DefaultRefreshInterval when non-positive).
// Each cycle is a non-forced Refresh, so within the TTL it costs one
// staleness check. The goroutine stops when ctx is canceled or the store is
// closed; failures are logged and retried on the next tick.
func (s *Store) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Spread the first check so a fleet restarting together does not
		// hit the source at the same instant.
		var jitter time.Duration
		if d := interval / 10; d > 0 {
			jitter = rand.N(d)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closedChan:
			return
		case <-time.After(jitter):
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := s.Refresh(ctx, false); err != nil {
				s.logger.Warn("background catalog refresh failed",
					slog.String("error", err.Error()),
				)
			}

			select {
			case <-ctx.Done():
				return
			case <-s.closedChan:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Close stops the background refresher and waits for it to exit.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closedChan)
	})
	s.wg.Wait()
	return nil
}

// writeCache persists a snapshot atomically: write a sibling temp file, then
// rename over the cache path.
func (s *Store) writeCache(c *Catalog) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace catalog cache: %w", err)
	}
	return nil
}

// Fixed serves a single in-memory snapshot behind the same Load surface as
// Store. Used by tests and by deployments that embed a pinned catalog.
type Fixed struct {
	c *Catalog
}

// NewFixed wraps an in-memory snapshot. A nil catalog is replaced with the
// empty snapshot.
func NewFixed(c *Catalog) *Fixed {
	if c == nil {
		c = Empty()
	}
	return &Fixed{c: c}
}

// Load returns the wrapped snapshot.
func (f *Fixed) Load() *Catalog {
	return f.c
}

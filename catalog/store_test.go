package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher counts calls and serves a fixed catalog or error.
type fakeFetcher struct {
	calls   atomic.Int64
	catalog *Catalog
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*Catalog, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

// testClock is a settable clock for TTL tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, fetcher Fetcher, clock *testClock) *Store {
	t.Helper()
	store := NewStore("/cache/attack_cache.json",
		WithFetcher(fetcher),
		WithFilesystem(afero.NewMemMapFs()),
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotAt(version string, updated time.Time) *Catalog {
	c := New(version,
		Technique{ID: "T1003", Name: "OS Credential Dumping", Tactics: []string{"credential-access"}},
		Technique{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"execution"}},
	)
	c.LastUpdated = updated
	return c
}

func TestStore_LoadWithoutCache(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := newTestStore(t, &fakeFetcher{err: errors.New("unused")}, clock)

	c := store.Load()
	require.NotNil(t, c)
	assert.True(t, c.IsEmpty())

	assert.True(t, store.Stale())
	_, ok := store.Age()
	assert.False(t, ok)
	assert.True(t, store.Health().IsUnhealthy())
}

func TestStore_RefreshPersistsAndLoads(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}
	store := newTestStore(t, fetcher, clock)

	require.NoError(t, store.Refresh(context.Background(), false))
	assert.Equal(t, int64(1), fetcher.calls.Load())

	c := store.Load()
	assert.Equal(t, "14.1", c.Version)
	assert.Equal(t, 2, c.Len())
	assert.False(t, store.Stale())
	assert.True(t, store.Health().IsHealthy())

	age, ok := store.Age()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), age)
}

func TestStore_RefreshDebouncedWithinTTL(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}
	store := newTestStore(t, fetcher, clock)

	require.NoError(t, store.Refresh(context.Background(), false))
	require.NoError(t, store.Refresh(context.Background(), false))
	assert.Equal(t, int64(1), fetcher.calls.Load(), "second non-forced refresh within TTL should not fetch")

	require.NoError(t, store.Refresh(context.Background(), true))
	assert.Equal(t, int64(2), fetcher.calls.Load(), "forced refresh always fetches")
}

func TestStore_RefreshFailureKeepsCachedSnapshot(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}
	store := newTestStore(t, fetcher, clock)

	require.NoError(t, store.Refresh(context.Background(), false))

	fetcher.err = fmt.Errorf("upstream returned status 503")
	err := store.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	c := store.Load()
	assert.Equal(t, "14.1", c.Version, "failed refresh must not evict the cached snapshot")
	assert.Equal(t, 2, c.Len())
}

func TestStore_StaleAfterTTL(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}
	store := newTestStore(t, fetcher, clock)

	require.NoError(t, store.Refresh(context.Background(), false))
	assert.False(t, store.Stale())

	clock.Advance(DefaultTTL + time.Hour)
	assert.True(t, store.Stale())
	assert.True(t, store.Health().IsDegraded())

	// A non-forced refresh now fetches again.
	fetcher.catalog = snapshotAt("15.0", clock.now)
	require.NoError(t, store.Refresh(context.Background(), false))
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.Equal(t, "15.0", store.Load().Version)
	assert.True(t, store.Health().IsHealthy())
}

func TestStore_SurvivesRestart(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fs := afero.NewMemMapFs()
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}

	first := NewStore("/cache/attack_cache.json",
		WithFetcher(fetcher),
		WithFilesystem(fs),
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, first.Refresh(context.Background(), false))
	require.NoError(t, first.Close())

	second := NewStore("/cache/attack_cache.json",
		WithFetcher(&fakeFetcher{err: errors.New("source down")}),
		WithFilesystem(fs),
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer second.Close()

	c := second.Load()
	assert.Equal(t, "14.1", c.Version, "restart should serve the persisted cache without fetching")
	assert.Equal(t, 2, c.Len())
	assert.False(t, second.Stale())
}

func TestStore_CorruptCacheDegradesToEmpty(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cache/attack_cache.json", []byte("{truncated"), 0o644))

	store := NewStore("/cache/attack_cache.json",
		WithFetcher(&fakeFetcher{err: errors.New("unused")}),
		WithFilesystem(fs),
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer store.Close()

	_, err := store.ReadCache()
	require.Error(t, err)

	c := store.Load()
	assert.True(t, c.IsEmpty())
	assert.True(t, store.Health().IsUnhealthy())
}

func TestStore_AutoRefresh(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{catalog: snapshotAt("14.1", clock.now)}
	store := newTestStore(t, fetcher, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartAutoRefresh(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return fetcher.calls.Load() >= 1 && !store.Stale()
	}, 2*time.Second, 5*time.Millisecond, "auto refresh should fetch a snapshot")

	cancel()
	require.NoError(t, store.Close())
}

func TestFixed_Load(t *testing.T) {
	c := snapshotAt("14.1", time.Now())
	fixed := NewFixed(c)
	assert.Same(t, c, fixed.Load())

	empty := NewFixed(nil)
	require.NotNil(t, empty.Load())
	assert.True(t, empty.Load().IsEmpty())
}

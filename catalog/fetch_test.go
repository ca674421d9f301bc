package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stixFixture))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL)
	c, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "14.1", c.Version)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "attackmap-catalog/1.0", gotUA)
}

func TestHTTPFetcher_FetchErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPFetcher(srv.URL).Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("bad payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not stix</html>"))
		}))
		defer srv.Close()

		_, err := NewHTTPFetcher(srv.URL).Fetch(context.Background())
		require.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(stixFixture))
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewHTTPFetcher(srv.URL).Fetch(ctx)
		require.Error(t, err)
	})
}

func TestNewHTTPFetcherDefaults(t *testing.T) {
	f := NewHTTPFetcher("")
	assert.Equal(t, DefaultSourceURL, f.URL)
	require.NotNil(t, f.Client)
	assert.NotZero(t, f.Client.Timeout)
}

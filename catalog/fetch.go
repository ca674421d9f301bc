package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSourceURL is the upstream enterprise ATT&CK STIX bundle.
const DefaultSourceURL = "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"

// maxBundleSize caps the response body read from the catalog source. The
// enterprise bundle is ~50MB today; the cap leaves generous headroom while
// bounding memory on a misbehaving source.
const maxBundleSize = 512 << 20

// Fetcher produces a fresh catalog snapshot from some source.
type Fetcher interface {
	Fetch(ctx context.Context) (*Catalog, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*Catalog, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (*Catalog, error) {
	return f(ctx)
}

// HTTPFetcher downloads and parses an ATT&CK STIX bundle over HTTP.
//
// The zero value is not usable; construct with NewHTTPFetcher. Fields may be
// adjusted before first use:
//
//	f := catalog.NewHTTPFetcher(catalog.DefaultSourceURL)
//	f.Client.Timeout = 5 * time.Minute
type HTTPFetcher struct {
	// URL is the bundle location.
	URL string

	// Client is the HTTP client used for the download.
	Client *http.Client

	// UserAgent is sent with each request.
	UserAgent string
}

// NewHTTPFetcher creates a fetcher for the given bundle URL. An empty url
// selects DefaultSourceURL.
func NewHTTPFetcher(url string) *HTTPFetcher {
	if url == "" {
		url = DefaultSourceURL
	}
	return &HTTPFetcher{
		URL:       url,
		Client:    &http.Client{Timeout: 2 * time.Minute},
		UserAgent: "attackmap-catalog/1.0",
	}
}

// Fetch downloads the bundle and converts it to a catalog snapshot.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download catalog from %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog source %s returned status %d", f.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog response: %w", err)
	}

	c, err := ParseSTIXBundle(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog from %s: %w", f.URL, err)
	}
	return c, nil
}

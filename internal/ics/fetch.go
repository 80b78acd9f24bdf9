package ics

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	appLog "classcal/internal/log"
)

// DefaultFetchTimeout bounds every calendar fetch.
const DefaultFetchTimeout = 15 * time.Second

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier used in logs and diagnostics.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body (304 or fallback)
	// Stale marks a cached body served because the fetch failed. Fetch
	// returns it together with the *FetchError.
	Stale bool
}

// FetchError is returned when a source could not produce a body.
type FetchError struct {
	URL        string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", RedactURL(e.URL), e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher fetches ICS feeds with conditional requests (ETag /
// Last-Modified) backed by a BodyCache. When the fetch fails and a cached
// body exists, the cached body comes back marked Stale alongside the error,
// so callers still see the failure.
type Fetcher struct {
	client *http.Client
	cache  BodyCache
	now    func() time.Time
}

// NewFetcher creates a Fetcher. A nil cache disables conditional requests
// and offline fallback.
func NewFetcher(cache BodyCache) *Fetcher {
	if cache == nil {
		cache = noCache{}
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
		cache: cache,
		now:   time.Now,
	}
}

// WithClient replaces the HTTP client (tests, custom transports).
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Fetch fetches a single ICS source.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, &FetchError{URL: src.URL, Err: errors.New("source URL is empty")}
	}

	meta, cachedBody, _ := f.cache.Load(ctx, src.URL)

	reqURL, err := withCacheBust(src.URL, f.now())
	if err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{URL: src.URL, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("Accept-Encoding", "br, gzip")
	req.Header.Set("Cache-Control", "no-cache")

	// Conditional headers from cache metadata.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		ferr := &FetchError{URL: src.URL, Err: err}
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch network error, cached body available", "id", src.ID, "url", RedactURL(src.URL), "err", err)
			return staleResult(src, cachedBody), ferr
		}
		return FetchResult{}, ferr
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := readBody(resp)
		if readErr != nil {
			return FetchResult{}, &FetchError{URL: src.URL, Err: readErr}
		}

		newMeta := CacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    f.now().UTC(),
		}
		if err := f.cache.Save(ctx, src.URL, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", RedactURL(src.URL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, &FetchError{URL: src.URL, StatusCode: resp.StatusCode,
				Err: errors.New("received 304 Not Modified but no cached body available")}
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		herr := &FetchError{URL: src.URL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
		if len(cachedBody) > 0 {
			appLog.Warn("ics fetch non-OK, cached body available", "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode)
			return staleResult(src, cachedBody), herr
		}
		return FetchResult{}, herr
	}
}

func staleResult(src Source, body []byte) FetchResult {
	return FetchResult{Source: src, Body: body, FromCache: true, Stale: true}
}

// readBody decodes the response according to Content-Encoding. Setting
// Accept-Encoding ourselves turns off net/http's transparent gzip.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// withCacheBust appends t=<unix millis> so intermediary caches never serve a
// stale feed.
func withCacheBust(raw string, now time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	return scheme + "://" + host + redactedSuffix
}

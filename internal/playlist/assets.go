package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	appLog "classcal/internal/log"
)

// DefaultProbeTimeout bounds a single image existence check.
const DefaultProbeTimeout = 5 * time.Second

// ImageProber reports whether an image URL is usable.
type ImageProber interface {
	ProbeImage(ctx context.Context, url string) bool
}

// EmbedProbe reports whether a slide deck URL will load when embedded.
// Implementations must honour ctx, which carries the grace deadline.
type EmbedProbe interface {
	EmbedLoads(ctx context.Context, url string) bool
}

// AssetFetcher downloads small documents: folder manifests and published
// deck pages.
type AssetFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPAssets implements ImageProber, EmbedProbe and AssetFetcher over
// plain HTTP.
type HTTPAssets struct {
	client *http.Client
}

func NewHTTPAssets(client *http.Client) *HTTPAssets {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPAssets{client: client}
}

// ProbeImage is true for a 2xx response whose Content-Type, when present,
// is an image. HEAD is tried first; servers that refuse it get a GET.
func (a *HTTPAssets) ProbeImage(ctx context.Context, url string) bool {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return false
		}
		resp, err := a.client.Do(req)
		if err != nil {
			appLog.Debug("image probe failed", "url", url, "err", err)
			return false
		}
		_ = resp.Body.Close()

		if method == http.MethodHead && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false
		}
		ct := resp.Header.Get("Content-Type")
		return ct == "" || strings.HasPrefix(strings.ToLower(ct), "image/")
	}
	return false
}

// EmbedLoads checks the headers that stop a page from rendering inside a
// frame: X-Frame-Options and CSP frame-ancestors.
func (a *HTTPAssets) EmbedLoads(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	return frameable(resp.Header)
}

func frameable(h http.Header) bool {
	switch strings.ToUpper(strings.TrimSpace(h.Get("X-Frame-Options"))) {
	case "DENY", "SAMEORIGIN":
		return false
	}
	for _, csp := range h.Values("Content-Security-Policy") {
		for _, directive := range strings.Split(csp, ";") {
			fields := strings.Fields(strings.TrimSpace(directive))
			if len(fields) == 0 || !strings.EqualFold(fields[0], "frame-ancestors") {
				continue
			}
			for _, src := range fields[1:] {
				if src == "*" || strings.HasPrefix(src, "http") {
					return true
				}
			}
			return false
		}
	}
	return true
}

func (a *HTTPAssets) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// StatusError is a non-200 asset response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// folderImageURLs reads <folder>/manifest.json, a JSON array of file
// names, and returns their URLs.
func folderImageURLs(ctx context.Context, f AssetFetcher, folder string) ([]string, error) {
	folder = strings.TrimRight(strings.TrimSpace(folder), "/")
	manifestURL := folder + "/manifest.json"

	data, err := f.Get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("manifest.json not found at %s: %w", manifestURL, err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil || len(names) == 0 {
		return nil, fmt.Errorf("manifest.json is empty or invalid in %s", folder)
	}
	urls := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			urls = append(urls, folder+"/"+strings.TrimLeft(n, "/"))
		}
	}
	return urls, nil
}

var (
	slideIDRe   = regexp.MustCompile(`slide=id\.(g[a-zA-Z0-9]+)`)
	pubSuffixRe = regexp.MustCompile(`/pub.*`)
)

// slideImageURLs scrapes a published deck page for slide IDs, in page
// order without repeats, and turns each into a single-slide image URL.
func slideImageURLs(page, deckURL string) []string {
	base := pubSuffixRe.ReplaceAllString(deckURL, "")
	seen := map[string]bool{}
	var urls []string
	for _, m := range slideIDRe.FindAllStringSubmatch(page, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		urls = append(urls, base+"/pub?slide=id."+id)
	}
	return urls
}

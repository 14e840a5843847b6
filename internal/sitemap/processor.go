package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

// Processor expands a host's sitemap(s) into a flat list of page URL
// entries. A single Processor is shared across the crawl; callers are
// responsible for the per-host "already processed this sitemap" rule so a
// sitemap isn't re-fetched by every worker that lands on the same host.
type Processor struct {
	httpClient *http.Client
	userAgent  string
}

// NewProcessor returns a Processor that issues sitemap requests with the
// given user agent.
func NewProcessor(userAgent string) *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  userAgent,
	}
}

// Init swaps in a caller-supplied http.Client, letting tests point at an
// httptest.Server instead of the real network.
func (p *Processor) Init(httpClient *http.Client) {
	if httpClient != nil {
		p.httpClient = httpClient
	}
}

// Discover resolves the sitemap(s) for a host into a flat list of page URL
// entries. robotsSitemaps is whatever robots.txt declared for the host (may
// be empty, in which case the conventional paths are probed instead).
func (p *Processor) Discover(
	ctx context.Context,
	base url.URL,
	robotsSitemaps []string,
	retryParam retry.RetryParam,
) ([]Entry, failure.ClassifiedError) {
	roots := candidateSitemapURLs(base, robotsSitemaps)

	seen := make(map[string]struct{})
	var entries []Entry

	for _, root := range roots {
		found, err := p.expand(ctx, root, 0, seen, retryParam)
		if err != nil {
			// A probed conventional path 404ing is not fatal; only surface
			// an error if every candidate failed and nothing was found.
			continue
		}
		entries = append(entries, found...)
	}

	if len(entries) == 0 && len(roots) > 0 {
		return nil, &SitemapError{
			Message:   fmt.Sprintf("no sitemap found for %s", base.Host),
			Retryable: false,
			Cause:     ErrCauseNotFound,
		}
	}

	return entries, nil
}

// candidateSitemapURLs resolves robots-declared sitemap locations, falling
// back to the conventional path list when robots.txt declares none.
func candidateSitemapURLs(base url.URL, robotsSitemaps []string) []url.URL {
	if len(robotsSitemaps) > 0 {
		urls := make([]url.URL, 0, len(robotsSitemaps))
		for _, raw := range robotsSitemaps {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			if !u.IsAbs() {
				resolved := base
				resolved.Path = u.Path
				resolved.RawQuery = u.RawQuery
				urls = append(urls, resolved)
				continue
			}
			urls = append(urls, *u)
		}
		return urls
	}

	urls := make([]url.URL, 0, len(conventionalPaths))
	for _, path := range conventionalPaths {
		candidate := base
		candidate.Path = path
		candidate.RawQuery = ""
		urls = append(urls, candidate)
	}
	return urls
}

// expand fetches and parses one sitemap document, recursing into nested
// sitemap indexes up to maxRecursionDepth.
func (p *Processor) expand(
	ctx context.Context,
	loc url.URL,
	depth int,
	seen map[string]struct{},
	retryParam retry.RetryParam,
) ([]Entry, *SitemapError) {
	if depth > maxRecursionDepth {
		return nil, &SitemapError{
			Message:   loc.String(),
			Retryable: false,
			Cause:     ErrCauseRecursionLimit,
		}
	}

	key := loc.String()
	if _, ok := seen[key]; ok {
		return nil, nil
	}
	seen[key] = struct{}{}

	body, fetchErr := p.fetchWithRetry(ctx, loc, retryParam)
	if fetchErr != nil {
		return nil, fetchErr
	}

	if idx, ok := tryParseSitemapIndex(body); ok {
		var entries []Entry
		for _, child := range idx.Sitemaps {
			childURL, err := resolveURL(loc, child.Loc)
			if err != nil {
				continue
			}
			childEntries, childErr := p.expand(ctx, childURL, depth+1, seen, retryParam)
			if childErr != nil {
				continue
			}
			entries = append(entries, childEntries...)
		}
		return entries, nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, &SitemapError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseParseFailed,
		}
	}

	entries := make([]Entry, 0, len(set.URLs))
	for _, raw := range set.URLs {
		resolved, err := resolveURL(loc, raw.Loc)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			URL:        resolved,
			LastMod:    parseLastMod(raw.LastMod),
			ChangeFreq: strings.TrimSpace(raw.ChangeFreq),
		})
	}
	return entries, nil
}

func tryParseSitemapIndex(body []byte) (sitemapIndex, bool) {
	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err != nil {
		return sitemapIndex{}, false
	}
	return idx, len(idx.Sitemaps) > 0
}

func resolveURL(base url.URL, raw string) (url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return url.URL{}, fmt.Errorf("empty loc")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return url.URL{}, err
	}
	if parsed.IsAbs() {
		return *parsed, nil
	}
	resolved := base.ResolveReference(parsed)
	return *resolved, nil
}

func parseLastMod(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	layouts := []string{time.RFC3339, "2006-01-02", time.RFC1123}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return &t
		}
	}
	return nil
}

func (p *Processor) fetchWithRetry(ctx context.Context, loc url.URL, retryParam retry.RetryParam) ([]byte, *SitemapError) {
	task := func() ([]byte, failure.ClassifiedError) {
		return p.fetchOnce(ctx, loc)
	}

	result := retry.Retry(retryParam, task)
	if result.IsFailure() {
		var sitemapErr *SitemapError
		if err, ok := result.Err().(*SitemapError); ok {
			sitemapErr = err
		} else {
			sitemapErr = &SitemapError{Message: result.Err().Error(), Retryable: false, Cause: ErrCauseFetchFailed}
		}
		return nil, sitemapErr
	}
	return result.Value(), nil
}

func (p *Processor) fetchOnce(ctx context.Context, loc url.URL) ([]byte, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
	if err != nil {
		return nil, &SitemapError{Message: err.Error(), Retryable: false, Cause: ErrCauseFetchFailed}
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &SitemapError{Message: err.Error(), Retryable: true, Cause: ErrCauseFetchFailed}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &SitemapError{Message: loc.String(), Retryable: false, Cause: ErrCauseNotFound}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &SitemapError{Message: fmt.Sprintf("status %d", resp.StatusCode), Retryable: true, Cause: ErrCauseFetchFailed}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SitemapError{Message: fmt.Sprintf("status %d", resp.StatusCode), Retryable: false, Cause: ErrCauseFetchFailed}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SitemapError{Message: err.Error(), Retryable: true, Cause: ErrCauseFetchFailed}
	}
	return body, nil
}

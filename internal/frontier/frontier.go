package frontier

/*
 Frontier - manages crawl state & ordering

Responsibilities:
- Hold admitted URLs in priority order (lower score first)
- Deduplicate URLs by canonical form
- Enforce depth and page-count limits
- Track which URLs are currently being processed by a worker
- Knows nothing about fetching, parsing, classification, or storage.

It is a data structure + policy module, not a pipeline executor.
*/

import (
	"container/heap"
	"net/url"
	"strings"
	"sync"

	"github.com/rohmanhakim/polite-crawler/internal/config"
	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

// CrawlFrontier is the shared, concurrency-safe priority queue of admitted
// URLs awaiting fetch. Lower score dequeues first; among equal scores,
// insertion order is preserved. A URL whose canonical form already contains
// one of the configured keywords is dequeued ahead of every non-matching
// URL whatever their scores, mirroring a keyword-first database scan.
//
// A single mutex guards the heap, the known-URL set, and the processing
// set. At the worker-pool scale this package targets (tens of goroutines),
// one lock is simpler and fast enough.
type CrawlFrontier struct {
	mu sync.Mutex

	items      frontierHeap
	known      map[string]struct{}
	processing map[string]struct{}
	seq        int64

	maxDepth int
	maxPages int
	keywords []string
}

// NewCrawlFrontier constructs an empty frontier. Call Init before use.
func NewCrawlFrontier() *CrawlFrontier {
	return &CrawlFrontier{
		known:      make(map[string]struct{}),
		processing: make(map[string]struct{}),
	}
}

// Init configures depth/page limits and keyword list from cfg. Zero or
// negative limits are treated as unlimited.
func (f *CrawlFrontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.maxDepth = cfg.MaxDepth()
	f.maxPages = cfg.MaxPages()
	f.keywords = cfg.Keywords()
}

// Submit admits a candidate into the frontier. It canonicalizes the target
// URL, applies the keyword-preferential score adjustment, and filters out
// sitemap-shaped URLs (those are the Sitemap Processor's concern, not the
// Frontier's). Returns false if the URL was already known, is out of
// depth/page scope, or is a sitemap URL; true if it was newly enqueued.
func (f *CrawlFrontier) Submit(candidate CrawlAdmissionCandidate) bool {
	canonical := urlutil.Canonicalize(candidate.TargetURL())

	if isSitemapURL(canonical) {
		return false
	}

	key := canonical.String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.known[key]; seen {
		return false
	}

	if f.maxDepth > 0 && candidate.DiscoveryMetadata().Depth() > f.maxDepth {
		return false
	}

	if f.maxPages > 0 && len(f.known) >= f.maxPages {
		return false
	}

	keyword := containsKeyword(key, f.keywords)
	score := candidate.Score()
	if keyword {
		score -= 1
		if score < 0 {
			score = 0
		}
	}

	f.known[key] = struct{}{}
	f.seq++

	heap.Push(&f.items, &frontierItem{
		candidate: NewScoredCrawlAdmissionCandidate(
			canonical,
			candidate.SourceContext(),
			candidate.DiscoveryMetadata(),
			score,
		),
		canonical: key,
		keyword:   keyword,
		seq:       f.seq,
	})

	return true
}

// Dequeue pops the highest-priority admitted URL and marks it as
// processing. Returns false if the frontier is empty.
func (f *CrawlFrontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.items.Len() == 0 {
		return CrawlToken{}, false
	}

	item := heap.Pop(&f.items).(*frontierItem)
	f.processing[item.canonical] = struct{}{}

	token := NewCrawlToken(item.candidate.TargetURL(), item.candidate.DiscoveryMetadata().Depth())
	return token, true
}

// MarkProcessing records a URL as in-flight. Dequeue already does this;
// MarkProcessing is exposed for callers that re-admit a token obtained by
// other means (e.g. a resumed worker continuing an in-flight token).
func (f *CrawlFrontier) MarkProcessing(canonicalURL url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[canonicalURL.String()] = struct{}{}
}

// MarkProcessed releases the processing slot for a URL once a worker has
// finished fetching and persisting it, successfully or not.
func (f *CrawlFrontier) MarkProcessed(canonicalURL url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, canonicalURL.String())
}

// VisitedCount returns the number of distinct canonical URLs ever admitted,
// regardless of whether they have since been dequeued or processed.
func (f *CrawlFrontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.known)
}

// Len returns the number of URLs currently waiting to be dequeued.
func (f *CrawlFrontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

func containsKeyword(canonicalURL string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(canonicalURL)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// isSitemapURL filters out sitemap index/urlset URLs so they're handled by
// the Sitemap Processor rather than being crawled as ordinary pages.
func isSitemapURL(u url.URL) bool {
	path := strings.ToLower(u.Path)
	if strings.Contains(path, "sitemap") && strings.HasSuffix(path, ".xml") {
		return true
	}
	if strings.Contains(path, "/assets/sitemap/") {
		return true
	}
	return false
}

// frontierItem is a single heap entry.
type frontierItem struct {
	candidate CrawlAdmissionCandidate
	canonical string
	keyword   bool
	seq       int64
	index     int
}

// frontierHeap implements container/heap.Interface. Ordering: keyword
// matches first, then by score ascending, then by insertion order - a
// stable, deterministic priority queue equivalent to a keyword-first SQL
// scan with score/insertion-id fallback.
type frontierHeap []*frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.keyword != b.keyword {
		return a.keyword
	}
	if a.candidate.Score() != b.candidate.Score() {
		return a.candidate.Score() < b.candidate.Score()
	}
	return a.seq < b.seq
}

func (h frontierHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *frontierHeap) Push(x interface{}) {
	item := x.(*frontierItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

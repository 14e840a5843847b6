package store

import (
	"net/url"
	"sort"
	"sync"
)

// page is the in-memory mirror of a crawldb.page row.
type page struct {
	id            int64
	siteID        int64
	url           string
	pageType      PageType
	status        int
	priority      float64
	body          []byte
	contentHash   string
	minhash       string
	duplicateID   int64
	insertionSeq  int64
}

// MemoryStore is an in-memory Store used by tests and by callers that don't
// want a Postgres dependency (e.g. a dry-run crawl). It implements the same
// contract as PostgresStore, including the DUPLICATE-is-sticky invariant.
type MemoryStore struct {
	mu       sync.Mutex
	sites    map[string]int64
	pages    map[string]*page
	pagesByID map[int64]*page
	links    map[[2]int64]struct{}
	images   []imageRow
	binaries []binaryRow
	nextID   int64
	seq      int64
}

type imageRow struct {
	pageID      int64
	filename    string
	contentType string
	data        []byte
}

type binaryRow struct {
	pageID   int64
	typeCode string
	data     []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:     make(map[string]int64),
		pages:     make(map[string]*page),
		pagesByID: make(map[int64]*page),
		links:     make(map[[2]int64]struct{}),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertSite(host string, robotsContent, sitemapContent *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.sites[host]; ok {
		return id, nil
	}
	m.nextID++
	id := m.nextID
	m.sites[host] = id
	return id, nil
}

func (m *MemoryStore) AddFrontier(target url.URL, priority float64) (bool, error) {
	raw := target.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pages[raw]; exists {
		return false, nil
	}

	host := hostOf(target)
	siteID, ok := m.sites[host]
	if !ok {
		m.nextID++
		siteID = m.nextID
		m.sites[host] = siteID
	}

	m.nextID++
	m.seq++
	p := &page{
		id:           m.nextID,
		siteID:       siteID,
		url:          raw,
		pageType:     PageTypeFrontier,
		priority:     priority,
		insertionSeq: m.seq,
	}
	m.pages[raw] = p
	m.pagesByID[p.id] = p
	return true, nil
}

func (m *MemoryStore) NextFrontier(keywords []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*page
	for _, p := range m.pages {
		if p.pageType == PageTypeFrontier {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	if match := pickPreferential(candidates, keywords); match != nil {
		return match.url, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].insertionSeq < candidates[j].insertionSeq
	})
	return candidates[0].url, nil
}

func pickPreferential(candidates []*page, keywords []string) *page {
	var matches []*page
	for _, p := range candidates {
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			if containsFold(p.url, kw) {
				matches = append(matches, p)
				break
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].priority != matches[j].priority {
			return matches[i].priority < matches[j].priority
		}
		return matches[i].insertionSeq < matches[j].insertionSeq
	})
	return matches[0]
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	h, n = toLower(h), toLower(n)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if string(h[i:i+len(n)]) == string(n) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) MarkProcessing(target url.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[target.String()]; ok {
		_ = p
	}
	return nil
}

func (m *MemoryStore) UpdatePage(target url.URL, body []byte, status int, pageType PageType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := target.String()
	p, ok := m.pages[raw]
	if !ok {
		return 0, &StoreError{Message: raw, Retryable: false, Cause: ErrCauseInvalidInput}
	}
	if p.pageType == PageTypeDuplicate {
		return p.id, nil
	}
	p.body = body
	p.status = status
	p.pageType = pageType
	return p.id, nil
}

func (m *MemoryStore) UpdatePageWithHashes(target url.URL, body []byte, status int, contentHash string, minhash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := target.String()
	p, ok := m.pages[raw]
	if !ok {
		host := hostOf(target)
		siteID, siteOK := m.sites[host]
		if !siteOK {
			m.nextID++
			siteID = m.nextID
			m.sites[host] = siteID
		}
		m.nextID++
		m.seq++
		p = &page{id: m.nextID, siteID: siteID, url: raw, insertionSeq: m.seq}
		m.pages[raw] = p
		m.pagesByID[p.id] = p
	}

	if p.pageType == PageTypeDuplicate {
		p.contentHash = contentHash
		return p.id, nil
	}

	p.body = body
	p.status = status
	p.pageType = PageTypeHTML
	p.contentHash = contentHash
	p.minhash = minhash
	return p.id, nil
}

func (m *MemoryStore) AddLink(fromURL, toURL url.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.pages[fromURL.String()]
	if !ok {
		return &StoreError{Message: fromURL.String(), Retryable: false, Cause: ErrCauseInvalidInput}
	}
	to, ok := m.pages[toURL.String()]
	if !ok {
		return &StoreError{Message: toURL.String(), Retryable: false, Cause: ErrCauseInvalidInput}
	}

	m.links[[2]int64{from.id, to.id}] = struct{}{}
	return nil
}

func (m *MemoryStore) AddImage(pageID int64, filename, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, imageRow{pageID: pageID, filename: filename, contentType: contentType, data: data})
	return nil
}

func (m *MemoryStore) AddBinary(pageID int64, typeCode string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binaries = append(m.binaries, binaryRow{pageID: pageID, typeCode: typeCode, data: data})
	return nil
}

func (m *MemoryStore) MarkDuplicate(duplicateURL, originalURL url.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.pages[originalURL.String()]
	if !ok {
		return &StoreError{Message: originalURL.String(), Retryable: false, Cause: ErrCauseInvalidInput}
	}
	dup, ok := m.pages[duplicateURL.String()]
	if !ok {
		return &StoreError{Message: duplicateURL.String(), Retryable: false, Cause: ErrCauseInvalidInput}
	}

	dup.pageType = PageTypeDuplicate
	dup.body = nil
	dup.duplicateID = original.id
	return nil
}

func (m *MemoryStore) FindByHash(contentHash string) (PageRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *page
	for _, p := range m.pages {
		if p.contentHash == "" || p.contentHash != contentHash {
			continue
		}
		if best == nil || p.insertionSeq < best.insertionSeq {
			best = p
		}
	}
	if best == nil {
		return PageRef{}, false, nil
	}
	return PageRef{ID: best.id, URL: best.url}, true, nil
}

func (m *MemoryStore) FindByMinhash(minhash string) (PageRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *page
	for _, p := range m.pages {
		if p.pageType != PageTypeHTML || p.minhash == "" || p.minhash != minhash {
			continue
		}
		if best == nil || p.insertionSeq < best.insertionSeq {
			best = p
		}
	}
	if best == nil {
		return PageRef{}, false, nil
	}
	return PageRef{ID: best.id, URL: best.url}, true, nil
}

func (m *MemoryStore) FrontierBatch(limit int) ([]FrontierEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*page
	for _, p := range m.pages {
		if p.pageType == PageTypeFrontier {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].insertionSeq < candidates[j].insertionSeq
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	entries := make([]FrontierEntry, 0, len(candidates))
	for _, p := range candidates {
		parsed, err := url.Parse(p.url)
		if err != nil {
			continue
		}
		entries = append(entries, FrontierEntry{URL: *parsed, Priority: p.priority})
	}
	return entries, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

package store

import "net/url"

/*
Responsibilities

- The only external boundary the crawl engine depends on: site/page/link/
  image/binary persistence, frontier warm-start, and the authoritative
  exact-hash and MinHash duplicate indices.
- Page state transitions are idempotent and one-directional: any state may
  move to DUPLICATE, but DUPLICATE never moves back to HTML.

Knows nothing about fetching, parsing, or scoring; it only persists what the
rest of the crawl decides.
*/

// PageType mirrors the Page state machine from the spec: FRONTIER -> HTML or
// BINARY, either of which may later transition (one-way) to DUPLICATE.
type PageType string

const (
	PageTypeFrontier  PageType = "FRONTIER"
	PageTypeHTML      PageType = "HTML"
	PageTypeBinary    PageType = "BINARY"
	PageTypeDuplicate PageType = "DUPLICATE"
)

// FrontierEntry is one row returned by FrontierBatch, used to warm-start a
// crawl from a previous run's persisted frontier.
type FrontierEntry struct {
	URL      url.URL
	Priority float64
}

// PageRef is the minimal (id, url) pair returned by the duplicate-lookup
// operations.
type PageRef struct {
	ID  int64
	URL string
}

// Store is the persistent store interface the crawl engine depends on. A
// Postgres-backed implementation is the production adapter; tests may
// substitute an in-memory one.
type Store interface {
	// UpsertSite is idempotent on host; it updates robots/sitemap content
	// only when a non-nil value is supplied.
	UpsertSite(host string, robotsContent, sitemapContent *string) (int64, error)

	// AddFrontier inserts url at priority if it isn't already present in
	// any state. Returns false if the URL already exists.
	AddFrontier(target url.URL, priority float64) (bool, error)

	// NextFrontier returns the next URL to dispatch, preferring rows whose
	// url contains one of keywords, then by priority ascending, then by
	// insertion order. Returns ("", nil) when the frontier is empty.
	NextFrontier(keywords []string) (string, error)

	// MarkProcessing updates accessed_time for a URL taken by a worker.
	MarkProcessing(target url.URL) error

	// UpdatePage transitions a page to HTML or BINARY with the given body
	// and HTTP status. Used for pages that don't need hash indexing
	// (binaries, or HTML with skipped/failed duplicate detection).
	UpdatePage(target url.URL, body []byte, status int, pageType PageType) (int64, error)

	// UpdatePageWithHashes is UpdatePage plus the exact-hash/MinHash
	// indices. It MUST NOT demote a page already marked DUPLICATE back to
	// HTML.
	UpdatePageWithHashes(target url.URL, body []byte, status int, contentHash string, minhash string) (int64, error)

	// AddLink records a directed edge; insertion is idempotent.
	AddLink(fromURL, toURL url.URL) error

	// AddImage stores an image against its owning page. data may be nil
	// for metadata-only images.
	AddImage(pageID int64, filename, contentType string, data []byte) error

	// AddBinary stores a binary document blob, registering typeCode in the
	// data_type table first if needed.
	AddBinary(pageID int64, typeCode string, data []byte) error

	// MarkDuplicate sets a page's state to DUPLICATE, clears its stored
	// body, and records the original page it duplicates. Sticky: calling
	// this again, or calling UpdatePage*, never reverts the state.
	MarkDuplicate(duplicateURL, originalURL url.URL) error

	// FindByHash returns another page with the same content hash, if any.
	FindByHash(contentHash string) (PageRef, bool, error)

	// FindByMinhash returns another HTML page with a matching MinHash
	// signature encoding, if any.
	FindByMinhash(minhash string) (PageRef, bool, error)

	// FrontierBatch returns up to limit pending frontier rows, for
	// warm-starting a crawl from a previous run's persisted state.
	FrontierBatch(limit int) ([]FrontierEntry, error)

	Close() error
}

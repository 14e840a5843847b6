package htmlparse

import "net/url"

/*
Responsibilities

- Parse an HTML body into anchors, onclick-driven links, and images
- Resolve every discovered reference against the page's base URL
- Cap inlined image bytes at a configured size, falling back to
  metadata-only records for anything larger, any data: URI, and any CSS
  background-image reference

Knows nothing about the Frontier, Scorer, or Store; it only turns one
page's bytes into the links and images it contains.
*/

// AnchorLink is a discovered `<a href>` (or equivalent onclick) target,
// along with the surrounding text used later by the Priority Scorer.
type AnchorLink struct {
	TargetURL  url.URL
	AnchorText string
	ParentText string
}

// ImageKind distinguishes how an image reference was discovered, since that
// drives whether it's worth an HTTP fetch at all.
type ImageKind string

const (
	ImageKindSrc             ImageKind = "src"
	ImageKindDataURI         ImageKind = "data-uri"
	ImageKindCSSBackground   ImageKind = "css-background"
)

// Image is one discovered image reference. Data is nil for metadata-only
// images (data: URIs, CSS backgrounds, or anything that failed to fetch or
// exceeded the inlining cap); Filename is always populated.
type Image struct {
	SourceURL   url.URL
	Kind        ImageKind
	Filename    string
	ContentType string
	Data        []byte
	MetadataOnly bool
}

// ParseResult is everything the HTML Parser extracts from one page.
type ParseResult struct {
	Links  []AnchorLink
	Images []Image
}

package htmlparse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/hashutil"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

const maxFilenameLength = 50

// imageFetcher downloads one image's bytes, capped at maxBytes. A nil
// fetcher makes every non-data-URI image metadata-only, useful for tests
// and for callers that don't want to hit the network.
type imageFetcher interface {
	Fetch(ctx context.Context, target url.URL, maxBytes int64, retryParam retry.RetryParam) ([]byte, string, failure.ClassifiedError)
}

// HttpImageFetcher fetches image bytes over HTTP with retry-on-transport-error,
// mirroring the Fetcher's politeness and timeout posture.
type HttpImageFetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewHttpImageFetcher(userAgent string) HttpImageFetcher {
	return HttpImageFetcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  userAgent,
	}
}

func (f HttpImageFetcher) Fetch(
	ctx context.Context,
	target url.URL,
	maxBytes int64,
	retryParam retry.RetryParam,
) ([]byte, string, failure.ClassifiedError) {
	type fetchOutcome struct {
		body        []byte
		contentType string
	}

	task := func() (fetchOutcome, failure.ClassifiedError) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return fetchOutcome{}, &HtmlParseError{Message: err.Error(), Retryable: false, Cause: ErrCauseImageFetch}
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fetchOutcome{}, &HtmlParseError{Message: err.Error(), Retryable: true, Cause: ErrCauseImageFetch}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
			return fetchOutcome{}, &HtmlParseError{
				Message:   fmt.Sprintf("status %d", resp.StatusCode),
				Retryable: retryable,
				Cause:     ErrCauseImageFetch,
			}
		}

		limited := io.LimitReader(resp.Body, maxBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			return fetchOutcome{}, &HtmlParseError{Message: err.Error(), Retryable: true, Cause: ErrCauseImageFetch}
		}
		if int64(len(body)) > maxBytes {
			return fetchOutcome{}, &HtmlParseError{Message: "image exceeds inlining cap", Retryable: false, Cause: ErrCauseImageTooLarge}
		}

		return fetchOutcome{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	}

	result := retry.Retry(retryParam, task)
	if result.IsFailure() {
		return nil, "", result.Err()
	}
	outcome := result.Value()
	return outcome.body, outcome.contentType, nil
}

// extractImages resolves every <img src>, every data: URI among them, and
// every CSS background-image reference found in inline style attributes.
// Results are deduplicated per page by resolved URL (data URIs dedup by
// their own content hash, since they carry no URL).
func (p Parser) extractImages(base url.URL, doc *goquery.Document) []Image {
	var images []Image
	seen := make(map[string]struct{})

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}

		if strings.HasPrefix(src, "data:") {
			img, ok := parseDataURIImage(src)
			if !ok {
				return
			}
			if _, dup := seen[img.Filename]; dup {
				return
			}
			seen[img.Filename] = struct{}{}
			images = append(images, img)
			return
		}

		target, err := resolveAgainst(base, src)
		if err != nil {
			return
		}
		key := target.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		images = append(images, p.fetchImage(target, ImageKindSrc))
	})

	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		match := cssBackgroundImagePattern.FindStringSubmatch(style)
		if match == nil {
			return
		}

		raw := strings.TrimSpace(match[1])
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		target, err := resolveAgainst(base, raw)
		if err != nil {
			return
		}
		key := "css:" + target.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		images = append(images, Image{
			SourceURL:    target,
			Kind:         ImageKindCSSBackground,
			Filename:     truncateFilename(filenameFromURL(target)),
			MetadataOnly: true,
		})
	})

	return images
}

// fetchImage downloads src's bytes (if a fetcher is configured) and inlines
// them when under the cap; otherwise it records a metadata-only Image.
func (p Parser) fetchImage(src url.URL, kind ImageKind) Image {
	filename := truncateFilename(filenameFromURL(src))

	if p.fetcher == nil {
		return Image{SourceURL: src, Kind: kind, Filename: filename, MetadataOnly: true}
	}

	body, contentType, err := p.fetcher.Fetch(context.Background(), src, p.maxInlineBytes, p.retryParam)
	if err != nil {
		return Image{SourceURL: src, Kind: kind, Filename: filename, ContentType: contentType, MetadataOnly: true}
	}

	return Image{SourceURL: src, Kind: kind, Filename: filename, ContentType: contentType, Data: body}
}

// parseDataURIImage decodes a data: URI into a metadata-only Image record;
// the spec only asks that data URIs be recorded as metadata (filename
// synthesized from content subtype and a hash of the URI), never inlined.
func parseDataURIImage(raw string) (Image, bool) {
	rest := strings.TrimPrefix(raw, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return Image{}, false
	}
	header := rest[:comma]

	mimeType := header
	if semicolon := strings.IndexByte(header, ';'); semicolon >= 0 {
		mimeType = header[:semicolon]
	}

	subtype := "octet-stream"
	if slash := strings.IndexByte(mimeType, '/'); slash >= 0 {
		subtype = mimeType[slash+1:]
	}

	hash, err := hashutil.HashBytes([]byte(raw), hashutil.HashAlgoSHA256)
	if err != nil {
		hash = "0"
	}
	shortHash := hash
	if len(shortHash) > 12 {
		shortHash = shortHash[:12]
	}

	filename := truncateFilename(fmt.Sprintf("data-uri-%s.%s", shortHash, subtype))

	return Image{
		Kind:         ImageKindDataURI,
		Filename:     filename,
		ContentType:  "image/" + subtype,
		MetadataOnly: true,
	}, true
}

func filenameFromURL(u url.URL) string {
	name := u.Path
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = "image"
	}
	return name
}

// truncateFilename caps a filename at maxFilenameLength characters, keeping
// the extension and inserting an ellipsis in the truncated stem.
func truncateFilename(name string) string {
	if len(name) <= maxFilenameLength {
		return name
	}

	ext := ""
	stem := name
	if dot := strings.LastIndexByte(name, '.'); dot > 0 && dot < len(name)-1 {
		ext = name[dot:]
		stem = name[:dot]
	}

	const ellipsis = "..."
	budget := maxFilenameLength - len(ext) - len(ellipsis)
	if budget < 1 {
		budget = 1
	}
	if budget >= len(stem) {
		return stem + ext
	}

	head := budget / 2
	tail := budget - head
	truncated := stem[:head] + ellipsis + stem[len(stem)-tail:]
	return truncated + ext
}

package htmlparse

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
)

// onclickLocationPattern matches onclick handlers of the shape
// location.href = "..." or location.href='...', the only onclick pattern
// the spec asks the parser to follow.
var onclickLocationPattern = regexp.MustCompile(`location\.href\s*=\s*["']([^"']+)["']`)

// cssBackgroundImagePattern matches inline style="background-image:url(...)"
// declarations.
var cssBackgroundImagePattern = regexp.MustCompile(`background-image\s*:\s*url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// Parser extracts anchors, onclick-driven links, and images from an HTML
// document body.
type Parser struct {
	fetcher        imageFetcher
	maxInlineBytes int64
	retryParam     retry.RetryParam
}

// NewParser returns a Parser that uses fetcher to download non-data-URI
// image bytes for inlining, capped at maxInlineBytes per image. A nil
// fetcher makes every image metadata-only.
func NewParser(fetcher imageFetcher, maxInlineBytes int64, retryParam retry.RetryParam) Parser {
	return Parser{fetcher: fetcher, maxInlineBytes: maxInlineBytes, retryParam: retryParam}
}

// Parse extracts every link and image from htmlBody, resolving relative
// references against base.
func (p Parser) Parse(base url.URL, htmlBody []byte) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return ParseResult{}, &HtmlParseError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseMalformedHTML,
		}
	}

	links := extractAnchors(base, doc)
	links = append(links, extractOnclickLinks(base, doc)...)

	images := p.extractImages(base, doc)

	return ParseResult{Links: links, Images: images}, nil
}

// extractAnchors pulls every `<a href>` whose href is non-empty and not a
// fragment-only or javascript: target.
func extractAnchors(base url.URL, doc *goquery.Document) []AnchorLink {
	var links []AnchorLink

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !isFollowableHref(href) {
			return
		}

		target, err := resolveAgainst(base, href)
		if err != nil {
			return
		}

		anchorText := strings.TrimSpace(sel.Text())
		parentText := strings.TrimSpace(sel.Parent().Text())
		if parentText == "" {
			parentText = anchorText
		}

		links = append(links, AnchorLink{
			TargetURL:  target,
			AnchorText: anchorText,
			ParentText: parentText,
		})
	})

	return links
}

// extractOnclickLinks pulls location.href = "..." targets out of onclick
// attributes on any element.
func extractOnclickLinks(base url.URL, doc *goquery.Document) []AnchorLink {
	var links []AnchorLink

	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		onclick, _ := sel.Attr("onclick")
		match := onclickLocationPattern.FindStringSubmatch(onclick)
		if match == nil {
			return
		}

		href := strings.TrimSpace(match[1])
		if !isFollowableHref(href) {
			return
		}

		target, err := resolveAgainst(base, href)
		if err != nil {
			return
		}

		text := strings.TrimSpace(sel.Text())
		parentText := strings.TrimSpace(sel.Parent().Text())
		if parentText == "" {
			parentText = text
		}

		links = append(links, AnchorLink{
			TargetURL:  target,
			AnchorText: text,
			ParentText: parentText,
		})
	})

	return links
}

func isFollowableHref(href string) bool {
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, "#") {
		return false
	}
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false
	}
	return true
}

func resolveAgainst(base url.URL, raw string) (url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return url.URL{}, err
	}
	resolved := base.ResolveReference(parsed)
	return *resolved, nil
}

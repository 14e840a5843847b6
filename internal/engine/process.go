package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/classify"
	"github.com/rohmanhakim/polite-crawler/internal/dedup"
	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/htmlparse"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/store"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

// process drives a single dequeued token through fetch, classification,
// and (for HTML) duplicate detection, parsing, scoring, and link
// admission. It never decides whether the worker pool should stop; it
// only reports the outcome back to the caller.
func (e *Engine) process(ctx context.Context, token frontier.CrawlToken) failure.ClassifiedError {
	host := token.URL().Host
	e.sleeper.Sleep(e.rateLimiter.Reserve(host))

	if err := e.store.MarkProcessing(token.URL()); err != nil {
		e.metadataSink.RecordError(time.Now(), "engine", "store.MarkProcessing", metadata.CauseStorageFailure, err.Error(), nil)
	}

	fetchResult, err := e.fetcher.Fetch(
		ctx,
		token.Depth(),
		fetcher.NewFetchParam(token.URL(), e.cfg.UserAgent()),
		retryParam(e.cfg),
	)
	if err != nil {
		return err
	}

	switch fetchResult.Kind() {
	case classify.KindBinary:
		return e.processBinary(token, fetchResult)
	case classify.KindHTML:
		return e.processHTML(token, fetchResult)
	default:
		return nil
	}
}

func (e *Engine) processBinary(token frontier.CrawlToken, fetchResult fetcher.FetchResult) failure.ClassifiedError {
	contentType := fetchResult.Headers()["Content-Type"]
	typeCode := classify.DocumentType(contentType, token.URL())

	pageID, err := e.store.UpdatePage(token.URL(), nil, fetchResult.Code(), store.PageTypeBinary)
	if err != nil {
		return classifyStoreErr(err)
	}

	if err := e.store.AddBinary(pageID, typeCode, fetchResult.Body()); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

func (e *Engine) processHTML(token frontier.CrawlToken, fetchResult fetcher.FetchResult) failure.ClassifiedError {
	body := fetchResult.Body()

	exactHash, hashErr := e.detector.ExactHash(body)
	if hashErr != nil {
		return nil
	}
	signature, sigErr := e.detector.Signature(body)
	if sigErr != nil {
		return nil
	}
	encodedSig := signature.Encode()

	if originalURL, isDup := e.findDuplicateOrigin(exactHash, encodedSig, signature); isDup {
		return e.persistAsDuplicate(token, body, fetchResult.Code(), exactHash, encodedSig, signature, originalURL)
	}

	pageID, err := e.store.UpdatePageWithHashes(token.URL(), body, fetchResult.Code(), exactHash, encodedSig)
	if err != nil {
		return classifyStoreErr(err)
	}
	e.registry.Observe(token.URL(), exactHash, signature)

	parseResult, parseErr := e.parser.Parse(token.URL(), body)
	if parseErr != nil {
		return asClassifiedError(parseErr, &htmlparse.HtmlParseError{
			Message:   parseErr.Error(),
			Retryable: false,
			Cause:     htmlparse.ErrCauseMalformedHTML,
		})
	}

	for _, img := range parseResult.Images {
		if err := e.store.AddImage(pageID, img.Filename, img.ContentType, img.Data); err != nil {
			e.metadataSink.RecordError(time.Now(), "engine", "store.AddImage", metadata.CauseStorageFailure, err.Error(), nil)
			continue
		}
		e.imageCount.Add(1)
	}

	e.admitDiscoveredLinks(token, parseResult.Links)
	return nil
}

// findDuplicateOrigin checks the in-memory registry first (the fuzzy,
// recently-seen tier), then the store's authoritative exact-hash and
// exact-minhash indices. It returns the original page's URL string, if any.
func (e *Engine) findDuplicateOrigin(exactHash, encodedSig string, signature dedup.Signature) (string, bool) {
	if match, ok := e.registry.Check(exactHash, signature); ok {
		return match.OriginalURL.String(), true
	}
	if ref, found, err := e.store.FindByHash(exactHash); err == nil && found {
		return ref.URL, true
	}
	if ref, found, err := e.store.FindByMinhash(encodedSig); err == nil && found {
		return ref.URL, true
	}
	return "", false
}

func (e *Engine) persistAsDuplicate(
	token frontier.CrawlToken,
	body []byte,
	statusCode int,
	exactHash, encodedSig string,
	signature dedup.Signature,
	originalURL string,
) failure.ClassifiedError {
	original, parseErr := url.Parse(originalURL)
	if parseErr != nil {
		return nil
	}

	if _, err := e.store.UpdatePageWithHashes(token.URL(), body, statusCode, exactHash, encodedSig); err != nil {
		return classifyStoreErr(err)
	}
	if err := e.store.MarkDuplicate(token.URL(), *original); err != nil {
		return classifyStoreErr(err)
	}
	e.dupCount.Add(1)
	return nil
}

func (e *Engine) admitDiscoveredLinks(token frontier.CrawlToken, links []htmlparse.AnchorLink) {
	allowed := e.cfg.AllowedHosts()

	for _, anchor := range links {
		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToLower(anchor.TargetURL.Hostname())]; !ok {
				continue
			}
		}

		priority := e.scorer.Score(anchor.AnchorText, anchor.ParentText)
		if err := e.admit(anchor.TargetURL, frontier.SourceCrawl, token.Depth()+1, priority); err != nil {
			e.errorCount.Add(1)
			continue
		}
		if err := e.store.AddLink(token.URL(), anchor.TargetURL); err != nil {
			e.metadataSink.RecordError(time.Now(), "engine", "store.AddLink", metadata.CauseStorageFailure, err.Error(), nil)
		}
	}
}

// classifyStoreErr adapts the Store interface's plain `error` returns to
// failure.ClassifiedError. Every production Store implementation already
// returns a *store.StoreError (which satisfies ClassifiedError); the
// fallback only guards a test double that doesn't.
func classifyStoreErr(err error) failure.ClassifiedError {
	return asClassifiedError(err, &store.StoreError{Message: errString(err), Retryable: false, Cause: store.ErrCauseQuery, Err: err})
}

// asClassifiedError returns err unchanged if its dynamic type already
// satisfies failure.ClassifiedError (true of every error type this
// codebase defines), otherwise substitutes fallback so callers always get
// a severity to act on.
func asClassifiedError(err error, fallback failure.ClassifiedError) failure.ClassifiedError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(failure.ClassifiedError); ok {
		return ce
	}
	return fallback
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package sitemap

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type SitemapErrorCause string

const (
	ErrCauseFetchFailed    SitemapErrorCause = "fetch failed"
	ErrCauseNotFound       SitemapErrorCause = "sitemap not found"
	ErrCauseParseFailed    SitemapErrorCause = "malformed sitemap xml"
	ErrCauseRecursionLimit SitemapErrorCause = "sitemap index recursion limit exceeded"
)

type SitemapError struct {
	Message   string
	Retryable bool
	Cause     SitemapErrorCause
}

func (e *SitemapError) Error() string {
	return fmt.Sprintf("sitemap error: %s: %s", e.Cause, e.Message)
}

func (e *SitemapError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *SitemapError) IsRetryable() bool {
	return e.Retryable
}

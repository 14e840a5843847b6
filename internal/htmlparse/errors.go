package htmlparse

import (
	"fmt"

	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

type HtmlParseErrorCause string

const (
	ErrCauseMalformedHTML HtmlParseErrorCause = "malformed html"
	ErrCauseImageTooLarge HtmlParseErrorCause = "image exceeds inlining cap"
	ErrCauseImageFetch    HtmlParseErrorCause = "image fetch failed"
)

type HtmlParseError struct {
	Message   string
	Retryable bool
	Cause     HtmlParseErrorCause
}

func (e *HtmlParseError) Error() string {
	return fmt.Sprintf("htmlparse error: %s: %s", e.Cause, e.Message)
}

func (e *HtmlParseError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *HtmlParseError) IsRetryable() bool {
	return e.Retryable
}

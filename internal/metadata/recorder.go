package metadata

import (
	"time"

	"github.com/sirupsen/logrus"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the write side every pipeline package holds. It is
// implemented by Recorder; pipeline code depends on the interface only.
type MetadataSink interface {
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, errorString string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// CrawlFinalizer records the one-shot terminal summary of a crawl run.
// Kept distinct from MetadataSink because it is only ever called once,
// by the engine, after the frontier has drained.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// Recorder is the logrus-backed implementation of MetadataSink and
// CrawlFinalizer. It holds no crawl state of its own: every call is a
// structured log line, never a decision point.
type Recorder struct {
	log   *logrus.Entry
	runID string
}

// NewRecorder builds a Recorder stamped with runID, attached to every log
// line it emits so a run's events can be grepped out of shared logs. Logs
// to a default logrus.Logger; use NewRecorderWithLogger to supply one
// already configured with a formatter, output, or level.
func NewRecorder(runID string) Recorder {
	return NewRecorderWithLogger(logrus.New(), runID)
}

// NewRecorderWithLogger is NewRecorder with a caller-supplied *logrus.Logger,
// e.g. one wired to a JSON formatter or a non-stderr output in cmd/crawler.
func NewRecorderWithLogger(log *logrus.Logger, runID string) Recorder {
	if log == nil {
		log = logrus.New()
	}
	return Recorder{
		log:   log.WithField(string(AttrRunID), runID),
		runID: runID,
	}
}

func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.log.WithFields(logrus.Fields{
		"url":          fetchUrl,
		"http_status":  httpStatus,
		"duration_ms":  duration.Milliseconds(),
		"content_type": contentType,
		"retry_count":  retryCount,
		"depth":        crawlDepth,
	}).Info("fetch")
}

func (r *Recorder) RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	fields := logrus.Fields{
		"package":     packageName,
		"action":      action,
		"cause":       causeLabel(cause),
		"observed_at": observedAt,
	}
	for _, attr := range attrs {
		fields[string(attr.Key)] = attr.Value
	}
	r.log.WithFields(fields).Warn(errorString)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	fields := logrus.Fields{
		"kind": string(kind),
		"path": path,
	}
	for _, attr := range attrs {
		fields[string(attr.Key)] = attr.Value
	}
	r.log.WithFields(fields).Debug("artifact")
}

func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	r.log.WithFields(logrus.Fields{
		"total_pages":  totalPages,
		"total_errors": totalErrors,
		"total_assets": totalAssets,
		"duration_ms":  duration.Milliseconds(),
	}).Info("crawl finished")
}

func causeLabel(cause ErrorCause) string {
	switch cause {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return "unknown"
	}
}

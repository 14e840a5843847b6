package engine

/*
Responsibilities

- Own the worker pool: N goroutines pulling admitted URLs off the
  Frontier and driving them through fetch -> classify -> parse/dedup ->
  score -> persist.
- Be the sole admission choke point: every URL that ever reaches the
  Frontier, whether a seed, a discovered link, or a sitemap entry, passes
  through Admit first. No other component may call Frontier.Submit.
- Decide retry, continuation, and abort. Pipeline stages only classify
  failure severity; Engine is the only place that acts on it.
- Terminate the crawl once the frontier has been empty across every
  worker for a short run of consecutive polls, per a politeness backoff
  between polls.

Knows nothing about HTML structure, robots rule syntax, or SQL; it only
coordinates the packages that do.
*/

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/config"
	"github.com/rohmanhakim/polite-crawler/internal/dedup"
	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/frontier"
	"github.com/rohmanhakim/polite-crawler/internal/htmlparse"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/robots"
	"github.com/rohmanhakim/polite-crawler/internal/score"
	"github.com/rohmanhakim/polite-crawler/internal/sitemap"
	"github.com/rohmanhakim/polite-crawler/internal/store"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/limiter"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

// emptyPollsBeforeStop is the number of consecutive empty dequeues, summed
// across all workers, after which the pool considers the frontier drained
// for good and stops. A single worker finding the frontier momentarily
// empty while a sibling is mid-fetch (and about to discover more links)
// isn't reason enough to quit.
const emptyPollsBeforeStop = 5

// emptyPollBackoff is the pause a worker takes after finding the frontier
// empty, before polling again.
const emptyPollBackoff = 50 * time.Millisecond

// Result is the terminal summary of a completed crawl run.
type Result struct {
	PagesVisited int
	Errors       int
	Duplicates   int
	Images       int
}

// Engine wires every pipeline package behind the single admission choke
// point and worker pool the spec's concurrency model describes.
type Engine struct {
	cfg config.Config

	frontier   *frontier.CrawlFrontier
	robot      robots.Robot
	sitemapper *sitemap.Processor
	fetcher    fetcher.Fetcher
	parser     htmlparse.Parser
	detector   dedup.Detector
	registry   *dedup.Registry
	scorer     score.Scorer
	store      store.Store

	rateLimiter  limiter.RateLimiter
	metadataSink metadata.MetadataSink
	finalizer    metadata.CrawlFinalizer
	sleeper      Sleeper

	sitemappedMu sync.Mutex
	sitemapped   map[string]struct{}

	errorCount atomic.Int64
	dupCount   atomic.Int64
	imageCount atomic.Int64

	emptyPolls atomic.Int64
	aborted    atomic.Bool
	abortErr   atomic.Value // failure.ClassifiedError
}

// New constructs an Engine from its dependencies. cfg drives worker count,
// limits, and retry/backoff parameters for the run it's about to execute.
func New(
	cfg config.Config,
	robot robots.Robot,
	sitemapper *sitemap.Processor,
	htmlFetcher fetcher.Fetcher,
	parser htmlparse.Parser,
	detector dedup.Detector,
	registry *dedup.Registry,
	scorer score.Scorer,
	persistentStore store.Store,
	rateLimiter limiter.RateLimiter,
	metadataSink metadata.MetadataSink,
	finalizer metadata.CrawlFinalizer,
) *Engine {
	crawlFrontier := frontier.NewCrawlFrontier()
	crawlFrontier.Init(cfg)

	return &Engine{
		cfg:          cfg,
		frontier:     crawlFrontier,
		robot:        robot,
		sitemapper:   sitemapper,
		fetcher:      htmlFetcher,
		parser:       parser,
		detector:     detector,
		registry:     registry,
		scorer:       scorer,
		store:        persistentStore,
		rateLimiter:  rateLimiter,
		metadataSink: metadataSink,
		finalizer:    finalizer,
		sleeper:      realSleeper{},
		sitemapped:   make(map[string]struct{}),
	}
}

// Run executes the crawl to completion: seeds the frontier, starts the
// worker pool, blocks until the frontier drains or ctx is cancelled, and
// returns the aggregate result.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	e.rateLimiter.SetBaseDelay(e.cfg.BaseDelay())
	e.rateLimiter.SetJitter(e.cfg.Jitter())
	e.rateLimiter.SetRandomSeed(e.cfg.RandomSeed())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, seed := range e.cfg.SeedURLs() {
		if err := e.admit(seed, frontier.SourceSeed, 0, 0); err != nil {
			if err.Severity() == failure.SeverityFatal {
				cancel()
				e.recordFinal(start)
				return Result{}, err
			}
			e.errorCount.Add(1)
		}
	}

	workers := e.cfg.Workers()
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			e.workerLoop(runCtx, cancel)
		}()
	}
	wg.Wait()

	result := Result{
		PagesVisited: e.frontier.VisitedCount(),
		Errors:       int(e.errorCount.Load()),
		Duplicates:   int(e.dupCount.Load()),
		Images:       int(e.imageCount.Load()),
	}
	e.recordFinal(start)

	if e.aborted.Load() {
		if err, ok := e.abortErr.Load().(failure.ClassifiedError); ok && err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *Engine) recordFinal(start time.Time) {
	e.finalizer.RecordFinalCrawlStats(
		e.frontier.VisitedCount(),
		int(e.errorCount.Load()),
		int(e.imageCount.Load()),
		time.Since(start),
	)
}

// workerLoop is one worker goroutine's lifetime: pull a token, process it,
// repeat until the frontier has looked empty emptyPollsBeforeStop times in
// a row across the whole pool, or the run context is cancelled.
func (e *Engine) workerLoop(ctx context.Context, abort context.CancelFunc) {
	perWorkerCap := e.cfg.MaxPagesPerWorker()
	processed := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if perWorkerCap > 0 && processed >= perWorkerCap {
			return
		}

		token, ok := e.frontier.Dequeue()
		if !ok {
			if e.emptyPolls.Add(1) >= emptyPollsBeforeStop {
				return
			}
			e.sleeper.Sleep(emptyPollBackoff)
			continue
		}
		e.emptyPolls.Store(0)
		processed++

		if err := e.process(ctx, token); err != nil {
			e.errorCount.Add(1)
			if err.Severity() == failure.SeverityFatal {
				e.aborted.Store(true)
				e.abortErr.Store(err)
				abort()
				e.frontier.MarkProcessed(token.URL())
				return
			}
		}
		e.frontier.MarkProcessed(token.URL())
	}
}

// admit is the single admission choke point: every URL that reaches the
// Frontier, regardless of discovery source, passes through here first.
func (e *Engine) admit(target url.URL, source frontier.SourceContext, depth int, priority float64) failure.ClassifiedError {
	decision, err := e.robot.Decide(target)
	if err != nil {
		e.recordRobotsErrorAndBackoff(err, target)
		return err
	}

	e.rateLimiter.ResetBackoff(target.Host)
	if decision.CrawlDelay > 0 {
		e.rateLimiter.SetCrawlDelay(target.Host, decision.CrawlDelay)
	}

	if !decision.Allowed {
		return nil
	}

	e.ensureSitemapDiscovered(ctxBackground(), target)

	canonical := urlutil.Canonicalize(decision.Url)
	candidate := frontier.NewScoredCrawlAdmissionCandidate(
		canonical,
		source,
		frontier.NewDiscoveryMetadata(depth, nil),
		priority,
	)
	if e.frontier.Submit(candidate) {
		if _, err := e.store.AddFrontier(canonical, priority); err != nil {
			e.metadataSink.RecordError(time.Now(), "engine", "store.AddFrontier", metadata.CauseStorageFailure, err.Error(), nil)
		}
	}
	return nil
}

// ensureSitemapDiscovered expands target's host's sitemap into the
// frontier exactly once per host per run.
func (e *Engine) ensureSitemapDiscovered(ctx context.Context, target url.URL) {
	if e.sitemapper == nil {
		return
	}

	host := target.Host
	e.sitemappedMu.Lock()
	if _, done := e.sitemapped[host]; done {
		e.sitemappedMu.Unlock()
		return
	}
	e.sitemapped[host] = struct{}{}
	e.sitemappedMu.Unlock()

	robotsSitemaps, err := e.robot.SitemapsFor(target)
	if err != nil {
		return
	}

	base := url.URL{Scheme: target.Scheme, Host: target.Host}
	entries, sitemapErr := e.sitemapper.Discover(ctx, base, robotsSitemaps, retryParam(e.cfg))
	if sitemapErr != nil {
		return
	}

	for _, entry := range entries {
		_ = e.admit(entry.URL, frontier.SourceSitemap, 0, 0)
	}
}

func (e *Engine) recordRobotsErrorAndBackoff(err failure.ClassifiedError, target url.URL) {
	robotsErr, ok := err.(*robots.RobotsError)
	if !ok {
		return
	}
	if robotsErr.Cause == robots.ErrCauseHttpTooManyRequests || robotsErr.Cause == robots.ErrCauseHttpServerError {
		e.rateLimiter.Backoff(target.Host)
	}
}

func retryParam(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.BaseDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration()),
	)
}

func ctxBackground() context.Context { return context.Background() }

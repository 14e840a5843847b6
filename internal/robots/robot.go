package robots

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/classify"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/robots/cache"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier.
*/

// Robot is the admission-time robots.txt decision point the engine
// depends on. It is the only thing the engine knows about robots.txt;
// everything else (fetching, parsing, caching) is an implementation detail.
type Robot interface {
	Decide(targetURL url.URL) (Decision, failure.ClassifiedError)
	SitemapsFor(host url.URL) ([]string, failure.ClassifiedError)
}

// robotState holds CachedRobot's mutable cache behind a pointer so
// CachedRobot itself stays a comparable value type.
type robotState struct {
	mu       sync.Mutex
	ruleSets map[string]ruleSet
}

// CachedRobot fetches and parses a host's robots.txt at most once per
// crawl, after which the ruleSet is held in memory for the remainder of the run.
type CachedRobot struct {
	fetcher      *RobotsFetcher
	metadataSink metadata.MetadataSink
	userAgent    string
	state        *robotState
}

// NewCachedRobot returns a CachedRobot bound to metadataSink. Call Init or
// InitWithCache before Decide.
func NewCachedRobot(metadataSink metadata.MetadataSink) CachedRobot {
	return CachedRobot{metadataSink: metadataSink}
}

// Init configures the robot with a user agent and a fresh in-memory
// robots.txt cache.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache configures the robot with a user agent and a caller-supplied
// robots.txt cache, e.g. one shared across robots instances, or a test double.
func (r *CachedRobot) InitWithCache(userAgent string, robotsCache cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.metadataSink, userAgent, robotsCache)
	r.state = &robotState{ruleSets: make(map[string]ruleSet)}
}

// Decide reports whether targetURL may be fetched under its host's robots
// policy, and the crawl delay the host declares (zero if none). Callers
// fall back to their own default delay when CrawlDelay is zero.
//
// Binary documents (pdf, doc, docx, ppt, pptx, xls, xlsx) are always
// allowed regardless of robots disallow rules; this is a deliberate policy
// of this crawler, not an oversight, and MUST be preserved.
func (r *CachedRobot) Decide(targetURL url.URL) (Decision, failure.ClassifiedError) {
	if classify.IsBinaryExtension(path.Ext(targetURL.Path)) {
		return Decision{Url: targetURL, Allowed: true, Reason: AllowedByRobots}, nil
	}

	// ruleSetFor's underlying RobotsFetcher.Fetch already records the raw
	// fetch failure against metadataSink; Decide doesn't repeat it.
	rs, err := r.ruleSetFor(targetURL)
	if err != nil {
		return Decision{}, err
	}

	return decide(rs, targetURL), nil
}

// SitemapsFor returns the sitemap URLs robots.txt declares for host's host,
// fetching and caching robots.txt on first use like Decide does.
func (r *CachedRobot) SitemapsFor(host url.URL) ([]string, failure.ClassifiedError) {
	rs, err := r.ruleSetFor(host)
	if err != nil {
		return nil, err
	}
	return rs.Sitemaps(), nil
}

// ruleSetFor returns the cached ruleSet for targetURL's host, fetching and
// parsing robots.txt on first use.
func (r *CachedRobot) ruleSetFor(targetURL url.URL) (ruleSet, *RobotsError) {
	host := targetURL.Host

	r.state.mu.Lock()
	if rs, ok := r.state.ruleSets[host]; ok {
		r.state.mu.Unlock()
		return rs, nil
	}
	r.state.mu.Unlock()

	scheme := targetURL.Scheme
	if scheme == "" {
		scheme = "https"
	}

	// Decide's signature (inherited from the scheduler's admission choke
	// point) carries no context; robots.txt fetches use a background one.
	result, fetchErr := r.fetcher.Fetch(context.Background(), scheme, host)
	if fetchErr != nil {
		return ruleSet{}, fetchErr
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)

	r.state.mu.Lock()
	r.state.ruleSets[host] = rs
	r.state.mu.Unlock()

	return rs, nil
}

// decide applies the longest-path-prefix-match policy: the longest matching
// prefix among allow and disallow rules wins; allow only wins a tie with
// disallow on equal prefix length; an absent match is allowed.
func decide(rs ruleSet, targetURL url.URL) Decision {
	var crawlDelay time.Duration
	if d := rs.CrawlDelay(); d != nil {
		crawlDelay = *d
	}

	if !rs.hasGroups {
		return Decision{Url: targetURL, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: crawlDelay}
	}
	if !rs.matchedGroup {
		return Decision{Url: targetURL, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: crawlDelay}
	}

	requestPath := targetURL.Path
	if requestPath == "" {
		requestPath = "/"
	}

	bestAllowLen := -1
	for _, rule := range rs.AllowRules() {
		if strings.HasPrefix(requestPath, rule.Prefix()) && len(rule.Prefix()) > bestAllowLen {
			bestAllowLen = len(rule.Prefix())
		}
	}

	bestDisallowLen := -1
	for _, rule := range rs.DisallowRules() {
		if strings.HasPrefix(requestPath, rule.Prefix()) && len(rule.Prefix()) > bestDisallowLen {
			bestDisallowLen = len(rule.Prefix())
		}
	}

	if bestAllowLen == -1 && bestDisallowLen == -1 {
		return Decision{Url: targetURL, Allowed: true, Reason: NoMatchingRules, CrawlDelay: crawlDelay}
	}

	allowed := bestAllowLen >= bestDisallowLen
	reason := DisallowedByRobots
	if allowed {
		reason = AllowedByRobots
	}
	return Decision{Url: targetURL, Allowed: allowed, Reason: reason, CrawlDelay: crawlDelay}
}

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Initial pages to give to the crawler to begin discovering and traversing other pages.
	seedURLs []url.URL
	// Whitelisted hostname. Empty means all hostnames are allowed (the "later variant"
	// behavior; host restriction is opt-in, not the default).
	allowedHosts map[string]struct{}
	// Which URL path segments are permitted to be fetched and traversed, even if the links are on the same domain
	allowedPathPrefix []string
	// Topic words that bias Frontier selection and link priority scoring.
	keywords []string

	//===============
	// Limits
	//===============
	// Maximum number of hyperlink hops from a seed (root) URL
	maxDepth int
	// Maximum number of total documents are allowed to be fetched
	maxPages int
	// Per-worker page budget; the pool terminates a worker once it hits this count.
	maxPagesPerWorker int

	//===============
	// Politeness
	//===============
	// Number of concurrent crawl worker goroutines.
	workers int
	// Minimum, fixed waiting time enforced between two HTTP requests to the same host
	// when robots.txt declares no crawl delay of its own.
	baseDelay time.Duration
	// Default crawl delay assumed for a host absent an explicit robots.txt directive.
	defaultCrawlDelay time.Duration
	// Randomized variation added on top of the base delay.
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single fetch request
	timeout time.Duration
	// User agent that will be used in the request header.
	userAgent string
	// Per-image byte cap for inlining image bytes; larger images are recorded as metadata only.
	maxImageBytes int64

	//===============
	// Duplicate Detector
	//===============
	// Number of MinHash permutations computed per document signature.
	minhashPermutations int
	// Estimated Jaccard similarity at or above which two HTML documents are
	// considered near-duplicates.
	nearDupThreshold float64

	//===============
	// Store
	//===============
	// Postgres data source name for the persistent store.
	databaseDSN string
}

type configDTO struct {
	SeedURLs               []url.URL           `json:"seedUrls"`
	AllowedHosts           map[string]struct{} `json:"allowedHosts,omitempty"`
	AllowedPathPrefix      []string            `json:"allowedPathPrefix,omitempty"`
	Keywords               []string            `json:"keywords,omitempty"`
	MaxDepth               int                 `json:"maxDepth,omitempty"`
	MaxPages               int                 `json:"maxPages,omitempty"`
	MaxPagesPerWorker      int                 `json:"maxPagesPerWorker,omitempty"`
	Workers                int                 `json:"workers,omitempty"`
	BaseDelay              time.Duration       `json:"baseDelay,omitempty"`
	DefaultCrawlDelay      time.Duration       `json:"defaultCrawlDelay,omitempty"`
	Jitter                 time.Duration       `json:"jitter,omitempty"`
	RandomSeed             int64               `json:"randomSeed,omitempty"`
	MaxAttempt             int                 `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration       `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64             `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration       `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration       `json:"timeout,omitempty"`
	UserAgent              string              `json:"userAgent,omitempty"`
	MaxImageBytes          int64               `json:"maxImageBytes,omitempty"`
	MinhashPermutations    int                 `json:"minhashPermutations,omitempty"`
	NearDupThreshold       float64             `json:"nearDupThreshold,omitempty"`
	DatabaseDSN            string              `json:"databaseDsn,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	// Start with default config
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	// AllowedHosts can be empty - if so, the default (no host restriction) is kept
	if len(dto.AllowedHosts) > 0 {
		cfg.allowedHosts = dto.AllowedHosts
	}

	// AllowedPathPrefix can be empty - always use DTO values
	cfg.allowedPathPrefix = dto.AllowedPathPrefix

	if len(dto.Keywords) > 0 {
		cfg.keywords = dto.Keywords
	}

	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.MaxPagesPerWorker != 0 {
		cfg.maxPagesPerWorker = dto.MaxPagesPerWorker
	}
	if dto.Workers != 0 {
		cfg.workers = dto.Workers
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.DefaultCrawlDelay != 0 {
		cfg.defaultCrawlDelay = dto.DefaultCrawlDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.MaxImageBytes != 0 {
		cfg.maxImageBytes = dto.MaxImageBytes
	}
	if dto.MinhashPermutations != 0 {
		cfg.minhashPermutations = dto.MinhashPermutations
	}
	if dto.NearDupThreshold != 0 {
		cfg.nearDupThreshold = dto.NearDupThreshold
	}
	if dto.DatabaseDSN != "" {
		cfg.databaseDSN = dto.DatabaseDSN
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed URLs and default values for all other fields.
// seedUrls is mandatory and must not be empty - an error will be returned if it is.
func WithDefault(seedUrls []url.URL) *Config {
	defaultConfig := Config{
		seedURLs:     seedUrls,
		allowedHosts: map[string]struct{}{},
		allowedPathPrefix: []string{
			"/",
		},
		keywords:               []string{},
		maxDepth:               3,
		maxPages:               100,
		maxPagesPerWorker:      0,
		workers:                6,
		baseDelay:              time.Second,
		defaultCrawlDelay:      5 * time.Second,
		jitter:                 time.Millisecond * 500,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             10,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                10 * time.Second,
		userAgent:              "polite-crawler/1.0",
		maxImageBytes:          1 << 20, // 1 MiB
		minhashPermutations:    128,
		nearDupThreshold:       0.8,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithAllowedHosts(hosts map[string]struct{}) *Config {
	c.allowedHosts = hosts
	return c
}

func (c *Config) WithAllowedPathPrefix(prefixes []string) *Config {
	c.allowedPathPrefix = prefixes
	return c
}

func (c *Config) WithKeywords(keywords []string) *Config {
	c.keywords = keywords
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithMaxPagesPerWorker(pages int) *Config {
	c.maxPagesPerWorker = pages
	return c
}

func (c *Config) WithWorkers(workers int) *Config {
	c.workers = workers
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithDefaultCrawlDelay(delay time.Duration) *Config {
	c.defaultCrawlDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithMaxImageBytes(maxBytes int64) *Config {
	c.maxImageBytes = maxBytes
	return c
}

func (c *Config) WithMinhashPermutations(permutations int) *Config {
	c.minhashPermutations = permutations
	return c
}

func (c *Config) WithNearDupThreshold(threshold float64) *Config {
	c.nearDupThreshold = threshold
	return c
}

func (c *Config) WithDatabaseDSN(dsn string) *Config {
	c.databaseDSN = dsn
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	// AllowedHosts stays empty unless the caller opted in: host restriction
	// is optional configuration, default off (spec Open Question c).

	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) AllowedHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for k, v := range c.allowedHosts {
		hosts[k] = v
	}
	return hosts
}

func (c Config) AllowedPathPrefix() []string {
	prefixes := make([]string, len(c.allowedPathPrefix))
	copy(prefixes, c.allowedPathPrefix)
	return prefixes
}

func (c Config) Keywords() []string {
	keywords := make([]string, len(c.keywords))
	copy(keywords, c.keywords)
	return keywords
}

func (c Config) MaxDepth() int {
	return c.maxDepth
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) MaxPagesPerWorker() int {
	return c.maxPagesPerWorker
}

func (c Config) Workers() int {
	return c.workers
}

func (c Config) BaseDelay() time.Duration {
	return c.baseDelay
}

func (c Config) DefaultCrawlDelay() time.Duration {
	return c.defaultCrawlDelay
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) MaxImageBytes() int64 {
	return c.maxImageBytes
}

func (c Config) MinhashPermutations() int {
	return c.minhashPermutations
}

func (c Config) NearDupThreshold() float64 {
	return c.nearDupThreshold
}

func (c Config) DatabaseDSN() string {
	return c.databaseDSN
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

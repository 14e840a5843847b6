package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rohmanhakim/polite-crawler/internal/build"
	"github.com/rohmanhakim/polite-crawler/internal/config"
	"github.com/rohmanhakim/polite-crawler/internal/dedup"
	"github.com/rohmanhakim/polite-crawler/internal/engine"
	"github.com/rohmanhakim/polite-crawler/internal/fetcher"
	"github.com/rohmanhakim/polite-crawler/internal/htmlparse"
	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/internal/robots"
	"github.com/rohmanhakim/polite-crawler/internal/score"
	"github.com/rohmanhakim/polite-crawler/internal/sitemap"
	"github.com/rohmanhakim/polite-crawler/internal/store"
	"github.com/rohmanhakim/polite-crawler/pkg/limiter"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
	"github.com/spf13/cobra"
)

var (
	cfgFile             string
	seedURLs            []string
	maxDepth            int
	workers             int
	maxPages            int
	maxPagesPerWorker   int
	dryRun              bool
	userAgent           string
	timeout             time.Duration
	baseDelay           time.Duration
	jitter              time.Duration
	randomSeed          int64
	allowedHosts        []string
	allowedPathPrefix   []string
	keywords            []string
	dbDSN               string
	minhashPermutations int
	nearDupThreshold    float64
	maxImageBytes       int64
	printVersion        bool
)

// parseStringSliceToSet converts a string slice to a map[string]struct{} set
func parseStringSliceToSet(strings []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range strings {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// parseSeedURLs converts a string slice of URLs to []url.URL
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "polite-crawler",
	Short: "A polite, multi-worker documentation crawler.",
	Long: `polite-crawler visits a set of seed URLs, follows robots.txt and
sitemap.xml, discovers and scores outbound links, folds near-duplicate pages
into a single canonical copy, and persists everything it finds to a
Postgres-backed store (or an in-memory store for --dry-run).`,
	Run: func(cmd *cobra.Command, args []string) {
		if printVersion {
			fmt.Println(build.FullVersion())
			return
		}

		if len(seedURLs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: --seed is required. Please provide at least one seed URL to start crawling.\n")
			cmd.Usage()
			os.Exit(1)
		}

		parsedURLs, err := parseSeedURLs(seedURLs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		cfg := InitConfig(parsedURLs)

		runID := uuid.NewString()
		recorder := metadata.NewRecorder(runID)

		persistentStore, err := buildStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer persistentStore.Close()

		robot := robots.NewCachedRobot(&recorder)
		robot.Init(cfg.UserAgent())
		sitemapper := sitemap.NewProcessor(cfg.UserAgent())
		htmlFetcher := fetcher.NewHtmlFetcher(&recorder)
		htmlFetcher.Init(&http.Client{Timeout: cfg.Timeout()})
		imageFetcher := htmlparse.NewHttpImageFetcher(cfg.UserAgent())
		parser := htmlparse.NewParser(imageFetcher, cfg.MaxImageBytes(), retryParamFor(cfg))

		eng := engine.New(
			cfg,
			&robot,
			sitemapper,
			&htmlFetcher,
			parser,
			dedup.NewDetector(cfg.MinhashPermutations()),
			dedup.NewRegistry(cfg.NearDupThreshold()),
			score.NewScorer(cfg.Keywords()),
			persistentStore,
			limiter.NewConcurrentRateLimiter(),
			&recorder,
			&recorder,
		)

		result, err := eng.Run(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Crawl aborted: %s\n", err)
			os.Exit(1)
		}

		fmt.Printf("Run %s complete: %d pages, %d duplicates, %d images, %d errors\n",
			runID, result.PagesVisited, result.Duplicates, result.Images, result.Errors)
	},
}

func retryParamFor(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.BaseDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(cfg.BackoffInitialDuration(), cfg.BackoffMultiplier(), cfg.BackoffMaxDuration()),
	)
}

// buildStore returns the Postgres-backed store, or an in-memory store when
// --dry-run is set or no DSN was supplied.
func buildStore(cfg config.Config) (store.Store, error) {
	if dryRun || cfg.DatabaseDSN() == "" {
		return store.NewMemoryStore(), nil
	}
	return store.Open(cfg.DatabaseDSN())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed", []string{}, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 0, "maximum link depth from seed URL")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of concurrent crawl worker goroutines")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to fetch (0 keeps the configured default)")
	rootCmd.PersistentFlags().IntVar(&maxPagesPerWorker, "max-pages-per-worker", 0, "per-worker page budget (0 for unlimited)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "crawl against an in-memory store instead of Postgres")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "base-delay", 0, "base delay between HTTP requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to base delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedHosts, "allowed-host", []string{}, "explicit hostname allowlist (default: unrestricted)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedPathPrefix, "allowed-path-prefix", []string{}, "restrict crawl to paths like `/docs`, `/guide`")
	rootCmd.PersistentFlags().StringSliceVar(&keywords, "keywords", []string{}, "topic keywords that bias frontier order and link priority")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "Postgres data source name for the persistent store")
	rootCmd.PersistentFlags().IntVar(&minhashPermutations, "minhash-permutations", 0, "number of MinHash permutations per document signature")
	rootCmd.PersistentFlags().Float64Var(&nearDupThreshold, "near-dup-threshold", 0, "estimated Jaccard similarity at/above which pages are near-duplicates")
	rootCmd.PersistentFlags().Int64Var(&maxImageBytes, "max-image-bytes", 0, "per-image byte cap for inlining image bytes")
	rootCmd.PersistentFlags().BoolVar(&printVersion, "version", false, "print version information and exit")
}

// InitConfig reads in the config file if one is set.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in the config file if one is set, returning any errors.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
// This makes it easier to test error cases.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: seedUrls cannot be empty", config.ErrInvalidConfig)
	}

	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	fmt.Println("No config file specified. Using default flag values or environment variables")

	configBuilder := config.WithDefault(seedUrls)

	if maxDepth > 0 {
		configBuilder = configBuilder.WithMaxDepth(maxDepth)
	}
	if workers > 0 {
		configBuilder = configBuilder.WithWorkers(workers)
	}
	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}
	if maxPagesPerWorker > 0 {
		configBuilder = configBuilder.WithMaxPagesPerWorker(maxPagesPerWorker)
	}
	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}
	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}
	if baseDelay > 0 {
		configBuilder = configBuilder.WithBaseDelay(baseDelay)
	}
	if jitter > 0 {
		configBuilder = configBuilder.WithJitter(jitter)
	}
	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}
	if len(allowedHosts) > 0 {
		configBuilder = configBuilder.WithAllowedHosts(parseStringSliceToSet(allowedHosts))
	}
	if len(allowedPathPrefix) > 0 {
		configBuilder = configBuilder.WithAllowedPathPrefix(allowedPathPrefix)
	}
	if len(keywords) > 0 {
		configBuilder = configBuilder.WithKeywords(keywords)
	}
	if dbDSN != "" {
		configBuilder = configBuilder.WithDatabaseDSN(dbDSN)
	}
	if minhashPermutations > 0 {
		configBuilder = configBuilder.WithMinhashPermutations(minhashPermutations)
	}
	if nearDupThreshold > 0 {
		configBuilder = configBuilder.WithNearDupThreshold(nearDupThreshold)
	}
	if maxImageBytes > 0 {
		configBuilder = configBuilder.WithMaxImageBytes(maxImageBytes)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}
	maxDepth = 0
	workers = 0
	maxPages = 0
	maxPagesPerWorker = 0
	dryRun = false
	userAgent = ""
	timeout = 0
	baseDelay = 0
	jitter = 0
	randomSeed = 0
	allowedHosts = []string{}
	allowedPathPrefix = []string{}
	keywords = []string{}
	dbDSN = ""
	minhashPermutations = 0
	nearDupThreshold = 0
	maxImageBytes = 0
	printVersion = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string)         { cfgFile = path }
func SetSeedURLsForTest(urls []string)         { seedURLs = urls }
func SetMaxDepthForTest(depth int)             { maxDepth = depth }
func SetWorkersForTest(w int)                  { workers = w }
func SetMaxPagesForTest(pages int)             { maxPages = pages }
func SetMaxPagesPerWorkerForTest(pages int)    { maxPagesPerWorker = pages }
func SetDryRunForTest(dry bool)                { dryRun = dry }
func SetUserAgentForTest(agent string)         { userAgent = agent }
func SetTimeoutForTest(t time.Duration)        { timeout = t }
func SetBaseDelayForTest(delay time.Duration)  { baseDelay = delay }
func SetJitterForTest(j time.Duration)         { jitter = j }
func SetRandomSeedForTest(seed int64)          { randomSeed = seed }
func SetAllowedHostsForTest(hosts []string)    { allowedHosts = hosts }
func SetAllowedPathPrefixForTest(p []string)   { allowedPathPrefix = p }
func SetKeywordsForTest(k []string)            { keywords = k }
func SetDbDSNForTest(dsn string)               { dbDSN = dsn }
func SetMinhashPermutationsForTest(n int)      { minhashPermutations = n }
func SetNearDupThresholdForTest(t float64)     { nearDupThreshold = t }
func SetMaxImageBytesForTest(b int64)          { maxImageBytes = b }

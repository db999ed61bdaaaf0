package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"site-mapper/pkg/config"
	"site-mapper/pkg/crawler"
	"site-mapper/pkg/extract"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/frontier"
	"site-mapper/pkg/render"
	"site-mapper/pkg/retry"
	"site-mapper/pkg/state"
	"site-mapper/pkg/storage"
)

func main() {
	// --- Early Initialization & Flags ---
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	seedFlag := flag.String("seed", "", "Seed URL (overrides crawl.seed_url from config)")
	workersFlag := flag.Int("workers", 0, "Worker count (overrides num_workers from config)")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	resumeFlag := flag.Bool("resume", false, "Resume from an existing snapshot")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	log.Infof("Loading configuration from %s", *configFileFlag)
	yamlFile, err := os.ReadFile(*configFileFlag)
	if err != nil {
		log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
	}
	var appCfg config.AppConfig
	if err := yaml.Unmarshal(yamlFile, &appCfg); err != nil {
		log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
	}

	// Flag overrides before validation so derived defaults see them
	if *seedFlag != "" {
		appCfg.Crawl.SeedURL = *seedFlag
		appCfg.Crawl.AllowedDomain = "" // Re-derive from the new seed
	}
	if *workersFlag > 0 {
		appCfg.NumWorkers = *workersFlag
	}

	appWarnings, _ := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	crawlWarnings, err := appCfg.Crawl.Validate()
	if err != nil {
		log.Fatalf("Crawl configuration error: %v", err)
	}
	for _, w := range crawlWarnings {
		log.Warn(w)
	}
	log.Infof("Crawl config: seed=%s domain=%s depth=%d max_urls=%d delay=%v workers=%d",
		appCfg.Crawl.SeedURL, appCfg.Crawl.AllowedDomain, appCfg.Crawl.MaxDepth,
		appCfg.Crawl.MaxURLs, appCfg.Crawl.DelayPerHost, appCfg.NumWorkers)

	// --- Global Context & Signal Handling ---
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// --- Initialize Components ---
	log.Info("Initializing components...")

	snapshots, err := state.NewStore(appCfg.StateDir, appCfg.Crawl.AllowedDomain, log.WithField("component", "state"))
	if err != nil {
		log.Fatalf("Failed to initialize snapshot store: %v", err)
	}

	audit, err := storage.NewAuditStore(appCfg.StateDir, appCfg.Crawl.AllowedDomain, *resumeFlag, log.WithField("component", "audit"))
	if err != nil {
		log.Fatalf("Failed to initialize audit store: %v", err)
	}
	defer audit.Close()

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(httpClient, appCfg.Crawl.UserAgent, appCfg.Crawl.MaxBodySizeBytes,
		appCfg.Crawl.PerFetchTimeout, log.WithField("component", "fetcher"))
	robots := fetch.NewRobotsChecker(fetcher, appCfg.Crawl.UserAgent, log.WithField("component", "robots"))
	extractor := extract.NewGoqueryExtractor(appCfg.Crawl.RespectNofollow, log.WithField("component", "extractor"))
	retrier := retry.NewController(appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay,
		log.WithField("component", "retry"))

	var heuristic render.Strategy
	var renderer render.Renderer
	if appCfg.Render.Enabled {
		h := render.NewMarkerHeuristic()
		if appCfg.Render.MinVisibleText > 0 {
			h.MinVisibleText = appCfg.Render.MinVisibleText
		}
		heuristic = h
		chromeRenderer := render.NewChromeRenderer(appCfg.Render.MaxConcurrent, log.WithField("component", "renderer"))
		defer chromeRenderer.Close()
		renderer = chromeRenderer
		log.Infof("JavaScript rendering enabled (max %d concurrent)", appCfg.Render.MaxConcurrent)
	}

	fr := frontier.New(frontier.Options{
		MaxDepth:     appCfg.Crawl.MaxDepth,
		MaxURLs:      appCfg.Crawl.MaxURLs,
		DefaultDelay: appCfg.Crawl.DelayPerHost,
	}, log.WithField("component", "frontier"))

	crawlerInstance, err := crawler.New(
		&appCfg,
		&appCfg.Crawl,
		fr,
		fetcher,
		robots,
		extractor,
		heuristic,
		renderer,
		retrier,
		snapshots,
		audit,
		crawlCtx,
		cancelCrawl,
		log.WithField("component", "crawler"),
	)
	if err != nil {
		log.Fatalf("Failed to initialize crawler: %v", err)
	}

	// --- Run ---
	runErr := crawlerInstance.Run(*resumeFlag)

	// --- Post-Crawl Report ---
	// A site map is still useful after an interrupted run; only skip it when
	// nothing was mapped at all.
	if runErr == nil || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		if path, reportErr := crawlerInstance.WriteReport(appCfg.OutputBaseDir); reportErr != nil {
			log.Errorf("Failed to write site map report: %v", reportErr)
		} else {
			log.Infof("Site map report: %s", path)
		}
	}

	// --- Exit ---
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Crawl cancelled gracefully. Resume with -resume.")
			os.Exit(0)
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			log.Error("Crawl timed out (global timeout). Resume with -resume.")
			os.Exit(1)
		}
		log.Errorf("Crawl finished with error: %v", runErr)
		os.Exit(1)
	}
	log.Info("Crawl completed successfully.")
}

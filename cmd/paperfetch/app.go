package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paperfetch/internal/cache"
	"github.com/helixir/paperfetch/internal/config"
	"github.com/helixir/paperfetch/internal/downloader"
	"github.com/helixir/paperfetch/internal/input"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources"
	"github.com/helixir/paperfetch/internal/papersources/crossref"
	"github.com/helixir/paperfetch/internal/papersources/europepmc"
	"github.com/helixir/paperfetch/internal/papersources/pubmed"
	"github.com/helixir/paperfetch/internal/resolver"
)

// app holds the wired components every command builds on.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	store   *cache.Cache

	pubmed    *pubmed.Client
	europepmc *europepmc.Client
	crossref  *crossref.Client
	registry  *papersources.Registry
	resolver  *resolver.Resolver
	reader    *input.Reader
}

// newApp loads configuration, applies global flag overrides and builds the
// shared component graph.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("paperfetch")
	}

	store, err := cache.New(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		reader:  input.NewReader(logger),
	}

	a.pubmed = pubmed.New(pubmed.Config{
		BaseURL:    cfg.Sources.PubMed.BaseURL,
		APIKey:     cfg.Sources.PubMed.APIKey,
		Email:      cfg.Sources.PubMed.Email,
		Timeout:    cfg.Sources.PubMed.Timeout,
		RateLimit:  cfg.Sources.PubMed.RateLimit,
		BurstSize:  cfg.Sources.PubMed.BurstSize,
		MaxResults: cfg.Sources.PubMed.MaxResults,
		Enabled:    cfg.Sources.PubMed.Enabled,
		Metrics:    metrics,
	})
	a.europepmc = europepmc.New(europepmc.Config{
		BaseURL:    cfg.Sources.EuropePMC.BaseURL,
		Timeout:    cfg.Sources.EuropePMC.Timeout,
		RateLimit:  cfg.Sources.EuropePMC.RateLimit,
		BurstSize:  cfg.Sources.EuropePMC.BurstSize,
		MaxResults: cfg.Sources.EuropePMC.MaxResults,
		Enabled:    cfg.Sources.EuropePMC.Enabled,
		Logger:     logger,
		Metrics:    metrics,
	})
	a.crossref = crossref.New(crossref.Config{
		BaseURL:   cfg.Sources.CrossRef.BaseURL,
		Timeout:   cfg.Sources.CrossRef.Timeout,
		RateLimit: cfg.Sources.CrossRef.RateLimit,
		BurstSize: cfg.Sources.CrossRef.BurstSize,
		Mailto:    cfg.Sources.CrossRef.Mailto,
		Metrics:   metrics,
	})

	a.registry = papersources.NewRegistry()
	a.registry.Register(a.pubmed)
	a.registry.Register(a.europepmc)

	pmids := resolver.NewPMIDResolver(a.pubmed, resolver.PMIDConfig{
		Rounds:  cfg.Resolver.Rounds,
		Logger:  logger,
		Metrics: metrics,
	})
	dois := resolver.NewDOIResolver(a.europepmc, a.crossref, resolver.DOIConfig{
		UseFallback: cfg.Resolver.DOIFallback,
		MemoSize:    cfg.Resolver.MemoSize,
		Logger:      logger,
		Metrics:     metrics,
	})
	a.resolver = resolver.New(pmids, dois, logger)

	return a, nil
}

// loadConfig loads the configuration file and folds the global flags in on
// top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.Download.OutputDir = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Download.MaxWorkers = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newCoordinator builds a download coordinator backed by the PMC fetcher.
// onProgress may be nil.
func (a *app) newCoordinator(onProgress func(downloader.Progress)) (*downloader.Coordinator, error) {
	fetcher, err := downloader.NewFetcher(downloader.FetcherConfig{
		OutputDir:  a.cfg.Download.OutputDir,
		Timeout:    a.cfg.Download.Timeout,
		RateLimit:  a.cfg.Download.RateLimit,
		MaxRetries: a.cfg.Download.MaxRetries,
		MaxSize:    a.cfg.Download.MaxPDFSize,
		CacheTTL:   a.cfg.Cache.SearchTTL,
		Logger:     a.logger,
		Metrics:    a.metrics,
	}, a.store)
	if err != nil {
		return nil, fmt.Errorf("building fetcher: %w", err)
	}

	return downloader.NewCoordinator(fetcher, a.resolver.DOIs(), downloader.CoordinatorConfig{
		MaxWorkers:  a.cfg.Download.MaxWorkers,
		BaseDelay:   a.cfg.Download.BaseDelay,
		RandomDelay: a.cfg.Download.RandomDelay,
		OnProgress:  onProgress,
		Logger:      a.logger,
		Metrics:     a.metrics,
	}), nil
}

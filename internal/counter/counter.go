// Package counter estimates how much of a search result is open access by
// probing which PubMed records carry a PMCID. It answers "if I downloaded
// everything this query matches, how many PDFs would I get and how big
// would they be" without downloading anything.
package counter

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paperfetch/internal/cache"
	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/papersources/pubmed"
)

const (
	// DefaultLimit is how many PMIDs are probed when no limit is given.
	DefaultLimit = 5000

	// DefaultMaxWorkers bounds concurrent summary batches.
	DefaultMaxWorkers = 20

	// AvgPDFSizeMB is the size assumed per PDF when estimating downloads.
	AvgPDFSizeMB = 1.5

	// DefaultCacheTTL is how long computed statistics stay valid.
	DefaultCacheTTL = 24 * time.Hour

	sourceName = "pubmed"
)

// Stats summarizes PMCID coverage for a query.
type Stats struct {
	Query           string  `json:"query"`
	Source          string  `json:"source"`
	Total           int     `json:"total"`
	Checked         int     `json:"checked"`
	WithPMCID       int     `json:"with_pmcid"`
	WithoutPMCID    int     `json:"without_pmcid"`
	Rate            float64 `json:"rate"`
	EstimatedSizeMB float64 `json:"estimated_size_mb"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	ProcessingSpeed float64 `json:"processing_speed"`
	FromCache       bool    `json:"from_cache,omitempty"`
}

// SummarySource provides the PubMed lookups the counter probes with.
type SummarySource interface {
	PMIDs(ctx context.Context, query string, limit int) (ids []string, total int, err error)
	Summaries(ctx context.Context, pmids []string) (map[string]pubmed.DocSummary, error)
}

// Config holds counter configuration.
type Config struct {
	// Limit caps how many PMIDs are fetched for probing.
	Limit int

	// MaxWorkers bounds concurrent summary batches.
	MaxWorkers int

	// CacheTTL is how long computed statistics are reused.
	CacheTTL time.Duration

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
}

// Counter computes PMCID coverage statistics.
type Counter struct {
	source SummarySource
	store  *cache.Cache
	config Config
	logger zerolog.Logger
}

// New creates a counter. store may be nil to disable statistics caching.
func New(source SummarySource, store *cache.Cache, cfg Config) *Counter {
	cfg.applyDefaults()
	return &Counter{
		source: source,
		store:  store,
		config: cfg,
		logger: cfg.Logger,
	}
}

// Count searches PubMed for the query and probes up to the configured limit
// of matches for PMCID availability. Summary batches run concurrently; a
// failed batch still counts toward Checked, with zero PMCIDs.
func (c *Counter) Count(ctx context.Context, query string) (Stats, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Stats{}, fmt.Errorf("%w: empty count query", domain.ErrInvalidInput)
	}

	if cached, ok := c.cachedStats(query); ok {
		c.logger.Info().Str("query", query).Msg("pmcid statistics served from cache")
		return cached, nil
	}

	start := time.Now()
	ids, total, err := c.source.PMIDs(ctx, query, c.config.Limit)
	if err != nil {
		return Stats{}, fmt.Errorf("counting pmcids: %w", err)
	}

	c.logger.Info().
		Str("query", query).
		Int("total", total).
		Int("fetched", len(ids)).
		Msg("counting pmcid coverage")

	stats := Stats{Query: query, Source: sourceName, Total: total}
	if len(ids) == 0 {
		return stats, nil
	}

	batches := partition(ids, pubmed.SummaryBatchSize)
	var withPMCID, checked atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxWorkers)
	for i, batch := range batches {
		g.Go(func() error {
			with, n := c.probeBatch(gctx, i+1, len(batches), batch)
			withPMCID.Add(int64(with))
			checked.Add(int64(n))
			return nil
		})
	}
	// Batch failures feed the counters, never the group error.
	_ = g.Wait()

	if ctx.Err() != nil {
		return Stats{}, ctx.Err()
	}

	elapsed := time.Since(start).Seconds()
	stats.Checked = int(checked.Load())
	stats.WithPMCID = int(withPMCID.Load())
	stats.WithoutPMCID = stats.Checked - stats.WithPMCID
	if stats.Checked > 0 {
		stats.Rate = float64(stats.WithPMCID) / float64(stats.Checked) * 100
	}
	stats.EstimatedSizeMB = float64(stats.WithPMCID) * AvgPDFSizeMB
	stats.ElapsedSeconds = elapsed
	if elapsed > 0 {
		stats.ProcessingSpeed = float64(stats.Checked) / elapsed
	}

	c.logger.Info().
		Int("checked", stats.Checked).
		Int("with_pmcid", stats.WithPMCID).
		Float64("rate", stats.Rate).
		Msg("pmcid count complete")

	c.saveStats(query, stats)
	return stats, nil
}

// probeBatch fetches one summary batch and counts the documents carrying a
// PMC article id. A failed batch counts every requested id as checked.
func (c *Counter) probeBatch(ctx context.Context, num, total int, pmids []string) (withPMCID, checked int) {
	docs, err := c.source.Summaries(ctx, pmids)
	if err != nil {
		c.logger.Warn().
			Int("batch", num).
			Int("batches", total).
			Err(err).
			Msg("pmcid count batch failed")
		return 0, len(pmids)
	}

	for _, doc := range docs {
		if doc.Error == "" && doc.PMCID() != "" {
			withPMCID++
		}
	}
	c.logger.Debug().
		Int("batch", num).
		Int("batches", total).
		Int("with_pmcid", withPMCID).
		Int("of", len(docs)).
		Msg("pmcid count batch")
	return withPMCID, len(docs)
}

// StatsFromPapers summarizes PMCID coverage over records already in hand,
// for callers that ran a search and want the same statistics without
// re-querying.
func StatsFromPapers(query string, source domain.SourceType, papers []domain.PaperRecord) Stats {
	stats := Stats{
		Query:   query,
		Source:  string(source),
		Total:   len(papers),
		Checked: len(papers),
	}
	for _, paper := range papers {
		if paper.PMCID != "" {
			stats.WithPMCID++
		}
	}
	stats.WithoutPMCID = stats.Checked - stats.WithPMCID
	if stats.Checked > 0 {
		stats.Rate = float64(stats.WithPMCID) / float64(stats.Checked) * 100
	}
	stats.EstimatedSizeMB = float64(stats.WithPMCID) * AvgPDFSizeMB
	return stats
}

func (c *Counter) cachedStats(query string) (Stats, bool) {
	if c.store == nil {
		return Stats{}, false
	}

	var stats Stats
	ok, err := c.store.Get(countCacheKey(query), &stats)
	if err != nil || !ok {
		return Stats{}, false
	}

	stats.FromCache = true
	stats.ElapsedSeconds = 0
	stats.ProcessingSpeed = 0
	return stats, true
}

func (c *Counter) saveStats(query string, stats Stats) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(countCacheKey(query), stats, c.config.CacheTTL); err != nil {
		c.logger.Debug().Str("query", query).Err(err).Msg("caching count statistics failed")
	}
}

func countCacheKey(query string) string {
	return "count_" + sourceName + "_" + query
}

func partition(ids []string, size int) [][]string {
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for offset := 0; offset < len(ids); offset += size {
		end := offset + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[offset:end])
	}
	return batches
}

package downloader

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
)

// Worker pool and pacing defaults.
const (
	DefaultMaxWorkers = 3
	MaxWorkersLimit   = 10

	DefaultBaseDelay   = time.Second
	DefaultRandomDelay = 500 * time.Millisecond
)

// SingleFetcher acquires the full text for one paper.
type SingleFetcher interface {
	Fetch(ctx context.Context, pmcid, doi string) Result
}

// PMCIDFinder resolves a DOI to a PMCID. An empty result with a nil error
// means the DOI has no PMC record.
type PMCIDFinder interface {
	Resolve(ctx context.Context, doi string) (pmcid string, err error)
}

// CoordinatorConfig holds batch download configuration.
type CoordinatorConfig struct {
	// MaxWorkers bounds concurrent downloads. Clamped to
	// [1, MaxWorkersLimit].
	MaxWorkers int

	// BaseDelay and RandomDelay shape the politeness pause before each
	// task: every task sleeps BaseDelay plus a uniformly random slice of
	// RandomDelay so workers do not hit the hosts in lockstep. Both
	// default when both are zero; a negative BaseDelay disables the
	// pause entirely.
	BaseDelay   time.Duration
	RandomDelay time.Duration

	// OnProgress, when set, receives a snapshot after every completed
	// task.
	OnProgress func(Progress)

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers > MaxWorkersLimit {
		c.MaxWorkers = MaxWorkersLimit
	}
	if c.BaseDelay == 0 && c.RandomDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
		c.RandomDelay = DefaultRandomDelay
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.RandomDelay < 0 {
		c.RandomDelay = 0
	}
}

// Coordinator fans a batch of papers out over a bounded worker pool and
// reassembles the outcomes in input order.
type Coordinator struct {
	config  CoordinatorConfig
	fetcher SingleFetcher
	finder  PMCIDFinder
	logger  zerolog.Logger
}

// NewCoordinator creates a coordinator. finder may be nil, in which case
// papers with only a DOI fail with "No PMCID found".
func NewCoordinator(fetcher SingleFetcher, finder PMCIDFinder, cfg CoordinatorConfig) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		config:  cfg,
		fetcher: fetcher,
		finder:  finder,
		logger:  cfg.Logger,
	}
}

// DownloadBatch downloads every paper in the batch and returns one Result
// per input paper, in input order. Papers without a DOI or PMCID occupy
// failed slots; if no paper carries either identifier the batch is empty.
//
// A panicking or failing task never aborts the batch. Cancelling the
// context stops new tasks from starting; papers whose task never ran come
// back as failed slots.
func (c *Coordinator) DownloadBatch(ctx context.Context, papers []domain.PaperRecord) []Result {
	if len(papers) == 0 {
		return []Result{}
	}

	identified := 0
	for _, paper := range papers {
		if taskKey(paper) != "" {
			identified++
		}
	}
	if identified == 0 {
		c.logger.Warn().Int("papers", len(papers)).Msg("no paper carries a doi or pmcid, nothing to download")
		return []Result{}
	}

	c.logger.Info().
		Int("papers", len(papers)).
		Int("workers", c.config.MaxWorkers).
		Msg("starting download batch")
	if c.config.Metrics != nil {
		c.config.Metrics.RecordBatchStarted(len(papers))
	}
	start := time.Now()

	progress := NewProgressAggregator(len(papers), c.logger)
	progress.OnUpdate = c.config.OnProgress

	var (
		mu   sync.Mutex
		byID = make(map[string]Result, identified)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxWorkers)

	for _, paper := range papers {
		if taskKey(paper) == "" {
			progress.RecordFailure()
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := c.runTask(gctx, paper, progress)
			if key := resultKey(res); key != "" {
				mu.Lock()
				byID[key] = res
				mu.Unlock()
			}
			return nil
		})
	}
	// Tasks report outcomes through results, never through errors.
	_ = g.Wait()

	ordered := orderResults(papers, byID)

	snapshot := progress.Snapshot()
	elapsed := time.Since(start)
	if c.config.Metrics != nil {
		if ctx.Err() != nil {
			c.config.Metrics.RecordBatchFailed(elapsed.Seconds())
		} else {
			c.config.Metrics.RecordBatchCompleted(elapsed.Seconds())
		}
	}
	c.logger.Info().
		Int("total", snapshot.Total).
		Int("successful", snapshot.Successful).
		Int("pdf", snapshot.PDFCount).
		Int("failed", snapshot.Failed).
		Float64("success_rate", successRate(snapshot)).
		Dur("elapsed", elapsed).
		Msg("download batch complete")

	return ordered
}

// runTask executes one download, recording its outcome exactly once. A
// panic inside the fetcher becomes a failed result for this paper only.
func (c *Coordinator) runTask(ctx context.Context, paper domain.PaperRecord, progress *ProgressAggregator) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("doi", paper.DOI).
				Str("pmcid", paper.PMCID).
				Interface("panic", r).
				Msg("download task panicked")
			res = Result{DOI: paper.DOI, PMCID: paper.PMCID, Success: false, Error: fmt.Sprintf("panic: %v", r)}
			progress.RecordFailure()
		}
	}()

	if err := c.sleepJittered(ctx); err != nil {
		progress.RecordFailure()
		return Result{DOI: paper.DOI, PMCID: paper.PMCID, Success: false, Error: err.Error()}
	}

	pmcid := paper.PMCID
	if pmcid == "" {
		found, err := c.findPMCID(ctx, paper.DOI)
		if err != nil {
			progress.RecordFailure()
			return Result{DOI: paper.DOI, Success: false, Error: err.Error()}
		}
		if found == "" {
			progress.RecordFailure()
			return Result{DOI: paper.DOI, Success: false, Error: "No PMCID found"}
		}
		pmcid = found
	}

	res = c.fetcher.Fetch(ctx, pmcid, paper.DOI)

	// Carry the input identifiers so reassembly finds this result even
	// if the fetcher normalized them.
	if paper.DOI != "" {
		res.DOI = paper.DOI
	}
	if paper.PMCID != "" {
		res.PMCID = paper.PMCID
	}

	if res.Success {
		progress.RecordSuccess(res.ContentType == ContentTypePDF)
	} else {
		progress.RecordFailure()
	}
	return res
}

func (c *Coordinator) findPMCID(ctx context.Context, doi string) (string, error) {
	if c.finder == nil {
		return "", nil
	}
	return c.finder.Resolve(ctx, doi)
}

// sleepJittered pauses for BaseDelay plus a uniform random share of
// RandomDelay, honoring cancellation.
func (c *Coordinator) sleepJittered(ctx context.Context) error {
	delay := c.config.BaseDelay
	if c.config.RandomDelay > 0 {
		delay += time.Duration(rand.Int64N(int64(c.config.RandomDelay)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// orderResults re-emits collected results in input order. An input paper
// whose result never landed in the map yields a synthesized failure, and a
// paper with no identifier at all yields a failed slot, so the output
// always matches the input length and order.
func orderResults(papers []domain.PaperRecord, byID map[string]Result) []Result {
	ordered := make([]Result, 0, len(papers))
	for _, paper := range papers {
		key := taskKey(paper)
		if key == "" {
			ordered = append(ordered, Result{Success: false, Error: domain.ErrNoIdentifier.Error()})
			continue
		}
		if res, ok := byID[key]; ok {
			ordered = append(ordered, res)
			continue
		}
		ordered = append(ordered, Result{
			DOI:     paper.DOI,
			PMCID:   paper.PMCID,
			Success: false,
			Error:   "Not found",
		})
	}
	return ordered
}

// taskKey identifies a paper within a batch, preferring the DOI.
func taskKey(paper domain.PaperRecord) string {
	if paper.DOI != "" {
		return paper.DOI
	}
	return paper.PMCID
}

// resultKey mirrors taskKey for completed results.
func resultKey(res Result) string {
	if res.DOI != "" {
		return res.DOI
	}
	return res.PMCID
}

func successRate(p Progress) float64 {
	if p.Total == 0 {
		return 0
	}
	return math.Round(float64(p.Successful)/float64(p.Total)*1000) / 10
}

package resolver

import (
	"context"
	"errors"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources/europepmc"
)

const (
	// DefaultMemoSize bounds the in-process DOI resolution memo.
	DefaultMemoSize = 10000

	// DefaultProgressEvery controls how often batch progress is logged.
	DefaultProgressEvery = 10
)

// EuropePMCLookup is the subset of the Europe PMC client the DOI resolver
// needs.
type EuropePMCLookup interface {
	SearchByDOI(ctx context.Context, doi string) ([]europepmc.Result, error)
	SearchByTitle(ctx context.Context, title string) ([]europepmc.Result, error)
}

// TitleLookup recovers a paper's canonical title from its DOI. The crossref
// client satisfies it.
type TitleLookup interface {
	WorkTitle(ctx context.Context, doi string) (string, error)
}

// DOIConfig holds DOI resolver configuration.
type DOIConfig struct {
	// UseFallback enables the CrossRef title fallback when the direct
	// Europe PMC lookup finds nothing.
	UseFallback bool

	// MemoSize bounds the per-process resolution memo.
	MemoSize int

	// ProgressEvery is the batch progress logging interval.
	ProgressEvery int

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// DOIResolver maps DOIs to PMCIDs.
//
// The primary path asks Europe PMC for the DOI directly and accepts the
// first record whose DOI matches case-insensitively and carries a PMCID.
// When that finds nothing and the fallback is enabled, the resolver fetches
// the canonical title from CrossRef and retries Europe PMC by title, taking
// the first result with a PMCID.
//
// Outcomes are memoized per DOI for the life of the process, including
// definitive misses, so a DOI is never re-queried in the same run.
// Transport errors are not memoized; a later call retries.
type DOIResolver struct {
	europePMC EuropePMCLookup
	crossref  TitleLookup
	config    DOIConfig

	memo *lru.Cache[string, string]
}

// Stats summarizes memoized DOI resolution outcomes.
type Stats struct {
	TotalEntries int     `json:"total_entries"`
	Successful   int     `json:"successful_conversions"`
	Failed       int     `json:"failed_conversions"`
	SuccessRate  float64 `json:"success_rate"`
}

// NewDOIResolver creates a DOI resolver. crossref may be nil, which
// disables the fallback regardless of configuration.
func NewDOIResolver(europePMC EuropePMCLookup, crossref TitleLookup, cfg DOIConfig) *DOIResolver {
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = DefaultMemoSize
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if crossref == nil {
		cfg.UseFallback = false
	}

	// lru.New only errors on a non-positive size.
	memo, _ := lru.New[string, string](cfg.MemoSize)

	return &DOIResolver{
		europePMC: europePMC,
		crossref:  crossref,
		config:    cfg,
		memo:      memo,
	}
}

// Resolve maps a DOI to its PMCID. An empty string with a nil error means
// the DOI definitively has no open-access record; that outcome is memoized.
// A malformed DOI short-circuits to a miss without any network traffic.
func (r *DOIResolver) Resolve(ctx context.Context, doi string) (string, error) {
	doi = strings.TrimSpace(doi)
	if !domain.ValidateDOI(doi) {
		r.config.Logger.Debug().Str("doi", doi).Msg("skipping invalid doi")
		return "", nil
	}

	if pmcid, ok := r.memo.Get(doi); ok {
		if r.config.Metrics != nil {
			r.config.Metrics.RecordCacheHit("doi_memo")
		}
		return pmcid, nil
	}
	if r.config.Metrics != nil {
		r.config.Metrics.RecordCacheMiss("doi_memo")
	}

	pmcid, err := r.lookup(ctx, doi)
	if err != nil {
		return "", err
	}

	r.memo.Add(doi, pmcid)
	if r.config.Metrics != nil {
		resolved := 0
		if pmcid != "" {
			resolved = 1
		}
		r.config.Metrics.RecordResolution("doi", 1, resolved)
	}
	return pmcid, nil
}

func (r *DOIResolver) lookup(ctx context.Context, doi string) (string, error) {
	pmcid, directErr := r.directLookup(ctx, doi)
	if pmcid != "" {
		return pmcid, nil
	}
	if directErr != nil {
		if ctx.Err() != nil {
			return "", directErr
		}
		r.config.Logger.Warn().Str("doi", doi).Err(directErr).Msg("europe pmc doi lookup failed")
	}

	if !r.config.UseFallback {
		return "", directErr
	}

	pmcid, fallbackErr := r.fallbackLookup(ctx, doi)
	if pmcid != "" {
		return pmcid, nil
	}
	if fallbackErr != nil {
		return "", fallbackErr
	}
	// The fallback found nothing. Report the direct error if there was
	// one so the miss is not memoized on shaky evidence.
	return "", directErr
}

// directLookup queries Europe PMC by exact DOI and returns the PMCID of the
// first record whose DOI actually matches.
func (r *DOIResolver) directLookup(ctx context.Context, doi string) (string, error) {
	results, err := r.europePMC.SearchByDOI(ctx, doi)
	if err != nil {
		return "", err
	}
	for _, res := range results {
		if !strings.EqualFold(strings.TrimSpace(res.DOI), doi) {
			continue
		}
		if pmcid := domain.NormalizePMCID(res.PMCID); pmcid != "" {
			return pmcid, nil
		}
	}
	return "", nil
}

// fallbackLookup resolves via CrossRef: recover the canonical title, search
// Europe PMC for it, and take the first result carrying a PMCID.
func (r *DOIResolver) fallbackLookup(ctx context.Context, doi string) (string, error) {
	title, err := r.crossref.WorkTitle(ctx, doi)
	if errors.Is(err, domain.ErrNotFound) {
		// CrossRef has no record of the DOI either.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", nil
	}

	r.config.Logger.Debug().Str("doi", doi).Str("title", title).Msg("retrying doi resolution by title")

	results, err := r.europePMC.SearchByTitle(ctx, title)
	if err != nil {
		return "", err
	}
	for _, res := range results {
		if pmcid := domain.NormalizePMCID(res.PMCID); pmcid != "" {
			return pmcid, nil
		}
	}
	return "", nil
}

// ResolveBatch resolves DOIs sequentially and returns a map of the
// successes. Individual failures are logged and skipped; the only terminal
// error is context cancellation.
func (r *DOIResolver) ResolveBatch(ctx context.Context, dois []string) (map[string]string, error) {
	out := make(map[string]string, len(dois))

	for i, doi := range dois {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		pmcid, err := r.Resolve(ctx, doi)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			r.config.Logger.Warn().Str("doi", doi).Err(err).Msg("doi resolution failed")
		} else if pmcid != "" {
			out[strings.TrimSpace(doi)] = pmcid
		}

		if done := i + 1; done%r.config.ProgressEvery == 0 && done < len(dois) {
			r.config.Logger.Info().
				Int("done", done).
				Int("total", len(dois)).
				Msg("doi conversion progress")
		}
	}

	r.config.Logger.Info().
		Int("resolved", len(out)).
		Int("total", len(dois)).
		Msg("doi conversion complete")
	return out, nil
}

// MemoStats reports the memoized outcome counts. SuccessRate is a
// percentage rounded to two decimals.
func (r *DOIResolver) MemoStats() Stats {
	values := r.memo.Values()

	s := Stats{TotalEntries: len(values)}
	for _, v := range values {
		if v != "" {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	if s.TotalEntries > 0 {
		s.SuccessRate = math.Round(float64(s.Successful)/float64(s.TotalEntries)*10000) / 100
	}
	return s
}

// ClearMemo drops all memoized outcomes.
func (r *DOIResolver) ClearMemo() {
	r.memo.Purge()
}

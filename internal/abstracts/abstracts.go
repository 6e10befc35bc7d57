// Package abstracts backfills missing abstracts from Europe PMC full-text
// XML. Search backends often return records without an abstract even when
// the article is open access; for those records the full-text XML usually
// carries one.
package abstracts

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
)

// DefaultMemoSize bounds the in-memory abstract memo.
const DefaultMemoSize = 10000

// AbstractSource fetches the abstract text for a PMCID. An empty string
// with a nil error means the article has no retrievable abstract.
type AbstractSource interface {
	FullTextAbstract(ctx context.Context, pmcid string) (string, error)
}

// Config holds supplementor configuration.
type Config struct {
	// MemoSize bounds the per-PMCID outcome memo.
	MemoSize int

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Supplementor fills in missing abstracts for papers carrying a PMCID.
// Clean outcomes are memoized per PMCID, including "no abstract", so a
// paper is never fetched twice; transport errors are not memoized and the
// lookup is retried on the next pass.
type Supplementor struct {
	source  AbstractSource
	memo    *lru.Cache[string, string]
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a supplementor backed by source.
func New(source AbstractSource, cfg Config) *Supplementor {
	size := cfg.MemoSize
	if size <= 0 {
		size = DefaultMemoSize
	}
	// lru.New only errors on a non-positive size.
	memo, _ := lru.New[string, string](size)

	return &Supplementor{
		source:  source,
		memo:    memo,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Supplement fills in missing abstracts in place. Only papers with a PMCID
// and a blank abstract are considered. It returns how many abstracts were
// added; individual lookup failures are logged and skipped.
func (s *Supplementor) Supplement(ctx context.Context, papers []domain.PaperRecord) (int, error) {
	added := 0
	for i := range papers {
		if strings.TrimSpace(papers[i].Abstract) != "" || papers[i].PMCID == "" {
			continue
		}

		text, err := s.abstractFor(ctx, papers[i].PMCID)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			s.logger.Warn().Str("pmcid", papers[i].PMCID).Err(err).Msg("abstract lookup failed")
			continue
		}
		if text == "" {
			continue
		}

		papers[i].Abstract = text
		added++
	}

	if added > 0 {
		s.logger.Info().
			Int("added", added).
			Int("papers", len(papers)).
			Msg("abstract supplement complete")
	}
	return added, nil
}

func (s *Supplementor) abstractFor(ctx context.Context, pmcid string) (string, error) {
	if text, ok := s.memo.Get(pmcid); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheHit("abstract_memo")
		}
		return text, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss("abstract_memo")
	}

	text, err := s.source.FullTextAbstract(ctx, pmcid)
	if err != nil {
		return "", err
	}

	s.memo.Add(pmcid, text)
	return text, nil
}

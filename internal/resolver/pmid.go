package resolver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/papersources/pubmed"
)

// DefaultRounds bounds how many times unresolved PMIDs are resubmitted.
const DefaultRounds = 3

// SummarySource provides PubMed document summaries in bulk. The pubmed
// client satisfies it; implementations must tolerate partial responses and
// chunk oversized requests themselves.
type SummarySource interface {
	Summaries(ctx context.Context, pmids []string) (map[string]pubmed.DocSummary, error)
}

// PMIDConfig holds PMID resolver configuration.
type PMIDConfig struct {
	// Rounds is the total number of lookup rounds. Each round resubmits
	// only the PMIDs still unresolved.
	Rounds int

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// PMIDResolver maps PMIDs to PMCIDs through the PubMed summary endpoint.
//
// A single round submits every unresolved PMID; summaries arrive in batches
// and a failed batch simply contributes nothing that round. Unresolved
// PMIDs are retried on the next round up to the round cap, whether they
// were missing from the response or answered without a PMC identifier. The
// extra rounds are deliberate: a summary that omits the PMC id once may
// carry it on a later attempt after a transient upstream fault.
type PMIDResolver struct {
	source  SummarySource
	rounds  int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewPMIDResolver creates a PMID resolver over the given summary source.
func NewPMIDResolver(source SummarySource, cfg PMIDConfig) *PMIDResolver {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultRounds
	}
	return &PMIDResolver{
		source:  source,
		rounds:  cfg.Rounds,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Resolve maps each PMID to its PMCID. PMIDs that cannot be resolved after
// all rounds are omitted from the result; that is a normal outcome for
// papers without an open-access deposit, not an error. Transport failures
// are absorbed into the round loop. The only terminal error is context
// cancellation.
func (r *PMIDResolver) Resolve(ctx context.Context, pmids []string) (map[string]string, error) {
	pending := dedupeNonEmpty(pmids)
	resolved := make(map[string]string, len(pending))
	if len(pending) == 0 {
		return resolved, nil
	}

	attempted := len(pending)
	roundsUsed := 0

	for round := 1; round <= r.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		roundsUsed = round

		docs, err := r.source.Summaries(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			r.logger.Warn().
				Int("round", round).
				Int("pending", len(pending)).
				Err(err).
				Msg("pmid resolution round failed")
			continue
		}

		still := pending[:0]
		for _, pmid := range pending {
			doc, ok := docs[pmid]
			if ok && doc.Error == "" {
				if pmcid := doc.PMCID(); pmcid != "" {
					resolved[pmid] = pmcid
					continue
				}
			}
			still = append(still, pmid)
		}
		pending = still

		if len(pending) == 0 {
			break
		}
	}

	r.logger.Info().
		Int("attempted", attempted).
		Int("resolved", len(resolved)).
		Int("unresolved", len(pending)).
		Int("rounds", roundsUsed).
		Msg("pmid resolution complete")

	if r.metrics != nil {
		r.metrics.RecordResolution("pmid", attempted, len(resolved))
		r.metrics.RecordResolutionRounds(roundsUsed)
	}
	return resolved, nil
}

// dedupeNonEmpty drops empty strings and duplicates, preserving first-seen
// order.
func dedupeNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

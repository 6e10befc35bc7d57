// Package papersources defines the foundational abstractions that all paper
// source implementations follow. Each bibliographic database (PubMed, Europe
// PMC) implements the PaperSource interface, allowing searches against
// multiple sources concurrently with a unified API.
//
// Example usage:
//
//	source := pubmed.New(cfg, httpClient)
//	params := papersources.SearchParams{
//		Query:      "CRISPR gene editing",
//		MaxResults: 100,
//	}
//	result, err := source.Search(ctx, params)
package papersources

import (
	"context"
	"strings"
	"time"

	"github.com/helixir/paperfetch/internal/domain"
)

// SearchParams defines the parameters for searching papers.
type SearchParams struct {
	// Query is the search query string (required). Field prefixes of the
	// form title:, author:, journal:, abstract:, year: and mesh: are
	// translated to each source's own syntax; lowercase boolean operators
	// are uppercased.
	Query string

	// MaxResults limits the number of papers returned.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// RequirePMCID filters results to papers with full text in PubMed
	// Central, i.e. papers that can actually be downloaded.
	RequirePMCID bool
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers returned by the search.
	// May be empty if no papers match the search criteria.
	Papers []domain.PaperRecord

	// TotalResults is the total number of papers matching the query,
	// regardless of the requested limit. This value is provided by the
	// source API and may be an estimate for large result sets.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search,
	// including network latency and response parsing.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients must implement.
type PaperSource interface {
	// Search queries the paper source for papers matching the given parameters.
	// The context should be used for cancellation and deadline propagation.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting as needed
	//   - Transform source-specific responses to domain.PaperRecord
	//   - Include appropriate error wrapping with source context
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the type identifier for this paper source.
	// Used for attribution, deduplication, and routing.
	SourceType() domain.SourceType

	// Name returns a human-readable name for this paper source.
	// Used for logging, metrics, and display purposes.
	Name() string

	// IsEnabled returns whether this paper source is currently enabled
	// and available for searches. A source may be disabled due to
	// configuration or missing API keys.
	IsEnabled() bool
}

// MergeResults flattens per-source search results into a single list,
// deduplicating papers that appear in more than one source. Records from the
// priority source are kept over duplicates from other sources; duplicates are
// detected by PMID, then DOI (case-insensitive), then canonical identifier.
// Failed source results are skipped. A limit of 0 means no limit.
func MergeResults(results []SourceResult, priority domain.SourceType, limit int) []domain.PaperRecord {
	ordered := make([]SourceResult, 0, len(results))
	for _, r := range results {
		if r.Source == priority {
			ordered = append(ordered, r)
		}
	}
	for _, r := range results {
		if r.Source != priority {
			ordered = append(ordered, r)
		}
	}

	seenPMID := make(map[string]bool)
	seenDOI := make(map[string]bool)
	seenCanonical := make(map[string]bool)

	var merged []domain.PaperRecord
	for _, sr := range ordered {
		if sr.Error != nil || sr.Result == nil {
			continue
		}
		for _, p := range sr.Result.Papers {
			doi := strings.ToLower(p.DOI)
			if (p.PMID != "" && seenPMID[p.PMID]) ||
				(doi != "" && seenDOI[doi]) ||
				(p.CanonicalID() != "" && seenCanonical[p.CanonicalID()]) {
				continue
			}
			if p.PMID != "" {
				seenPMID[p.PMID] = true
			}
			if doi != "" {
				seenDOI[doi] = true
			}
			if cid := p.CanonicalID(); cid != "" {
				seenCanonical[cid] = true
			}
			merged = append(merged, p)
			if limit > 0 && len(merged) >= limit {
				return merged
			}
		}
	}
	return merged
}

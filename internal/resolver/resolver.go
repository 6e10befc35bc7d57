// Package resolver converts PMIDs and DOIs into PMCIDs.
//
// PubMed Central only serves full text for records with a PMCID, so every
// identifier a caller hands us has to be mapped before anything can be
// downloaded. PMIDs go through the PubMed summary endpoint in bounded
// retry rounds; DOIs go through Europe PMC with an optional CrossRef title
// fallback. Both paths treat "no PMCID exists" as a normal outcome.
package resolver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
)

// Resolver combines the PMID and DOI resolution paths behind one facade.
type Resolver struct {
	pmids  *PMIDResolver
	dois   *DOIResolver
	logger zerolog.Logger
}

// New creates a resolver facade over the two resolution paths.
func New(pmids *PMIDResolver, dois *DOIResolver, logger zerolog.Logger) *Resolver {
	return &Resolver{pmids: pmids, dois: dois, logger: logger}
}

// PMIDs exposes the PMID resolution path.
func (r *Resolver) PMIDs() *PMIDResolver { return r.pmids }

// DOIs exposes the DOI resolution path.
func (r *Resolver) DOIs() *DOIResolver { return r.dois }

// ResolveClassified turns classified identifiers into paper records that
// all carry a PMCID. Records appear in classification order: PMCIDs first,
// then resolved PMIDs, then resolved DOIs, deduplicated by PMCID with the
// first occurrence winning. Identifiers that do not resolve are dropped.
func (r *Resolver) ResolveClassified(ctx context.Context, ids domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error) {
	papers := make([]domain.PaperRecord, 0, ids.Total())
	seen := make(map[string]struct{}, ids.Total())

	add := func(record domain.PaperRecord) {
		if _, ok := seen[record.PMCID]; ok {
			return
		}
		seen[record.PMCID] = struct{}{}
		papers = append(papers, record)
	}

	for _, raw := range ids.PMCIDs {
		if pmcid := domain.NormalizePMCID(raw); pmcid != "" {
			add(domain.PaperRecord{PMCID: pmcid})
		}
	}

	if len(ids.PMIDs) > 0 {
		byPMID, err := r.pmids.Resolve(ctx, ids.PMIDs)
		if err != nil {
			return papers, err
		}
		for _, pmid := range ids.PMIDs {
			if pmcid, ok := byPMID[pmid]; ok {
				add(domain.PaperRecord{PMID: pmid, PMCID: pmcid})
			}
		}
	}

	if len(ids.DOIs) > 0 {
		byDOI, err := r.dois.ResolveBatch(ctx, ids.DOIs)
		if err != nil {
			return papers, err
		}
		for _, doi := range ids.DOIs {
			if pmcid, ok := byDOI[doi]; ok {
				add(domain.PaperRecord{DOI: doi, PMCID: pmcid})
			}
		}
	}

	r.logger.Info().
		Int("identifiers", ids.Total()).
		Int("resolved", len(papers)).
		Msg("identifier resolution complete")
	return papers, nil
}

// EnrichPapers fills in missing PMCIDs on search results in place. Papers
// with a PMID are resolved in one batched pass; the rest fall back to their
// DOI. Returns how many papers gained a PMCID.
func (r *Resolver) EnrichPapers(ctx context.Context, papers []domain.PaperRecord) (int, error) {
	var pmids []string
	for _, p := range papers {
		if p.PMCID == "" && p.PMID != "" {
			pmids = append(pmids, p.PMID)
		}
	}

	byPMID := map[string]string{}
	if len(pmids) > 0 {
		resolved, err := r.pmids.Resolve(ctx, pmids)
		if err != nil {
			return 0, err
		}
		byPMID = resolved
	}

	enriched := 0
	for i := range papers {
		if papers[i].PMCID != "" {
			continue
		}
		if pmcid, ok := byPMID[papers[i].PMID]; ok {
			papers[i].PMCID = pmcid
			enriched++
			continue
		}
		if papers[i].DOI == "" {
			continue
		}
		pmcid, err := r.dois.Resolve(ctx, papers[i].DOI)
		if err != nil {
			if ctx.Err() != nil {
				return enriched, ctx.Err()
			}
			r.logger.Warn().Str("doi", papers[i].DOI).Err(err).Msg("doi enrichment failed")
			continue
		}
		if pmcid != "" {
			papers[i].PMCID = pmcid
			enriched++
		}
	}

	return enriched, nil
}

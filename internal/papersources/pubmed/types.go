// Package pubmed provides a client for the NCBI PubMed E-utilities API.
//
// PubMed is a biomedical literature database maintained by NCBI.
// This package implements the papersources.PaperSource interface
// to search and retrieve academic papers from PubMed, and exposes the
// esummary endpoint used to map PMIDs to PMC identifiers.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/helixir/paperfetch/internal/domain"
)

// esearchResponse is the envelope of an esearch.fcgi JSON response.
type esearchResponse struct {
	Result ESearchResult `json:"esearchresult"`
}

// ESearchResult represents the body of an esearch.fcgi JSON response.
// This endpoint returns a list of PMIDs matching a search query.
// Numeric fields arrive as JSON strings.
type ESearchResult struct {
	Count            string            `json:"count"`
	RetMax           string            `json:"retmax"`
	RetStart         string            `json:"retstart"`
	IDList           []string          `json:"idlist"`
	QueryTranslation string            `json:"querytranslation,omitempty"`
	ErrorList        *ESearchErrorList `json:"errorlist,omitempty"`
}

// ESearchErrorList contains errors from the E-utilities API.
type ESearchErrorList struct {
	PhrasesNotFound []string `json:"phrasesnotfound,omitempty"`
	FieldsNotFound  []string `json:"fieldsnotfound,omitempty"`
}

// esummaryResponse is the envelope of an esummary.fcgi JSON response.
type esummaryResponse struct {
	Result ESummaryResult `json:"result"`
}

// ESummaryResult represents the body of an esummary.fcgi JSON response.
// The API returns an object keyed by UID with a parallel "uids" array, so
// decoding requires a custom unmarshaler.
type ESummaryResult struct {
	UIDs []string
	Docs map[string]DocSummary
}

// UnmarshalJSON decodes the uid-keyed result object. Entries that are not
// valid document summaries (e.g. per-UID error objects) are kept with their
// Error field set so callers can skip them.
func (r *ESummaryResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if uids, ok := raw["uids"]; ok {
		if err := json.Unmarshal(uids, &r.UIDs); err != nil {
			return err
		}
	}

	r.Docs = make(map[string]DocSummary, len(r.UIDs))
	for _, uid := range r.UIDs {
		docRaw, ok := raw[uid]
		if !ok {
			continue
		}
		var doc DocSummary
		if err := json.Unmarshal(docRaw, &doc); err != nil {
			// Skip malformed entries; partial responses are tolerated.
			continue
		}
		r.Docs[uid] = doc
	}

	return nil
}

// DocSummary represents a single document summary from esummary.fcgi.
// Abstracts are not included in summaries; they require a separate
// full-text lookup.
type DocSummary struct {
	UID             string      `json:"uid"`
	Title           string      `json:"title"`
	PubDate         string      `json:"pubdate"`
	EPubDate        string      `json:"epubdate,omitempty"`
	Source          string      `json:"source,omitempty"`
	FullJournalName string      `json:"fulljournalname,omitempty"`
	ELocationID     string      `json:"elocationid,omitempty"`
	Authors         []DocAuthor `json:"authors,omitempty"`
	ArticleIDs      []ArticleID `json:"articleids,omitempty"`

	// Error is set by the API for UIDs it could not resolve
	// (e.g. "cannot get document summary").
	Error string `json:"error,omitempty"`
}

// DocAuthor represents an author entry in a document summary.
type DocAuthor struct {
	Name     string `json:"name"`
	AuthType string `json:"authtype,omitempty"`
}

// ArticleID represents an article identifier (pubmed, doi, pmc, pii, ...).
type ArticleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}

// yearPattern matches the first four-digit year in a PubMed date string,
// which can be "2024 Jan 17", "2020 Spring", "2020-2021" and similar.
var yearPattern = regexp.MustCompile(`\d{4}`)

// DOI returns the document's DOI, preferring the articleids entry and
// falling back to the elocationid field ("doi: 10.1038/..."). Empty when
// the document carries no DOI.
func (d DocSummary) DOI() string {
	for _, aid := range d.ArticleIDs {
		if aid.IDType == "doi" {
			return strings.TrimSpace(aid.Value)
		}
	}

	eloc := strings.TrimSpace(d.ELocationID)
	if rest, ok := strings.CutPrefix(eloc, "doi:"); ok {
		return strings.TrimSpace(rest)
	}

	return ""
}

// PMCID returns the document's normalized PMC identifier ("PMC" followed by
// digits), or empty when the document has no PMC full text.
func (d DocSummary) PMCID() string {
	for _, aid := range d.ArticleIDs {
		if aid.IDType == "pmc" {
			return domain.NormalizePMCID(aid.Value)
		}
	}
	return ""
}

// Year returns the four-digit publication year extracted from the pubdate
// field, or empty when no year is present.
func (d DocSummary) Year() string {
	return yearPattern.FindString(d.PubDate)
}

// Journal returns the journal name, preferring the full journal name over
// the abbreviated source field.
func (d DocSummary) Journal() string {
	if d.FullJournalName != "" {
		return d.FullJournalName
	}
	return d.Source
}

// Package europepmc provides a client for the Europe PMC REST API.
//
// Europe PMC aggregates PubMed, PMC and preprint records and exposes a
// cursor-paginated search endpoint. This package implements the
// papersources.PaperSource interface and the DOI and title lookups used
// for PMCID resolution, plus full-text abstract retrieval.
//
// API documentation: https://europepmc.org/RestfulWebService
package europepmc

import (
	"strings"

	"github.com/helixir/paperfetch/internal/domain"
)

// searchResponse is the envelope of a /search JSON response.
type searchResponse struct {
	HitCount       int        `json:"hitCount"`
	NextCursorMark string     `json:"nextCursorMark,omitempty"`
	ResultList     resultList `json:"resultList"`
}

type resultList struct {
	Result []Result `json:"result"`
}

// Result is a single record from the Europe PMC search API.
type Result struct {
	ID           string       `json:"id"`
	Source       string       `json:"source,omitempty"`
	PMID         string       `json:"pmid,omitempty"`
	PMCID        string       `json:"pmcid,omitempty"`
	DOI          string       `json:"doi,omitempty"`
	Title        string       `json:"title"`
	AuthorString string       `json:"authorString,omitempty"`
	JournalTitle string       `json:"journalTitle,omitempty"`
	JournalInfo  *journalInfo `json:"journalInfo,omitempty"`
	PubYear      string       `json:"pubYear,omitempty"`
	AbstractText string       `json:"abstractText,omitempty"`
	InEPMC       string       `json:"inEPMC,omitempty"`
	InPMC        string       `json:"inPMC,omitempty"`
	IsOpenAccess string       `json:"isOpenAccess,omitempty"`
}

// journalInfo holds the nested journal metadata returned by the core
// result type. Lite results carry a flat journalTitle instead.
type journalInfo struct {
	Journal journalMeta `json:"journal"`
}

type journalMeta struct {
	Title string `json:"title"`
}

// Authors splits the semicolon-separated author string into author records.
func (r Result) Authors() []domain.Author {
	parts := strings.Split(r.AuthorString, ";")
	authors := make([]domain.Author, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		authors = append(authors, domain.Author{Name: name})
	}
	return authors
}

// Journal returns the journal title, preferring the flat field over the
// nested core metadata.
func (r Result) Journal() string {
	if r.JournalTitle != "" {
		return r.JournalTitle
	}
	if r.JournalInfo != nil {
		return r.JournalInfo.Journal.Title
	}
	return ""
}

package domain

import (
	"strings"
)

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// String returns a formatted string representation of the author.
func (a Author) String() string {
	var sb strings.Builder
	sb.WriteString(a.Name)

	if a.Affiliation != "" {
		sb.WriteString(" (")
		sb.WriteString(a.Affiliation)
		sb.WriteString(")")
	}

	if a.ORCID != "" {
		sb.WriteString(" [")
		sb.WriteString(a.ORCID)
		sb.WriteString("]")
	}

	return sb.String()
}

// PaperRecord represents a paper moving through the search, resolution and
// download pipeline. All identifier fields are optional; an empty string
// means the identifier is not known.
type PaperRecord struct {
	PMID     string     `json:"pmid,omitempty"`
	PMCID    string     `json:"pmcid,omitempty"`
	DOI      string     `json:"doi,omitempty"`
	Title    string     `json:"title,omitempty"`
	Authors  []Author   `json:"authors,omitempty"`
	Journal  string     `json:"journal,omitempty"`
	Year     string     `json:"year,omitempty"`
	Abstract string     `json:"abstract,omitempty"`
	Source   SourceType `json:"source,omitempty"`
}

// CanonicalID generates a canonical identifier for deduplication.
// Priority order: DOI > PMCID > PMID. Returns empty string if the record
// carries no identifier.
func (p PaperRecord) CanonicalID() string {
	if doi := strings.TrimSpace(p.DOI); doi != "" {
		// Normalize DOI to lowercase
		return "doi:" + strings.ToLower(doi)
	}

	if pmcid := strings.TrimSpace(p.PMCID); pmcid != "" {
		return "pmcid:" + pmcid
	}

	if pmid := strings.TrimSpace(p.PMID); pmid != "" {
		return "pmid:" + pmid
	}

	return ""
}

// Key returns the identifier used to correlate download results with this
// record: the DOI when present, otherwise the PMCID.
func (p PaperRecord) Key() string {
	if p.DOI != "" {
		return p.DOI
	}
	return p.PMCID
}

// Downloadable returns true if the record carries at least one identifier a
// download task can act on.
func (p PaperRecord) Downloadable() bool {
	return p.DOI != "" || p.PMCID != ""
}

package domain

import (
	"regexp"
	"strings"
)

// IdentifierKind classifies the lexical shape of a raw identifier string.
type IdentifierKind string

const (
	IdentifierKindPMID    IdentifierKind = "pmid"
	IdentifierKindPMCID   IdentifierKind = "pmcid"
	IdentifierKindDOI     IdentifierKind = "doi"
	IdentifierKindUnknown IdentifierKind = "unknown"
)

var (
	pmcidPattern     = regexp.MustCompile(`^(?i:PMC)\d{1,8}$`)
	pmcDigitsPattern = regexp.MustCompile(`^\d{1,8}$`)
	pmidPattern      = regexp.MustCompile(`^\d{6,10}$`)
	doiPattern       = regexp.MustCompile(`^10\.\d+/.+$`)
)

// DetectIdentifier determines whether a raw string is a PMID, PMCID or DOI.
// Classification is purely lexical: a PMC-prefixed number is a PMCID, a string
// shaped like 10.<registrant>/<suffix> is a DOI, and a bare 6-10 digit number
// is a PMID. PMCID and DOI markers are checked before the numeric PMID
// fallback. Anything else is unknown.
func DetectIdentifier(raw string) IdentifierKind {
	s := strings.TrimSpace(raw)
	if s == "" {
		return IdentifierKindUnknown
	}
	if pmcidPattern.MatchString(s) {
		return IdentifierKindPMCID
	}
	if strings.HasPrefix(s, "10.") && strings.Contains(s, "/") && len(s) > 8 {
		return IdentifierKindDOI
	}
	if pmidPattern.MatchString(s) {
		return IdentifierKindPMID
	}
	return IdentifierKindUnknown
}

// NormalizePMCID converts a PMCID to its canonical "PMC<digits>" form.
// The input may carry a case-insensitive PMC prefix or be bare digits.
// Returns an empty string if the input is not a valid PMCID. Idempotent:
// normalizing an already-canonical value returns it unchanged.
func NormalizePMCID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	digits := s
	if len(s) >= 3 && strings.EqualFold(s[:3], "PMC") {
		digits = s[3:]
	}
	if !pmcDigitsPattern.MatchString(digits) {
		return ""
	}
	return "PMC" + digits
}

// ValidateDOI reports whether a string has the canonical DOI shape
// 10.<registrant>/<suffix>.
func ValidateDOI(doi string) bool {
	s := strings.TrimSpace(doi)
	if !strings.HasPrefix(s, "10.") || !strings.Contains(s, "/") || len(s) < 8 {
		return false
	}
	return doiPattern.MatchString(s)
}

// ClassifiedIdentifiers groups raw identifiers by detected kind. Unknown
// strings are dropped. Duplicates are preserved in input order; PMCIDs are
// stored in canonical form.
type ClassifiedIdentifiers struct {
	PMCIDs []string
	PMIDs  []string
	DOIs   []string
}

// Total returns the number of classified identifiers across all kinds.
func (c ClassifiedIdentifiers) Total() int {
	return len(c.PMCIDs) + len(c.PMIDs) + len(c.DOIs)
}

// ClassifyIdentifiers splits raw identifier strings by detected kind.
func ClassifyIdentifiers(raw []string) ClassifiedIdentifiers {
	var out ClassifiedIdentifiers
	for _, r := range raw {
		s := strings.TrimSpace(r)
		switch DetectIdentifier(s) {
		case IdentifierKindPMCID:
			out.PMCIDs = append(out.PMCIDs, NormalizePMCID(s))
		case IdentifierKindPMID:
			out.PMIDs = append(out.PMIDs, s)
		case IdentifierKindDOI:
			out.DOIs = append(out.DOIs, s)
		}
	}
	return out
}

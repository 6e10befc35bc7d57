// Package input ingests identifier batches for download and resolution
// commands. A batch value is either a path to a CSV file, a single
// identifier, or a comma or whitespace separated identifier list; the CSV
// identifier column is auto-detected when not named explicitly.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
)

// columnCandidates are header names recognized as the identifier column,
// in detection priority order.
var columnCandidates = []string{"id", "pmcid", "doi", "pmid", "identifier"}

// Reader ingests identifier batches.
type Reader struct {
	logger zerolog.Logger
}

// NewReader creates a batch input reader.
func NewReader(logger zerolog.Logger) *Reader {
	return &Reader{logger: logger}
}

// Identifiers interprets a unified batch value and classifies its contents.
// Values ending in .csv are read as files; anything else is parsed as an
// identifier list. Unrecognized identifiers are dropped with a warning; an
// input that yields no valid identifier at all is an error, as is a CSV
// path that does not exist.
func (r *Reader) Identifiers(value, column string) (domain.ClassifiedIdentifiers, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.ClassifiedIdentifiers{}, fmt.Errorf("%w: empty batch input", domain.ErrInvalidInput)
	}

	var raw []string
	if strings.HasSuffix(strings.ToLower(value), ".csv") {
		var err error
		raw, err = r.FromCSV(value, column)
		if err != nil {
			return domain.ClassifiedIdentifiers{}, err
		}
	} else {
		raw = ParseList(value)
	}

	ids := domain.ClassifyIdentifiers(raw)
	if unknown := len(raw) - ids.Total(); unknown > 0 {
		r.logger.Warn().Int("skipped", unknown).Msg("ignoring unrecognized identifiers")
	}
	if ids.Total() == 0 {
		return domain.ClassifiedIdentifiers{}, fmt.Errorf("%w: no valid identifiers in input", domain.ErrInvalidInput)
	}

	r.logger.Info().
		Int("pmcids", len(ids.PMCIDs)).
		Int("pmids", len(ids.PMIDs)).
		Int("dois", len(ids.DOIs)).
		Msg("classified batch input")
	return ids, nil
}

// FromCSV loads raw identifiers from a CSV file. column selects the
// identifier column by name, case-insensitively; when empty, the column is
// auto-detected from the first row, falling back to the first column of a
// headerless file. Blank cells and malformed rows are skipped.
func (r *Reader) FromCSV(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: csv file %s does not exist", domain.ErrInvalidInput, path)
		}
		return nil, fmt.Errorf("opening csv file %s: %w", path, err)
	}
	defer f.Close()

	rows, err := r.readRows(f)
	if err != nil {
		return nil, fmt.Errorf("reading csv file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no identifiers in %s", domain.ErrInvalidInput, path)
	}

	colIdx, start, err := r.resolveColumn(rows[0], column, path)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if colIdx >= len(row) {
			continue
		}
		if id := strings.TrimSpace(row[colIdx]); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no identifiers in %s", domain.ErrInvalidInput, path)
	}
	return ids, nil
}

func (r *Reader) readRows(f io.Reader) ([][]string, error) {
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.logger.Warn().Int("line", parseErr.Line).Err(err).Msg("skipping malformed csv row")
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// resolveColumn picks the identifier column and the first data row index.
func (r *Reader) resolveColumn(header []string, column, path string) (colIdx, start int, err error) {
	if column != "" {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), column) {
				return i, 1, nil
			}
		}
		return 0, 0, fmt.Errorf("%w: column %q not found in %s", domain.ErrInvalidInput, column, path)
	}

	for _, candidate := range columnCandidates {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), candidate) {
				r.logger.Debug().Str("column", cell).Msg("detected identifier column")
				return i, 1, nil
			}
		}
	}

	// No recognizable header; the file is a bare identifier list.
	return 0, 0, nil
}

// ParseList splits a comma or whitespace separated identifier string.
func ParseList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

package counter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/helixir/paperfetch/internal/domain"
)

// Format selects a Stats rendering.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format flag value. Empty means console.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatConsole, "":
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown stats format %q", domain.ErrInvalidInput, s)
}

// Render writes the statistics to w in the requested format.
func Render(w io.Writer, stats Stats, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case FormatMarkdown:
		return renderMarkdown(w, stats)
	case FormatConsole, "":
		return renderConsole(w, stats)
	}
	return fmt.Errorf("%w: unknown stats format %q", domain.ErrInvalidInput, format)
}

func renderConsole(w io.Writer, stats Stats) error {
	var b strings.Builder

	fmt.Fprintf(&b, "PMCID statistics for %q", stats.Query)
	if stats.FromCache {
		b.WriteString(" (cached)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Total matches:  %d\n", stats.Total)
	fmt.Fprintf(&b, "  Checked:        %d\n", stats.Checked)
	fmt.Fprintf(&b, "  With PMCID:     %d (%.1f%%)\n", stats.WithPMCID, stats.Rate)
	fmt.Fprintf(&b, "  Without PMCID:  %d\n", stats.WithoutPMCID)
	if stats.ElapsedSeconds > 0 {
		fmt.Fprintf(&b, "  Elapsed:        %.1fs (%.1f papers/s)\n", stats.ElapsedSeconds, stats.ProcessingSpeed)
	}
	if stats.WithPMCID > 0 {
		fmt.Fprintf(&b, "  Estimated size: %.1f MB (%.2f GB) across %d PDFs\n",
			stats.EstimatedSizeMB, stats.EstimatedSizeMB/1024, stats.WithPMCID)
	}
	if stats.Checked < stats.Total {
		fmt.Fprintf(&b, "  Note: only the first %d of %d matches were checked\n", stats.Checked, stats.Total)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderMarkdown(w io.Writer, stats Stats) error {
	var b strings.Builder

	b.WriteString("# PMCID Statistics\n\n")
	fmt.Fprintf(&b, "**Query**: `%s`  \n", stats.Query)
	fmt.Fprintf(&b, "**Source**: %s\n\n", stats.Source)
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(&b, "| Total matches | %d |\n", stats.Total)
	fmt.Fprintf(&b, "| Checked | %d |\n", stats.Checked)
	fmt.Fprintf(&b, "| With PMCID | %d (%.1f%%) |\n", stats.WithPMCID, stats.Rate)
	fmt.Fprintf(&b, "| Without PMCID | %d |\n", stats.WithoutPMCID)
	fmt.Fprintf(&b, "| Estimated download | %.1f MB |\n", stats.EstimatedSizeMB)
	fmt.Fprintf(&b, "| Elapsed | %.1fs |\n", stats.ElapsedSeconds)

	_, err := io.WriteString(w, b.String())
	return err
}

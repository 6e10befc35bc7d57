// Package main is the entry point for the paperfetch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the paperfetch CLI.
var rootCmd = &cobra.Command{
	Use:   "paperfetch",
	Short: "Bulk full-text retrieval from PubMed Central",
	Long: `paperfetch finds and downloads open-access papers from PubMed Central.

It accepts PMIDs, PMCIDs and DOIs in any mix, resolves them to PMCIDs via
the NCBI E-utilities, Europe PMC and CrossRef APIs, and downloads the PDFs
with polite rate limiting. Results are tracked in a local manifest so
completed downloads are not repeated.

Each stage is a subcommand: search queries PubMed and Europe PMC for
candidate papers, resolve maps identifiers to PMCIDs, download fetches the
full text, count estimates PMCID coverage for a query, history inspects
past batches, and serve exposes the whole pipeline as an HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./paperfetch.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, console)")
	rootCmd.PersistentFlags().String("output-dir", "", "directory PDFs are written to")
	rootCmd.PersistentFlags().Int("workers", 0, "concurrent download workers (1-10)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

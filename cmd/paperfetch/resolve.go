package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [identifiers...]",
	Short: "Resolve PMIDs and DOIs to PMCIDs",
	Long: `Resolve maps identifiers to PMCIDs without downloading anything.

PMIDs are resolved in batches via the PubMed esummary API with bounded
retry rounds; DOIs go through Europe PMC with an optional CrossRef title
fallback. Identifiers may be passed as arguments or read from a CSV file
with --file.`,
	Example: `  paperfetch resolve 31452104 10.1038/s41586-020-2012-7
  paperfetch resolve --file papers.csv --json`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("file", "", "CSV file with identifiers")
	resolveCmd.Flags().String("column", "", "identifier column name (default: auto-detect)")
	resolveCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	column, _ := cmd.Flags().GetString("column")
	asJSON, _ := cmd.Flags().GetBool("json")

	value := file
	if value == "" {
		value = strings.Join(args, ",")
	}
	ids, err := app.reader.Identifiers(value, column)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	papers, err := app.resolver.ResolveClassified(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving identifiers: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(papers)
	}

	resolved := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PMID\tDOI\tPMCID")
	for _, p := range papers {
		pmcid := p.PMCID
		if pmcid == "" {
			pmcid = "-"
		} else {
			resolved++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.PMID, p.DOI, pmcid)
	}
	w.Flush()

	fmt.Printf("\n%d of %d resolved\n", resolved, len(papers))
	return nil
}

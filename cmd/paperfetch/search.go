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

	"github.com/helixir/paperfetch/internal/abstracts"
	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/papersources"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search PubMed and Europe PMC and download the matches",
	Long: `Search queries the bibliographic APIs for papers matching the query and
downloads the open-access full texts of the results.

Queries support quoted phrases, boolean operators and the field prefixes
title:, author:, journal:, abstract:, year: and mesh:, which are translated
to each backend's own syntax. With --list the command stops after printing
the matches; --json prints them as JSON instead of downloading.`,
	Example: `  paperfetch search "CRISPR base editing" --limit 50
  paperfetch search 'title:"gut microbiome" year:2023' --source europepmc --list
  paperfetch search "long covid" --require-pmcid --abstracts --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("source", "both", "source to search (pubmed, europepmc, both)")
	searchCmd.Flags().Int("limit", 200, "maximum number of papers")
	searchCmd.Flags().Bool("require-pmcid", false, "only papers with full text in PubMed Central")
	searchCmd.Flags().Bool("list", false, "print matches without downloading")
	searchCmd.Flags().Bool("json", false, "print matches as JSON without downloading")
	searchCmd.Flags().Bool("abstracts", false, "fill in missing abstracts from Europe PMC")
	searchCmd.Flags().Bool("force", false, "re-download papers already in the manifest")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}

	source, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")
	requirePMCID, _ := cmd.Flags().GetBool("require-pmcid")
	listOnly, _ := cmd.Flags().GetBool("list")
	asJSON, _ := cmd.Flags().GetBool("json")
	withAbstracts, _ := cmd.Flags().GetBool("abstracts")
	force, _ := cmd.Flags().GetBool("force")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := papersources.SearchParams{
		Query:        strings.Join(args, " "),
		MaxResults:   limit,
		RequirePMCID: requirePMCID,
	}

	var results []papersources.SourceResult
	switch source {
	case "both":
		results = app.registry.SearchAll(ctx, params)
	case "pubmed":
		results = app.registry.SearchSources(ctx, params, []domain.SourceType{domain.SourceTypePubMed})
	case "europepmc":
		results = app.registry.SearchSources(ctx, params, []domain.SourceType{domain.SourceTypeEuropePMC})
	default:
		return fmt.Errorf("%w: unknown source %q (expected pubmed, europepmc or both)", domain.ErrInvalidInput, source)
	}

	failures := 0
	for _, res := range results {
		if res.Error != nil {
			failures++
			app.logger.Error().Err(res.Error).Str("source", string(res.Source)).Msg("source search failed")
		}
	}
	if failures == len(results) {
		return fmt.Errorf("all sources failed for query %q", params.Query)
	}

	papers := papersources.MergeResults(results, domain.SourceTypePubMed, limit)
	if len(papers) == 0 {
		return fmt.Errorf("no papers found for query %q", params.Query)
	}

	if gained, err := app.resolver.EnrichPapers(ctx, papers); err != nil {
		app.logger.Warn().Err(err).Msg("PMCID enrichment incomplete")
	} else if gained > 0 {
		app.logger.Info().Int("gained", gained).Msg("enriched search results with PMCIDs")
	}

	if withAbstracts {
		supp := abstracts.New(app.europepmc, abstracts.Config{
			Logger:  app.logger,
			Metrics: app.metrics,
		})
		if _, err := supp.Supplement(ctx, papers); err != nil {
			app.logger.Warn().Err(err).Msg("abstract supplementation incomplete")
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(papers)
	}
	if listOnly {
		printPapers(papers)
		return nil
	}

	return app.downloadPapers(ctx, papers, force)
}

// printPapers writes a result table to stdout.
func printPapers(papers []domain.PaperRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PMID\tPMCID\tDOI\tYEAR\tTITLE")
	for _, p := range papers {
		title := p.Title
		if len(title) > 80 {
			title = title[:77] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.PMID, p.PMCID, p.DOI, p.Year, title)
	}
	w.Flush()
	fmt.Printf("\n%d papers\n", len(papers))
}

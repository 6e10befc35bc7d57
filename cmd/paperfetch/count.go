package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helixir/paperfetch/internal/counter"
)

var countCmd = &cobra.Command{
	Use:   "count <query>",
	Short: "Estimate PMCID coverage for a PubMed query",
	Long: `Count searches PubMed for the query and probes the matches for PMCID
availability, reporting how many papers could actually be downloaded and
an estimated total size. Statistics are cached, so repeating a query is
cheap.`,
	Example: `  paperfetch count "sars-cov-2 spike protein"
  paperfetch count "machine learning radiology" --limit 500 --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCount,
}

func init() {
	countCmd.Flags().Int("limit", 0, "maximum number of PMIDs to probe")
	countCmd.Flags().String("format", "console", "output format (console, json, markdown)")
	rootCmd.AddCommand(countCmd)
}

func runCount(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	formatFlag, _ := cmd.Flags().GetString("format")

	format, err := counter.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := counter.New(app.pubmed, app.store, counter.Config{
		Limit:      limit,
		MaxWorkers: app.cfg.Download.MaxWorkers,
		CacheTTL:   app.cfg.Cache.SearchTTL,
		Logger:     app.logger,
	})

	stats, err := c.Count(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("counting PMCID coverage: %w", err)
	}

	return counter.Render(os.Stdout, stats, format)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
	"github.com/helixir/paperfetch/internal/repository"
)

var downloadCmd = &cobra.Command{
	Use:   "download [identifiers...]",
	Short: "Download full texts for PMIDs, PMCIDs or DOIs",
	Long: `Download resolves the given identifiers to PMCIDs and fetches the
open-access full text of each paper from PubMed Central.

Identifiers may be passed as arguments (comma or space separated, any mix
of PMIDs, PMCIDs and DOIs) or read from a CSV file with --file. Papers
already present in the download manifest are skipped unless --force is
given.`,
	Example: `  paperfetch download PMC7096066 31452104 10.1038/s41586-020-2012-7
  paperfetch download --file papers.csv --column doi
  paperfetch download --file papers.csv --force`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().String("file", "", "CSV file with identifiers")
	downloadCmd.Flags().String("column", "", "identifier column name (default: auto-detect)")
	downloadCmd.Flags().Bool("force", false, "re-download papers already in the manifest")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	column, _ := cmd.Flags().GetString("column")
	force, _ := cmd.Flags().GetBool("force")

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

	return app.downloadPapers(ctx, papers, force)
}

// downloadPapers runs the shared resolve-then-download tail of the download
// and search commands: skip already-downloaded papers, fetch the rest, record
// the batch and print a summary.
func (a *app) downloadPapers(ctx context.Context, papers []domain.PaperRecord, force bool) error {
	var manifest repository.ManifestRepository
	if a.cfg.Storage.Path != "" {
		db, repo, err := a.openManifest(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		manifest = repo
	}

	var skipped []downloader.Result
	if !force && manifest != nil {
		papers, skipped = partitionDownloaded(ctx, manifest, papers)
	}
	for _, res := range skipped {
		a.logger.Info().Str("pmcid", res.PMCID).Str("path", res.PDFPath).Msg("already downloaded, skipping")
	}

	if len(papers) == 0 && len(skipped) == 0 {
		return fmt.Errorf("%w: nothing to download", domain.ErrInvalidInput)
	}

	var results []downloader.Result
	batchID := uuid.New()
	if len(papers) > 0 {
		if manifest != nil {
			batch := &domain.BatchRecord{
				ID:     batchID,
				Status: domain.BatchStatusRunning,
				Total:  len(papers),
			}
			if err := manifest.CreateBatch(ctx, batch); err != nil {
				return fmt.Errorf("persisting batch: %w", err)
			}
		}

		coord, err := a.newCoordinator(nil)
		if err != nil {
			return err
		}
		results = coord.DownloadBatch(ctx, papers)
	}

	stats := domain.DownloadStats{Total: len(results)}
	for _, res := range results {
		if res.Success {
			stats.Successful++
			if res.PDFPath != "" {
				stats.PDFCount++
			}
		} else {
			stats.Failed++
		}
	}

	if manifest != nil && len(results) > 0 {
		if err := recordBatch(ctx, manifest, batchID, results, stats); err != nil {
			a.logger.Error().Err(err).Msg("failed to record batch in manifest")
		}
	}

	printResults(append(results, skipped...), stats, len(skipped))

	if stats.Successful == 0 && len(results) > 0 {
		return fmt.Errorf("all %d downloads failed", stats.Failed)
	}
	return ctx.Err()
}

// partitionDownloaded splits papers into those still needing a download and
// synthetic cached results for ones the manifest already has.
func partitionDownloaded(ctx context.Context, manifest repository.ManifestRepository, papers []domain.PaperRecord) (pending []domain.PaperRecord, skipped []downloader.Result) {
	for _, p := range papers {
		if path, ok := alreadyDownloaded(ctx, manifest, p.PMCID); ok {
			skipped = append(skipped, downloader.Result{
				DOI:       p.DOI,
				PMCID:     p.PMCID,
				Success:   true,
				PDFPath:   path,
				FromCache: true,
			})
			continue
		}
		pending = append(pending, p)
	}
	return pending, skipped
}

// printResults writes a per-paper outcome table and a closing summary to
// stdout.
func printResults(results []downloader.Result, stats domain.DownloadStats, skipped int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PMCID\tDOI\tSTATUS\tOUTPUT")
	for _, res := range results {
		status := "failed: " + res.Error
		output := ""
		switch {
		case res.Success && res.PDFPath != "":
			status = "pdf"
			if res.FromCache {
				status = "pdf (cached)"
			}
			output = res.PDFPath
		case res.Success:
			status = "html"
			output = res.FullTextURL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.PMCID, res.DOI, status, output)
	}
	w.Flush()

	fmt.Printf("\n%d downloaded (%d PDFs), %d failed, %d skipped\n",
		stats.Successful, stats.PDFCount, stats.Failed, skipped)
}

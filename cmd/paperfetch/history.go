package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/repository"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past download batches",
	Long: `History lists the download batches recorded in the local manifest.
With --batch it shows the per-paper outcomes of one batch instead.`,
	Example: `  paperfetch history
  paperfetch history --status partial --limit 10
  paperfetch history --batch 4f6c6e0a-1b9d-4617-9f3e-0a8f9d6c2b41`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("batch", "", "show the downloads of one batch")
	historyCmd.Flags().String("status", "", "filter batches by status")
	historyCmd.Flags().Int("limit", 20, "maximum number of batches")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	if app.cfg.Storage.Path == "" {
		return fmt.Errorf("%w: no manifest database configured", domain.ErrInvalidInput)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, manifest, err := app.openManifest(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if batchFlag, _ := cmd.Flags().GetString("batch"); batchFlag != "" {
		batchID, err := uuid.Parse(batchFlag)
		if err != nil {
			return fmt.Errorf("%w: %q is not a valid batch id", domain.ErrInvalidInput, batchFlag)
		}
		return printBatchDownloads(ctx, manifest, batchID)
	}

	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := repository.BatchFilter{Limit: limit}
	if statusFlag != "" {
		filter.Status = []domain.BatchStatus{domain.BatchStatus(statusFlag)}
	}

	batches, total, err := manifest.ListBatches(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("no batches recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tSTATUS\tTOTAL\tOK\tFAILED\tPDFS\tSTARTED")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			b.ID, b.Status, b.Total, b.Successful, b.Failed, b.PDFCount,
			b.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()

	if total > len(batches) {
		fmt.Printf("\nshowing %d of %d batches\n", len(batches), total)
	}
	return nil
}

func printBatchDownloads(ctx context.Context, manifest repository.ManifestRepository, batchID uuid.UUID) error {
	batch, err := manifest.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}
	downloads, err := manifest.ListDownloads(ctx, batchID)
	if err != nil {
		return fmt.Errorf("listing downloads: %w", err)
	}

	fmt.Printf("batch %s  status=%s  total=%d ok=%d failed=%d\n\n",
		batch.ID, batch.Status, batch.Total, batch.Successful, batch.Failed)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PMCID\tDOI\tSTATUS\tTYPE\tOUTPUT")
	for _, d := range downloads {
		output := d.Path
		if output == "" {
			output = d.FullTextURL
		}
		status := string(d.Status)
		if d.Error != "" {
			status += ": " + d.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.PMCID, d.DOI, status, d.ContentType, output)
	}
	w.Flush()
	return nil
}

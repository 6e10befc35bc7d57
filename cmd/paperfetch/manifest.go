package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paperfetch/internal/database"
	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
	"github.com/helixir/paperfetch/internal/repository"
)

// openManifest opens the manifest database and runs pending migrations when
// auto-migrate is on. Returns the database so callers can close it.
func (a *app) openManifest(ctx context.Context) (*database.DB, repository.ManifestRepository, error) {
	db, err := database.New(ctx, a.cfg.Storage.Path, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening manifest database: %w", err)
	}

	if a.cfg.Storage.AutoMigrate {
		migrator, err := database.NewMigrator(db, a.logger)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("building migrator: %w", err)
		}
		if err := migrator.Up(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrating manifest database: %w", err)
		}
	}

	return db, repository.NewSQLiteManifestRepository(db), nil
}

// recordBatch persists a finished batch and its per-paper outcomes.
func recordBatch(ctx context.Context, manifest repository.ManifestRepository, batchID uuid.UUID, results []downloader.Result, stats domain.DownloadStats) error {
	now := time.Now().UTC()
	for _, res := range results {
		rec := &domain.DownloadRecord{
			ID:          uuid.New(),
			BatchID:     batchID,
			DOI:         res.DOI,
			PMCID:       res.PMCID,
			Status:      domain.DownloadStatusCompleted,
			ContentType: domain.ContentType(res.ContentType),
			Path:        res.PDFPath,
			FullTextURL: res.FullTextURL,
			SizeBytes:   res.SizeBytes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if !res.Success {
			rec.Status = domain.DownloadStatusFailed
			rec.Error = res.Error
		}
		if err := manifest.RecordDownload(ctx, rec); err != nil {
			return err
		}
	}

	status := domain.BatchStatusCompleted
	switch {
	case stats.Total == 0 || stats.Successful == 0:
		status = domain.BatchStatusFailed
	case stats.Failed > 0:
		status = domain.BatchStatusPartial
	}
	return manifest.FinishBatch(ctx, batchID, status, stats)
}

// alreadyDownloaded reports whether a PMCID has a completed download whose
// file still exists on disk.
func alreadyDownloaded(ctx context.Context, manifest repository.ManifestRepository, pmcid string) (string, bool) {
	if manifest == nil || pmcid == "" {
		return "", false
	}
	rec, err := manifest.LatestCompleted(ctx, pmcid)
	if err != nil {
		return "", false
	}
	if rec.Path != "" {
		if _, statErr := os.Stat(rec.Path); statErr != nil {
			return "", false
		}
		return rec.Path, true
	}
	return rec.FullTextURL, rec.FullTextURL != ""
}

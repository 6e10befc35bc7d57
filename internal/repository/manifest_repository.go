package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paperfetch/internal/domain"
)

// ManifestRepository handles download manifest persistence. It records batch
// lifecycles and per-paper download attempts, and answers history and
// duplicate-skip queries.
type ManifestRepository interface {
	// CreateBatch inserts a new batch record.
	// Returns domain.ErrInvalidInput if the batch is nil or has no ID.
	CreateBatch(ctx context.Context, batch *domain.BatchRecord) error

	// GetBatch retrieves a batch by ID.
	// Returns domain.ErrNotFound if no matching batch exists.
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error)

	// FinishBatch transitions a batch to a terminal status, storing the
	// final counters and completion time.
	// Returns domain.ErrNotFound if no matching batch exists.
	FinishBatch(ctx context.Context, id uuid.UUID, status domain.BatchStatus, stats domain.DownloadStats) error

	// ListBatches retrieves batches matching the filter, newest first.
	// Returns the matching batches and the total count for pagination.
	ListBatches(ctx context.Context, filter BatchFilter) ([]*domain.BatchRecord, int, error)

	// RecordDownload inserts one download attempt.
	// Returns domain.ErrInvalidInput if the record is nil or has no ID.
	RecordDownload(ctx context.Context, rec *domain.DownloadRecord) error

	// ListDownloads retrieves all download attempts of a batch in insertion
	// order.
	ListDownloads(ctx context.Context, batchID uuid.UUID) ([]*domain.DownloadRecord, error)

	// LatestCompleted returns the most recent completed download for a
	// PMCID, used to skip papers already on disk.
	// Returns domain.ErrNotFound if the PMCID was never downloaded.
	LatestCompleted(ctx context.Context, pmcid string) (*domain.DownloadRecord, error)
}

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	// Status filters by one or more batch statuses (optional).
	Status []domain.BatchStatus

	// CreatedAfter filters to batches created after this timestamp (optional).
	CreatedAfter *time.Time

	// Limit specifies the maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the number of results to skip for pagination.
	Offset int
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paperfetch/internal/database"
	"github.com/helixir/paperfetch/internal/domain"
)

// Compile-time interface verification.
var _ ManifestRepository = (*SQLiteManifestRepository)(nil)

// SQLiteManifestRepository is a SQLite implementation of ManifestRepository.
type SQLiteManifestRepository struct {
	db *database.DB
}

// NewSQLiteManifestRepository creates a new SQLite manifest repository.
func NewSQLiteManifestRepository(db *database.DB) *SQLiteManifestRepository {
	return &SQLiteManifestRepository{db: db}
}

// CreateBatch inserts a new batch record.
func (r *SQLiteManifestRepository) CreateBatch(ctx context.Context, batch *domain.BatchRecord) error {
	if batch == nil {
		return domain.NewValidationError("batch", "batch cannot be nil")
	}
	if batch.ID == uuid.Nil {
		return domain.NewValidationError("id", "batch id is required")
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.SQL().ExecContext(ctx, `
		INSERT INTO batches (id, status, total, successful, failed, pdf_count, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID.String(), string(batch.Status), batch.Total, batch.Successful,
		batch.Failed, batch.PDFCount, batch.CreatedAt, nullableTime(batch.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewAlreadyExistsError("batch", batch.ID.String())
		}
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (r *SQLiteManifestRepository) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
		SELECT id, status, total, successful, failed, pdf_count, created_at, completed_at
		FROM batches WHERE id = ?`, id.String())

	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", id.String())
		}
		return nil, fmt.Errorf("querying batch: %w", err)
	}
	return batch, nil
}

// FinishBatch transitions a batch to a terminal status with final counters.
func (r *SQLiteManifestRepository) FinishBatch(ctx context.Context, id uuid.UUID, status domain.BatchStatus, stats domain.DownloadStats) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", fmt.Sprintf("%s is not a terminal batch status", status))
	}

	res, err := r.db.SQL().ExecContext(ctx, `
		UPDATE batches
		SET status = ?, total = ?, successful = ?, failed = ?, pdf_count = ?, completed_at = ?
		WHERE id = ?`,
		string(status), stats.Total, stats.Successful, stats.Failed, stats.PDFCount,
		time.Now().UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("finishing batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing batch: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("batch", id.String())
	}
	return nil
}

// ListBatches retrieves batches matching the filter, newest first.
func (r *SQLiteManifestRepository) ListBatches(ctx context.Context, filter BatchFilter) ([]*domain.BatchRecord, int, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at > ?")
		args = append(args, *filter.CreatedAfter)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.SQL().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM batches"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting batches: %w", err)
	}

	query := `
		SELECT id, status, total, successful, failed, pdf_count, created_at, completed_at
		FROM batches` + whereClause + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.SQL().QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.BatchRecord
	for rows.Next() {
		batch, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("scanning batch: %w", scanErr)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing batches: %w", err)
	}
	return batches, total, nil
}

// RecordDownload inserts one download attempt.
func (r *SQLiteManifestRepository) RecordDownload(ctx context.Context, rec *domain.DownloadRecord) error {
	if rec == nil {
		return domain.NewValidationError("download", "download record cannot be nil")
	}
	if rec.ID == uuid.Nil {
		return domain.NewValidationError("id", "download id is required")
	}
	if rec.BatchID == uuid.Nil {
		return domain.NewValidationError("batch_id", "batch id is required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := r.db.SQL().ExecContext(ctx, `
		INSERT INTO downloads (id, batch_id, doi, pmcid, status, content_type, path,
			full_text_url, size_bytes, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.BatchID.String(), rec.DOI, rec.PMCID, string(rec.Status),
		string(rec.ContentType), rec.Path, rec.FullTextURL, rec.SizeBytes, rec.Error,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewAlreadyExistsError("download", rec.ID.String())
		}
		return fmt.Errorf("inserting download: %w", err)
	}
	return nil
}

// ListDownloads retrieves all download attempts of a batch in insertion order.
func (r *SQLiteManifestRepository) ListDownloads(ctx context.Context, batchID uuid.UUID) ([]*domain.DownloadRecord, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
		SELECT id, batch_id, doi, pmcid, status, content_type, path,
			full_text_url, size_bytes, error, created_at, updated_at
		FROM downloads WHERE batch_id = ?
		ORDER BY created_at ASC, id ASC`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*domain.DownloadRecord
	for rows.Next() {
		rec, scanErr := scanDownload(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning download: %w", scanErr)
		}
		downloads = append(downloads, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	return downloads, nil
}

// LatestCompleted returns the most recent completed download for a PMCID.
func (r *SQLiteManifestRepository) LatestCompleted(ctx context.Context, pmcid string) (*domain.DownloadRecord, error) {
	if pmcid == "" {
		return nil, domain.NewValidationError("pmcid", "pmcid is required")
	}

	row := r.db.SQL().QueryRowContext(ctx, `
		SELECT id, batch_id, doi, pmcid, status, content_type, path,
			full_text_url, size_bytes, error, created_at, updated_at
		FROM downloads
		WHERE pmcid = ? AND status = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`, pmcid, string(domain.DownloadStatusCompleted))

	rec, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("download", pmcid)
		}
		return nil, fmt.Errorf("querying latest download: %w", err)
	}
	return rec, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.BatchRecord, error) {
	var (
		batch       domain.BatchRecord
		id, status  string
		completedAt sql.NullTime
	)
	if err := row.Scan(&id, &status, &batch.Total, &batch.Successful,
		&batch.Failed, &batch.PDFCount, &batch.CreatedAt, &completedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid batch id %q: %w", id, err)
	}
	batch.ID = parsed
	batch.Status = domain.BatchStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	return &batch, nil
}

func scanDownload(row rowScanner) (*domain.DownloadRecord, error) {
	var (
		rec                            domain.DownloadRecord
		id, batchID, status, mediaType string
	)
	if err := row.Scan(&id, &batchID, &rec.DOI, &rec.PMCID, &status, &mediaType,
		&rec.Path, &rec.FullTextURL, &rec.SizeBytes, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid download id %q: %w", id, err)
	}
	parsedBatchID, err := uuid.Parse(batchID)
	if err != nil {
		return nil, fmt.Errorf("invalid batch id %q: %w", batchID, err)
	}
	rec.ID = parsedID
	rec.BatchID = parsedBatchID
	rec.Status = domain.DownloadStatus(status)
	rec.ContentType = domain.ContentType(mediaType)
	return &rec, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// isUniqueViolation detects SQLite primary key and unique constraint errors
// without depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

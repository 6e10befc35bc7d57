package httpserver

import (
	"time"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
)

// Batch response types for JSON serialization.

type createBatchResponse struct {
	BatchID    string    `json:"batch_id"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Skipped    int       `json:"skipped,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StatusURL  string    `json:"status_url"`
	EventsURL  string    `json:"events_url"`
	ResultsURL string    `json:"results_url"`
}

type batchStatusResponse struct {
	BatchID     string               `json:"batch_id"`
	Status      string               `json:"status"`
	Total       int                  `json:"total"`
	Successful  int                  `json:"successful"`
	Failed      int                  `json:"failed"`
	PDFCount    int                  `json:"pdf_count"`
	Progress    *downloader.Progress `json:"progress,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Duration    string               `json:"duration,omitempty"`
}

type listBatchesResponse struct {
	Batches       []batchStatusResponse `json:"batches"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	TotalCount    int                   `json:"total_count"`
}

type batchResultsResponse struct {
	BatchID string             `json:"batch_id"`
	Status  string             `json:"status"`
	Results []downloadResponse `json:"results"`
}

type downloadResponse struct {
	DOI         string `json:"doi,omitempty"`
	PMCID       string `json:"pmcid,omitempty"`
	Success     bool   `json:"success"`
	ContentType string `json:"content_type,omitempty"`
	Path        string `json:"path,omitempty"`
	FullTextURL string `json:"full_text_url,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Error       string `json:"error,omitempty"`
}

type resolveEntry struct {
	PMID  string `json:"pmid,omitempty"`
	PMCID string `json:"pmcid,omitempty"`
	DOI   string `json:"doi,omitempty"`
}

type resolveResponse struct {
	Results    []resolveEntry `json:"results"`
	Total      int            `json:"total"`
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	Skipped    int            `json:"skipped,omitempty"`
}

// jobToStatusResponse converts an in-memory job snapshot.
func jobToStatusResponse(job Job) batchStatusResponse {
	resp := batchStatusResponse{
		BatchID:     job.ID.String(),
		Status:      string(job.Status),
		Total:       job.Total,
		Successful:  job.Progress.Successful,
		Failed:      job.Progress.Failed,
		PDFCount:    job.Progress.PDFCount,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if !job.Status.IsTerminal() && job.Progress.Total > 0 {
		progress := job.Progress
		resp.Progress = &progress
	}
	if job.CompletedAt != nil {
		resp.Duration = job.CompletedAt.Sub(job.CreatedAt).Round(time.Millisecond).String()
	}
	return resp
}

// batchToStatusResponse converts a persisted batch record.
func batchToStatusResponse(batch *domain.BatchRecord) batchStatusResponse {
	resp := batchStatusResponse{
		BatchID:     batch.ID.String(),
		Status:      string(batch.Status),
		Total:       batch.Total,
		Successful:  batch.Successful,
		Failed:      batch.Failed,
		PDFCount:    batch.PDFCount,
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}
	if batch.CompletedAt != nil {
		resp.Duration = batch.CompletedAt.Sub(batch.CreatedAt).Round(time.Millisecond).String()
	}
	return resp
}

// jobToResultsResponse converts a finished job's in-memory results.
func jobToResultsResponse(job Job) batchResultsResponse {
	results := make([]downloadResponse, len(job.Results))
	for i, res := range job.Results {
		results[i] = downloadResponse{
			DOI:         res.DOI,
			PMCID:       res.PMCID,
			Success:     res.Success,
			ContentType: res.ContentType,
			Path:        res.PDFPath,
			FullTextURL: res.FullTextURL,
			SizeBytes:   res.SizeBytes,
			Error:       res.Error,
		}
	}
	return batchResultsResponse{
		BatchID: job.ID.String(),
		Status:  string(job.Status),
		Results: results,
	}
}

// recordToDownloadResponse converts a persisted download row.
func recordToDownloadResponse(rec *domain.DownloadRecord) downloadResponse {
	return downloadResponse{
		DOI:         rec.DOI,
		PMCID:       rec.PMCID,
		Success:     rec.Status == domain.DownloadStatusCompleted,
		ContentType: string(rec.ContentType),
		Path:        rec.Path,
		FullTextURL: rec.FullTextURL,
		SizeBytes:   rec.SizeBytes,
		Error:       rec.Error,
	}
}

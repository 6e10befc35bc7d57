// Package domain provides domain models and business logic for the paper
// retrieval service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DownloadStatus represents the lifecycle states of a single download task.
// These values must match the CHECK constraint on downloads.status.
type DownloadStatus string

const (
	DownloadStatusPending    DownloadStatus = "pending"
	DownloadStatusInProgress DownloadStatus = "in_progress"
	DownloadStatusCompleted  DownloadStatus = "completed"
	DownloadStatusFailed     DownloadStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case DownloadStatusCompleted, DownloadStatusFailed:
		return true
	default:
		return false
	}
}

// BatchStatus represents the state of a download batch as a whole.
// These values must match the CHECK constraint on batches.status.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	default:
		return false
	}
}

// ContentType represents the kind of full text a download produced.
type ContentType string

const (
	ContentTypePDF  ContentType = "pdf"
	ContentTypeHTML ContentType = "html"
)

// SourceType represents the external API that provided paper data.
type SourceType string

const (
	SourceTypePubMed    SourceType = "pubmed"
	SourceTypeEuropePMC SourceType = "europepmc"
	SourceTypeCrossRef  SourceType = "crossref"
)

// DownloadResult is the outcome of a single paper download attempt.
// Exactly one of Path or FullTextURL is set when Success is true; Error is
// set when Success is false.
type DownloadResult struct {
	DOI         string      `json:"doi"`
	PMCID       string      `json:"pmcid"`
	Success     bool        `json:"success"`
	ContentType ContentType `json:"content_type,omitempty"`
	Path        string      `json:"path,omitempty"`
	FullTextURL string      `json:"full_text_url,omitempty"`
	SizeBytes   int64       `json:"size_bytes,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Key returns the identifier used to correlate a result with the task that
// produced it: the DOI when present, otherwise the PMCID.
func (r DownloadResult) Key() string {
	if r.DOI != "" {
		return r.DOI
	}
	return r.PMCID
}

// DownloadStats summarizes a completed batch.
type DownloadStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	PDFCount   int `json:"pdf_count"`
}

// DownloadRecord is a single download attempt stored in the downloads table.
type DownloadRecord struct {
	ID          uuid.UUID
	BatchID     uuid.UUID
	DOI         string
	PMCID       string
	Status      DownloadStatus
	ContentType ContentType
	Path        string
	FullTextURL string
	SizeBytes   int64
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BatchRecord is a download batch stored in the batches table.
type BatchRecord struct {
	ID          uuid.UUID
	Status      BatchStatus
	Total       int
	Successful  int
	Failed      int
	PDFCount    int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

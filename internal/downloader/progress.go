package downloader

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Progress is a point-in-time snapshot of a running batch.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	PDFCount   int     `json:"pdf_count"`
	Percent    float64 `json:"percent"`
}

// ProgressAggregator tracks completion counters for a batch. All counters
// move under a single mutex so a snapshot is always internally consistent.
type ProgressAggregator struct {
	// OnUpdate, when set, receives a snapshot after every recorded
	// outcome. It is invoked under the aggregator's lock to keep
	// deliveries ordered, so it must be fast and must not call back in.
	OnUpdate func(Progress)

	mu         sync.Mutex
	logger     zerolog.Logger
	total      int
	completed  int
	successful int
	failed     int
	pdfCount   int
}

// NewProgressAggregator creates an aggregator for a batch of total tasks.
func NewProgressAggregator(total int, logger zerolog.Logger) *ProgressAggregator {
	return &ProgressAggregator{total: total, logger: logger}
}

// RecordSuccess marks one task as successfully completed. pdfDownloaded
// distinguishes a saved PDF from an HTML full-text fallback.
func (p *ProgressAggregator) RecordSuccess(pdfDownloaded bool) {
	p.record(true, pdfDownloaded)
}

// RecordFailure marks one task as failed.
func (p *ProgressAggregator) RecordFailure() {
	p.record(false, false)
}

func (p *ProgressAggregator) record(success, pdfDownloaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	if success {
		p.successful++
		if pdfDownloaded {
			p.pdfCount++
		}
	} else {
		p.failed++
	}

	snapshot := p.snapshotLocked()
	p.logger.Info().
		Int("completed", snapshot.Completed).
		Int("total", snapshot.Total).
		Float64("percent", snapshot.Percent).
		Int("successful", snapshot.Successful).
		Int("pdf", snapshot.PDFCount).
		Int("failed", snapshot.Failed).
		Msg("download progress")

	if p.OnUpdate != nil {
		p.OnUpdate(snapshot)
	}
}

// Snapshot returns the current counters.
func (p *ProgressAggregator) Snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *ProgressAggregator) snapshotLocked() Progress {
	percent := 0.0
	if p.total > 0 {
		percent = math.Round(float64(p.completed)/float64(p.total)*1000) / 10
	}
	return Progress{
		Total:      p.total,
		Completed:  p.completed,
		Successful: p.successful,
		Failed:     p.failed,
		PDFCount:   p.pdfCount,
		Percent:    percent,
	}
}

package httpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
	"github.com/helixir/paperfetch/internal/observability"
	"github.com/helixir/paperfetch/internal/repository"
)

// BatchResolver turns classified identifiers into paper records carrying
// PMCIDs.
type BatchResolver interface {
	ResolveClassified(ctx context.Context, ids domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error)
}

// BatchDownloader downloads a batch of papers and returns one result per
// input paper.
type BatchDownloader interface {
	DownloadBatch(ctx context.Context, papers []domain.PaperRecord) []downloader.Result
}

// DownloaderFactory builds a downloader whose progress snapshots are
// delivered to onProgress. Each batch gets its own downloader so progress
// streams stay per-batch.
type DownloaderFactory func(onProgress func(downloader.Progress)) BatchDownloader

// JobEvent is one update on a batch's event stream.
type JobEvent struct {
	Type      string                `json:"event_type"`
	BatchID   string                `json:"batch_id"`
	Status    string                `json:"status"`
	Progress  *downloader.Progress  `json:"progress,omitempty"`
	Stats     *domain.DownloadStats `json:"stats,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Job is the in-memory state of one batch download.
type Job struct {
	ID          uuid.UUID
	Status      domain.BatchStatus
	Total       int
	Progress    downloader.Progress
	Results     []downloader.Result
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// JobManagerConfig holds JobManager dependencies. Manifest may be nil, in
// which case batches are not persisted.
type JobManagerConfig struct {
	Resolver    BatchResolver
	Downloaders DownloaderFactory
	Manifest    repository.ManifestRepository
	Logger      zerolog.Logger
	Metrics     *observability.Metrics

	// JobTimeout bounds a single batch end to end. Zero means
	// DefaultJobTimeout.
	JobTimeout time.Duration
}

// DefaultJobTimeout bounds a single batch end to end.
const DefaultJobTimeout = 2 * time.Hour

// jobEventBuffer is the per-subscriber channel depth. Slow subscribers
// lose intermediate progress events rather than blocking the batch.
const jobEventBuffer = 64

// JobManager runs batch downloads asynchronously and fans progress events
// out to subscribers.
type JobManager struct {
	config JobManagerConfig
	logger zerolog.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobState
}

type jobState struct {
	job         Job
	subscribers map[chan JobEvent]struct{}
}

// NewJobManager creates a job manager.
func NewJobManager(cfg JobManagerConfig) *JobManager {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &JobManager{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "job-manager").Logger(),
		jobs:   make(map[uuid.UUID]*jobState),
	}
}

// StartBatch registers a new batch and runs it in the background. The
// returned job snapshot describes the freshly created batch.
func (m *JobManager) StartBatch(ctx context.Context, ids domain.ClassifiedIdentifiers) (Job, error) {
	if ids.Total() == 0 {
		return Job{}, domain.NewValidationError("identifiers", "no resolvable identifiers in request")
	}

	job := Job{
		ID:        uuid.New(),
		Status:    domain.BatchStatusPending,
		Total:     ids.Total(),
		CreatedAt: time.Now().UTC(),
	}

	if m.config.Manifest != nil {
		record := &domain.BatchRecord{
			ID:        job.ID,
			Status:    job.Status,
			Total:     job.Total,
			CreatedAt: job.CreatedAt,
		}
		if err := m.config.Manifest.CreateBatch(ctx, record); err != nil {
			return Job{}, fmt.Errorf("persisting batch: %w", err)
		}
	}

	m.mu.Lock()
	m.jobs[job.ID] = &jobState{
		job:         job,
		subscribers: make(map[chan JobEvent]struct{}),
	}
	m.mu.Unlock()

	if m.config.Metrics != nil {
		m.config.Metrics.RecordBatchStarted(job.Total)
	}

	go m.run(job.ID, ids)

	return job, nil
}

// Get returns a snapshot of a job. The second return is false when the
// manager does not know the batch.
func (m *JobManager) Get(id uuid.UUID) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return state.job, true
}

// Subscribe attaches an event channel to a job. The caller must drain the
// channel and call Unsubscribe when done. Returns false when the batch is
// unknown.
func (m *JobManager) Subscribe(id uuid.UUID) (<-chan JobEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	ch := make(chan JobEvent, jobEventBuffer)
	state.subscribers[ch] = struct{}{}
	return ch, true
}

// Unsubscribe detaches a channel previously returned by Subscribe.
func (m *JobManager) Unsubscribe(id uuid.UUID, ch <-chan JobEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return
	}
	for sub := range state.subscribers {
		if sub == ch {
			delete(state.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (m *JobManager) run(id uuid.UUID, ids domain.ClassifiedIdentifiers) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.JobTimeout)
	defer cancel()

	started := time.Now()
	m.setStatus(id, domain.BatchStatusRunning)
	m.publish(id, JobEvent{Type: "batch_started", Status: string(domain.BatchStatusRunning)})

	papers, err := m.config.Resolver.ResolveClassified(ctx, ids)
	if err != nil {
		m.finish(id, domain.BatchStatusFailed, nil, domain.DownloadStats{Total: ids.Total(), Failed: ids.Total()},
			fmt.Sprintf("resolution failed: %v", err))
		if m.config.Metrics != nil {
			m.config.Metrics.RecordBatchFailed(time.Since(started).Seconds())
		}
		return
	}

	dl := m.config.Downloaders(func(p downloader.Progress) {
		m.updateProgress(id, p)
	})

	results := dl.DownloadBatch(ctx, papers)

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

	status := domain.BatchStatusCompleted
	switch {
	case stats.Total == 0 || stats.Successful == 0:
		status = domain.BatchStatusFailed
	case stats.Failed > 0:
		status = domain.BatchStatusPartial
	}

	m.persistResults(ctx, id, results, status, stats)
	m.finish(id, status, results, stats, "")

	if m.config.Metrics != nil {
		if status == domain.BatchStatusFailed {
			m.config.Metrics.RecordBatchFailed(time.Since(started).Seconds())
		} else {
			m.config.Metrics.RecordBatchCompleted(time.Since(started).Seconds())
		}
	}

	m.logger.Info().
		Str("batch_id", id.String()).
		Str("status", string(status)).
		Int("successful", stats.Successful).
		Int("failed", stats.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("batch finished")
}

// persistResults records per-download rows and the final batch state.
// Persistence failures are logged, not fatal: the job result already lives
// in memory and on disk.
func (m *JobManager) persistResults(ctx context.Context, id uuid.UUID, results []downloader.Result, status domain.BatchStatus, stats domain.DownloadStats) {
	if m.config.Manifest == nil {
		return
	}

	now := time.Now().UTC()
	for _, res := range results {
		rec := &domain.DownloadRecord{
			ID:          uuid.New(),
			BatchID:     id,
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
		if err := m.config.Manifest.RecordDownload(ctx, rec); err != nil {
			m.logger.Error().Err(err).Str("batch_id", id.String()).Msg("failed to record download")
		}
	}

	if err := m.config.Manifest.FinishBatch(ctx, id, status, stats); err != nil {
		m.logger.Error().Err(err).Str("batch_id", id.String()).Msg("failed to finish batch record")
	}
}

func (m *JobManager) setStatus(id uuid.UUID, status domain.BatchStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.jobs[id]; ok {
		state.job.Status = status
	}
}

func (m *JobManager) updateProgress(id uuid.UUID, p downloader.Progress) {
	m.mu.Lock()
	if state, ok := m.jobs[id]; ok {
		state.job.Progress = p
	}
	m.mu.Unlock()

	m.publish(id, JobEvent{
		Type:     "progress",
		Status:   string(domain.BatchStatusRunning),
		Progress: &p,
	})
}

func (m *JobManager) finish(id uuid.UUID, status domain.BatchStatus, results []downloader.Result, stats domain.DownloadStats, errMsg string) {
	now := time.Now().UTC()

	m.mu.Lock()
	state, ok := m.jobs[id]
	if ok {
		state.job.Status = status
		state.job.Results = results
		state.job.Error = errMsg
		state.job.CompletedAt = &now
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.publish(id, JobEvent{
		Type:    "batch_finished",
		Status:  string(status),
		Stats:   &stats,
		Message: errMsg,
	})
	m.closeSubscribers(id)
}

// publish delivers an event to every subscriber of a job. Full subscriber
// channels drop the event so a stalled client never blocks the batch.
func (m *JobManager) publish(id uuid.UUID, event JobEvent) {
	event.BatchID = id.String()
	event.Timestamp = time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.jobs[id]
	if !ok {
		return
	}
	for sub := range state.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

func (m *JobManager) closeSubscribers(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return
	}
	for sub := range state.subscribers {
		close(sub)
	}
	state.subscribers = make(map[chan JobEvent]struct{})
}

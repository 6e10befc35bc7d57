package httpserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
)

func newTestManager(resolver BatchResolver, dl BatchDownloader, manifest *mockManifest) *JobManager {
	if resolver == nil {
		resolver = &mockResolver{}
	}
	if dl == nil {
		dl = &mockDownloader{}
	}
	cfg := JobManagerConfig{
		Resolver:    resolver,
		Downloaders: func(func(downloader.Progress)) BatchDownloader { return dl },
		Logger:      zerolog.Nop(),
	}
	if manifest != nil {
		cfg.Manifest = manifest
	}
	return NewJobManager(cfg)
}

func waitForManagerTerminal(t *testing.T, m *JobManager, id uuid.UUID) Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if job, ok := m.Get(id); ok && job.Status.IsTerminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatal("job did not reach a terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestJobManager_StartBatch(t *testing.T) {
	t.Run("rejects empty identifier sets", func(t *testing.T) {
		m := newTestManager(nil, nil, nil)
		_, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("runs a batch to completion", func(t *testing.T) {
		m := newTestManager(nil, nil, nil)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC7096066"}})
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusPending, job.Status)
		assert.Equal(t, 1, job.Total)

		final := waitForManagerTerminal(t, m, job.ID)
		assert.Equal(t, domain.BatchStatusCompleted, final.Status)
		require.Len(t, final.Results, 1)
		assert.True(t, final.Results[0].Success)
		require.NotNil(t, final.CompletedAt)
	})

	t.Run("marks the batch failed when resolution fails", func(t *testing.T) {
		resolver := &mockResolver{
			resolveFn: func(_ context.Context, _ domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error) {
				return nil, errors.New("all rounds exhausted")
			},
		}
		m := newTestManager(resolver, nil, nil)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMIDs: []string{"31452104"}})
		require.NoError(t, err)

		final := waitForManagerTerminal(t, m, job.ID)
		assert.Equal(t, domain.BatchStatusFailed, final.Status)
		assert.Contains(t, final.Error, "resolution failed")
	})

	t.Run("mixed outcomes produce a partial batch", func(t *testing.T) {
		dl := &mockDownloader{
			downloadFn: func(_ context.Context, _ []domain.PaperRecord) []downloader.Result {
				return []downloader.Result{
					{PMCID: "PMC1", Success: true, PDFPath: "/tmp/PMC1.pdf"},
					{PMCID: "PMC2", Success: false, Error: "server status 404"},
				}
			},
		}
		m := newTestManager(nil, dl, nil)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC1", "PMC2"}})
		require.NoError(t, err)

		final := waitForManagerTerminal(t, m, job.ID)
		assert.Equal(t, domain.BatchStatusPartial, final.Status)
	})

	t.Run("all failures produce a failed batch", func(t *testing.T) {
		dl := &mockDownloader{
			downloadFn: func(_ context.Context, _ []domain.PaperRecord) []downloader.Result {
				return []downloader.Result{{PMCID: "PMC1", Success: false, Error: "No PMCID found"}}
			},
		}
		m := newTestManager(nil, dl, nil)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC1"}})
		require.NoError(t, err)

		final := waitForManagerTerminal(t, m, job.ID)
		assert.Equal(t, domain.BatchStatusFailed, final.Status)
	})
}

func TestJobManager_Persistence(t *testing.T) {
	t.Run("records downloads and finishes the batch", func(t *testing.T) {
		var mu sync.Mutex
		var recorded []*domain.DownloadRecord
		finished := make(chan domain.BatchStatus, 1)

		manifest := &mockManifest{
			recordDownloadFn: func(_ context.Context, rec *domain.DownloadRecord) error {
				mu.Lock()
				recorded = append(recorded, rec)
				mu.Unlock()
				return nil
			},
			finishBatchFn: func(_ context.Context, _ uuid.UUID, status domain.BatchStatus, stats domain.DownloadStats) error {
				finished <- status
				return nil
			},
		}
		m := newTestManager(nil, nil, manifest)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC7096066"}})
		require.NoError(t, err)
		waitForManagerTerminal(t, m, job.ID)

		select {
		case status := <-finished:
			assert.Equal(t, domain.BatchStatusCompleted, status)
		case <-time.After(time.Second):
			t.Fatal("batch was never finished in the manifest")
		}

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, recorded, 1)
		assert.Equal(t, job.ID, recorded[0].BatchID)
		assert.Equal(t, domain.DownloadStatusCompleted, recorded[0].Status)
	})

	t.Run("create failure aborts the batch", func(t *testing.T) {
		manifest := &mockManifest{
			createBatchFn: func(_ context.Context, _ *domain.BatchRecord) error {
				return errors.New("disk full")
			},
		}
		m := newTestManager(nil, nil, manifest)

		_, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC1"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "persisting batch")
	})
}

func TestJobManager_Subscribe(t *testing.T) {
	t.Run("delivers progress and terminal events", func(t *testing.T) {
		proceed := make(chan struct{})
		var onProgress func(downloader.Progress)
		dl := &mockDownloader{
			downloadFn: func(_ context.Context, papers []domain.PaperRecord) []downloader.Result {
				<-proceed
				onProgress(downloader.Progress{Total: 1, Completed: 1, Successful: 1, Percent: 100})
				return []downloader.Result{{PMCID: papers[0].PMCID, Success: true, PDFPath: "/tmp/x.pdf"}}
			},
		}
		m := NewJobManager(JobManagerConfig{
			Resolver: &mockResolver{},
			Downloaders: func(cb func(downloader.Progress)) BatchDownloader {
				onProgress = cb
				return dl
			},
			Logger: zerolog.Nop(),
		})

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC1"}})
		require.NoError(t, err)

		events, ok := m.Subscribe(job.ID)
		require.True(t, ok)
		close(proceed)

		var seen []string
		for event := range events {
			seen = append(seen, event.Type)
		}
		assert.Contains(t, seen, "progress")
		assert.Equal(t, "batch_finished", seen[len(seen)-1])
	})

	t.Run("unknown batch", func(t *testing.T) {
		m := newTestManager(nil, nil, nil)
		_, ok := m.Subscribe(uuid.New())
		assert.False(t, ok)
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		block := make(chan struct{})
		dl := &mockDownloader{
			downloadFn: func(_ context.Context, _ []domain.PaperRecord) []downloader.Result {
				<-block
				return nil
			},
		}
		m := newTestManager(nil, dl, nil)
		defer close(block)

		job, err := m.StartBatch(context.Background(), domain.ClassifiedIdentifiers{PMCIDs: []string{"PMC1"}})
		require.NoError(t, err)

		events, ok := m.Subscribe(job.ID)
		require.True(t, ok)
		m.Unsubscribe(job.ID, events)

		select {
		case _, open := <-events:
			assert.False(t, open)
		case <-time.After(time.Second):
			t.Fatal("channel was not closed")
		}
	})
}

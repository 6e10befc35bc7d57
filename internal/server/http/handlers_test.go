package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/downloader"
	"github.com/helixir/paperfetch/internal/repository"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockResolver implements BatchResolver for handler tests.
type mockResolver struct {
	resolveFn func(ctx context.Context, ids domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error)
}

func (m *mockResolver) ResolveClassified(ctx context.Context, ids domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, ids)
	}
	var papers []domain.PaperRecord
	for _, pmcid := range ids.PMCIDs {
		papers = append(papers, domain.PaperRecord{PMCID: pmcid})
	}
	for _, pmid := range ids.PMIDs {
		papers = append(papers, domain.PaperRecord{PMID: pmid, PMCID: "PMC" + pmid})
	}
	for _, doi := range ids.DOIs {
		papers = append(papers, domain.PaperRecord{DOI: doi})
	}
	return papers, nil
}

// mockDownloader implements BatchDownloader for handler tests.
type mockDownloader struct {
	downloadFn func(ctx context.Context, papers []domain.PaperRecord) []downloader.Result
}

func (m *mockDownloader) DownloadBatch(ctx context.Context, papers []domain.PaperRecord) []downloader.Result {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, papers)
	}
	results := make([]downloader.Result, len(papers))
	for i, p := range papers {
		results[i] = downloader.Result{
			DOI:     p.DOI,
			PMCID:   p.PMCID,
			Success: true,
			PDFPath: "/tmp/" + p.PMCID + ".pdf",
		}
	}
	return results
}

// mockManifest implements repository.ManifestRepository for handler tests.
type mockManifest struct {
	createBatchFn     func(ctx context.Context, batch *domain.BatchRecord) error
	getBatchFn        func(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error)
	finishBatchFn     func(ctx context.Context, id uuid.UUID, status domain.BatchStatus, stats domain.DownloadStats) error
	listBatchesFn     func(ctx context.Context, filter repository.BatchFilter) ([]*domain.BatchRecord, int, error)
	recordDownloadFn  func(ctx context.Context, rec *domain.DownloadRecord) error
	listDownloadsFn   func(ctx context.Context, batchID uuid.UUID) ([]*domain.DownloadRecord, error)
	latestCompletedFn func(ctx context.Context, pmcid string) (*domain.DownloadRecord, error)
}

func (m *mockManifest) CreateBatch(ctx context.Context, batch *domain.BatchRecord) error {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, batch)
	}
	return nil
}

func (m *mockManifest) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error) {
	if m.getBatchFn != nil {
		return m.getBatchFn(ctx, id)
	}
	return nil, domain.NewNotFoundError("batch", id.String())
}

func (m *mockManifest) FinishBatch(ctx context.Context, id uuid.UUID, status domain.BatchStatus, stats domain.DownloadStats) error {
	if m.finishBatchFn != nil {
		return m.finishBatchFn(ctx, id, status, stats)
	}
	return nil
}

func (m *mockManifest) ListBatches(ctx context.Context, filter repository.BatchFilter) ([]*domain.BatchRecord, int, error) {
	if m.listBatchesFn != nil {
		return m.listBatchesFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockManifest) RecordDownload(ctx context.Context, rec *domain.DownloadRecord) error {
	if m.recordDownloadFn != nil {
		return m.recordDownloadFn(ctx, rec)
	}
	return nil
}

func (m *mockManifest) ListDownloads(ctx context.Context, batchID uuid.UUID) ([]*domain.DownloadRecord, error) {
	if m.listDownloadsFn != nil {
		return m.listDownloadsFn(ctx, batchID)
	}
	return nil, nil
}

func (m *mockManifest) LatestCompleted(ctx context.Context, pmcid string) (*domain.DownloadRecord, error) {
	if m.latestCompletedFn != nil {
		return m.latestCompletedFn(ctx, pmcid)
	}
	return nil, domain.NewNotFoundError("download", pmcid)
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestServer creates a Server with mocked dependencies and an in-process
// job manager.
func newTestServer(resolver BatchResolver, dl BatchDownloader, manifest repository.ManifestRepository) *Server {
	if resolver == nil {
		resolver = &mockResolver{}
	}
	if dl == nil {
		dl = &mockDownloader{}
	}
	jobs := NewJobManager(JobManagerConfig{
		Resolver:    resolver,
		Downloaders: func(func(downloader.Progress)) BatchDownloader { return dl },
		Manifest:    manifest,
		Logger:      zerolog.Nop(),
	})
	return NewServer(Config{Address: "127.0.0.1:0"}, jobs, resolver, manifest, nil, zerolog.Nop())
}

// serveHTTP dispatches a request through the server's router.
func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, r)
	return rr
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return serveHTTP(s, req)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(target))
}

// waitForTerminal polls the job manager until the batch reaches a terminal
// state.
func waitForTerminal(t *testing.T, s *Server, id uuid.UUID) Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if job, ok := s.jobs.Get(id); ok && job.Status.IsTerminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatal("batch did not reach a terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// ---------------------------------------------------------------------------
// Tests: createBatch
// ---------------------------------------------------------------------------

func TestCreateBatch(t *testing.T) {
	t.Run("accepts valid identifiers", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066","31452104","10.1038/s41586-020-2012-7"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)

		var resp createBatchResponse
		decodeJSON(t, rr, &resp)
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, 0, resp.Skipped)
		assert.NotEmpty(t, resp.BatchID)
		assert.Contains(t, resp.EventsURL, resp.BatchID)

		id, err := uuid.Parse(resp.BatchID)
		require.NoError(t, err)
		job := waitForTerminal(t, srv, id)
		assert.Equal(t, domain.BatchStatusCompleted, job.Status)
	})

	t.Run("counts skipped junk identifiers", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066","not-an-identifier"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)

		var resp createBatchResponse
		decodeJSON(t, rr, &resp)
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, 1, resp.Skipped)
	})

	t.Run("rejects empty identifier list", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":[]}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects body with only junk identifiers", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["hello","world"]}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("persists the batch when a manifest is configured", func(t *testing.T) {
		created := make(chan *domain.BatchRecord, 1)
		manifest := &mockManifest{
			createBatchFn: func(_ context.Context, batch *domain.BatchRecord) error {
				created <- batch
				return nil
			},
		}
		srv := newTestServer(nil, nil, manifest)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)

		select {
		case batch := <-created:
			assert.Equal(t, 1, batch.Total)
			assert.Equal(t, domain.BatchStatusPending, batch.Status)
		case <-time.After(time.Second):
			t.Fatal("batch was not persisted")
		}
	})
}

// ---------------------------------------------------------------------------
// Tests: getBatch and getBatchResults
// ---------------------------------------------------------------------------

func TestGetBatch(t *testing.T) {
	t.Run("returns a finished in-memory job", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
		var created createBatchResponse
		decodeJSON(t, rr, &created)
		id := uuid.MustParse(created.BatchID)
		waitForTerminal(t, srv, id)

		rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+created.BatchID, nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var status batchStatusResponse
		decodeJSON(t, rr, &status)
		assert.Equal(t, string(domain.BatchStatusCompleted), status.Status)
		assert.Equal(t, 1, status.Successful)
		assert.NotNil(t, status.CompletedAt)
	})

	t.Run("falls back to the manifest for unknown jobs", func(t *testing.T) {
		id := uuid.New()
		completedAt := time.Now().UTC()
		manifest := &mockManifest{
			getBatchFn: func(_ context.Context, got uuid.UUID) (*domain.BatchRecord, error) {
				require.Equal(t, id, got)
				return &domain.BatchRecord{
					ID: id, Status: domain.BatchStatusCompleted,
					Total: 2, Successful: 2, PDFCount: 2,
					CreatedAt: completedAt.Add(-time.Minute), CompletedAt: &completedAt,
				}, nil
			},
		}
		srv := newTestServer(nil, nil, manifest)

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+id.String(), nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var status batchStatusResponse
		decodeJSON(t, rr, &status)
		assert.Equal(t, 2, status.Successful)
		assert.NotEmpty(t, status.Duration)
	})

	t.Run("unknown batch is 404", func(t *testing.T) {
		srv := newTestServer(nil, nil, &mockManifest{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetBatchResults(t *testing.T) {
	t.Run("returns per-paper outcomes in input order", func(t *testing.T) {
		dl := &mockDownloader{
			downloadFn: func(_ context.Context, papers []domain.PaperRecord) []downloader.Result {
				return []downloader.Result{
					{PMCID: "PMC7096066", Success: true, PDFPath: "/tmp/PMC7096066.pdf", ContentType: "pdf"},
					{DOI: "10.5555/unknown1", Success: false, Error: "No PMCID found"},
				}
			},
		}
		srv := newTestServer(nil, dl, nil)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066","10.5555/unknown1"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
		var created createBatchResponse
		decodeJSON(t, rr, &created)
		id := uuid.MustParse(created.BatchID)
		job := waitForTerminal(t, srv, id)
		assert.Equal(t, domain.BatchStatusPartial, job.Status)

		rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+created.BatchID+"/results", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var results batchResultsResponse
		decodeJSON(t, rr, &results)
		require.Len(t, results.Results, 2)
		assert.True(t, results.Results[0].Success)
		assert.Equal(t, "/tmp/PMC7096066.pdf", results.Results[0].Path)
		assert.False(t, results.Results[1].Success)
		assert.Equal(t, "No PMCID found", results.Results[1].Error)
	})

	t.Run("running batch is 409", func(t *testing.T) {
		block := make(chan struct{})
		dl := &mockDownloader{
			downloadFn: func(ctx context.Context, papers []domain.PaperRecord) []downloader.Result {
				<-block
				return nil
			},
		}
		srv := newTestServer(nil, dl, nil)
		defer close(block)

		rr := postJSON(t, srv, "/api/v1/batches", `{"identifiers":["PMC7096066"]}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
		var created createBatchResponse
		decodeJSON(t, rr, &created)

		rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+created.BatchID+"/results", nil))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("finished batch from the manifest", func(t *testing.T) {
		id := uuid.New()
		manifest := &mockManifest{
			getBatchFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchRecord, error) {
				return &domain.BatchRecord{ID: id, Status: domain.BatchStatusCompleted, Total: 1}, nil
			},
			listDownloadsFn: func(_ context.Context, _ uuid.UUID) ([]*domain.DownloadRecord, error) {
				return []*domain.DownloadRecord{{
					ID: uuid.New(), BatchID: id, PMCID: "PMC7096066",
					Status: domain.DownloadStatusCompleted, Path: "/data/PMC7096066.pdf",
					ContentType: domain.ContentTypePDF,
				}}, nil
			},
		}
		srv := newTestServer(nil, nil, manifest)

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+id.String()+"/results", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var results batchResultsResponse
		decodeJSON(t, rr, &results)
		require.Len(t, results.Results, 1)
		assert.True(t, results.Results[0].Success)
		assert.Equal(t, "pdf", results.Results[0].ContentType)
	})
}

// ---------------------------------------------------------------------------
// Tests: listBatches
// ---------------------------------------------------------------------------

func TestListBatches(t *testing.T) {
	t.Run("passes filters to the repository", func(t *testing.T) {
		var gotFilter repository.BatchFilter
		manifest := &mockManifest{
			listBatchesFn: func(_ context.Context, filter repository.BatchFilter) ([]*domain.BatchRecord, int, error) {
				gotFilter = filter
				return []*domain.BatchRecord{{ID: uuid.New(), Status: domain.BatchStatusCompleted}}, 1, nil
			},
		}
		srv := newTestServer(nil, nil, manifest)

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches?status=completed&page_size=10", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		assert.Equal(t, []domain.BatchStatus{domain.BatchStatusCompleted}, gotFilter.Status)
		assert.Equal(t, 10, gotFilter.Limit)

		var resp listBatchesResponse
		decodeJSON(t, rr, &resp)
		assert.Equal(t, 1, resp.TotalCount)
		assert.Empty(t, resp.NextPageToken)
	})

	t.Run("emits a page token when more results exist", func(t *testing.T) {
		manifest := &mockManifest{
			listBatchesFn: func(_ context.Context, filter repository.BatchFilter) ([]*domain.BatchRecord, int, error) {
				return make([]*domain.BatchRecord, filter.Limit), 100, nil
			},
		}
		srv := newTestServer(nil, nil, manifest)

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches?page_size=10", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp listBatchesResponse
		decodeJSON(t, rr, &resp)
		assert.NotEmpty(t, resp.NextPageToken)
	})

	t.Run("rejects a bad created_after", func(t *testing.T) {
		srv := newTestServer(nil, nil, &mockManifest{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches?created_after=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("no manifest store is 503", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

// ---------------------------------------------------------------------------
// Tests: resolveIdentifiers
// ---------------------------------------------------------------------------

func TestResolveIdentifiers(t *testing.T) {
	t.Run("resolves synchronously", func(t *testing.T) {
		resolver := &mockResolver{
			resolveFn: func(_ context.Context, ids domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error) {
				return []domain.PaperRecord{
					{PMID: "31452104", PMCID: "PMC6821197"},
					{DOI: "10.5555/unknown1"},
				}, nil
			},
		}
		srv := newTestServer(resolver, nil, nil)

		rr := postJSON(t, srv, "/api/v1/resolve", `{"identifiers":["31452104","10.5555/unknown1"]}`)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp resolveResponse
		decodeJSON(t, rr, &resp)
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, 1, resp.Resolved)
		assert.Equal(t, 1, resp.Unresolved)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "PMC6821197", resp.Results[0].PMCID)
	})

	t.Run("maps upstream unavailability to 503", func(t *testing.T) {
		resolver := &mockResolver{
			resolveFn: func(_ context.Context, _ domain.ClassifiedIdentifiers) ([]domain.PaperRecord, error) {
				return nil, domain.ErrServiceUnavailable
			},
		}
		srv := newTestServer(resolver, nil, nil)

		rr := postJSON(t, srv, "/api/v1/resolve", `{"identifiers":["31452104"]}`)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("rejects junk-only input", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rr := postJSON(t, srv, "/api/v1/resolve", `{"identifiers":["zzz"]}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

// ---------------------------------------------------------------------------
// Tests: health endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

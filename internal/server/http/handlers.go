package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createBatchRequest is the JSON request body for starting a batch
// download.
type createBatchRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,min=1,max=500,dive,required,max=256"`
}

// resolveRequest is the JSON request body for synchronous PMCID
// resolution.
type resolveRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,min=1,max=500,dive,required,max=256"`
}

// createBatch handles POST /api/v1/batches. It classifies the submitted
// identifiers, starts the download asynchronously and returns 202 with the
// batch id.
func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ids := domain.ClassifyIdentifiers(req.Identifiers)
	if ids.Total() == 0 {
		writeError(w, http.StatusBadRequest, "no valid identifiers: expected PMIDs, PMCIDs or DOIs")
		return
	}

	job, err := s.jobs.StartBatch(r.Context(), ids)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createBatchResponse{
		BatchID:    job.ID.String(),
		Status:     string(job.Status),
		Total:      job.Total,
		Skipped:    len(req.Identifiers) - ids.Total(),
		CreatedAt:  job.CreatedAt,
		StatusURL:  "/api/v1/batches/" + job.ID.String(),
		EventsURL:  "/api/v1/batches/" + job.ID.String() + "/events",
		ResultsURL: "/api/v1/batches/" + job.ID.String() + "/results",
	})
}

// getBatch handles GET /api/v1/batches/{batchID}. Running batches are
// answered from memory, finished ones fall back to the manifest.
func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	if job, ok := s.jobs.Get(batchID); ok {
		writeJSON(w, http.StatusOK, jobToStatusResponse(job))
		return
	}

	if s.manifest == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	batch, err := s.manifest.GetBatch(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchToStatusResponse(batch))
}

// listBatches handles GET /api/v1/batches with optional status and
// created_after filters.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil {
		writeError(w, http.StatusServiceUnavailable, "batch history is not available without a manifest store")
		return
	}

	limit, offset := parsePaginationParams(r)
	filter := repository.BatchFilter{Limit: limit, Offset: offset}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.BatchStatus{domain.BatchStatus(statusParam)}
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}

	batches, totalCount, err := s.manifest.ListBatches(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]batchStatusResponse, len(batches))
	for i, b := range batches {
		summaries[i] = batchToStatusResponse(b)
	}

	writeJSON(w, http.StatusOK, listBatchesResponse{
		Batches:       summaries,
		NextPageToken: encodePageToken(offset, limit, totalCount),
		TotalCount:    totalCount,
	})
}

// getBatchResults handles GET /api/v1/batches/{batchID}/results. Results
// are available once the batch reaches a terminal state.
func (s *Server) getBatchResults(w http.ResponseWriter, r *http.Request) {
	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	if job, ok := s.jobs.Get(batchID); ok {
		if !job.Status.IsTerminal() {
			writeError(w, http.StatusConflict, "batch is still running")
			return
		}
		writeJSON(w, http.StatusOK, jobToResultsResponse(job))
		return
	}

	if s.manifest == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	batch, err := s.manifest.GetBatch(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !batch.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "batch is still running")
		return
	}

	downloads, err := s.manifest.ListDownloads(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	results := make([]downloadResponse, len(downloads))
	for i, d := range downloads {
		results[i] = recordToDownloadResponse(d)
	}
	writeJSON(w, http.StatusOK, batchResultsResponse{
		BatchID: batchID.String(),
		Status:  string(batch.Status),
		Results: results,
	})
}

// resolveIdentifiers handles POST /api/v1/resolve: synchronous
// identifier-to-PMCID resolution without downloading anything.
func (s *Server) resolveIdentifiers(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ids := domain.ClassifyIdentifiers(req.Identifiers)
	if ids.Total() == 0 {
		writeError(w, http.StatusBadRequest, "no valid identifiers: expected PMIDs, PMCIDs or DOIs")
		return
	}

	papers, err := s.resolver.ResolveClassified(r.Context(), ids)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries := make([]resolveEntry, len(papers))
	resolved := 0
	for i, p := range papers {
		entries[i] = resolveEntry{
			PMID:  p.PMID,
			PMCID: p.PMCID,
			DOI:   p.DOI,
		}
		if p.PMCID != "" {
			resolved++
		}
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		Results:    entries,
		Total:      len(entries),
		Resolved:   resolved,
		Unresolved: len(entries) - resolved,
		Skipped:    len(req.Identifiers) - ids.Total(),
	})
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and returns false on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// validationMessage renders one validator error as a client-facing
// message.
func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// writeDomainError maps domain errors to HTTP status codes. Internal error
// details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited by upstream source")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream source unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query
// parameters, bounding the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token, or an
// empty string when there are no more results.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}

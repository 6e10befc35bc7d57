package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paperfetch/internal/domain"
)

const (
	// sseHeartbeatInterval is how often a comment ping keeps the
	// connection alive through idle proxies.
	sseHeartbeatInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// streamBatchEvents handles GET /api/v1/batches/{batchID}/events (SSE).
// The stream delivers progress snapshots while the batch runs and closes
// after the terminal event.
func (s *Server) streamBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	job, known := s.jobs.Get(batchID)
	if !known {
		// Finished in an earlier process; answer from the manifest.
		if s.manifest == nil {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		batch, err := s.manifest.GetBatch(r.Context(), batchID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		flusher, ok := setupSSE(w)
		if !ok {
			return
		}
		sendSSEEvent(w, flusher, JobEvent{
			Type:      "batch_finished",
			BatchID:   batchID.String(),
			Status:    string(batch.Status),
			Message:   "batch already finished",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	if job.Status.IsTerminal() {
		flusher, ok := setupSSE(w)
		if !ok {
			return
		}
		sendSSEEvent(w, flusher, JobEvent{
			Type:      "batch_finished",
			BatchID:   batchID.String(),
			Status:    string(job.Status),
			Message:   "batch already finished",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	events, subscribed := s.jobs.Subscribe(batchID)
	if !subscribed {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	defer s.jobs.Unsubscribe(batchID, events)

	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	// The batch may have finished between Get and Subscribe; re-check so
	// the stream cannot hang waiting on a closed-out job.
	if current, ok := s.jobs.Get(batchID); ok && current.Status.IsTerminal() {
		sendSSEEvent(w, flusher, JobEvent{
			Type:      "batch_finished",
			BatchID:   batchID.String(),
			Status:    string(current.Status),
			Message:   "batch already finished",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	// Initial snapshot so clients see state before the first update.
	sendSSEEvent(w, flusher, JobEvent{
		Type:      "stream_started",
		BatchID:   batchID.String(),
		Status:    string(job.Status),
		Progress:  &job.Progress,
		Timestamp: time.Now().UTC(),
	})

	deadline := time.NewTimer(sseMaxDuration)
	defer deadline.Stop()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadline.C:
			sendSSEEvent(w, flusher, JobEvent{
				Type:      "timeout",
				BatchID:   batchID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now().UTC(),
			})
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case event, open := <-events:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, event)
			if event.Type == "batch_finished" || domain.BatchStatus(event.Status).IsTerminal() {
				return
			}
		}
	}
}

// setupSSE installs SSE headers and returns the flusher. Writes an error
// response when streaming is not supported.
func setupSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event JobEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}

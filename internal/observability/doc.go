// Package observability provides logging and metrics support for the paper
// retrieval service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for batches, downloads, resolutions and caches
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stderr",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("batch_id", batchID).Msg("batch started")
//
// Add batch context to a logger:
//
//	logger = observability.WithBatchContext(logger, batchID, total)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("paperfetch")
//
// Record metrics:
//
//	metrics.RecordBatchStarted(len(papers))
//	metrics.RecordDownloadCompleted("pdf", 1.2, 1<<20)
//	metrics.RecordCacheHit("doi")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithBatchID(ctx, batchID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	batchID := observability.BatchIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - batch_id: Download batch identifier
//   - query: Search query string
//   - source: External API (pubmed, europepmc, crossref)
//   - pmcid: PubMed Central identifier
//   - doi: Digital Object Identifier
//   - request_id: HTTP request identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability

package handler

import (
	"io"
	"net/http"

	"order-splitter/internal/model"
	"order-splitter/internal/pipeline"
)

// handleWebhook receives a ShipStation webhook and runs the ingest phase.
// POST /webhooks/shipstation
//
// ShipStation retries on non-2xx, so every outcome that a retry cannot change
// answers 200. That includes a failed batch fetch: the failure is recorded on
// the batch record and a redelivery would only report already_processed.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		h.writeError(w, model.NewValidationError("body", "unreadable or too large"))
		return
	}

	result, err := h.ingester.HandleBody(r.Context(), body)

	if hdr, ferr := FormatIngestResult(result); ferr == nil && result.Status != "" {
		w.Header().Set(IngestResultHeader, hdr)
	}

	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, result)

	case result.Status == pipeline.StatusStoreUnknown:
		h.writeJSON(w, http.StatusOK, result)

	default:
		h.writeError(w, err)
	}
}

// Package handler provides the HTTP surface of the order splitter: the
// ShipStation webhook route, health checks and the MCP ops endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"order-splitter/internal/adapter"
	"order-splitter/internal/model"
	"order-splitter/internal/pipeline"
	"order-splitter/internal/store"
)

// Ingester is the synchronous phase of the pipeline.
type Ingester interface {
	HandleBody(ctx context.Context, body []byte) (pipeline.IngestResult, error)
}

// StoreDirectory resolves configured stores.
type StoreDirectory interface {
	Get(storeID string) (model.StoreConfig, error)
	IDs() []string
}

// Pinger is implemented by record stores backed by a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueInspector is implemented by schedulers backed by a shared queue.
type QueueInspector interface {
	Depth(ctx context.Context) (pending, processing int64, err error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ingester Ingester
	stores   StoreDirectory
	records  store.RecordStore
	client   adapter.OrderClient
	queue    QueueInspector
	logger   *slog.Logger
}

// New creates a Handler.
func New(ingester Ingester, stores StoreDirectory, records store.RecordStore, client adapter.OrderClient, logger *slog.Logger) *Handler {
	return &Handler{
		ingester: ingester,
		stores:   stores,
		records:  records,
		client:   client,
		logger:   logger,
	}
}

// WithQueue adds the queue's depth to health responses.
func (h *Handler) WithQueue(q QueueInspector) *Handler {
	h.queue = q
	return h
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/shipstation", h.handleWebhook)

	// Operator tools over MCP
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth reports liveness, record store reachability when the store is
// backed by a database, and queue depth when the queue is shared.
// GET /health, GET /healthz
//
// An unreachable record store answers 503. An unreachable queue only marks the
// response degraded: pushes fall back to the local pool, so ingest still works.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Stores: len(h.stores.IDs())}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.queue != nil {
		pending, processing, err := h.queue.Depth(ctx)
		if err != nil {
			h.logger.Warn("queue unreachable", slog.String("error", err.Error()))
			resp.Status = "degraded"
		} else {
			resp.Queue = &queueDepth{Pending: pending, Processing: processing}
		}
	}

	if p, ok := h.records.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("record store unreachable", slog.String("error", err.Error()))
			resp.Status = "degraded"
			h.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status string      `json:"status"`
	Stores int         `json:"stores"`
	Queue  *queueDepth `json:"queue,omitempty"`
}

type queueDepth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError answers with err's APIError, or a generic 500 that keeps the
// cause in the log only.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := model.AsAPIError(err)
	if apiErr.Code == model.CodeInternal {
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{Code: apiErr.Code, Message: apiErr.Message},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits webhook bodies to 1MB.
const MaxRequestBodySize = 1 << 20

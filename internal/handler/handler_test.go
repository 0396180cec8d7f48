package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"order-splitter/internal/adapter"
	"order-splitter/internal/config"
	"order-splitter/internal/model"
	"order-splitter/internal/pipeline"
	"order-splitter/internal/queue"
	"order-splitter/internal/store"
)

const testResourceURL = "https://ssapi.shipstation.com/orders?storeID=123&importBatch=b-1"

type ingesterFunc func(ctx context.Context, body []byte) (pipeline.IngestResult, error)

func (f ingesterFunc) HandleBody(ctx context.Context, body []byte) (pipeline.IngestResult, error) {
	return f(ctx, body)
}

type env struct {
	handler  *Handler
	mux      *http.ServeMux
	registry *config.Registry
	records  *store.MemoryStore
	client   *adapter.Mock
}

// newEnv wires a real ingestor with a mock platform client. Batches are not
// reconciled: the scheduler discards them.
func newEnv(t *testing.T, ingester Ingester) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := config.NewRegistry([]model.StoreConfig{{
		StoreID:           "123",
		APIKey:            "key",
		APISecret:         "secret",
		SKUPatterns:       []string{"DOD", "XYZ"},
		NotificationEmail: "ops@example.com",
		StoreName:         "Acme",
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	e := &env{registry: registry, records: store.NewMemoryStore(), client: &adapter.Mock{}}
	if ingester == nil {
		discard := queue.Sync{Processor: queue.ProcessorFunc(func(context.Context, string) error { return nil })}
		ingester = pipeline.NewIngestor(registry, e.client, e.records, discard, logger)
	}
	e.handler = New(ingester, registry, e.records, e.client, logger)
	e.mux = http.NewServeMux()
	e.handler.RegisterRoutes(e.mux)
	return e
}

func postWebhook(mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/shipstation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func webhookBody(resourceType string) string {
	return `{"resource_url":"` + testResourceURL + `","resource_type":"` + resourceType + `"}`
}

func TestHandleHealth(t *testing.T) {
	e := newEnv(t, nil)

	for _, path := range []string{"/health", "/healthz"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		e.mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s Status = %d, want %d", path, w.Code, http.StatusOK)
		}

		var resp healthResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Status != "ok" {
			t.Errorf("%s status = %s, want ok", path, resp.Status)
		}
		if resp.Stores != 1 {
			t.Errorf("%s stores = %d, want 1", path, resp.Stores)
		}
		if resp.Queue != nil {
			t.Errorf("%s queue = %+v, want none without a shared queue", path, resp.Queue)
		}
	}
}

type pingingStore struct {
	*store.MemoryStore
	err error
}

func (p pingingStore) Ping(context.Context) error { return p.err }

func TestHandleHealth_RecordStoreDown(t *testing.T) {
	e := newEnv(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(nil, e.registry, pingingStore{MemoryStore: e.records, err: errors.New("dial tcp: refused")}, e.client, logger)

	w := httptest.NewRecorder()
	h.handleHealth(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

type queueDepthFunc func(ctx context.Context) (int64, int64, error)

func (f queueDepthFunc) Depth(ctx context.Context) (int64, int64, error) { return f(ctx) }

func TestHandleHealth_QueueDepth(t *testing.T) {
	tests := []struct {
		name       string
		depth      queueDepthFunc
		wantCode   int
		wantStatus string
		wantQueue  *queueDepth
	}{
		{
			"reachable",
			func(context.Context) (int64, int64, error) { return 3, 1, nil },
			http.StatusOK, "ok", &queueDepth{Pending: 3, Processing: 1},
		},
		{
			"unreachable",
			func(context.Context) (int64, int64, error) { return 0, 0, errors.New("dial tcp: refused") },
			http.StatusOK, "degraded", nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.handler.WithQueue(tt.depth)

			w := httptest.NewRecorder()
			e.mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

			if w.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp healthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantStatus)
			}
			switch {
			case tt.wantQueue == nil && resp.Queue != nil:
				t.Errorf("queue = %+v, want none", resp.Queue)
			case tt.wantQueue != nil && (resp.Queue == nil || *resp.Queue != *tt.wantQueue):
				t.Errorf("queue = %+v, want %+v", resp.Queue, tt.wantQueue)
			}
		})
	}
}

func TestHandleWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		fetchErr   error
		wantCode   int
		wantStatus pipeline.IngestStatus
		wantFetch  int
	}{
		{"order notify", webhookBody("ORDER_NOTIFY"), nil, http.StatusOK, pipeline.StatusCreated, 1},
		{"ship notify ignored", webhookBody("SHIP_NOTIFY"), nil, http.StatusOK, pipeline.StatusIgnored, 0},
		{"missing resource url", `{"resource_type":"ORDER_NOTIFY"}`, nil, http.StatusOK, pipeline.StatusInvalid, 0},
		{
			"unknown store",
			`{"resource_url":"https://ssapi.shipstation.com/orders?storeID=999&importBatch=b-1","resource_type":"ORDER_NOTIFY"}`,
			nil, http.StatusOK, pipeline.StatusStoreUnknown, 0,
		},
		{
			"fetch failed",
			webhookBody("ORDER_NOTIFY"),
			model.NewUpstreamError("ShipStation", errors.New("connection refused")),
			http.StatusOK, pipeline.StatusFetchFailed, 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			if tt.fetchErr != nil {
				e.client.FetchBatchFunc = func(context.Context, string, model.StoreConfig) (string, error) {
					return "", tt.fetchErr
				}
			}

			w := postWebhook(e.mux, tt.body)

			if w.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d\nBody: %s", w.Code, tt.wantCode, w.Body.String())
			}

			var resp pipeline.IngestResult
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}

			hdr, err := ParseIngestResult(w.Header().Get(IngestResultHeader))
			if err != nil {
				t.Fatalf("ParseIngestResult() error = %v", err)
			}
			if hdr.Status != tt.wantStatus {
				t.Errorf("header status = %q, want %q", hdr.Status, tt.wantStatus)
			}
			if hdr.BatchRecordID != resp.BatchRecordID {
				t.Errorf("header record = %q, want %q", hdr.BatchRecordID, resp.BatchRecordID)
			}

			if got := len(e.client.Fetches()); got != tt.wantFetch {
				t.Errorf("fetches = %d, want %d", got, tt.wantFetch)
			}

			if tt.fetchErr != nil {
				rec, err := e.records.GetBatch(context.Background(), resp.BatchRecordID)
				if err != nil {
					t.Fatalf("GetBatch() error = %v", err)
				}
				if !strings.Contains(rec.RawBatchResponse, "connection refused") {
					t.Errorf("RawBatchResponse = %q, want the fetch error", rec.RawBatchResponse)
				}
			}
		})
	}
}

func TestHandleWebhook_Redelivery(t *testing.T) {
	e := newEnv(t, nil)

	first := postWebhook(e.mux, webhookBody("ORDER_NOTIFY"))
	second := postWebhook(e.mux, webhookBody("ORDER_NOTIFY"))

	var a, b pipeline.IngestResult
	json.NewDecoder(first.Body).Decode(&a)
	json.NewDecoder(second.Body).Decode(&b)

	if a.Status != pipeline.StatusCreated {
		t.Errorf("first status = %q, want created", a.Status)
	}
	if b.Status != pipeline.StatusAlreadyProcessed {
		t.Errorf("second status = %q, want already_processed", b.Status)
	}
	if a.BatchRecordID == "" || a.BatchRecordID != b.BatchRecordID {
		t.Errorf("record IDs = %q, %q; want equal and non-empty", a.BatchRecordID, b.BatchRecordID)
	}
	if second.Code != http.StatusOK {
		t.Errorf("second Status = %d, want 200", second.Code)
	}
	if got := len(e.client.Fetches()); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestHandleWebhook_MalformedJSON(t *testing.T) {
	e := newEnv(t, nil)

	w := postWebhook(e.mux, `{"resource_url":`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp errorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", resp.Error.Code)
	}
}

func TestHandleWebhook_StoreFailure(t *testing.T) {
	e := newEnv(t, ingesterFunc(func(context.Context, []byte) (pipeline.IngestResult, error) {
		return pipeline.IngestResult{}, errors.New("database is locked")
	}))

	w := postWebhook(e.mux, webhookBody("ORDER_NOTIFY"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "database is locked") {
		t.Error("internal error details leaked to the caller")
	}
	if h := w.Header().Get(IngestResultHeader); h != "" {
		t.Errorf("%s = %q, want empty", IngestResultHeader, h)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	called := false
	e := newEnv(t, ingesterFunc(func(context.Context, []byte) (pipeline.IngestResult, error) {
		called = true
		return pipeline.IngestResult{Status: pipeline.StatusIgnored}, nil
	}))

	w := postWebhook(e.mux, `{"pad":"`+strings.Repeat("x", MaxRequestBodySize)+`"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("ingester called for an oversized body")
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest("GET", "/webhooks/shipstation", nil)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestIngestResultHeader(t *testing.T) {
	tests := []struct {
		name string
		in   pipeline.IngestResult
		want string
	}{
		{"created", pipeline.IngestResult{Status: pipeline.StatusCreated, BatchRecordID: "rec-1"}, `status=created, record="rec-1"`},
		{"ignored", pipeline.IngestResult{Status: pipeline.StatusIgnored}, `status=ignored`},
		{"already processed", pipeline.IngestResult{Status: pipeline.StatusAlreadyProcessed, BatchRecordID: "rec-2"}, `status=already_processed, record="rec-2"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatIngestResult(tt.in)
			if err != nil {
				t.Fatalf("FormatIngestResult() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatIngestResult() = %q, want %q", got, tt.want)
			}

			back, err := ParseIngestResult(got)
			if err != nil {
				t.Fatalf("ParseIngestResult() error = %v", err)
			}
			if back.Status != tt.in.Status || back.BatchRecordID != tt.in.BatchRecordID {
				t.Errorf("ParseIngestResult() = %+v, want %+v", back, tt.in)
			}
		})
	}
}

func TestParseIngestResultErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"malformed", `status=`},
		{"missing status", `record="rec-1"`},
		{"status not a token", `status="created"`},
		{"record not a string", `status=created, record=42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseIngestResult(tt.header); err == nil {
				t.Errorf("ParseIngestResult(%q) error = nil, want error", tt.header)
			}
		})
	}
}

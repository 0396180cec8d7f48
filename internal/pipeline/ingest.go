// Package pipeline wires the two phases of webhook processing.
//
// The Ingestor runs on the request path: it validates the notification,
// claims the batch, fetches it and hands the persisted record to a scheduler.
// The Reconciler runs later on a worker: it expands the batch into orders,
// claims each order, and applies the split decision on the platform.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"order-splitter/internal/adapter"
	"order-splitter/internal/model"
	"order-splitter/internal/queue"
	"order-splitter/internal/store"
)

// StoreLookup resolves a store ID to its configuration.
// Returns a model.ErrConfigNotFound error for unknown stores.
type StoreLookup interface {
	Get(storeID string) (model.StoreConfig, error)
}

// IngestStatus summarizes what the ingestor did with one notification.
type IngestStatus string

const (
	// StatusIgnored: resource_type is not ORDER_NOTIFY.
	StatusIgnored IngestStatus = "ignored"
	// StatusInvalid: ORDER_NOTIFY without a usable resource_url.
	StatusInvalid          IngestStatus = "invalid"
	StatusStoreUnknown     IngestStatus = "store_unknown"
	StatusAlreadyProcessed IngestStatus = "already_processed"
	// StatusFetchFailed: the batch is claimed and holds the failed response;
	// it is never reconciled.
	StatusFetchFailed IngestStatus = "fetch_failed"
	StatusCreated     IngestStatus = "created"
)

// IngestResult is returned for every notification, including rejected ones.
type IngestResult struct {
	Status        IngestStatus `json:"status"`
	BatchRecordID string       `json:"batch_record_id,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// Ingestor is the synchronous phase.
type Ingestor struct {
	stores  StoreLookup
	client  adapter.OrderClient
	records store.RecordStore
	sched   queue.Scheduler
	logger  *slog.Logger
}

// NewIngestor creates an ingestor that hands created batches to sched.
func NewIngestor(stores StoreLookup, client adapter.OrderClient, records store.RecordStore, sched queue.Scheduler, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		stores:  stores,
		client:  client,
		records: records,
		sched:   sched,
		logger:  logger,
	}
}

// HandleBody decodes a raw webhook body and handles it. The body is persisted
// verbatim as the batch record's raw notification.
func (in *Ingestor) HandleBody(ctx context.Context, body []byte) (IngestResult, error) {
	var n model.WebhookNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return IngestResult{Status: StatusInvalid, Reason: "malformed JSON"},
			model.NewValidationError("body", "malformed JSON")
	}
	return in.handle(ctx, n, string(body))
}

// Handle processes one notification. Rejected notifications return a result
// with a nil error: they are expected traffic, not faults. A failed fetch is
// recorded on the batch record and also returns a nil error. Errors are
// returned only for an unknown store or a record store failure.
func (in *Ingestor) Handle(ctx context.Context, n model.WebhookNotification) (IngestResult, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return IngestResult{}, fmt.Errorf("encoding notification: %w", err)
	}
	return in.handle(ctx, n, string(raw))
}

func (in *Ingestor) handle(ctx context.Context, n model.WebhookNotification, raw string) (IngestResult, error) {
	if n.ResourceType != model.ResourceOrderNotify {
		in.logger.DebugContext(ctx, "ignoring notification",
			slog.String("resource_type", string(n.ResourceType)))
		return IngestResult{Status: StatusIgnored}, nil
	}

	ref, err := n.BatchReference()
	if err != nil {
		reason := err.Error()
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			reason = apiErr.Message
		}
		in.logger.WarnContext(ctx, "rejecting notification", slog.String("reason", reason))
		return IngestResult{Status: StatusInvalid, Reason: reason}, nil
	}

	log := in.logger.With(
		slog.String("batch_id", ref.BatchID),
		slog.String("store_id", ref.StoreID),
	)

	storeCfg, err := in.stores.Get(ref.StoreID)
	if err != nil {
		log.WarnContext(ctx, "notification for unconfigured store")
		return IngestResult{Status: StatusStoreUnknown}, err
	}

	rec, created, err := in.records.CreateBatch(ctx, model.BatchRecord{
		BatchID:         ref.BatchID,
		StoreID:         ref.StoreID,
		RawNotification: raw,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("claiming batch %s: %w", ref.BatchID, err)
	}
	if !created {
		log.InfoContext(ctx, "batch already processed", slog.String("batch_record_id", rec.ID))
		return IngestResult{Status: StatusAlreadyProcessed, BatchRecordID: rec.ID}, nil
	}

	body, err := in.client.FetchBatch(ctx, ref.ResourceURL, storeCfg)
	if err != nil {
		// The claim stays: the failed response is the batch's audit trail and
		// a redelivery must not fetch again.
		log.ErrorContext(ctx, "fetching batch failed",
			slog.String("batch_record_id", rec.ID),
			slog.String("error", err.Error()))
		if saveErr := in.records.SetBatchResponse(context.WithoutCancel(ctx), rec.ID, responseText(body, err)); saveErr != nil {
			return IngestResult{}, fmt.Errorf("saving failed fetch of batch %s: %w", ref.BatchID, saveErr)
		}
		return IngestResult{Status: StatusFetchFailed, BatchRecordID: rec.ID}, nil
	}

	if err := in.records.SetBatchResponse(ctx, rec.ID, body); err != nil {
		// Without a stored body the claim is useless, so release it and let a
		// redelivery fetch again.
		if delErr := in.records.DeleteBatch(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			log.ErrorContext(ctx, "releasing batch claim failed", slog.String("error", delErr.Error()))
		}
		return IngestResult{}, fmt.Errorf("saving batch %s: %w", ref.BatchID, err)
	}

	in.sched.Enqueue(ctx, rec.ID)

	log.InfoContext(ctx, "batch accepted", slog.String("batch_record_id", rec.ID))
	return IngestResult{Status: StatusCreated, BatchRecordID: rec.ID}, nil
}

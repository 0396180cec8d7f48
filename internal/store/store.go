// Package store persists the batch and order ledger that makes webhook
// processing idempotent and auditable.
//
// CreateBatch and CreateOrder are atomic create-if-absent operations keyed by
// the platform's batch and order identifiers. A second create for the same key
// returns the existing record with created=false; callers treat that as
// "already processed" and never run a separate existence check first.
package store

import (
	"context"

	"order-splitter/internal/model"
)

// RecordStore is the ledger used by the ingest and reconcile phases.
// Lookups return a model.ErrNotFound APIError when nothing matches.
type RecordStore interface {
	// CreateBatch inserts rec unless a record with rec.BatchID exists.
	// ID and CreatedAt are assigned when empty.
	CreateBatch(ctx context.Context, rec model.BatchRecord) (model.BatchRecord, bool, error)

	// SetBatchResponse stores the raw fetch-batch body on a claimed record.
	SetBatchResponse(ctx context.Context, id, rawBatchResponse string) error

	// DeleteBatch releases a batch claim whose response could not be saved.
	DeleteBatch(ctx context.Context, id string) error

	GetBatch(ctx context.Context, id string) (model.BatchRecord, error)
	FindBatch(ctx context.Context, batchID string) (model.BatchRecord, error)

	// CreateOrder inserts rec unless a record with rec.OrderID exists.
	// ID, Status (pending), CreatedAt and UpdatedAt are assigned when empty.
	CreateOrder(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, bool, error)

	// CompleteOrder writes the reconciliation outcome onto an order record.
	CompleteOrder(ctx context.Context, id string, result model.OrderResult) error

	GetOrder(ctx context.Context, id string) (model.OrderRecord, error)
	FindOrder(ctx context.Context, orderID string) (model.OrderRecord, error)

	// ListOrders returns the order records created from one batch record,
	// oldest first.
	ListOrders(ctx context.Context, batchRecordID string) ([]model.OrderRecord, error)
}

func batchNotFound() error { return model.NewNotFoundError("batch record") }
func orderNotFound() error { return model.NewNotFoundError("order record") }

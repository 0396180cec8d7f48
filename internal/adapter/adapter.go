// Package adapter defines the interface for fulfillment platform integrations.
// The pipeline talks to the platform only through OrderClient.
package adapter

import (
	"context"

	"order-splitter/internal/model"
)

// OrderClient abstracts the platform calls the pipeline makes on behalf of a store.
// Each platform (ShipStation today) provides its own implementation.
//
// Every method returns the raw response body as an opaque string for the audit
// ledger. A non-success response returns its body AND an error, so callers can
// persist what the platform said while still classifying the call as failed.
// A network failure returns an empty body and the error.
type OrderClient interface {
	// FetchBatch GETs the resource URL from an ORDER_NOTIFY webhook.
	// The body is a batch document: {"orders": [...], "total": n, ...}.
	FetchBatch(ctx context.Context, resourceURL string, store model.StoreConfig) (string, error)

	// UpsertOrder POSTs the full order to the create/update endpoint.
	// The platform treats a POST carrying an existing orderId as an update.
	UpsertOrder(ctx context.Context, order model.Order, store model.StoreConfig) (string, error)

	// DeleteOrder removes an order by platform identifier.
	DeleteOrder(ctx context.Context, orderID string, store model.StoreConfig) (string, error)

	// TestConnection checks the store's credentials against the platform.
	TestConnection(ctx context.Context, store model.StoreConfig) (string, error)
}

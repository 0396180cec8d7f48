package adapter

import (
	"context"
	"sync"

	"order-splitter/internal/model"
)

// Mock implements OrderClient for testing.
// Each method can be configured via function fields; every call is recorded.
type Mock struct {
	FetchBatchFunc     func(ctx context.Context, resourceURL string, store model.StoreConfig) (string, error)
	UpsertOrderFunc    func(ctx context.Context, order model.Order, store model.StoreConfig) (string, error)
	DeleteOrderFunc    func(ctx context.Context, orderID string, store model.StoreConfig) (string, error)
	TestConnectionFunc func(ctx context.Context, store model.StoreConfig) (string, error)

	mu      sync.Mutex
	fetches []string
	upserts []model.Order
	deletes []string
}

// FetchBatch calls the configured FetchBatchFunc or returns an empty batch.
func (m *Mock) FetchBatch(ctx context.Context, resourceURL string, store model.StoreConfig) (string, error) {
	m.mu.Lock()
	m.fetches = append(m.fetches, resourceURL)
	m.mu.Unlock()

	if m.FetchBatchFunc != nil {
		return m.FetchBatchFunc(ctx, resourceURL, store)
	}
	return `{"orders":[],"total":0,"page":1,"pages":0}`, nil
}

// UpsertOrder calls the configured UpsertOrderFunc or echoes the order ID.
func (m *Mock) UpsertOrder(ctx context.Context, order model.Order, store model.StoreConfig) (string, error) {
	m.mu.Lock()
	m.upserts = append(m.upserts, order)
	m.mu.Unlock()

	if m.UpsertOrderFunc != nil {
		return m.UpsertOrderFunc(ctx, order, store)
	}
	return `{"orderId":` + order.OrderID.String() + `}`, nil
}

// DeleteOrder calls the configured DeleteOrderFunc or reports success.
func (m *Mock) DeleteOrder(ctx context.Context, orderID string, store model.StoreConfig) (string, error) {
	m.mu.Lock()
	m.deletes = append(m.deletes, orderID)
	m.mu.Unlock()

	if m.DeleteOrderFunc != nil {
		return m.DeleteOrderFunc(ctx, orderID, store)
	}
	return `{"success":true,"message":"The requested order has been deleted."}`, nil
}

// TestConnection calls the configured TestConnectionFunc or returns an error.
func (m *Mock) TestConnection(ctx context.Context, store model.StoreConfig) (string, error) {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, store)
	}
	return "", model.NewNotFoundError("store")
}

// Fetches returns the resource URLs passed to FetchBatch, in call order.
func (m *Mock) Fetches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetches...)
}

// Upserts returns the orders passed to UpsertOrder, in call order.
func (m *Mock) Upserts() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Order(nil), m.upserts...)
}

// Deletes returns the order IDs passed to DeleteOrder, in call order.
func (m *Mock) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

// Verify Mock implements OrderClient interface at compile time.
var _ OrderClient = (*Mock)(nil)

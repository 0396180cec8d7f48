package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-splitter/internal/model"
)

// MemoryStore is an in-process RecordStore. The ledger is lost on restart,
// so it suits development and tests rather than production.
type MemoryStore struct {
	mu sync.Mutex

	batches      map[string]model.BatchRecord // by record ID
	batchByExtID map[string]string            // batch ID -> record ID
	orders       map[string]model.OrderRecord
	orderByExtID map[string]string

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:      make(map[string]model.BatchRecord),
		batchByExtID: make(map[string]string),
		orders:       make(map[string]model.OrderRecord),
		orderByExtID: make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateBatch(_ context.Context, rec model.BatchRecord) (model.BatchRecord, bool, error) {
	if rec.BatchID == "" {
		return model.BatchRecord{}, false, model.NewValidationError("batch_id", "required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.batchByExtID[rec.BatchID]; ok {
		return s.batches[id], false, nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.batches[rec.ID] = rec
	s.batchByExtID[rec.BatchID] = rec.ID
	return rec, true, nil
}

func (s *MemoryStore) SetBatchResponse(_ context.Context, id, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.batches[id]
	if !ok {
		return batchNotFound()
	}
	rec.RawBatchResponse = raw
	s.batches[id] = rec
	return nil
}

func (s *MemoryStore) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.batches[id]
	if !ok {
		return batchNotFound()
	}
	delete(s.batches, id)
	delete(s.batchByExtID, rec.BatchID)
	return nil
}

func (s *MemoryStore) GetBatch(_ context.Context, id string) (model.BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.batches[id]
	if !ok {
		return model.BatchRecord{}, batchNotFound()
	}
	return rec, nil
}

func (s *MemoryStore) FindBatch(_ context.Context, batchID string) (model.BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.batchByExtID[batchID]
	if !ok {
		return model.BatchRecord{}, batchNotFound()
	}
	return s.batches[id], nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, rec model.OrderRecord) (model.OrderRecord, bool, error) {
	if rec.OrderID == "" {
		return model.OrderRecord{}, false, model.NewValidationError("order_id", "required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.orderByExtID[rec.OrderID]; ok {
		return s.orders[id], false, nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.OrderStatusPending
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	s.orders[rec.ID] = rec
	s.orderByExtID[rec.OrderID] = rec.ID
	return rec, true, nil
}

func (s *MemoryStore) CompleteOrder(_ context.Context, id string, result model.OrderResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return orderNotFound()
	}
	rec.UpdatedOrderResponse = result.UpdatedOrderResponse
	rec.EmailContent = result.EmailContent
	rec.Status = result.Status
	rec.UpdatedAt = s.now()
	s.orders[id] = rec
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return model.OrderRecord{}, orderNotFound()
	}
	return rec, nil
}

func (s *MemoryStore) FindOrder(_ context.Context, orderID string) (model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.orderByExtID[orderID]
	if !ok {
		return model.OrderRecord{}, orderNotFound()
	}
	return s.orders[id], nil
}

func (s *MemoryStore) ListOrders(_ context.Context, batchRecordID string) ([]model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.OrderRecord
	for _, rec := range s.orders {
		if rec.BatchRecordID == batchRecordID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ RecordStore = (*MemoryStore)(nil)

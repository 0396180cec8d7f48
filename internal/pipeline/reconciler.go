package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"order-splitter/internal/adapter"
	"order-splitter/internal/model"
	"order-splitter/internal/notify"
	"order-splitter/internal/queue"
	"order-splitter/internal/reconcile"
	"order-splitter/internal/store"
)

// ReconcilerConfig holds tuning for the asynchronous phase.
type ReconcilerConfig struct {
	// OrderConcurrency bounds how many orders of one batch run at once.
	OrderConcurrency int

	// Matcher decides whether a SKU matches a pattern. Nil means
	// reconcile.SubstringMatcher.
	Matcher reconcile.Matcher
}

// BatchSummary counts what happened to the orders of one batch.
type BatchSummary struct {
	Orders           int
	Reconciled       int
	AlreadyProcessed int
	SkippedStore     int
	Failed           int

	// Deferred orders were left unclaimed because ctx ended first; a
	// redelivery of the batch picks them up.
	Deferred int
}

// Reconciler is the asynchronous phase. It implements queue.Processor.
type Reconciler struct {
	stores  StoreLookup
	client  adapter.OrderClient
	records store.RecordStore
	sender  notify.Sender
	config  ReconcilerConfig
	logger  *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(stores StoreLookup, client adapter.OrderClient, records store.RecordStore, sender notify.Sender, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if config.OrderConcurrency < 1 {
		config.OrderConcurrency = 1
	}
	if config.Matcher == nil {
		config.Matcher = reconcile.SubstringMatcher
	}
	return &Reconciler{
		stores:  stores,
		client:  client,
		records: records,
		sender:  sender,
		config:  config,
		logger:  logger,
	}
}

// ProcessBatch expands a persisted batch and reconciles every order in it.
func (r *Reconciler) ProcessBatch(ctx context.Context, batchRecordID string) error {
	_, err := r.Process(ctx, batchRecordID)
	return err
}

// Process is ProcessBatch with a per-order summary. A failure on one order is
// recorded on that order and never stops the others; the returned error covers
// loading and decoding the batch, and cancellation that left orders unclaimed.
//
// Cancelling ctx stops new orders from being claimed. An order that is already
// claimed always runs to completion, so no claimed order is left without an
// outcome.
func (r *Reconciler) Process(ctx context.Context, batchRecordID string) (BatchSummary, error) {
	rec, err := r.records.GetBatch(ctx, batchRecordID)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("loading batch record %s: %w", batchRecordID, err)
	}

	var batch model.Batch
	if err := json.Unmarshal([]byte(rec.RawBatchResponse), &batch); err != nil {
		return BatchSummary{}, fmt.Errorf("decoding batch %s: %w", rec.BatchID, err)
	}

	log := r.logger.With(
		slog.String("batch_record_id", rec.ID),
		slog.String("batch_id", rec.BatchID),
	)
	if batch.Pages > 1 {
		log.WarnContext(ctx, "batch spans several pages, only the first was fetched",
			slog.Int("pages", batch.Pages),
			slog.Int("total", batch.Total),
		)
	}

	var (
		mu      sync.Mutex
		summary = BatchSummary{Orders: len(batch.Orders)}
	)
	tally := func(o orderOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeReconciled:
			summary.Reconciled++
		case outcomeAlreadyProcessed:
			summary.AlreadyProcessed++
		case outcomeSkippedStore:
			summary.SkippedStore++
		case outcomeFailed:
			summary.Failed++
		case outcomeDeferred:
			summary.Deferred++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.config.OrderConcurrency)
	for _, order := range batch.Orders {
		g.Go(func() error {
			tally(r.processOrder(ctx, log, rec, order))
			return nil
		})
	}
	_ = g.Wait()

	log.InfoContext(ctx, "batch reconciled",
		slog.Int("orders", summary.Orders),
		slog.Int("reconciled", summary.Reconciled),
		slog.Int("already_processed", summary.AlreadyProcessed),
		slog.Int("skipped_store", summary.SkippedStore),
		slog.Int("failed", summary.Failed),
		slog.Int("deferred", summary.Deferred),
	)
	if summary.Deferred > 0 {
		return summary, fmt.Errorf("batch %s interrupted with %d orders unclaimed: %w",
			rec.BatchID, summary.Deferred, context.Cause(ctx))
	}
	return summary, nil
}

type orderOutcome int

const (
	outcomeReconciled orderOutcome = iota
	outcomeAlreadyProcessed
	outcomeSkippedStore
	outcomeFailed
	outcomeDeferred
)

func (r *Reconciler) processOrder(ctx context.Context, log *slog.Logger, batch model.BatchRecord, order model.Order) (outcome orderOutcome) {
	log = log.With(
		slog.String("order_id", order.OrderID.String()),
		slog.String("order_store_id", order.StoreID()),
	)

	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "panic reconciling order", slog.Any("panic", p))
			outcome = outcomeFailed
		}
	}()

	storeCfg, err := r.stores.Get(order.StoreID())
	if err != nil {
		log.InfoContext(ctx, "skipping order for unmanaged store")
		return outcomeSkippedStore
	}
	if order.OrderID == "" {
		log.WarnContext(ctx, "skipping order without orderId")
		return outcomeFailed
	}

	raw, err := json.Marshal(order)
	if err != nil {
		log.ErrorContext(ctx, "encoding order failed", slog.String("error", err.Error()))
		return outcomeFailed
	}

	if ctx.Err() != nil {
		return outcomeDeferred
	}

	claim, created, err := r.records.CreateOrder(ctx, model.OrderRecord{
		OrderID:       order.OrderID.String(),
		BatchRecordID: batch.ID,
		StoreID:       storeCfg.StoreID,
		RawOrder:      string(raw),
	})
	if err != nil {
		log.ErrorContext(ctx, "claiming order failed", slog.String("error", err.Error()))
		return outcomeFailed
	}
	if !created {
		log.DebugContext(ctx, "order already processed", slog.String("order_record_id", claim.ID))
		return outcomeAlreadyProcessed
	}

	// A claim is never released, so the work behind it must not be cut short.
	if err := r.ReconcileOrder(context.WithoutCancel(ctx), claim, order, storeCfg); err != nil {
		log.ErrorContext(ctx, "recording order outcome failed", slog.String("error", err.Error()))
		return outcomeFailed
	}
	return outcomeReconciled
}

// ReconcileOrder applies the split decision for a claimed order and writes the
// outcome onto its record. Platform and notification failures are recorded,
// not returned; the error covers only the record write.
func (r *Reconciler) ReconcileOrder(ctx context.Context, claim model.OrderRecord, order model.Order, storeCfg model.StoreConfig) error {
	result := r.Apply(ctx, order, storeCfg)

	// The platform call already happened; record it even if ctx is done.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return r.records.CompleteOrder(writeCtx, claim.ID, result)
}

// Apply computes one split for the order and derives both the platform call
// and the notification from it.
func (r *Reconciler) Apply(ctx context.Context, order model.Order, storeCfg model.StoreConfig) model.OrderResult {
	_, decision := reconcile.Plan(r.config.Matcher, order, storeCfg.SKUPatterns)

	log := r.logger.With(
		slog.String("order_id", order.OrderID.String()),
		slog.String("store_id", storeCfg.StoreID),
		slog.String("action", string(decision.Action)),
	)

	var result model.OrderResult
	switch decision.Action {
	case reconcile.ActionNoOp:
		result.Status = model.OrderStatusNoOp

	case reconcile.ActionDelete:
		body, err := r.client.DeleteOrder(ctx, order.OrderID.String(), storeCfg)
		result.UpdatedOrderResponse = responseText(body, err)
		result.Status = model.OrderStatusDeleted
		if err != nil {
			result.Status = model.OrderStatusDeleteFailed
			log.ErrorContext(ctx, "deleting order failed", slog.String("error", err.Error()))
		}

	case reconcile.ActionUpdate:
		body, err := r.client.UpsertOrder(ctx, order.WithItems(decision.Items), storeCfg)
		result.UpdatedOrderResponse = responseText(body, err)
		result.Status = model.OrderStatusUpdated
		if err != nil {
			result.Status = model.OrderStatusUpdateFailed
			log.ErrorContext(ctx, "updating order failed", slog.String("error", err.Error()))
		}
	}

	if decision.Notify {
		msg := notify.Compose(decision.SpecialItems, order, storeCfg)
		result.EmailContent = msg.Body
		switch err := r.sender.Send(ctx, msg); {
		case err == nil:
			result.Status = result.Status.WithEmailSent()
		case errors.Is(err, notify.ErrNotDelivered):
			log.DebugContext(ctx, "special order notice not delivered", slog.String("recipient", msg.Recipient))
		default:
			log.WarnContext(ctx, "sending special order notice failed",
				slog.String("recipient", msg.Recipient),
				slog.String("error", err.Error()),
			)
		}
	}

	log.InfoContext(ctx, "order reconciled", slog.String("status", string(result.Status)))
	return result
}

// responseText is what gets persisted as the platform response: the body when
// there is one, otherwise the error text.
func responseText(body string, err error) string {
	if body != "" || err == nil {
		return body
	}
	return err.Error()
}

var _ queue.Processor = (*Reconciler)(nil)

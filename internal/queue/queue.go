// Package queue defers batch reconciliation off the webhook request path.
//
// Enqueue never blocks on downstream work and never reports downstream
// failures: those are logged and visible through the order records. Delivery
// is at-most-once for the in-process pool and at-least-once for the Redis
// queue; order-level dedup in the record store makes redelivery harmless.
package queue

import "context"

// Processor expands and reconciles one persisted batch.
type Processor interface {
	ProcessBatch(ctx context.Context, batchRecordID string) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, batchRecordID string) error

func (f ProcessorFunc) ProcessBatch(ctx context.Context, batchRecordID string) error {
	return f(ctx, batchRecordID)
}

// Scheduler hands a batch record to asynchronous processing.
type Scheduler interface {
	Enqueue(ctx context.Context, batchRecordID string)
}

// Runner is a Scheduler with a background lifecycle.
type Runner interface {
	Scheduler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Sync runs the processor inline. Used by tests and the CLI, where waiting
// for the batch is the point.
type Sync struct {
	Processor Processor
	OnError   func(batchRecordID string, err error)
}

// Enqueue processes the batch before returning.
func (s Sync) Enqueue(ctx context.Context, batchRecordID string) {
	if err := s.Processor.ProcessBatch(ctx, batchRecordID); err != nil && s.OnError != nil {
		s.OnError(batchRecordID, err)
	}
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// InProcessConfig holds configuration for the in-process pool.
type InProcessConfig struct {
	Workers int
	Buffer  int
}

// DefaultInProcessConfig returns default configuration.
func DefaultInProcessConfig() InProcessConfig {
	return InProcessConfig{
		Workers: 4,
		Buffer:  256,
	}
}

// InProcess runs batches on a fixed pool of goroutines fed by a buffered
// channel. Queued work is lost if the process exits before it runs.
type InProcess struct {
	proc   Processor
	config InProcessConfig
	logger *slog.Logger

	jobs chan string

	mu      sync.RWMutex
	started bool
	stopped bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInProcess creates a pool. Call Start before Enqueue.
func NewInProcess(proc Processor, config InProcessConfig, logger *slog.Logger) *InProcess {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Buffer < 0 {
		config.Buffer = 0
	}
	return &InProcess{
		proc:   proc,
		config: config,
		logger: logger,
		jobs:   make(chan string, config.Buffer),
	}
}

// Start launches the workers. Batches run under a context derived from ctx,
// not from the request that enqueued them.
func (p *InProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("in-process queue already started")
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.logger.Info("in-process queue started",
		slog.Int("workers", p.config.Workers),
		slog.Int("buffer", p.config.Buffer),
	)
	return nil
}

// Enqueue queues the batch. When the buffer is full the batch runs on an
// extra goroutine instead of blocking the caller.
func (p *InProcess) Enqueue(_ context.Context, batchRecordID string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped {
		p.logger.Error("batch dropped: queue not running",
			slog.String("batch_record_id", batchRecordID))
		return
	}

	select {
	case p.jobs <- batchRecordID:
	default:
		p.logger.Warn("queue buffer full, running batch on overflow goroutine",
			slog.String("batch_record_id", batchRecordID))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(batchRecordID)
		}()
	}
}

// Stop stops accepting work and waits for queued batches to finish. If ctx
// expires first, in-flight batches are cancelled and ctx.Err() is returned
// without waiting for them to unwind.
func (p *InProcess) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("in-process queue stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *InProcess) worker() {
	defer p.wg.Done()
	for id := range p.jobs {
		p.run(id)
	}
}

// run processes one batch, containing panics so a bad batch cannot take the
// worker down. Batches have no deadline of their own; only Stop cancels them.
func (p *InProcess) run(batchRecordID string) {
	ctx := p.runCtx

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing batch",
				slog.String("batch_record_id", batchRecordID),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := p.proc.ProcessBatch(ctx, batchRecordID); err != nil {
		p.logger.Error("batch processing failed",
			slog.String("batch_record_id", batchRecordID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.logger.Debug("batch processed",
		slog.String("batch_record_id", batchRecordID),
		slog.Duration("duration", time.Since(start)),
	)
}

var _ Runner = (*InProcess)(nil)

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis list queue.
type RedisConfig struct {
	// Key is the pending list; Key+":processing" holds claimed entries.
	Key     string
	Workers int

	// PollTimeout bounds each blocking pop so workers notice shutdown.
	PollTimeout time.Duration

	// PushTimeout bounds the LPUSH done on the webhook request path.
	PushTimeout time.Duration
}

// DefaultRedisConfig returns default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Key:         "ssu:batches",
		Workers:     4,
		PollTimeout: 5 * time.Second,
		PushTimeout: 2 * time.Second,
	}
}

// Redis is a reliable list queue shared by every replica:
//
//	Enqueue:  LPUSH pending id
//	Worker:   BLMOVE pending processing RIGHT LEFT
//	Done:     LREM processing 1 id
//
// An entry stays in the processing list until its batch finishes, so a crash
// mid-batch leaves it there for Recover. When the push fails the batch runs
// on the fallback scheduler instead.
type Redis struct {
	client   redis.Cmdable
	proc     Processor
	fallback Scheduler
	config   RedisConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis creates a Redis-backed queue. fallback receives batches whose push
// failed; it is usually an InProcess pool.
func NewRedis(client redis.Cmdable, proc Processor, fallback Scheduler, config RedisConfig, logger *slog.Logger) *Redis {
	def := DefaultRedisConfig()
	if config.Key == "" {
		config.Key = def.Key
	}
	if config.Workers < 1 {
		config.Workers = def.Workers
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if config.PushTimeout <= 0 {
		config.PushTimeout = def.PushTimeout
	}
	return &Redis{
		client:   client,
		proc:     proc,
		fallback: fallback,
		config:   config,
		logger:   logger,
	}
}

func (q *Redis) processingKey() string {
	return q.config.Key + ":processing"
}

// Enqueue pushes the batch record ID. The request context is used only for
// the push itself.
func (q *Redis) Enqueue(ctx context.Context, batchRecordID string) {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.config.PushTimeout)
	defer cancel()

	err := q.client.LPush(pushCtx, q.config.Key, batchRecordID).Err()
	if err == nil {
		return
	}

	q.logger.Warn("redis enqueue failed, running batch locally",
		slog.String("batch_record_id", batchRecordID),
		slog.String("error", err.Error()),
	)
	if q.fallback != nil {
		q.fallback.Enqueue(ctx, batchRecordID)
	}
}

// Recover moves entries stranded in the processing list back to pending and
// returns how many moved. Run it at startup before Start, while no worker
// holds a claim.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.config.Key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recovering processing entries: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info("recovered stranded batches", slog.Int("count", moved))
	}
	return moved, nil
}

// Depth returns the pending and processing list lengths.
func (q *Redis) Depth(ctx context.Context) (pending, processing int64, err error) {
	if pending, err = q.client.LLen(ctx, q.config.Key).Result(); err != nil {
		return 0, 0, err
	}
	if processing, err = q.client.LLen(ctx, q.processingKey()).Result(); err != nil {
		return 0, 0, err
	}
	return pending, processing, nil
}

// Start launches the workers.
func (q *Redis) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.logger.Info("redis queue started",
		slog.String("key", q.config.Key),
		slog.Int("workers", q.config.Workers),
	)
	return nil
}

// Stop cancels the workers and waits for them to exit. A batch interrupted
// here stays in the processing list for Recover.
func (q *Redis) Stop(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Redis) worker(ctx context.Context) {
	defer q.wg.Done()

	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := q.client.BLMove(ctx, q.config.Key, q.processingKey(), "RIGHT", "LEFT", q.config.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("redis dequeue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 100 * time.Millisecond

		q.run(ctx, id)

		// Shutdown interrupted the batch; leave the claim for Recover.
		if ctx.Err() != nil {
			return
		}

		// Acknowledge even when the batch failed: failures are recorded per
		// order and redelivery would not change the outcome.
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.config.PushTimeout)
		if err := q.client.LRem(ackCtx, q.processingKey(), 1, id).Err(); err != nil {
			q.logger.Error("redis ack failed",
				slog.String("batch_record_id", id),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

func (q *Redis) run(ctx context.Context, batchRecordID string) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic processing batch",
				slog.String("batch_record_id", batchRecordID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := q.proc.ProcessBatch(ctx, batchRecordID); err != nil {
		q.logger.Error("batch processing failed",
			slog.String("batch_record_id", batchRecordID),
			slog.String("error", err.Error()),
		)
	}
}

var _ Runner = (*Redis)(nil)

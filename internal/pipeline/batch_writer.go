package pipeline

import (
	"context"
	"time"

	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

const retryDelay = 500 * time.Millisecond

// BatchWriter drains a channel into batches and hands each batch to flush,
// either when it is full or when the flush interval elapses.
type BatchWriter[T any] struct {
	name      string
	ch        <-chan T
	flushFn   func(ctx context.Context, batch []T) error
	batchSize int
	interval  time.Duration
	logger    log.Logger
}

func NewBatchWriter[T any](
	name string,
	ch <-chan T,
	flush func(ctx context.Context, batch []T) error,
	batchSize int,
	flushMS int,
	logger log.Logger,
) *BatchWriter[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMS <= 0 {
		flushMS = 1000
	}
	return &BatchWriter[T]{
		name:      name,
		ch:        ch,
		flushFn:   flush,
		batchSize: batchSize,
		interval:  time.Duration(flushMS) * time.Millisecond,
		logger:    logger.WithName(name + "-writer"),
	}
}

func (w *BatchWriter[T]) Run(ctx context.Context) {
	batch := make([]T, 0, w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.Background(), batch)
				}
				return
			}
			batch = append(batch, item)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			return
		}
	}
}

func (w *BatchWriter[T]) flush(ctx context.Context, batch []T) {
	err := w.flushFn(ctx, batch)
	if err != nil {
		w.logger.Warn("batch write failed, retrying", "batch", len(batch), "error", err.Error())
		time.Sleep(retryDelay)
		err = w.flushFn(ctx, batch)
		if err != nil {
			w.logger.Error(err, "batch write permanently failed", "batch", len(batch))
			metrics.BatchWrites.WithLabelValues(w.name, "failed").Add(float64(len(batch)))
			return
		}
	}
	metrics.BatchWrites.WithLabelValues(w.name, "success").Add(float64(len(batch)))
}

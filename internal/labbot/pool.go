package labbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// runBatch runs fn once per identity on at most PoolSize goroutines. When
// BatchTimeout passes first, every session context is cancelled, results not
// yet reported are left out and the error wraps ErrBatchTimeout.
func (b *Bot) runBatch(ctx context.Context, operation string, ids []Identity, fn func(context.Context, Identity) SessionResult) ([]SessionResult, error) {
	start := time.Now()
	ctx, span := b.tracing.TraceBatch(ctx, operation, len(ids))
	defer span.End()

	batchCtx, cancel := context.WithTimeout(ctx, b.cfg.BatchTimeout)
	defer cancel()

	b.logger.Info("Starting batch",
		zap.String("operation", operation),
		zap.Int("identities", len(ids)),
		zap.Int("pool_size", b.cfg.PoolSize),
		zap.Duration("timeout", b.cfg.BatchTimeout))

	var (
		mu      sync.Mutex
		results = make([]SessionResult, 0, len(ids))
		closed  bool
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, b.cfg.PoolSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for _, id := range ids {
			// Respect cancellation before spawning
			select {
			case <-batchCtx.Done():
				wg.Wait()
				return
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(id Identity) {
				defer wg.Done()
				defer func() { <-sem }()

				result := fn(batchCtx, id)

				// A session ending after the batch was cut short is abandoned,
				// even if it beat the collector to the lock.
				mu.Lock()
				defer mu.Unlock()
				if !closed && batchCtx.Err() == nil {
					results = append(results, result)
				}
			}(id)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-batchCtx.Done():
	}

	mu.Lock()
	closed = true
	collected := append([]SessionResult(nil), results...)
	mu.Unlock()

	abandoned := len(ids) - len(collected)
	b.metrics.RecordBatch(time.Since(start), abandoned)

	if abandoned == 0 {
		b.logger.Info("Batch finished",
			zap.String("operation", operation),
			zap.Int("results", len(collected)),
			zap.Duration("duration", time.Since(start)))
		return collected, nil
	}

	// Sessions were cancelled with the batch context; give their browsers a
	// moment to close.
	select {
	case <-done:
	case <-time.After(b.grace):
		b.logger.Warn("Sessions still running after batch cancellation", zap.Duration("grace", b.grace))
	}

	err := batchCtx.Err()
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = ErrBatchTimeout
	}
	b.logger.Warn("Batch cut short",
		zap.String("operation", operation),
		zap.Int("results", len(collected)),
		zap.Int("abandoned", abandoned),
		zap.Error(err))
	return collected, fmt.Errorf("%w: %d of %d identities abandoned", err, abandoned, len(ids))
}

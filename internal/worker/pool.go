package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// stopPrecedence orders stop reasons when merging concurrent batches: the
// most constraining reason wins.
var stopPrecedence = []string{
	StopStoreError,
	StopMaxExecutionTime,
	StopTimeBudget,
	StopCancelled,
	StopNoMoreItems,
	StopBatchComplete,
}

// Pool runs several overlapping batches against the same store. The lock
// protocol keeps them from touching the same item, exactly as it does for
// two near-simultaneous external triggers.
type Pool struct {
	worker      *Worker
	concurrency int
	logger      *zap.Logger
}

// NewPool wraps w. concurrency <= 1 runs a single batch.
func NewPool(w *Worker, concurrency int, logger *zap.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{worker: w, concurrency: concurrency, logger: logger}
}

// Run splits batchSize across the pool's goroutines and merges their results.
func (p *Pool) Run(ctx context.Context, batchSize int) *BatchResult {
	if batchSize <= 0 {
		batchSize = p.worker.opts.BatchSize
	}
	n := p.concurrency
	if n > batchSize {
		n = batchSize
	}
	if n <= 1 {
		return p.worker.RunBatch(ctx, batchSize)
	}

	start := time.Now()
	results := make([]*BatchResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		share := batchSize / n
		if i < batchSize%n {
			share++
		}
		g.Go(func() error {
			results[i] = p.worker.RunBatch(gctx, share)
			return nil
		})
	}
	_ = g.Wait()

	merged := merge(results)
	merged.Duration = time.Since(start)
	p.logger.Info("pool run finished",
		zap.Int("batches", n),
		zap.Int("processed", merged.Processed),
		zap.String("stop_reason", merged.StopReason),
	)
	return merged
}

func merge(results []*BatchResult) *BatchResult {
	out := &BatchResult{Items: []ItemOutcome{}}
	rank := len(stopPrecedence)
	for _, r := range results {
		out.Processed += r.Processed
		out.Succeeded += r.Succeeded
		out.Failed += r.Failed
		out.Skipped += r.Skipped
		out.Deferred += r.Deferred
		out.LockLost += r.LockLost
		out.StaleReleased += r.StaleReleased
		out.Items = append(out.Items, r.Items...)
		for i, reason := range stopPrecedence {
			if reason == r.StopReason && i < rank {
				rank = i
			}
		}
	}
	if rank < len(stopPrecedence) {
		out.StopReason = stopPrecedence[rank]
	}
	return out
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/ratelimiter"
	"github.com/presswire/contentqueue/internal/repository"
)

// Batch stop reasons.
const (
	StopMaxExecutionTime = "max_execution_time"
	StopTimeBudget       = "time_budget"
	StopNoMoreItems      = "no_more_items"
	StopBatchComplete    = "batch_complete"
	StopCancelled        = "cancelled"
	StopStoreError       = "store_error"
)

// Item outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDeferred  = "deferred"
	OutcomeLockLost  = "lock_lost"
)

// Deps are the collaborators a Worker dispatches to.
type Deps struct {
	Queue     repository.QueueRepository
	Contexts  repository.ContextRepository
	Generator dispatch.Generator
	Scorer    dispatch.Scorer
	Publisher dispatch.Publisher
	Channels  *dispatch.ChannelRegistry
	Handlers  *dispatch.HandlerRegistry
	Notifier  dispatch.Notifier
	Limiter   *ratelimiter.ChannelLimiters
}

// Options bound a batch and drive retry and publishing policy.
type Options struct {
	BatchSize        int
	TimeBudget       time.Duration
	MaxExecutionTime time.Duration
	LockTTL          time.Duration
	MaxAttempts      int

	// Retry backoff durations: index 0 = delay after the first failure, etc.
	Backoff []time.Duration

	AutoPublish          bool
	AutoPublishThreshold int
	DistributionChannels []domain.Channel
	ReviewNotifyTimeout  time.Duration

	// Now is the worker clock used for budgets and retry times.
	Now func() time.Time
}

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the worker constructor signature clean.
type MetricHooks struct {
	OnItem       func(channel domain.Channel, outcome string, elapsed time.Duration)
	OnBatch      func(stopReason string)
	OnStaleLocks func(n int)
	OnTokens     func(n int)
}

// ItemOutcome reports what happened to one queue item.
type ItemOutcome struct {
	ItemID      string         `json:"item_id"`
	ContentType string         `json:"content_type"`
	Channel     domain.Channel `json:"channel"`
	Outcome     string         `json:"outcome"`
	Status      domain.Status  `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// BatchResult summarises one RunBatch call. Processed counts items that
// reached an outcome; deferred items are reported separately.
type BatchResult struct {
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Deferred      int           `json:"deferred"`
	LockLost      int           `json:"lock_lost"`
	StaleReleased int           `json:"stale_released"`
	StopReason    string        `json:"stop_reason"`
	Items         []ItemOutcome `json:"items"`
	Duration      time.Duration `json:"duration_ns"`
}

func (r *BatchResult) record(o ItemOutcome) {
	r.Items = append(r.Items, o)
	switch o.Outcome {
	case OutcomeDeferred:
		r.Deferred++
		return
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeLockLost:
		r.LockLost++
	}
	r.Processed++
}

// Worker runs bounded batches over the Queue Store. It holds no state
// between batches; concurrency comes from overlapping RunBatch calls.
type Worker struct {
	deps   Deps
	opts   Options
	hooks  MetricHooks
	logger *zap.Logger
}

// New constructs a worker. Hook fields are optional (nil = no-op).
func New(deps Deps, opts Options, logger *zap.Logger, hooks MetricHooks) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}
	}
	if opts.ReviewNotifyTimeout <= 0 {
		opts.ReviewNotifyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimiter.New(0)
	}
	if deps.Channels == nil {
		deps.Channels = dispatch.NewChannelRegistry()
	}
	if deps.Handlers == nil {
		deps.Handlers = dispatch.NewHandlerRegistry()
	}
	if hooks.OnItem == nil {
		hooks.OnItem = func(domain.Channel, string, time.Duration) {}
	}
	if hooks.OnBatch == nil {
		hooks.OnBatch = func(string) {}
	}
	if hooks.OnStaleLocks == nil {
		hooks.OnStaleLocks = func(int) {}
	}
	if hooks.OnTokens == nil {
		hooks.OnTokens = func(int) {}
	}
	return &Worker{deps: deps, opts: opts, hooks: hooks, logger: logger}
}

// RunBatch locks up to batchSize items (the configured size when
// batchSize <= 0). A deferred item uses up its iteration even though it is
// not counted as processed. Budgets are checked only before starting an item.
func (w *Worker) RunBatch(ctx context.Context, batchSize int) *BatchResult {
	if batchSize <= 0 {
		batchSize = w.opts.BatchSize
	}
	start := w.opts.Now()
	res := &BatchResult{Items: []ItemOutcome{}}

	if w.opts.LockTTL > 0 {
		n, err := w.deps.Queue.ReleaseStaleLocks(ctx, w.opts.LockTTL)
		if err != nil {
			w.logger.Error("failed to release stale locks", zap.Error(err))
		} else if n > 0 {
			res.StaleReleased = n
			w.hooks.OnStaleLocks(n)
			w.logger.Warn("released stale locks", zap.Int("count", n), zap.Duration("ttl", w.opts.LockTTL))
		}
	}

	gate := newReadinessGate(w, true)
	gate.checkPrimary(ctx)

	var filter domain.LockFilter
	for iterations := 0; ; iterations++ {
		elapsed := w.opts.Now().Sub(start)
		if w.opts.MaxExecutionTime > 0 && elapsed >= w.opts.MaxExecutionTime {
			res.StopReason = StopMaxExecutionTime
			break
		}
		if w.opts.TimeBudget > 0 && elapsed >= w.opts.TimeBudget {
			res.StopReason = StopTimeBudget
			break
		}
		if iterations >= batchSize {
			res.StopReason = StopBatchComplete
			break
		}
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			break
		}

		item, err := w.deps.Queue.LockNextEligible(ctx, filter)
		if errors.Is(err, domain.ErrNoEligibleItem) {
			res.StopReason = StopNoMoreItems
			break
		}
		if err != nil {
			w.logger.Error("failed to lock next item", zap.Error(err))
			res.StopReason = StopStoreError
			break
		}

		outcome := w.processLocked(ctx, item, *item.LockToken, gate, &filter)
		res.record(outcome)
	}

	res.Duration = w.opts.Now().Sub(start)
	w.hooks.OnBatch(res.StopReason)
	w.logger.Info("batch finished",
		zap.String("stop_reason", res.StopReason),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// processLocked gates and executes one item the caller has just locked.
// filter, when non-nil, is widened so deferred work is not re-locked in the
// same batch.
func (w *Worker) processLocked(ctx context.Context, item *domain.QueueItem, token string, gate *readinessGate, filter *domain.LockFilter) ItemOutcome {
	log := w.itemLogger(item)

	if rerr := gate.check(ctx, item); rerr != nil {
		if rerr.Permanent {
			return w.skip(ctx, item, token, rerr, log)
		}
		return w.postpone(ctx, item, token, rerr, filter, log)
	}
	return w.execute(ctx, item, token)
}

// execute runs the matching pipeline and converts a panic into an
// execution failure so one item never aborts the batch.
func (w *Worker) execute(ctx context.Context, item *domain.QueueItem, token string) (out ItemOutcome) {
	start := w.opts.Now()
	log := w.itemLogger(item)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = w.fail(ctx, item, token, fmt.Errorf("panic: %v", r), retryPolicy{}, log)
		}
		w.hooks.OnItem(item.Channel, out.Outcome, w.opts.Now().Sub(start))
	}()

	switch {
	case w.deps.Handlers.Exists(item.ContentType):
		return w.runHandler(ctx, item, token, log)
	case !item.Channel.IsPrimary():
		return w.runAuxiliary(ctx, item, token, log)
	default:
		return w.runPrimary(ctx, item, token, log)
	}
}

func (w *Worker) skip(ctx context.Context, item *domain.QueueItem, token string, rerr *domain.ReadinessError, log *zap.Logger) ItemOutcome {
	reason := rerr.Error()
	err := w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{
		Status:    domain.StatusSkipped,
		LastError: &reason,
	})
	if out, failed := w.transitionFailed(item, err, log); failed {
		return out
	}
	log.Warn("item skipped: destination permanently not ready", zap.String("reason", rerr.Reason))
	w.hooks.OnItem(item.Channel, OutcomeSkipped, 0)
	return outcomeOf(item, OutcomeSkipped, domain.StatusSkipped, rerr)
}

func (w *Worker) postpone(ctx context.Context, item *domain.QueueItem, token string, rerr *domain.ReadinessError, filter *domain.LockFilter, log *zap.Logger) ItemOutcome {
	if err := w.deps.Queue.ReleaseLock(ctx, item.ID, token); err != nil {
		log.Error("failed to release lock of deferred item", zap.Error(err))
	}
	if filter != nil {
		filter.ExcludeIDs = append(filter.ExcludeIDs, item.ID)
		// A transiently unavailable auxiliary channel is skipped for the
		// rest of the batch. Primary items are excluded one by one because
		// generic handler items share the primary channel.
		if !item.Channel.IsPrimary() {
			filter.ExcludeChannels = append(filter.ExcludeChannels, item.Channel)
		}
	}
	log.Info("item deferred: destination not ready", zap.String("reason", rerr.Reason))
	w.hooks.OnItem(item.Channel, OutcomeDeferred, 0)
	return outcomeOf(item, OutcomeDeferred, domain.StatusPending, rerr)
}

// transitionFailed maps a failed store transition to an outcome. A lost lock
// means another worker owns the item now; we back off without touching it.
func (w *Worker) transitionFailed(item *domain.QueueItem, err error, log *zap.Logger) (ItemOutcome, bool) {
	if err == nil {
		return ItemOutcome{}, false
	}
	if errors.Is(err, domain.ErrLockLost) {
		log.Warn("lock lost, abandoning item")
		return outcomeOf(item, OutcomeLockLost, "", err), true
	}
	log.Error("failed to transition item", zap.Error(err))
	return outcomeOf(item, OutcomeFailed, "", err), true
}

func (w *Worker) itemLogger(item *domain.QueueItem) *zap.Logger {
	return w.logger.With(
		zap.String("item_id", item.ID),
		zap.String("context_id", item.ContextID),
		zap.String("content_type", item.ContentType),
		zap.String("channel", string(item.Channel)),
		zap.String("lang", item.Lang),
	)
}

func outcomeOf(item *domain.QueueItem, outcome string, status domain.Status, err error) ItemOutcome {
	o := ItemOutcome{
		ItemID:      item.ID,
		ContentType: item.ContentType,
		Channel:     item.Channel,
		Outcome:     outcome,
		Status:      status,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

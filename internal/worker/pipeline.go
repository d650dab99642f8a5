package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// runPrimary generates, scores and publishes content on the primary site.
func (w *Worker) runPrimary(ctx context.Context, item *domain.QueueItem, token string, log *zap.Logger) ItemOutcome {
	if err := w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{Status: domain.StatusGenerating}); err != nil {
		out, _ := w.transitionFailed(item, err, log)
		return out
	}

	c, err := w.loadContext(ctx, item)
	if err != nil {
		return w.fail(ctx, item, token, err, retryPolicy{}, log)
	}
	log = log.With(zap.String("context", c.Slug))

	gen, err := w.deps.Generator.Generate(ctx, item, c)
	if err != nil {
		return w.fail(ctx, item, token, fmt.Errorf("generate: %w", err), retryPolicy{}, log)
	}
	if gen == nil || strings.TrimSpace(gen.Content.Body) == "" {
		return w.fail(ctx, item, token, domain.ErrNoContent, retryPolicy{}, log)
	}
	w.hooks.OnTokens(gen.Stats.Tokens)

	var report dispatch.QualityReport
	if w.deps.Scorer != nil {
		report = w.deps.Scorer.PassesQuality(gen.Content)
	}
	desired := domain.StatusReview
	if w.opts.AutoPublish && report.Score >= w.opts.AutoPublishThreshold {
		desired = domain.StatusPublished
	}

	postID, err := w.deps.Publisher.Publish(ctx, gen.Content, item, c, desired)
	if err != nil {
		return w.fail(ctx, item, token, fmt.Errorf("publish: %w", err), retryPolicy{}, log)
	}

	result, _ := json.Marshal(map[string]any{
		"title":       gen.Content.Title,
		"excerpt":     gen.Content.Excerpt,
		"quality":     report,
		"duration_ms": gen.Stats.Duration.Milliseconds(),
	})
	attempts := item.Attempts + 1
	tokens := gen.Stats.Tokens
	cost := gen.Stats.Cost
	score := report.Score
	err = w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{
		Status:       desired,
		Attempts:     &attempts,
		PostID:       &postID,
		QualityScore: &score,
		TokensUsed:   &tokens,
		Cost:         &cost,
		Result:       result,
	})
	if out, failed := w.transitionFailed(item, err, log); failed {
		return out
	}

	log.Info("content finalized",
		zap.String("status", string(desired)),
		zap.String("post_id", postID),
		zap.Int("quality_score", score),
		zap.Int("tokens", tokens),
	)

	switch desired {
	case domain.StatusReview:
		w.notifyReview(ctx, item, c, report, log)
	case domain.StatusPublished:
		w.fanOut(ctx, item, c, gen.Content, postID, log)
	}
	return outcomeOf(item, OutcomeSucceeded, desired, nil)
}

// runAuxiliary delivers a distribution snapshot through a channel adapter.
func (w *Worker) runAuxiliary(ctx context.Context, item *domain.QueueItem, token string, log *zap.Logger) ItemOutcome {
	if err := w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{Status: domain.StatusGenerating}); err != nil {
		out, _ := w.transitionFailed(item, err, log)
		return out
	}

	adapter, ok := w.deps.Channels.Get(item.Channel)
	if !ok || !adapter.IsEnabled() {
		return w.fail(ctx, item, token, domain.Permanent(fmt.Errorf("channel %q unavailable", item.Channel)), retryPolicy{}, log)
	}
	if v := adapter.ValidateConfiguration(); !v.Valid {
		return w.fail(ctx, item, token, domain.Permanent(fmt.Errorf("channel %q misconfigured: %s", item.Channel, v.Message)), retryPolicy{}, log)
	}

	snap, err := domain.DecodeDistributionSnapshot(item.SourceRef)
	if err != nil {
		return w.fail(ctx, item, token, err, retryPolicy{}, log)
	}

	c, err := w.loadContext(ctx, item)
	if err != nil {
		return w.fail(ctx, item, token, err, retryPolicy{}, log)
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := w.deps.Limiter.Wait(ctx, item.Channel); err != nil {
		return w.fail(ctx, item, token, fmt.Errorf("rate limiter: %w", err), retryPolicy{}, log)
	}

	res, err := adapter.Publish(ctx, snap, item, c)
	if err != nil {
		return w.fail(ctx, item, token, fmt.Errorf("%s publish: %w", item.Channel, err), retryPolicy{}, log)
	}
	if res == nil {
		res = &dispatch.PublishResult{}
	}

	result, _ := json.Marshal(res)
	attempts := item.Attempts + 1
	parent := snap.ParentPostID
	err = w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{
		Status:     domain.StatusPublished,
		Attempts:   &attempts,
		ExternalID: &res.ExternalID,
		PostID:     &parent,
		Result:     result,
	})
	if out, failed := w.transitionFailed(item, err, log); failed {
		return out
	}

	log.Info("distributed", zap.String("external_id", res.ExternalID), zap.String("parent_post_id", parent))
	return outcomeOf(item, OutcomeSucceeded, domain.StatusPublished, nil)
}

// runHandler executes a generic job through the handler registry.
func (w *Worker) runHandler(ctx context.Context, item *domain.QueueItem, token string, log *zap.Logger) ItemOutcome {
	if err := w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{Status: domain.StatusProcessing}); err != nil {
		out, _ := w.transitionFailed(item, err, log)
		return out
	}

	h, _ := w.deps.Handlers.Get(item.ContentType)
	res := h.Handle(ctx, item.SourceRef, item.ID, item.Attempts+1)

	if !res.Success {
		cause := res.Err
		if cause == nil {
			cause = errors.New("handler reported failure")
		}
		if !res.Retryable {
			cause = domain.Permanent(cause)
		}
		return w.fail(ctx, item, token, cause, retryPolicy{maxAttempts: res.MaxAttempts, delay: res.RetryDelay}, log)
	}

	attempts := item.Attempts + 1
	err := w.deps.Queue.Transition(ctx, item.ID, token, domain.Transition{
		Status:   domain.StatusDone,
		Attempts: &attempts,
		Result:   res.Data,
	})
	if out, failed := w.transitionFailed(item, err, log); failed {
		return out
	}
	log.Info("job done")
	return outcomeOf(item, OutcomeSucceeded, domain.StatusDone, nil)
}

// retryPolicy carries per-handler overrides of the failure path.
type retryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// fail either schedules a retry (if attempts remain) or marks the item as
// permanently failed.
//
// Retry schedule:
//
//	attempt 1 → backoff[0]  (default 5 m)
//	attempt 2 → backoff[1]  (default 15 m)
//	attempt N > len(backoff) → last backoff entry (clamped)
func (w *Worker) fail(ctx context.Context, item *domain.QueueItem, token string, cause error, p retryPolicy, log *zap.Logger) ItemOutcome {
	attempts := item.Attempts + 1
	maxAttempts := item.MaxAttempts
	if p.maxAttempts > 0 {
		maxAttempts = p.maxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = w.opts.MaxAttempts
	}
	msg := cause.Error()

	t := domain.Transition{Attempts: &attempts, MaxAttempts: &maxAttempts, LastError: &msg}
	if domain.IsPermanent(cause) || attempts >= maxAttempts {
		t.Status = domain.StatusPermanentFailure
	} else {
		delay := p.delay
		if delay <= 0 {
			idx := attempts - 1
			if idx >= len(w.opts.Backoff) {
				idx = len(w.opts.Backoff) - 1
			}
			delay = w.opts.Backoff[idx]
		}
		if delay <= 0 {
			delay = time.Second
		}
		next := w.opts.Now().Add(delay)
		t.Status = domain.StatusFailed
		t.NextRetryAt = &next
	}

	if err := w.deps.Queue.Transition(ctx, item.ID, token, t); err != nil {
		out, _ := w.transitionFailed(item, err, log)
		return out
	}

	log.Warn("item failed",
		zap.Error(cause),
		zap.String("status", string(t.Status)),
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", maxAttempts),
	)
	return outcomeOf(item, OutcomeFailed, t.Status, cause)
}

func (w *Worker) loadContext(ctx context.Context, item *domain.QueueItem) (*domain.Context, error) {
	c, err := w.deps.Contexts.GetByID(ctx, item.ContextID)
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", item.ContextID, err)
	}
	if !c.Active {
		return nil, fmt.Errorf("context %s: %w", c.Slug, domain.ErrContextInactive)
	}
	return c, nil
}

// notifyReview tells an operator about content waiting for review. It is
// best-effort: it runs detached with its own timeout and only logs errors.
func (w *Worker) notifyReview(ctx context.Context, item *domain.QueueItem, c *domain.Context, report dispatch.QualityReport, log *zap.Logger) {
	if w.deps.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.ReviewNotifyTimeout)
	snapshot := *item
	go func() {
		defer cancel()
		if err := w.deps.Notifier.NotifyReview(nctx, &snapshot, c, report); err != nil {
			log.Warn("review notification failed", zap.Error(err))
		}
	}()
}

// fanOut enqueues one distribution item per enabled auxiliary channel.
// Keys are derived from the post id, so repeated fan-out is a no-op.
func (w *Worker) fanOut(ctx context.Context, item *domain.QueueItem, c *domain.Context, content dispatch.Content, postID string, log *zap.Logger) {
	if len(w.opts.DistributionChannels) == 0 {
		return
	}
	snap := domain.DistributionSnapshot{
		Type:         domain.SnapshotTypeDistribution,
		Title:        content.Title,
		Excerpt:      content.Excerpt,
		ParentPostID: postID,
		Lang:         item.Lang,
	}
	if pl, ok := w.deps.Publisher.(dispatch.Permalinker); ok {
		snap.Permalink = pl.Permalink(postID)
	}
	ref, err := json.Marshal(snap)
	if err != nil {
		log.Error("failed to encode distribution snapshot", zap.Error(err))
		return
	}

	for _, ch := range w.opts.DistributionChannels {
		adapter, ok := w.deps.Channels.Get(ch)
		if !ok || !adapter.IsEnabled() {
			continue
		}
		_, err := w.deps.Queue.Insert(ctx, &domain.QueueItem{
			ContextID:   item.ContextID,
			ContentType: domain.ContentTypeDistribution,
			Lang:        item.Lang,
			Channel:     ch,
			SourceRef:   ref,
			UniqueKey:   domain.UniqueKey(c.Slug, domain.ContentTypeDistribution, item.Lang, domain.DistributionIdentifier(postID, ch)),
			Priority:    item.Priority,
			Status:      domain.StatusPending,
			ScheduledAt: w.opts.Now(),
			MaxAttempts: w.opts.MaxAttempts,
		})
		if err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
			log.Error("failed to enqueue distribution item", zap.String("target", string(ch)), zap.Error(err))
		}
	}
}

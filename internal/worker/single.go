package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/domain"
)

// ProcessSingle executes one item by id outside the batch loop.
//
// Skipped and completed items are rejected. The readiness gate runs before
// anything is written, so a transiently unready destination returns
// domain.ErrNotReady and leaves the item as it was. Failed items then get
// their attempt state reset before the lock is taken.
func (w *Worker) ProcessSingle(ctx context.Context, id string) (*ItemOutcome, error) {
	item, err := w.deps.Queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case item.Status == domain.StatusSkipped:
		return nil, domain.ErrItemSkipped
	case item.Status.IsCompleted():
		return nil, domain.ErrItemCompleted
	}

	gate := newReadinessGate(w, false)
	rerr := gate.check(ctx, item)
	if rerr != nil && !rerr.Permanent {
		return nil, rerr
	}

	if item.Status == domain.StatusFailed || item.Status == domain.StatusPermanentFailure {
		if err := w.deps.Queue.ResetForRetry(ctx, id); err != nil {
			return nil, fmt.Errorf("reset item: %w", err)
		}
	}

	token, err := w.deps.Queue.TryLockByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Re-fetch: the item must still carry the token we were just handed.
	fresh, err := w.deps.Queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fresh.HoldsLock(token) {
		return nil, domain.ErrLockLost
	}

	log := w.itemLogger(fresh).With(zap.Bool("manual", true))
	if rerr != nil {
		out := w.skip(ctx, fresh, token, rerr, log)
		return &out, rerr
	}

	out := w.execute(ctx, fresh, token)
	return &out, nil
}

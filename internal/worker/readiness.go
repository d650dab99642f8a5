package worker

import (
	"context"
	"strings"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// readinessGate answers "can this item's destination take work right now".
// In a batch, results are memoized per channel; ProcessSingle uses a fresh,
// non-memoizing gate.
type readinessGate struct {
	w       *Worker
	memoize bool

	primaryChecked bool
	primary        *domain.ReadinessError
	channels       map[domain.Channel]*domain.ReadinessError
}

func newReadinessGate(w *Worker, memoize bool) *readinessGate {
	return &readinessGate{w: w, memoize: memoize, channels: make(map[domain.Channel]*domain.ReadinessError)}
}

// checkPrimary evaluates the generation capability. Not being ready is
// transient: generation may be configured before the next pass.
func (g *readinessGate) checkPrimary(ctx context.Context) *domain.ReadinessError {
	if g.memoize && g.primaryChecked {
		return g.primary
	}
	var rerr *domain.ReadinessError
	if g.w.deps.Generator == nil {
		rerr = &domain.ReadinessError{Channel: domain.ChannelPrimary, Reason: "no generator configured"}
	} else if r := g.w.deps.Generator.CheckReadiness(ctx); !r.Ready {
		reason := strings.Join(r.Errors, "; ")
		if reason == "" {
			reason = "generator not ready"
		}
		rerr = &domain.ReadinessError{Channel: domain.ChannelPrimary, Reason: reason}
	}
	g.primaryChecked = true
	g.primary = rerr
	return rerr
}

// check returns nil when item may be executed.
func (g *readinessGate) check(ctx context.Context, item *domain.QueueItem) *domain.ReadinessError {
	switch {
	case g.w.deps.Handlers.Exists(item.ContentType):
		return nil
	case item.Channel.IsPrimary():
		return g.checkPrimary(ctx)
	default:
		if g.memoize {
			if rerr, seen := g.channels[item.Channel]; seen {
				return rerr
			}
		}
		rerr := checkAdapter(ctx, g.w.deps.Channels, item.Channel)
		g.channels[item.Channel] = rerr
		return rerr
	}
}

// checkAdapter classifies an auxiliary channel. Missing, disabled and
// misconfigured adapters need an operator and are permanent; a failing
// probe is transient.
func checkAdapter(ctx context.Context, reg *dispatch.ChannelRegistry, ch domain.Channel) *domain.ReadinessError {
	adapter, ok := reg.Get(ch)
	if !ok {
		return &domain.ReadinessError{Channel: ch, Reason: "no adapter registered", Permanent: true}
	}
	if !adapter.IsEnabled() {
		return &domain.ReadinessError{Channel: ch, Reason: "adapter disabled", Permanent: true}
	}
	if v := adapter.ValidateConfiguration(); !v.Valid {
		reason := "invalid configuration"
		if v.Message != "" {
			reason += ": " + v.Message
		}
		return &domain.ReadinessError{Channel: ch, Reason: reason, Permanent: true}
	}
	if p, ok := adapter.(dispatch.Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return &domain.ReadinessError{Channel: ch, Reason: "probe failed: " + err.Error()}
		}
	}
	return nil
}

// Package planner decides which content is due and enqueues it idempotently.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/repository"
)

const (
	ResultPlanned = "planned"
	ResultSkipped = "skipped"
)

// RunResult summarises one planner pass.
type RunResult struct {
	Contexts int           `json:"contexts"`
	Planned  int           `json:"planned"`
	Skipped  int           `json:"skipped"`
	Errors   []string      `json:"errors"`
	Duration time.Duration `json:"duration_ns"`
}

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnItem         func(result string)
	OnContextError func()
}

// Options tunes a Planner. Zero values fall back to defaults.
type Options struct {
	Location    *time.Location
	MaxAttempts int
	// Now is the planner clock; tests pin it.
	Now   func() time.Time
	Hooks MetricHooks
}

// Planner walks every active context, every enabled content type and every
// resolved language, and inserts queue items whose unique key is new.
type Planner struct {
	contexts  repository.ContextRepository
	queue     repository.QueueRepository
	policies  *domain.PolicyTable
	languages *language.Resolver
	loc       *time.Location
	attempts  int
	now       func() time.Time
	hooks     MetricHooks
	logger    *zap.Logger
}

func New(
	contexts repository.ContextRepository,
	queue repository.QueueRepository,
	policies *domain.PolicyTable,
	languages *language.Resolver,
	opts Options,
	logger *zap.Logger,
) *Planner {
	p := &Planner{
		contexts: contexts, queue: queue, policies: policies, languages: languages,
		loc: opts.Location, attempts: opts.MaxAttempts, now: opts.Now, hooks: opts.Hooks,
		logger: logger,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.attempts <= 0 {
		p.attempts = 3
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.hooks.OnItem == nil {
		p.hooks.OnItem = func(string) {}
	}
	if p.hooks.OnContextError == nil {
		p.hooks.OnContextError = func() {}
	}
	return p
}

// Run plans every active context. A failure in one context is recorded in
// RunResult.Errors and planning continues with the next; only a failure to
// list contexts aborts the run.
func (p *Planner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{Errors: []string{}}

	contexts, err := p.contexts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	for _, c := range contexts {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("run aborted: %v", err))
			break
		}
		res.Contexts++

		planned, skipped, err := p.PlanContext(ctx, c)
		res.Planned += planned
		res.Skipped += skipped
		if err != nil {
			p.hooks.OnContextError()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.Slug, err))
			p.logger.Warn("planning context failed", zap.String("context", c.Slug), zap.Error(err))
		}
	}

	res.Duration = time.Since(start)
	p.logger.Info("planner run complete",
		zap.Int("contexts", res.Contexts),
		zap.Int("planned", res.Planned),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// PlanContext plans a single context and returns how many items were
// inserted and how many already existed.
func (p *Planner) PlanContext(ctx context.Context, c *domain.Context) (planned, skipped int, err error) {
	if !c.Active {
		return 0, 0, domain.ErrContextInactive
	}
	now := p.now().UTC()
	langs := p.languages.Resolve(c)
	log := p.logger.With(zap.String("context", c.Slug))

	for _, policy := range p.policies.All() {
		if !c.Enables(policy.Name) || !p.applies(policy, c) {
			continue
		}

		for _, cand := range p.candidates(policy, c, now) {
			for _, lang := range langs {
				ok, err := p.enqueue(ctx, policy, c, lang, cand)
				if err != nil {
					return planned, skipped, fmt.Errorf("%s/%s: %w", policy.Name, lang, err)
				}
				if ok {
					planned++
					p.hooks.OnItem(ResultPlanned)
					log.Debug("planned", zap.String("content_type", policy.Name),
						zap.String("lang", lang), zap.String("identifier", cand.identifier))
				} else {
					skipped++
					p.hooks.OnItem(ResultSkipped)
				}
			}
		}
	}
	return planned, skipped, nil
}

// applies reports whether policy is planned for c at all. Contexts with
// source data plan every non-fallback mode; contexts without it plan
// fallback types and, unless purely evergreen, recurring ones.
func (p *Planner) applies(policy domain.Policy, c *domain.Context) bool {
	if c.HasSourceData() {
		return policy.Mode != domain.ModeFallback
	}
	switch policy.Mode {
	case domain.ModeFallback:
		return true
	case domain.ModeRecurring:
		return c.Type != domain.ContextTypeEvergreen
	}
	return false
}

func (p *Planner) candidates(policy domain.Policy, c *domain.Context, now time.Time) []candidate {
	switch policy.Mode {
	case domain.ModeRecurring:
		return recurringCandidates(policy, c, now, p.loc)
	case domain.ModeEvent:
		return eventCandidates(policy, c, now)
	case domain.ModeOnDemand:
		return onDemandCandidates(policy, c, now)
	case domain.ModeFallback:
		return fallbackCandidates(c, now)
	}
	return nil
}

// enqueue inserts one item unless its key, or its legacy key, already
// exists. Losing an insert race to a concurrent planner counts as a skip.
func (p *Planner) enqueue(ctx context.Context, policy domain.Policy, c *domain.Context, lang string, cand candidate) (bool, error) {
	key := domain.UniqueKey(c.Slug, policy.Name, lang, cand.identifier)
	keys := []string{key}
	if policy.LegacyName != "" {
		keys = append(keys, domain.UniqueKey(c.Slug, policy.LegacyName, lang, cand.identifier))
	}

	exists, err := p.queue.ExistsByUniqueKey(ctx, keys...)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ref, err := json.Marshal(cand.ref)
	if err != nil {
		return false, fmt.Errorf("marshal source_ref: %w", err)
	}

	_, err = p.queue.Insert(ctx, &domain.QueueItem{
		ContextID:   c.ID,
		ContentType: policy.Name,
		Lang:        lang,
		Channel:     domain.ChannelPrimary,
		SourceRef:   ref,
		UniqueKey:   key,
		Priority:    policy.Priority,
		Status:      domain.StatusPending,
		ScheduledAt: cand.scheduledAt,
		MaxAttempts: p.attempts,
	})
	if errors.Is(err, domain.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGenerator struct {
	mu      sync.Mutex
	ready   bool
	err     error
	advance time.Duration
	clock   *clock
	calls   map[string]int
	// onGenerate runs inside Generate, after the clock moved.
	onGenerate func(item *domain.QueueItem)
}

func newGenerator(c *clock) *fakeGenerator {
	return &fakeGenerator{ready: true, clock: c, calls: make(map[string]int)}
}

func (g *fakeGenerator) CheckReadiness(context.Context) dispatch.Readiness {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		return dispatch.Readiness{Ready: false, Errors: []string{"api key missing"}}
	}
	return dispatch.Readiness{Ready: true}
}

func (g *fakeGenerator) Generate(_ context.Context, item *domain.QueueItem, _ *domain.Context) (*dispatch.Generation, error) {
	g.mu.Lock()
	g.calls[item.ID]++
	err := g.err
	hook := g.onGenerate
	g.mu.Unlock()

	if g.advance > 0 {
		g.clock.Advance(g.advance)
	}
	if hook != nil {
		hook(item)
	}
	if err != nil {
		return nil, err
	}
	return &dispatch.Generation{
		Content: dispatch.Content{Title: "Title " + item.ContentType, Excerpt: "Short", Body: "Body text"},
		Stats:   dispatch.Stats{Tokens: 120, Cost: 0.01, Duration: time.Second},
	}, nil
}

func (g *fakeGenerator) callCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

type fixedScorer int

func (s fixedScorer) PassesQuality(dispatch.Content) dispatch.QualityReport {
	return dispatch.QualityReport{Passes: int(s) >= 50, Score: int(s)}
}

type fakePublisher struct {
	mu    sync.Mutex
	n     int
	err   error
	calls []domain.Status
}

func (p *fakePublisher) Publish(_ context.Context, _ dispatch.Content, _ *domain.QueueItem, _ *domain.Context, desired domain.Status) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.n++
	p.calls = append(p.calls, desired)
	return fmt.Sprintf("post-%d", p.n), nil
}

func (p *fakePublisher) Permalink(postID string) string {
	return "https://example.test/" + postID
}

type fakeAdapter struct {
	name     domain.Channel
	disabled bool
	invalid  bool
	probeErr error
	pubErr   error

	mu        sync.Mutex
	published []*domain.DistributionSnapshot
}

func (a *fakeAdapter) Name() domain.Channel { return a.name }
func (a *fakeAdapter) IsEnabled() bool      { return !a.disabled }
func (a *fakeAdapter) ValidateConfiguration() dispatch.Validation {
	if a.invalid {
		return dispatch.Validation{Valid: false, Message: "missing endpoint"}
	}
	return dispatch.Validation{Valid: true}
}
func (a *fakeAdapter) Probe(context.Context) error { return a.probeErr }
func (a *fakeAdapter) Publish(_ context.Context, snap *domain.DistributionSnapshot, _ *domain.QueueItem, _ *domain.Context) (*dispatch.PublishResult, error) {
	if a.pubErr != nil {
		return nil, a.pubErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.published = append(a.published, snap)
	return &dispatch.PublishResult{ExternalID: string(a.name) + "-ext"}, nil
}

type fakeNotifier struct {
	notified chan string
}

func (n *fakeNotifier) NotifyReview(_ context.Context, item *domain.QueueItem, _ *domain.Context, _ dispatch.QualityReport) error {
	n.notified <- item.ID
	return errors.New("smtp down, but nobody should care")
}

package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/repository"
	"github.com/presswire/contentqueue/internal/service"
)

var now = time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)

type stubAdapter struct{ name domain.Channel }

func (a stubAdapter) Name() domain.Channel                        { return a.name }
func (a stubAdapter) IsEnabled() bool                             { return true }
func (a stubAdapter) ValidateConfiguration() dispatch.Validation { return dispatch.Validation{Valid: true} }
func (a stubAdapter) Publish(context.Context, *domain.DistributionSnapshot, *domain.QueueItem, *domain.Context) (*dispatch.PublishResult, error) {
	return &dispatch.PublishResult{}, nil
}

type fixture struct {
	svc    *service.ContentService
	queue  *repository.MemoryQueueRepository
	league *domain.Context
	stats  map[domain.Status]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(q *repository.MemoryQueueRepository) repository.QueueRepository { return q })
}

// newFixtureWith lets a test put a wrapper in front of the in-memory store.
func newFixtureWith(t *testing.T, wrap func(*repository.MemoryQueueRepository) repository.QueueRepository) *fixture {
	t.Helper()
	league := &domain.Context{Slug: "league", Type: domain.ContextTypeEvent, Active: true}
	archived := &domain.Context{Slug: "archived", Type: domain.ContextTypeVenue, Active: false}
	contexts := repository.NewMemoryContextRepository(league, archived)

	q := repository.NewMemoryQueueRepository()
	q.Now = func() time.Time { return now }

	policies, err := domain.NewPolicyTable(domain.DefaultPolicies()...)
	if err != nil {
		t.Fatal(err)
	}
	handlers := dispatch.NewHandlerRegistry()
	_ = handlers.Register("sitemap_refresh", dispatch.HandlerFunc(
		func(context.Context, json.RawMessage, string, int) dispatch.HandlerResult {
			return dispatch.HandlerResult{Success: true}
		}))
	channels := dispatch.NewChannelRegistry()
	_ = channels.Register(stubAdapter{name: "webhook"})

	f := &fixture{queue: q, league: league}
	f.svc = service.NewContentService(service.Deps{
		Queue:     wrap(q),
		Contexts:  contexts,
		Policies:  policies,
		Handlers:  handlers,
		Channels:  channels,
		Languages: language.NewResolver(nil, nil, []string{"en", "de"}),
	}, 3, zap.NewNop(),
		service.WithClock(func() time.Time { return now }),
		service.WithStatsHook(func(m map[domain.Status]int) { f.stats = m }),
	)
	return f
}

func TestQueueManual_CreatesPendingItem(t *testing.T) {
	f := newFixture(t)

	item, err := f.svc.QueueManual(context.Background(), domain.ManualEnqueueRequest{
		ContextID:   "league",
		ContentType: "match_preview",
		Lang:        "de_DE",
		SourceRef:   json.RawMessage(`{"key":"final-2025"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.UniqueKey != "league|match_preview|de|final-2025" {
		t.Fatalf("unexpected key %q", item.UniqueKey)
	}
	if item.Status != domain.StatusPending || item.Channel != domain.ChannelPrimary {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Priority != 80 || item.MaxAttempts != 3 || !item.ScheduledAt.Equal(now) {
		t.Fatalf("policy defaults not applied: priority=%d max=%d at=%s", item.Priority, item.MaxAttempts, item.ScheduledAt)
	}
	if item.ContextID != f.league.ID {
		t.Fatalf("context slug must resolve to its id")
	}
}

func TestQueueManual_DefaultIdentifierAndOverrides(t *testing.T) {
	f := newFixture(t)
	prio := 5
	at := now.Add(48 * time.Hour)

	item, err := f.svc.QueueManual(context.Background(), domain.ManualEnqueueRequest{
		ContextID:   f.league.ID,
		ContentType: "sitemap_refresh",
		Lang:        "en",
		Priority:    &prio,
		ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.UniqueKey != "league|sitemap_refresh|en|manual" {
		t.Fatalf("unexpected key %q", item.UniqueKey)
	}
	if item.Priority != 5 || !item.ScheduledAt.Equal(at) {
		t.Fatalf("overrides ignored: %+v", item)
	}
}

func TestQueueManual_Duplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "en"}

	first, err := f.svc.QueueManual(ctx, req)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := f.svc.QueueManual(ctx, req); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	req.AllowDuplicate = true
	second, err := f.svc.QueueManual(ctx, req)
	if err != nil {
		t.Fatalf("allow_duplicate enqueue: %v", err)
	}
	if second.ID == first.ID || !strings.HasPrefix(second.UniqueKey, first.UniqueKey+"|") {
		t.Fatalf("expected suffixed key, got %q", second.UniqueKey)
	}
}

// lateExistsQueue answers the existence check before a concurrent writer
// inserts the same key.
type lateExistsQueue struct {
	*repository.MemoryQueueRepository
}

func (lateExistsQueue) ExistsByUniqueKey(context.Context, ...string) (bool, error) {
	return false, nil
}

func TestQueueManual_AllowDuplicateSurvivesConcurrentInsert(t *testing.T) {
	f := newFixtureWith(t, func(q *repository.MemoryQueueRepository) repository.QueueRepository {
		return lateExistsQueue{q}
	})
	ctx := context.Background()
	req := domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "en"}

	first, err := f.svc.QueueManual(ctx, req)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := f.svc.QueueManual(ctx, req); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("without allow_duplicate the insert conflict must surface, got %v", err)
	}

	req.AllowDuplicate = true
	second, err := f.svc.QueueManual(ctx, req)
	if err != nil {
		t.Fatalf("allow_duplicate must retry with a suffixed key, got %v", err)
	}
	if !strings.HasPrefix(second.UniqueKey, first.UniqueKey+"|") {
		t.Fatalf("expected suffixed key, got %q", second.UniqueKey)
	}
	if n := len(f.queue.All()); n != 2 {
		t.Fatalf("expected 2 stored items, got %d", n)
	}
}

func TestQueueManual_AuxiliaryChannelKey(t *testing.T) {
	f := newFixture(t)
	item, err := f.svc.QueueManual(context.Background(), domain.ManualEnqueueRequest{
		ContextID:   "league",
		ContentType: domain.ContentTypeDistribution,
		Lang:        "en",
		Channel:     "webhook",
		SourceRef:   json.RawMessage(`{"type":"distribution","title":"t","parent_post_id":"9","key":"9"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.UniqueKey != "league|distribution|en|9:webhook" {
		t.Fatalf("unexpected key %q", item.UniqueKey)
	}
}

func TestQueueManual_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  domain.ManualEnqueueRequest
		want error
	}{
		{"missing content type", domain.ManualEnqueueRequest{ContextID: "league", Lang: "en"}, domain.ErrInvalidRequest},
		{"bad source ref", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "en", SourceRef: json.RawMessage(`{`)}, domain.ErrInvalidRequest},
		{"unknown context", domain.ManualEnqueueRequest{ContextID: "nope", ContentType: "venue_guide", Lang: "en"}, domain.ErrNotFound},
		{"inactive context", domain.ManualEnqueueRequest{ContextID: "archived", ContentType: "venue_guide", Lang: "en"}, domain.ErrContextInactive},
		{"unknown content type", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "horoscope", Lang: "en"}, domain.ErrUnknownContentType},
		{"unsupported language", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "fr"}, domain.ErrInvalidLanguage},
		{"unknown channel", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "en", Channel: "fax"}, domain.ErrInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.QueueManual(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if n := len(f.queue.All()); n != 0 {
				t.Fatalf("rejected request inserted %d items", n)
			}
		})
	}
}

func TestStats_ReportsEveryStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, ct := range []string{"venue_guide", "sport_guide"} {
		if _, err := f.svc.QueueManual(ctx, domain.ManualEnqueueRequest{ContextID: "league", ContentType: ct, Lang: "en"}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.StatusPending] != 2 {
		t.Fatalf("expected 2 pending, got %d", counts[domain.StatusPending])
	}
	if len(counts) != len(domain.AllStatuses) {
		t.Fatalf("expected every status in the map, got %v", counts)
	}
	if f.stats[domain.StatusPending] != 2 {
		t.Fatal("stats hook not called")
	}
}

func TestList_ClampsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.QueueManual(ctx, domain.ManualEnqueueRequest{ContextID: "league", ContentType: "venue_guide", Lang: "en"}); err != nil {
		t.Fatal(err)
	}

	items, total, err := f.svc.List(ctx, domain.ListFilter{Page: 0, Limit: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 item, got %d/%d", len(items), total)
	}
}

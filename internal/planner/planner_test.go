package planner_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/planner"
	"github.com/presswire/contentqueue/internal/repository"
)

// wednesday is 2025-06-04, a Wednesday.
var wednesday = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	planner  *planner.Planner
	queue    *repository.MemoryQueueRepository
	contexts *repository.MemoryContextRepository
}

func newFixture(t *testing.T, policies []domain.Policy, contexts ...*domain.Context) fixture {
	t.Helper()
	table, err := domain.NewPolicyTable(policies...)
	require.NoError(t, err)

	q := repository.NewMemoryQueueRepository()
	q.Now = func() time.Time { return wednesday }
	cr := repository.NewMemoryContextRepository(contexts...)

	p := planner.New(cr, q, table,
		language.NewResolver(nil, []string{"en"}, nil),
		planner.Options{Now: func() time.Time { return wednesday }},
		zap.NewNop(),
	)
	return fixture{planner: p, queue: q, contexts: cr}
}

func TestRecurring_WednesdayScenario(t *testing.T) {
	weekly := domain.Policy{Name: "weekly_roundup", Mode: domain.ModeRecurring, LeadDays: 7, Priority: 40, AnchorWeekday: time.Monday, Periods: 2}
	f := newFixture(t, []domain.Policy{weekly}, &domain.Context{Slug: "league", Type: domain.ContextTypeEvent, Active: true})

	res, err := f.planner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Planned)

	items := f.queue.All()
	require.Len(t, items, 2)

	// Monday 2025-06-09 minus 7 days is in the past, so it is clamped to now.
	assert.Equal(t, "league|weekly_roundup|en|2025-06-09", items[0].UniqueKey)
	assert.True(t, items[0].ScheduledAt.Equal(wednesday))

	assert.Equal(t, "league|weekly_roundup|en|2025-06-16", items[1].UniqueKey)
	assert.True(t, items[1].ScheduledAt.Equal(time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 40, items[1].Priority)
}

func TestEvent_WindowScenario(t *testing.T) {
	semi := domain.Event{
		Date: wednesday.Add(5 * 24 * time.Hour), Category: "Football",
		Round: "semi-final", Participants: []string{"Rovers", "Albion"},
	}
	far := semi
	far.Date = wednesday.Add(40 * 24 * time.Hour)
	friendly := domain.Event{Date: wednesday.Add(2 * 24 * time.Hour), Category: "Football", Round: "Group A", Participants: []string{"Rovers"}}

	c := &domain.Context{Slug: "cup", Type: domain.ContextTypeEvent, Active: true, Events: []domain.Event{semi, far, friendly}}

	t.Run("lead 3 includes the event 5 days out", func(t *testing.T) {
		f := newFixture(t, []domain.Policy{{Name: "match_preview", Mode: domain.ModeEvent, LeadDays: 3, WindowDays: 30, Priority: 80}}, c)

		res, err := f.planner.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Planned, "only the significant event inside the window")

		item := f.queue.All()[0]
		assert.Equal(t, "cup|match_preview|en|2025-06-09-football-albion-rovers", item.UniqueKey)
		assert.True(t, item.ScheduledAt.Equal(semi.Date.Add(-3*24*time.Hour)))

		var ref domain.SourceRef
		require.NoError(t, json.Unmarshal(item.SourceRef, &ref))
		require.NotNil(t, ref.Event)
		assert.Equal(t, "semi-final", ref.Event.Round)
	})

	t.Run("lead 14 window excludes the event 40 days out", func(t *testing.T) {
		f := newFixture(t, []domain.Policy{{Name: "tournament_preview", Mode: domain.ModeEvent, LeadDays: 14}},
			&domain.Context{Slug: "cup", Type: domain.ContextTypeEvent, Active: true, Events: []domain.Event{far}})

		res, err := f.planner.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Planned)
	})
}

func TestFallback_PerLanguageAndLegacyKey(t *testing.T) {
	evergreen := domain.Policy{Name: "evergreen_guide", Mode: domain.ModeFallback, Priority: 50, LegacyName: "general_guide"}
	c := &domain.Context{Slug: "city-breaks", Type: domain.ContextTypeEvergreen, Active: true, Languages: []string{"en", "de"}}
	f := newFixture(t, []domain.Policy{evergreen}, c)
	ctx := context.Background()

	// A German item planned under the old content-type name must be honoured.
	stored, _ := f.contexts.GetBySlug(ctx, "city-breaks")
	_, err := f.queue.Insert(ctx, &domain.QueueItem{
		ContextID: stored.ID, ContentType: "general_guide", Lang: "de",
		UniqueKey: domain.UniqueKey("city-breaks", "general_guide", "de", "city-breaks"),
	})
	require.NoError(t, err)

	res, err := f.planner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Planned)
	assert.Equal(t, 1, res.Skipped)

	exists, _ := f.queue.ExistsByUniqueKey(ctx, "city-breaks|evergreen_guide|en|city-breaks")
	assert.True(t, exists)

	again, err := f.planner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Planned)
	assert.Equal(t, 2, again.Skipped)
}

func TestFallback_NotUsedWhenContextHasVenues(t *testing.T) {
	policies := []domain.Policy{
		{Name: "evergreen_guide", Mode: domain.ModeFallback},
		{Name: "venue_guide", Mode: domain.ModeOnDemand, Source: domain.SourceVenues, Priority: 30},
	}
	c := &domain.Context{Slug: "arena", Active: true, Venues: []domain.Venue{{Name: "Main Arena"}, {Name: "Main  Arena"}}}
	f := newFixture(t, policies, c)

	res, err := f.planner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Planned, "duplicate venue slugs collapse")
	assert.Equal(t, "arena|venue_guide|en|main-arena", f.queue.All()[0].UniqueKey)
}

func TestOnDemand_Sources(t *testing.T) {
	c := &domain.Context{
		Slug: "games", Active: true,
		Events: []domain.Event{
			{Date: wednesday.Add(24 * time.Hour), Category: "Tennis", Venue: "Centre Court", City: "London"},
			{Date: wednesday.Add(48 * time.Hour), Category: "tennis"},
			{Date: wednesday.Add(72 * time.Hour), Category: "Rowing", City: "London"},
		},
		Venues: []domain.Venue{{Name: "Centre Court", City: "London", TransportHubs: []string{"Southfields"}}},
	}

	tests := []struct {
		source domain.ItemSource
		want   int
	}{
		{domain.SourceSports, 2},
		{domain.SourceVenues, 1},
		{domain.SourceTransport, 2},
		{domain.SourceDemographics, len(domain.Demographics)},
	}
	for _, tc := range tests {
		t.Run(string(tc.source), func(t *testing.T) {
			f := newFixture(t, []domain.Policy{{Name: "guide", Mode: domain.ModeOnDemand, Source: tc.source}}, c)
			res, err := f.planner.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Planned)
			for _, it := range f.queue.All() {
				assert.True(t, it.ScheduledAt.Equal(wednesday), "on-demand items are due now")
			}
		})
	}
}

func TestRun_Idempotent(t *testing.T) {
	c := &domain.Context{
		Slug: "league", Type: domain.ContextTypeEvent, Active: true, Languages: []string{"en", "fr"},
		Events: []domain.Event{{Date: wednesday.Add(4 * 24 * time.Hour), Category: "Football", Participants: []string{"A", "B"}}},
		Venues: []domain.Venue{{Name: "Stadium", City: "Lyon"}},
	}
	f := newFixture(t, domain.DefaultPolicies(), c)
	ctx := context.Background()

	first, err := f.planner.Run(ctx)
	require.NoError(t, err)
	require.Positive(t, first.Planned)

	second, err := f.planner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Planned)
	assert.Equal(t, first.Planned, second.Skipped)
	assert.Len(t, f.queue.All(), first.Planned)
}

func TestRun_ContextErrorsAreCollected(t *testing.T) {
	f := newFixture(t, []domain.Policy{{Name: "evergreen_guide", Mode: domain.ModeFallback}},
		&domain.Context{Slug: "a", Active: true},
		&domain.Context{Slug: "b", Active: true},
	)
	f.queue.InsertErr = errors.New("disk full")

	res, err := f.planner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Contexts)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "a: ")
	assert.Contains(t, res.Errors[0], "disk full")
}

func TestRun_ListFailureAborts(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicies())
	f.contexts.ListErr = errors.New("db down")

	_, err := f.planner.Run(context.Background())
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "2025-06-09-football-albion-rovers", planner.Slug("2025-06-09 Football Albion Rovers"))
	assert.Equal(t, "first-time-visitors", planner.Slug("  First-time  visitors! "))
	assert.Equal(t, "", planner.Slug("--"))
}

package planner

import (
	"sort"
	"strings"
	"time"

	"github.com/presswire/contentqueue/internal/domain"
)

// candidate is one unit of planned work before languages are applied.
type candidate struct {
	identifier  string
	scheduledAt time.Time
	ref         domain.SourceRef
}

const day = 24 * time.Hour

// recurringCandidates returns one candidate per anchor period: the next
// Periods occurrences of the anchor weekday strictly after today.
func recurringCandidates(p domain.Policy, c *domain.Context, now time.Time, loc *time.Location) []candidate {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	ahead := (int(p.AnchorWeekday) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	periods := p.Periods
	if periods <= 0 {
		periods = 1
	}

	out := make([]candidate, 0, periods)
	for i := 0; i < periods; i++ {
		anchor := today.AddDate(0, 0, ahead+7*i)
		date := anchor.Format(time.DateOnly)
		out = append(out, candidate{
			identifier:  date,
			scheduledAt: clamp(anchor.Add(-p.Lead()), now),
			ref:         domain.SourceRef{Kind: string(domain.ModeRecurring), Key: date, Context: c.Slug, Anchor: date},
		})
	}
	return out
}

// eventCandidates keeps significant events inside (now, now+window].
func eventCandidates(p domain.Policy, c *domain.Context, now time.Time) []candidate {
	horizon := now.Add(p.Window())
	var out []candidate
	for i := range c.Events {
		ev := c.Events[i]
		if ev.Date.IsZero() || !ev.Date.After(now) || ev.Date.After(horizon) {
			continue
		}
		if !ev.IsSignificant() {
			continue
		}
		id := EventIdentifier(ev)
		out = append(out, candidate{
			identifier:  id,
			scheduledAt: clamp(ev.Date.Add(-p.Lead()), now),
			ref:         domain.SourceRef{Kind: string(domain.ModeEvent), Key: id, Context: c.Slug, Event: &ev},
		})
	}
	return out
}

// EventIdentifier derives the key fragment of an event from its date,
// category and sorted participants.
func EventIdentifier(ev domain.Event) string {
	parts := []string{ev.Date.UTC().Format(time.DateOnly), ev.Category}
	parts = append(parts, ev.SortedParticipants()...)
	return Slug(strings.Join(parts, " "))
}

// onDemandCandidates enumerates the policy's item source, all due now.
func onDemandCandidates(p domain.Policy, c *domain.Context, now time.Time) []candidate {
	var out []candidate
	add := func(name string, venue *domain.Venue, extra []string) {
		id := Slug(name)
		if id == "" {
			return
		}
		out = append(out, candidate{
			identifier:  id,
			scheduledAt: now,
			ref: domain.SourceRef{
				Kind: string(domain.ModeOnDemand), Key: id, Context: c.Slug,
				Item: name, Venue: venue, Extra: extra,
			},
		})
	}

	switch p.Source {
	case domain.SourceSports:
		for _, sport := range distinct(eventCategories(c)) {
			add(sport, nil, nil)
		}
	case domain.SourceVenues:
		for i := range c.Venues {
			v := c.Venues[i]
			add(v.Name, &v, nil)
		}
	case domain.SourceTransport:
		for _, d := range transportDestinations(c) {
			add(d.name, d.venue, d.hubs)
		}
	case domain.SourceDemographics:
		for _, audience := range domain.Demographics {
			add(audience, nil, nil)
		}
	}
	return dedupe(out)
}

// fallbackCandidates yields the single context-wide item.
func fallbackCandidates(c *domain.Context, now time.Time) []candidate {
	return []candidate{{
		identifier:  c.Slug,
		scheduledAt: now,
		ref:         domain.SourceRef{Kind: string(domain.ModeFallback), Key: c.Slug, Context: c.Slug},
	}}
}

type destination struct {
	name  string
	venue *domain.Venue
	hubs  []string
}

// transportDestinations derives "how to get there" targets: every configured
// venue (with its transport hubs) plus event venues and host cities not
// covered by one.
func transportDestinations(c *domain.Context) []destination {
	var out []destination
	seen := make(map[string]struct{})
	push := func(d destination) {
		key := Slug(d.name)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}

	for i := range c.Venues {
		v := c.Venues[i]
		push(destination{name: v.Name, venue: &v, hubs: v.TransportHubs})
	}
	for _, ev := range c.Events {
		push(destination{name: ev.Venue})
	}
	for _, v := range c.Venues {
		push(destination{name: v.City})
	}
	for _, ev := range c.Events {
		push(destination{name: ev.City})
	}
	return out
}

func eventCategories(c *domain.Context) []string {
	out := make([]string, 0, len(c.Events))
	for _, ev := range c.Events {
		if cat := strings.TrimSpace(ev.Category); cat != "" {
			out = append(out, cat)
		}
	}
	return out
}

func distinct(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		k := Slug(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []candidate) []candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if _, dup := seen[c.identifier]; dup {
			continue
		}
		seen[c.identifier] = struct{}{}
		out = append(out, c)
	}
	return out
}

func clamp(t, now time.Time) time.Time {
	if t.Before(now) {
		return now
	}
	return t
}

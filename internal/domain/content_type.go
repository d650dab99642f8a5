package domain

import (
	"fmt"
	"sort"
	"time"
)

// PlanningMode is the policy governing when and how often a content type is
// scheduled.
type PlanningMode string

const (
	ModeRecurring PlanningMode = "recurring"
	ModeEvent     PlanningMode = "event"
	ModeOnDemand  PlanningMode = "on_demand"
	ModeFallback  PlanningMode = "fallback"
)

func (m PlanningMode) IsValid() bool {
	switch m {
	case ModeRecurring, ModeEvent, ModeOnDemand, ModeFallback:
		return true
	}
	return false
}

// ItemSource names the list an on-demand content type enumerates.
type ItemSource string

const (
	SourceSports       ItemSource = "sports"
	SourceVenues       ItemSource = "venues"
	SourceTransport    ItemSource = "transport"
	SourceDemographics ItemSource = "demographics"
)

// ContentTypeDistribution is the content type of fan-out items that carry a
// DistributionSnapshot to an auxiliary channel.
const ContentTypeDistribution = "distribution"

// Policy is one row of the content-type policy table.
type Policy struct {
	Name       string       `yaml:"name"`
	Mode       PlanningMode `yaml:"mode"`
	LeadDays   int          `yaml:"lead_days"`
	WindowDays int          `yaml:"window_days"`
	Priority   int          `yaml:"priority"`

	// Recurring mode.
	AnchorWeekday time.Weekday `yaml:"anchor_weekday"`
	Periods       int          `yaml:"periods"`

	// On-demand mode.
	Source ItemSource `yaml:"source"`

	// LegacyName is the content type's previous name. Keys built with it are
	// treated as duplicates so a rename does not resurrect completed work.
	LegacyName string `yaml:"legacy_name"`
}

// Window returns the forward planning window for event-triggered policies.
func (p Policy) Window() time.Duration {
	days := p.WindowDays
	if days <= 0 {
		days = p.LeadDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Lead returns the scheduling offset before the triggering date.
func (p Policy) Lead() time.Duration {
	return time.Duration(p.LeadDays) * 24 * time.Hour
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy: %w: empty name", ErrInvalidPolicy)
	}
	if !p.Mode.IsValid() {
		return fmt.Errorf("policy %q: %w: unknown mode %q", p.Name, ErrInvalidPolicy, p.Mode)
	}
	if p.LeadDays < 0 || p.WindowDays < 0 {
		return fmt.Errorf("policy %q: %w: negative day count", p.Name, ErrInvalidPolicy)
	}
	if p.Mode == ModeOnDemand && p.Source == "" {
		return fmt.Errorf("policy %q: %w: on-demand policy needs a source", p.Name, ErrInvalidPolicy)
	}
	return nil
}

// Demographics is the static audience list enumerated by demographic guides.
var Demographics = []string{"families", "students", "seniors", "first-time visitors", "accessibility"}

// DefaultPolicies is the fixed policy table. Operators may override entries
// from a YAML file at startup.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "weekly_roundup", Mode: ModeRecurring, LeadDays: 7, Priority: 40, AnchorWeekday: time.Monday, Periods: 2},
		{Name: "match_preview", Mode: ModeEvent, LeadDays: 3, WindowDays: 30, Priority: 80},
		{Name: "tournament_preview", Mode: ModeEvent, LeadDays: 14, WindowDays: 30, Priority: 70},
		{Name: "sport_guide", Mode: ModeOnDemand, Priority: 30, Source: SourceSports},
		{Name: "venue_guide", Mode: ModeOnDemand, Priority: 30, Source: SourceVenues},
		{Name: "transport_guide", Mode: ModeOnDemand, Priority: 20, Source: SourceTransport},
		{Name: "audience_guide", Mode: ModeOnDemand, Priority: 10, Source: SourceDemographics},
		{Name: "evergreen_guide", Mode: ModeFallback, Priority: 50, LegacyName: "general_guide"},
	}
}

// PolicyTable is an ordered, name-indexed set of policies.
type PolicyTable struct {
	order    []string
	policies map[string]Policy
}

// NewPolicyTable validates and indexes the given policies. Later entries with
// the same name replace earlier ones, which is how overrides are applied.
func NewPolicyTable(policies ...Policy) (*PolicyTable, error) {
	t := &PolicyTable{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, exists := t.policies[p.Name]; !exists {
			t.order = append(t.order, p.Name)
		}
		t.policies[p.Name] = p
	}
	return t, nil
}

func (t *PolicyTable) Get(name string) (Policy, bool) {
	p, ok := t.policies[name]
	return p, ok
}

// All returns the policies in declaration order.
func (t *PolicyTable) All() []Policy {
	out := make([]Policy, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, t.policies[n])
	}
	return out
}

// Names returns the sorted policy names.
func (t *PolicyTable) Names() []string {
	names := append([]string(nil), t.order...)
	sort.Strings(names)
	return names
}

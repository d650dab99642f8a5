// Package contextfile loads Context definitions and content-type policy
// overrides from YAML.
//
//	contexts:
//	  - slug: city-league
//	    type: event
//	    languages: "en, de"
//	    events:
//	      - date: 2025-06-14T18:00:00Z
//	        category: football
//	        round: final
//	policies:
//	  - name: weekly_roundup
//	    mode: recurring
//	    anchor_weekday: wednesday
package contextfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/presswire/contentqueue/internal/config"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/repository"
)

// File is the document root.
type File struct {
	Contexts []ContextEntry `yaml:"contexts"`
	Policies []PolicyEntry  `yaml:"policies"`
}

type ContextEntry struct {
	Slug         string              `yaml:"slug"`
	Name         string              `yaml:"name"`
	Type         domain.ContextType  `yaml:"type"`
	Active       *bool               `yaml:"active"`
	Languages    config.LanguageList `yaml:"languages"`
	Events       []domain.Event      `yaml:"events"`
	Venues       []domain.Venue      `yaml:"venues"`
	ContentTypes []string            `yaml:"content_types"`
	Prompts      map[string]string   `yaml:"prompts"`
}

type PolicyEntry struct {
	Name          string              `yaml:"name"`
	Mode          domain.PlanningMode `yaml:"mode"`
	LeadDays      int                 `yaml:"lead_days"`
	WindowDays    int                 `yaml:"window_days"`
	Priority      int                 `yaml:"priority"`
	AnchorWeekday string              `yaml:"anchor_weekday"`
	Periods       int                 `yaml:"periods"`
	Source        domain.ItemSource   `yaml:"source"`
	LegacyName    string              `yaml:"legacy_name"`
}

// LoadFile reads and parses path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data strictly: unknown keys are errors.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &f, nil
}

// ContextModels converts and validates the context entries.
func (f *File) ContextModels() ([]*domain.Context, error) {
	seen := make(map[string]struct{}, len(f.Contexts))
	out := make([]*domain.Context, 0, len(f.Contexts))
	for i, e := range f.Contexts {
		slug := strings.TrimSpace(e.Slug)
		if slug == "" {
			return nil, fmt.Errorf("contexts[%d]: %w: empty slug", i, domain.ErrInvalidContext)
		}
		if _, dup := seen[slug]; dup {
			return nil, fmt.Errorf("contexts[%d]: %w: duplicate slug %q", i, domain.ErrInvalidContext, slug)
		}
		seen[slug] = struct{}{}

		typ := e.Type
		if typ == "" {
			typ = domain.ContextTypeEvent
		}
		switch typ {
		case domain.ContextTypeEvent, domain.ContextTypeVenue, domain.ContextTypeEvergreen:
		default:
			return nil, fmt.Errorf("context %q: %w: unknown type %q", slug, domain.ErrInvalidContext, typ)
		}

		active := true
		if e.Active != nil {
			active = *e.Active
		}
		out = append(out, &domain.Context{
			Slug:         slug,
			Name:         e.Name,
			Type:         typ,
			Active:       active,
			Languages:    []string(e.Languages),
			Events:       e.Events,
			Venues:       e.Venues,
			ContentTypes: e.ContentTypes,
			Prompts:      e.Prompts,
		})
	}
	return out, nil
}

// PolicyOverrides converts the policy entries. They are validated when the
// policy table is built.
func (f *File) PolicyOverrides() ([]domain.Policy, error) {
	out := make([]domain.Policy, 0, len(f.Policies))
	for _, e := range f.Policies {
		p := domain.Policy{
			Name:       e.Name,
			Mode:       e.Mode,
			LeadDays:   e.LeadDays,
			WindowDays: e.WindowDays,
			Priority:   e.Priority,
			Periods:    e.Periods,
			Source:     e.Source,
			LegacyName: e.LegacyName,
		}
		if e.AnchorWeekday != "" {
			wd, err := ParseWeekday(e.AnchorWeekday)
			if err != nil {
				return nil, fmt.Errorf("policy %q: %w", e.Name, err)
			}
			p.AnchorWeekday = wd
		}
		out = append(out, p)
	}
	return out, nil
}

// PolicyTable layers overrides on top of base. An override replaces the
// base policy with the same name.
func PolicyTable(base, overrides []domain.Policy) (*domain.PolicyTable, error) {
	all := make([]domain.Policy, 0, len(base)+len(overrides))
	all = append(all, base...)
	all = append(all, overrides...)
	return domain.NewPolicyTable(all...)
}

// ParseWeekday accepts full or three-letter English names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", domain.ErrInvalidPolicy, s)
}

// Import upserts contexts into repo and returns how many were written.
func Import(ctx context.Context, repo repository.ContextRepository, contexts []*domain.Context, logger *zap.Logger) (int, error) {
	n := 0
	for _, c := range contexts {
		id, err := repo.Upsert(ctx, c)
		if err != nil {
			return n, fmt.Errorf("upsert context %q: %w", c.Slug, err)
		}
		logger.Info("context imported", zap.String("context", c.Slug), zap.String("context_id", id), zap.Bool("active", c.Active))
		n++
	}
	return n, nil
}

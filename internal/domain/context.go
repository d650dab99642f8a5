package domain

import (
	"sort"
	"strings"
	"time"
)

// ContextType classifies a content source.
type ContextType string

const (
	ContextTypeEvent     ContextType = "event"
	ContextTypeVenue     ContextType = "venue"
	ContextTypeEvergreen ContextType = "evergreen"
)

// Event is one dated happening inside a Context (a match, a race, a concert).
type Event struct {
	Date         time.Time `json:"date" yaml:"date"`
	Category     string    `json:"category" yaml:"category"`
	Round        string    `json:"round,omitempty" yaml:"round"`
	Participants []string  `json:"participants,omitempty" yaml:"participants"`
	Venue        string    `json:"venue,omitempty" yaml:"venue"`
	City         string    `json:"city,omitempty" yaml:"city"`
	Title        string    `json:"title,omitempty" yaml:"title"`
}

// significantRounds are round names that make an event worth a preview on
// their own, regardless of how many participants are listed.
var significantRounds = []string{
	"final", "semi-final", "semifinal", "semi final",
	"quarter-final", "quarterfinal", "quarter final",
	"playoff", "play-off", "derby", "championship",
}

// IsSignificant reports whether the event is a knockout/headline round or
// has at least two competing parties.
func (e Event) IsSignificant() bool {
	round := strings.ToLower(strings.TrimSpace(e.Round))
	if round != "" {
		for _, r := range significantRounds {
			if strings.Contains(round, r) {
				return true
			}
		}
	}
	n := 0
	for _, p := range e.Participants {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n >= 2
}

// SortedParticipants returns the trimmed, non-empty participants in a stable order.
func (e Event) SortedParticipants() []string {
	out := make([]string, 0, len(e.Participants))
	for _, p := range e.Participants {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Venue is a physical location content can be written about.
type Venue struct {
	Name          string   `json:"name" yaml:"name"`
	City          string   `json:"city,omitempty" yaml:"city"`
	Address       string   `json:"address,omitempty" yaml:"address"`
	TransportHubs []string `json:"transport_hubs,omitempty" yaml:"transport_hubs"`
}

// Context is the operator-managed configuration of a content source.
// The scheduler only reads it.
type Context struct {
	ID           string            `json:"id"`
	Slug         string            `json:"slug"`
	Name         string            `json:"name"`
	Type         ContextType       `json:"type"`
	Active       bool              `json:"active"`
	Languages    []string          `json:"languages,omitempty"`
	Events       []Event           `json:"events,omitempty"`
	Venues       []Venue           `json:"venues,omitempty"`
	ContentTypes []string          `json:"content_types,omitempty"`
	Prompts      map[string]string `json:"prompts,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HasSourceData reports whether the context carries events or venues.
func (c *Context) HasSourceData() bool {
	return len(c.Events) > 0 || len(c.Venues) > 0
}

// Enables reports whether contentType is enabled for this context. An empty
// override list enables every content type.
func (c *Context) Enables(contentType string) bool {
	if len(c.ContentTypes) == 0 {
		return true
	}
	for _, ct := range c.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Prompt returns the per-context prompt override for contentType, if any.
func (c *Context) Prompt(contentType string) (string, bool) {
	p, ok := c.Prompts[contentType]
	return p, ok && strings.TrimSpace(p) != ""
}

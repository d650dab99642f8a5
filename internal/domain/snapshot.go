package domain

import (
	"encoding/json"
	"fmt"
)

// SnapshotTypeDistribution tags a source_ref carrying a pre-generated piece
// of content for an auxiliary channel.
const SnapshotTypeDistribution = "distribution"

// DistributionSnapshot is the source_ref shape consumed by channel adapters.
type DistributionSnapshot struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Excerpt      string `json:"excerpt,omitempty"`
	Permalink    string `json:"permalink,omitempty"`
	ParentPostID string `json:"parent_post_id"`
	Lang         string `json:"lang,omitempty"`
}

// DecodeDistributionSnapshot parses raw and rejects payloads whose type tag
// does not match the distribution shape. Rejections are permanent.
func DecodeDistributionSnapshot(raw json.RawMessage) (*DistributionSnapshot, error) {
	if len(raw) == 0 {
		return nil, Permanent(fmt.Errorf("%w: empty source_ref", ErrInvalidSnapshot))
	}
	var s DistributionSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrInvalidSnapshot, err))
	}
	if s.Type != SnapshotTypeDistribution {
		return nil, Permanent(fmt.Errorf("%w: type %q, want %q", ErrInvalidSnapshot, s.Type, SnapshotTypeDistribution))
	}
	if s.ParentPostID == "" {
		return nil, Permanent(fmt.Errorf("%w: missing parent_post_id", ErrInvalidSnapshot))
	}
	return &s, nil
}

// SourceRef is the envelope the planner writes into source_ref for generated
// content. Exactly one of the optional payload fields is set.
type SourceRef struct {
	Kind    string   `json:"kind"`
	Key     string   `json:"key"`
	Context string   `json:"context"`
	Anchor  string   `json:"anchor,omitempty"`
	Event   *Event   `json:"event,omitempty"`
	Venue   *Venue   `json:"venue,omitempty"`
	Item    string   `json:"item,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

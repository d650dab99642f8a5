package domain

import (
	"encoding/json"
	"time"
)

// Channel is the destination a queue item is delivered to.
type Channel string

// ChannelPrimary is the publishing site itself. Every other channel is an
// auxiliary distribution destination resolved through the channel registry.
const ChannelPrimary Channel = "site"

func (c Channel) IsPrimary() bool {
	return c == "" || c == ChannelPrimary
}

// Status tracks the lifecycle of a queue item.
type Status string

const (
	StatusPending          Status = "pending"
	StatusLocked           Status = "locked"
	StatusGenerating       Status = "generating"
	StatusProcessing       Status = "processing"
	StatusReview           Status = "review"
	StatusPublished        Status = "published"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
	StatusPermanentFailure Status = "permanent_failure"
	StatusSkipped          Status = "skipped"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusLocked, StatusGenerating, StatusProcessing,
	StatusReview, StatusPublished, StatusDone,
	StatusFailed, StatusPermanentFailure, StatusSkipped,
}

func (s Status) IsValid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item will never be picked up again by the
// batch loop.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReview, StatusPublished, StatusDone, StatusPermanentFailure, StatusSkipped:
		return true
	}
	return false
}

// IsCompleted reports a successful terminal outcome.
func (s Status) IsCompleted() bool {
	switch s {
	case StatusReview, StatusPublished, StatusDone:
		return true
	}
	return false
}

// InFlight reports statuses that are only valid while a lock is held.
func (s Status) InFlight() bool {
	switch s {
	case StatusLocked, StatusGenerating, StatusProcessing:
		return true
	}
	return false
}

// QueueItem is one unit of scheduled content work.
type QueueItem struct {
	ID           string          `json:"id"`
	ContextID    string          `json:"context_id"`
	ContentType  string          `json:"content_type"`
	Lang         string          `json:"lang"`
	Channel      Channel         `json:"channel"`
	SourceRef    json.RawMessage `json:"source_ref,omitempty"`
	UniqueKey    string          `json:"unique_key"`
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	LockToken    *string         `json:"-"`
	LockedAt     *time.Time      `json:"locked_at,omitempty"`
	LastError    *string         `json:"last_error,omitempty"`
	PostID       *string         `json:"post_id,omitempty"`
	ExternalID   *string         `json:"external_id,omitempty"`
	QualityScore *int            `json:"quality_score,omitempty"`
	TokensUsed   int             `json:"tokens_used"`
	Cost         float64         `json:"cost"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// HoldsLock reports whether token is the item's current lock token.
func (q *QueueItem) HoldsLock(token string) bool {
	return q.LockToken != nil && token != "" && *q.LockToken == token
}

// Transition describes a token-verified state change. Nil pointer fields are
// left untouched by the store.
type Transition struct {
	Status       Status
	Attempts     *int
	MaxAttempts  *int
	NextRetryAt  *time.Time
	LastError    *string
	PostID       *string
	ExternalID   *string
	QualityScore *int
	TokensUsed   *int
	Cost         *float64
	Result       json.RawMessage
}

// ReleasesLock reports whether the store should clear the lock when applying
// the transition. Only in-flight statuses keep the owner's token.
func (t Transition) ReleasesLock() bool {
	return !t.Status.InFlight()
}

// ListFilter holds query parameters for paginated queue listing.
type ListFilter struct {
	Status    *Status
	Channel   *Channel
	ContextID *string
	Page      int
	Limit     int
}

// LockFilter narrows the candidate set of LockNextEligible.
type LockFilter struct {
	ExcludeIDs      []string
	ExcludeChannels []Channel
}

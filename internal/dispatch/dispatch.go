// Package dispatch defines the collaborators the worker hands queue items to
// and the registries that resolve them by name.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/presswire/contentqueue/internal/domain"
)

// Readiness is the outcome of a readiness check.
type Readiness struct {
	Ready  bool
	Errors []string
}

// Content is one generated piece.
type Content struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Body    string `json:"body"`
}

// Stats records what generation cost.
type Stats struct {
	Tokens   int
	Cost     float64
	Duration time.Duration
}

// Generation is the result of Generator.Generate.
type Generation struct {
	Content Content
	Stats   Stats
}

// Generator produces content for primary-channel items.
type Generator interface {
	CheckReadiness(ctx context.Context) Readiness
	Generate(ctx context.Context, item *domain.QueueItem, c *domain.Context) (*Generation, error)
}

// QualityReport is the outcome of a quality assessment. Score is 0..100.
type QualityReport struct {
	Passes    bool           `json:"passes"`
	Score     int            `json:"score"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// Scorer rates generated content. A low score is not an error.
type Scorer interface {
	PassesQuality(content Content) QualityReport
}

// Publisher persists content on the primary site and returns its post id.
type Publisher interface {
	Publish(ctx context.Context, content Content, item *domain.QueueItem, c *domain.Context, desired domain.Status) (string, error)
}

// Validation reports whether an adapter's configuration is usable.
type Validation struct {
	Valid   bool
	Message string
}

// PublishResult is what an auxiliary channel reports back.
type PublishResult struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url,omitempty"`
}

// ChannelAdapter delivers distribution snapshots to an auxiliary channel.
type ChannelAdapter interface {
	Name() domain.Channel
	IsEnabled() bool
	ValidateConfiguration() Validation
	Publish(ctx context.Context, snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context) (*PublishResult, error)
}

// Prober is implemented by adapters that can check transient availability
// of their backend. A failing probe defers items instead of skipping them.
type Prober interface {
	Probe(ctx context.Context) error
}

// HandlerResult is returned by JobHandler.Handle.
type HandlerResult struct {
	Success   bool
	Retryable bool
	// RetryDelay and MaxAttempts override the worker defaults when positive.
	RetryDelay  time.Duration
	MaxAttempts int
	Data        json.RawMessage
	Err         error
}

// JobHandler executes generic, non-content queue items.
type JobHandler interface {
	Handle(ctx context.Context, payload json.RawMessage, itemID string, attempt int) HandlerResult
}

// HandlerFunc adapts a function to JobHandler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage, itemID string, attempt int) HandlerResult

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage, itemID string, attempt int) HandlerResult {
	return f(ctx, payload, itemID, attempt)
}

// Notifier tells operators that an item is waiting for review.
type Notifier interface {
	NotifyReview(ctx context.Context, item *domain.QueueItem, c *domain.Context, report QualityReport) error
}

// Permalinker is implemented by publishers that can resolve the public URL
// of a post. Distribution snapshots carry it when available.
type Permalinker interface {
	Permalink(postID string) string
}

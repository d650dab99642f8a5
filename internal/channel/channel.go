// Package channel holds the auxiliary distribution adapters. Each adapter
// receives a DistributionSnapshot produced by the primary pipeline and
// forwards it to one external system.
package channel

import (
	"time"

	"github.com/presswire/contentqueue/internal/domain"
)

// Adapter names as they appear in DISTRIBUTION_CHANNELS.
const (
	NameWebhook    domain.Channel = "webhook"
	NameS3         domain.Channel = "s3"
	NameOpenSearch domain.Channel = "opensearch"
	NameRedis      domain.Channel = "redis"
)

// Document is the payload every adapter ships, in its own encoding.
type Document struct {
	ItemID       string    `json:"item_id"`
	Context      string    `json:"context"`
	ContentType  string    `json:"content_type"`
	Lang         string    `json:"lang"`
	Title        string    `json:"title"`
	Excerpt      string    `json:"excerpt,omitempty"`
	Permalink    string    `json:"permalink,omitempty"`
	ParentPostID string    `json:"parent_post_id"`
	PublishedAt  time.Time `json:"published_at"`
}

func newDocument(snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context, now time.Time) Document {
	lang := snap.Lang
	if lang == "" {
		lang = item.Lang
	}
	return Document{
		ItemID:       item.ID,
		Context:      c.Slug,
		ContentType:  item.ContentType,
		Lang:         lang,
		Title:        snap.Title,
		Excerpt:      snap.Excerpt,
		Permalink:    snap.Permalink,
		ParentPostID: snap.ParentPostID,
		PublishedAt:  now.UTC(),
	}
}

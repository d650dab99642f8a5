package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// RedisStream appends distributed posts to a capped Redis stream that
// downstream consumers (feeds, social bots) read from.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	now    func() time.Time
}

// NewRedisStream wraps client. A nil client yields a disabled adapter.
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen, now: time.Now}
}

// NewRedisClient parses a redis:// URL without connecting.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (r *RedisStream) Name() domain.Channel { return NameRedis }

func (r *RedisStream) IsEnabled() bool { return r.client != nil }

func (r *RedisStream) ValidateConfiguration() dispatch.Validation {
	if r.stream == "" {
		return dispatch.Validation{Message: "REDIS_STREAM is empty"}
	}
	return dispatch.Validation{Valid: true}
}

func (r *RedisStream) Probe(ctx context.Context) error {
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish returns the stream entry id as the external id.
func (r *RedisStream) Publish(ctx context.Context, snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context) (*dispatch.PublishResult, error) {
	doc := newDocument(snap, item, c, r.now())
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"item_id":        doc.ItemID,
			"context":        doc.Context,
			"content_type":   doc.ContentType,
			"lang":           doc.Lang,
			"title":          doc.Title,
			"excerpt":        doc.Excerpt,
			"permalink":      doc.Permalink,
			"parent_post_id": doc.ParentPostID,
			"published_at":   doc.PublishedAt.Format(time.RFC3339),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return &dispatch.PublishResult{ExternalID: id}, nil
}

var (
	_ dispatch.ChannelAdapter = (*RedisStream)(nil)
	_ dispatch.Prober         = (*RedisStream)(nil)
)

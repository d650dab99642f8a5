// Package notify tells operators about content that is waiting for review.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// ErrInvalidConfig is returned by constructors for unusable settings.
var ErrInvalidConfig = errors.New("invalid notifier configuration")

// EmailSender is the part of the Postmark client the notifier uses.
type EmailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// ReviewTag groups review emails in Postmark's activity feed.
const ReviewTag = "content-review"

var reviewBody = template.Must(template.New("review").Parse(`<p>A new {{.ContentType}} item for <strong>{{.Context}}</strong> ({{.Lang}}) is waiting for review.</p>
<ul>
<li>Queue item: {{.ItemID}}</li>
<li>Post: {{.PostID}}</li>
<li>Quality score: {{.Score}}/100</li>
</ul>`))

type reviewData struct {
	ItemID      string
	ContentType string
	Context     string
	Lang        string
	PostID      string
	Score       int
}

// PostmarkNotifier sends one email per item routed to review.
type PostmarkNotifier struct {
	sender EmailSender
	from   string
	to     string
}

// NewPostmarkNotifier validates the addresses and wraps sender.
func NewPostmarkNotifier(sender EmailSender, from, to string) (*PostmarkNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: no email sender", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("%w: REVIEW_NOTIFY_FROM: %v", ErrInvalidConfig, err)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("%w: REVIEW_NOTIFY_TO: %v", ErrInvalidConfig, err)
	}
	return &PostmarkNotifier{sender: sender, from: from, to: to}, nil
}

// NewPostmarkClient builds the real client from server and account tokens.
func NewPostmarkClient(serverToken, accountToken string) *postmark.Client {
	return postmark.NewClient(serverToken, accountToken)
}

func (n *PostmarkNotifier) NotifyReview(ctx context.Context, item *domain.QueueItem, c *domain.Context, report dispatch.QualityReport) error {
	data := reviewData{
		ItemID:      item.ID,
		ContentType: item.ContentType,
		Context:     c.Slug,
		Lang:        item.Lang,
		Score:       report.Score,
	}
	if item.PostID != nil {
		data.PostID = *item.PostID
	}

	var body bytes.Buffer
	if err := reviewBody.Execute(&body, data); err != nil {
		return fmt.Errorf("render review email: %w", err)
	}

	resp, err := n.sender.SendEmail(ctx, postmark.Email{
		From:     n.from,
		To:       n.to,
		Subject:  fmt.Sprintf("[%s] %s ready for review", c.Slug, item.ContentType),
		Tag:      ReviewTag,
		HTMLBody: body.String(),
	})
	if err != nil {
		return fmt.Errorf("send review email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// LogNotifier only logs. It is used when no email transport is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReview(_ context.Context, item *domain.QueueItem, c *domain.Context, report dispatch.QualityReport) error {
	fields := []zap.Field{
		zap.String("item_id", item.ID),
		zap.String("context", c.Slug),
		zap.String("content_type", item.ContentType),
		zap.String("lang", item.Lang),
		zap.Int("quality_score", report.Score),
	}
	if item.PostID != nil {
		fields = append(fields, zap.String("post_id", *item.PostID))
	}
	n.logger.Info("content waiting for review", fields...)
	return nil
}

var (
	_ dispatch.Notifier = (*PostmarkNotifier)(nil)
	_ dispatch.Notifier = (*LogNotifier)(nil)
)

package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/notify"
)

type fakeSender struct {
	sent []postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, e postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, e)
	return f.resp, f.err
}

func reviewItem() (*domain.QueueItem, *domain.Context) {
	post := "42"
	return &domain.QueueItem{ID: "item-1", ContentType: "match_preview", Lang: "en", PostID: &post},
		&domain.Context{Slug: "league"}
}

func TestPostmarkNotifier_SendsReviewEmail(t *testing.T) {
	sender := &fakeSender{}
	n, err := notify.NewPostmarkNotifier(sender, "bot@example.com", "editors@example.com")
	require.NoError(t, err)

	item, c := reviewItem()
	require.NoError(t, n.NotifyReview(context.Background(), item, c, dispatch.QualityReport{Score: 62}))

	require.Len(t, sender.sent, 1)
	e := sender.sent[0]
	assert.Equal(t, "editors@example.com", e.To)
	assert.Equal(t, notify.ReviewTag, e.Tag)
	assert.Equal(t, "[league] match_preview ready for review", e.Subject)
	assert.Contains(t, e.HTMLBody, "62/100")
	assert.Contains(t, e.HTMLBody, "Post: 42")
}

func TestPostmarkNotifier_Errors(t *testing.T) {
	item, c := reviewItem()

	n, _ := notify.NewPostmarkNotifier(&fakeSender{err: errors.New("timeout")}, "bot@example.com", "editors@example.com")
	assert.Error(t, n.NotifyReview(context.Background(), item, c, dispatch.QualityReport{}))

	n, _ = notify.NewPostmarkNotifier(&fakeSender{resp: postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}}, "bot@example.com", "editors@example.com")
	err := n.NotifyReview(context.Background(), item, c, dispatch.QualityReport{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "406")
}

func TestNewPostmarkNotifier_InvalidConfig(t *testing.T) {
	_, err := notify.NewPostmarkNotifier(&fakeSender{}, "not-an-address", "editors@example.com")
	assert.ErrorIs(t, err, notify.ErrInvalidConfig)

	_, err = notify.NewPostmarkNotifier(nil, "bot@example.com", "editors@example.com")
	assert.ErrorIs(t, err, notify.ErrInvalidConfig)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := notify.NewLogNotifier(zap.New(core))

	item, c := reviewItem()
	require.NoError(t, n.NotifyReview(context.Background(), item, c, dispatch.QualityReport{Score: 40}))

	entries := logs.FilterMessage("content waiting for review").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].ContextMap()["post_id"])
}

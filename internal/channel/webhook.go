package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// webhook secret is configured.
const SignatureHeader = "X-Signature-256"

// Webhook POSTs distribution documents to an HTTP endpoint.
type Webhook struct {
	url        string
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

func NewWebhook(endpoint, secret string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:        endpoint,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (w *Webhook) Name() domain.Channel { return NameWebhook }

func (w *Webhook) IsEnabled() bool { return w.url != "" }

func (w *Webhook) ValidateConfiguration() dispatch.Validation {
	u, err := url.Parse(w.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return dispatch.Validation{Message: fmt.Sprintf("WEBHOOK_URL %q is not an absolute http(s) URL", w.url)}
	}
	return dispatch.Validation{Valid: true}
}

// Publish expects any 2xx. 4xx responses other than 408 and 429 mean the
// receiver will never accept this document and are permanent.
func (w *Webhook) Publish(ctx context.Context, snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context) (*dispatch.PublishResult, error) {
	body, err := json.Marshal(newDocument(snap, item, c, w.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.UniqueKey)
	if len(w.secret) > 0 {
		mac := hmac.New(sha256.New, w.secret)
		mac.Write(body)
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return nil, fmt.Errorf("unexpected webhook status: %d", code)
	default:
		return nil, domain.Permanent(fmt.Errorf("webhook rejected document: %d", code))
	}

	var ack struct {
		ID string `json:"id"`
	}
	// The receiver's body is optional.
	_ = json.NewDecoder(resp.Body).Decode(&ack)
	if ack.ID == "" {
		ack.ID = item.ID
	}
	return &dispatch.PublishResult{ExternalID: ack.ID}, nil
}

var _ dispatch.ChannelAdapter = (*Webhook)(nil)

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// PostRequest is the JSON body posted to the CMS.
type PostRequest struct {
	Title   string            `json:"title"`
	Excerpt string            `json:"excerpt"`
	Content string            `json:"content"`
	Status  string            `json:"status"`
	Lang    string            `json:"lang"`
	Meta    map[string]string `json:"meta"`
}

// PostResponse maps the CMS's 201 Created response body.
type PostResponse struct {
	ID   json.Number `json:"id"`
	Link string      `json:"link"`
}

// CMSPublisher creates posts through the primary site's REST API.
// The base URL is injected from config so tests can point to a local mock.
type CMSPublisher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewCMSPublisher(baseURL, token string, timeout time.Duration) *CMSPublisher {
	return &CMSPublisher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Publish posts content as a draft (review) or a live post (published) and
// returns the CMS post id.
func (p *CMSPublisher) Publish(ctx context.Context, content dispatch.Content, item *domain.QueueItem, c *domain.Context, desired domain.Status) (string, error) {
	if p.baseURL == "" {
		return "", domain.Permanent(fmt.Errorf("CMS_BASE_URL is not configured"))
	}

	status := "draft"
	if desired == domain.StatusPublished {
		status = "publish"
	}
	body, err := json.Marshal(PostRequest{
		Title:   content.Title,
		Excerpt: content.Excerpt,
		Content: content.Body,
		Status:  status,
		Lang:    item.Lang,
		Meta: map[string]string{
			"queue_item_id": item.ID,
			"unique_key":    item.UniqueKey,
			"content_type":  item.ContentType,
			"context":       c.Slug,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/posts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.Permanent(fmt.Errorf("CMS rejected credentials: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected CMS status: %d", resp.StatusCode)
	}

	var postResp PostResponse
	if err := json.NewDecoder(resp.Body).Decode(&postResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if postResp.ID == "" {
		return "", fmt.Errorf("CMS response carries no post id")
	}
	return postResp.ID.String(), nil
}

// Permalink resolves the canonical short link of a post.
func (p *CMSPublisher) Permalink(postID string) string {
	return p.baseURL + "/?p=" + postID
}

// compile-time checks
var (
	_ dispatch.Publisher   = (*CMSPublisher)(nil)
	_ dispatch.Permalinker = (*CMSPublisher)(nil)
)

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/presswire/contentqueue/internal/dispatch"
)

// ContentTypeSearchRefresh is the generic job that makes freshly indexed
// posts visible to search before the cluster's own refresh interval.
const ContentTypeSearchRefresh = "search_refresh"

// SearchRefresh refreshes the search index. It runs through the handler
// registry, not as a distribution channel.
type SearchRefresh struct {
	index *OpenSearchIndex
}

func NewSearchRefresh(index *OpenSearchIndex) *SearchRefresh {
	return &SearchRefresh{index: index}
}

type refreshPayload struct {
	// Index overrides the configured index.
	Index string `json:"index"`
}

func (h *SearchRefresh) Handle(ctx context.Context, payload json.RawMessage, _ string, _ int) dispatch.HandlerResult {
	if !h.index.IsEnabled() {
		return dispatch.HandlerResult{Err: errors.New("opensearch is not configured")}
	}

	var p refreshPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return dispatch.HandlerResult{Err: fmt.Errorf("decode payload: %w", err)}
		}
	}
	if p.Index == "" {
		p.Index = h.index.index
	}

	res, err := opensearchapi.IndicesRefreshRequest{Index: []string{p.Index}}.Do(ctx, h.index.client)
	if err != nil {
		return dispatch.HandlerResult{Retryable: true, RetryDelay: time.Minute, Err: fmt.Errorf("refresh %s: %w", p.Index, err)}
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("refresh %s: %s", p.Index, res.Status())
		retryable := res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500
		return dispatch.HandlerResult{Retryable: retryable, RetryDelay: time.Minute, Err: err}
	}

	data, _ := json.Marshal(map[string]string{"index": p.Index})
	return dispatch.HandlerResult{Success: true, Data: data}
}

var _ dispatch.JobHandler = (*SearchRefresh)(nil)

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/presswire/contentqueue/internal/config"
	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
)

// OpenSearchIndex indexes distributed posts for site search.
type OpenSearchIndex struct {
	client *opensearch.Client
	index  string
	now    func() time.Time
}

// NewOpenSearchIndex creates the client without contacting the cluster;
// availability is checked per batch through Probe. No addresses yields a
// disabled adapter.
func NewOpenSearchIndex(cfg config.OpenSearchConfig) (*OpenSearchIndex, error) {
	a := &OpenSearchIndex{index: cfg.Index, now: time.Now}
	if len(cfg.Addresses) == 0 {
		return a, nil
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	a.client = client
	return a, nil
}

func (a *OpenSearchIndex) Name() domain.Channel { return NameOpenSearch }

func (a *OpenSearchIndex) IsEnabled() bool { return a.client != nil }

func (a *OpenSearchIndex) ValidateConfiguration() dispatch.Validation {
	if a.index == "" {
		return dispatch.Validation{Message: "OPENSEARCH_INDEX is empty"}
	}
	return dispatch.Validation{Valid: true}
}

func (a *OpenSearchIndex) Probe(ctx context.Context) error {
	res, err := a.client.Info(a.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opensearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch info: %s", res.Status())
	}
	return nil
}

// Publish upserts the document under the queue item id, so a retried
// delivery replaces rather than duplicates the entry.
func (a *OpenSearchIndex) Publish(ctx context.Context, snap *domain.DistributionSnapshot, item *domain.QueueItem, c *domain.Context) (*dispatch.PublishResult, error) {
	body, err := json.Marshal(newDocument(snap, item, c, a.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      a.index,
		DocumentID: item.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := errors.New("index document: " + res.Status())
		switch res.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return nil, domain.Permanent(err)
		}
		return nil, err
	}

	var ack struct {
		ID     string `json:"_id"`
		Result string `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}
	return &dispatch.PublishResult{ExternalID: ack.ID}, nil
}

var (
	_ dispatch.ChannelAdapter = (*OpenSearchIndex)(nil)
	_ dispatch.Prober         = (*OpenSearchIndex)(nil)
)

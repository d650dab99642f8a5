package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presswire/contentqueue/internal/config"
	"github.com/presswire/contentqueue/internal/domain"
)

var (
	fixedNow = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	snap     = &domain.DistributionSnapshot{
		Type: domain.SnapshotTypeDistribution, Title: "Final preview", Excerpt: "Who wins?",
		Permalink: "https://site.test/?p=42", ParentPostID: "42",
	}
	item = &domain.QueueItem{
		ID: "0f0e6f7c-6a3c-4a4b-9f55-3b8d2b0f4d11", ContentType: domain.ContentTypeDistribution, Lang: "de",
		UniqueKey: "league|distribution|de|42:webhook",
	}
	league = &domain.Context{Slug: "league"}
)

func TestWebhook_PublishSignsBody(t *testing.T) {
	var gotBody []byte
	var gotSig, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotKey = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"id":"evt_1"}`))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret", time.Second)
	wh.now = func() time.Time { return fixedNow }
	require.True(t, wh.ValidateConfiguration().Valid)

	res, err := wh.Publish(context.Background(), snap, item, league)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", res.ExternalID)
	assert.Equal(t, item.UniqueKey, gotKey)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	var doc Document
	require.NoError(t, json.Unmarshal(gotBody, &doc))
	assert.Equal(t, "42", doc.ParentPostID)
	assert.Equal(t, "de", doc.Lang)
	assert.Equal(t, "league", doc.Context)
}

func TestWebhook_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusGone, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := NewWebhook(srv.URL, "", time.Second).Publish(context.Background(), snap, item, league)
			require.Error(t, err)
			assert.Equal(t, tc.permanent, domain.IsPermanent(err))
		})
	}
}

func TestWebhook_Configuration(t *testing.T) {
	assert.False(t, NewWebhook("", "", 0).IsEnabled())
	assert.False(t, NewWebhook("ftp://example.test", "", 0).ValidateConfiguration().Valid)
	assert.False(t, NewWebhook("/relative", "", 0).ValidateConfiguration().Valid)
}

type fakeS3 struct {
	put     *s3.PutObjectInput
	body    []byte
	putErr  error
	headErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3Archive_Publish(t *testing.T) {
	client := &fakeS3{}
	a, err := NewS3Archive(context.Background(), config.S3Config{Bucket: "archive", Prefix: "distribution/"}, WithS3Client(client))
	require.NoError(t, err)
	a.now = func() time.Time { return fixedNow }

	require.True(t, a.IsEnabled())
	require.True(t, a.ValidateConfiguration().Valid)
	require.NoError(t, a.Probe(context.Background()))

	res, err := a.Publish(context.Background(), snap, item, league)
	require.NoError(t, err)
	assert.Equal(t, "distribution/league/de/42.json", res.ExternalID)
	assert.Equal(t, "archive", *client.put.Bucket)
	assert.Equal(t, "application/json", *client.put.ContentType)
	assert.Contains(t, string(client.body), `"title":"Final preview"`)
}

func TestS3Archive_ErrorClassification(t *testing.T) {
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}
	a, _ := NewS3Archive(context.Background(), config.S3Config{Bucket: "archive"}, WithS3Client(&fakeS3{putErr: denied}))
	_, err := a.Publish(context.Background(), snap, item, league)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))

	a, _ = NewS3Archive(context.Background(), config.S3Config{Bucket: "archive"}, WithS3Client(&fakeS3{putErr: errors.New("connection reset")}))
	_, err = a.Publish(context.Background(), snap, item, league)
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
}

func TestS3Archive_DisabledWithoutBucket(t *testing.T) {
	a, err := NewS3Archive(context.Background(), config.S3Config{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())
}

func TestOpenSearchIndex_Publish(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
			return
		}
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"` + item.ID + `","result":"created"}`))
	}))
	defer srv.Close()

	a, err := NewOpenSearchIndex(config.OpenSearchConfig{Addresses: []string{srv.URL}, Index: "content"})
	require.NoError(t, err)
	require.True(t, a.IsEnabled())
	require.NoError(t, a.Probe(context.Background()))

	res, err := a.Publish(context.Background(), snap, item, league)
	require.NoError(t, err)
	assert.Equal(t, item.ID, res.ExternalID)
	assert.Equal(t, "/content/_doc/"+item.ID, gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)
}

func TestOpenSearchIndex_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer srv.Close()

	a, err := NewOpenSearchIndex(config.OpenSearchConfig{Addresses: []string{srv.URL}, Index: "content"})
	require.NoError(t, err)
	_, err = a.Publish(context.Background(), snap, item, league)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestOpenSearchIndex_DisabledWithoutAddresses(t *testing.T) {
	a, err := NewOpenSearchIndex(config.OpenSearchConfig{Index: "content"})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())
}

func TestSearchRefresh_Handle(t *testing.T) {
	var paths []string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"_shards":{"total":1,"successful":1,"failed":0}}`))
	}))
	defer srv.Close()

	idx, err := NewOpenSearchIndex(config.OpenSearchConfig{Addresses: []string{srv.URL}, Index: "content"})
	require.NoError(t, err)
	h := NewSearchRefresh(idx)

	res := h.Handle(context.Background(), nil, item.ID, 1)
	require.True(t, res.Success, "%v", res.Err)
	assert.JSONEq(t, `{"index":"content"}`, string(res.Data))

	res = h.Handle(context.Background(), json.RawMessage(`{"index":"archive"}`), item.ID, 1)
	require.True(t, res.Success)
	assert.Equal(t, []string{"/content/_refresh", "/archive/_refresh"}, paths)

	status = http.StatusServiceUnavailable
	res = h.Handle(context.Background(), nil, item.ID, 2)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)

	status = http.StatusNotFound
	res = h.Handle(context.Background(), nil, item.ID, 3)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
}

func TestSearchRefresh_DisabledIsNotRetryable(t *testing.T) {
	idx, err := NewOpenSearchIndex(config.OpenSearchConfig{Index: "content"})
	require.NoError(t, err)
	res := NewSearchRefresh(idx).Handle(context.Background(), nil, item.ID, 1)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Error(t, res.Err)
}

// fakeRedis overrides the two commands the stream adapter uses; any other
// call panics on the nil embedded client.
type fakeRedis struct {
	redis.UniversalClient
	args    *redis.XAddArgs
	pingErr error
}

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = a
	return redis.NewStringResult("1717502400000-0", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func TestRedisStream_Publish(t *testing.T) {
	client := &fakeRedis{}
	r := NewRedisStream(client, "content:published", 1000)
	r.now = func() time.Time { return fixedNow }
	require.NoError(t, r.Probe(context.Background()))

	res, err := r.Publish(context.Background(), snap, item, league)
	require.NoError(t, err)
	assert.Equal(t, "1717502400000-0", res.ExternalID)
	assert.Equal(t, "content:published", client.args.Stream)
	assert.Equal(t, int64(1000), client.args.MaxLen)
	assert.True(t, client.args.Approx)

	values := client.args.Values.(map[string]any)
	assert.Equal(t, "42", values["parent_post_id"])
	assert.True(t, strings.HasPrefix(values["published_at"].(string), "2025-06-04T12:00:00"))
}

func TestRedisStream_ProbeFailure(t *testing.T) {
	r := NewRedisStream(&fakeRedis{pingErr: errors.New("connection refused")}, "s", 0)
	assert.Error(t, r.Probe(context.Background()))
	assert.False(t, NewRedisStream(nil, "s", 0).IsEnabled())
}

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/api"
	apimw "github.com/presswire/contentqueue/internal/api/middleware"
	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/planner"
	"github.com/presswire/contentqueue/internal/repository"
	"github.com/presswire/contentqueue/internal/service"
	"github.com/presswire/contentqueue/internal/worker"
)

const secret = "trigger-s3cret"

var now = time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)

type fakePlanner struct {
	calls int
	err   error
}

func (f *fakePlanner) Run(context.Context) (*planner.RunResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &planner.RunResult{Contexts: 1, Planned: 2}, nil
}

type fakeBatches struct{ gotN int }

func (f *fakeBatches) Run(_ context.Context, n int) *worker.BatchResult {
	f.gotN = n
	return &worker.BatchResult{StopReason: worker.StopNoMoreItems}
}

type fakeProcessor struct {
	out *worker.ItemOutcome
	err error
}

func (f *fakeProcessor) ProcessSingle(_ context.Context, id string) (*worker.ItemOutcome, error) {
	if f.err != nil {
		return f.out, f.err
	}
	return &worker.ItemOutcome{ItemID: id, Outcome: worker.OutcomeSucceeded, Status: domain.StatusDone}, nil
}

type server struct {
	h         http.Handler
	queue     *repository.MemoryQueueRepository
	planner   *fakePlanner
	batches   *fakeBatches
	processor *fakeProcessor
}

func newServer(t *testing.T, triggerSecret string) *server {
	t.Helper()
	league := &domain.Context{Slug: "league", Type: domain.ContextTypeEvent, Active: true}
	q := repository.NewMemoryQueueRepository()
	q.Now = func() time.Time { return now }

	policies, err := domain.NewPolicyTable(domain.DefaultPolicies()...)
	require.NoError(t, err)

	svc := service.NewContentService(service.Deps{
		Queue:     q,
		Contexts:  repository.NewMemoryContextRepository(league),
		Policies:  policies,
		Handlers:  dispatch.NewHandlerRegistry(),
		Channels:  dispatch.NewChannelRegistry(),
		Languages: language.NewResolver(nil, nil, []string{"en", "de"}),
	}, 3, zap.NewNop(), service.WithClock(func() time.Time { return now }))

	s := &server{queue: q, planner: &fakePlanner{}, batches: &fakeBatches{}, processor: &fakeProcessor{}}
	s.h = api.NewRouter(api.Deps{
		Service:       svc,
		Planner:       s.planner,
		Batches:       s.batches,
		Processor:     s.processor,
		Gatherer:      prometheus.NewRegistry(),
		TriggerSecret: triggerSecret,
		MaxBatchSize:  20,
	}, zap.NewNop())
	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(apimw.SecretHeader, secret)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	s := newServer(t, secret)
	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		s.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSecretGuard(t *testing.T) {
	s := newServer(t, secret)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/planner/run", nil)
	req.Header.Set(apimw.SecretHeader, "wrong")
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, s.planner.calls)

	closed := newServer(t, "")
	rec = closed.do(t, http.MethodPost, "/api/v1/planner/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, closed.planner.calls)
}

func TestCorrelationIDEchoed(t *testing.T) {
	s := newServer(t, secret)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "cron-42")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, "cron-42", rec.Header().Get(apimw.CorrelationHeader))
}

func TestRunPlanner(t *testing.T) {
	s := newServer(t, secret)
	rec := s.do(t, http.MethodPost, "/api/v1/planner/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res planner.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Planned)
}

func TestRunWorker_BatchSize(t *testing.T) {
	s := newServer(t, secret)

	rec := s.do(t, http.MethodPost, "/api/v1/worker/run?batch_size=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, s.batches.gotN)
	assert.Contains(t, rec.Body.String(), `"stop_reason":"no_more_items"`)

	s.do(t, http.MethodPost, "/api/v1/worker/run?batch_size=500", nil)
	assert.Equal(t, 20, s.batches.gotN, "capped at the configured maximum")

	s.do(t, http.MethodPost, "/api/v1/worker/run", nil)
	assert.Equal(t, 0, s.batches.gotN, "zero means the configured default")

	rec = s.do(t, http.MethodPost, "/api/v1/worker/run?batch_size=-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestQueueLifecycle(t *testing.T) {
	s := newServer(t, secret)
	req := domain.ManualEnqueueRequest{
		ContextID:   "league",
		ContentType: "match_preview",
		Lang:        "en",
		SourceRef:   json.RawMessage(`{"key":"m-17"}`),
	}

	rec := s.do(t, http.MethodPost, "/api/v1/queue", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.QueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "league|match_preview|en|m-17", created.UniqueKey)

	rec = s.do(t, http.MethodPost, "/api/v1/queue", req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue?status=pending&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)

	rec = s.do(t, http.MethodGet, "/api/v1/queue?status=bogus", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		ByStatus map[string]int `json:"by_status"`
		Total    int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.Equal(t, 1, stats.Total)
}

func TestQueueCreate_Rejections(t *testing.T) {
	s := newServer(t, secret)
	tests := []struct {
		name   string
		req    domain.ManualEnqueueRequest
		status int
	}{
		{"missing lang", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "match_preview"}, http.StatusUnprocessableEntity},
		{"unknown type", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "horoscope", Lang: "en"}, http.StatusUnprocessableEntity},
		{"unsupported language", domain.ManualEnqueueRequest{ContextID: "league", ContentType: "match_preview", Lang: "fr"}, http.StatusUnprocessableEntity},
		{"unknown context", domain.ManualEnqueueRequest{ContextID: "nowhere", ContentType: "match_preview", Lang: "en"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/queue", tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	bad := httptest.NewRequest(http.MethodPost, "/api/v1/queue", bytes.NewBufferString("{"))
	bad.Header.Set(apimw.SecretHeader, secret)
	s.h.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessSingle_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"missing", domain.ErrNotFound, http.StatusNotFound},
		{"completed", domain.ErrItemCompleted, http.StatusConflict},
		{"locked", domain.ErrLockUnavailable, http.StatusConflict},
		{"transient readiness", &domain.ReadinessError{Channel: domain.ChannelPrimary, Reason: "no api key"}, http.StatusServiceUnavailable},
		{"permanent readiness", &domain.ReadinessError{Channel: "webhook", Reason: "not registered", Permanent: true}, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newServer(t, secret)
			s.processor.err = tc.err
			rec := s.do(t, http.MethodPost, "/api/v1/queue/abc/process", nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/dispatch"
	"github.com/presswire/contentqueue/internal/domain"
	"github.com/presswire/contentqueue/internal/language"
	"github.com/presswire/contentqueue/internal/repository"
)

// manualIdentifier is the key fragment of a manual item whose source_ref
// carries no "key".
const manualIdentifier = "manual"

const defaultManualPriority = 50

// Deps are the collaborators a ContentService reads from.
type Deps struct {
	Queue     repository.QueueRepository
	Contexts  repository.ContextRepository
	Policies  *domain.PolicyTable
	Handlers  *dispatch.HandlerRegistry
	Channels  *dispatch.ChannelRegistry
	Languages *language.Resolver
}

// ContentService holds the operator-facing business rules: manual enqueue,
// item lookups and queue statistics. HTTP handlers depend on it, never on the
// repositories directly.
type ContentService struct {
	deps        Deps
	maxAttempts int
	now         func() time.Time
	onStats     func(map[domain.Status]int)
	logger      *zap.Logger
}

// Option customises a ContentService.
type Option func(*ContentService)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *ContentService) { s.now = now }
}

// WithStatsHook is called with every fresh status count, typically to
// refresh the queue depth gauge.
func WithStatsHook(fn func(map[domain.Status]int)) Option {
	return func(s *ContentService) { s.onStats = fn }
}

func NewContentService(deps Deps, maxAttempts int, logger *zap.Logger, opts ...Option) *ContentService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if deps.Handlers == nil {
		deps.Handlers = dispatch.NewHandlerRegistry()
	}
	if deps.Channels == nil {
		deps.Channels = dispatch.NewChannelRegistry()
	}
	s := &ContentService{
		deps:        deps,
		maxAttempts: maxAttempts,
		now:         time.Now,
		onStats:     func(map[domain.Status]int) {},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueueManual enqueues one operator-requested item.
//
// The unique key uses source_ref.key as identifier (else "manual"). An
// existing key is rejected with domain.ErrDuplicateKey unless
// AllowDuplicate is set, in which case a random suffix makes the key unique.
func (s *ContentService) QueueManual(ctx context.Context, req domain.ManualEnqueueRequest) (*domain.QueueItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c, err := s.lookupContext(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, fmt.Errorf("context %s: %w", c.Slug, domain.ErrContextInactive)
	}

	policy, known := s.deps.Policies.Get(req.ContentType)
	if !known && !s.deps.Handlers.Exists(req.ContentType) && req.ContentType != domain.ContentTypeDistribution {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownContentType, req.ContentType)
	}

	lang, err := language.NormalizeCode(req.Lang)
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidRequest, err)
	}
	if s.deps.Languages != nil && !s.deps.Languages.IsSupported(lang) {
		return nil, errors.Join(domain.ErrInvalidRequest, fmt.Errorf("%w: %q is not supported", domain.ErrInvalidLanguage, lang))
	}

	ch := req.Channel
	if ch == "" {
		ch = domain.ChannelPrimary
	}
	if !ch.IsPrimary() {
		if _, ok := s.deps.Channels.Get(ch); !ok {
			return nil, errors.Join(domain.ErrInvalidRequest, fmt.Errorf("no adapter registered for channel %q", ch))
		}
	}

	identifier := req.SourceRefKey()
	if identifier == "" {
		identifier = manualIdentifier
	}
	if !ch.IsPrimary() {
		identifier += ":" + string(ch)
	}
	key := domain.UniqueKey(c.Slug, req.ContentType, lang, identifier)

	exists, err := s.deps.Queue.ExistsByUniqueKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check unique key: %w", err)
	}
	if exists {
		if !req.AllowDuplicate {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateKey, key)
		}
		key += "|" + uuid.New().String()
	}

	priority := defaultManualPriority
	if known {
		priority = policy.Priority
	}
	if req.Priority != nil {
		priority = *req.Priority
	}
	scheduledAt := s.now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	item := &domain.QueueItem{
		ContextID:   c.ID,
		ContentType: req.ContentType,
		Lang:        lang,
		Channel:     ch,
		SourceRef:   req.SourceRef,
		UniqueKey:   key,
		Priority:    priority,
		Status:      domain.StatusPending,
		ScheduledAt: scheduledAt,
		MaxAttempts: s.maxAttempts,
	}
	id, err := s.deps.Queue.Insert(ctx, item)
	if errors.Is(err, domain.ErrDuplicateKey) && req.AllowDuplicate && !exists {
		// A concurrent insert took the key between the check and the insert.
		item.UniqueKey = key + "|" + uuid.New().String()
		id, err = s.deps.Queue.Insert(ctx, item)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	s.logger.Info("manual item queued",
		zap.String("item_id", id),
		zap.String("context", c.Slug),
		zap.String("content_type", req.ContentType),
		zap.String("channel", string(ch)),
		zap.String("unique_key", item.UniqueKey),
	)
	return s.deps.Queue.GetByID(ctx, id)
}

func (s *ContentService) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.deps.Queue.GetByID(ctx, id)
}

func (s *ContentService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueItem, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.deps.Queue.List(ctx, filter)
}

// Stats returns the number of items per status. Every status is present in
// the map, zero or not.
func (s *ContentService) Stats(ctx context.Context) (map[domain.Status]int, error) {
	counts, err := s.deps.Queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	out := make(map[domain.Status]int, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		out[st] = counts[st]
	}
	s.onStats(out)
	return out, nil
}

// lookupContext accepts either a context id or its slug.
func (s *ContentService) lookupContext(ctx context.Context, ref string) (*domain.Context, error) {
	c, err := s.deps.Contexts.GetByID(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		c, err = s.deps.Contexts.GetBySlug(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("context %q: %w", ref, err)
	}
	return c, nil
}

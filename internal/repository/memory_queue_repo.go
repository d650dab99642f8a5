package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presswire/contentqueue/internal/domain"
)

// MemoryQueueRepository is an in-memory QueueRepository. Every mutation runs
// under one mutex, which gives LockNextEligible and Transition the same
// compare-and-swap semantics as the SQL implementation. Used in unit tests
// and for single-process runs without a database.
type MemoryQueueRepository struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
	seq   int64

	// Now is the store's clock. Tests replace it to move time forward.
	Now func() time.Time

	// Optional error overrides, set in tests to simulate failure paths.
	InsertErr     error
	LockErr       error
	TransitionErr error
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{
		items: make(map[string]*domain.QueueItem),
		Now:   time.Now,
	}
}

func (m *MemoryQueueRepository) Insert(_ context.Context, q *domain.QueueItem) (string, error) {
	if m.InsertErr != nil {
		return "", m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items {
		if existing.UniqueKey == q.UniqueKey {
			return "", domain.ErrDuplicateKey
		}
	}

	clone := *q
	if clone.ID == "" {
		clone.ID = uuid.New().String()
	}
	if clone.Channel == "" {
		clone.Channel = domain.ChannelPrimary
	}
	if clone.Status == "" {
		clone.Status = domain.StatusPending
	}
	now := m.Now()
	if clone.ScheduledAt.IsZero() {
		clone.ScheduledAt = now
	}
	// A monotonically increasing creation time keeps the created_at tie-break
	// deterministic for items inserted within the same clock tick.
	m.seq++
	clone.CreatedAt = now.Add(time.Duration(m.seq))
	clone.UpdatedAt = now
	m.items[clone.ID] = &clone

	q.ID = clone.ID
	return clone.ID, nil
}

func (m *MemoryQueueRepository) ExistsByUniqueKey(_ context.Context, keys ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		for _, k := range keys {
			if it.UniqueKey == k {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MemoryQueueRepository) LockNextEligible(_ context.Context, f domain.LockFilter) (*domain.QueueItem, error) {
	if m.LockErr != nil {
		return nil, m.LockErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	excludedIDs := make(map[string]struct{}, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		excludedIDs[id] = struct{}{}
	}
	excludedChannels := make(map[domain.Channel]struct{}, len(f.ExcludeChannels))
	for _, ch := range f.ExcludeChannels {
		excludedChannels[ch] = struct{}{}
	}

	var candidates []*domain.QueueItem
	for _, it := range m.items {
		if _, skip := excludedIDs[it.ID]; skip {
			continue
		}
		if _, skip := excludedChannels[it.Channel]; skip {
			continue
		}
		if eligible(it, now) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoEligibleItem
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	it := candidates[0]
	lock(it, now)
	clone := *it
	return &clone, nil
}

func (m *MemoryQueueRepository) TryLockByID(_ context.Context, id string) (string, error) {
	if m.LockErr != nil {
		return "", m.LockErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	if it.LockToken != nil || (it.Status != domain.StatusPending && it.Status != domain.StatusFailed) {
		return "", domain.ErrLockUnavailable
	}
	return lock(it, m.Now()), nil
}

func (m *MemoryQueueRepository) Transition(_ context.Context, id, token string, t domain.Transition) error {
	if m.TransitionErr != nil {
		return m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok || !it.HoldsLock(token) {
		return domain.ErrLockLost
	}

	now := m.Now()
	it.Status = t.Status
	it.UpdatedAt = now
	if t.Attempts != nil {
		it.Attempts = *t.Attempts
	}
	if t.MaxAttempts != nil {
		it.MaxAttempts = *t.MaxAttempts
	}
	if t.Status == domain.StatusFailed {
		it.NextRetryAt = copyTime(t.NextRetryAt)
	} else {
		it.NextRetryAt = nil
	}
	if t.LastError != nil {
		it.LastError = copyString(t.LastError)
	}
	if t.PostID != nil {
		it.PostID = copyString(t.PostID)
	}
	if t.ExternalID != nil {
		it.ExternalID = copyString(t.ExternalID)
	}
	if t.QualityScore != nil {
		score := *t.QualityScore
		it.QualityScore = &score
	}
	if t.TokensUsed != nil {
		it.TokensUsed = *t.TokensUsed
	}
	if t.Cost != nil {
		it.Cost = *t.Cost
	}
	if len(t.Result) > 0 {
		it.Result = append([]byte(nil), t.Result...)
	}
	if t.ReleasesLock() {
		it.LockToken = nil
		it.LockedAt = nil
	}
	if t.Status.IsTerminal() {
		it.CompletedAt = &now
	}
	return nil
}

func (m *MemoryQueueRepository) ReleaseLock(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok || !it.HoldsLock(token) {
		return domain.ErrLockLost
	}
	unlock(it, m.Now())
	return nil
}

func (m *MemoryQueueRepository) ReleaseStaleLocks(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	cutoff := now.Add(-ttl)
	n := 0
	for _, it := range m.items {
		if it.LockToken != nil && it.LockedAt != nil && it.LockedAt.Before(cutoff) {
			unlock(it, now)
			n++
		}
	}
	return n, nil
}

func (m *MemoryQueueRepository) ResetForRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.LockToken != nil || (it.Status != domain.StatusFailed && it.Status != domain.StatusPermanentFailure) {
		return domain.ErrLockUnavailable
	}
	it.Status = domain.StatusPending
	it.Attempts = 0
	it.NextRetryAt = nil
	it.CompletedAt = nil
	it.UpdatedAt = m.Now()
	return nil
}

func (m *MemoryQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *it
	return &clone, nil
}

func (m *MemoryQueueRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.QueueItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.QueueItem
	for _, it := range m.items {
		if f.Status != nil && it.Status != *f.Status {
			continue
		}
		if f.Channel != nil && it.Channel != *f.Channel {
			continue
		}
		if f.ContextID != nil && it.ContextID != *f.ContextID {
			continue
		}
		clone := *it
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	total := len(result)
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start < 0 {
			start = 0
		}
		if start >= total {
			return nil, total, nil
		}
		end := start + f.Limit
		if end > total {
			end = total
		}
		result = result[start:end]
	}
	return result, total, nil
}

func (m *MemoryQueueRepository) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, it := range m.items {
		counts[it.Status]++
	}
	return counts, nil
}

// All returns a snapshot of every stored item in creation order.
func (m *MemoryQueueRepository) All() []*domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		clone := *it
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- helpers ----

func eligible(it *domain.QueueItem, now time.Time) bool {
	if it.LockToken != nil {
		return false
	}
	if it.Status != domain.StatusPending && it.Status != domain.StatusFailed {
		return false
	}
	if it.ScheduledAt.After(now) {
		return false
	}
	return it.NextRetryAt == nil || !it.NextRetryAt.After(now)
}

func lock(it *domain.QueueItem, now time.Time) string {
	token := uuid.New().String()
	it.Status = domain.StatusLocked
	it.LockToken = &token
	it.LockedAt = &now
	it.UpdatedAt = now
	return token
}

func unlock(it *domain.QueueItem, now time.Time) {
	if it.Status.InFlight() {
		it.Status = domain.StatusPending
	}
	it.LockToken = nil
	it.LockedAt = nil
	it.UpdatedAt = now
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

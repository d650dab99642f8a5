package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presswire/contentqueue/internal/domain"
)

// MemoryContextRepository is an in-memory ContextRepository, also used to
// serve contexts loaded from a YAML file.
type MemoryContextRepository struct {
	mu       sync.RWMutex
	contexts map[string]*domain.Context

	ListErr error
}

func NewMemoryContextRepository(contexts ...*domain.Context) *MemoryContextRepository {
	m := &MemoryContextRepository{contexts: make(map[string]*domain.Context)}
	for _, c := range contexts {
		_, _ = m.Upsert(context.Background(), c)
	}
	return m
}

func (m *MemoryContextRepository) ListActive(_ context.Context) ([]*domain.Context, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Context
	for _, c := range m.contexts {
		if c.Active {
			clone := *c
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MemoryContextRepository) GetByID(_ context.Context, id string) (*domain.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.contexts {
		if c.ID == id {
			clone := *c
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemoryContextRepository) GetBySlug(_ context.Context, slug string) (*domain.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MemoryContextRepository) Upsert(_ context.Context, c *domain.Context) (string, error) {
	if c.Slug == "" {
		return "", fmt.Errorf("%w: empty slug", domain.ErrInvalidContext)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	clone := *c
	if existing, ok := m.contexts[c.Slug]; ok {
		clone.ID = existing.ID
		clone.CreatedAt = existing.CreatedAt
	} else {
		if clone.ID == "" {
			clone.ID = uuid.New().String()
		}
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.contexts[c.Slug] = &clone
	c.ID = clone.ID
	return clone.ID, nil
}

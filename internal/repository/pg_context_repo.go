package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presswire/contentqueue/internal/domain"
)

const contextColumns = `
	id, slug, name, type, active, languages, events, venues,
	content_types, prompts, created_at, updated_at`

type pgContextRepository struct {
	pool *pgxpool.Pool
}

// NewPgContextRepository returns a ContextRepository backed by PostgreSQL.
func NewPgContextRepository(pool *pgxpool.Pool) ContextRepository {
	return &pgContextRepository{pool: pool}
}

func (r *pgContextRepository) ListActive(ctx context.Context) ([]*domain.Context, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contextColumns+` FROM content_contexts WHERE active ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list active contexts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgContextRepository) GetByID(ctx context.Context, id string) (*domain.Context, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+contextColumns+` FROM content_contexts WHERE id = $1`, id)
}

func (r *pgContextRepository) GetBySlug(ctx context.Context, slug string) (*domain.Context, error) {
	return r.getOne(ctx, `SELECT `+contextColumns+` FROM content_contexts WHERE slug = $1`, slug)
}

func (r *pgContextRepository) getOne(ctx context.Context, query string, arg string) (*domain.Context, error) {
	c, err := scanContext(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return c, nil
}

// Upsert inserts c or replaces the context with the same slug. The existing id
// is kept on update so queue items stay attached.
func (r *pgContextRepository) Upsert(ctx context.Context, c *domain.Context) (string, error) {
	if c.Slug == "" {
		return "", fmt.Errorf("%w: empty slug", domain.ErrInvalidContext)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	events, err := json.Marshal(nonNil(c.Events))
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	venues, err := json.Marshal(nonNil(c.Venues))
	if err != nil {
		return "", fmt.Errorf("marshal venues: %w", err)
	}
	prompts := c.Prompts
	if prompts == nil {
		prompts = map[string]string{}
	}
	promptsJSON, err := json.Marshal(prompts)
	if err != nil {
		return "", fmt.Errorf("marshal prompts: %w", err)
	}

	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO content_contexts
			(id, slug, name, type, active, languages, events, venues, content_types, prompts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			active = EXCLUDED.active,
			languages = EXCLUDED.languages,
			events = EXCLUDED.events,
			venues = EXCLUDED.venues,
			content_types = EXCLUDED.content_types,
			prompts = EXCLUDED.prompts,
			updated_at = NOW()
		RETURNING id`,
		c.ID, c.Slug, c.Name, c.Type, c.Active, nonNil(c.Languages),
		string(events), string(venues), nonNil(c.ContentTypes), string(promptsJSON),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert context %s: %w", c.Slug, err)
	}
	c.ID = id
	return id, nil
}

func scanContext(row pgx.Row) (*domain.Context, error) {
	var (
		c                      domain.Context
		events, venues, prompt []byte
	)
	err := row.Scan(
		&c.ID, &c.Slug, &c.Name, &c.Type, &c.Active, &c.Languages, &events, &venues,
		&c.ContentTypes, &prompt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &c.Events); err != nil {
		return nil, fmt.Errorf("decode events of %s: %w", c.Slug, err)
	}
	if err := json.Unmarshal(venues, &c.Venues); err != nil {
		return nil, fmt.Errorf("decode venues of %s: %w", c.Slug, err)
	}
	if err := json.Unmarshal(prompt, &c.Prompts); err != nil {
		return nil, fmt.Errorf("decode prompts of %s: %w", c.Slug, err)
	}
	return &c, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

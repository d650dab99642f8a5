package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presswire/contentqueue/internal/domain"
)

const queueColumns = `
	id, context_id, content_type, lang, channel, source_ref, unique_key,
	priority, status, scheduled_at, attempts, max_attempts, next_retry_at,
	lock_token, locked_at, last_error, post_id, external_id, quality_score,
	tokens_used, cost, result, created_at, updated_at, completed_at`

// inFlightToPending returns items whose lock is being cleared to pending
// without touching statuses that are not lock-bound.
const inFlightToPending = `
	status = CASE WHEN status IN ('locked','generating','processing')
	              THEN 'pending' ELSE status END`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Insert(ctx context.Context, q *domain.QueueItem) (string, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Channel == "" {
		q.Channel = domain.ChannelPrimary
	}
	if q.Status == "" {
		q.Status = domain.StatusPending
	}

	// ON CONFLICT DO NOTHING turns the unique_key race into a clean "no row
	// returned" instead of an aborted statement.
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO content_queue
			(id, context_id, content_type, lang, channel, source_ref, unique_key,
			 priority, status, scheduled_at, max_attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (unique_key) DO NOTHING
		RETURNING id`,
		q.ID, q.ContextID, q.ContentType, q.Lang, q.Channel, nullJSON(q.SourceRef), q.UniqueKey,
		q.Priority, q.Status, q.ScheduledAt, q.MaxAttempts,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return "", domain.ErrDuplicateKey
	}
	if err != nil {
		return "", fmt.Errorf("insert queue item: %w", err)
	}
	return id, nil
}

func (r *pgQueueRepository) ExistsByUniqueKey(ctx context.Context, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_queue WHERE unique_key = ANY($1::text[]))`, keys,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unique key: %w", err)
	}
	return exists, nil
}

func (r *pgQueueRepository) LockNextEligible(ctx context.Context, f domain.LockFilter) (*domain.QueueItem, error) {
	excludeChannels := make([]string, len(f.ExcludeChannels))
	for i, ch := range f.ExcludeChannels {
		excludeChannels[i] = string(ch)
	}
	excludeIDs := f.ExcludeIDs
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	// The sub-select claims the row with SKIP LOCKED so concurrent workers
	// move on to the next candidate instead of blocking; the outer UPDATE
	// re-checks lock_token so the whole statement is a single CAS.
	row := r.pool.QueryRow(ctx, `
		UPDATE content_queue
		SET status = 'locked', lock_token = $1, locked_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM content_queue
			WHERE status IN ('pending','failed')
			  AND lock_token IS NULL
			  AND scheduled_at <= NOW()
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			  AND NOT (id::text = ANY($2::text[]))
			  AND NOT (channel = ANY($3::text[]))
			ORDER BY scheduled_at ASC, priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND lock_token IS NULL
		RETURNING `+queueColumns,
		uuid.New().String(), excludeIDs, excludeChannels)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoEligibleItem
	}
	if err != nil {
		return nil, fmt.Errorf("lock next eligible: %w", err)
	}
	return item, nil
}

func (r *pgQueueRepository) TryLockByID(ctx context.Context, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", domain.ErrNotFound
	}
	token := uuid.New().String()
	tag, err := r.pool.Exec(ctx, `
		UPDATE content_queue
		SET status = 'locked', lock_token = $2, locked_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending','failed')
		  AND lock_token IS NULL`, id, token)
	if err != nil {
		return "", fmt.Errorf("lock queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return "", err
		}
		return "", domain.ErrLockUnavailable
	}
	return token, nil
}

func (r *pgQueueRepository) Transition(ctx context.Context, id, token string, t domain.Transition) error {
	args := []any{id, token, t.Status}
	sets := []string{"status = $3", "updated_at = NOW()"}

	set := func(column string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if t.Attempts != nil {
		set("attempts", *t.Attempts)
	}
	if t.MaxAttempts != nil {
		set("max_attempts", *t.MaxAttempts)
	}
	if t.Status == domain.StatusFailed {
		set("next_retry_at", t.NextRetryAt)
	} else {
		sets = append(sets, "next_retry_at = NULL")
	}
	if t.LastError != nil {
		set("last_error", *t.LastError)
	}
	if t.PostID != nil {
		set("post_id", *t.PostID)
	}
	if t.ExternalID != nil {
		set("external_id", *t.ExternalID)
	}
	if t.QualityScore != nil {
		set("quality_score", *t.QualityScore)
	}
	if t.TokensUsed != nil {
		set("tokens_used", *t.TokensUsed)
	}
	if t.Cost != nil {
		set("cost", *t.Cost)
	}
	if len(t.Result) > 0 {
		set("result", t.Result)
	}
	if t.ReleasesLock() {
		sets = append(sets, "lock_token = NULL", "locked_at = NULL")
	}
	if t.Status.IsTerminal() {
		sets = append(sets, "completed_at = NOW()")
	}

	query := "UPDATE content_queue SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 AND lock_token = $2"

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition queue item to %s: %w", t.Status, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *pgQueueRepository) ReleaseLock(ctx context.Context, id, token string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE content_queue
		SET lock_token = NULL, locked_at = NULL, updated_at = NOW(),`+inFlightToPending+`
		WHERE id = $1 AND lock_token = $2`, id, token)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *pgQueueRepository) ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE content_queue
		SET lock_token = NULL, locked_at = NULL, updated_at = NOW(),`+inFlightToPending+`
		WHERE lock_token IS NOT NULL
		  AND locked_at < NOW() - make_interval(secs => $1)`, ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) ResetForRetry(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE content_queue
		SET status = 'pending', attempts = 0, next_retry_at = NULL,
		    completed_at = NULL, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('failed','permanent_failure')
		  AND lock_token IS NULL`, id)
	if err != nil {
		return fmt.Errorf("reset queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrLockUnavailable
	}
	return nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM content_queue WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (r *pgQueueRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.QueueItem, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM content_queue"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM content_queue%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, queueColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	return items, total, err
}

func (r *pgQueueRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM content_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ---- helpers ----

// scanQueueItem reads a single queue row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var q domain.QueueItem
	err := row.Scan(
		&q.ID, &q.ContextID, &q.ContentType, &q.Lang, &q.Channel, &q.SourceRef, &q.UniqueKey,
		&q.Priority, &q.Status, &q.ScheduledAt, &q.Attempts, &q.MaxAttempts, &q.NextRetryAt,
		&q.LockToken, &q.LockedAt, &q.LastError, &q.PostID, &q.ExternalID, &q.QualityScore,
		&q.TokensUsed, &q.Cost, &q.Result, &q.CreatedAt, &q.UpdatedAt, &q.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.ContextID != nil {
		add("context_id::text = $%d", *f.ContextID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullJSON maps an empty payload to SQL NULL rather than an invalid empty jsonb.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

package repository

import (
	"context"
	"time"

	"github.com/presswire/contentqueue/internal/domain"
)

// QueueRepository is the Queue Store: durable, concurrency-safe storage of
// queue items. It owns every mutation of a QueueItem.
// The pgx implementation is in pg_queue_repo.go; tests and single-process
// setups use the in-memory one (memory_queue_repo.go).
type QueueRepository interface {
	// Insert stores item and returns its id, or domain.ErrDuplicateKey when
	// an item with the same unique key exists.
	Insert(ctx context.Context, item *domain.QueueItem) (string, error)
	ExistsByUniqueKey(ctx context.Context, keys ...string) (bool, error)

	// LockNextEligible atomically selects and locks one eligible item. Two
	// concurrent callers never receive the same item. Returns
	// domain.ErrNoEligibleItem when nothing is due.
	LockNextEligible(ctx context.Context, filter domain.LockFilter) (*domain.QueueItem, error)
	// TryLockByID locks a specific unlocked pending/failed item and returns
	// the fresh token, or domain.ErrLockUnavailable.
	TryLockByID(ctx context.Context, id string) (string, error)
	// Transition applies t only if token matches the current lock token;
	// otherwise it returns domain.ErrLockLost and changes nothing.
	Transition(ctx context.Context, id, token string, t domain.Transition) error
	// ReleaseLock gives an item back unconsumed.
	ReleaseLock(ctx context.Context, id, token string) error
	// ReleaseStaleLocks force-clears every lock older than ttl and returns the
	// affected items to pending.
	ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error)
	// ResetForRetry clears the attempt state of an unlocked failed item.
	ResetForRetry(ctx context.Context, id string) error

	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueItem, int, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// ContextRepository is the Content Source Registry. The scheduler only reads
// from it; Upsert exists for operator imports.
type ContextRepository interface {
	ListActive(ctx context.Context) ([]*domain.Context, error)
	GetByID(ctx context.Context, id string) (*domain.Context, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Context, error)
	Upsert(ctx context.Context, c *domain.Context) (string, error)
}

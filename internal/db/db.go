package db

import (
	"context"
	"time"
)

// MaxTxAttempts bounds optimistic transaction retries in UpdateHash.
// Backends that lock pessimistically run the callback exactly once.
const MaxTxAttempts = 16

// Store is the main database facade combining all sub-interfaces.
//
//nolint:interfacebloat // consumers depend on the narrow sub-interfaces
type Store interface {
	Pinger
	HashStore
	TxStore
	ListStore
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HIncrByMulti increments several integer fields of one hash.
	// Each field is incremented atomically; the set as a whole is not.
	HIncrByMulti(ctx context.Context, key string, deltas map[string]int64) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// HashUpdateFunc computes the next state of a hash from its current fields.
// current is empty (never nil) when the key does not exist.
// Returning a nil map aborts the transaction without writing anything.
// The function may be invoked more than once and must be free of side effects
// other than capturing its latest result.
type HashUpdateFunc func(current map[string]string) (next map[string]string, err error)

// TxStore runs read-modify-write on a single hash as one transactional unit.
type TxStore interface {
	// UpdateHash reads key, calls fn and writes the returned fields back
	// atomically with respect to every other UpdateHash on the same key.
	// Returns ErrTxConflict when an optimistic backend gives up retrying.
	UpdateHash(ctx context.Context, key string, fn HashUpdateFunc) error
}

// ListStore provides append-only list operations.
type ListStore interface {
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// KVStore provides key lifetime operations.
type KVStore interface {
	// Expire sets TTL on a key. When nx=true, sets TTL only if the key has no expiry yet.
	// Backends without key expiry treat this as a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

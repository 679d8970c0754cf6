// Package memory is an in-process db.Store for local runs and tests.
//
// UpdateHash is optimistic like the Redis backend: the callback runs against a
// snapshot without holding the lock and the write is applied only if the key
// version is unchanged, otherwise the attempt is retried.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/aigov/internal/db"
)

var _ db.Store = (*Store)(nil)

type hashEntry struct {
	fields  map[string]string
	version uint64
}

// Store keeps hashes and lists in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	hashes  map[string]*hashEntry
	lists   map[string][]string
	expires map[string]time.Time
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		hashes:  make(map[string]*hashEntry),
		lists:   make(map[string][]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// HSet sets hash fields.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	for k, v := range fields {
		e.fields[k] = v
	}
	e.version++
	return nil
}

// HGetAll returns a copy of all fields of a hash.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	out := map[string]string{}
	if e, ok := s.hashes[key]; ok {
		for k, v := range e.fields {
			out[k] = v
		}
	}
	return out, nil
}

// HIncrByMulti increments integer fields of a hash.
func (s *Store) HIncrByMulti(_ context.Context, key string, deltas map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	for f, d := range deltas {
		cur := int64(0)
		if raw, ok := e.fields[f]; ok {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return &db.Error{Op: db.OpHIncrBy, Err: fmt.Errorf("field %s is not an integer", f)}
			}
			cur = v
		}
		e.fields[f] = strconv.FormatInt(cur+d, 10)
	}
	e.version++
	return nil
}

// Del deletes a key of any type.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(key)
	return nil
}

// Exists reports whether key holds a hash or a list.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	_, isHash := s.hashes[key]
	_, isList := s.lists[key]
	return isHash || isList, nil
}

// UpdateHash runs fn against a snapshot and commits only if nobody wrote the key meanwhile.
func (s *Store) UpdateHash(ctx context.Context, key string, fn db.HashUpdateFunc) error {
	for attempt := 0; attempt < db.MaxTxAttempts; attempt++ {
		snapshot, version := s.snapshot(key)

		next, err := fn(snapshot)
		if err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}

		if s.commit(key, version, next) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // context errors are returned as-is
		}
	}
	return &db.Error{Op: db.OpExec, Err: db.ErrTxConflict}
}

func (s *Store) snapshot(key string) (map[string]string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	out := map[string]string{}
	e, ok := s.hashes[key]
	if !ok {
		return out, 0
	}
	for k, v := range e.fields {
		out[k] = v
	}
	return out, e.version
}

func (s *Store) commit(key string, version uint64, next map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	var cur uint64
	if e, ok := s.hashes[key]; ok {
		cur = e.version
	}
	if cur != version {
		return false
	}
	e := s.entryLocked(key)
	for k, v := range next {
		e.fields[k] = v
	}
	e.version++
	return true
}

// RPush appends values to a list.
func (s *Store) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

// LRange mirrors Redis LRANGE index semantics.
func (s *Store) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(key)
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// Expire schedules key removal after ttl.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expires[key]; ok && nx {
		return nil
	}
	s.expires[key] = s.now().Add(ttl)
	return nil
}

func (s *Store) entryLocked(key string) *hashEntry {
	s.evictLocked(key)
	e, ok := s.hashes[key]
	if !ok {
		e = &hashEntry{fields: map[string]string{}}
		s.hashes[key] = e
	}
	return e
}

func (s *Store) evictLocked(key string) {
	if at, ok := s.expires[key]; ok && !s.now().Before(at) {
		s.deleteLocked(key)
	}
}

func (s *Store) deleteLocked(key string) {
	// A deleted hash reads as version 0, same as one that never existed,
	// so a snapshot of a live hash can never commit over its deletion.
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.expires, key)
}

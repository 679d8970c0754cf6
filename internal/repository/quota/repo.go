package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/aigov/internal/db"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
)

const (
	fieldLimit   = "limit"
	fieldCount   = "count"
	fieldStartAt = "window_start_at"
)

// store is the consumer interface for the ledger (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	UpdateHash(ctx context.Context, key string, fn db.HashUpdateFunc) error
}

// UpdateFunc computes the next window from the stored one (nil when absent).
// Returning write=false leaves the record untouched. It may run more than once.
type UpdateFunc func(stored *domquota.Window) (next domquota.Window, write bool, err error)

// Repo stores one window hash per (scope, feature).
type Repo struct {
	store  store
	prefix string
}

// New creates a ledger repository. prefix is prepended to every key.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// Update runs fn as one atomic read-modify-write of the window record.
func (r *Repo) Update(ctx context.Context, sc scope.Scope, feature string, fn UpdateFunc) error {
	key := r.key(sc, feature)
	err := r.store.UpdateHash(ctx, key, func(cur map[string]string) (map[string]string, error) {
		stored, err := windowFromHash(cur)
		if err != nil {
			return nil, err
		}
		next, write, err := fn(stored)
		if err != nil || !write {
			return nil, err
		}
		return windowToHash(next), nil
	})
	if err != nil {
		return fmt.Errorf("update window %s: %w", key, err)
	}
	return nil
}

// Get reads the window record without locking. Returns nil if none exists.
func (r *Repo) Get(ctx context.Context, sc scope.Scope, feature string) (*domquota.Window, error) {
	key := r.key(sc, feature)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall window %s: %w", key, err)
	}
	w, err := windowFromHash(m)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", key, err)
	}
	return w, nil
}

func (r *Repo) key(sc scope.Scope, feature string) string {
	return r.prefix + "quota:" + sc.Key() + ":" + feature
}

func windowToHash(w domquota.Window) map[string]string {
	return map[string]string{
		fieldLimit:   strconv.Itoa(w.Limit),
		fieldCount:   strconv.Itoa(w.Count),
		fieldStartAt: strconv.FormatInt(w.StartAt.UnixMilli(), 10),
	}
}

func windowFromHash(m map[string]string) (*domquota.Window, error) {
	if len(m) == 0 {
		return nil, nil
	}
	count, err := strconv.Atoi(m[fieldCount])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("parse %s %q: invalid count", fieldCount, m[fieldCount])
	}
	startMs, err := strconv.ParseInt(m[fieldStartAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", fieldStartAt, m[fieldStartAt], err)
	}
	limit, _ := strconv.Atoi(m[fieldLimit]) // informational; the configured limit decides
	return &domquota.Window{
		Limit:   limit,
		Count:   count,
		StartAt: time.UnixMilli(startMs).UTC(),
	}, nil
}

package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/aigov/internal/db"
)

// UpdateHash runs fn as an optimistic WATCH/MULTI/EXEC transaction on a dedicated
// connection. An aborted EXEC (the watched key changed) is retried with fresh
// state up to db.MaxTxAttempts times.
func (s *Store) UpdateHash(ctx context.Context, key string, fn db.HashUpdateFunc) error {
	for attempt := 0; attempt < db.MaxTxAttempts; attempt++ {
		done, err := s.tryUpdateHash(ctx, key, fn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // context errors are returned as-is
		}
	}
	return &db.Error{Op: db.OpExec, Err: db.ErrTxConflict}
}

func (s *Store) tryUpdateHash(ctx context.Context, key string, fn db.HashUpdateFunc) (bool, error) {
	done := false
	err := s.client.Dedicated(func(c rueidis.DedicatedClient) error {
		if err := c.Do(ctx, c.B().Watch().Key(key).Build()).Error(); err != nil {
			return &db.Error{Op: db.OpWatch, Err: err}
		}

		current, err := c.Do(ctx, c.B().Hgetall().Key(key).Build()).AsStrMap()
		if err != nil {
			unwatch(ctx, c)
			return &db.Error{Op: db.OpHGetAll, Err: err}
		}
		if current == nil {
			current = map[string]string{}
		}

		next, err := fn(current)
		if err != nil {
			unwatch(ctx, c)
			return err
		}
		if len(next) == 0 {
			unwatch(ctx, c)
			done = true
			return nil
		}

		hset := c.B().Hset().Key(key).FieldValue()
		for k, v := range next {
			hset = hset.FieldValue(k, v)
		}
		resps := c.DoMulti(ctx,
			c.B().Multi().Build(),
			hset.Build(),
			c.B().Exec().Build(),
		)
		for _, r := range resps[:len(resps)-1] {
			if err := r.Error(); err != nil {
				return &db.Error{Op: db.OpExec, Err: err}
			}
		}
		if err := resps[len(resps)-1].Error(); err != nil {
			if rueidis.IsRedisNil(err) {
				// EXEC aborted: someone wrote the key after WATCH.
				return nil
			}
			return &db.Error{Op: db.OpExec, Err: err}
		}
		done = true
		return nil
	})
	return done, err //nolint:wrapcheck // errors from the callback are already wrapped
}

func unwatch(ctx context.Context, c rueidis.DedicatedClient) {
	_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
}

// Package sqlkv maps the db.Store facade onto two SQL tables so the ledger and
// the usage recorder can run on SQLite (embedded) or PostgreSQL.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register database/sql drivers: "pgx" for PostgreSQL, "sqlite" for SQLite.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/aigov/internal/db"
)

var _ db.Store = (*Store)(nil)

const hashDDL = `CREATE TABLE IF NOT EXISTS kv_hash (
	hkey TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (hkey, field)
)`

const listIndexDDL = `CREATE INDEX IF NOT EXISTS kv_list_lkey ON kv_list (lkey, id)`

const upsertField = `INSERT INTO kv_hash (hkey, field, value) VALUES (?, ?, ?)
	ON CONFLICT (hkey, field) DO UPDATE SET value = excluded.value`

const incrField = `INSERT INTO kv_hash (hkey, field, value) VALUES (?, ?, ?)
	ON CONFLICT (hkey, field) DO UPDATE
	SET value = CAST(CAST(kv_hash.value AS BIGINT) + CAST(excluded.value AS BIGINT) AS TEXT)`

// Store implements db.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with the dialect's driver and creates the schema.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if d.name == SQLite.name {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}

	sqlDB, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.maxConns > 0 {
		sqlDB.SetMaxOpenConns(d.maxConns)
	}

	s := &Store{db: sqlDB, dialect: d}
	if err := s.configure(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return s, nil
}

func ensureDir(dsn string) error {
	dir := filepath.Dir(dsn)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (s *Store) configure(ctx context.Context) error {
	stmts := append([]string{}, s.dialect.pragmas...)
	stmts = append(stmts, hashDDL, s.dialect.listDDL, listIndexDDL)
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute %q: %w", q, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	_ = s.db.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := s.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// HSet upserts hash fields.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsertFields(ctx, tx, key, fields)
	})
	if err != nil {
		return &db.Error{Op: db.OpHSet, Err: err}
	}
	return nil
}

// HGetAll returns all fields of a hash. A missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.readHash(ctx, s.db, key)
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: err}
	}
	return m, nil
}

// HIncrByMulti increments integer fields inside one transaction.
func (s *Store) HIncrByMulti(ctx context.Context, key string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	q := s.dialect.rebind(incrField)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for f, d := range deltas {
			if _, err := tx.ExecContext(ctx, q, key, f, fmt.Sprint(d)); err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
		}
		return nil
	})
	if err != nil {
		return &db.Error{Op: db.OpHIncrBy, Err: err}
	}
	return nil
}

// Del removes a key from both tables.
func (s *Store) Del(ctx context.Context, key string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM kv_hash WHERE hkey = ?`), key); err != nil {
			return err //nolint:wrapcheck // wrapped by caller
		}
		_, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM kv_list WHERE lkey = ?`), key)
		return err //nolint:wrapcheck // wrapped by caller
	})
	if err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists reports whether key holds a hash or a list.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	q := s.dialect.rebind(`SELECT 1 FROM kv_hash WHERE hkey = ?
		UNION ALL SELECT 1 FROM kv_list WHERE lkey = ? LIMIT 1`)
	var one int
	err := s.db.QueryRowContext(ctx, q, key, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return true, nil
}

// UpdateHash runs fn under the dialect's write lock. The callback runs exactly once.
func (s *Store) UpdateHash(ctx context.Context, key string, fn db.HashUpdateFunc) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &db.Error{Op: db.OpWatch, Err: err}
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, s.dialect.begin); err != nil {
		return &db.Error{Op: db.OpWatch, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	if s.dialect.lockKey != "" {
		if _, err := conn.ExecContext(ctx, s.dialect.rebind(s.dialect.lockKey), key); err != nil {
			return &db.Error{Op: db.OpWatch, Err: err}
		}
	}

	current, err := s.readHash(ctx, conn, key)
	if err != nil {
		return &db.Error{Op: db.OpHGetAll, Err: err}
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if len(next) > 0 {
		q := s.dialect.rebind(upsertField)
		for f, v := range next {
			if _, err := conn.ExecContext(ctx, q, key, f, v); err != nil {
				return &db.Error{Op: db.OpHSet, Err: err}
			}
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	committed = true
	return nil
}

// RPush appends values in order.
func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	q := s.dialect.rebind(`INSERT INTO kv_list (lkey, value) VALUES (?, ?)`)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, v := range values {
			if _, err := tx.ExecContext(ctx, q, key, v); err != nil {
				return err //nolint:wrapcheck // wrapped by caller
			}
		}
		return nil
	})
	if err != nil {
		return &db.Error{Op: db.OpRPush, Err: err}
	}
	return nil
}

// LRange mirrors Redis LRANGE index semantics.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT COUNT(*) FROM kv_list WHERE lkey = ?`), key,
	).Scan(&n); err != nil {
		return nil, &db.Error{Op: db.OpLRange, Err: err}
	}

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
	if start > stop {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT value FROM kv_list WHERE lkey = ? ORDER BY id LIMIT ? OFFSET ?`),
		key, stop-start+1, start,
	)
	if err != nil {
		return nil, &db.Error{Op: db.OpLRange, Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0, stop-start+1)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &db.Error{Op: db.OpLRange, Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpLRange, Err: err}
	}
	return out, nil
}

// Expire is a no-op: SQL rows are retained until pruned by an operator.
func (s *Store) Expire(_ context.Context, _ string, _ time.Duration, _ bool) error {
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) readHash(ctx context.Context, q querier, key string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, s.dialect.rebind(`SELECT field, value FROM kv_hash WHERE hkey = ?`), key)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		out[f] = v
	}
	return out, rows.Err() //nolint:wrapcheck // wrapped by caller
}

func (s *Store) upsertFields(ctx context.Context, tx *sql.Tx, key string, fields map[string]string) error {
	q := s.dialect.rebind(upsertField)
	for f, v := range fields {
		if _, err := tx.ExecContext(ctx, q, key, f, v); err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

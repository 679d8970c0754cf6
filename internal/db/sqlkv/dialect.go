package sqlkv

import (
	"strconv"
	"strings"
)

// Dialect captures the few statements that differ between SQL engines.
type Dialect struct {
	name       string
	driverName string
	// begin opens a transaction that takes the write lock up front.
	begin string
	// lockKey serializes writers of one key inside the transaction; empty if begin already locks.
	lockKey  string
	listDDL  string
	pragmas  []string
	maxConns int
	numbered bool
}

// SQLite uses an immediate transaction, which takes the database write lock at BEGIN.
var SQLite = Dialect{
	name:       "sqlite",
	driverName: "sqlite",
	begin:      "BEGIN IMMEDIATE",
	listDDL: `CREATE TABLE IF NOT EXISTS kv_list (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lkey TEXT NOT NULL,
		value TEXT NOT NULL
	)`,
	pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	},
	// One connection: pragmas stick and in-process writers queue in database/sql.
	maxConns: 1,
}

// Postgres takes a transaction-scoped advisory lock on the hashed key.
var Postgres = Dialect{
	name:       "postgres",
	driverName: "pgx",
	begin:      "BEGIN",
	lockKey:    "SELECT pg_advisory_xact_lock(hashtextextended(?, 0))",
	listDDL: `CREATE TABLE IF NOT EXISTS kv_list (
		id BIGSERIAL PRIMARY KEY,
		lkey TEXT NOT NULL,
		value TEXT NOT NULL
	)`,
	numbered: true,
}

// Name returns the dialect name.
func (d Dialect) Name() string { return d.name }

// rebind rewrites ? placeholders to $1..$n for engines that need numbered parameters.
func (d Dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

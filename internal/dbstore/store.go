// Package dbstore is the Persistence layer (spec §6): per-entity CRUD
// backed by PostgreSQL, grounded on the teacher's
// internal/app/storage/postgres package (one *sql.DB handle shared by
// every per-entity file, raw ExecContext/QueryRowContext plus sqlx for
// list-heavy reads).
package dbstore

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store implements every domain Store interface (instance.Store,
// job.Store, and friends) against one PostgreSQL connection.
type Store struct {
	db  *sql.DB
	sdb *sqlx.DB
}

// New wraps an already-open, already-pinged *sql.DB (see Open in
// conn.go).
func New(db *sql.DB) *Store {
	return &Store{db: db, sdb: sqlx.NewDb(db, "postgres")}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func toNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

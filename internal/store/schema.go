// Package store provides the SQLite-backed clip store: records, the tag directory,
// clip-tag associations, upload provenance and the filter compiler.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/clipshelf/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS clips (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL DEFAULT '',
	is_image    BOOLEAN NOT NULL DEFAULT 0,
	is_file     BOOLEAN NOT NULL DEFAULT 0,
	phash       INTEGER NOT NULL DEFAULT 0,
	thumbnail   BLOB,
	description TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clips_created_at ON clips(created_at);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS clips_tags (
	clip_id INTEGER NOT NULL REFERENCES clips(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (clip_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_clips_tags_tag ON clips_tags(tag_id);

CREATE TABLE IF NOT EXISTS servers (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT    NOT NULL UNIQUE,
	protocol       TEXT    NOT NULL,
	settings       TEXT    NOT NULL DEFAULT '{}',
	upload_enabled BOOLEAN NOT NULL DEFAULT 1,
	output_format  TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS uploads (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	clip_id    INTEGER NOT NULL REFERENCES clips(id) ON DELETE CASCADE,
	server_id  INTEGER NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	url        TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_clip ON uploads(clip_id);
CREATE INDEX IF NOT EXISTS idx_uploads_server ON uploads(server_id);
`

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
}

// queries holds every statement the store issues. It is embedded by DB for
// autocommit use and by Tx for transactional use.
type queries struct {
	q Querier
}

// DB wraps a sqlx.DB with clip-store operations.
type DB struct {
	queries
	conn *sqlx.DB
}

// Tx is a store handle bound to one open transaction.
type Tx struct {
	queries
}

const connParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// withParams appends the connection parameters the store relies on to dsn,
// which may already carry a query string of its own.
func withParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + connParams
	}
	return dsn + "?" + connParams
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", withParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", classify(err))
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", classify(err))
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", classify(err))
	}
	return &DB{queries: queries{q: conn}, conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return classify(db.conn.PingContext(ctx))
}

// InTx runs fn inside a single transaction. Any error returned by fn, or a
// failed commit, rolls back every statement fn issued.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", classify(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", classify(err))
	}
	return nil
}

// classify maps driver failures onto the apperr taxonomy, keeping the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %w", apperr.ErrConstraint, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", apperr.ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", apperr.ErrStoreUnavailable, err)
	}
	return err
}

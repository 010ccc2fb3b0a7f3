package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the local inbox.db mirror.
type DB struct {
	*sql.DB
}

// dsn enables WAL and foreign keys. Transactions take the write lock up
// front so concurrent batch upserts wait on busy_timeout instead of failing
// on a lock upgrade.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open connects to the mirror at path, creating it if needed.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{db}, nil
}

// Package store provides the persistent record catalog: a SQLite
// key-value table for structured records and a content-addressed blob
// store for image bytes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with engine-specific configuration.
type DB struct {
	*sql.DB
}

// OpenDB opens the catalog database under dataDir. The database is
// opened with WAL mode and a single connection; the engine is the only
// writer.
func OpenDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "catalog.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS records (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS blobs (
		photo_id INTEGER NOT NULL,
		size     INTEGER NOT NULL,
		hash     TEXT NOT NULL CHECK(length(hash) = 64),
		PRIMARY KEY (photo_id, size)
	);
	CREATE INDEX IF NOT EXISTS blobs_hash ON blobs(hash);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// getRecord reads one kv row. Returns sql.ErrNoRows when absent.
func (db *DB) getRecord(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow("SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// putRecord upserts one kv row.
func (db *DB) putRecord(key string, value []byte) error {
	_, err := db.Exec(
		"INSERT INTO records (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// deleteRecord removes one kv row.
func (db *DB) deleteRecord(key string) error {
	_, err := db.Exec("DELETE FROM records WHERE key = ?", key)
	return err
}

// scanPrefix invokes fn for every kv row whose key starts with prefix.
func (db *DB) scanPrefix(prefix string, fn func(key string, value []byte) error) error {
	rows, err := db.Query(
		"SELECT key, value FROM records WHERE key >= ? AND key < ? ORDER BY key",
		prefix, prefix+"\xff")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

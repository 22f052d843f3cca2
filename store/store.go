// Package store persists session history and the cached relay directory
// in a local SQLite database under the user's config directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/relayhop/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	host         TEXT NOT NULL,
	country_code TEXT NOT NULL,
	result       TEXT NOT NULL,
	bitrate      REAL NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	ended_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS directory_cache (
	url        TEXT PRIMARY KEY,
	fetched_at TIMESTAMP NOT NULL,
	body       BLOB NOT NULL
);
`

// SessionRecord is one row of connection history.
type SessionRecord struct {
	ID          string
	Host        string
	CountryCode string
	Result      string
	Bitrate     float64
	StartedAt   time.Time
	EndedAt     time.Time
}

// Store wraps the history database. Safe for use from a single goroutine;
// the supervisor loop is the only writer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "failed to open history database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "failed to initialize history database")
	}
	return &Store{db: db}, nil
}

// OpenDefault opens the history database in the application config
// directory.
func OpenDefault() (*Store, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, common.HistoryFileName))
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession appends one history row.
func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, host, country_code, result, bitrate, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Host, rec.CountryCode, rec.Result, rec.Bitrate,
		rec.StartedAt.UTC(), rec.EndedAt.UTC())
	if err != nil {
		return common.WrapError(err, "failed to record session")
	}
	return nil
}

// Sessions returns up to limit history rows, most recent first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, country_code, result, bitrate, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, common.WrapError(err, "failed to read session history")
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Host, &rec.CountryCode, &rec.Result,
			&rec.Bitrate, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, common.WrapError(err, "failed to read session history")
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "failed to read session history")
	}
	return recs, nil
}

// CacheDirectory stores the raw directory feed for url, replacing any
// earlier copy.
func (s *Store) CacheDirectory(ctx context.Context, url string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_cache (url, fetched_at, body) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET fetched_at = excluded.fetched_at, body = excluded.body`,
		url, time.Now().UTC(), body)
	if err != nil {
		return common.WrapError(err, "failed to cache directory feed")
	}
	return nil
}

// CachedDirectory returns the cached feed for url and its age, if a copy
// no older than maxAge exists.
func (s *Store) CachedDirectory(ctx context.Context, url string, maxAge time.Duration) ([]byte, time.Time, error) {
	var body []byte
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT body, fetched_at FROM directory_cache WHERE url = ?`, url).
		Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, common.ErrDirectoryUnavailable
	}
	if err != nil {
		return nil, time.Time{}, common.WrapError(err, "failed to read directory cache")
	}
	if maxAge > 0 && time.Since(fetchedAt) > maxAge {
		return nil, time.Time{}, common.ErrDirectoryUnavailable
	}
	return body, fetchedAt, nil
}

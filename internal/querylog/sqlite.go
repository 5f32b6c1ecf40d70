// Package querylog keeps the append-only record of answered questions in
// SQLite.
package querylog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docqa/internal/domain"
)

// TimestampLayout is the layout of the timestamp column, local time.
const TimestampLayout = "2006-01-02 15:04:05"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS empty_document (
	source_path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mod_time INTEGER NOT NULL
)`,
}

var (
	_ domain.QueryLog         = (*Store)(nil)
	_ domain.EmptyDocumentLog = (*Store)(nil)
)

// Store is a SQLite-backed query log. The same database remembers documents
// that yielded no text.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens the log database at path, creating its directory and tables
// when missing. Opening an existing log leaves its rows untouched.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening log database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Append stores one question and its answer with the current local time.
func (s *Store) Append(ctx context.Context, question, answer string) error {
	ts := s.now().Format(TimestampLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_log (timestamp, question, answer) VALUES (?, ?, ?)`,
		ts, question, answer)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLogWrite, err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]domain.LogEntry, error) {
	if n <= 0 {
		return []domain.LogEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, question, answer FROM query_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying log: %w", err)
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Question, &e.Answer); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEmpty records that sourcePath, at stamp, produced no text.
func (s *Store) MarkEmpty(ctx context.Context, sourcePath string, stamp domain.FileStamp) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO empty_document (source_path, size, mod_time) VALUES (?, ?, ?)
		ON CONFLICT(source_path) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time`,
		sourcePath, stamp.Size, stamp.ModTime.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: mark %s empty: %w", domain.ErrLogWrite, sourcePath, err)
	}
	return nil
}

// EmptyDocuments returns every source path marked empty with its stamp.
func (s *Store) EmptyDocuments(ctx context.Context) (map[string]domain.FileStamp, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_path, size, mod_time FROM empty_document`)
	if err != nil {
		return nil, fmt.Errorf("querying empty documents: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.FileStamp{}
	for rows.Next() {
		var (
			path  string
			size  int64
			mtime int64
		)
		if err := rows.Scan(&path, &size, &mtime); err != nil {
			return nil, fmt.Errorf("scanning empty document row: %w", err)
		}
		out[path] = domain.FileStamp{Size: size, ModTime: time.Unix(0, mtime)}
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

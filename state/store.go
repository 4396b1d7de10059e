// Package state persists IndexState: per indexed path, the metadata it was indexed
// with and the token set committed for it.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

// Record is the state of one indexed path.
type Record struct {
	Path       string
	Size       int64
	ModTime    time.Time
	Hash       string
	Language   string
	Strategy   string
	Code       []string
	Text       []string
	Diagnostic string
	IndexedAt  time.Time
}

// Batch is applied in one transaction.
type Batch struct {
	Put    []Record
	Delete []string
	Meta   map[string]string
	// Verified paths get VerifiedAt as their indexing time; nothing else changes.
	Verified   []string
	VerifiedAt time.Time
}

// Empty reports whether the batch changes nothing.
func (b *Batch) Empty() bool {
	return len(b.Put) == 0 && len(b.Delete) == 0 && len(b.Meta) == 0 && len(b.Verified) == 0
}

// Store is the SQLite-backed IndexState.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path. Use MemoryPath in tests.
func Open(path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// single writer; an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != MemoryPath {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path          TEXT PRIMARY KEY,
	size          INTEGER NOT NULL,
	mtime_ns      INTEGER NOT NULL,
	hash          TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	strategy      TEXT NOT NULL DEFAULT '',
	code_tokens   TEXT NOT NULL DEFAULT '[]',
	text_tokens   TEXT NOT NULL DEFAULT '[]',
	diagnostic    TEXT NOT NULL DEFAULT '',
	indexed_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply writes a batch atomically.
func (s *Store) Apply(ctx context.Context, batch Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(batch.Delete) > 0 {
		del, err := tx.PrepareContext(ctx, `DELETE FROM files WHERE path = ?`)
		if err != nil {
			return fmt.Errorf("preparing delete: %w", err)
		}
		defer del.Close()
		for _, path := range batch.Delete {
			if _, err := del.ExecContext(ctx, path); err != nil {
				return fmt.Errorf("deleting %s: %w", path, err)
			}
		}
	}

	if len(batch.Put) > 0 {
		put, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO files
			(path, size, mtime_ns, hash, language, strategy, code_tokens, text_tokens, diagnostic, indexed_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer put.Close()
		for _, r := range batch.Put {
			code, err := encodeTokens(r.Code)
			if err != nil {
				return err
			}
			text, err := encodeTokens(r.Text)
			if err != nil {
				return err
			}
			if _, err := put.ExecContext(ctx, r.Path, r.Size, r.ModTime.UnixNano(), r.Hash, r.Language,
				r.Strategy, code, text, r.Diagnostic, r.IndexedAt.UnixNano()); err != nil {
				return fmt.Errorf("recording %s: %w", r.Path, err)
			}
		}
	}

	if len(batch.Verified) > 0 {
		touch, err := tx.PrepareContext(ctx, `UPDATE files SET indexed_at_ns = ? WHERE path = ?`)
		if err != nil {
			return fmt.Errorf("preparing verify: %w", err)
		}
		defer touch.Close()
		for _, path := range batch.Verified {
			if _, err := touch.ExecContext(ctx, batch.VerifiedAt.UnixNano(), path); err != nil {
				return fmt.Errorf("verifying %s: %w", path, err)
			}
		}
	}

	for key, value := range batch.Meta {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

// Snapshot returns every record without its tokens, keyed by path.
func (s *Store) Snapshot(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, mtime_ns, hash, language, strategy, diagnostic, indexed_at_ns FROM files`)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var (
			r                Record
			mtime, indexedAt int64
		)
		if err := rows.Scan(&r.Path, &r.Size, &mtime, &r.Hash, &r.Language, &r.Strategy, &r.Diagnostic, &indexedAt); err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		r.ModTime = time.Unix(0, mtime)
		r.IndexedAt = time.Unix(0, indexedAt)
		records[r.Path] = r
	}
	return records, rows.Err()
}

// Get returns the full record of one path.
func (s *Store) Get(ctx context.Context, path string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, size, mtime_ns, hash, language, strategy, code_tokens,
		text_tokens, diagnostic, indexed_at_ns FROM files WHERE path = ?`, path)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Each calls fn for every full record in path order.
func (s *Store) Each(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path, size, mtime_ns, hash, language, strategy, code_tokens,
		text_tokens, diagnostic, indexed_at_ns FROM files ORDER BY path`)
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of recorded paths.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting state: %w", err)
	}
	return n, nil
}

// Meta returns a metadata value.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, true, nil
}

// Invalidate forgets the recorded metadata of paths so the next pass re-extracts them.
func (s *Store) Invalidate(ctx context.Context, paths []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, path := range paths {
		if _, err := tx.ExecContext(ctx, `UPDATE files SET size = -1, hash = '' WHERE path = ?`, path); err != nil {
			return fmt.Errorf("invalidating %s: %w", path, err)
		}
	}
	return tx.Commit()
}

// Clear removes every record and all metadata.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files; DELETE FROM meta;`); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r                Record
		mtime, indexedAt int64
		code, text       string
	)
	if err := row.Scan(&r.Path, &r.Size, &mtime, &r.Hash, &r.Language, &r.Strategy, &code, &text,
		&r.Diagnostic, &indexedAt); err != nil {
		return Record{}, err
	}
	r.ModTime = time.Unix(0, mtime)
	r.IndexedAt = time.Unix(0, indexedAt)
	if err := json.Unmarshal([]byte(code), &r.Code); err != nil {
		return Record{}, fmt.Errorf("decoding tokens of %s: %w", r.Path, err)
	}
	if err := json.Unmarshal([]byte(text), &r.Text); err != nil {
		return Record{}, fmt.Errorf("decoding tokens of %s: %w", r.Path, err)
	}
	return r, nil
}

func encodeTokens(tokens []string) (string, error) {
	if tokens == nil {
		tokens = []string{}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return "", fmt.Errorf("encoding tokens: %w", err)
	}
	return string(data), nil
}

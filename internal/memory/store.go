// Package memory implements the persistent key-value memory store whose
// export is woven into every system prompt.
package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memory_updated ON memory(updated_at DESC);
`

// Entry is one stored memory.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

// Store is the SQLite-backed memory store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set upserts a key-value pair. An empty category defaults to "general".
func (s *Store) Set(key, value, category, source string) error {
	if category == "" {
		category = "general"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO memory (key, value, category, created_at, updated_at, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			updated_at = excluded.updated_at,
			source = excluded.source`,
		key, value, category, now, now, source)
	if err != nil {
		return fmt.Errorf("set memory %q: %w", key, err)
	}
	return nil
}

// Get returns the entry for a key, or nil if none exists.
func (s *Store) Get(key string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT key, value, category, created_at, updated_at, source FROM memory WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %q: %w", key, err)
	}
	return entry, nil
}

// Delete removes an entry. Returns true if one was deleted.
func (s *Store) Delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memory WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete memory %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Search returns entries whose key or value contains the query, most
// recently updated first.
func (s *Store) Search(query string) ([]Entry, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT key, value, category, created_at, updated_at, source FROM memory
		WHERE key LIKE ? OR value LIKE ?
		ORDER BY updated_at DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListCategory returns all entries in a category, most recently updated
// first.
func (s *Store) ListCategory(category string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT key, value, category, created_at, updated_at, source FROM memory
		WHERE category = ?
		ORDER BY updated_at DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("list category %q: %w", category, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Clear deletes all entries and returns the removed count.
func (s *Store) Clear() (int, error) {
	res, err := s.db.Exec(`DELETE FROM memory`)
	if err != nil {
		return 0, fmt.Errorf("clear memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExportContext serializes the most recently updated entries as
// "[category] key: value" lines within a character budget of maxTokens*4.
// When entries are cut, a truncation sentinel is appended.
func (s *Store) ExportContext(maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	rows, err := s.db.Query(
		`SELECT key, value, category, created_at, updated_at, source FROM memory ORDER BY updated_at DESC`)
	if err != nil {
		return "", fmt.Errorf("export memory: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	maxChars := maxTokens * 4
	var lines []string
	total := 0
	included := 0
	for _, e := range entries {
		line := fmt.Sprintf("[%s] %s: %s", e.Category, e.Key, e.Value)
		if total+len(line)+1 > maxChars {
			break
		}
		lines = append(lines, line)
		total += len(line) + 1
		included++
	}
	if included < len(entries) {
		lines = append(lines, fmt.Sprintf("... (%d more memories truncated)", len(entries)-included))
	}
	return strings.Join(lines, "\n"), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var createdAt, updatedAt string
	if err := row.Scan(&e.Key, &e.Value, &e.Category, &createdAt, &updatedAt, &e.Source); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

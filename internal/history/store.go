// Package history implements the persistent per-(platform, channel)
// conversation log with LLM-driven summarization.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/a9lim/shannon/internal/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	channel TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	token_estimate INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_lookup ON messages (platform, channel, id);
`

const summarizePrompt = "Summarize the following conversation history concisely. " +
	"Preserve key facts, decisions, and context that would be needed to continue the conversation. " +
	"Keep the summary under 500 words."

// Contexts smaller than this are left alone: summarization is a no-op.
const minSummarizeMessages = 4

// Message is one row of the conversation log.
type Message struct {
	ID            int64
	Platform      string
	Channel       string
	Role          string
	Content       string
	Timestamp     time.Time
	TokenEstimate int
}

// Stats describes a channel's context size.
type Stats struct {
	MessageCount int
	TotalChars   int
	TotalTokens  int
}

// Store is the SQLite-backed conversation log. Summarization for a channel
// is guarded by a per-(platform, channel) mutex so concurrent callers cannot
// race; a losing caller proceeds with whichever summary landed.
type Store struct {
	db  *sql.DB
	llm provider.LLMProvider

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewStore opens (or creates) the context database.
func NewStore(dbPath string, llm provider.LLMProvider) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open context db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply context schema: %w", err)
	}
	return &Store{
		db:    db,
		llm:   llm,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one turn, stamping it with the current time and a
// best-effort token estimate.
func (s *Store) Append(platform, channel, role, content string) error {
	tokens := 0
	if s.llm != nil {
		tokens = s.llm.CountTokens(content)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`INSERT INTO messages (platform, channel, role, content, timestamp, token_estimate) VALUES (?, ?, ?, ?, ?, ?)`,
		platform, channel, role, content, now, tokens)
	if err != nil {
		return fmt.Errorf("append context message: %w", err)
	}
	return nil
}

// Context returns the channel's messages in insertion order.
func (s *Store) Context(platform, channel string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, platform, channel, role, content, timestamp, token_estimate
		 FROM messages WHERE platform = ? AND channel = ? ORDER BY id`,
		platform, channel)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Platform, &m.Channel, &m.Role, &m.Content, &ts, &m.TokenEstimate); err != nil {
			return nil, fmt.Errorf("scan context row: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes the channel's messages and returns the count removed.
func (s *Store) Clear(platform, channel string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE platform = ? AND channel = ?`, platform, channel)
	if err != nil {
		return 0, fmt.Errorf("clear context: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns the channel's message count and size totals.
func (s *Store) Stats(platform, channel string) (*Stats, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0), COALESCE(SUM(token_estimate), 0)
		 FROM messages WHERE platform = ? AND channel = ?`,
		platform, channel)
	var st Stats
	if err := row.Scan(&st.MessageCount, &st.TotalChars, &st.TotalTokens); err != nil {
		return nil, fmt.Errorf("context stats: %w", err)
	}
	return &st, nil
}

// Summarize replaces the oldest half of the channel's non-system messages
// with a single system row carrying an LLM-generated summary. The
// replacement happens in one transaction; on any failure the log is
// untouched. Small contexts are a no-op and return an empty summary.
func (s *Store) Summarize(ctx context.Context, platform, channel string) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("summarization requires an LLM provider")
	}

	lock := s.channelLock(platform, channel)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.Context(platform, channel)
	if err != nil {
		return "", err
	}

	var candidates []Message
	for _, m := range messages {
		if m.Role != "system" {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) < minSummarizeMessages {
		return "", nil
	}

	old := candidates[:len(candidates)/2]

	var transcript strings.Builder
	for _, m := range old {
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	resp, err := s.llm.Complete(ctx, &provider.CompletionRequest{
		Messages: []provider.Message{{
			Role:    "user",
			Content: summarizePrompt + "\n\n" + transcript.String(),
		}},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarization LLM call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarization produced empty content")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin summarize tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range old {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, m.ID); err != nil {
			return "", fmt.Errorf("delete summarized row: %w", err)
		}
	}
	// Reuse the first removed id so the summary keeps the block's position
	// in insertion order.
	content := "[Previous conversation summary: " + summary + "]"
	tokens := s.llm.CountTokens(content)
	_, err = tx.Exec(
		`INSERT INTO messages (id, platform, channel, role, content, timestamp, token_estimate) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		old[0].ID, platform, channel, "system", content,
		time.Now().UTC().Format(time.RFC3339Nano), tokens)
	if err != nil {
		return "", fmt.Errorf("insert summary row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit summarize tx: %w", err)
	}

	slog.Info("Context summarized", "platform", platform, "channel", channel, "replaced", len(old))
	return summary, nil
}

func (s *Store) channelLock(platform, channel string) *sync.Mutex {
	key := platform + ":" + channel
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

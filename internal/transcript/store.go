// Package transcript archives chat messages to SQLite for later review.
// The archive is write-mostly: conversations are never restored from it.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"FhirChat/internal/conversation"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL DEFAULT '',
	started_at DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	text TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// Summary describes one archived conversation.
type Summary struct {
	ID           string
	Channel      string
	StartedAt    time.Time
	MessageCount int
}

// Store is a SQLite-backed transcript archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("transcript: database path must not be empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Concurrent sends record from several goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcript tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin registers a conversation and the channel it happens on ("web", "terminal", ...).
func (s *Store) Begin(ctx context.Context, id, channel string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET channel = excluded.channel, started_at = excluded.started_at`,
		id, channel, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Record appends one message. It satisfies conversation.Recorder.
func (s *Store) Record(ctx context.Context, conversationID string, msg conversation.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO conversations (id, started_at) VALUES (?, ?)",
		conversationID, msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender, text, timestamp) VALUES (?, ?, ?, ?)",
		conversationID, string(msg.Sender), msg.Text, msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in the order they were recorded.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sender, text, timestamp FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var msg conversation.Message
		var sender string
		if err := rows.Scan(&sender, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = conversation.Sender(sender)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

// Conversations lists the most recently started conversations, newest first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.channel, c.started_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.channel, c.started_at
		ORDER BY c.started_at DESC, c.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Channel, &s.StartedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

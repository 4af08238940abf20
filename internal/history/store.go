// Package history keeps a best-effort log of conversations in SQLite.
// Nothing in the turn controller depends on it succeeding.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/frontdesk/internal/session"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Conversation is the summary row for one logged conversation.
type Conversation struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
	Reason    string
	Messages  int
}

// Store persists conversation transcripts.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at   TEXT,
			reason     TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			summary         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`)
	return err
}

// Record appends e to the conversation's transcript, creating the
// conversation row on first use.
func (s *Store) Record(ctx context.Context, conversationID string, e session.Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, started_at) VALUES (?, ?)`,
		conversationID, stamp,
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	var summary int
	if e.Summary {
		summary = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, summary, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, conversationID, string(e.Role), e.Content, summary, stamp,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// Finish marks a conversation ended. Finishing a conversation that
// recorded nothing creates an empty row so the ending is still visible.
func (s *Store) Finish(ctx context.Context, conversationID, reason string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, started_at, ended_at, reason) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ended_at = excluded.ended_at, reason = excluded.reason`,
		conversationID, now, now, reason,
	)
	if err != nil {
		return fmt.Errorf("finish conversation: %w", err)
	}
	return nil
}

// Transcript returns the recorded entries of a conversation in order.
func (s *Store) Transcript(ctx context.Context, conversationID string) ([]session.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, summary, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []session.Entry
	for rows.Next() {
		var e session.Entry
		var role, stamp string
		var summary int
		if err := rows.Scan(&role, &e.Content, &summary, &stamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.Role = session.Role(role)
		e.Summary = summary != 0
		e.Timestamp, _ = time.Parse(timeLayout, stamp)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recent lists the most recently started conversations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.started_at, c.ended_at, c.reason,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var started string
		var ended sql.NullString
		if err := rows.Scan(&c.ID, &started, &ended, &c.Reason, &c.Messages); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.StartedAt, _ = time.Parse(timeLayout, started)
		if ended.Valid {
			c.EndedAt, _ = time.Parse(timeLayout, ended.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns one conversation row.
func (s *Store) Get(ctx context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	var started string
	var ended sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.started_at, c.ended_at, c.reason,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, conversationID,
	).Scan(&c.ID, &started, &ended, &c.Reason, &c.Messages)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	if err != nil {
		return Conversation{}, err
	}
	c.StartedAt, _ = time.Parse(timeLayout, started)
	if ended.Valid {
		c.EndedAt, _ = time.Parse(timeLayout, ended.String)
	}
	return c, nil
}

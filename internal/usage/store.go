// Package usage keeps a persistent ledger of language-model token
// usage, one record per conversation turn. Records are append-only and
// indexed by timestamp and conversation for aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/frontdesk/internal/events"
)

// Record is one turn's token usage.
type Record struct {
	ID             string
	Timestamp      time.Time
	ConversationID string
	Model          string
	InputTokens    int
	OutputTokens   int
	Iterations     int
	OK             bool
}

// Summary holds aggregated totals.
type Summary struct {
	Turns             int   `json:"turns"`
	Conversations     int   `json:"conversations"`
	TotalInputTokens  int64 `json:"input_tokens"`
	TotalOutputTokens int64 `json:"output_tokens"`
	FailedTurns       int   `json:"failed_turns"`
}

// Store is an append-only usage ledger. All methods are safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates the usage schema on db if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage_records (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		model           TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		iterations      INTEGER NOT NULL,
		ok              INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id);
	`)
	return err
}

// stamp formats t so that text ordering matches time ordering.
func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Record persists rec. An empty ID gets a UUIDv7 and a zero timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, conversation_id, model, input_tokens, output_tokens, iterations, ok)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		stamp(rec.Timestamp),
		rec.ConversationID,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Iterations,
		rec.OK,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT conversation_id),
		        COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		stamp(start), stamp(end),
	)

	var sum Summary
	if err := row.Scan(&sum.Turns, &sum.Conversations, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.FailedTurns); err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// SummaryByModel returns per-model totals for records within
// [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*), COUNT(DISTINCT conversation_id),
		        COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY model`,
		stamp(start), stamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Summary)
	for rows.Next() {
		var model string
		var sum Summary
		if err := rows.Scan(&model, &sum.Turns, &sum.Conversations, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.FailedTurns); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		out[model] = sum
	}
	return out, rows.Err()
}

// Run records every turn event from bus until ctx is cancelled. Write
// failures are logged and skipped.
func (s *Store) Run(ctx context.Context, bus *events.Bus) error {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			rec, isTurn := FromEvent(e)
			if !isTurn {
				continue
			}
			if err := s.Record(ctx, rec); err != nil && ctx.Err() == nil {
				s.logger.Warn("usage record failed", "conversation", rec.ConversationID, "error", err)
			}
		}
	}
}

// FromEvent converts a turn event into a record. It reports false for
// any other kind of event.
func FromEvent(e events.Event) (Record, bool) {
	if e.Kind != events.KindTurn {
		return Record{}, false
	}
	rec := Record{
		Timestamp:    e.Timestamp,
		InputTokens:  toInt(e.Data["tokens_in"]),
		OutputTokens: toInt(e.Data["tokens_out"]),
		Iterations:   toInt(e.Data["iterations"]),
	}
	rec.ConversationID, _ = e.Data["conversation_id"].(string)
	rec.Model, _ = e.Data["model"].(string)
	rec.OK, _ = e.Data["ok"].(bool)
	return rec, true
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

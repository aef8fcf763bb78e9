package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_events (
	conversation_id TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	event_id        TEXT    NOT NULL,
	type            TEXT    NOT NULL,
	timestamp       INTEGER NOT NULL,
	body            TEXT    NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
CREATE INDEX IF NOT EXISTS history_events_by_id ON history_events (conversation_id, event_id);
`

// SQLiteStore keeps every conversation's history in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`, sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// History returns the history of one conversation.
func (s *SQLiteStore) History(id types.ConversationID) types.HistoryStore {
	return s.Open(id)
}

// Open is History with the concrete type.
func (s *SQLiteStore) Open(id types.ConversationID) *SQLiteHistory {
	return &SQLiteHistory{db: s.db, id: id}
}

// SQLiteHistory is one conversation in a SQLiteStore.
type SQLiteHistory struct {
	db *sql.DB
	id types.ConversationID
}

func (h *SQLiteHistory) GetHistory(ctx context.Context) ([]history.Event, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT body FROM history_events WHERE conversation_id = ? ORDER BY seq`, string(h.id))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []history.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e, err := history.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return events, nil
}

func (h *SQLiteHistory) OutputEvent(ctx context.Context, event history.Event) error {
	body, err := history.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO history_events (conversation_id, seq, event_id, type, timestamp, body)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		 FROM history_events WHERE conversation_id = ?`,
		string(h.id), event.EventID(), string(event.Type()), event.Time(), string(body), string(h.id))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RewriteHistory applies all replacements in one transaction.
func (h *SQLiteHistory) RewriteHistory(ctx context.Context, replacements map[string]history.Event) error {
	if len(replacements) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rewrite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for id, e := range replacements {
		body, err := history.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE history_events SET type = ?, timestamp = ?, body = ?
			 WHERE conversation_id = ? AND event_id = ?`,
			string(e.Type()), e.Time(), string(body), string(h.id), id)
		if err != nil {
			return fmt.Errorf("rewrite event %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rewrite: %w", err)
	}
	return nil
}

// Conversations lists the ids that have stored events.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]types.ConversationID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM history_events ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []types.ConversationID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, types.ConversationID(id))
	}
	return ids, rows.Err()
}

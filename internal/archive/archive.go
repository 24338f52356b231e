// Package archive keeps an optional transcript of completed agent turns in
// an embedded sqlite database. Writes are best-effort: the router logs a
// failure and moves on.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	reply           TEXT NOT NULL,
	cost_usd        REAL NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	error_kind      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);
`

// Turn is one recorded exchange.
type Turn struct {
	ConversationID string
	Prompt         string
	Reply          string
	CostUSD        float64
	Duration       time.Duration
	ErrorKind      string // empty on success; taxonomy name otherwise
}

// Archive wraps the sqlite transcript store.
type Archive struct {
	db *sql.DB
}

// Open creates (or opens) the archive database at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Record inserts one completed turn.
func (a *Archive) Record(ctx context.Context, t Turn) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, prompt, reply, cost_usd, duration_ms, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		t.ConversationID,
		t.Prompt,
		t.Reply,
		t.CostUSD,
		t.Duration.Milliseconds(),
		t.ErrorKind,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// CountTurns returns the number of recorded turns for a conversation.
// Used by the status command and tests.
func (a *Archive) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

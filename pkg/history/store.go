package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/zoya/pkg/turn"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT    NOT NULL,
	exchange_id     TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT    NOT NULL,
	parts_json      TEXT    NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE(exchange_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id);

CREATE TABLE IF NOT EXISTS archived_turns (
	id              INTEGER PRIMARY KEY,
	conversation_id TEXT    NOT NULL,
	exchange_id     TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT    NOT NULL,
	parts_json      TEXT    NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	archived_at     TIMESTAMP NOT NULL
);
`

// Store persists conversation turns in sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendExchange persists the turns created during one exchange, in
// order. The UNIQUE(exchange_id, seq) constraint with DO NOTHING makes
// re-running persistence for the same exchange a no-op, so a crash
// between persist and acknowledge cannot duplicate history. Partial
// exchanges persist whatever turns exist.
func (s *Store) AppendExchange(ctx context.Context, conversationID, exchangeID string, turns []turn.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (conversation_id, exchange_id, seq, role, parts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange_id, seq) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for seq, t := range turns {
		parts, err := json.Marshal(t.Parts)
		if err != nil {
			return fmt.Errorf("failed to encode parts for seq %d: %w", seq, err)
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, conversationID, exchangeID, seq, string(t.Role), string(parts), createdAt); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exchange: %w", err)
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("exchange_id", exchangeID).
		Int("turns", len(turns)).
		Msg("exchange persisted")
	return nil
}

// LoadRecent returns the newest limit turns of a conversation in
// chronological order.
func (s *Store) LoadRecent(ctx context.Context, conversationID string, limit int) ([]turn.Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, parts_json, created_at FROM (
			SELECT id, role, parts_json, created_at
			FROM turns
			WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []turn.Turn
	for rows.Next() {
		var role, partsJSON string
		var createdAt time.Time
		if err := rows.Scan(&role, &partsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var parts []turn.Part
		if err := json.Unmarshal([]byte(partsJSON), &parts); err != nil {
			// Corrupt rows are skipped rather than poisoning the context.
			log.Error().
				Str("conversation_id", conversationID).
				Err(err).
				Msg("skipping undecodable history row")
			continue
		}
		turns = append(turns, turn.Turn{Role: turn.Role(role), Parts: parts, CreatedAt: createdAt})
	}
	return turns, rows.Err()
}

// Count returns the number of stored turns for a conversation.
func (s *Store) Count(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}

// Clear deletes all turns of a conversation and returns how many were
// removed.
func (s *Store) Clear(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

// ArchiveStale moves every turn of conversations idle since before
// cutoff into archived_turns. Active conversations are untouched.
func (s *Store) ArchiveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO archived_turns (id, conversation_id, exchange_id, seq, role, parts_json, created_at, archived_at)
		SELECT id, conversation_id, exchange_id, seq, role, parts_json, created_at, ?
		FROM turns
		WHERE conversation_id IN (
			SELECT conversation_id FROM turns
			GROUP BY conversation_id
			HAVING MAX(created_at) < ?
		)`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to copy stale turns: %w", err)
	}
	moved, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns
		WHERE conversation_id IN (
			SELECT conversation_id FROM turns
			GROUP BY conversation_id
			HAVING MAX(created_at) < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete stale turns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archival: %w", err)
	}

	if moved > 0 {
		log.Info().Int64("turns", moved).Msg("stale conversations archived")
	}
	return moved, nil
}

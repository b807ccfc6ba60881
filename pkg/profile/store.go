package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	participant_id TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	participant_id TEXT NOT NULL,
	category       TEXT NOT NULL,
	value_json     TEXT NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (participant_id, category)
);
`

// ErrNotFound is returned when a note or profile does not exist.
var ErrNotFound = errors.New("not found")

// Profile identifies a participant.
type Profile struct {
	ParticipantID string
	DisplayName   string
}

// Store persists participant profiles and categorized notes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the profile database at path.
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

// EnsureProfile upserts a participant's display name.
func (s *Store) EnsureProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (participant_id, display_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		p.ParticipantID, p.DisplayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile loads a participant's profile.
func (s *Store) GetProfile(ctx context.Context, participantID string) (Profile, error) {
	p := Profile{ParticipantID: participantID}
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM profiles WHERE participant_id = ?`,
		participantID).Scan(&p.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// Remember merges value into the participant's note for category.
// Categories are case-insensitive. Lists union with existing lists
// (deduplicated by canonical JSON), objects update existing objects
// key-wise, and any type mismatch or overwrite flag replaces the value
// outright. The merge is idempotent.
func (s *Store) Remember(ctx context.Context, participantID, category string, value any, overwrite bool) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return fmt.Errorf("note category cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	merged := value
	if !overwrite {
		var existingJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT value_json FROM notes WHERE participant_id = ? AND category = ?`,
			participantID, category).Scan(&existingJSON)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No existing note, keep the new value.
		case err != nil:
			return fmt.Errorf("failed to load existing note: %w", err)
		default:
			var existing any
			if jsonErr := json.Unmarshal([]byte(existingJSON), &existing); jsonErr == nil {
				merged = mergeValues(existing, value)
			}
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode note value: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notes (participant_id, category, value_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_id, category) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		participantID, category, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note: %w", err)
	}

	log.Debug().
		Str("participant_id", participantID).
		Str("category", category).
		Msg("note remembered")
	return nil
}

// Recall returns one note value.
func (s *Store) Recall(ctx context.Context, participantID, category string) (any, error) {
	category = strings.ToLower(strings.TrimSpace(category))

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM notes WHERE participant_id = ? AND category = ?`,
		participantID, category).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load note: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("failed to decode note: %w", err)
	}
	return value, nil
}

// RecallAll returns every note of a participant keyed by category.
func (s *Store) RecallAll(ctx context.Context, participantID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, value_json FROM notes WHERE participant_id = ? ORDER BY category`,
		participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := make(map[string]any)
	for rows.Next() {
		var category, raw string
		if err := rows.Scan(&category, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			log.Error().Str("category", category).Err(err).Msg("skipping undecodable note")
			continue
		}
		notes[category] = value
	}
	return notes, rows.Err()
}

// Forget removes a note and reports whether it existed.
func (s *Store) Forget(ctx context.Context, participantID, category string) (bool, error) {
	category = strings.ToLower(strings.TrimSpace(category))

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE participant_id = ? AND category = ?`,
		participantID, category)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// mergeValues merges a new value into an existing one.
func mergeValues(existing, incoming any) any {
	switch oldVal := existing.(type) {
	case []any:
		newList, ok := asList(incoming)
		if !ok {
			return incoming
		}
		return unionLists(oldVal, newList)
	case map[string]any:
		newMap, ok := incoming.(map[string]any)
		if !ok {
			return incoming
		}
		merged := make(map[string]any, len(oldVal)+len(newMap))
		for k, v := range oldVal {
			merged[k] = v
		}
		for k, v := range newMap {
			merged[k] = v
		}
		return merged
	default:
		return incoming
	}
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// unionLists appends items of b not already in a, comparing by
// canonical JSON.
func unionLists(a, b []any) []any {
	seen := make(map[string]bool, len(a))
	out := make([]any, 0, len(a)+len(b))
	for _, item := range a {
		seen[canonical(item)] = true
		out = append(out, item)
	}
	for _, item := range b {
		key := canonical(item)
		if !seen[key] {
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

func canonical(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
